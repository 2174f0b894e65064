// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// roomstate-keygen mints an Ed25519 federation signing keypair.
//
// Usage:
//
//	roomstate-keygen [--key-id ed25519:0] [--out keyfile]
//
// The public key and key ID print to stdout for distribution to
// peers; the seed is written to the --out file (mode 0600) or, when
// no file is given, printed to stdout.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomstate/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var outPath string
	var keyID string

	flagSet := pflag.NewFlagSet("roomstate-keygen", pflag.ContinueOnError)
	flagSet.StringVar(&outPath, "out", "", "write the private seed to this file instead of stdout")
	flagSet.StringVar(&keyID, "key-id", "ed25519:0", "key identifier published alongside signatures")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("roomstate-keygen")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			flagSet.PrintDefaults()
			return nil
		}
		return err
	}
	if !strings.HasPrefix(keyID, "ed25519:") {
		return fmt.Errorf("key ID must use the ed25519: prefix, got %q", keyID)
	}

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	seed := base64.RawStdEncoding.EncodeToString(private.Seed())

	fmt.Printf("key_id:     %s\n", keyID)
	fmt.Printf("public_key: %s\n", base64.RawStdEncoding.EncodeToString(public))
	if outPath == "" {
		fmt.Printf("seed:       %s\n", seed)
		return nil
	}
	if err := os.WriteFile(outPath, []byte(seed+"\n"), 0o600); err != nil {
		return err
	}
	fmt.Printf("seed written to %s\n", outPath)
	return nil
}
