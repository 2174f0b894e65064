// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Sign appends an Ed25519 signature over the event's canonical
// hashable form — the same bytes the event ID is derived from, so a
// valid signature also binds the ID. An event may carry signatures
// from several servers (origin plus any server that vouched for it
// during a restricted join).
func Sign(e *Event, server ref.ServerName, keyID string, key ed25519.PrivateKey) error {
	encoded, err := hashableEncoding(e)
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	signature := ed25519.Sign(key, encoded)

	if e.Signatures == nil {
		e.Signatures = make(map[string]map[string]string, 1)
	}
	if e.Signatures[server.String()] == nil {
		e.Signatures[server.String()] = make(map[string]string, 1)
	}
	e.Signatures[server.String()][keyID] = base64.RawStdEncoding.EncodeToString(signature)
	return nil
}

// VerifySignature checks one signature entry against the given public
// key. Returns nil if the signature verifies.
func VerifySignature(e *Event, server ref.ServerName, keyID string, key ed25519.PublicKey) error {
	serverSignatures, ok := e.Signatures[server.String()]
	if !ok {
		return fmt.Errorf("event %s has no signatures from %s", e.ID, server)
	}
	encodedSignature, ok := serverSignatures[keyID]
	if !ok {
		return fmt.Errorf("event %s has no signature from %s key %s", e.ID, server, keyID)
	}
	signature, err := base64.RawStdEncoding.DecodeString(encodedSignature)
	if err != nil {
		return fmt.Errorf("event %s signature from %s/%s is not valid base64: %w", e.ID, server, keyID, err)
	}

	encoded, err := hashableEncoding(e)
	if err != nil {
		return fmt.Errorf("verifying event %s: %w", e.ID, err)
	}
	if !ed25519.Verify(key, encoded, signature) {
		return fmt.Errorf("event %s signature from %s/%s does not verify", e.ID, server, keyID)
	}
	return nil
}
