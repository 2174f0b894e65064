// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// roomstate-resolve replays a scripted event log through the full
// ingest pipeline and prints the room's resolved state.
//
// The script is a JSONC file describing events symbolically: each
// entry names its parents by label instead of by hash, and the tool
// mints, signs, and ingests real events in script order. Out-of-order
// scripts exercise the pending-dependency queue; forks exercise state
// resolution on read.
//
// Usage:
//
//	roomstate-resolve [--config roomstate.yaml] [--diagnose] script.jsonc
//
// With --diagnose every ingested event is printed with its outcome
// and its canonical encoding in CBOR diagnostic notation.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/roomstate/engine"
	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/codec"
	"github.com/bureau-foundation/roomstate/lib/config"
	"github.com/bureau-foundation/roomstate/lib/ref"
	"github.com/bureau-foundation/roomstate/lib/version"
	"github.com/bureau-foundation/roomstate/resolve"
	"github.com/bureau-foundation/roomstate/store"
)

const keyID = "ed25519:replay"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// script is the symbolic event log.
type script struct {
	RoomVersion event.RoomVersion `json:"room_version"`
	Server      string            `json:"server"`
	Events      []scriptEvent     `json:"events"`
}

type scriptEvent struct {
	// Label names the event for prev/auth references from later
	// entries. Required.
	Label string `json:"label"`

	Type     string          `json:"type"`
	StateKey *string         `json:"state_key,omitempty"`
	Sender   string          `json:"sender"`
	Content  json.RawMessage `json:"content"`

	// Prev and Auth reference earlier labels. Prev defaults to the
	// previous entry; Auth defaults to the create event.
	Prev []string `json:"prev,omitempty"`
	Auth []string `json:"auth,omitempty"`
}

func run() error {
	var configPath string
	var diagnose bool

	flagSet := pflag.NewFlagSet("roomstate-resolve", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to roomstate.yaml (default: in-memory store)")
	flagSet.BoolVar(&diagnose, "diagnose", false, "print each event's outcome and CBOR diagnostic")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("roomstate-resolve")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			flagSet.PrintDefaults()
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: roomstate-resolve [flags] script.jsonc")
	}

	scriptData, err := os.ReadFile(flagSet.Arg(0))
	if err != nil {
		return err
	}
	var replay script
	if err := json.Unmarshal(jsonc.ToJSON(scriptData), &replay); err != nil {
		return fmt.Errorf("parsing %s: %w", flagSet.Arg(0), err)
	}
	if replay.RoomVersion == "" {
		replay.RoomVersion = event.RoomV2
	}
	if replay.Server == "" {
		replay.Server = "replay.local"
	}

	eventStore, logger, err := openBackend(configPath)
	if err != nil {
		return err
	}
	defer eventStore.Close()

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Config{
		Store:  eventStore,
		Keys:   singleKey{server: replay.Server, public: public},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	roomID, err := ref.ParseRoomID("!replay:" + replay.Server)
	if err != nil {
		return err
	}
	if err := ingestScript(eng, replay, roomID, private, diagnose); err != nil {
		return err
	}

	state, err := eng.CurrentState(context.Background(), roomID)
	if err != nil {
		return err
	}
	printState(state)
	printSummary(eventStore, state, logger)
	return nil
}

// openBackend builds the store and logger, from the config file when
// given and from replay-friendly defaults otherwise.
func openBackend(configPath string) (store.Store, *slog.Logger, error) {
	if configPath == "" {
		return store.NewMemory(), slog.New(slog.NewTextHandler(os.Stderr, nil)), nil
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	if cfg.Store.Backend == "memory" {
		return store.NewMemory(), logger, nil
	}
	sqliteStore, err := store.OpenSQLite(cfg.Store.Path, cfg.Store.PoolSize, logger)
	if err != nil {
		return nil, nil, err
	}
	return sqliteStore, logger, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ingestScript mints and ingests the scripted events in order.
func ingestScript(eng *engine.Engine, replay script, roomID ref.RoomID, private ed25519.PrivateKey, diagnose bool) error {
	byLabel := make(map[string]ref.EventID)
	var previousLabel string
	timestamp := int64(1)

	for i, entry := range replay.Events {
		if entry.Label == "" {
			return fmt.Errorf("event %d: label is required", i)
		}
		sender, err := ref.ParseUserID(entry.Sender)
		if err != nil {
			return fmt.Errorf("event %q: %w", entry.Label, err)
		}

		content, err := decodeContent(entry.Content)
		if err != nil {
			return fmt.Errorf("event %q: %w", entry.Label, err)
		}
		builder := event.Builder{
			RoomID:   roomID,
			Type:     ref.EventType(entry.Type),
			StateKey: entry.StateKey,
			Sender:   sender,
			Origin:   ref.MustParseServerName(sender.Server()),
			OriginTS: timestamp,
			Content:  content,
		}
		timestamp++

		prev := entry.Prev
		if prev == nil && previousLabel != "" {
			prev = []string{previousLabel}
		}
		for _, label := range prev {
			id, ok := byLabel[label]
			if !ok {
				return fmt.Errorf("event %q: unknown prev label %q", entry.Label, label)
			}
			builder.PrevEvents = append(builder.PrevEvents, id)
		}
		authLabels := entry.Auth
		if authLabels == nil && len(replay.Events) > 0 && i > 0 {
			authLabels = []string{replay.Events[0].Label}
		}
		for _, label := range authLabels {
			id, ok := byLabel[label]
			if !ok {
				return fmt.Errorf("event %q: unknown auth label %q", entry.Label, label)
			}
			builder.AuthEvents = append(builder.AuthEvents, id)
		}

		ev, err := builder.BuildSigned(keyID, private)
		if err != nil {
			return fmt.Errorf("event %q: %w", entry.Label, err)
		}
		byLabel[entry.Label] = ev.ID
		previousLabel = entry.Label

		raw, err := ev.Encode()
		if err != nil {
			return fmt.Errorf("event %q: %w", entry.Label, err)
		}
		result, err := eng.Ingest(context.Background(), raw)
		if err != nil {
			return fmt.Errorf("event %q: %w", entry.Label, err)
		}
		if diagnose {
			fmt.Printf("%-20s %-24s %s\n", entry.Label, result.Outcome, ev.ID)
			if result.Reason != "" {
				fmt.Printf("%-20s   %s\n", "", result.Reason)
			}
			if notation, err := codec.Diagnose(raw); err == nil {
				fmt.Printf("%-20s   %s\n", "", notation)
			}
		}
	}
	return nil
}

func printState(state event.StateMap) {
	type row struct {
		slot event.StateKey
		id   ref.EventID
	}
	rows := make([]row, 0, len(state))
	for slot, id := range state {
		rows = append(rows, row{slot: slot, id: id})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].slot.Type != rows[j].slot.Type {
			return rows[i].slot.Type < rows[j].slot.Type
		}
		return rows[i].slot.Key < rows[j].slot.Key
	})

	fmt.Printf("resolved state (%d slots, fingerprint %x):\n", len(state), state.Fingerprint())
	for _, r := range rows {
		key := r.slot.Key
		if key == "" {
			key = `""`
		}
		fmt.Printf("  %-28s %-28s %s\n", r.slot.Type, key, r.id)
	}
}

// printSummary prints the room's snapshot view of the resolved state.
func printSummary(eventStore store.Store, state event.StateMap, logger *slog.Logger) {
	resolver := &resolve.Resolver{
		Fetch: func(id ref.EventID) (*event.Event, error) {
			rec, err := eventStore.Get(context.Background(), id)
			if err != nil {
				return nil, err
			}
			return rec.Event, nil
		},
		Logger: logger,
	}
	snap, err := resolver.Snapshot(state)
	if err != nil {
		logger.Warn("snapshot unavailable", "error", err)
		return
	}
	fmt.Printf("room summary:\n")
	fmt.Printf("  version:   %s\n", snap.Version)
	fmt.Printf("  creator:   %s\n", snap.Creator)
	if snap.Name != "" {
		fmt.Printf("  name:      %s\n", snap.Name)
	}
	if snap.Topic != "" {
		fmt.Printf("  topic:     %s\n", snap.Topic)
	}
	fmt.Printf("  join rule: %s\n", snap.JoinRule)
	fmt.Printf("  joined:    %d\n", snap.JoinedCount())
}

// decodeContent converts a JSON content object into a value the
// canonical CBOR encoder treats correctly: integral JSON numbers
// become int64 so power levels and timestamps stay integers.
func decodeContent(raw json.RawMessage) (any, error) {
	var value any
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("parsing content: %w", err)
	}
	return normalizeNumbers(value), nil
}

func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, inner := range v {
			v[key] = normalizeNumbers(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = normalizeNumbers(inner)
		}
		return v
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	}
	return value
}

// singleKey serves the replay signing key for any key request from
// the script's server.
type singleKey struct {
	server string
	public ed25519.PublicKey
}

func (k singleKey) PublicKey(server ref.ServerName, id string) (ed25519.PublicKey, error) {
	if server.String() == k.server && id == keyID {
		return k.public, nil
	}
	return nil, fmt.Errorf("%s/%s: %w", server, id, event.ErrKeyNotFound)
}
