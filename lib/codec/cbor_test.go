// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec_test

import (
	"bytes"
	"testing"

	"github.com/bureau-foundation/roomstate/lib/codec"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

func TestMarshalDeterministic(t *testing.T) {
	// Maps with identical logical content must encode identically
	// regardless of insertion order.
	first := map[string]any{"alpha": 1, "beta": "two", "gamma": []any{3}}
	second := map[string]any{"gamma": []any{3}, "beta": "two", "alpha": 1}

	firstBytes, err := codec.Marshal(first)
	if err != nil {
		t.Fatalf("Marshal(first): %v", err)
	}
	secondBytes, err := codec.Marshal(second)
	if err != nil {
		t.Fatalf("Marshal(second): %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("deterministic encoding violated:\n  first:  %x\n  second: %x", firstBytes, secondBytes)
	}
}

func TestRefTypesEncodeAsText(t *testing.T) {
	type record struct {
		Event ref.EventID `cbor:"event_id"`
		Room  ref.RoomID  `cbor:"room_id"`
		User  ref.UserID  `cbor:"sender"`
	}
	original := record{
		Event: ref.MustParseEventID("$abc"),
		Room:  ref.MustParseRoomID("!room:example.org"),
		User:  ref.MustParseUserID("@alice:example.org"),
	}

	data, err := codec.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded record
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}

	// The encoded form must carry the identifiers as text strings,
	// not empty maps — verify via diagnostic notation.
	diagnostic, err := codec.Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	for _, want := range []string{"$abc", "!room:example.org", "@alice:example.org"} {
		if !bytes.Contains([]byte(diagnostic), []byte(want)) {
			t.Errorf("diagnostic %q missing identifier %q", diagnostic, want)
		}
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := codec.Marshal(map[string]any{"nested": map[string]any{"key": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded top level is %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Fatalf("nested value is %T, want map[string]any", top["nested"])
	}
}
