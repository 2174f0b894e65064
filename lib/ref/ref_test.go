// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref_test

import (
	"encoding/json"
	"testing"

	"github.com/bureau-foundation/roomstate/lib/ref"
)

func TestParseEventID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: "$abc123xyz"},
		{name: "valid-base64ish", raw: "$X5f0aG-kQ2nC_8w"},
		{name: "empty", raw: "", wantErr: true},
		{name: "no-sigil", raw: "abc123", wantErr: true},
		{name: "bare-sigil", raw: "$", wantErr: true},
		{name: "wrong-sigil", raw: "!abc:server", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ref.ParseEventID(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.String() != tt.raw {
				t.Errorf("String() = %q, want %q", id.String(), tt.raw)
			}
			if id.IsZero() {
				t.Error("IsZero() = true for valid event ID")
			}
		})
	}
}

func TestEventIDLess(t *testing.T) {
	a := ref.MustParseEventID("$aaa")
	b := ref.MustParseEventID("$bbb")
	if !a.Less(b) {
		t.Error("$aaa should sort before $bbb")
	}
	if b.Less(a) {
		t.Error("$bbb should not sort before $aaa")
	}
	if a.Less(a) {
		t.Error("Less must be irreflexive")
	}
}

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: "!abc123:example.org"},
		{name: "valid-with-port", raw: "!room:example.org:8448"},
		{name: "empty", raw: "", wantErr: true},
		{name: "no-sigil", raw: "abc:example.org", wantErr: true},
		{name: "no-server", raw: "!abc123", wantErr: true},
		{name: "empty-localpart", raw: "!:example.org", wantErr: true},
		{name: "empty-server", raw: "!abc:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ref.ParseRoomID(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.String() != tt.raw {
				t.Errorf("String() = %q, want %q", id.String(), tt.raw)
			}
		})
	}
}

func TestRoomIDServer(t *testing.T) {
	id := ref.MustParseRoomID("!abc:example.org")
	if got := id.Server(); got != "example.org" {
		t.Errorf("Server() = %q, want %q", got, "example.org")
	}
}

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		localpart string
		server    string
		wantErr   bool
	}{
		{name: "valid", raw: "@alice:example.org", localpart: "alice", server: "example.org"},
		{name: "with-port", raw: "@bob:example.org:8448", localpart: "bob", server: "example.org:8448"},
		{name: "empty", raw: "", wantErr: true},
		{name: "no-sigil", raw: "alice:example.org", wantErr: true},
		{name: "no-server", raw: "@alice", wantErr: true},
		{name: "empty-localpart", raw: "@:example.org", wantErr: true},
		{name: "empty-server", raw: "@alice:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ref.ParseUserID(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.Localpart() != tt.localpart {
				t.Errorf("Localpart() = %q, want %q", id.Localpart(), tt.localpart)
			}
			if id.Server() != tt.server {
				t.Errorf("Server() = %q, want %q", id.Server(), tt.server)
			}
		})
	}
}

func TestParseServerName(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: "example.org"},
		{name: "with-port", raw: "example.org:8448"},
		{name: "empty", raw: "", wantErr: true},
		{name: "space", raw: "bad server", wantErr: true},
		{name: "at-sigil", raw: "user@server", wantErr: true},
		{name: "event-sigil", raw: "$server", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ref.ParseServerName(tt.raw)
			if tt.wantErr != (err != nil) {
				t.Fatalf("ParseServerName(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Event  ref.EventID    `json:"event_id"`
		Room   ref.RoomID     `json:"room_id"`
		User   ref.UserID     `json:"sender"`
		Server ref.ServerName `json:"origin"`
	}
	original := wrapper{
		Event:  ref.MustParseEventID("$abc123"),
		Room:   ref.MustParseRoomID("!room:example.org"),
		User:   ref.MustParseUserID("@alice:example.org"),
		Server: ref.MustParseServerName("example.org"),
	}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded wrapper
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	var e ref.EventID
	if err := e.UnmarshalText([]byte("not-an-event-id")); err == nil {
		t.Error("EventID.UnmarshalText accepted invalid input")
	}
	var u ref.UserID
	if err := u.UnmarshalText([]byte("alice")); err == nil {
		t.Error("UserID.UnmarshalText accepted invalid input")
	}
}
