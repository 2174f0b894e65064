// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"github.com/bureau-foundation/roomstate/lib/codec"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Event is an immutable, content-addressed, signed record representing
// one action in a room.
//
// Events reference their DAG parents (PrevEvents) and the state events
// they claim as their authorization basis (AuthEvents) by ID, never by
// pointer — all graph walks resolve IDs through the event store. An
// Event value is treated as read-only everywhere past construction;
// components share them freely across goroutines.
type Event struct {
	// ID is the content-derived event identifier. For locally minted
	// events it is computed by Builder.Build; for federation events it
	// is the claimed ID, verified against the content hash by the
	// Validator before the event enters the DAG.
	ID ref.EventID `cbor:"event_id" json:"event_id"`

	// RoomID is the room this event belongs to.
	RoomID ref.RoomID `cbor:"room_id" json:"room_id"`

	// Type is the event type (e.g., "m.room.member").
	Type ref.EventType `cbor:"type" json:"type"`

	// StateKey is present only for state events. For membership events
	// it is the target user's ID; for most room-settings events it is
	// the empty string. A nil StateKey marks a timeline event that
	// never occupies a state slot.
	StateKey *string `cbor:"state_key,omitempty" json:"state_key,omitempty"`

	// Sender is the user who created the event.
	Sender ref.UserID `cbor:"sender" json:"sender"`

	// Origin is the server that minted and first signed the event.
	Origin ref.ServerName `cbor:"origin" json:"origin"`

	// OriginTS is the origin server's wall-clock timestamp in
	// milliseconds since the Unix epoch. Used only as a resolution
	// tie-break, never as an ordering source of truth.
	OriginTS int64 `cbor:"origin_server_ts" json:"origin_server_ts"`

	// PrevEvents are the DAG parents: the room's forward extremities
	// at the time the event was created. Empty only for the room
	// creation event.
	PrevEvents []ref.EventID `cbor:"prev_events" json:"prev_events"`

	// AuthEvents are the state events this event claims as its
	// authorization basis (the create event, the sender's membership,
	// the power levels, and for membership changes the target's
	// membership). Empty only for the room creation event.
	AuthEvents []ref.EventID `cbor:"auth_events" json:"auth_events"`

	// Content is the opaque event payload in canonical CBOR. Only the
	// authorization engine and state consumers decode the well-known
	// content types; everything else carries it through untouched.
	Content codec.RawMessage `cbor:"content" json:"content"`

	// Signatures maps server name to key ID to unpadded base64
	// Ed25519 signature over the event's canonical hashable form.
	Signatures map[string]map[string]string `cbor:"signatures,omitempty" json:"signatures,omitempty"`
}

// IsState reports whether the event is a state event (has a state
// key) and therefore occupies a StateMap slot.
func (e *Event) IsState() bool { return e.StateKey != nil }

// IsCreate reports whether the event is the room creation event.
func (e *Event) IsCreate() bool {
	return e.Type == ref.TypeCreate && e.StateKey != nil && *e.StateKey == ""
}

// Slot returns the StateKey slot this event occupies. Panics if the
// event is not a state event — callers check IsState first.
func (e *Event) Slot() StateKey {
	if e.StateKey == nil {
		panic("event.Slot called on non-state event " + e.ID.String())
	}
	return StateKey{Type: e.Type, Key: *e.StateKey}
}

// DecodeContent unmarshals the event's content into v. Returns an
// error if the content is not valid CBOR for the target type.
func (e *Event) DecodeContent(v any) error {
	return codec.Unmarshal(e.Content, v)
}

// Encode returns the full canonical CBOR encoding of the event,
// including ID and signatures. This is the wire and storage form.
func (e *Event) Encode() ([]byte, error) {
	return codec.Marshal(e)
}

// Decode parses the full CBOR encoding of an event. No validation is
// performed beyond structural decoding — use Validator for inbound
// federation traffic.
func Decode(data []byte) (*Event, error) {
	var ev Event
	if err := codec.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
