// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/ed25519"
	"fmt"

	"github.com/bureau-foundation/roomstate/lib/codec"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Builder assembles a locally minted event: typed content is encoded
// to canonical CBOR, the content hash becomes the event ID, and the
// origin server signs the result. The zero value is not usable — every
// field except StateKey is required for non-create events.
type Builder struct {
	RoomID     ref.RoomID
	Type       ref.EventType
	StateKey   *string // nil for timeline events
	Sender     ref.UserID
	Origin     ref.ServerName
	OriginTS   int64 // milliseconds since the Unix epoch
	PrevEvents []ref.EventID
	AuthEvents []ref.EventID

	// Content is the typed payload (e.g., MemberContent). Encoded via
	// the canonical CBOR mode, so identical logical content always
	// yields the same event ID.
	Content any
}

// StateKeyString is a convenience for the common case of building a
// state event with a literal state key.
func StateKeyString(key string) *string { return &key }

// Build produces the unsigned event draft: content encoded, ID
// computed, no signatures. Sign it before handing it to ingest or
// federation.
func (b Builder) Build() (*Event, error) {
	if b.RoomID.IsZero() {
		return nil, fmt.Errorf("event builder: room ID is required")
	}
	if b.Type == "" {
		return nil, fmt.Errorf("event builder: event type is required")
	}
	if b.Sender.IsZero() {
		return nil, fmt.Errorf("event builder: sender is required")
	}
	if b.Origin.IsZero() {
		return nil, fmt.Errorf("event builder: origin server is required")
	}

	content, err := codec.Marshal(b.Content)
	if err != nil {
		return nil, fmt.Errorf("event builder: encoding %s content: %w", b.Type, err)
	}

	ev := &Event{
		RoomID:     b.RoomID,
		Type:       b.Type,
		StateKey:   b.StateKey,
		Sender:     b.Sender,
		Origin:     b.Origin,
		OriginTS:   b.OriginTS,
		PrevEvents: b.PrevEvents,
		AuthEvents: b.AuthEvents,
		Content:    content,
	}
	ev.ID, err = ComputeID(ev)
	if err != nil {
		return nil, fmt.Errorf("event builder: %w", err)
	}
	return ev, nil
}

// BuildSigned is Build followed by Sign with the origin server's key.
func (b Builder) BuildSigned(keyID string, key ed25519.PrivateKey) (*Event, error) {
	ev, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := Sign(ev, b.Origin, keyID, key); err != nil {
		return nil, err
	}
	return ev, nil
}
