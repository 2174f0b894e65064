// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// ErrNotFound is returned by Get when the event is not in the store.
var ErrNotFound = errors.New("store: event not found")

// ErrStop ends a ByRoom scan early. When the callback returns it, the
// scan stops and ByRoom returns nil.
var ErrStop = errors.New("store: stop iteration")

// Record is a stored event plus the placement metadata the DAG manager
// derives at ingest time. Depth is not part of the event's signed
// content; it is computed locally from the event's parents.
//
// The Event pointer is shared between readers: events are read-only
// once decoded (see event.Event), so Record copies never deep-copy it.
type Record struct {
	Event *event.Event

	// Depth is 1 + max(parent depths), or 1 for the create event.
	Depth int64

	// Rejected marks an event that failed authorization against its
	// prior state. Rejected events stay in the store and the DAG but
	// never contribute to resolved state.
	Rejected     bool
	RejectReason string
}

// Store is the persistence interface for room events.
//
// Implementations must be safe for concurrent use. Put with an event
// ID that is already stored is a no-op: content-addressed IDs make the
// second copy bit-identical, so there is nothing to reconcile.
type Store interface {
	// Put stores a record. Duplicate event IDs are silently ignored.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for an event ID, or ErrNotFound.
	Get(ctx context.Context, id ref.EventID) (*Record, error)

	// Exists reports whether an event ID is stored.
	Exists(ctx context.Context, id ref.EventID) (bool, error)

	// ByRoom calls fn for every stored record in the room, ordered by
	// ascending depth then ascending event ID, so the create event
	// always comes first. A callback returning ErrStop ends the scan
	// cleanly; any other error aborts it and is returned. The DAG
	// manager rebuilds forward extremities from this scan after a
	// restart.
	ByRoom(ctx context.Context, roomID ref.RoomID, fn func(*Record) error) error

	// MarkRejected sets the rejection mark on a stored event. Returns
	// ErrNotFound if the event is not stored. Marking an already
	// rejected event overwrites the reason.
	MarkRejected(ctx context.Context, id ref.EventID, reason string) error

	// Close releases the store's resources.
	Close() error
}
