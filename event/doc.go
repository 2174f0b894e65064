// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the immutable, content-addressed event model
// at the heart of the room-state engine, plus everything needed to
// mint, hash, sign, and validate events.
//
// An [Event] is one action in a room: a message, a membership change,
// a settings change. Events are never mutated after creation. Identity
// is the content hash — the event ID is "$" followed by the base64
// encoding of a keyed BLAKE3 digest over the event's canonical CBOR
// form (excluding the ID itself, signatures, and unsigned metadata).
// Two servers that hold the same logical event necessarily agree on
// its ID.
//
// State events carry a state key and occupy exactly one [StateKey]
// slot in a [StateMap]. A StateMap is a snapshot of room state — a
// mapping from slot to the event currently occupying it — not a
// history. StateMaps are derived by the resolver, cached, and passed
// by value; nothing hand-edits one.
//
// [Builder] mints local events: marshal typed content, link parents
// and auth events, compute the ID, sign with the server's Ed25519
// key. [Validator] is the structural and cryptographic gatekeeper for
// inbound federation events, applying the checks of the room version
// in order and short-circuiting on the first failure.
//
// Room versions are a closed registry ([Params]): each version pins
// the size limit, the power-event classification rule used by the
// resolver, and which join rules the authorization engine accepts.
package event
