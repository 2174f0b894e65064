// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references
// for the room-state engine: event IDs, room IDs, user IDs, server
// names, and event types.
//
// All constructors validate their inputs and return errors for invalid
// identifiers. Once constructed, a ref is immutable — accessor methods
// return pre-validated strings with no allocation. Identifiers arriving
// from federation or fixtures are parsed into these types at the
// boundary and passed around as values from then on.
//
// The canonical serialization form is the full Matrix-style identifier:
//
//   - EventID: $base64hash (content-addressed, no server suffix)
//   - RoomID:  !opaque:server
//   - UserID:  @localpart:server
//
// JSON and CBOR marshaling use the canonical form via
// encoding.TextMarshaler, so refs embed directly in event structs.
//
// This package depends on no other roomstate packages.
package ref
