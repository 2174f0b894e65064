// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the deterministic CBOR encoding used
// throughout roomstate.
//
// Events are content-addressed: an event's ID is derived from the hash
// of its encoded form, and every federated server must derive the same
// ID from the same logical event. That only works if encoding is
// canonical, so the encoder is configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same logical data always
// produces identical bytes, on every server, in every process.
//
// The same property backs StateMap fingerprints: two resolved state
// maps are compared by hashing their canonical encoding, so the
// spec-level "bit-identical" determinism requirement reduces to a
// fingerprint equality check.
//
// Decoding accepts standard CBOR and ignores unknown fields for
// forward compatibility with newer room versions.
package codec
