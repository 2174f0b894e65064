// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/roomstate/lib/codec"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// hashes in different contexts, preventing cross-domain collisions.
// The byte values are the ASCII encoding of the domain name,
// zero-padded to 32 bytes — readable in hex dumps without sacrificing
// any cryptographic property.
type domainKey [32]byte

// Domain separation keys. Fixed constants — changing them invalidates
// every existing event ID and cache fingerprint.
var (
	eventDomainKey = domainKey{
		'r', 'o', 'o', 'm', 's', 't', 'a', 't', 'e', '.',
		'e', 'v', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	stateMapDomainKey = domainKey{
		'r', 'o', 'o', 'm', 's', 't', 'a', 't', 'e', '.',
		's', 't', 'a', 't', 'e', 'm', 'a', 'p', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on wrong key length; domainKey is
		// always 32 bytes.
		panic("event: blake3 keyed hasher: " + err.Error())
	}
	_, _ = hasher.Write(data)
	var digest Hash
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func hashStateMap(encoded []byte) Hash {
	return keyedHash(stateMapDomainKey, encoded)
}

// hashableEvent is the subset of event fields covered by the content
// hash and the signatures: everything except the ID itself (which is
// derived from this hash), the signature set, and server-added
// metadata. Field order is irrelevant — canonical CBOR sorts keys.
type hashableEvent struct {
	RoomID     ref.RoomID       `cbor:"room_id"`
	Type       ref.EventType    `cbor:"type"`
	StateKey   *string          `cbor:"state_key,omitempty"`
	Sender     ref.UserID       `cbor:"sender"`
	Origin     ref.ServerName   `cbor:"origin"`
	OriginTS   int64            `cbor:"origin_server_ts"`
	PrevEvents []ref.EventID    `cbor:"prev_events"`
	AuthEvents []ref.EventID    `cbor:"auth_events"`
	Content    codec.RawMessage `cbor:"content"`
}

// hashableEncoding returns the canonical CBOR bytes that the event ID
// and all signatures are computed over.
func hashableEncoding(e *Event) ([]byte, error) {
	hashable := hashableEvent{
		RoomID:     e.RoomID,
		Type:       e.Type,
		StateKey:   e.StateKey,
		Sender:     e.Sender,
		Origin:     e.Origin,
		OriginTS:   e.OriginTS,
		PrevEvents: e.PrevEvents,
		AuthEvents: e.AuthEvents,
		Content:    e.Content,
	}
	encoded, err := codec.Marshal(hashable)
	if err != nil {
		return nil, fmt.Errorf("encoding hashable event form: %w", err)
	}
	return encoded, nil
}

// ComputeID derives the content-addressed event ID: "$" followed by
// the unpadded URL-safe base64 encoding of the keyed BLAKE3 digest of
// the canonical hashable form.
func ComputeID(e *Event) (ref.EventID, error) {
	encoded, err := hashableEncoding(e)
	if err != nil {
		return ref.EventID{}, err
	}
	digest := keyedHash(eventDomainKey, encoded)
	return ref.MustParseEventID("$" + base64.RawURLEncoding.EncodeToString(digest[:])), nil
}

// VerifyID recomputes the content hash and reports whether it matches
// the event's claimed ID.
func VerifyID(e *Event) (bool, error) {
	computed, err := ComputeID(e)
	if err != nil {
		return false, err
	}
	return computed == e.ID, nil
}
