// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"sort"

	"github.com/bureau-foundation/roomstate/lib/codec"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// StateKey addresses one slot of room state: the pair of event type
// and sub-key. Membership slots use the target user ID as the sub-key;
// singleton slots (power levels, name, topic) use the empty string.
type StateKey struct {
	Type ref.EventType
	Key  string
}

// MemberKey returns the membership slot for the given user.
func MemberKey(user ref.UserID) StateKey {
	return StateKey{Type: ref.TypeMember, Key: user.String()}
}

// StateMap is a snapshot of room state: a mapping from slot to the ID
// of the event currently occupying it. At most one event per slot. A
// StateMap is a snapshot, not a history — the resolver derives them,
// the cache holds them, and consumers read them; nothing edits one in
// place (Clone before modifying).
type StateMap map[StateKey]ref.EventID

// Clone returns an independent copy of the map.
func (m StateMap) Clone() StateMap {
	duplicate := make(StateMap, len(m))
	for slot, id := range m {
		duplicate[slot] = id
	}
	return duplicate
}

// Get looks up the event occupying the (eventType, key) slot.
func (m StateMap) Get(eventType ref.EventType, key string) (ref.EventID, bool) {
	id, ok := m[StateKey{Type: eventType, Key: key}]
	return id, ok
}

// Equal reports whether two StateMaps contain exactly the same slots
// with the same occupying events.
func (m StateMap) Equal(other StateMap) bool {
	if len(m) != len(other) {
		return false
	}
	for slot, id := range m {
		if other[slot] != id {
			return false
		}
	}
	return true
}

// stateEntry is the canonical serialization element for fingerprints:
// one (type, key, event) triple.
type stateEntry struct {
	Type  ref.EventType `cbor:"type"`
	Key   string        `cbor:"key"`
	Event ref.EventID   `cbor:"event"`
}

// Fingerprint returns the keyed BLAKE3 digest of the map's canonical
// form: entries sorted by (type, key), encoded as deterministic CBOR.
// Two StateMaps hold identical slot assignments exactly when their
// fingerprints are equal. Also used as the cache key component for
// resolved state.
func (m StateMap) Fingerprint() Hash {
	entries := make([]stateEntry, 0, len(m))
	for slot, id := range m {
		entries = append(entries, stateEntry{Type: slot.Type, Key: slot.Key, Event: id})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Key < entries[j].Key
	})

	encoded, err := codec.Marshal(entries)
	if err != nil {
		// Entries are plain string-valued structs; encoding cannot
		// fail on well-formed refs.
		panic("event: StateMap fingerprint encoding failed: " + err.Error())
	}
	return hashStateMap(encoded)
}
