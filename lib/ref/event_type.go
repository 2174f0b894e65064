// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a state or timeline event type. The engine
// interprets the standard room types (m.room.*); anything else is
// carried opaquely through the DAG and state maps.
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing or validation. The type
// exists for compile-time safety, preventing accidental use of a state
// key where an event type is expected (or vice versa).
type EventType string

// Standard room event types interpreted by the authorization engine
// and resolver.
const (
	TypeCreate            EventType = "m.room.create"
	TypeMember            EventType = "m.room.member"
	TypePowerLevels       EventType = "m.room.power_levels"
	TypeJoinRules         EventType = "m.room.join_rules"
	TypeName              EventType = "m.room.name"
	TypeTopic             EventType = "m.room.topic"
	TypeHistoryVisibility EventType = "m.room.history_visibility"
	TypeMessage           EventType = "m.room.message"
)

// String returns the event type string (e.g., "m.room.member").
func (t EventType) String() string { return string(t) }
