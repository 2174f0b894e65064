// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "fmt"

// RoomVersion is the policy tag attached to a room at creation. It
// selects which authorization rule variant and which resolution
// behaviors apply, and is immutable for the room's lifetime. Callers
// must never mix room versions within one resolution.
type RoomVersion string

// Supported room versions.
const (
	// RoomV1 is the baseline rule set: invite/public join rules, and
	// membership changes count as power events only when the target
	// holds a level above the room's users_default.
	RoomV1 RoomVersion = "1"

	// RoomV2 adds knock and restricted join rules, and additionally
	// classifies kicks and bans (sender differs from target, new
	// membership leave or ban) as power events regardless of the
	// target's level.
	RoomV2 RoomVersion = "2"
)

// VersionParams is the pure data table backing one room version: a
// closed set of tagged variants rather than polymorphism, so each
// variant can be tested exhaustively.
type VersionParams struct {
	// MaxEventSize is the limit on an event's full encoded size in
	// bytes. Oversized events fail validation permanently.
	MaxEventSize int

	// PowerEventKicksBans classifies kicks and bans as power events
	// during resolution even when the target holds no elevated level.
	PowerEventKicksBans bool

	// PowerEventThreshold is the power level a membership target must
	// strictly exceed for the membership change to count as a power
	// event during resolution. Both supported versions pin this at 0:
	// any level above the default marks the target as powerful.
	PowerEventThreshold int64

	// KnockAllowed permits the knock join rule and knock membership.
	KnockAllowed bool

	// RestrictedAllowed permits the restricted join rule.
	RestrictedAllowed bool
}

// versionRegistry is the closed set of supported room versions.
var versionRegistry = map[RoomVersion]VersionParams{
	RoomV1: {
		MaxEventSize: 65536,
	},
	RoomV2: {
		MaxEventSize:        65536,
		PowerEventKicksBans: true,
		KnockAllowed:        true,
		RestrictedAllowed:   true,
	},
}

// Params returns the rule table for the given room version, or an
// error for versions this build does not support. Rooms created with
// unsupported versions are rejected at the boundary — there is no
// "best effort" interpretation of unknown rules.
func Params(version RoomVersion) (VersionParams, error) {
	params, ok := versionRegistry[version]
	if !ok {
		return VersionParams{}, fmt.Errorf("unsupported room version %q", version)
	}
	return params, nil
}

// SupportedVersions returns the room versions this build implements.
func SupportedVersions() []RoomVersion {
	return []RoomVersion{RoomV1, RoomV2}
}
