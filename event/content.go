// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Membership is the per-user membership state machine value carried by
// m.room.member events. The empty string means "no membership event
// exists" (the user has never interacted with the room).
type Membership string

// Membership states. Transitions between them are governed by the
// authorization engine's membership rule.
const (
	MembershipNone   Membership = ""
	MembershipInvite Membership = "invite"
	MembershipJoin   Membership = "join"
	MembershipLeave  Membership = "leave"
	MembershipBan    Membership = "ban"
	MembershipKnock  Membership = "knock"
)

// JoinRule controls who may join a room without an invite.
type JoinRule string

// Join rules. Knock and Restricted require a room version that
// supports them (see Params).
const (
	JoinRulePublic     JoinRule = "public"
	JoinRuleInvite     JoinRule = "invite"
	JoinRulePrivate    JoinRule = "private"
	JoinRuleKnock      JoinRule = "knock"
	JoinRuleRestricted JoinRule = "restricted"
)

// CreateContent is the payload of the m.room.create event. It pins the
// room version for the room's entire lifetime and names the creator.
type CreateContent struct {
	Creator     ref.UserID  `cbor:"creator" json:"creator"`
	RoomVersion RoomVersion `cbor:"room_version" json:"room_version"`
	Federate    *bool       `cbor:"m.federate,omitempty" json:"m.federate,omitempty"`
}

// MemberContent is the payload of an m.room.member event. The target
// user is the event's state key, not part of the content.
type MemberContent struct {
	Membership  Membership `cbor:"membership" json:"membership"`
	DisplayName string     `cbor:"displayname,omitempty" json:"displayname,omitempty"`
	AvatarURL   string     `cbor:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Reason      string     `cbor:"reason,omitempty" json:"reason,omitempty"`
}

// JoinRulesContent is the payload of an m.room.join_rules event.
type JoinRulesContent struct {
	JoinRule JoinRule `cbor:"join_rule" json:"join_rule"`
}

// NameContent is the payload of an m.room.name event.
type NameContent struct {
	Name string `cbor:"name" json:"name"`
}

// TopicContent is the payload of an m.room.topic event.
type TopicContent struct {
	Topic string `cbor:"topic" json:"topic"`
}

// HistoryVisibilityContent is the payload of an
// m.room.history_visibility event.
type HistoryVisibilityContent struct {
	HistoryVisibility string `cbor:"history_visibility" json:"history_visibility"`
}

// MessageContent is the payload of an m.room.message timeline event.
// The engine never interprets it; it exists for fixtures and tests.
type MessageContent struct {
	MsgType string `cbor:"msgtype" json:"msgtype"`
	Body    string `cbor:"body" json:"body"`
}

// Power-level defaults applied when a PowerLevelsContent field is
// absent. These match the values minted into a freshly created room.
const (
	defaultUserLevel   = 0
	defaultEventLevel  = 0
	defaultStateLevel  = 50
	defaultActionLevel = 50 // ban, kick, redact, invite
	creatorLevel       = 100
)

// PowerLevelsContent is the payload of an m.room.power_levels event.
// All fields are optional; accessors apply the protocol defaults for
// absent fields. Never mutated in place — a power-level change is a
// new event occupying the power-levels slot.
type PowerLevelsContent struct {
	// Users maps user ID to power level.
	Users map[string]int64 `cbor:"users,omitempty" json:"users,omitempty"`

	// UsersDefault is the level for users absent from Users.
	UsersDefault *int64 `cbor:"users_default,omitempty" json:"users_default,omitempty"`

	// Events maps event type to the level required to send it.
	Events map[string]int64 `cbor:"events,omitempty" json:"events,omitempty"`

	// EventsDefault is the level required for timeline event types
	// absent from Events.
	EventsDefault *int64 `cbor:"events_default,omitempty" json:"events_default,omitempty"`

	// StateDefault is the level required for state event types absent
	// from Events.
	StateDefault *int64 `cbor:"state_default,omitempty" json:"state_default,omitempty"`

	Ban    *int64 `cbor:"ban,omitempty" json:"ban,omitempty"`
	Kick   *int64 `cbor:"kick,omitempty" json:"kick,omitempty"`
	Redact *int64 `cbor:"redact,omitempty" json:"redact,omitempty"`
	Invite *int64 `cbor:"invite,omitempty" json:"invite,omitempty"`
}

func levelOr(value *int64, fallback int64) int64 {
	if value == nil {
		return fallback
	}
	return *value
}

// UserLevel returns the effective power level of the given user.
func (p *PowerLevelsContent) UserLevel(user ref.UserID) int64 {
	if p.Users != nil {
		if level, ok := p.Users[user.String()]; ok {
			return level
		}
	}
	return levelOr(p.UsersDefault, defaultUserLevel)
}

// UsersDefaultLevel returns the effective default user level.
func (p *PowerLevelsContent) UsersDefaultLevel() int64 {
	return levelOr(p.UsersDefault, defaultUserLevel)
}

// EventLevel returns the level required to send an event of the given
// type. State events fall back to StateDefault, timeline events to
// EventsDefault.
func (p *PowerLevelsContent) EventLevel(eventType ref.EventType, isState bool) int64 {
	if p.Events != nil {
		if level, ok := p.Events[string(eventType)]; ok {
			return level
		}
	}
	if isState {
		return levelOr(p.StateDefault, defaultStateLevel)
	}
	return levelOr(p.EventsDefault, defaultEventLevel)
}

// BanLevel returns the level required to ban (and to unban).
func (p *PowerLevelsContent) BanLevel() int64 { return levelOr(p.Ban, defaultActionLevel) }

// KickLevel returns the level required to kick.
func (p *PowerLevelsContent) KickLevel() int64 { return levelOr(p.Kick, defaultActionLevel) }

// RedactLevel returns the level required to redact others' events.
func (p *PowerLevelsContent) RedactLevel() int64 { return levelOr(p.Redact, defaultActionLevel) }

// InviteLevel returns the level required to invite.
func (p *PowerLevelsContent) InviteLevel() int64 { return levelOr(p.Invite, defaultActionLevel) }

// DefaultPowerLevels returns the power-levels table minted into a
// freshly created room: creator at 100, everyone else at 0, state
// changes and moderation actions at 50. This is also the conservative
// fallback the resolver applies when a room's power-levels content is
// malformed (with an empty users map, so no one holds elevated power).
func DefaultPowerLevels(creator ref.UserID) PowerLevelsContent {
	content := PowerLevelsContent{
		Users:  map[string]int64{},
		Events: map[string]int64{},
	}
	if !creator.IsZero() {
		content.Users[creator.String()] = creatorLevel
	}
	return content
}
