// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Fetch resolves an event ID referenced by a state map. Implementations
// wrap the event store; the resolver supplies a fetch bounded to the
// conflict search's event set.
type Fetch func(ref.EventID) (*event.Event, error)

// Authorize reports whether ev is permitted given the room state.
// False means the event violates a rule and must be soft-failed. An
// error means a state event could not be fetched and the verdict is
// unknowable; the caller retries, it never treats an error as a
// rejection.
func Authorize(version event.RoomVersion, ev *event.Event, state event.StateMap, fetch Fetch) (bool, error) {
	params, err := event.Params(version)
	if err != nil {
		return false, err
	}

	room := &roomState{state: state, fetch: fetch}

	// Create rule: unconditional, exactly once. A create event in a
	// room that already has one is a forgery attempt.
	if ev.IsCreate() {
		_, exists := state.Get(ref.TypeCreate, "")
		return !exists, nil
	}
	if _, exists := state.Get(ref.TypeCreate, ""); !exists {
		// No create event in state: nothing is authorized.
		return false, nil
	}

	if ev.Type == ref.TypeMember {
		return authorizeMembership(params, ev, room)
	}

	// Everything below requires a joined sender.
	senderMembership, err := room.membership(ev.Sender)
	if err != nil {
		return false, err
	}
	if senderMembership != event.MembershipJoin {
		return false, nil
	}

	levels, err := room.powerLevels()
	if err != nil {
		return false, err
	}
	senderLevel := levels.UserLevel(ev.Sender)

	if ev.Type == ref.TypePowerLevels {
		return authorizePowerLevels(ev, levels, senderLevel)
	}

	// Generic rule: the sender's level must meet the per-type
	// threshold recorded in the power-levels slot.
	return senderLevel >= levels.EventLevel(ev.Type, ev.IsState()), nil
}

// authorizeMembership is the per-target-user membership state machine.
// The target is named by the event's state key; the sender acts.
func authorizeMembership(params event.VersionParams, ev *event.Event, room *roomState) (bool, error) {
	if ev.StateKey == nil {
		return false, nil
	}
	target, err := ref.ParseUserID(*ev.StateKey)
	if err != nil {
		return false, nil
	}
	var content event.MemberContent
	if err := ev.DecodeContent(&content); err != nil {
		return false, nil
	}

	targetCurrent, err := room.membership(target)
	if err != nil {
		return false, err
	}
	senderCurrent, err := room.membership(ev.Sender)
	if err != nil {
		return false, err
	}
	levels, err := room.powerLevels()
	if err != nil {
		return false, err
	}
	senderLevel := levels.UserLevel(ev.Sender)
	targetLevel := levels.UserLevel(target)

	switch content.Membership {
	case event.MembershipJoin:
		// Only the user themselves joins; nobody joins on another's
		// behalf.
		if ev.Sender != target {
			return false, nil
		}
		// A ban must be lifted before any rejoin.
		if targetCurrent == event.MembershipBan {
			return false, nil
		}
		if targetCurrent == event.MembershipJoin || targetCurrent == event.MembershipInvite {
			return true, nil
		}
		rule, err := room.joinRule()
		if err != nil {
			return false, err
		}
		switch rule {
		case event.JoinRulePublic:
			return true, nil
		case event.JoinRuleKnock:
			return params.KnockAllowed && targetCurrent == event.MembershipKnock, nil
		default:
			// invite, private, restricted: entry is by invite only.
			return false, nil
		}

	case event.MembershipInvite:
		if senderCurrent != event.MembershipJoin {
			return false, nil
		}
		if targetCurrent == event.MembershipBan || targetCurrent == event.MembershipJoin {
			return false, nil
		}
		return senderLevel >= levels.InviteLevel(), nil

	case event.MembershipLeave:
		if ev.Sender == target {
			// A user can always leave from join or invite, or retract
			// a knock. A banned user cannot clear their own ban.
			switch targetCurrent {
			case event.MembershipJoin, event.MembershipInvite, event.MembershipKnock:
				return true, nil
			}
			return false, nil
		}
		// Removing someone else: a kick, or an unban.
		if senderCurrent != event.MembershipJoin {
			return false, nil
		}
		if targetCurrent == event.MembershipBan {
			return senderLevel >= levels.BanLevel() && senderLevel > targetLevel, nil
		}
		return senderLevel >= levels.KickLevel() && senderLevel > targetLevel, nil

	case event.MembershipBan:
		if senderCurrent != event.MembershipJoin {
			return false, nil
		}
		return senderLevel >= levels.BanLevel() && senderLevel > targetLevel, nil

	case event.MembershipKnock:
		if !params.KnockAllowed || ev.Sender != target {
			return false, nil
		}
		if targetCurrent == event.MembershipBan || targetCurrent == event.MembershipJoin {
			return false, nil
		}
		rule, err := room.joinRule()
		if err != nil {
			return false, err
		}
		return rule == event.JoinRuleKnock, nil
	}

	return false, nil
}

// authorizePowerLevels checks a power-levels change. The sender must
// clear the slot's own threshold and the highest level being granted
// or revoked by any entry the change touches.
func authorizePowerLevels(ev *event.Event, current event.PowerLevelsContent, senderLevel int64) (bool, error) {
	var proposed event.PowerLevelsContent
	if err := ev.DecodeContent(&proposed); err != nil {
		return false, nil
	}

	required := current.EventLevel(ref.TypePowerLevels, true)

	// Every user entry added, removed, or changed must be within the
	// sender's reach at both its old and new value. Changing another
	// user's entry additionally requires strictly outranking its old
	// value; a sender may always lower their own level.
	for user, oldLevel := range current.Users {
		newLevel, stillPresent := proposed.Users[user]
		if stillPresent && newLevel == oldLevel {
			continue
		}
		if !stillPresent {
			newLevel = proposed.UsersDefaultLevel()
		}
		if user != ev.Sender.String() && oldLevel >= senderLevel {
			return false, nil
		}
		required = maxLevel(required, newLevel)
	}
	for user, newLevel := range proposed.Users {
		if _, existed := current.Users[user]; existed {
			continue
		}
		required = maxLevel(required, newLevel)
	}

	// Event-type thresholds and the scalar knobs: any value being
	// moved must be within reach at both ends.
	for eventType, oldLevel := range current.Events {
		newLevel, stillPresent := proposed.Events[eventType]
		if stillPresent && newLevel == oldLevel {
			continue
		}
		required = maxLevel(required, oldLevel)
		if stillPresent {
			required = maxLevel(required, newLevel)
		}
	}
	for eventType, newLevel := range proposed.Events {
		if _, existed := current.Events[eventType]; existed {
			continue
		}
		required = maxLevel(required, newLevel)
	}
	scalarPairs := [][2]int64{
		{current.UsersDefaultLevel(), proposed.UsersDefaultLevel()},
		{current.EventLevel("", false), proposed.EventLevel("", false)},
		{current.EventLevel("", true), proposed.EventLevel("", true)},
		{current.BanLevel(), proposed.BanLevel()},
		{current.KickLevel(), proposed.KickLevel()},
		{current.RedactLevel(), proposed.RedactLevel()},
		{current.InviteLevel(), proposed.InviteLevel()},
	}
	for _, pair := range scalarPairs {
		if pair[0] != pair[1] {
			required = maxLevel(required, pair[0])
			required = maxLevel(required, pair[1])
		}
	}

	return senderLevel >= required, nil
}

func maxLevel(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// roomState lazily resolves the state map's well-known slots through
// the fetch closure, caching each decoded payload for the duration of
// one Authorize call.
type roomState struct {
	state event.StateMap
	fetch Fetch

	levels      *event.PowerLevelsContent
	rule        *event.JoinRule
	memberships map[ref.UserID]event.Membership
}

func (r *roomState) get(id ref.EventID) (*event.Event, error) {
	ev, err := r.fetch(id)
	if err != nil {
		return nil, fmt.Errorf("auth: fetching state event %s: %w", id, err)
	}
	return ev, nil
}

// membership returns the user's current membership, MembershipNone if
// the slot is vacant or its content undecodable.
func (r *roomState) membership(user ref.UserID) (event.Membership, error) {
	if cached, ok := r.memberships[user]; ok {
		return cached, nil
	}
	result := event.MembershipNone
	if id, ok := r.state[event.MemberKey(user)]; ok {
		ev, err := r.get(id)
		if err != nil {
			return event.MembershipNone, err
		}
		var content event.MemberContent
		if err := ev.DecodeContent(&content); err == nil {
			result = content.Membership
		}
	}
	if r.memberships == nil {
		r.memberships = make(map[ref.UserID]event.Membership)
	}
	r.memberships[user] = result
	return result, nil
}

// powerLevels returns the room's power-levels table. When the slot is
// vacant or malformed, falls back to the creation defaults (creator at
// 100, everyone else at 0).
func (r *roomState) powerLevels() (event.PowerLevelsContent, error) {
	if r.levels != nil {
		return *r.levels, nil
	}
	var levels event.PowerLevelsContent
	if id, ok := r.state.Get(ref.TypePowerLevels, ""); ok {
		ev, err := r.get(id)
		if err != nil {
			return levels, err
		}
		if err := ev.DecodeContent(&levels); err == nil {
			r.levels = &levels
			return levels, nil
		}
	}
	creator, err := r.creator()
	if err != nil {
		return levels, err
	}
	levels = event.DefaultPowerLevels(creator)
	r.levels = &levels
	return levels, nil
}

// joinRule returns the room's join rule, defaulting to invite-only
// when the slot is vacant.
func (r *roomState) joinRule() (event.JoinRule, error) {
	if r.rule != nil {
		return *r.rule, nil
	}
	rule := event.JoinRuleInvite
	if id, ok := r.state.Get(ref.TypeJoinRules, ""); ok {
		ev, err := r.get(id)
		if err != nil {
			return rule, err
		}
		var content event.JoinRulesContent
		if err := ev.DecodeContent(&content); err == nil && content.JoinRule != "" {
			rule = content.JoinRule
		}
	}
	r.rule = &rule
	return rule, nil
}

// creator returns the room creator from the create slot, or the zero
// user ID when the create event is missing or malformed.
func (r *roomState) creator() (ref.UserID, error) {
	id, ok := r.state.Get(ref.TypeCreate, "")
	if !ok {
		return ref.UserID{}, nil
	}
	ev, err := r.get(id)
	if err != nil {
		return ref.UserID{}, err
	}
	var content event.CreateContent
	if err := ev.DecodeContent(&content); err != nil {
		return ref.UserID{}, nil
	}
	return content.Creator, nil
}
