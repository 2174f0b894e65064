// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Snapshot is a read-only summary of a resolved state map: room
// identity, display fields, the membership map, and the effective
// power-level table. It holds decoded copies of the underlying event
// content, so it stays valid after further ingestion moves the room's
// state forward.
type Snapshot struct {
	RoomID  ref.RoomID
	Version event.RoomVersion
	Creator ref.UserID

	Name              string
	Topic             string
	JoinRule          event.JoinRule
	HistoryVisibility string

	Members map[ref.UserID]event.Membership
	Levels  event.PowerLevelsContent
}

// Snapshot decodes a resolved state map into a Snapshot. The state
// must contain a create event (every resolved state does); any other
// slot with undecodable content is logged and falls back to its
// default rather than failing the whole summary.
func (r *Resolver) Snapshot(state event.StateMap) (*Snapshot, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	createID, ok := state.Get(ref.TypeCreate, "")
	if !ok {
		return nil, fmt.Errorf("resolve: state has no create event")
	}
	createEv, err := r.Fetch(createID)
	if err != nil {
		return nil, fmt.Errorf("resolve: fetching create event %s: %w", createID, err)
	}
	var create event.CreateContent
	if err := createEv.DecodeContent(&create); err != nil {
		return nil, fmt.Errorf("resolve: decoding create content: %w", err)
	}

	snap := &Snapshot{
		RoomID:   createEv.RoomID,
		Version:  create.RoomVersion,
		Creator:  create.Creator,
		JoinRule: event.JoinRuleInvite,
		Members:  make(map[ref.UserID]event.Membership),
		Levels:   event.DefaultPowerLevels(create.Creator),
	}

	for slot, id := range state {
		switch slot.Type {
		case ref.TypeMember:
			target, err := ref.ParseUserID(slot.Key)
			if err != nil {
				logger.Warn("membership slot with invalid user ID key",
					"state_key", slot.Key, "event_id", id)
				continue
			}
			var content event.MemberContent
			if err := r.decodeSlot(id, &content, logger); err != nil {
				continue
			}
			snap.Members[target] = content.Membership
		case ref.TypePowerLevels:
			var content event.PowerLevelsContent
			if err := r.decodeSlot(id, &content, logger); err != nil {
				continue
			}
			snap.Levels = content
		case ref.TypeJoinRules:
			var content event.JoinRulesContent
			if err := r.decodeSlot(id, &content, logger); err != nil {
				continue
			}
			snap.JoinRule = content.JoinRule
		case ref.TypeName:
			var content event.NameContent
			if err := r.decodeSlot(id, &content, logger); err != nil {
				continue
			}
			snap.Name = content.Name
		case ref.TypeTopic:
			var content event.TopicContent
			if err := r.decodeSlot(id, &content, logger); err != nil {
				continue
			}
			snap.Topic = content.Topic
		case ref.TypeHistoryVisibility:
			var content event.HistoryVisibilityContent
			if err := r.decodeSlot(id, &content, logger); err != nil {
				continue
			}
			snap.HistoryVisibility = content.HistoryVisibility
		}
	}
	return snap, nil
}

func (r *Resolver) decodeSlot(id ref.EventID, content any, logger *slog.Logger) error {
	ev, err := r.Fetch(id)
	if err == nil {
		err = ev.DecodeContent(content)
	}
	if err != nil {
		logger.Warn("state slot skipped in snapshot", "event_id", id, "error", err)
		return err
	}
	return nil
}

// Membership returns the user's membership, MembershipNone when the
// user has no membership event in the room.
func (s *Snapshot) Membership(user ref.UserID) event.Membership {
	return s.Members[user]
}

// IsJoined reports whether the user is currently joined.
func (s *Snapshot) IsJoined(user ref.UserID) bool {
	return s.Members[user] == event.MembershipJoin
}

// JoinedCount returns the number of currently joined users.
func (s *Snapshot) JoinedCount() int {
	count := 0
	for _, membership := range s.Members {
		if membership == event.MembershipJoin {
			count++
		}
	}
	return count
}

// PowerLevel returns the user's effective power level.
func (s *Snapshot) PowerLevel(user ref.UserID) int64 {
	return s.Levels.UserLevel(user)
}

// CanSend reports whether a joined user's power level reaches the
// threshold for the given event type. Non-members can never send.
func (s *Snapshot) CanSend(user ref.UserID, eventType ref.EventType, isState bool) bool {
	if !s.IsJoined(user) {
		return false
	}
	return s.PowerLevel(user) >= s.Levels.EventLevel(eventType, isState)
}
