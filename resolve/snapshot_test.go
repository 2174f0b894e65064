// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve_test

import (
	"testing"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

func TestSnapshotSummarizesState(t *testing.T) {
	r := newRoom(t)
	name := r.build(creator, ref.TypeName, event.StateKeyString(""), event.NameContent{Name: "planning"})
	topic := r.build(mod50, ref.TypeTopic, event.StateKeyString(""), event.TopicContent{Topic: "weekly sync"})
	left := r.build(low10, ref.TypeMember, event.StateKeyString(low10.String()),
		event.MemberContent{Membership: event.MembershipLeave})

	snap, err := r.resolver().Snapshot(r.branch(name, topic, left))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.RoomID != r.id {
		t.Errorf("RoomID = %s, want %s", snap.RoomID, r.id)
	}
	if snap.Version != event.RoomV2 {
		t.Errorf("Version = %s, want %s", snap.Version, event.RoomV2)
	}
	if snap.Creator != creator {
		t.Errorf("Creator = %s, want %s", snap.Creator, creator)
	}
	if snap.Name != "planning" {
		t.Errorf("Name = %q, want %q", snap.Name, "planning")
	}
	if snap.Topic != "weekly sync" {
		t.Errorf("Topic = %q, want %q", snap.Topic, "weekly sync")
	}
	if snap.JoinRule != event.JoinRulePublic {
		t.Errorf("JoinRule = %s, want %s", snap.JoinRule, event.JoinRulePublic)
	}

	if got := snap.Membership(low10); got != event.MembershipLeave {
		t.Errorf("Membership(low10) = %q, want leave", got)
	}
	if snap.IsJoined(low10) {
		t.Error("IsJoined(low10) = true after leave")
	}
	if got := snap.JoinedCount(); got != 2 {
		t.Errorf("JoinedCount = %d, want 2 (creator and mod)", got)
	}
	stranger := ref.MustParseUserID("@stranger:test.local")
	if got := snap.Membership(stranger); got != event.MembershipNone {
		t.Errorf("Membership(stranger) = %q, want none", got)
	}
}

func TestSnapshotPowerQueries(t *testing.T) {
	r := newRoom(t)
	snap, err := r.resolver().Snapshot(r.base)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if got := snap.PowerLevel(creator); got != 100 {
		t.Errorf("PowerLevel(creator) = %d, want 100", got)
	}
	if got := snap.PowerLevel(low10); got != 10 {
		t.Errorf("PowerLevel(low10) = %d, want 10", got)
	}

	// state_default is 50: the moderator can rename the room, the
	// level-10 member cannot. Everyone joined can post messages.
	if !snap.CanSend(mod50, ref.TypeName, true) {
		t.Error("CanSend(mod50, name) = false, want true")
	}
	if snap.CanSend(low10, ref.TypeName, true) {
		t.Error("CanSend(low10, name) = true, want false")
	}
	if !snap.CanSend(low10, ref.TypeMessage, false) {
		t.Error("CanSend(low10, message) = false, want true")
	}
	stranger := ref.MustParseUserID("@stranger:test.local")
	if snap.CanSend(stranger, ref.TypeMessage, false) {
		t.Error("CanSend on a non-member = true, want false")
	}
}

func TestSnapshotDefaultsWithoutOptionalSlots(t *testing.T) {
	r := newRoom(t)

	// A state holding only the create event and the creator's join:
	// defaults apply for everything else.
	minimal := make(event.StateMap)
	minimal[r.create.Slot()] = r.create.ID
	joinID, ok := r.base.Get(ref.TypeMember, creator.String())
	if !ok {
		t.Fatal("fixture base has no creator join")
	}
	minimal[event.StateKey{Type: ref.TypeMember, Key: creator.String()}] = joinID

	snap, err := r.resolver().Snapshot(minimal)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.JoinRule != event.JoinRuleInvite {
		t.Errorf("JoinRule = %s, want the invite default", snap.JoinRule)
	}
	if snap.Name != "" || snap.Topic != "" {
		t.Errorf("Name/Topic = %q/%q, want empty", snap.Name, snap.Topic)
	}
	if got := snap.PowerLevel(creator); got != 100 {
		t.Errorf("PowerLevel(creator) = %d, want the default-table 100", got)
	}
	if got := snap.PowerLevel(mod50); got != 0 {
		t.Errorf("PowerLevel(mod50) = %d, want users_default 0", got)
	}
}

func TestSnapshotRequiresCreate(t *testing.T) {
	r := newRoom(t)
	state := r.base.Clone()
	delete(state, r.create.Slot())

	if _, err := r.resolver().Snapshot(state); err == nil {
		t.Fatal("Snapshot without a create event succeeded")
	}
}
