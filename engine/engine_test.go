// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/roomstate/engine"
	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/clock"
	"github.com/bureau-foundation/roomstate/lib/ref"
	"github.com/bureau-foundation/roomstate/lib/testutil"
	"github.com/bureau-foundation/roomstate/store"
)

const keyID = "ed25519:0"

type staticKeys map[string]ed25519.PublicKey

func (k staticKeys) PublicKey(server ref.ServerName, id string) (ed25519.PublicKey, error) {
	key, ok := k[server.String()+"/"+id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", server, id, event.ErrKeyNotFound)
	}
	return key, nil
}

// fixture is a room driven end to end through a live engine.
type fixture struct {
	t       *testing.T
	engine  *engine.Engine
	store   store.Store
	clock   *clock.FakeClock
	room    ref.RoomID
	private ed25519.PrivateKey
	ts      int64

	creator ref.UserID
	visitor ref.UserID
	create  *event.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)

	memory := store.NewMemory()
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	eng, err := engine.New(engine.Config{
		Store:          memory,
		Keys:           staticKeys{testutil.TestServer + "/" + keyID: public},
		Clock:          fake,
		PendingTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	f := &fixture{
		t:       t,
		engine:  eng,
		store:   memory,
		clock:   fake,
		room:    testutil.UniqueRoomID(),
		private: private,
		ts:      1000,
		creator: testutil.UniqueUserID("creator"),
		visitor: testutil.UniqueUserID("visitor"),
	}
	f.create = f.sign(event.Builder{
		RoomID:   f.room,
		Type:     ref.TypeCreate,
		StateKey: event.StateKeyString(""),
		Sender:   f.creator,
		Origin:   ref.MustParseServerName(f.creator.Server()),
		Content:  event.CreateContent{Creator: f.creator, RoomVersion: event.RoomV2},
	})
	return f
}

// sign fills in the timestamp and signs the builder's event.
func (f *fixture) sign(builder event.Builder) *event.Event {
	f.t.Helper()
	f.ts++
	builder.OriginTS = f.ts
	ev, err := builder.BuildSigned(keyID, f.private)
	if err != nil {
		f.t.Fatalf("BuildSigned: %v", err)
	}
	return ev
}

func (f *fixture) stateEvent(sender ref.UserID, eventType ref.EventType, stateKey string, content any, parents ...*event.Event) *event.Event {
	builder := event.Builder{
		RoomID:   f.room,
		Type:     eventType,
		StateKey: event.StateKeyString(stateKey),
		Sender:   sender,
		Origin:   ref.MustParseServerName(sender.Server()),
		Content:  content,
	}
	for _, parent := range parents {
		builder.PrevEvents = append(builder.PrevEvents, parent.ID)
	}
	builder.AuthEvents = []ref.EventID{f.create.ID}
	return f.sign(builder)
}

func (f *fixture) ingest(ev *event.Event) *engine.IngestResult {
	f.t.Helper()
	raw, err := ev.Encode()
	if err != nil {
		f.t.Fatalf("Encode: %v", err)
	}
	result, err := f.engine.Ingest(context.Background(), raw)
	if err != nil {
		f.t.Fatalf("Ingest: %v", err)
	}
	return result
}

func (f *fixture) mustAccept(ev *event.Event) {
	f.t.Helper()
	if result := f.ingest(ev); result.Outcome != engine.Accepted {
		f.t.Fatalf("ingest outcome = %s (%s), want accepted", result.Outcome, result.Reason)
	}
}

func (f *fixture) currentState() event.StateMap {
	f.t.Helper()
	state, err := f.engine.CurrentState(context.Background(), f.room)
	if err != nil {
		f.t.Fatalf("CurrentState: %v", err)
	}
	return state
}

// setup ingests create + creator join and returns the join event as
// the room tip.
func (f *fixture) setup() *event.Event {
	f.t.Helper()
	f.mustAccept(f.create)
	join := f.stateEvent(f.creator, ref.TypeMember, f.creator.String(),
		event.MemberContent{Membership: event.MembershipJoin}, f.create)
	f.mustAccept(join)
	return join
}

func TestIngestLinearRoom(t *testing.T) {
	f := newFixture(t)
	join := f.setup()

	levels := f.stateEvent(f.creator, ref.TypePowerLevels, "", event.PowerLevelsContent{
		Users: map[string]int64{f.creator.String(): 100},
	}, join)
	f.mustAccept(levels)

	name := f.stateEvent(f.creator, ref.TypeName, "", event.NameContent{Name: "ops"}, levels)
	result := f.ingest(name)
	if result.Outcome != engine.Accepted {
		t.Fatalf("outcome = %s (%s)", result.Outcome, result.Reason)
	}
	if result.StateDelta[name.Slot()] != name.ID {
		t.Errorf("StateDelta missing the name slot: %v", result.StateDelta)
	}

	state := f.currentState()
	for _, ev := range []*event.Event{f.create, join, levels, name} {
		if state[ev.Slot()] != ev.ID {
			t.Errorf("slot %v = %s, want %s", ev.Slot(), state[ev.Slot()], ev.ID)
		}
	}
}

// An under-powered sender's state change lands in the DAG but not in
// state, and the sender gets no error at the protocol level.
func TestIngestSoftFail(t *testing.T) {
	f := newFixture(t)
	join := f.setup()
	levels := f.stateEvent(f.creator, ref.TypePowerLevels, "", event.PowerLevelsContent{
		Users:  map[string]int64{f.creator.String(): 100},
		Events: map[string]int64{string(ref.TypeName): 50},
	}, join)
	f.mustAccept(levels)
	joinRules := f.stateEvent(f.creator, ref.TypeJoinRules, "",
		event.JoinRulesContent{JoinRule: event.JoinRulePublic}, levels)
	f.mustAccept(joinRules)
	visitorJoin := f.stateEvent(f.visitor, ref.TypeMember, f.visitor.String(),
		event.MemberContent{Membership: event.MembershipJoin}, joinRules)
	f.mustAccept(visitorJoin)

	rename := f.stateEvent(f.visitor, ref.TypeName, "", event.NameContent{Name: "hijacked"}, visitorJoin)
	result := f.ingest(rename)
	if result.Outcome != engine.SoftFailed {
		t.Fatalf("outcome = %s, want soft_failed", result.Outcome)
	}

	if id, ok := f.currentState().Get(ref.TypeName, ""); ok {
		t.Errorf("name slot occupied by %s after a soft-failed change", id)
	}

	rec, err := f.store.Get(context.Background(), rename.ID)
	if err != nil {
		t.Fatalf("soft-failed event not retained in the store: %v", err)
	}
	if !rec.Rejected {
		t.Error("soft-failed event not marked rejected")
	}
}

// Spec-style missing dependency flow: the child arrives first, parks,
// and is replayed automatically when its parent lands.
func TestIngestMissingDependency(t *testing.T) {
	f := newFixture(t)
	join := f.setup()

	name := f.stateEvent(f.creator, ref.TypeName, "", event.NameContent{Name: "ops"}, join)
	topic := f.stateEvent(f.creator, ref.TypeTopic, "", event.TopicContent{Topic: "talk"}, name)

	result := f.ingest(topic)
	if result.Outcome != engine.MissingDependency {
		t.Fatalf("outcome = %s, want missing_dependency", result.Outcome)
	}
	if len(result.Missing) != 1 || result.Missing[0] != name.ID {
		t.Errorf("Missing = %v, want [%s]", result.Missing, name.ID)
	}
	if f.engine.PendingCount(f.room) != 1 {
		t.Errorf("PendingCount = %d, want 1", f.engine.PendingCount(f.room))
	}

	// The parent arrives; the parked child replays and lands at the
	// right depth.
	f.mustAccept(name)
	if f.engine.PendingCount(f.room) != 0 {
		t.Errorf("PendingCount after drain = %d, want 0", f.engine.PendingCount(f.room))
	}
	rec, err := f.store.Get(context.Background(), topic.ID)
	if err != nil {
		t.Fatalf("replayed event not stored: %v", err)
	}
	if rec.Depth != 4 {
		t.Errorf("replayed event depth = %d, want 4", rec.Depth)
	}
	if id, _ := f.currentState().Get(ref.TypeTopic, ""); id != topic.ID {
		t.Error("replayed event missing from current state")
	}
}

func TestPendingExpiry(t *testing.T) {
	f := newFixture(t)
	join := f.setup()

	name := f.stateEvent(f.creator, ref.TypeName, "", event.NameContent{Name: "ops"}, join)
	topic := f.stateEvent(f.creator, ref.TypeTopic, "", event.TopicContent{Topic: "talk"}, name)

	f.ingest(topic)
	if f.engine.PendingCount(f.room) != 1 {
		t.Fatalf("PendingCount = %d, want 1", f.engine.PendingCount(f.room))
	}

	f.clock.Advance(2 * time.Minute)
	if f.engine.PendingCount(f.room) != 0 {
		t.Errorf("PendingCount after expiry = %d, want 0", f.engine.PendingCount(f.room))
	}

	// Expiry is not rejection: a fresh ingest still works once the
	// dependency exists.
	f.mustAccept(name)
	f.mustAccept(topic)
}

// An event parked under two missing parents must not leave a stale
// queue entry behind when only one of them arrives: the replay re-parks
// it under the remainder, and expiry still clears it.
func TestPartialBackfillPendingQueue(t *testing.T) {
	f := newFixture(t)
	join := f.setup()

	nameA := f.stateEvent(f.creator, ref.TypeName, "", event.NameContent{Name: "a"}, join)
	topicB := f.stateEvent(f.creator, ref.TypeTopic, "", event.TopicContent{Topic: "b"}, join)
	merge := f.stateEvent(f.creator, ref.TypeHistoryVisibility, "",
		event.HistoryVisibilityContent{HistoryVisibility: "shared"}, nameA, topicB)

	result := f.ingest(merge)
	if result.Outcome != engine.MissingDependency {
		t.Fatalf("outcome = %s, want missing_dependency", result.Outcome)
	}
	if len(result.Missing) != 2 {
		t.Fatalf("Missing = %v, want both parents", result.Missing)
	}
	if f.engine.PendingCount(f.room) != 1 {
		t.Fatalf("PendingCount = %d, want 1", f.engine.PendingCount(f.room))
	}

	// One parent arrives: the replay re-parks the merge under the
	// other parent only. A stale copy in the drained list would bump
	// the count to 2.
	f.mustAccept(nameA)
	if got := f.engine.PendingCount(f.room); got != 1 {
		t.Fatalf("PendingCount after partial backfill = %d, want 1", got)
	}

	// The re-parked entry carries a live timer; expiry empties the
	// queue completely.
	f.clock.Advance(2 * time.Minute)
	if got := f.engine.PendingCount(f.room); got != 0 {
		t.Errorf("PendingCount after expiry = %d, want 0", got)
	}

	f.mustAccept(topicB)
	f.mustAccept(merge)
	if id, _ := f.currentState().Get(ref.TypeHistoryVisibility, ""); id != merge.ID {
		t.Error("merge event missing from current state")
	}
}

// A fresh engine over an already populated durable store serves the
// room's state and accepts new events, as after a process restart.
func TestRestartRecoversPersistedRoom(t *testing.T) {
	f := newFixture(t)
	join := f.setup()
	levels := f.stateEvent(f.creator, ref.TypePowerLevels, "", event.PowerLevelsContent{
		Users: map[string]int64{f.creator.String(): 100},
	}, join)
	f.mustAccept(levels)
	name := f.stateEvent(f.creator, ref.TypeName, "", event.NameContent{Name: "ops"}, levels)
	f.mustAccept(name)

	public := f.private.Public().(ed25519.PublicKey)
	restarted, err := engine.New(engine.Config{
		Store: f.store,
		Keys:  staticKeys{testutil.TestServer + "/" + keyID: public},
	})
	if err != nil {
		t.Fatalf("engine.New after restart: %v", err)
	}

	state, err := restarted.CurrentState(context.Background(), f.room)
	if err != nil {
		t.Fatalf("CurrentState after restart: %v", err)
	}
	for _, ev := range []*event.Event{f.create, join, levels, name} {
		if state[ev.Slot()] != ev.ID {
			t.Errorf("slot %v = %s after restart, want %s", ev.Slot(), state[ev.Slot()], ev.ID)
		}
	}

	// Re-ingesting a stored event is a duplicate accept, not a reset.
	raw, err := name.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	result, err := restarted.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatalf("Ingest after restart: %v", err)
	}
	if result.Outcome != engine.Accepted {
		t.Fatalf("re-ingest outcome = %s (%s), want accepted", result.Outcome, result.Reason)
	}

	// New events extend the recovered room.
	topic := f.stateEvent(f.creator, ref.TypeTopic, "", event.TopicContent{Topic: "talk"}, name)
	raw, err = topic.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	result, err = restarted.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatalf("Ingest after restart: %v", err)
	}
	if result.Outcome != engine.Accepted {
		t.Fatalf("new event outcome = %s (%s), want accepted", result.Outcome, result.Reason)
	}
	state, err = restarted.CurrentState(context.Background(), f.room)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if state[topic.Slot()] != topic.ID {
		t.Error("new event missing from recovered room's state")
	}
}

// Permanent damage is terminal even when the room is unknown: a
// tampered event must not be reported as a retryable missing
// dependency.
func TestUnknownRoomRejectsTamperedEvent(t *testing.T) {
	f := newFixture(t)
	// Room never created here.
	orphan := f.stateEvent(f.creator, ref.TypeMember, f.creator.String(),
		event.MemberContent{Membership: event.MembershipJoin}, f.create)
	orphan.OriginTS++ // breaks the content hash against the claimed ID

	result := f.ingest(orphan)
	if result.Outcome != engine.ValidationFailed {
		t.Errorf("outcome = %s, want validation_error", result.Outcome)
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.mustAccept(f.create)

	otherSeed := make([]byte, ed25519.SeedSize)
	otherSeed[0] = 0xAB
	forgerKey := ed25519.NewKeyFromSeed(otherSeed)
	forged, err := event.Builder{
		RoomID:     f.room,
		Type:       ref.TypeMember,
		StateKey:   event.StateKeyString(f.creator.String()),
		Sender:     f.creator,
		Origin:     ref.MustParseServerName(f.creator.Server()),
		OriginTS:   f.ts + 1,
		PrevEvents: []ref.EventID{f.create.ID},
		AuthEvents: []ref.EventID{f.create.ID},
		Content:    event.MemberContent{Membership: event.MembershipJoin},
	}.BuildSigned(keyID, forgerKey)
	if err != nil {
		t.Fatalf("BuildSigned: %v", err)
	}

	result := f.ingest(forged)
	if result.Outcome != engine.ValidationFailed {
		t.Errorf("outcome = %s, want validation_error", result.Outcome)
	}
}

func TestIngestUnknownRoom(t *testing.T) {
	f := newFixture(t)
	// Room never created here; a member event arrives cold.
	orphan := f.stateEvent(f.creator, ref.TypeMember, f.creator.String(),
		event.MemberContent{Membership: event.MembershipJoin}, f.create)

	result := f.ingest(orphan)
	if result.Outcome != engine.MissingDependency {
		t.Fatalf("outcome = %s, want missing_dependency", result.Outcome)
	}
	if len(result.Missing) == 0 {
		t.Error("no dependency IDs suggested for an unknown room")
	}
}

// Two branches fork from the same tip; the read path resolves the
// merge deterministically.
func TestForkResolvedOnRead(t *testing.T) {
	f := newFixture(t)
	join := f.setup()
	levels := f.stateEvent(f.creator, ref.TypePowerLevels, "", event.PowerLevelsContent{
		Users: map[string]int64{f.creator.String(): 100},
	}, join)
	f.mustAccept(levels)

	nameA := f.stateEvent(f.creator, ref.TypeName, "", event.NameContent{Name: "a"}, levels)
	nameB := f.stateEvent(f.creator, ref.TypeName, "", event.NameContent{Name: "b"}, levels)
	f.mustAccept(nameA)
	f.mustAccept(nameB)

	first := f.currentState()
	winner, ok := first.Get(ref.TypeName, "")
	if !ok {
		t.Fatal("merged state lost the name slot")
	}
	if winner != nameA.ID && winner != nameB.ID {
		t.Fatalf("name slot = %s, want one of the branch events", winner)
	}
	if again := f.currentState(); first.Fingerprint() != again.Fingerprint() {
		t.Error("repeated reads resolved differently")
	}
}

func TestIsAuthorizedPreFlight(t *testing.T) {
	f := newFixture(t)
	join := f.setup()
	levels := f.stateEvent(f.creator, ref.TypePowerLevels, "", event.PowerLevelsContent{
		Users:  map[string]int64{f.creator.String(): 100},
		Events: map[string]int64{string(ref.TypeName): 50},
	}, join)
	f.mustAccept(levels)
	joinRules := f.stateEvent(f.creator, ref.TypeJoinRules, "",
		event.JoinRulesContent{JoinRule: event.JoinRulePublic}, levels)
	f.mustAccept(joinRules)
	visitorJoin := f.stateEvent(f.visitor, ref.TypeMember, f.visitor.String(),
		event.MemberContent{Membership: event.MembershipJoin}, joinRules)
	f.mustAccept(visitorJoin)

	state := f.currentState()
	draft := f.stateEvent(f.visitor, ref.TypeName, "", event.NameContent{Name: "draft"}, visitorJoin)
	ok, err := f.engine.IsAuthorized(context.Background(), draft, state)
	if err != nil {
		t.Fatalf("IsAuthorized: %v", err)
	}
	if ok {
		t.Error("pre-flight authorized an under-powered name change")
	}
}
