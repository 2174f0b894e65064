// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/roomstate/auth"
	"github.com/bureau-foundation/roomstate/dag"
	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/clock"
	"github.com/bureau-foundation/roomstate/lib/ref"
	"github.com/bureau-foundation/roomstate/resolve"
	"github.com/bureau-foundation/roomstate/store"
)

// Config assembles an Engine. Store and Keys are required.
type Config struct {
	// Store persists events. Shared freely across rooms; reads are
	// concurrent, writes are per-event atomic inserts.
	Store store.Store

	// Keys resolves federation signing keys for the validator.
	Keys event.KeyProvider

	// Logger receives soft-fail, anomaly, and pending-queue messages.
	// Defaults to a no-op logger.
	Logger *slog.Logger

	// Clock drives the pending-dependency timeout. Defaults to the
	// real clock; tests inject a fake.
	Clock clock.Clock

	// CacheSize bounds the resolved-state cache (entries, not bytes).
	CacheSize int

	// PendingTimeout is how long an event waits in the pending queue
	// for its missing dependencies before being dropped from the
	// queue. It can always be re-ingested later. Defaults to one
	// minute.
	PendingTimeout time.Duration
}

// Engine runs the full ingest pipeline. Safe for concurrent use;
// different rooms proceed in parallel, one room at a time within.
type Engine struct {
	store          store.Store
	manager        *dag.Manager
	validator      *event.Validator
	cache          *resolve.Cache
	logger         *slog.Logger
	clock          clock.Clock
	pendingTimeout time.Duration

	mu    sync.Mutex
	rooms map[ref.RoomID]*roomActor
}

// roomActor is the per-room serialization domain: its lock covers
// placement, resolution, and the pending queue for one room.
type roomActor struct {
	mu      sync.Mutex
	version event.RoomVersion
	pending map[ref.EventID][]*pendingEvent
}

type pendingEvent struct {
	raw   []byte
	timer *clock.Timer
}

// removeLocked deletes the entry from every dependency list it was
// parked under. Called with the actor lock held, on both expiry and
// drain, so an entry waiting on several missing IDs cannot linger in
// the other lists once one of them arrives. Entries are matched by
// pointer identity.
func (a *roomActor) removeLocked(entry *pendingEvent) {
	for id, entries := range a.pending {
		for i, candidate := range entries {
			if candidate == entry {
				a.pending[id] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(a.pending[id]) == 0 {
			delete(a.pending, id)
		}
	}
}

// New builds an Engine from the config.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: Store is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("engine: Keys is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timeout := cfg.PendingTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Engine{
		store:          cfg.Store,
		manager:        dag.NewManager(cfg.Store),
		validator:      &event.Validator{Keys: cfg.Keys},
		cache:          resolve.NewCache(cfg.CacheSize),
		logger:         logger,
		clock:          clk,
		pendingTimeout: timeout,
		rooms:          make(map[ref.RoomID]*roomActor),
	}, nil
}

func (e *Engine) actor(roomID ref.RoomID) *roomActor {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, ok := e.rooms[roomID]
	if !ok {
		actor = &roomActor{pending: make(map[ref.EventID][]*pendingEvent)}
		e.rooms[roomID] = actor
	}
	return actor
}

// fetch adapts the store to the resolver's and authorizer's ID
// lookup. Rejected events resolve too: auth chains may legitimately
// reference them.
func (e *Engine) fetch(ctx context.Context) auth.Fetch {
	return func(id ref.EventID) (*event.Event, error) {
		rec, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return rec.Event, nil
	}
}

func (e *Engine) resolver(ctx context.Context) *resolve.Resolver {
	return &resolve.Resolver{Fetch: e.fetch(ctx), Logger: e.logger}
}

// Ingest runs one raw encoded event through validation, placement,
// authorization, and state update. The returned error is reserved for
// store failures; every per-event disposition, including permanent
// rejection, is an IngestResult.
func (e *Engine) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	peek, err := event.Decode(raw)
	if err != nil {
		return &IngestResult{
			Outcome: ValidationFailed,
			Reason:  fmt.Sprintf("undecodable event: %v", err),
		}, nil
	}

	actor := e.actor(peek.RoomID)
	actor.mu.Lock()
	defer actor.mu.Unlock()
	return e.ingestLocked(ctx, actor, raw, peek)
}

// ingestLocked does the work of Ingest with the room lock held. Also
// called reentrantly when draining the pending queue.
func (e *Engine) ingestLocked(ctx context.Context, actor *roomActor, raw []byte, peek *event.Event) (*IngestResult, error) {
	version, result, err := e.roomVersion(ctx, actor, raw, peek)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	validated, err := e.validator.Validate(version, raw)
	if err != nil {
		var validation *event.ValidationError
		if errors.As(err, &validation) {
			return &IngestResult{
				Outcome: ValidationFailed,
				EventID: validation.EventID,
				Reason:  err.Error(),
			}, nil
		}
		var missingKey *event.MissingKeyError
		if errors.As(err, &missingKey) {
			return &IngestResult{
				Outcome: MissingDependency,
				EventID: peek.ID,
				Reason:  err.Error(),
			}, nil
		}
		return nil, err
	}

	placement, err := e.manager.Place(ctx, validated)
	if err != nil {
		var missing *dag.MissingDependencyError
		if errors.As(err, &missing) {
			e.park(actor, raw, missing.Missing)
			return &IngestResult{
				Outcome: MissingDependency,
				EventID: validated.ID,
				Missing: missing.Missing,
				Reason:  err.Error(),
			}, nil
		}
		return nil, err
	}
	if placement.Duplicate {
		return &IngestResult{Outcome: Accepted, EventID: validated.ID}, nil
	}
	if actor.version == "" {
		actor.version = version
	}

	before, err := e.stateBefore(ctx, version, validated)
	if err != nil {
		return nil, err
	}
	authorized, err := auth.Authorize(version, validated, before, e.fetch(ctx))
	if err != nil {
		return nil, fmt.Errorf("engine: authorizing %s: %w", validated.ID, err)
	}

	if !authorized {
		reason := "failed authorization against prior room state"
		if err := e.store.MarkRejected(ctx, validated.ID, reason); err != nil {
			return nil, err
		}
		e.logger.Info("event soft-failed",
			"event_id", validated.ID,
			"room_id", validated.RoomID,
			"type", validated.Type,
			"sender", validated.Sender,
		)
		e.cache.Put(resolve.Key([]ref.EventID{validated.ID}), before)
		result = &IngestResult{Outcome: SoftFailed, EventID: validated.ID, Reason: reason}
	} else {
		after := before
		delta := make(event.StateMap)
		if validated.IsState() {
			after = before.Clone()
			after[validated.Slot()] = validated.ID
			delta[validated.Slot()] = validated.ID
		}
		e.cache.Put(resolve.Key([]ref.EventID{validated.ID}), after)
		result = &IngestResult{Outcome: Accepted, EventID: validated.ID, StateDelta: delta}
	}

	e.drain(ctx, actor, validated.ID)
	return result, nil
}

// roomVersion determines which rule set applies to the event. A
// non-nil result short-circuits ingest.
func (e *Engine) roomVersion(ctx context.Context, actor *roomActor, raw []byte, peek *event.Event) (event.RoomVersion, *IngestResult, error) {
	if peek.IsCreate() {
		var content event.CreateContent
		if err := peek.DecodeContent(&content); err != nil {
			return "", &IngestResult{
				Outcome: ValidationFailed,
				EventID: peek.ID,
				Reason:  fmt.Sprintf("undecodable m.room.create content: %v", err),
			}, nil
		}
		if _, err := event.Params(content.RoomVersion); err != nil {
			return "", &IngestResult{
				Outcome: ValidationFailed,
				EventID: peek.ID,
				Reason:  err.Error(),
			}, nil
		}
		return content.RoomVersion, nil, nil
	}
	version, err := e.ensureVersion(ctx, actor, peek.RoomID)
	if err != nil {
		return "", nil, err
	}
	if version != "" {
		return version, nil, nil
	}

	// The room's create event has not been ingested; its ID is in the
	// event's auth basis. Run the version-independent checks before
	// reporting a missing dependency, so a permanently broken event is
	// rejected instead of inviting a pointless backfill-and-retry loop.
	if _, err := e.validator.CheckStructure(raw); err != nil {
		var validation *event.ValidationError
		if errors.As(err, &validation) {
			return "", &IngestResult{
				Outcome: ValidationFailed,
				EventID: validation.EventID,
				Reason:  err.Error(),
			}, nil
		}
		var missingKey *event.MissingKeyError
		if !errors.As(err, &missingKey) {
			return "", nil, err
		}
	}
	return "", &IngestResult{
		Outcome: MissingDependency,
		EventID: peek.ID,
		Missing: append([]ref.EventID(nil), peek.AuthEvents...),
		Reason:  "room is unknown; the create event must be ingested first",
	}, nil
}

// ensureVersion returns the room's version, recovering it from the
// stored create event when this process has not ingested one (the room
// predates a restart). Placement guarantees the create event is stored
// before anything else in the room, so it is the first record of the
// by-room scan. Returns "" when the store has nothing for the room.
func (e *Engine) ensureVersion(ctx context.Context, actor *roomActor, roomID ref.RoomID) (event.RoomVersion, error) {
	if actor.version != "" {
		return actor.version, nil
	}
	var version event.RoomVersion
	err := e.store.ByRoom(ctx, roomID, func(rec *store.Record) error {
		if rec.Event.IsCreate() {
			var content event.CreateContent
			if err := rec.Event.DecodeContent(&content); err == nil {
				version = content.RoomVersion
			}
		}
		return store.ErrStop
	})
	if err != nil {
		return "", fmt.Errorf("engine: recovering version for room %s: %w", roomID, err)
	}
	actor.version = version
	return version, nil
}

// park holds a raw event in the pending queue under each of its
// missing dependencies, with an expiry so an abandoned fetch cannot
// grow the queue forever. Expiry drops the queue entry only — the
// event was never rejected and a fresh ingest will take it.
func (e *Engine) park(actor *roomActor, raw []byte, missing []ref.EventID) {
	entry := &pendingEvent{raw: raw}
	entry.timer = e.clock.AfterFunc(e.pendingTimeout, func() {
		actor.mu.Lock()
		defer actor.mu.Unlock()
		actor.removeLocked(entry)
		e.logger.Warn("pending event expired waiting for dependencies",
			"missing", missing)
	})
	for _, id := range missing {
		actor.pending[id] = append(actor.pending[id], entry)
	}
}

// drain replays pending events that were waiting on the event that
// just landed. Called with the room lock held; replays recurse
// through ingestLocked and may drain further.
func (e *Engine) drain(ctx context.Context, actor *roomActor, arrived ref.EventID) {
	entries := actor.pending[arrived]
	if len(entries) == 0 {
		return
	}
	// Unpark each entry from every dependency list before replaying:
	// the replay may re-park the event under its still-missing IDs, and
	// a stale copy left in another list would never expire (its timer
	// is stopped here).
	for _, entry := range entries {
		entry.timer.Stop()
		actor.removeLocked(entry)
	}
	for _, entry := range entries {
		peek, err := event.Decode(entry.raw)
		if err != nil {
			continue
		}
		result, err := e.ingestLocked(ctx, actor, entry.raw, peek)
		if err != nil {
			e.logger.Error("replaying pending event failed",
				"event_id", peek.ID, "error", err)
			continue
		}
		e.logger.Debug("replayed pending event",
			"event_id", peek.ID, "outcome", result.Outcome)
	}
}

// stateBefore computes the room state at an event's position: the
// resolution of its parents' post-states.
func (e *Engine) stateBefore(ctx context.Context, version event.RoomVersion, ev *event.Event) (event.StateMap, error) {
	if ev.IsCreate() {
		return make(event.StateMap), nil
	}
	states := make([]event.StateMap, 0, len(ev.PrevEvents))
	for _, parent := range ev.PrevEvents {
		state, err := e.stateAfter(ctx, version, parent)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if len(states) == 1 {
		return states[0], nil
	}
	return e.resolver(ctx).Resolve(version, states)
}

// stateAfter computes (or recalls) the room state immediately after
// an event, cached under the event's own DAG position. Accepted state
// events occupy their slot; rejected and unauthorized events pass
// their prior state through unchanged.
func (e *Engine) stateAfter(ctx context.Context, version event.RoomVersion, id ref.EventID) (event.StateMap, error) {
	return e.cache.GetOrResolve(resolve.Key([]ref.EventID{id}), func() (event.StateMap, error) {
		rec, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		before, err := e.stateBefore(ctx, version, rec.Event)
		if err != nil {
			return nil, err
		}
		if rec.Rejected || !rec.Event.IsState() {
			return before, nil
		}
		authorized, err := auth.Authorize(version, rec.Event, before, e.fetch(ctx))
		if err != nil {
			return nil, err
		}
		if !authorized {
			return before, nil
		}
		after := before.Clone()
		after[rec.Event.Slot()] = id
		return after, nil
	})
}

// CurrentState returns the room's authoritative state: the resolution
// of the post-states of every forward extremity, cached by DAG
// position. Unknown rooms get an empty state.
func (e *Engine) CurrentState(ctx context.Context, roomID ref.RoomID) (event.StateMap, error) {
	actor := e.actor(roomID)
	actor.mu.Lock()
	defer actor.mu.Unlock()

	tips, err := e.manager.Extremities(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(tips) == 0 {
		return make(event.StateMap), nil
	}
	version, err := e.ensureVersion(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if len(tips) == 1 {
		return e.stateAfter(ctx, version, tips[0])
	}
	return e.cache.GetOrResolve(resolve.Key(tips), func() (event.StateMap, error) {
		states := make([]event.StateMap, 0, len(tips))
		for _, tip := range tips {
			state, err := e.stateAfter(ctx, version, tip)
			if err != nil {
				return nil, err
			}
			states = append(states, state)
		}
		return e.resolver(ctx).Resolve(version, states)
	})
}

// IsAuthorized exposes the authorization engine for pre-flight checks
// on locally minted events, before they are signed and broadcast.
func (e *Engine) IsAuthorized(ctx context.Context, ev *event.Event, state event.StateMap) (bool, error) {
	actor := e.actor(ev.RoomID)
	actor.mu.Lock()
	version, err := e.ensureVersion(ctx, actor, ev.RoomID)
	actor.mu.Unlock()
	if err != nil {
		return false, err
	}
	if version == "" {
		if !ev.IsCreate() {
			return false, fmt.Errorf("engine: room %s is unknown", ev.RoomID)
		}
		var content event.CreateContent
		if err := ev.DecodeContent(&content); err != nil {
			return false, fmt.Errorf("engine: undecodable create content: %w", err)
		}
		version = content.RoomVersion
	}
	return auth.Authorize(version, ev, state, e.fetch(ctx))
}

// PendingCount reports how many events are parked waiting for
// dependencies in the given room. Observability for tests and
// operators.
func (e *Engine) PendingCount(roomID ref.RoomID) int {
	actor := e.actor(roomID)
	actor.mu.Lock()
	defer actor.mu.Unlock()
	seen := make(map[*pendingEvent]struct{})
	for _, entries := range actor.pending {
		for _, entry := range entries {
			seen[entry] = struct{}{}
		}
	}
	return len(seen)
}
