// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
	"github.com/bureau-foundation/roomstate/store"
)

// MissingDependencyError reports that an event cannot be placed
// because some of its referenced parents or auth events are not yet
// stored. Transient: the federation layer fetches the missing events
// and placement is retried.
type MissingDependencyError struct {
	EventID ref.EventID
	Missing []ref.EventID
}

func (e *MissingDependencyError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = id.String()
	}
	return fmt.Sprintf("event %s depends on unstored events: %s", e.EventID, strings.Join(ids, ", "))
}

// PlacementResult describes where an event landed in the graph.
type PlacementResult struct {
	// Depth is 1 + max(parent depths), or 1 for the create event.
	Depth int64

	// Extremities is the room's forward-extremity set after
	// placement, sorted by event ID.
	Extremities []ref.EventID

	// Duplicate is true when the event was already placed. The other
	// fields still describe the current graph.
	Duplicate bool
}

// Manager tracks depth and forward extremities for every room seen by
// this process. Structure is derived from the event store; the
// extremity sets live in memory and are rebuilt from a by-room store
// scan the first time a room is touched after a restart.
//
// Manager is safe for concurrent use across rooms. Within one room
// the caller (the ingest engine) serializes Place calls; the internal
// lock only protects the extremity maps.
type Manager struct {
	store store.Store

	mu          sync.Mutex
	extremities map[ref.RoomID]map[ref.EventID]struct{}
}

// NewManager returns a manager over the given store with no known
// extremities.
func NewManager(s store.Store) *Manager {
	return &Manager{
		store:       s,
		extremities: make(map[ref.RoomID]map[ref.EventID]struct{}),
	}
}

// Place records an event in the graph: verifies its parents and auth
// events are stored, computes its depth, stores it, and updates the
// room's forward-extremity set (parents lose tip status, the new
// event gains it).
//
// Returns *MissingDependencyError if any referenced event is not
// stored; nothing is placed in that case. Placing an already stored
// event is a no-op reported via PlacementResult.Duplicate.
func (m *Manager) Place(ctx context.Context, ev *event.Event) (*PlacementResult, error) {
	if existing, err := m.store.Get(ctx, ev.ID); err == nil {
		tips, err := m.Extremities(ctx, ev.RoomID)
		if err != nil {
			return nil, err
		}
		return &PlacementResult{
			Depth:       existing.Depth,
			Extremities: tips,
			Duplicate:   true,
		}, nil
	}

	// Every referenced event must be stored before placement. Report
	// all missing IDs at once so the federation layer can fetch them
	// in one round.
	var missing []ref.EventID
	seen := make(map[ref.EventID]struct{})
	depth := int64(1)
	for _, parent := range ev.PrevEvents {
		if _, ok := seen[parent]; ok {
			continue
		}
		seen[parent] = struct{}{}
		rec, err := m.store.Get(ctx, parent)
		if err != nil {
			if isNotFound(err) {
				missing = append(missing, parent)
				continue
			}
			return nil, fmt.Errorf("dag: loading parent %s: %w", parent, err)
		}
		if rec.Depth+1 > depth {
			depth = rec.Depth + 1
		}
	}
	for _, authID := range ev.AuthEvents {
		if _, ok := seen[authID]; ok {
			continue
		}
		seen[authID] = struct{}{}
		ok, err := m.store.Exists(ctx, authID)
		if err != nil {
			return nil, fmt.Errorf("dag: checking auth event %s: %w", authID, err)
		}
		if !ok {
			missing = append(missing, authID)
		}
	}
	if len(missing) > 0 {
		sortIDs(missing)
		return nil, &MissingDependencyError{EventID: ev.ID, Missing: missing}
	}

	if err := m.store.Put(ctx, &store.Record{Event: ev, Depth: depth}); err != nil {
		return nil, fmt.Errorf("dag: storing event %s: %w", ev.ID, err)
	}

	m.mu.Lock()
	tips, err := m.tipsLocked(ctx, ev.RoomID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	for _, parent := range ev.PrevEvents {
		delete(tips, parent)
	}
	tips[ev.ID] = struct{}{}
	m.mu.Unlock()

	sorted, err := m.Extremities(ctx, ev.RoomID)
	if err != nil {
		return nil, err
	}
	return &PlacementResult{
		Depth:       depth,
		Extremities: sorted,
	}, nil
}

// Extremities returns the room's forward extremities, sorted by event
// ID. Empty for rooms with no stored events.
func (m *Manager) Extremities(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tips, err := m.tipsLocked(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]ref.EventID, 0, len(tips))
	for id := range tips {
		out = append(out, id)
	}
	sortIDs(out)
	return out, nil
}

// tipsLocked returns the live extremity set for a room, rebuilding it
// from the store on the room's first touch after process start: every
// stored event is a tip unless some other stored event names it as a
// parent. Caller holds m.mu.
func (m *Manager) tipsLocked(ctx context.Context, roomID ref.RoomID) (map[ref.EventID]struct{}, error) {
	if tips, ok := m.extremities[roomID]; ok {
		return tips, nil
	}
	tips := make(map[ref.EventID]struct{})
	referenced := make(map[ref.EventID]struct{})
	err := m.store.ByRoom(ctx, roomID, func(rec *store.Record) error {
		tips[rec.Event.ID] = struct{}{}
		for _, parent := range rec.Event.PrevEvents {
			referenced[parent] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dag: rebuilding extremities for %s: %w", roomID, err)
	}
	for id := range referenced {
		delete(tips, id)
	}
	m.extremities[roomID] = tips
	return tips, nil
}

// AncestorsUntil walks backwards from the given events along
// prev_events, stopping at (and excluding) any event in the stop set.
// The starting events themselves are included unless stopped. Returns
// records in deterministic order: descending depth, then ascending
// event ID. Used by the resolver to bound a conflict search.
func (m *Manager) AncestorsUntil(ctx context.Context, from []ref.EventID, stop map[ref.EventID]struct{}) ([]*store.Record, error) {
	visited := make(map[ref.EventID]struct{})
	var out []*store.Record

	frontier := make([]ref.EventID, 0, len(from))
	frontier = append(frontier, from...)
	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]

		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		if stop != nil {
			if _, ok := stop[id]; ok {
				continue
			}
		}

		rec, err := m.store.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return nil, &MissingDependencyError{EventID: id, Missing: []ref.EventID{id}}
			}
			return nil, fmt.Errorf("dag: loading ancestor %s: %w", id, err)
		}
		out = append(out, rec)
		frontier = append(frontier, rec.Event.PrevEvents...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth > out[j].Depth
		}
		return out[i].Event.ID.Less(out[j].Event.ID)
	})
	return out, nil
}

func sortIDs(ids []ref.EventID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
