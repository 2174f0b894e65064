// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Memory is an in-memory Store. Used by tests and by the replay CLI,
// where durability is pointless.
type Memory struct {
	mu      sync.RWMutex
	records map[ref.EventID]*Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[ref.EventID]*Record)}
}

func (m *Memory) Put(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Event.ID]; ok {
		return nil
	}
	stored := *rec
	m.records[rec.Event.ID] = &stored
	return nil
}

func (m *Memory) Get(ctx context.Context, id ref.EventID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	// Shallow copy: the Event pointer is shared, per Record's
	// read-only contract.
	copied := *rec
	return &copied, nil
}

func (m *Memory) ByRoom(ctx context.Context, roomID ref.RoomID, fn func(*Record) error) error {
	m.mu.RLock()
	matched := make([]*Record, 0)
	for _, rec := range m.records {
		if rec.Event.RoomID == roomID {
			copied := *rec
			matched = append(matched, &copied)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Depth != matched[j].Depth {
			return matched[i].Depth < matched[j].Depth
		}
		return matched[i].Event.ID.Less(matched[j].Event.ID)
	})
	for _, rec := range matched {
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, id ref.EventID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok, nil
}

func (m *Memory) MarkRejected(ctx context.Context, id ref.EventID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	rec.Rejected = true
	rec.RejectReason = reason
	return nil
}

func (m *Memory) Close() error {
	return nil
}
