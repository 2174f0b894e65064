// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
	"github.com/bureau-foundation/roomstate/resolve"
)

func stateWith(id string) event.StateMap {
	return event.StateMap{
		event.StateKey{Type: ref.TypeCreate, Key: ""}: ref.MustParseEventID("$" + id),
	}
}

func TestKeyIsOrderInsensitive(t *testing.T) {
	a := ref.MustParseEventID("$a")
	b := ref.MustParseEventID("$b")
	if resolve.Key([]ref.EventID{a, b}) != resolve.Key([]ref.EventID{b, a}) {
		t.Error("extremity order changed the cache key")
	}
	if resolve.Key([]ref.EventID{a}) == resolve.Key([]ref.EventID{b}) {
		t.Error("different extremity sets share a key")
	}
}

func TestCacheGetPut(t *testing.T) {
	cache := resolve.NewCache(4)
	state := stateWith("create")

	if _, ok := cache.Get("k1"); ok {
		t.Fatal("empty cache reported a hit")
	}
	cache.Put("k1", state)
	got, ok := cache.Get("k1")
	if !ok {
		t.Fatal("cache missed a stored key")
	}
	if !got.Equal(state) {
		t.Error("cached state differs from stored state")
	}

	// Mutating the returned copy must not disturb the entry.
	got[event.StateKey{Type: ref.TypeName, Key: ""}] = ref.MustParseEventID("$intruder")
	again, _ := cache.Get("k1")
	if !again.Equal(state) {
		t.Error("mutation through a Get result reached the cache entry")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := resolve.NewCache(2)
	cache.Put("k1", stateWith("one"))
	cache.Put("k2", stateWith("two"))

	// Touch k1 so k2 is the eviction candidate.
	cache.Get("k1")
	cache.Put("k3", stateWith("three"))

	if _, ok := cache.Get("k2"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := cache.Get("k1"); !ok {
		t.Error("recently used entry was evicted")
	}
	if cache.Len() != 2 {
		t.Errorf("Len = %d, want 2", cache.Len())
	}
}

func TestGetOrResolveComputesOnce(t *testing.T) {
	cache := resolve.NewCache(4)
	calls := 0
	compute := func() (event.StateMap, error) {
		calls++
		return stateWith("computed"), nil
	}

	for range 3 {
		state, err := cache.GetOrResolve("k1", compute)
		if err != nil {
			t.Fatalf("GetOrResolve: %v", err)
		}
		if !state.Equal(stateWith("computed")) {
			t.Error("GetOrResolve returned the wrong state")
		}
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}
}

func TestGetOrResolveErrorCommitsNothing(t *testing.T) {
	cache := resolve.NewCache(4)
	failing := errors.New("walk aborted")

	_, err := cache.GetOrResolve("k1", func() (event.StateMap, error) {
		return nil, fmt.Errorf("resolving: %w", failing)
	})
	if !errors.Is(err, failing) {
		t.Fatalf("GetOrResolve error = %v, want wrapped original", err)
	}
	if cache.Len() != 0 {
		t.Error("failed computation left an entry behind")
	}

	// A later attempt succeeds and caches.
	state, err := cache.GetOrResolve("k1", func() (event.StateMap, error) {
		return stateWith("recovered"), nil
	})
	if err != nil {
		t.Fatalf("GetOrResolve retry: %v", err)
	}
	if !state.Equal(stateWith("recovered")) {
		t.Error("retry returned the wrong state")
	}
}
