// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve merges divergent room-state branches into one
// authorized state map.
//
// When a room's DAG forks, the branches can disagree about who is a
// member, who holds power, and what the room's settings are. The
// resolver takes the branch states at a join point and computes a
// single merged StateMap, deterministically: the same room version,
// predecessor states, and event graph always produce a bit-identical
// result, regardless of which server runs the computation or the
// order the branches arrived in. Convergence across mutually
// distrusting servers depends on nothing else.
//
// The algorithm is the v2 style: slots all branches agree on pass
// through untouched; conflicting power events are ordered by their
// authorization dependencies and replayed through the authorization
// engine against an accumulating working state; remaining conflicting
// events are ordered along the power-event mainline and replayed the
// same way. Events that fail authorization during the replay are
// dropped from state (soft-failed), never from the graph.
//
// [Cache] memoizes resolved states keyed by DAG position. Entries are
// immutable; they are superseded by new entries, never edited.
package resolve
