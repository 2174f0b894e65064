// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth decides whether an event is permitted in a given room
// state.
//
// [Authorize] is a pure function of (room version, event, state): no
// hidden inputs, no clock, no store access beyond the caller-supplied
// fetch closure resolving the state map's event IDs. Every federated
// server evaluating the same arguments must reach the identical
// verdict, so determinism here is load-bearing.
//
// A rule violation is a false verdict, not an error. The caller marks
// the event soft-failed: retained in the DAG for graph continuity but
// excluded from authoritative state. Errors are reserved for fetch
// failures, which make the verdict unknowable rather than negative.
package auth
