// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the ingest front door: it wires the validator,
// DAG manager, authorization engine, resolver, and state cache into
// one pipeline behind a per-room lock.
//
// Events arrive concurrently from many sources and many rooms. Rooms
// are independent, so different rooms process fully in parallel.
// Within one room every placement and resolution runs under the
// room's lock: the room behaves as a single sequential actor, which
// makes state transitions linearizable with respect to placement
// order and keeps two resolutions from racing on the cache.
//
// An event whose dependencies are missing is not rejected: it parks
// in the room's pending queue keyed by the missing IDs and is
// replayed automatically when the dependency arrives, or expires
// after a timeout so the queue cannot grow without bound. The
// federation layer is told which IDs to fetch via the ingest result.
package engine
