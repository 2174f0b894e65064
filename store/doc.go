// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists validated room events.
//
// The store is append-only over event content: an event's bytes never
// change after Put, because its ID is a hash of those bytes. The only
// mutable attribute is the rejection mark, recorded when authorization
// soft-fails an event. Rejected events are retained, not deleted —
// later events may legitimately reference them as DAG parents.
//
// Two implementations are provided: [Memory] for tests and ephemeral
// use, and [SQLite] for durable storage backed by lib/sqlitepool with
// zstd-compressed event payloads.
package store
