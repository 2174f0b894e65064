// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the standard SQLite connection pool for
// roomstate's durable storage.
//
// It wraps zombiezen.com/go/sqlite with production defaults suited to
// an append-only event store: WAL journal mode (reads never block the
// single writer), NORMAL synchronous for process-crash durability
// without fsync-per-commit overhead, memory-mapped I/O for read
// performance, and a busy timeout to absorb write contention.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for
// the duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across OS crashes or power failure — the source of
//     truth for federated events is the remote servers that also hold
//     them, so a re-backfill recovers anything lost.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: the store manages referential integrity
//     explicitly; events reference parents that may not be stored yet.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped I/O for reads.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:     "/var/roomstate/events.db",
//	    PoolSize: 8,
//	    Logger:   logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
package sqlitepool
