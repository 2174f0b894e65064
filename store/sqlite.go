// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
	"github.com/bureau-foundation/roomstate/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id      TEXT PRIMARY KEY,
	room_id       TEXT NOT NULL,
	depth         INTEGER NOT NULL,
	rejected      INTEGER NOT NULL DEFAULT 0,
	reject_reason TEXT NOT NULL DEFAULT '',
	payload       BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS events_by_room ON events (room_id, depth);
`

// SQLite is a durable Store backed by lib/sqlitepool. Event payloads
// are stored as zstd-compressed canonical CBOR; placement metadata
// (depth, rejection) lives in plain columns for querying.
type SQLite struct {
	pool    *sqlitepool.Pool
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenSQLite opens (creating if needed) the event database at path.
func OpenSQLite(path string, poolSize int, logger *slog.Logger) (*SQLite, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	// EncodeAll/DecodeAll on shared instances are safe for concurrent
	// use; only the streaming APIs are single-goroutine.
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: zstd decoder: %w", err)
	}

	return &SQLite{pool: pool, encoder: encoder, decoder: decoder}, nil
}

func (s *SQLite) Put(ctx context.Context, rec *Record) error {
	encoded, err := rec.Event.Encode()
	if err != nil {
		return fmt.Errorf("store: encoding event %s: %w", rec.Event.ID, err)
	}
	payload := s.encoder.EncodeAll(encoded, nil)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO events (event_id, room_id, depth, rejected, reject_reason, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.Event.ID.String(),
				rec.Event.RoomID.String(),
				rec.Depth,
				boolToInt(rec.Rejected),
				rec.RejectReason,
				payload,
			},
		})
	if err != nil {
		return fmt.Errorf("store: inserting event %s: %w", rec.Event.ID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id ref.EventID) (*Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var rec *Record
	err = sqlitex.Execute(conn, `
		SELECT depth, rejected, reject_reason, payload FROM events WHERE event_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, payload)
				encoded, err := s.decoder.DecodeAll(payload, nil)
				if err != nil {
					return fmt.Errorf("decompressing event %s: %w", id, err)
				}
				ev, err := event.Decode(encoded)
				if err != nil {
					return fmt.Errorf("decoding event %s: %w", id, err)
				}
				rec = &Record{
					Event:        ev,
					Depth:        stmt.ColumnInt64(0),
					Rejected:     stmt.ColumnInt64(1) != 0,
					RejectReason: stmt.ColumnText(2),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (s *SQLite) Exists(ctx context.Context, id ref.EventID) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM events WHERE event_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("store: %w", err)
	}
	return found, nil
}

func (s *SQLite) ByRoom(ctx context.Context, roomID ref.RoomID, fn func(*Record) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var fnErr error
	err = sqlitex.Execute(conn, `
		SELECT depth, rejected, reject_reason, payload FROM events
		WHERE room_id = ? ORDER BY depth, event_id`,
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, payload)
				encoded, err := s.decoder.DecodeAll(payload, nil)
				if err != nil {
					return fmt.Errorf("decompressing stored event: %w", err)
				}
				ev, err := event.Decode(encoded)
				if err != nil {
					return fmt.Errorf("decoding stored event: %w", err)
				}
				rec := &Record{
					Event:        ev,
					Depth:        stmt.ColumnInt64(0),
					Rejected:     stmt.ColumnInt64(1) != 0,
					RejectReason: stmt.ColumnText(2),
				}
				if err := fn(rec); err != nil {
					fnErr = err
					return err
				}
				return nil
			},
		})
	if err != nil {
		if errors.Is(fnErr, ErrStop) {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		return fmt.Errorf("store: scanning room %s: %w", roomID, err)
	}
	return nil
}

func (s *SQLite) MarkRejected(ctx context.Context, id ref.EventID, reason string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE events SET rejected = 1, reject_reason = ? WHERE event_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{reason, id.String()},
		})
	if err != nil {
		return fmt.Errorf("store: marking event %s rejected: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.pool.Close()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
