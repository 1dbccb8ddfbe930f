// Package rtsqlite persists engine events and snapshots to SQLite,
// using the pure-Go driver so captures work without cgo.
package rtsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
)

// Store implements rtstore.EventSink and rtstore.SnapshotStore over a
// single SQLite database. One store serves one simulation run; the
// run id is stamped on every row.
type Store struct {
	db    *sql.DB
	runID string
}

// Open opens (creating if necessary) the database at path and applies
// the schema. Use ":memory:" for tests.
func Open(ctx context.Context, path, runID string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// The pure-Go driver serializes access per connection; a single
	// connection avoids table-lock errors under the engine's
	// emit-per-mutation write pattern.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, runID: runID}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
PRAGMA journal_mode = WAL;

CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  tick INTEGER NOT NULL,
  phase TEXT NOT NULL,
  type TEXT NOT NULL,
  agent_id TEXT NOT NULL DEFAULT '',
  level INTEGER NOT NULL,
  message TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS events_run_tick ON events(run_id, tick);
CREATE INDEX IF NOT EXISTS events_run_type ON events(run_id, type);

CREATE TABLE IF NOT EXISTS snapshots (
  run_id TEXT NOT NULL,
  tick INTEGER NOT NULL,
  phase TEXT NOT NULL,
  phase_tick INTEGER NOT NULL,
  state TEXT NOT NULL,
  PRIMARY KEY (run_id, tick)
);
`)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EmitEvent appends one event row.
func (s *Store) EmitEvent(ctx context.Context, e rtstore.Entry) error {
	payload := []byte("{}")
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = b
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO events (run_id, tick, phase, type, agent_id, level, message, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, e.Tick, string(e.Phase), string(e.Type), e.AgentID,
		int(e.Level), e.Message, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the snapshot for its tick.
func (s *Store) SaveSnapshot(ctx context.Context, snap rtstore.Snapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO snapshots (run_id, tick, phase, phase_tick, state)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (run_id, tick) DO UPDATE SET
  phase = excluded.phase,
  phase_tick = excluded.phase_tick,
  state = excluded.state`,
		s.runID, snap.Tick, string(snap.Phase), snap.PhaseTick, string(state),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// EventCount returns the number of stored events for the run,
// optionally filtered by type.
func (s *Store) EventCount(ctx context.Context, eventType rtstore.EventType) (int, error) {
	q := `SELECT COUNT(*) FROM events WHERE run_id = ?`
	args := []any{s.runID}
	if eventType != "" {
		q += ` AND type = ?`
		args = append(args, string(eventType))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// EventsOfType loads the stored events of one type, in insertion order.
func (s *Store) EventsOfType(ctx context.Context, eventType rtstore.EventType) ([]rtstore.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tick, phase, type, agent_id, level, message, payload
FROM events WHERE run_id = ? AND type = ? ORDER BY id`,
		s.runID, string(eventType),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []rtstore.Entry
	for rows.Next() {
		var (
			e          rtstore.Entry
			phase, typ string
			level      int
			payload    string
		)
		if err := rows.Scan(&e.Tick, &phase, &typ, &e.AgentID, &level, &e.Message, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Phase = rtconsensus.PhaseKind(phase)
		e.Type = rtstore.EventType(typ)
		e.Level = slog.Level(level)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastSnapshot loads the snapshot with the highest tick for the run.
func (s *Store) LastSnapshot(ctx context.Context) (rtstore.Snapshot, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
SELECT state FROM snapshots WHERE run_id = ? ORDER BY tick DESC LIMIT 1`,
		s.runID,
	).Scan(&state)
	if err != nil {
		return rtstore.Snapshot{}, fmt.Errorf("load last snapshot: %w", err)
	}

	var snap rtstore.Snapshot
	if err := json.Unmarshal([]byte(state), &snap); err != nil {
		return rtstore.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
