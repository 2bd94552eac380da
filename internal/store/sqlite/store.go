package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fleet_traffic/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fleet_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	tick INTEGER NOT NULL,
	kind TEXT NOT NULL,
	agent_id INTEGER NOT NULL,
	vertex INTEGER NOT NULL,
	detail TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fleet_events_agent ON fleet_events(agent_id, seq);
CREATE INDEX IF NOT EXISTS idx_fleet_events_tick ON fleet_events(tick);

CREATE TABLE IF NOT EXISTS tick_reports (
	tick INTEGER PRIMARY KEY,
	agents INTEGER NOT NULL,
	granted INTEGER NOT NULL,
	denied INTEGER NOT NULL,
	resumed INTEGER NOT NULL,
	released INTEGER NOT NULL,
	deadlocks INTEGER NOT NULL,
	healed INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// AppendEvents writes a batch in one transaction. Events whose id is already
// stored are skipped.
func (s *Store) AppendEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx append events: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT OR IGNORE INTO fleet_events(id, tick, kind, agent_id, vertex, detail, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare append events: %w", err)
	}
	defer stmt.Close()

	for _, evt := range events {
		if evt.ID == "" {
			return fmt.Errorf("append event: empty id for %s agent=%d", evt.Kind, evt.AgentID)
		}
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(
			ctx,
			evt.ID, int64(evt.Tick), string(evt.Kind), int(evt.AgentID), int(evt.Vertex),
			string(evt.Detail()), evt.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", evt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append events: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, tick, kind, agent_id, vertex, detail, created_at
		FROM fleet_events
		ORDER BY seq DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows, limit)
}

func (s *Store) ListAgentEvents(ctx context.Context, agentID domain.AgentID, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, tick, kind, agent_id, vertex, detail, created_at
		FROM fleet_events
		WHERE agent_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		int(agentID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list agent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows, limit)
}

func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fleet_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *Store) RecordTick(ctx context.Context, report domain.TickReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO tick_reports(
			tick, agents, granted, denied, resumed, released, deadlocks, healed, duration_ns, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(report.Tick), report.Agents, report.Granted, report.Denied, report.Resumed,
		report.Released, report.Deadlocks, report.Healed, report.Duration.Nanoseconds(),
		report.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record tick %d: %w", report.Tick, err)
	}
	return nil
}

// ListTicks returns the most recent tick reports, newest first.
func (s *Store) ListTicks(ctx context.Context, limit int) ([]domain.TickReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT tick, agents, granted, denied, resumed, released, deadlocks, healed, duration_ns, created_at
		FROM tick_reports
		ORDER BY tick DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TickReport, 0, limit)
	for rows.Next() {
		var item domain.TickReport
		var tick, durationNS, createdAt int64
		if err := rows.Scan(
			&tick, &item.Agents, &item.Granted, &item.Denied, &item.Resumed,
			&item.Released, &item.Deadlocks, &item.Healed, &durationNS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		item.Tick = uint64(tick)
		item.Duration = time.Duration(durationNS)
		item.CreatedAt = unixMilliToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return result, nil
}

type eventDetail struct {
	From        *domain.VertexID  `json:"from"`
	Target      *domain.VertexID  `json:"target"`
	Destination *domain.VertexID  `json:"destination"`
	Path        []domain.VertexID `json:"path"`
}

func scanEvents(rows *sql.Rows, limit int) ([]domain.Event, error) {
	result := make([]domain.Event, 0, limit)
	for rows.Next() {
		var item domain.Event
		var tick, createdAt int64
		var kind, detail string
		var agentID, vertex int
		if err := rows.Scan(&item.ID, &tick, &kind, &agentID, &vertex, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var d eventDetail
		if err := json.Unmarshal([]byte(detail), &d); err != nil {
			return nil, fmt.Errorf("decode event %s detail: %w", item.ID, err)
		}
		item.Tick = uint64(tick)
		item.Kind = domain.EventKind(kind)
		item.AgentID = domain.AgentID(agentID)
		item.Vertex = domain.VertexID(vertex)
		item.From = d.From
		item.Target = d.Target
		item.Destination = d.Destination
		item.Path = d.Path
		item.CreatedAt = unixMilliToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

func unixMilliToTime(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
