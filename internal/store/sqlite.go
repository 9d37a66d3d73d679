package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nidhogg/alice/internal/transcript"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    turn_count  INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'ongoing',
    reason      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS transcript_lines (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    run_id      TEXT NOT NULL,
    turn        INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    actor       TEXT NOT NULL DEFAULT '',
    tool        TEXT NOT NULL DEFAULT '',
    target      TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL,
    line_time   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_lines_run ON transcript_lines (run_id, seq);
`

// SQLite is a file-backed History for runs without Postgres.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	logger.Info("SQLite opened", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Write(ctx context.Context, line transcript.Line) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, started_at) VALUES (?, ?)`,
		line.RunID, time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("ensure run %s: %w", line.RunID, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transcript_lines
			(id, run_id, turn, kind, actor, tool, target, content, description, line_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.ID, line.RunID, line.Turn, string(line.Kind), line.Actor, line.Tool,
		line.Target, line.Content, line.Description, line.Time.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save transcript line: %w", err)
	}
	return nil
}

func (s *SQLite) FinishRun(ctx context.Context, runID string, turnCount int, status, reason string) error {
	now := time.Now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, ended_at, turn_count, status, reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = excluded.ended_at,
			turn_count = excluded.turn_count,
			status = excluded.status,
			reason = excluded.reason`,
		runID, now, now, turnCount, status, reason,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

func (s *SQLite) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, turn_count, status, reason
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&r.ID, &started, &ended, &r.TurnCount, &r.Status, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLite) Lines(ctx context.Context, runID string, limit int) ([]transcript.Line, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, turn, kind, actor, tool, target, content, description, line_time
		FROM transcript_lines
		WHERE run_id = ?
		ORDER BY seq ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("get transcript %s: %w", runID, err)
	}
	defer rows.Close()

	var lines []transcript.Line
	for rows.Next() {
		var l transcript.Line
		var kind string
		var at int64
		if err := rows.Scan(&l.ID, &l.RunID, &l.Turn, &kind, &l.Actor, &l.Tool,
			&l.Target, &l.Content, &l.Description, &at); err != nil {
			return nil, fmt.Errorf("scan transcript line: %w", err)
		}
		l.Kind = transcript.Kind(kind)
		l.Time = time.Unix(0, at).UTC()
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var (
	_ History = (*Store)(nil)
	_ History = (*SQLite)(nil)
)
