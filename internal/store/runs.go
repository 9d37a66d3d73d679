package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/alice/internal/transcript"
)

// Write implements transcript.Sink. The run row is created on first use.
func (s *Store) Write(ctx context.Context, line transcript.Line) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO runs (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, line.RunID); err != nil {
		return fmt.Errorf("ensure run %s: %w", line.RunID, err)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO transcript_lines (id, run_id, turn, kind, actor, tool, target, content, description, line_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		line.ID, line.RunID, line.Turn, string(line.Kind), line.Actor, line.Tool,
		line.Target, line.Content, line.Description, line.Time,
	)
	if err != nil {
		return fmt.Errorf("save transcript line: %w", err)
	}
	return nil
}

// FinishRun records how a run ended.
func (s *Store) FinishRun(ctx context.Context, runID string, turnCount int, status, reason string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO runs (id, ended_at, turn_count, status, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			turn_count = EXCLUDED.turn_count,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason`,
		runID, time.Now().UTC(), turnCount, status, reason,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Runs lists archived runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, started_at, ended_at, turn_count, status, reason
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.EndedAt, &r.TurnCount, &r.Status, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Lines returns the first limit lines of a run in publish order.
func (s *Store) Lines(ctx context.Context, runID string, limit int) ([]transcript.Line, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, run_id, turn, kind, actor, tool, target, content, description, line_time
		FROM transcript_lines
		WHERE run_id = $1
		ORDER BY seq ASC
		LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("get transcript %s: %w", runID, err)
	}
	defer rows.Close()

	var lines []transcript.Line
	for rows.Next() {
		var l transcript.Line
		var kind string
		if err := rows.Scan(&l.ID, &l.RunID, &l.Turn, &kind, &l.Actor, &l.Tool,
			&l.Target, &l.Content, &l.Description, &l.Time); err != nil {
			return nil, fmt.Errorf("scan transcript line: %w", err)
		}
		l.Kind = transcript.Kind(kind)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
