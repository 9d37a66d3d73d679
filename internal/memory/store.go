package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// GraphArchive mirrors memory streams into Neo4j as
// (:Resident)-[:REMEMBERS]->(:Memory) with NEXT links between entries.
type GraphArchive struct {
	driver neo4j.DriverWithContext
	runID  string
	logger *zap.Logger
}

// NewGraphArchive connects to Neo4j.
func NewGraphArchive(uri, user, password, runID string, logger *zap.Logger) (*GraphArchive, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &GraphArchive{driver: driver, runID: runID, logger: logger}, nil
}

// NewGraphArchiveFromDriver shares an existing driver.
func NewGraphArchiveFromDriver(driver neo4j.DriverWithContext, runID string, logger *zap.Logger) *GraphArchive {
	return &GraphArchive{driver: driver, runID: runID, logger: logger}
}

func (a *GraphArchive) Close(ctx context.Context) error {
	return a.driver.Close(ctx)
}

// Driver returns the underlying Neo4j driver for shared use.
func (a *GraphArchive) Driver() neo4j.DriverWithContext {
	return a.driver
}

func (a *GraphArchive) Ping(ctx context.Context) error {
	return a.driver.VerifyConnectivity(ctx)
}

// Archive stores one entry and links it after the owner's previous one.
func (a *GraphArchive) Archive(ctx context.Context, owner string, e Entry) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (r:Resident {name: $owner, run: $run})
		 CREATE (m:Memory {
			id: $id, run: $run, owner: $owner, seq: $seq,
			t: $t, kind: $kind, content: $content, created_at: datetime()
		 })
		 MERGE (r)-[:REMEMBERS]->(m)
		 WITH m
		 OPTIONAL MATCH (p:Memory {run: $run, owner: $owner, seq: $prev})
		 FOREACH (_ IN CASE WHEN p IS NULL THEN [] ELSE [1] END | MERGE (p)-[:NEXT]->(m))`,
		map[string]interface{}{
			"id":      uuid.New().String(),
			"run":     a.runID,
			"owner":   owner,
			"seq":     int64(e.Seq),
			"prev":    int64(e.Seq - 1),
			"t":       e.Timestamp,
			"kind":    string(e.Kind),
			"content": e.Content,
		})
	if err != nil {
		return fmt.Errorf("archive memory: %w", err)
	}
	return nil
}

// Memories returns the owner's last limit archived entries, oldest first.
func (a *GraphArchive) Memories(ctx context.Context, owner string, limit int) ([]Entry, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Resident {name: $owner, run: $run})-[:REMEMBERS]->(m:Memory)
		 RETURN m.seq, m.t, m.kind, m.content
		 ORDER BY m.seq DESC LIMIT $limit`,
		map[string]interface{}{"owner": owner, "run": a.runID, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}

	var entries []Entry
	for result.Next(ctx) {
		rec := result.Record()
		seq, _ := rec.Get("m.seq")
		t, _ := rec.Get("m.t")
		kind, _ := rec.Get("m.kind")
		content, _ := rec.Get("m.content")
		entries = append(entries, Entry{
			Seq:       int(seq.(int64)),
			Timestamp: t.(int64),
			Kind:      Kind(kind.(string)),
			Content:   content.(string),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
