package belief

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Edge is a stored belief between two residents.
type Edge struct {
	Owner  string `json:"owner"`
	Target string `json:"target"`
	Record
}

// Graph mirrors beliefs into Neo4j as (:Resident)-[:BELIEVES]->(:Resident).
type Graph struct {
	driver neo4j.DriverWithContext
	runID  string
	logger *zap.Logger
}

// NewGraph creates a belief mirror on a shared driver.
func NewGraph(driver neo4j.DriverWithContext, runID string, logger *zap.Logger) *Graph {
	return &Graph{driver: driver, runID: runID, logger: logger}
}

// Mirror creates or updates the BELIEVES edge.
func (g *Graph) Mirror(ctx context.Context, owner, target string, r Record) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	notes := r.Notes
	if notes == nil {
		notes = []string{}
	}
	_, err := session.Run(ctx,
		`MERGE (a:Resident {name: $owner, run: $run})
		 MERGE (b:Resident {name: $target, run: $run})
		 MERGE (a)-[r:BELIEVES]->(b)
		 SET r.summary = $summary, r.notes = $notes, r.updated_at = datetime()`,
		map[string]interface{}{
			"owner":   owner,
			"target":  target,
			"run":     g.runID,
			"summary": r.Summary,
			"notes":   notes,
		})
	if err != nil {
		return fmt.Errorf("mirror belief: %w", err)
	}
	return nil
}

// Beliefs returns every outgoing belief of owner in this run.
func (g *Graph) Beliefs(ctx context.Context, owner string) ([]Edge, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Resident {name: $owner, run: $run})-[r:BELIEVES]->(b:Resident)
		 RETURN b.name, r.summary, r.notes
		 ORDER BY b.name`,
		map[string]interface{}{"owner": owner, "run": g.runID})
	if err != nil {
		return nil, fmt.Errorf("get beliefs: %w", err)
	}

	var edges []Edge
	for result.Next(ctx) {
		rec := result.Record()
		target, _ := rec.Get("b.name")
		summary, _ := rec.Get("r.summary")
		notesRaw, _ := rec.Get("r.notes")

		var notes []string
		if ns, ok := notesRaw.([]interface{}); ok {
			for _, v := range ns {
				if s, ok := v.(string); ok {
					notes = append(notes, s)
				}
			}
		}
		name, _ := target.(string)
		sum, _ := summary.(string)
		edges = append(edges, Edge{Owner: owner, Target: name, Record: Record{Summary: sum, Notes: notes}})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("get beliefs: %w", err)
	}
	return edges, nil
}
