package world

import (
	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/knowledge"
	"go.uber.org/zap"
)

// World is the shared state every turn reads and writes.
type World struct {
	Clock     *Clock
	Knowledge *knowledge.Base
	Residents *agent.Registry
	Places    *Places
	Tally     *Tally
}

// New assembles an empty world around kb and residents.
func New(kb *knowledge.Base, residents *agent.Registry, logger *zap.Logger) *World {
	return &World{
		Clock:     NewClock(logger),
		Knowledge: kb,
		Residents: residents,
		Places:    NewPlaces(logger),
		Tally:     NewTally(logger),
	}
}

// Present returns every resident except name, in creation order.
func (w *World) Present(name string) []*agent.Agent {
	var out []*agent.Agent
	for _, a := range w.Residents.List() {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}
