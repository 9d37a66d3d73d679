package world

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Places tracks where each resident is.
type Places struct {
	locations map[string]string // resident -> place
	mu        sync.RWMutex
	logger    *zap.Logger
}

func NewPlaces(logger *zap.Logger) *Places {
	return &Places{
		locations: make(map[string]string),
		logger:    logger,
	}
}

// Location returns where a resident is, or "" if unknown.
func (p *Places) Location(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.locations[name]
}

// Move puts a resident at dest and returns where it was.
func (p *Places) Move(name, dest string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.locations[name]
	p.locations[name] = dest
	if prev != dest {
		p.logger.Debug("resident moved",
			zap.String("resident", name),
			zap.String("from", prev),
			zap.String("to", dest))
	}
	return prev
}

// Occupants lists residents at place, sorted.
func (p *Places) Occupants(place string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for name, loc := range p.locations {
		if loc == place {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot copies the location table.
func (p *Places) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.locations))
	for k, v := range p.locations {
		out[k] = v
	}
	return out
}
