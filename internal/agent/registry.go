package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/alice/internal/belief"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/memory"
	"go.uber.org/zap"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrAgentExists    = errors.New("agent already exists")
	ErrInvalidProfile = errors.New("invalid profile")
)

// Registry holds every resident in creation order. Residents are never removed.
type Registry struct {
	agents  map[string]*Agent
	order   []string
	memOpts memory.Options
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewRegistry(memOpts memory.Options, logger *zap.Logger) *Registry {
	return &Registry{
		agents:  make(map[string]*Agent),
		memOpts: memOpts,
		logger:  logger,
	}
}

// Create builds a resident with fresh stores and a private copy of its mastery.
func (r *Registry) Create(p Profile) (*Agent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	kind, _ := ParseKind(p.Kind)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[p.Name]; ok {
		return nil, fmt.Errorf("create agent %s: %w", p.Name, ErrAgentExists)
	}

	a := &Agent{
		Name:       p.Name,
		Kind:       kind,
		Age:        p.Age,
		Sex:        p.Sex,
		MemorySize: p.MemorySize,
		ProviderID: p.Provider,
		Model:      p.Model,
		Memory:     memory.NewStream(p.Name, r.memOpts, r.logger),
		Mastery:    knowledge.NewMasteryMap(p.Mastery),
		Beliefs:    belief.NewStore(p.Name, r.logger),
		CreatedAt:  time.Now(),
	}
	if p.Human != nil {
		h := *p.Human
		h.HiddenDetails = append([]string{}, p.Human.HiddenDetails...)
		a.human = &h
	}

	r.agents[a.Name] = a
	r.order = append(r.order, a.Name)
	r.logger.Info("created agent",
		zap.String("name", a.Name),
		zap.String("kind", string(a.Kind)),
		zap.Int("mastered", len(a.Mastery.IDs(knowledge.Mastered))))
	return a, nil
}

// Get returns a resident by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Lookup is Get with an ErrAgentNotFound error.
func (r *Registry) Lookup(name string) (*Agent, error) {
	if a, ok := r.Get(name); ok {
		return a, nil
	}
	return nil, fmt.Errorf("lookup %s: %w", name, ErrAgentNotFound)
}

// List returns residents in creation order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.agents[name])
	}
	return result
}

// Names returns resident names in creation order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
