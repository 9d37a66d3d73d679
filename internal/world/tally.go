package world

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Milestone records a notable first for a resident.
type Milestone struct {
	Title      string    `json:"title"`
	Turn       int64     `json:"turn"`
	AchievedAt time.Time `json:"achieved_at"`
}

// Stats counts what a resident has done.
type Stats struct {
	Name        string         `json:"name"`
	Turns       int            `json:"turns"`
	Tools       map[string]int `json:"tools"`
	Revealed    int            `json:"revealed"`
	Reflections int            `json:"reflections"`
	Fallbacks   int            `json:"fallbacks"`
	Milestones  []Milestone    `json:"milestones"`
}

// Tally keeps per-resident activity counts.
type Tally struct {
	stats  map[string]*Stats
	mu     sync.RWMutex
	logger *zap.Logger
}

func NewTally(logger *zap.Logger) *Tally {
	return &Tally{
		stats:  make(map[string]*Stats),
		logger: logger,
	}
}

// RecordTool counts one executed tool. The first use of a tool is a milestone.
func (t *Tally) RecordTool(name, tool string, turn int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getOrCreate(name)
	s.Turns++
	if s.Tools[tool] == 0 {
		s.Milestones = append(s.Milestones, Milestone{
			Title:      "first " + tool,
			Turn:       turn,
			AchievedAt: time.Now(),
		})
	}
	s.Tools[tool]++
}

// RecordReveal counts a hidden detail uncovered by name.
func (t *Tally) RecordReveal(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(name).Revealed++
}

// RecordReflection counts a completed reflection.
func (t *Tally) RecordReflection(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(name).Reflections++
}

// RecordFallback counts a decision that fell back to the default payload.
func (t *Tally) RecordFallback(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(name).Fallbacks++
	t.logger.Debug("decision fell back", zap.String("resident", name))
}

// Get returns a copy of a resident's stats.
func (t *Tally) Get(name string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[name]
	if !ok {
		return Stats{Name: name, Tools: map[string]int{}}
	}
	return s.clone()
}

// getOrCreate returns or initializes stats (caller must hold lock).
func (t *Tally) getOrCreate(name string) *Stats {
	s, ok := t.stats[name]
	if !ok {
		s = &Stats{Name: name, Tools: make(map[string]int)}
		t.stats[name] = s
	}
	return s
}

func (s *Stats) clone() Stats {
	out := *s
	out.Tools = make(map[string]int, len(s.Tools))
	for k, v := range s.Tools {
		out.Tools[k] = v
	}
	out.Milestones = append([]Milestone{}, s.Milestones...)
	return out
}
