package agent

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nidhogg/alice/internal/belief"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/memory"
)

// Kind tells prompt building which template a resident gets.
type Kind string

const (
	KindHuman    Kind = "human"
	KindCreature Kind = "creature"
	KindMonster  Kind = "monster"
)

// ParseKind accepts the three kind names. Empty means human.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindHuman, nil
	case KindHuman, KindCreature, KindMonster:
		return Kind(s), nil
	}
	return "", fmt.Errorf("parse kind %q: %w", s, ErrInvalidProfile)
}

// Concept is the private self-image a human resident acts from.
type Concept struct {
	Ego               string `json:"ego" yaml:"ego"`
	Goal              string `json:"goal" yaml:"goal"`
	MemoryAbstraction string `json:"memory_abstraction" yaml:"memory_abstraction"`
}

// HumanProfile is the extra state only human residents carry.
type HumanProfile struct {
	Identity      string   `json:"identity" yaml:"identity"`
	Concept       Concept  `json:"concept" yaml:"concept"`
	HiddenDetails []string `json:"hidden_details" yaml:"hidden_details"`
}

// Agent is a resident of the world. Identity fields never change after
// creation; the stores and the human profile are guarded separately.
type Agent struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	Age        int    `json:"age"`
	Sex        string `json:"sex"`
	MemorySize int    `json:"memory_size"`
	ProviderID string `json:"provider_id,omitempty"`
	Model      string `json:"model,omitempty"`

	Memory  *memory.Stream        `json:"-"`
	Mastery *knowledge.MasteryMap `json:"-"`
	Beliefs *belief.Store         `json:"-"`

	CreatedAt time.Time `json:"created_at"`

	human *HumanProfile
	mu    sync.RWMutex
}

// IsHuman reports whether the resident has a human profile.
func (a *Agent) IsHuman() bool {
	return a.human != nil
}

// Human returns a copy of the human profile, or nil.
func (a *Agent) Human() *HumanProfile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.human == nil {
		return nil
	}
	h := *a.human
	h.HiddenDetails = append([]string{}, a.human.HiddenDetails...)
	return &h
}

// Concept returns the resident's concept. Non-humans have an empty one.
func (a *Agent) Concept() Concept {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.human == nil {
		return Concept{}
	}
	return a.human.Concept
}

// HiddenDetailCount is the number of details still unrevealed.
func (a *Agent) HiddenDetailCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.human == nil {
		return 0
	}
	return len(a.human.HiddenDetails)
}

// PopHiddenDetail removes one detail chosen uniformly by rng.
func (a *Agent) PopHiddenDetail(rng *rand.Rand) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.human == nil || len(a.human.HiddenDetails) == 0 {
		return "", false
	}
	pool := a.human.HiddenDetails
	i := rng.Intn(len(pool))
	detail := pool[i]
	a.human.HiddenDetails = append(pool[:i:i], pool[i+1:]...)
	return detail, true
}

// AppendAbstraction adds text to the memory abstraction, keeping at most
// max runes from the end. It is a no-op for non-humans.
func (a *Agent) AppendAbstraction(text string, max int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.human == nil {
		return ""
	}
	if text == "" {
		return a.human.Concept.MemoryAbstraction
	}
	cur := a.human.Concept.MemoryAbstraction
	if cur != "" {
		cur += " "
	}
	cur += text
	if r := []rune(cur); max > 0 && len(r) > max {
		cur = string(r[len(r)-max:])
	}
	a.human.Concept.MemoryAbstraction = cur
	return cur
}

// MasteredKnowledge lists the contents of every mastered record.
func (a *Agent) MasteredKnowledge(kb *knowledge.Base) []string {
	return kb.Mastered(a.Mastery)
}

// RecentLimit is the resident's recent-memory window, or def when unset.
func (a *Agent) RecentLimit(def int) int {
	if a.MemorySize > 0 {
		return a.MemorySize
	}
	return def
}
