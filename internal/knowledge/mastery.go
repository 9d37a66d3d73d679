package knowledge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Mastery is a resident's relation to one catalog entry.
type Mastery int

const (
	Unmastered Mastery = iota
	Mastered
	// Suspected is recorded and reported but does not change what a resident
	// is told it knows.
	Suspected
)

func (m Mastery) String() string {
	switch m {
	case Mastered:
		return "mastered"
	case Suspected:
		return "suspected"
	default:
		return "unmastered"
	}
}

// ParseMastery accepts either the name or the numeric form (0, 1, 2).
func ParseMastery(s string) (Mastery, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unmastered", "0", "false":
		return Unmastered, nil
	case "mastered", "1", "true":
		return Mastered, nil
	case "suspected", "2":
		return Suspected, nil
	}
	return Unmastered, fmt.Errorf("invalid mastery %q", s)
}

func (m Mastery) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mastery) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode mastery: %w", err)
		}
		s = strconv.Itoa(n)
	}
	v, err := ParseMastery(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m *Mastery) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseMastery(node.Value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MasteryMap is a resident's private copy of mastery flags keyed by catalog id.
// Ids that were never set read as Unmastered.
type MasteryMap struct {
	flags map[int]Mastery
	mu    sync.RWMutex
}

// NewMasteryMap copies the initial flags.
func NewMasteryMap(initial map[int]Mastery) *MasteryMap {
	m := &MasteryMap{flags: make(map[int]Mastery, len(initial))}
	for id, v := range initial {
		m.flags[id] = v
	}
	return m
}

func (m *MasteryMap) Get(id int) Mastery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[id]
}

func (m *MasteryMap) Set(id int, v Mastery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[id] = v
}

// IDs returns the ids currently in the given state, sorted ascending.
func (m *MasteryMap) IDs(state Mastery) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int
	for id, v := range m.flags {
		if v == state {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Snapshot returns a copy of the explicitly set flags.
func (m *MasteryMap) Snapshot() map[int]Mastery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]Mastery, len(m.flags))
	for id, v := range m.flags {
		out[id] = v
	}
	return out
}
