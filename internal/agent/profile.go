package agent

import (
	"fmt"
	"strings"

	"github.com/nidhogg/alice/internal/knowledge"
)

// Profile is everything needed to create a resident.
type Profile struct {
	Name       string                    `json:"name" yaml:"name"`
	Kind       string                    `json:"kind" yaml:"kind"`
	Age        int                       `json:"age" yaml:"age"`
	Sex        string                    `json:"sex" yaml:"sex"`
	MemorySize int                       `json:"memory_size" yaml:"memory_size"`
	Human      *HumanProfile             `json:"human,omitempty" yaml:"human,omitempty"`
	Mastery    map[int]knowledge.Mastery `json:"mastery,omitempty" yaml:"mastery,omitempty"`
	Location   string                    `json:"location,omitempty" yaml:"location,omitempty"`
	Provider   string                    `json:"provider,omitempty" yaml:"provider,omitempty"`
	Fallbacks  []string                  `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	Model      string                    `json:"model,omitempty" yaml:"model,omitempty"`
}

// Validate checks the fields creation depends on.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("validate profile: %w: empty name", ErrInvalidProfile)
	}
	kind, err := ParseKind(p.Kind)
	if err != nil {
		return fmt.Errorf("validate profile %s: %w", p.Name, err)
	}
	if p.Age < 0 || p.MemorySize < 0 {
		return fmt.Errorf("validate profile %s: %w: negative age or memory size", p.Name, ErrInvalidProfile)
	}
	if p.Human != nil && kind != KindHuman {
		return fmt.Errorf("validate profile %s: %w: %s cannot have a human profile", p.Name, ErrInvalidProfile, kind)
	}
	return nil
}
