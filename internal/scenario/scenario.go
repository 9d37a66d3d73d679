// Package scenario loads the cast and setup of a run from YAML.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/sim"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid scenario")

// Scenario is everything needed to start a run besides configuration.
type Scenario struct {
	Name       string          `yaml:"name" json:"name"`
	Knowledge  knowledge.Seed  `yaml:"knowledge" json:"knowledge"`
	Residents  []agent.Profile `yaml:"residents" json:"residents"`
	Order      []string        `yaml:"order" json:"order"`
	Privileged string          `yaml:"privileged" json:"privileged"`
	Opening    string          `yaml:"opening" json:"opening"`
	MaxTurns   int             `yaml:"max_turns" json:"max_turns"`
	// Engine overrides the configured decision engine. Only the pipeline
	// reports a status, so a privileged verdict needs it.
	Engine string `yaml:"engine" json:"engine"`
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// Validate checks profiles, names in the order and the privileged actor,
// and that mastery only refers to known catalog ids.
func (s *Scenario) Validate() error {
	if len(s.Residents) == 0 {
		return fmt.Errorf("%w: no residents", ErrInvalid)
	}
	names := make(map[string]bool, len(s.Residents))
	for _, p := range s.Residents {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate resident %s", ErrInvalid, p.Name)
		}
		names[p.Name] = true
		for id := range p.Mastery {
			if _, ok := s.Knowledge[id]; !ok {
				return fmt.Errorf("%w: %s masters unknown knowledge %d", ErrInvalid, p.Name, id)
			}
		}
	}
	for _, n := range s.Order {
		if !names[n] {
			return fmt.Errorf("%w: order names unknown resident %s", ErrInvalid, n)
		}
	}
	if s.Privileged != "" && !names[s.Privileged] {
		return fmt.Errorf("%w: privileged resident %s does not exist", ErrInvalid, s.Privileged)
	}
	if s.MaxTurns < 0 {
		return fmt.Errorf("%w: negative max_turns", ErrInvalid)
	}
	switch s.Engine {
	case "", config.EngineSingle, config.EnginePipeline:
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalid, s.Engine)
	}
	return nil
}

// Tune applies the scenario's overrides to the simulation settings.
func (s *Scenario) Tune(cfg *config.SimulationConfig) {
	if s.Engine != "" {
		cfg.Engine = s.Engine
	}
}

// Plan is the scheduler plan the scenario describes.
func (s *Scenario) Plan() sim.Plan {
	return sim.Plan{
		Order:      append([]string{}, s.Order...),
		Privileged: s.Privileged,
		MaxTurns:   s.MaxTurns,
		Opening:    s.Opening,
	}
}

// Apply loads the knowledge into kb, creates every resident through create
// and hands the plan to configure.
func (s *Scenario) Apply(kb *knowledge.Base, create func(agent.Profile) (*agent.Agent, error), configure func(sim.Plan) error) error {
	if err := kb.Load(s.Knowledge); err != nil {
		return fmt.Errorf("apply scenario %s: %w", s.Name, err)
	}
	for _, p := range s.Residents {
		if _, err := create(p); err != nil {
			return fmt.Errorf("apply scenario %s: %w", s.Name, err)
		}
	}
	if err := configure(s.Plan()); err != nil {
		return fmt.Errorf("apply scenario %s: %w", s.Name, err)
	}
	return nil
}

// ApplyTo is Apply against a simulation engine.
func (s *Scenario) ApplyTo(e *sim.Engine) error {
	return s.Apply(e.World().Knowledge, e.CreateAgent, e.Configure)
}
