package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/sim"
	"go.uber.org/zap"
)

const sample = `
name: test
knowledge:
  1: {category: rules, content: Silver burns witches., origin: church}
  2: {category: history, content: The mill burned.}
residents:
  - name: Adam
    kind: human
    human:
      identity: priest
      hidden_details: [a ring]
    mastery: {1: mastered, 2: 2}
  - name: Wolf
    kind: creature
order: [Wolf, Adam]
privileged: Adam
opening: Dusk.
max_turns: 7
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Residents) != 2 || s.Residents[0].Human.Identity != "priest" {
		t.Fatalf("residents = %+v", s.Residents)
	}
	if s.Residents[0].Mastery[2] != knowledge.Suspected {
		t.Errorf("numeric mastery = %v", s.Residents[0].Mastery[2])
	}
	p := s.Plan()
	if p.MaxTurns != 7 || p.Order[0] != "Wolf" || p.Privileged != "Adam" || p.Opening != "Dusk." {
		t.Errorf("plan = %+v", p)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"no residents":    `name: x`,
		"unknown order":   "residents: [{name: A}]\norder: [B]",
		"bad privileged":  "residents: [{name: A}]\nprivileged: B",
		"duplicate":       "residents: [{name: A}, {name: A}]",
		"unknown mastery": "residents: [{name: A, mastery: {9: mastered}}]",
		"bad kind":        "residents: [{name: A, kind: dragon}]",
		"bad engine":      "residents: [{name: A}]\nengine: committee",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestApply(t *testing.T) {
	s, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	kb := knowledge.NewBase(zap.NewNop())
	reg := agent.NewRegistry(memory.Options{}, zap.NewNop())
	var plan sim.Plan
	err = s.Apply(kb, reg.Create, func(p sim.Plan) error { plan = p; return nil })
	if err != nil {
		t.Fatal(err)
	}
	if kb.Len() != 2 || reg.Len() != 2 || plan.Privileged != "Adam" {
		t.Errorf("kb=%d residents=%d plan=%+v", kb.Len(), reg.Len(), plan)
	}
	adam, _ := reg.Get("Adam")
	if got := adam.MasteredKnowledge(kb); len(got) != 1 || got[0] != "Silver burns witches." {
		t.Errorf("mastered = %v", got)
	}
}

func TestShippedScenarioLoads(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "configs", "scenario.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("sample scenario not present")
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Privileged != "Adam" || len(s.Order) != 3 {
		t.Errorf("scenario = %+v", s)
	}
	// a privileged verdict needs an engine that reports status
	if s.Engine != config.EnginePipeline {
		t.Errorf("engine = %q", s.Engine)
	}
}

func TestTuneOverridesEngine(t *testing.T) {
	cfg := config.SimulationConfig{Engine: config.EngineSingle}
	(&Scenario{}).Tune(&cfg)
	if cfg.Engine != config.EngineSingle {
		t.Errorf("empty scenario engine changed config to %q", cfg.Engine)
	}
	(&Scenario{Engine: config.EnginePipeline}).Tune(&cfg)
	if cfg.Engine != config.EnginePipeline {
		t.Errorf("engine = %q", cfg.Engine)
	}
}
