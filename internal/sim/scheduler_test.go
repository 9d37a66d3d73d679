package sim

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/decision"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/tools"
	"github.com/nidhogg/alice/internal/world"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedDecider answers from a per-resident queue and records inputs.
type scriptedDecider struct {
	mu       sync.Mutex
	script   map[string][]decision.Decision
	inputs   []decision.Input
	fallback decision.Decision
}

func (s *scriptedDecider) Decide(_ context.Context, in decision.Input) decision.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	q := s.script[in.Agent.Name]
	if len(q) == 0 {
		d := s.fallback
		if d.Action.ToolName == "" {
			d.Action = agent.Speak("the air", "hm")
		}
		if d.Status == "" {
			d.Status = decision.StatusOngoing
		}
		return d
	}
	s.script[in.Agent.Name] = q[1:]
	return q[0]
}

func speakTo(target string) decision.Decision {
	return decision.Decision{Thought: "talk", Action: agent.Speak(target, "hello"), Status: decision.StatusOngoing}
}

func observe(target string) decision.Decision {
	return decision.Decision{
		Thought: "look",
		Action:  agent.Action{ToolName: agent.ToolObserveDetail, Parameters: map[string]string{agent.ParamTarget: target}},
		Status:  decision.StatusOngoing,
	}
}

func newWorld(t *testing.T) *world.World {
	t.Helper()
	reg := agent.NewRegistry(memory.Options{}, zap.NewNop())
	if _, err := reg.Create(agent.Profile{Name: "Adam", Human: &agent.HumanProfile{Identity: "priest"}}); err != nil {
		t.Fatal(err)
	}
	reg.Create(agent.Profile{Name: "Lily", Human: &agent.HumanProfile{
		Identity:      "painter",
		HiddenDetails: []string{"paint under her nails"},
	}})
	reg.Create(agent.Profile{Name: "Wolf", Kind: "creature"})
	return world.New(knowledge.NewBase(zap.NewNop()), reg, zap.NewNop())
}

func newScheduler(t *testing.T, d decision.Decider, plan Plan) (*Scheduler, *world.World) {
	t.Helper()
	w := newWorld(t)
	disp := tools.NewDispatcher(w, nil, "test", rand.New(rand.NewSource(1)), zap.NewNop())
	if plan.Order == nil {
		plan.Order = []string{"Adam", "Lily", "Wolf"}
	}
	s, err := NewScheduler(w, d, disp, plan, nil, "test", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s, w
}

func TestTurnCapEndsRun(t *testing.T) {
	d := &scriptedDecider{script: map[string][]decision.Decision{}}
	s, w := newScheduler(t, d, Plan{Privileged: "Adam", MaxTurns: 5})

	st := s.Run(context.Background())
	if st.TurnCount != 5 || st.Status != decision.StatusOngoing || st.Reason != ReasonTurnCap || !st.Terminated {
		t.Fatalf("final state = %+v", st)
	}
	if w.Clock.Now() != 5 {
		t.Errorf("clock = %d, want 5", w.Clock.Now())
	}
	if _, err := s.Step(context.Background()); !errors.Is(err, ErrTerminated) {
		t.Errorf("step after end: err = %v", err)
	}
}

func TestInitialState(t *testing.T) {
	s, _ := newScheduler(t, &scriptedDecider{}, Plan{})
	st := s.State()
	if st.ActorIndex != 0 || st.Actor != "Adam" || st.Mode != agent.ModeNormal || st.TurnCount != 0 || st.Status != decision.StatusOngoing {
		t.Errorf("initial state = %+v", st)
	}
}

func TestForcedExtraTurn(t *testing.T) {
	d := &scriptedDecider{script: map[string][]decision.Decision{
		"Adam": {observe("Lily"), speakTo("Lily")},
	}}
	s, _ := newScheduler(t, d, Plan{})
	ctx := context.Background()

	r1, err := s.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !r1.ForcedExtraTurn || r1.State.Actor != "Adam" || r1.State.Mode != agent.ModeForcedSpeak {
		t.Fatalf("after observe: %+v", r1.State)
	}

	r2, _ := s.Step(ctx)
	if r2.Mode != agent.ModeForcedSpeak || r2.Actor != "Adam" {
		t.Errorf("second turn = %s in %s", r2.Actor, r2.Mode)
	}
	if r2.State.Actor != "Lily" || r2.State.Mode != agent.ModeNormal || r2.State.TurnCount != 2 {
		t.Errorf("after forced turn: %+v", r2.State)
	}
	if d.inputs[1].Mode != agent.ModeForcedSpeak {
		t.Errorf("decider saw mode %s", d.inputs[1].Mode)
	}
}

func TestForcedTurnNeverChains(t *testing.T) {
	d := &scriptedDecider{script: map[string][]decision.Decision{
		"Adam": {observe("Lily"), observe("Wolf")},
	}}
	s, _ := newScheduler(t, d, Plan{})
	ctx := context.Background()
	s.Step(ctx)
	r, _ := s.Step(ctx)
	if !r.ForcedExtraTurn {
		t.Fatal("dispatcher should still report a forced turn")
	}
	if r.State.Actor != "Lily" || r.State.Mode != agent.ModeNormal {
		t.Errorf("forced turn chained: %+v", r.State)
	}
}

func TestVerdictFromPrivilegedOnly(t *testing.T) {
	confirmed := speakTo("Lily")
	confirmed.Status = decision.StatusConfirmed
	d := &scriptedDecider{script: map[string][]decision.Decision{
		"Adam": {speakTo("Lily"), confirmed},
		"Lily": {confirmed},
	}}
	s, _ := newScheduler(t, d, Plan{Order: []string{"Adam", "Lily"}, Privileged: "Adam", MaxTurns: 10})

	st := s.Run(context.Background())
	if st.Reason != ReasonVerdict || st.Status != decision.StatusConfirmed || st.TurnCount != 3 {
		t.Errorf("final state = %+v", st)
	}
}

func TestCancellation(t *testing.T) {
	s, _ := newScheduler(t, &scriptedDecider{}, Plan{MaxTurns: 100})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.Step(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	r, err := s.Step(ctx)
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("err = %v", err)
	}
	if r.State.Reason != ReasonCancelled || r.State.TurnCount != 1 {
		t.Errorf("state = %+v", r.State)
	}
}

func TestStopFlag(t *testing.T) {
	s, _ := newScheduler(t, &scriptedDecider{}, Plan{MaxTurns: 100})
	s.Stop()
	st := s.Run(context.Background())
	if st.Reason != ReasonCancelled || st.TurnCount != 0 {
		t.Errorf("state = %+v", st)
	}
}

func TestObservationChain(t *testing.T) {
	d := &scriptedDecider{script: map[string][]decision.Decision{
		"Adam": {speakTo("Lily")},
	}}
	s, _ := newScheduler(t, d, Plan{Opening: "Bells ring."})
	ctx := context.Background()
	s.Step(ctx)
	s.Step(ctx)

	if d.inputs[0].Observation != "Bells ring." {
		t.Errorf("first observation = %q", d.inputs[0].Observation)
	}
	if d.inputs[1].Observation != "'Adam' says to 'Lily': 'hello'" {
		t.Errorf("second observation = %q", d.inputs[1].Observation)
	}
	if len(d.inputs[0].Others) != 2 {
		t.Errorf("others = %d", len(d.inputs[0].Others))
	}
}

func TestInjectObservation(t *testing.T) {
	d := &scriptedDecider{}
	s, _ := newScheduler(t, d, Plan{})
	ctx := context.Background()
	s.Step(ctx)
	s.InjectObservation("A scream from the well.")
	s.Step(ctx)
	if d.inputs[1].Observation != "A scream from the well." {
		t.Errorf("observation = %q", d.inputs[1].Observation)
	}
}

func TestFallbackTallied(t *testing.T) {
	d := &scriptedDecider{fallback: decision.Decision{Action: agent.DoNothing(), Fallback: true}}
	s, w := newScheduler(t, d, Plan{MaxTurns: 3})
	s.Run(context.Background())
	if w.Tally.Get("Adam").Fallbacks != 1 || w.Tally.Get("Wolf").Fallbacks != 1 {
		t.Errorf("fallbacks not tallied: %+v", w.Tally.Get("Adam"))
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	w := newWorld(t)
	disp := tools.NewDispatcher(w, nil, "test", nil, zap.NewNop())
	if _, err := NewScheduler(w, &scriptedDecider{}, disp, Plan{}, nil, "test", zap.NewNop()); !errors.Is(err, ErrNoActors) {
		t.Errorf("empty order: err = %v", err)
	}
	_, err := NewScheduler(w, &scriptedDecider{}, disp, Plan{Order: []string{"Ghost"}}, nil, "test", zap.NewNop())
	if !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("unknown actor: err = %v", err)
	}
}
