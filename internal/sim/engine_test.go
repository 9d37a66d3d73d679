package sim

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/decision"
	"github.com/nidhogg/alice/internal/provider"
	"github.com/nidhogg/alice/internal/transcript"
	"go.uber.org/zap"
)

// fakeChat answers every call with reply, or by site when the system
// prompt mentions a summary or reflection.
type fakeChat struct {
	mu    sync.Mutex
	reply string
	calls int
	names []string
}

func (f *fakeChat) Route(_ context.Context, name string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.names = append(f.names, name)
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "\"reflection\"") {
			return &provider.ChatResponse{Content: `{"summary": "a quiet night", "reflection": "I trust no one."}`}, nil
		}
	}
	return &provider.ChatResponse{Content: f.reply}, nil
}

const speakReply = `{"thought": "Ask her.", "action": {"tool_name": "speak", "parameters": {"target_name": "Lily", "content": "Where were you?"}}}`

func newEngine(t *testing.T, cfg config.SimulationConfig, deps Deps) *Engine {
	t.Helper()
	cfg.RetryDelayMillis = -1
	cfg.Seed = 42
	if deps.Chat == nil {
		deps.Chat = &fakeChat{reply: speakReply}
	}
	e := NewEngine(cfg, deps, zap.NewNop())
	t.Cleanup(e.Close)
	for _, p := range []agent.Profile{
		{Name: "Adam", Human: &agent.HumanProfile{Identity: "priest"}},
		{Name: "Lily", Human: &agent.HumanProfile{Identity: "painter", HiddenDetails: []string{"a burn on her wrist"}}},
	} {
		if _, err := e.CreateAgent(p); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func TestEngineRunToCap(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{MaxTurns: 5}, Deps{})
	if err := e.Configure(Plan{Order: []string{"Adam", "Lily"}, Privileged: "Adam", Opening: "Bells ring."}); err != nil {
		t.Fatal(err)
	}
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TurnCount != 5 || st.Status != decision.StatusOngoing || st.Reason != ReasonTurnCap {
		t.Errorf("final state = %+v", st)
	}
	if err := e.Configure(Plan{}); !errors.Is(err, ErrStarted) {
		t.Errorf("configure after start: err = %v", err)
	}
}

func TestEngineAdvanceTurn(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{}, Deps{})
	sub := e.SubscribeTranscript(32)

	if st := e.State(); st.Actor != "Adam" || st.TurnCount != 0 {
		t.Errorf("state before first turn = %+v", st)
	}
	res, err := e.AdvanceTurn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Actor != "Adam" || res.Description != "'Adam' says to 'Lily': 'Where were you?'" || res.Thought != "Ask her." {
		t.Errorf("result = %+v", res)
	}
	if e.State().Actor != "Lily" {
		t.Errorf("next actor = %s", e.State().Actor)
	}

	opening, _ := sub.TryNext()
	if opening.Kind != transcript.KindObservation || opening.Description != DefaultOpening {
		t.Errorf("opening line = %+v", opening)
	}
	action, _ := sub.TryNext()
	if action.Kind != transcript.KindAction || action.RunID != e.RunID() {
		t.Errorf("action line = %+v", action)
	}

	a, _ := e.World().Residents.Get("Adam")
	if a.Memory.Len() != 2 {
		t.Errorf("memory entries = %d, want observation and thought", a.Memory.Len())
	}
}

func TestEngineInjectBeforeStart(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{}, Deps{})
	e.InjectObservation("A stranger arrives.")
	e.AdvanceTurn(context.Background())
	a, _ := e.World().Residents.Get("Adam")
	if got := a.Memory.Entries()[0].Content; got != "A stranger arrives." {
		t.Errorf("first memory = %q", got)
	}
}

func TestEngineStartStop(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{MaxTurns: 100000}, Deps{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrRunning) && e.Running() {
		t.Errorf("second start: err = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	e.Stop()

	if e.Running() {
		t.Error("still running after Stop")
	}
	st := e.State()
	if !st.Terminated || st.Reason != ReasonCancelled {
		t.Errorf("state = %+v", st)
	}
}

func TestEngineSinksDrainOnClose(t *testing.T) {
	var mu sync.Mutex
	var lines []transcript.Line
	sink := transcript.SinkFunc(func(_ context.Context, l transcript.Line) error {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, l)
		return nil
	})
	e := newEngine(t, config.SimulationConfig{MaxTurns: 2}, Deps{Sinks: []transcript.Sink{sink}})
	sub := e.SubscribeTranscript(8)
	e.Run(context.Background())
	e.Close()

	mu.Lock()
	defer mu.Unlock()
	// opening, two actions, end of run
	if len(lines) != 4 {
		t.Errorf("sink got %d lines", len(lines))
	}
	for {
		if _, ok := sub.Next(context.Background()); !ok {
			break
		}
	}
	if _, err := e.AdvanceTurn(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("advance after close: err = %v", err)
	}
}

func TestEngineReflect(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{}, Deps{})
	e.AdvanceTurn(context.Background())

	r, err := e.Reflect(context.Background(), "Adam")
	if err != nil {
		t.Fatal(err)
	}
	if r.Skipped || r.Reflection != "I trust no one." {
		t.Errorf("reflection = %+v", r)
	}
	a, _ := e.World().Residents.Get("Adam")
	if !strings.Contains(a.Concept().MemoryAbstraction, "I trust no one.") {
		t.Errorf("abstraction = %q", a.Concept().MemoryAbstraction)
	}
	if e.World().Tally.Get("Adam").Reflections != 1 {
		t.Error("reflection not tallied")
	}
	if _, err := e.Reflect(context.Background(), "Ghost"); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("unknown resident: err = %v", err)
	}
}

func TestEngineHeartbeatReflects(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{ReflectEvery: 2, MaxTurns: 4}, Deps{})
	e.Run(context.Background())
	if e.World().Tally.Get("Adam").Reflections == 0 {
		t.Error("heartbeat never reflected")
	}
}

func TestEngineBindsProviders(t *testing.T) {
	router := provider.NewRouter(zap.NewNop())
	e := NewEngine(config.SimulationConfig{RetryDelayMillis: -1}, Deps{Chat: &fakeChat{reply: speakReply}, Router: router}, zap.NewNop())
	defer e.Close()
	if _, err := e.CreateAgent(agent.Profile{Name: "Adam", Provider: "local", Fallbacks: []string{"cloud"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateAgent(agent.Profile{Name: "Adam"}); !errors.Is(err, agent.ErrAgentExists) {
		t.Errorf("duplicate: err = %v", err)
	}
}

func TestEngineOnFinishFiresOnce(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{MaxTurns: 2}, Deps{})
	var calls int
	var last TurnState
	e.OnFinish(func(st TurnState) { calls++; last = st })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := e.AdvanceTurn(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 || last.Reason != ReasonTurnCap {
		t.Fatalf("calls=%d state=%+v", calls, last)
	}
	if _, err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("finish fired %d times", calls)
	}
}

func TestEngineOnFinishAfterStop(t *testing.T) {
	e := newEngine(t, config.SimulationConfig{MaxTurns: 10}, Deps{})
	var calls int
	var last TurnState
	e.OnFinish(func(st TurnState) { calls++; last = st })

	ctx := context.Background()
	if _, err := e.AdvanceTurn(ctx); err != nil {
		t.Fatal(err)
	}
	e.Stop()
	if _, err := e.AdvanceTurn(ctx); !errors.Is(err, ErrTerminated) {
		t.Fatalf("advance after stop: err = %v", err)
	}
	if calls != 1 || last.Reason != ReasonCancelled || last.TurnCount != 1 {
		t.Fatalf("calls=%d state=%+v", calls, last)
	}
	e.AdvanceTurn(ctx)
	if calls != 1 {
		t.Errorf("finish fired %d times", calls)
	}
}

func TestEngineSlowSinkKeepsFullTranscript(t *testing.T) {
	var mu sync.Mutex
	var archived int
	slow := transcript.SinkFunc(func(context.Context, transcript.Line) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		archived++
		return nil
	})
	e := newEngine(t, config.SimulationConfig{MaxTurns: 30, QueueSize: 4}, Deps{Sinks: []transcript.Sink{slow}})
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Close()

	mu.Lock()
	defer mu.Unlock()
	if published := e.hub.Published(); int64(archived) != published {
		t.Errorf("sink archived %d of %d lines", archived, published)
	}
}
