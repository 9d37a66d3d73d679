package decision

import (
	"context"
	"strings"
	"testing"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/llm"
	"github.com/nidhogg/alice/internal/memory"
	"go.uber.org/zap"
)

// fakeGateway answers by call site. A missing site falls back.
type fakeGateway struct {
	replies map[string]llm.Payload
	calls   []llm.Request
}

func (f *fakeGateway) Invoke(_ context.Context, req llm.Request) llm.Result {
	f.calls = append(f.calls, req)
	if p, ok := f.replies[req.Site]; ok {
		out := llm.Payload{}
		for _, k := range req.Shape.Keys {
			if d, ok := req.Shape.Defaults[k]; ok {
				out[k] = d
			}
		}
		for k, v := range p {
			out[k] = v
		}
		return llm.Result{Outcome: llm.Success, Payload: out, Attempts: 1}
	}
	out := llm.Payload{}
	for _, k := range req.Shape.Keys {
		if v, ok := req.Fallback[k]; ok {
			out[k] = v
		} else if d, ok := req.Shape.Defaults[k]; ok {
			out[k] = d
		} else {
			out[k] = ""
		}
	}
	return llm.Result{Outcome: llm.TransportFailure, Payload: out, Attempts: 3}
}

func (f *fakeGateway) sites() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Site)
	}
	return out
}

type fixture struct {
	kb   *knowledge.Base
	reg  *agent.Registry
	adam *agent.Agent
	lily *agent.Agent
	wolf *agent.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kb := knowledge.NewBase(zap.NewNop())
	kb.Add(knowledge.Record{ID: 101, Category: knowledge.CategoryCommonSense, Content: "The sun rises in the east."})
	kb.Add(knowledge.Record{ID: 103, Category: knowledge.CategoryRules, Content: "Witches cannot enter the chapel."})

	reg := agent.NewRegistry(memory.Options{}, zap.NewNop())
	adam, err := reg.Create(agent.Profile{
		Name:    "Adam",
		Human:   &agent.HumanProfile{Identity: "priest", Concept: agent.Concept{Goal: "find the witch"}},
		Mastery: map[int]knowledge.Mastery{103: knowledge.Mastered},
	})
	if err != nil {
		t.Fatal(err)
	}
	lily, _ := reg.Create(agent.Profile{Name: "Lily", Human: &agent.HumanProfile{Identity: "painter"}})
	wolf, _ := reg.Create(agent.Profile{Name: "Wolf", Kind: "creature"})
	return &fixture{kb: kb, reg: reg, adam: adam, lily: lily, wolf: wolf}
}

func TestEngineDecideSuccess(t *testing.T) {
	f := newFixture(t)
	gw := &fakeGateway{replies: map[string]llm.Payload{
		"decision": {
			"thought": "She avoids my eyes.",
			"action":  map[string]any{"tool_name": "observe_detail", "parameters": map[string]any{"target": "Lily"}},
		},
	}}
	e := NewEngine(gw, f.kb, Options{}, zap.NewNop())

	d := e.Decide(context.Background(), Input{
		Agent: f.adam, Timestamp: 1, Observation: "Lily enters.", Mode: agent.ModeNormal,
		Others: []*agent.Agent{f.lily, f.wolf},
	})
	if d.Action.ToolName != agent.ToolObserveDetail || d.Action.Param(agent.ParamTarget, "") != "Lily" {
		t.Errorf("action = %+v", d.Action)
	}
	if d.Status != StatusOngoing || d.Fallback {
		t.Errorf("decision = %+v", d)
	}

	entries := f.adam.Memory.Entries()
	if len(entries) != 2 || entries[0].Kind != memory.KindObserved || entries[1].Kind != memory.KindThought {
		t.Fatalf("memory = %+v", entries)
	}
	if entries[1].Content != "She avoids my eyes." {
		t.Errorf("thought stored = %q", entries[1].Content)
	}

	sent := gw.calls[0]
	if !strings.Contains(sent.Prompt, "Witches cannot enter the chapel.") {
		t.Error("mastered knowledge missing from prompt")
	}
	if strings.Contains(sent.Prompt, "The sun rises") {
		t.Error("unmastered knowledge leaked into prompt")
	}
	if !strings.Contains(sent.Prompt, "identity unknown, needs observation") {
		t.Error("beliefs missing from prompt")
	}
}

func TestEngineFallback(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(&fakeGateway{}, f.kb, Options{}, zap.NewNop())

	d := e.Decide(context.Background(), Input{Agent: f.adam, Timestamp: 1, Observation: "x", Mode: agent.ModeNormal})
	if d.Thought != FallbackThought || d.Action.ToolName != agent.ToolDoNothing {
		t.Errorf("decision = %+v", d)
	}
	if !d.Fallback || d.Outcome != llm.TransportFailure {
		t.Errorf("fallback not flagged: %+v", d)
	}
}

func TestEngineUnknownToolBecomesDoNothing(t *testing.T) {
	f := newFixture(t)
	gw := &fakeGateway{replies: map[string]llm.Payload{
		"decision": {"thought": "fly", "action": map[string]any{"tool_name": "teleport"}},
	}}
	d := NewEngine(gw, f.kb, Options{}, zap.NewNop()).Decide(context.Background(),
		Input{Agent: f.adam, Timestamp: 1, Observation: "x", Mode: agent.ModeNormal})
	if d.Action.ToolName != agent.ToolDoNothing {
		t.Errorf("tool = %q", d.Action.ToolName)
	}
}

func TestEngineForcedSpeakCoercion(t *testing.T) {
	f := newFixture(t)
	gw := &fakeGateway{replies: map[string]llm.Payload{
		"decision": {"thought": "Her sleeve is stained with paint.", "action": map[string]any{"tool_name": "move", "parameters": map[string]any{"destination": "square"}}},
	}}
	d := NewEngine(gw, f.kb, Options{}, zap.NewNop()).Decide(context.Background(), Input{
		Agent: f.adam, Timestamp: 2, Observation: "x", Mode: agent.ModeForcedSpeak,
		Others: []*agent.Agent{f.lily},
	})
	if d.Action.ToolName != agent.ToolSpeak {
		t.Fatalf("tool = %q", d.Action.ToolName)
	}
	if d.Action.Param(agent.ParamTargetName, "") != "Lily" || d.Action.Param(agent.ParamContent, "") != "Her sleeve is stained with paint." {
		t.Errorf("params = %v", d.Action.Parameters)
	}
}

func TestEngineEmptyThought(t *testing.T) {
	f := newFixture(t)
	gw := &fakeGateway{replies: map[string]llm.Payload{"decision": {"thought": "  "}}}
	d := NewEngine(gw, f.kb, Options{}, zap.NewNop()).Decide(context.Background(),
		Input{Agent: f.adam, Timestamp: 1, Observation: "x", Mode: agent.ModeNormal})
	if d.Thought != NoThought {
		t.Errorf("thought = %q", d.Thought)
	}
}

func TestPipelineFullRun(t *testing.T) {
	f := newFixture(t)
	gw := &fakeGateway{replies: map[string]llm.Payload{
		"strategist": {"thought": "Test her with scripture.", "status": "TARGET_CONFIRMED", "belief": "hiding something", "note": "flinched at the cross"},
		"actor":      {"raw_dialogue": "*smiles* Do you know the psalms, child?"},
		"formatter":  {"polished_dialogue": "Do you know the psalms, child?"},
		"summary":    {"summary": "Adam asked Lily about psalms."},
	}}
	p := NewPipeline(gw, f.kb, Options{}, zap.NewNop())

	d := p.Decide(context.Background(), Input{
		Agent: f.adam, Timestamp: 3, Observation: "Lily: Good evening, Father.",
		Mode: agent.ModeNormal, Others: []*agent.Agent{f.lily}, Privileged: true,
	})

	if got := strings.Join(gw.sites(), ","); got != "strategist,actor,formatter,summary" {
		t.Errorf("stages = %s", got)
	}
	if d.Status != StatusConfirmed {
		t.Errorf("status = %q", d.Status)
	}
	if d.Action.ToolName != agent.ToolSpeak || d.Action.Param(agent.ParamContent, "") != "Do you know the psalms, child?" {
		t.Errorf("action = %+v", d.Action)
	}
	b := f.adam.Beliefs.Get("Lily")
	if b.Summary != "hiding something" || len(b.Notes) != 1 {
		t.Errorf("belief = %+v", b)
	}

	heard := f.lily.Memory.Entries()
	if len(heard) != 1 || heard[0].Kind != memory.KindHeard || heard[0].Content != "Adam asked Lily about psalms." {
		t.Errorf("listener memory = %+v", heard)
	}
	last := f.adam.Memory.Entries()
	if last[len(last)-1].Kind != memory.KindSpoke {
		t.Errorf("speaker memory = %+v", last)
	}
}

func TestPipelineStagesFallBack(t *testing.T) {
	f := newFixture(t)
	p := NewPipeline(&fakeGateway{}, f.kb, Options{}, zap.NewNop())

	d := p.Decide(context.Background(), Input{
		Agent: f.lily, Timestamp: 1, Observation: "x", Mode: agent.ModeNormal,
		Others: []*agent.Agent{f.adam},
	})
	if d.Thought != StrategistFallback || d.Status != StatusOngoing {
		t.Errorf("decision = %+v", d)
	}
	if d.Action.Param(agent.ParamContent, "") != ActorFallback {
		t.Errorf("line = %q, want raw passed through", d.Action.Param(agent.ParamContent, ""))
	}
	heard := f.adam.Memory.Entries()
	if len(heard) != 1 || !strings.HasPrefix(heard[0].Content, "dialogue original: ") {
		t.Errorf("summary fallback = %+v", heard)
	}
}

func TestPipelineNonPrivilegedCannotEndRun(t *testing.T) {
	f := newFixture(t)
	gw := &fakeGateway{replies: map[string]llm.Payload{
		"strategist": {"thought": "t", "status": "target_cleared"},
	}}
	d := NewPipeline(gw, f.kb, Options{}, zap.NewNop()).Decide(context.Background(), Input{
		Agent: f.lily, Timestamp: 1, Observation: "x", Others: []*agent.Agent{f.adam},
	})
	if d.Status != StatusOngoing {
		t.Errorf("status = %q", d.Status)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"TARGET_CONFIRMED": StatusConfirmed,
		" target_cleared ": StatusCleared,
		"ongoing":          StatusOngoing,
		"maybe":            StatusOngoing,
		"":                 StatusOngoing,
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReflect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adam.Memory.Record(ctx, 1, memory.KindObserved, "Lily sketched the altar.")
	f.adam.Memory.Record(ctx, 2, memory.KindThought, "Why the altar?")

	gw := &fakeGateway{replies: map[string]llm.Payload{
		"reflection": {"summary": "Lily drew the altar.", "reflection": "I have grown suspicious of artists."},
	}}
	r := NewReflector(gw, zap.NewNop())

	out, err := r.Reflect(ctx, f.adam, 3)
	if err != nil {
		t.Fatal(err)
	}
	if out.Memories != 2 || out.Skipped {
		t.Errorf("reflection = %+v", out)
	}
	if !strings.Contains(f.adam.Concept().MemoryAbstraction, "suspicious of artists") {
		t.Error("abstraction not updated")
	}
	entries := f.adam.Memory.Entries()
	if entries[len(entries)-1].Kind != memory.KindDreamed {
		t.Error("dream not recorded")
	}

	out, _ = r.Reflect(ctx, f.adam, 4)
	if !out.Skipped {
		t.Error("second reflection with no new memories should skip")
	}
}

func TestReflectFailureKeepsAbstraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adam.Memory.Record(ctx, 1, memory.KindObserved, "rain")

	out, err := NewReflector(&fakeGateway{}, zap.NewNop()).Reflect(ctx, f.adam, 2)
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome == llm.Success || f.adam.Concept().MemoryAbstraction != "" {
		t.Errorf("failed reflection changed state: %+v", out)
	}
}

func TestSummarizer(t *testing.T) {
	gw := &fakeGateway{replies: map[string]llm.Payload{
		"memory_summary": {"summary": strings.Repeat("x", 80)},
	}}
	got, err := NewSummarizer(gw, "Adam").Summarize(context.Background(), "long", 50)
	if err != nil || len(got) != 50 {
		t.Errorf("summary = %q (%d), err = %v", got, len(got), err)
	}

	if _, err := NewSummarizer(&fakeGateway{}, "Adam").Summarize(context.Background(), "long", 50); err == nil {
		t.Error("failed summary should error so memory truncates")
	}
}
