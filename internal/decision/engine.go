package decision

import (
	"context"
	"strings"
	"time"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/belief"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/llm"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/prompt"
	"go.uber.org/zap"
)

const (
	FallbackThought = "My thinking has fallen into chaos, I cannot form a clear decision."
	NoThought       = "(No valid thought)"
	DefaultRecent   = 5
	DefaultRelevant = 3
	StatusOngoing   = prompt.StatusOngoing
	StatusConfirmed = prompt.StatusTargetConfirmed
	StatusCleared   = prompt.StatusTargetCleared
)

// Invoker is the model gateway as the decision layer sees it.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) llm.Result
}

// Decider produces one decision per turn.
type Decider interface {
	Decide(ctx context.Context, in Input) Decision
}

// Input is what the scheduler hands over for one turn.
type Input struct {
	Agent       *agent.Agent
	Timestamp   int64
	Observation string
	Mode        agent.Mode
	Others      []*agent.Agent
	Location    string
	// Privileged residents may end the run with a verdict.
	Privileged bool
}

// Decision is the outcome of one turn of thinking.
type Decision struct {
	Thought  string       `json:"thought"`
	Action   agent.Action `json:"action"`
	Status   string       `json:"status"`
	Outcome  llm.Outcome  `json:"outcome"`
	Fallback bool         `json:"fallback"`
}

// Options tunes retrieval windows and model settings.
type Options struct {
	RecentLimit   int           `json:"recent_limit"`
	RelevantLimit int           `json:"relevant_limit"`
	Temperature   float64       `json:"temperature"`
	Timeout       time.Duration `json:"timeout"`
}

func (o Options) withDefaults() Options {
	if o.RecentLimit <= 0 {
		o.RecentLimit = DefaultRecent
	}
	if o.RelevantLimit < 0 {
		o.RelevantLimit = 0
	} else if o.RelevantLimit == 0 {
		o.RelevantLimit = DefaultRelevant
	}
	return o
}

var decisionShape = llm.NewShape().
	WithDefault("thought", NoThought).
	WithDefault("action", map[string]any{"tool_name": agent.ToolDoNothing, "parameters": map[string]any{}})

// Engine makes a decision with a single model call.
type Engine struct {
	gw     Invoker
	kb     *knowledge.Base
	opts   Options
	logger *zap.Logger
}

func NewEngine(gw Invoker, kb *knowledge.Base, opts Options, logger *zap.Logger) *Engine {
	return &Engine{gw: gw, kb: kb, opts: opts.withDefaults(), logger: logger}
}

// Decide records the observation, asks the model for a thought and an
// action, records the thought and returns a normalized action.
func (e *Engine) Decide(ctx context.Context, in Input) Decision {
	a := in.Agent
	record(ctx, e.logger, a, in.Timestamp, memory.KindObserved, in.Observation)

	recent := a.Memory.Recent(a.RecentLimit(e.opts.RecentLimit))
	p := prompt.Decision(prompt.DecisionInput{
		Self:        prompt.ResidentOf(a),
		Timestamp:   in.Timestamp,
		Observation: in.Observation,
		Mode:        in.Mode,
		Location:    in.Location,
		Knowledge:   a.MasteredKnowledge(e.kb),
		Recent:      recent,
		Relevant:    dedupe(a.Memory.Relevant(ctx, in.Observation, e.opts.RelevantLimit), recent),
		Beliefs:     beliefLines(a, in.Others),
		Others:      names(in.Others),
	})

	res := e.gw.Invoke(ctx, llm.Request{
		Site:        "decision",
		Agent:       a.Name,
		Model:       a.Model,
		System:      p.System,
		Prompt:      p.User,
		Shape:       decisionShape,
		Temperature: e.opts.Temperature,
		Timeout:     e.opts.Timeout,
		Fallback: llm.Payload{
			"thought": FallbackThought,
			"action":  map[string]any{"tool_name": agent.ToolDoNothing, "parameters": map[string]any{}},
		},
	})

	thought := strings.TrimSpace(res.Payload.String("thought"))
	if thought == "" {
		thought = NoThought
	}
	record(ctx, e.logger, a, in.Timestamp, memory.KindThought, thought)

	action := normalize(agent.ActionFromPayload(res.Payload["action"]), in, thought, e.logger)
	e.logger.Debug("decision made",
		zap.String("agent", a.Name),
		zap.String("tool", action.ToolName),
		zap.Stringer("outcome", res.Outcome))

	return Decision{
		Thought:  thought,
		Action:   action,
		Status:   StatusOngoing,
		Outcome:  res.Outcome,
		Fallback: !res.OK(),
	}
}

// normalize maps unknown tools to do_nothing and enforces forced-speak.
func normalize(act agent.Action, in Input, thought string, logger *zap.Logger) agent.Action {
	if !agent.IsKnownTool(act.ToolName) {
		logger.Info("unknown tool coerced to do_nothing",
			zap.String("agent", in.Agent.Name), zap.String("tool", act.ToolName))
		act = agent.DoNothing()
	}
	if in.Mode == agent.ModeForcedSpeak && act.ToolName != agent.ToolSpeak {
		target := "the air"
		if len(in.Others) > 0 {
			target = in.Others[0].Name
		}
		act = agent.Speak(target, thought)
	}
	if act.Parameters == nil {
		act.Parameters = map[string]string{}
	}
	return act
}

// NormalizeStatus folds model output onto the three known statuses.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusConfirmed, "confirmed":
		return StatusConfirmed
	case StatusCleared, "cleared":
		return StatusCleared
	default:
		return StatusOngoing
	}
}

func record(ctx context.Context, logger *zap.Logger, a *agent.Agent, ts int64, kind memory.Kind, content string) {
	if _, err := a.Memory.Record(ctx, ts, kind, content); err != nil {
		logger.Warn("record memory failed",
			zap.String("agent", a.Name), zap.String("kind", string(kind)), zap.Error(err))
	}
}

func beliefLines(a *agent.Agent, others []*agent.Agent) []string {
	lines := make([]string, 0, len(others))
	for _, o := range others {
		lines = append(lines, belief.Line(o.Name, a.Beliefs.Get(o.Name)))
	}
	return lines
}

func names(agents []*agent.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name
	}
	return out
}

// dedupe drops lines already present in seen.
func dedupe(lines, seen []string) []string {
	set := make(map[string]bool, len(seen))
	for _, s := range seen {
		set[s] = true
	}
	var out []string
	for _, l := range lines {
		if !set[l] {
			out = append(out, l)
		}
	}
	return out
}
