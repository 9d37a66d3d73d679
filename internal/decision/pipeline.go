package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/llm"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/prompt"
	"go.uber.org/zap"
)

const (
	StrategistFallback = "I need to gather my thoughts..."
	ActorFallback      = "(silence...)"
	dialogueSummaryMax = 50
)

// Pipeline decides a spoken line in three model calls: strategist plans,
// actor speaks, formatter tidies. A failed stage never stops the pipeline.
type Pipeline struct {
	gw     Invoker
	kb     *knowledge.Base
	opts   Options
	logger *zap.Logger
}

func NewPipeline(gw Invoker, kb *knowledge.Base, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{gw: gw, kb: kb, opts: opts.withDefaults(), logger: logger}
}

var (
	strategistShape = llm.NewShape("thought", "status").WithDefault("belief", "").WithDefault("note", "")
	actorShape      = llm.NewShape("raw_dialogue")
	formatterShape  = llm.NewShape("polished_dialogue")
	summaryShape    = llm.NewShape("summary")
)

func (p *Pipeline) invoke(ctx context.Context, site string, a *agent.Agent, pr prompt.Prompt, shape llm.Shape, fallback llm.Payload) llm.Result {
	return p.gw.Invoke(ctx, llm.Request{
		Site:        site,
		Agent:       a.Name,
		Model:       a.Model,
		System:      pr.System,
		Prompt:      pr.User,
		Shape:       shape,
		Temperature: p.opts.Temperature,
		Timeout:     p.opts.Timeout,
		Fallback:    fallback,
	})
}

// Decide always returns a speak action aimed at the first other resident.
func (p *Pipeline) Decide(ctx context.Context, in Input) Decision {
	a := in.Agent
	record(ctx, p.logger, a, in.Timestamp, memory.KindObserved, in.Observation)

	counterpart := "the air"
	if len(in.Others) > 0 {
		counterpart = in.Others[0].Name
	}
	recent := a.Memory.Recent(a.RecentLimit(p.opts.RecentLimit))
	din := prompt.DialogueInput{
		Self:        prompt.ResidentOf(a),
		Counterpart: counterpart,
		Belief:      a.Beliefs.Get(counterpart).Summary,
		Timestamp:   in.Timestamp,
		Observation: in.Observation,
		Knowledge:   a.MasteredKnowledge(p.kb),
		Recent:      recent,
		Relevant:    dedupe(a.Memory.Relevant(ctx, in.Observation, p.opts.RelevantLimit), recent),
		Judge:       in.Privileged,
	}

	strat := p.invoke(ctx, "strategist", a, prompt.Strategist(din), strategistShape,
		llm.Payload{"thought": StrategistFallback, "status": StatusOngoing})
	thought := strings.TrimSpace(strat.Payload.String("thought"))
	if thought == "" {
		thought = StrategistFallback
	}
	status := NormalizeStatus(strat.Payload.String("status"))
	if !in.Privileged {
		status = StatusOngoing
	}
	if b := strat.Payload.String("belief"); b != "" {
		a.Beliefs.SetSummary(ctx, counterpart, b)
	}
	if n := strat.Payload.String("note"); n != "" {
		a.Beliefs.AddNote(ctx, counterpart, n)
	}
	record(ctx, p.logger, a, in.Timestamp, memory.KindThought, thought)

	act := p.invoke(ctx, "actor", a, prompt.Actor(din, thought), actorShape,
		llm.Payload{"raw_dialogue": ActorFallback})
	raw := strings.TrimSpace(act.Payload.String("raw_dialogue"))
	if raw == "" {
		raw = ActorFallback
	}

	fmtRes := p.invoke(ctx, "formatter", a, prompt.Formatter(din.Self, raw), formatterShape,
		llm.Payload{"polished_dialogue": raw})
	line := strings.TrimSpace(fmtRes.Payload.String("polished_dialogue"))
	if line == "" {
		line = raw
	}

	p.remember(ctx, a, in, counterpart, line)

	p.logger.Debug("dialogue decided",
		zap.String("agent", a.Name),
		zap.String("to", counterpart),
		zap.String("status", status))

	return Decision{
		Thought:  thought,
		Action:   agent.Speak(counterpart, line),
		Status:   status,
		Outcome:  worst(strat.Outcome, act.Outcome, fmtRes.Outcome),
		Fallback: !strat.OK() || !act.OK(),
	}
}

// remember summarizes the line once and stores it as spoke for the speaker
// and heard for everyone else present.
func (p *Pipeline) remember(ctx context.Context, a *agent.Agent, in Input, counterpart, line string) {
	text := fmt.Sprintf("%s said to %s: %s", a.Name, counterpart, line)
	res := p.invoke(ctx, "summary", a, prompt.Summary(text, dialogueSummaryMax), summaryShape,
		llm.Payload{"summary": "dialogue original: " + truncate(line, dialogueSummaryMax)})
	summary := clip(strings.TrimSpace(res.Payload.String("summary")), dialogueSummaryMax)
	if summary == "" {
		summary = "dialogue original: " + truncate(line, dialogueSummaryMax)
	}

	record(ctx, p.logger, a, in.Timestamp, memory.KindSpoke, summary)
	for _, o := range in.Others {
		record(ctx, p.logger, o, in.Timestamp, memory.KindHeard, summary)
	}
}

// worst returns the first non-success outcome.
func worst(outcomes ...llm.Outcome) llm.Outcome {
	for _, o := range outcomes {
		if o != llm.Success {
			return o
		}
	}
	return llm.Success
}

// clip cuts s to at most max runes.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
