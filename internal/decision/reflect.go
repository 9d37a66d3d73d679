package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/llm"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/prompt"
	"go.uber.org/zap"
)

// MaxAbstraction caps a resident's memory abstraction, in runes.
const MaxAbstraction = 1200

var reflectionShape = llm.NewShape("summary", "reflection")

// Reflection is the result of one dream.
type Reflection struct {
	Agent      string      `json:"agent"`
	Timestamp  int64       `json:"timestamp"`
	Summary    string      `json:"summary"`
	Reflection string      `json:"reflection"`
	Memories   int         `json:"memories"`
	Outcome    llm.Outcome `json:"outcome"`
	Skipped    bool        `json:"skipped"`
}

// Reflector folds a resident's recent memories into its memory abstraction.
type Reflector struct {
	gw     Invoker
	last   map[string]int64 // resident -> timestamp of last reflection
	mu     sync.Mutex
	logger *zap.Logger
}

func NewReflector(gw Invoker, logger *zap.Logger) *Reflector {
	return &Reflector{gw: gw, last: make(map[string]int64), logger: logger}
}

// Reflect dreams over memories recorded since the previous reflection.
// Only memory write failures are returned.
func (r *Reflector) Reflect(ctx context.Context, a *agent.Agent, ts int64) (Reflection, error) {
	r.mu.Lock()
	since := r.last[a.Name]
	r.mu.Unlock()

	out := Reflection{Agent: a.Name, Timestamp: ts}
	var lines []string
	for _, e := range a.Memory.Since(since) {
		if e.Kind == memory.KindDreamed {
			continue
		}
		lines = append(lines, e.Line())
	}
	out.Memories = len(lines)
	if len(lines) == 0 {
		out.Skipped = true
		return out, nil
	}

	p := prompt.Reflection(prompt.ResidentOf(a), lines)
	res := r.gw.Invoke(ctx, llm.Request{
		Site:   "reflection",
		Agent:  a.Name,
		Model:  a.Model,
		System: p.System,
		Prompt: p.User,
		Shape:  reflectionShape,
		Fallback: llm.Payload{
			"summary":    "",
			"reflection": "",
		},
	})
	out.Outcome = res.Outcome
	if !res.OK() {
		r.logger.Warn("reflection failed",
			zap.String("agent", a.Name), zap.Stringer("outcome", res.Outcome), zap.Error(res.Err))
		return out, nil
	}

	out.Summary = strings.TrimSpace(res.Payload.String("summary"))
	out.Reflection = strings.TrimSpace(res.Payload.String("reflection"))
	a.AppendAbstraction(out.Reflection, MaxAbstraction)

	content := out.Summary
	if content == "" {
		content = out.Reflection
	}
	if _, err := a.Memory.Record(ctx, ts, memory.KindDreamed, content); err != nil {
		return out, fmt.Errorf("record dream for %s: %w", a.Name, err)
	}

	r.mu.Lock()
	r.last[a.Name] = ts
	r.mu.Unlock()

	r.logger.Info("resident dreamed",
		zap.String("agent", a.Name), zap.Int64("t", ts), zap.Int("memories", out.Memories))
	return out, nil
}
