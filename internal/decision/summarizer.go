package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/alice/internal/llm"
	"github.com/nidhogg/alice/internal/prompt"
)

// Summarizer compresses long memories through the gateway. It satisfies
// memory.Summarizer.
type Summarizer struct {
	gw    Invoker
	agent string
}

// NewSummarizer routes summary calls as the named resident.
func NewSummarizer(gw Invoker, agentName string) *Summarizer {
	return &Summarizer{gw: gw, agent: agentName}
}

func (s *Summarizer) Summarize(ctx context.Context, text string, maxChars int) (string, error) {
	p := prompt.Summary(text, maxChars)
	res := s.gw.Invoke(ctx, llm.Request{
		Site:     "memory_summary",
		Agent:    s.agent,
		System:   p.System,
		Prompt:   p.User,
		Shape:    summaryShape,
		Fallback: llm.Payload{"summary": ""},
	})
	if !res.OK() {
		return "", fmt.Errorf("summarize for %s: %s: %w", s.agent, res.Outcome, res.Err)
	}
	summary := strings.TrimSpace(res.Payload.String("summary"))
	if summary == "" {
		return "", fmt.Errorf("summarize for %s: empty summary", s.agent)
	}
	return clip(summary, maxChars), nil
}
