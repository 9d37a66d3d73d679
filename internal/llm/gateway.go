package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/alice/internal/provider"
	"go.uber.org/zap"
)

const (
	DefaultTransportAttempts = 3
	DefaultRetryDelay        = 2 * time.Second
	DefaultMaxCorrections    = 2
	DefaultTemperature       = 0.7
	DefaultTimeout           = 180 * time.Second
)

// Outcome tags how an invocation ended.
type Outcome int

const (
	Success Outcome = iota
	TransportFailure
	FormatFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransportFailure:
		return "transport_failure"
	case FormatFailure:
		return "format_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Chatter routes a chat request for a named resident. *provider.Router
// satisfies it.
type Chatter interface {
	Route(ctx context.Context, name string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Request is one structured call to the model.
type Request struct {
	Site        string        `json:"site"`
	Agent       string        `json:"agent"`
	Model       string        `json:"model,omitempty"`
	System      string        `json:"system,omitempty"`
	Prompt      string        `json:"prompt"`
	Shape       Shape         `json:"shape"`
	Temperature float64       `json:"temperature,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Fallback    Payload       `json:"fallback"`
}

// Result always carries a payload with every shape key, whatever the outcome.
type Result struct {
	Outcome     Outcome `json:"outcome"`
	Payload     Payload `json:"payload"`
	Attempts    int     `json:"attempts"`
	Corrections int     `json:"corrections"`
	Raw         string  `json:"raw,omitempty"`
	Err         error   `json:"-"`
}

// OK reports whether the model produced a valid payload.
func (r Result) OK() bool { return r.Outcome == Success }

// Options tunes the gateway. Zero values take the package defaults.
type Options struct {
	Model             string        `json:"model"`
	Temperature       float64       `json:"temperature"`
	Timeout           time.Duration `json:"timeout"`
	TransportAttempts int           `json:"transport_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	// MaxCorrections is the number of malformed replies tolerated in a row,
	// counting the first one, so at most MaxCorrections-1 corrections are sent.
	MaxCorrections int `json:"max_corrections"`
}

func (o Options) withDefaults() Options {
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.TransportAttempts <= 0 {
		o.TransportAttempts = DefaultTransportAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	} else if o.RetryDelay == 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxCorrections <= 0 {
		o.MaxCorrections = DefaultMaxCorrections
	}
	return o
}

// Gateway turns unreliable model output into shaped payloads. It retries
// transport errors, asks the model to correct malformed JSON, and falls back
// to the caller's payload when both budgets run out.
type Gateway struct {
	chat   Chatter
	opts   Options
	logger *zap.Logger
}

func NewGateway(chat Chatter, opts Options, logger *zap.Logger) *Gateway {
	return &Gateway{chat: chat, opts: opts.withDefaults(), logger: logger}
}

// Options returns the effective settings.
func (g *Gateway) Options() Options { return g.opts }

// Invoke runs send → parse → correct until a valid payload arrives or a
// budget is spent. It never returns an error.
func (g *Gateway) Invoke(ctx context.Context, req Request) (res Result) {
	fallback := req.Shape.complete(req.Fallback, nil)
	res = Result{Payload: fallback}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("model invocation panicked",
				zap.String("site", req.Site), zap.String("agent", req.Agent), zap.Any("panic", r))
			res = Result{
				Outcome:     TransportFailure,
				Payload:     fallback,
				Attempts:    res.Attempts,
				Corrections: res.Corrections,
				Raw:         res.Raw,
				Err:         fmt.Errorf("invoke %s: panic: %v", req.Site, r),
			}
		}
	}()

	prompt := req.Prompt
	malformed := 0
	for {
		raw, attempts, err := g.send(ctx, req, prompt)
		res.Attempts += attempts
		if err != nil {
			g.logger.Warn("model unreachable, using fallback",
				zap.String("site", req.Site), zap.String("agent", req.Agent),
				zap.Int("attempts", res.Attempts), zap.Error(err))
			res.Outcome = TransportFailure
			res.Err = err
			return res
		}
		res.Raw = raw

		payload, perr := req.Shape.Parse(raw)
		if perr == nil {
			res.Outcome = Success
			res.Payload = payload
			res.Err = nil
			return res
		}

		malformed++
		res.Err = perr
		if malformed >= g.opts.MaxCorrections {
			g.logger.Warn("model output malformed, using fallback",
				zap.String("site", req.Site), zap.String("agent", req.Agent),
				zap.Int("malformed", malformed), zap.Error(perr))
			res.Outcome = FormatFailure
			return res
		}

		g.logger.Debug("requesting correction",
			zap.String("site", req.Site), zap.String("agent", req.Agent), zap.Error(perr))
		res.Corrections++
		prompt = CorrectionPrompt(raw, req.Shape)
	}
}

// send makes up to TransportAttempts calls, sleeping a fixed delay between them.
func (g *Gateway) send(ctx context.Context, req Request, prompt string) (string, int, error) {
	model := req.Model
	if model == "" {
		model = g.opts.Model
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = g.opts.Temperature
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.opts.Timeout
	}

	var messages []provider.Message
	if req.System != "" {
		messages = append(messages, provider.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, provider.Message{Role: "user", Content: prompt})
	chatReq := &provider.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temp,
		Format:      provider.FormatJSON,
	}

	var lastErr error
	for attempt := 1; attempt <= g.opts.TransportAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", attempt - 1, fmt.Errorf("send %s: %w", req.Site, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := g.chat.Route(callCtx, req.Agent, chatReq)
		cancel()
		if err == nil && resp != nil {
			return resp.Content, attempt, nil
		}
		if err == nil {
			err = errors.New("empty response")
		}
		lastErr = err
		g.logger.Warn("model call failed",
			zap.String("site", req.Site), zap.String("agent", req.Agent),
			zap.Int("attempt", attempt), zap.Error(err))

		if attempt < g.opts.TransportAttempts {
			if err := sleep(ctx, g.opts.RetryDelay); err != nil {
				return "", attempt, fmt.Errorf("send %s: %w", req.Site, err)
			}
		}
	}
	return "", g.opts.TransportAttempts, fmt.Errorf("send %s after %d attempts: %w", req.Site, g.opts.TransportAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CorrectionPrompt asks the model to repair its previous reply.
func CorrectionPrompt(raw string, shape Shape) string {
	var b strings.Builder
	b.WriteString("Your previous reply could not be used. It must be a single JSON object")
	if len(shape.Keys) > 0 {
		b.WriteString(" with the keys: ")
		b.WriteString(strings.Join(shape.Keys, ", "))
	}
	b.WriteString(".\n\nPrevious reply:\n")
	b.WriteString(raw)
	b.WriteString("\n\nReply with only the corrected JSON object. No explanation.")
	return b.String()
}
