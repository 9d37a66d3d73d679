package tools

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/transcript"
	"github.com/nidhogg/alice/internal/world"
	"go.uber.org/zap"
)

const (
	DefaultTarget      = "the air"
	DefaultContent     = "..."
	DefaultDestination = "their current location"
)

// Outcome is what a tool did to the world.
type Outcome struct {
	Tool            string `json:"tool"`
	Description     string `json:"description"`
	ForcedExtraTurn bool   `json:"forced_extra_turn"`
	// Revealed is the hidden detail uncovered by observe_detail, if any.
	Revealed string `json:"revealed,omitempty"`
}

// Call is one tool invocation as a handler sees it.
type Call struct {
	Actor  *agent.Agent
	Action agent.Action
	Turn   int64
}

// Handler executes one tool against the world.
type Handler func(ctx context.Context, call Call) Outcome

// Dispatcher maps tool names to handlers and applies actions to the world.
type Dispatcher struct {
	handlers map[string]Handler
	world    *world.World
	hub      *transcript.Hub
	runID    string
	rng      *rand.Rand
	rngMu    sync.Mutex
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with the built-in tools registered.
// hub may be nil.
func NewDispatcher(w *world.World, hub *transcript.Hub, runID string, rng *rand.Rand, logger *zap.Logger) *Dispatcher {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		world:    w,
		hub:      hub,
		runID:    runID,
		rng:      rng,
		logger:   logger,
	}
	d.Register(agent.ToolSpeak, d.speak)
	d.Register(agent.ToolMove, d.move)
	d.Register(agent.ToolObserveDetail, d.observeDetail)
	d.Register(agent.ToolDoNothing, d.doNothing)
	return d
}

// Register adds or replaces a tool handler.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Tools lists registered tool names.
func (d *Dispatcher) Tools() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		names = append(names, n)
	}
	return names
}

// Execute runs action for actor at turn. Unknown tools act as do_nothing.
func (d *Dispatcher) Execute(ctx context.Context, actor *agent.Agent, action agent.Action, turn int64) Outcome {
	d.mu.RLock()
	h, ok := d.handlers[action.ToolName]
	d.mu.RUnlock()

	tool := action.ToolName
	if !ok {
		d.logger.Info("unknown tool, doing nothing",
			zap.String("resident", actor.Name),
			zap.String("tool", action.ToolName))
		h = d.doNothing
		tool = agent.ToolDoNothing
	}

	out := h(ctx, Call{Actor: actor, Action: action, Turn: turn})
	if out.Tool == "" {
		out.Tool = tool
	}
	d.world.Tally.RecordTool(actor.Name, out.Tool, turn)

	if d.hub != nil {
		line := transcript.NewLine(d.runID, turn, transcript.KindAction, out.Description)
		line.Actor = actor.Name
		line.Tool = out.Tool
		if out.Tool == agent.ToolSpeak {
			line.Target = action.Param(agent.ParamTargetName, DefaultTarget)
			line.Content = action.Param(agent.ParamContent, DefaultContent)
		}
		d.hub.Publish(line)
	}
	return out
}

func (d *Dispatcher) speak(_ context.Context, c Call) Outcome {
	target := c.Action.Param(agent.ParamTargetName, DefaultTarget)
	content := c.Action.Param(agent.ParamContent, DefaultContent)
	return Outcome{
		Tool:        agent.ToolSpeak,
		Description: fmt.Sprintf("'%s' says to '%s': '%s'", c.Actor.Name, target, content),
	}
}

func (d *Dispatcher) move(_ context.Context, c Call) Outcome {
	dest := c.Action.Param(agent.ParamDestination, DefaultDestination)
	if dest != DefaultDestination {
		d.world.Places.Move(c.Actor.Name, dest)
	}
	return Outcome{
		Tool:        agent.ToolMove,
		Description: fmt.Sprintf("'%s' moved to '%s'.", c.Actor.Name, dest),
	}
}

func (d *Dispatcher) observeDetail(ctx context.Context, c Call) Outcome {
	out := Outcome{
		Tool:            agent.ToolObserveDetail,
		Description:     fmt.Sprintf("'%s' carefully observes their surroundings, but notices nothing special.", c.Actor.Name),
		ForcedExtraTurn: true,
	}

	name := c.Action.Param(agent.ParamTarget, "")
	if name == "" || name == c.Actor.Name {
		return out
	}
	target, ok := d.world.Residents.Get(name)
	if !ok {
		return out
	}

	d.rngMu.Lock()
	fact, ok := target.PopHiddenDetail(d.rng)
	d.rngMu.Unlock()
	if !ok {
		return out
	}

	c.Actor.Beliefs.AddNote(ctx, target.Name, fact)
	d.world.Tally.RecordReveal(c.Actor.Name)
	d.logger.Debug("hidden detail revealed",
		zap.String("observer", c.Actor.Name),
		zap.String("target", target.Name),
		zap.Int("remaining", target.HiddenDetailCount()))

	out.Description = fmt.Sprintf("'%s' carefully observes '%s' and notices a detail: %s", c.Actor.Name, target.Name, fact)
	out.Revealed = fact
	return out
}

func (d *Dispatcher) doNothing(_ context.Context, c Call) Outcome {
	return Outcome{
		Tool:        agent.ToolDoNothing,
		Description: fmt.Sprintf("'%s' did nothing.", c.Actor.Name),
	}
}
