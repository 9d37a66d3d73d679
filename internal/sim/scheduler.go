package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/decision"
	"github.com/nidhogg/alice/internal/llm"
	"github.com/nidhogg/alice/internal/tools"
	"github.com/nidhogg/alice/internal/transcript"
	"github.com/nidhogg/alice/internal/world"
	"go.uber.org/zap"
)

var (
	ErrTerminated = errors.New("simulation terminated")
	ErrNoActors   = errors.New("no actors in turn order")
)

// DefaultOpening is the first observation when no opening event is set.
const DefaultOpening = "Nothing in particular is happening."

// Reason says why a run stopped.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonTurnCap   Reason = "turn_cap"
	ReasonVerdict   Reason = "verdict"
	ReasonCancelled Reason = "cancelled"
)

// TurnState is the scheduler's position in the run.
type TurnState struct {
	ActorIndex int        `json:"actor_index"`
	Actor      string     `json:"actor"`
	Mode       agent.Mode `json:"mode"`
	TurnCount  int        `json:"turn_count"`
	Status     string     `json:"status"`
	Terminated bool       `json:"terminated"`
	Reason     Reason     `json:"reason,omitempty"`
}

// TurnResult describes one completed turn.
type TurnResult struct {
	Turn            int64        `json:"turn"`
	Actor           string       `json:"actor"`
	Mode            agent.Mode   `json:"mode"`
	Thought         string       `json:"thought"`
	Action          agent.Action `json:"action"`
	Description     string       `json:"description"`
	Status          string       `json:"status"`
	Outcome         llm.Outcome  `json:"outcome"`
	Fallback        bool         `json:"fallback"`
	ForcedExtraTurn bool         `json:"forced_extra_turn"`
	State           TurnState    `json:"state"`
}

// Executor applies an action to the world.
type Executor interface {
	Execute(ctx context.Context, actor *agent.Agent, action agent.Action, turn int64) tools.Outcome
}

// Plan fixes who acts and when the run ends.
type Plan struct {
	Order      []string `json:"order" yaml:"order"`
	Privileged string   `json:"privileged" yaml:"privileged"`
	MaxTurns   int      `json:"max_turns" yaml:"max_turns"`
	Opening    string   `json:"opening" yaml:"opening"`
}

// Scheduler runs turns one at a time in a fixed round-robin order.
type Scheduler struct {
	world    *world.World
	decider  decision.Decider
	executor Executor
	plan     Plan
	hub      *transcript.Hub
	runID    string

	turnMu      sync.Mutex // held for a whole turn
	mu          sync.RWMutex
	state       TurnState
	observation string
	stopped     atomic.Bool
	logger      *zap.Logger
}

// NewScheduler validates the plan against the registry. hub may be nil.
func NewScheduler(w *world.World, decider decision.Decider, executor Executor, plan Plan,
	hub *transcript.Hub, runID string, logger *zap.Logger) (*Scheduler, error) {
	if len(plan.Order) == 0 {
		return nil, ErrNoActors
	}
	for _, name := range plan.Order {
		if _, err := w.Residents.Lookup(name); err != nil {
			return nil, fmt.Errorf("new scheduler: %w", err)
		}
	}
	if plan.Opening == "" {
		plan.Opening = DefaultOpening
	}
	plan.Order = append([]string{}, plan.Order...)

	return &Scheduler{
		world:       w,
		decider:     decider,
		executor:    executor,
		plan:        plan,
		hub:         hub,
		runID:       runID,
		observation: plan.Opening,
		state: TurnState{
			Actor:  plan.Order[0],
			Mode:   agent.ModeNormal,
			Status: decision.StatusOngoing,
		},
		logger: logger,
	}, nil
}

// State returns a copy of the current turn state.
func (s *Scheduler) State() TurnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) Plan() Plan { return s.plan }

// InjectObservation replaces the observation the next actor will see.
func (s *Scheduler) InjectObservation(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observation = text
	s.logger.Debug("observation injected", zap.String("text", text))
}

// Stop asks the scheduler to end the run before its next turn.
func (s *Scheduler) Stop() { s.stopped.Store(true) }

// Exclusive runs fn while no turn is in progress.
func (s *Scheduler) Exclusive(fn func()) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	fn()
}

// Step plays one turn. It returns ErrTerminated once the run is over,
// including the step that notices cancellation.
func (s *Scheduler) Step(ctx context.Context) (TurnResult, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.RLock()
	st := s.state
	obs := s.observation
	s.mu.RUnlock()

	if st.Terminated {
		return TurnResult{State: st}, ErrTerminated
	}
	if ctx.Err() != nil || s.stopped.Load() {
		st = s.terminate(ReasonCancelled)
		return TurnResult{State: st}, ErrTerminated
	}

	name := s.plan.Order[st.ActorIndex]
	actor, err := s.world.Residents.Lookup(name)
	if err != nil {
		return TurnResult{State: st}, fmt.Errorf("step: %w", err)
	}

	now := s.world.Clock.Tick(ctx)
	privileged := name == s.plan.Privileged
	dec := s.decider.Decide(ctx, decision.Input{
		Agent:       actor,
		Timestamp:   now,
		Observation: obs,
		Mode:        st.Mode,
		Others:      s.world.Present(name),
		Location:    s.world.Places.Location(name),
		Privileged:  privileged,
	})
	if dec.Fallback {
		s.world.Tally.RecordFallback(name)
	}

	out := s.executor.Execute(ctx, actor, dec.Action, now)

	res := TurnResult{
		Turn:            now,
		Actor:           name,
		Mode:            st.Mode,
		Thought:         dec.Thought,
		Action:          dec.Action,
		Description:     out.Description,
		Status:          dec.Status,
		Outcome:         dec.Outcome,
		Fallback:        dec.Fallback,
		ForcedExtraTurn: out.ForcedExtraTurn,
	}

	s.mu.Lock()
	if out.ForcedExtraTurn && st.Mode == agent.ModeNormal {
		st.Mode = agent.ModeForcedSpeak
	} else {
		st.ActorIndex = (st.ActorIndex + 1) % len(s.plan.Order)
		st.Mode = agent.ModeNormal
	}
	st.Actor = s.plan.Order[st.ActorIndex]
	st.TurnCount++
	// an injection during the turn wins over the turn's own description
	if s.observation == obs {
		s.observation = out.Description
	}

	var reason Reason
	switch {
	case privileged && dec.Status != decision.StatusOngoing:
		st.Status = dec.Status
		reason = ReasonVerdict
	case s.plan.MaxTurns > 0 && st.TurnCount >= s.plan.MaxTurns:
		reason = ReasonTurnCap
	case ctx.Err() != nil || s.stopped.Load():
		reason = ReasonCancelled
	}
	s.state = st
	s.mu.Unlock()

	s.logger.Info("turn completed",
		zap.Int64("t", now),
		zap.String("actor", name),
		zap.String("mode", string(res.Mode)),
		zap.String("tool", dec.Action.ToolName),
		zap.Int("turn_count", st.TurnCount))

	if reason != ReasonNone {
		st = s.terminate(reason)
	}
	res.State = st
	return res, nil
}

// Run steps until the run terminates and returns the final state.
func (s *Scheduler) Run(ctx context.Context) TurnState {
	for {
		if _, err := s.Step(ctx); err != nil {
			if !errors.Is(err, ErrTerminated) {
				s.logger.Error("turn failed", zap.Error(err))
				s.terminate(ReasonCancelled)
			}
			return s.State()
		}
	}
}

func (s *Scheduler) terminate(reason Reason) TurnState {
	s.mu.Lock()
	if s.state.Terminated {
		st := s.state
		s.mu.Unlock()
		return st
	}
	s.state.Terminated = true
	s.state.Reason = reason
	st := s.state
	s.mu.Unlock()

	s.logger.Info("simulation terminated",
		zap.String("reason", string(reason)),
		zap.String("status", st.Status),
		zap.Int("turn_count", st.TurnCount))
	if s.hub != nil {
		line := transcript.NewLine(s.runID, s.world.Clock.Now(), transcript.KindSystem,
			fmt.Sprintf("The simulation ended after %d turns (%s, status %s).", st.TurnCount, reason, st.Status))
		s.hub.Publish(line)
	}
	return st
}
