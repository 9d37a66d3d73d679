package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/belief"
	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/decision"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/llm"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/provider"
	"github.com/nidhogg/alice/internal/tools"
	"github.com/nidhogg/alice/internal/transcript"
	"github.com/nidhogg/alice/internal/world"
	"go.uber.org/zap"
)

var (
	ErrRunning = errors.New("simulation already running")
	ErrStarted = errors.New("simulation already started")
	ErrClosed  = errors.New("engine closed")
)

// Deps are the backends an engine is wired to. Only Chat is required.
type Deps struct {
	Chat      llm.Chatter
	Router    *provider.Router
	Knowledge *knowledge.Base
	Retriever memory.Retriever
	Archives  []memory.Archive
	Mirrors   []belief.Mirror
	Sinks     []transcript.Sink
	Rand      *rand.Rand
}

// Engine is the entry point of a simulation run.
type Engine struct {
	cfg        config.SimulationConfig
	runID      string
	deps       Deps
	world      *world.World
	gateway    *llm.Gateway
	decider    decision.Decider
	reflector  *decision.Reflector
	dispatcher *tools.Dispatcher
	hub        *transcript.Hub
	pumps      sync.WaitGroup

	mu        sync.Mutex
	plan      Plan
	sched     *Scheduler
	runCancel context.CancelFunc
	runDone   chan struct{}
	closed    bool
	finishers []func(TurnState)
	finished  bool
	logger    *zap.Logger
}

// NewEngine assembles a world, the model gateway, the decision engine and
// the tool dispatcher around deps.
func NewEngine(cfg config.SimulationConfig, deps Deps, logger *zap.Logger) *Engine {
	cfg = cfg.Defaults()
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	kb := deps.Knowledge
	if kb == nil {
		kb = knowledge.NewBase(logger)
	}
	rng := deps.Rand
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}

	registry := agent.NewRegistry(memory.Options{
		SummaryThreshold: cfg.SummaryThreshold,
		SummaryMaxChars:  cfg.SummaryMaxChars,
	}, logger)
	w := world.New(kb, registry, logger)
	hub := transcript.NewHub(logger)

	gw := llm.NewGateway(deps.Chat, llm.Options{
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		Timeout:           cfg.Timeout(),
		TransportAttempts: cfg.TransportAttempts,
		RetryDelay:        cfg.RetryDelay(),
		MaxCorrections:    cfg.MaxCorrections,
	}, logger)

	opts := decision.Options{
		RecentLimit:   cfg.RecentLimit,
		RelevantLimit: cfg.RelevantLimit,
		Temperature:   cfg.Temperature,
		Timeout:       cfg.Timeout(),
	}
	var decider decision.Decider
	if cfg.Engine == config.EnginePipeline {
		decider = decision.NewPipeline(gw, kb, opts, logger)
	} else {
		decider = decision.NewEngine(gw, kb, opts, logger)
	}

	e := &Engine{
		cfg:        cfg,
		runID:      runID,
		deps:       deps,
		world:      w,
		gateway:    gw,
		decider:    decider,
		reflector:  decision.NewReflector(gw, logger),
		dispatcher: tools.NewDispatcher(w, hub, runID, rng, logger),
		hub:        hub,
		plan:       Plan{MaxTurns: cfg.MaxTurns},
		logger:     logger.With(zap.String("run", runID)),
	}

	if cfg.ReflectEvery > 0 {
		w.Clock.AddListener(world.NewHeartbeat(cfg.ReflectEvery, e.dream, registry.Names, logger))
	}
	for _, sink := range deps.Sinks {
		pump := transcript.NewPump(hub.SubscribeReliable(cfg.QueueSize), logger, sink)
		e.pumps.Add(1)
		go func() {
			defer e.pumps.Done()
			pump.Run(context.Background())
		}()
	}
	return e
}

func (e *Engine) RunID() string { return e.runID }

func (e *Engine) World() *world.World { return e.world }

func (e *Engine) Config() config.SimulationConfig { return e.cfg }

// Dispatcher exposes the tool registry so callers can add tools.
func (e *Engine) Dispatcher() *tools.Dispatcher { return e.dispatcher }

// CreateAgent registers a resident and wires its stores to the engine's
// summarizer, retriever, archives and belief mirrors.
func (e *Engine) CreateAgent(p agent.Profile) (*agent.Agent, error) {
	a, err := e.world.Residents.Create(p)
	if err != nil {
		return nil, err
	}
	a.Memory.SetSummarizer(decision.NewSummarizer(e.gateway, a.Name))
	if e.deps.Retriever != nil {
		a.Memory.SetRetriever(e.deps.Retriever)
	}
	for _, arc := range e.deps.Archives {
		a.Memory.AddArchive(arc)
	}
	for _, m := range e.deps.Mirrors {
		a.Beliefs.AddMirror(m)
	}
	if p.Location != "" {
		e.world.Places.Move(a.Name, p.Location)
	}
	if e.deps.Router != nil {
		if p.Provider != "" {
			e.deps.Router.Bind(a.Name, p.Provider)
		}
		if len(p.Fallbacks) > 0 {
			e.deps.Router.SetFallbacks(a.Name, p.Fallbacks)
		}
	}
	return a, nil
}

// Configure sets turn order, the privileged resident, the cap and the
// opening event. It must be called before the first turn.
func (e *Engine) Configure(plan Plan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sched != nil {
		return ErrStarted
	}
	if plan.MaxTurns <= 0 {
		plan.MaxTurns = e.cfg.MaxTurns
	}
	if plan.Opening == "" {
		plan.Opening = e.plan.Opening
	}
	e.plan = plan
	return nil
}

// scheduler builds the scheduler on first use. Without an explicit order
// residents act in creation order.
func (e *Engine) scheduler() (*Scheduler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.sched != nil {
		return e.sched, nil
	}
	plan := e.plan
	if len(plan.Order) == 0 {
		plan.Order = e.world.Residents.Names()
	}
	s, err := NewScheduler(e.world, e.decider, e.dispatcher, plan, e.hub, e.runID, e.logger)
	if err != nil {
		return nil, err
	}
	e.sched = s
	e.hub.Publish(transcript.NewLine(e.runID, 0, transcript.KindObservation, s.observation))
	return s, nil
}

// AdvanceTurn plays exactly one turn.
func (e *Engine) AdvanceTurn(ctx context.Context) (TurnResult, error) {
	s, err := e.scheduler()
	if err != nil {
		return TurnResult{}, fmt.Errorf("advance turn: %w", err)
	}
	r, err := s.Step(ctx)
	if r.State.Terminated {
		e.finish(r.State)
	}
	return r, err
}

// OnFinish registers fn to be called once when the run terminates.
func (e *Engine) OnFinish(fn func(TurnState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishers = append(e.finishers, fn)
}

func (e *Engine) finish(st TurnState) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	fns := append([]func(TurnState){}, e.finishers...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// InjectObservation sets what the next actor observes.
func (e *Engine) InjectObservation(text string) {
	e.mu.Lock()
	s := e.sched
	if s == nil {
		e.plan.Opening = text
	}
	e.mu.Unlock()

	// before the first turn the opening line is published when the scheduler starts
	if s != nil {
		s.InjectObservation(text)
		e.hub.Publish(transcript.NewLine(e.runID, e.world.Clock.Now(), transcript.KindObservation, text))
	}
}

// SubscribeTranscript opens a live view of the transcript.
func (e *Engine) SubscribeTranscript(buffer int) *transcript.Subscription {
	if buffer <= 0 {
		buffer = e.cfg.QueueSize
	}
	return e.hub.Subscribe(buffer)
}

// State reports the turn state. Before the first turn it describes the
// state the run would start in.
func (e *Engine) State() TurnState {
	e.mu.Lock()
	s := e.sched
	e.mu.Unlock()
	if s != nil {
		return s.State()
	}
	st := TurnState{Mode: agent.ModeNormal, Status: decision.StatusOngoing}
	if names := e.world.Residents.Names(); len(names) > 0 {
		st.Actor = names[0]
		if len(e.plan.Order) > 0 {
			st.Actor = e.plan.Order[0]
		}
	}
	return st
}

// Run plays turns until the run terminates.
func (e *Engine) Run(ctx context.Context) (TurnState, error) {
	s, err := e.scheduler()
	if err != nil {
		return TurnState{}, fmt.Errorf("run: %w", err)
	}
	st := s.Run(ctx)
	e.finish(st)
	return st, nil
}

// Start runs in the background until termination, Stop or Close.
func (e *Engine) Start(ctx context.Context) error {
	s, err := e.scheduler()
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runDone != nil {
		select {
		case <-e.runDone:
		default:
			return ErrRunning
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.runCancel, e.runDone = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		st := s.Run(runCtx)
		e.finish(st)
		e.logger.Info("background run finished",
			zap.String("reason", string(st.Reason)), zap.Int("turn_count", st.TurnCount))
	}()
	return nil
}

// Running reports whether a background run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runDone == nil {
		return false
	}
	select {
	case <-e.runDone:
		return false
	default:
		return true
	}
}

// Stop cancels the run cooperatively and waits for a background run to end.
func (e *Engine) Stop() {
	e.mu.Lock()
	s, cancel, done := e.sched, e.runCancel, e.runDone
	e.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Reflect makes a resident dream now, between turns.
func (e *Engine) Reflect(ctx context.Context, name string) (decision.Reflection, error) {
	a, err := e.world.Residents.Lookup(name)
	if err != nil {
		return decision.Reflection{}, err
	}
	e.mu.Lock()
	s := e.sched
	e.mu.Unlock()

	var (
		out  decision.Reflection
		rerr error
	)
	run := func() { out, rerr = e.reflect(ctx, a, e.world.Clock.Now()) }
	if s != nil {
		s.Exclusive(run)
	} else {
		run()
	}
	return out, rerr
}

// dream is the heartbeat callback; it runs inside a turn.
func (e *Engine) dream(ctx context.Context, name string, now int64) error {
	a, err := e.world.Residents.Lookup(name)
	if err != nil {
		return err
	}
	_, err = e.reflect(ctx, a, now)
	return err
}

func (e *Engine) reflect(ctx context.Context, a *agent.Agent, ts int64) (decision.Reflection, error) {
	r, err := e.reflector.Reflect(ctx, a, ts)
	if err != nil {
		return r, fmt.Errorf("reflect %s: %w", a.Name, err)
	}
	if r.Skipped || r.Outcome != llm.Success {
		return r, nil
	}
	e.world.Tally.RecordReflection(a.Name)
	line := transcript.NewLine(e.runID, ts, transcript.KindSystem,
		fmt.Sprintf("'%s' drifts into reflection: %s", a.Name, r.Summary))
	line.Actor = a.Name
	e.hub.Publish(line)
	return r, nil
}

// Close stops any run, closes the transcript hub and waits for sinks to
// drain. Subscribers observe their channels closing.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.Close()
	e.pumps.Wait()
	e.logger.Info("engine closed", zap.Int64("lines", e.hub.Published()))
}
