package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/gateway"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/sim"
	"github.com/nidhogg/alice/internal/world"
	"go.uber.org/zap"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			return &Result{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &Context{Platform: "test"}

	result, err := reg.Dispatch(ctx, "/PING hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "Unknown command") {
		t.Errorf("got %q", result.Content)
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

type fakeSim struct {
	w     *world.World
	turns int
	err   error
}

func (f *fakeSim) World() *world.World { return f.w }

func (f *fakeSim) State() sim.TurnState {
	return sim.TurnState{Actor: "Adam", Mode: agent.ModeNormal, TurnCount: f.turns, Status: "ongoing"}
}

func (f *fakeSim) AdvanceTurn(context.Context) (sim.TurnResult, error) {
	if f.err != nil {
		return sim.TurnResult{}, f.err
	}
	f.turns++
	return sim.TurnResult{Turn: int64(f.turns), Actor: "Adam", Description: "'Adam' did nothing."}, nil
}

func newFakeSim(t *testing.T) *fakeSim {
	t.Helper()
	logger := zap.NewNop()
	reg := agent.NewRegistry(memory.Options{}, logger)
	w := world.New(knowledge.NewBase(logger), reg, logger)
	for _, p := range []agent.Profile{{Name: "Adam"}, {Name: "Wolf", Kind: "creature"}} {
		if _, err := reg.Create(p); err != nil {
			t.Fatal(err)
		}
	}
	w.Places.Move("Adam", "chapel")
	return &fakeSim{w: w}
}

func TestBuiltins(t *testing.T) {
	s := newFakeSim(t)
	reg := NewRegistry()
	RegisterBuiltins(reg, s)
	ctx := context.Background()

	run := func(input string) string {
		t.Helper()
		res, err := reg.Dispatch(ctx, input, &Context{})
		if err != nil {
			t.Fatalf("%s: %v", input, err)
		}
		return res.Content
	}

	if got := run("/help"); !strings.Contains(got, "/beliefs <name>") || !strings.Contains(got, "/turn") {
		t.Errorf("help = %q", got)
	}
	if got := run("/turn"); got != "[T=1] 'Adam' did nothing." {
		t.Errorf("turn = %q", got)
	}
	if got := run("/state"); !strings.Contains(got, "turn 1: Adam acts next") {
		t.Errorf("state = %q", got)
	}
	if got := run("/residents"); !strings.Contains(got, "- Adam (human) at chapel") || !strings.Contains(got, "- Wolf (creature)") {
		t.Errorf("residents = %q", got)
	}

	if got := run("/beliefs Adam"); !strings.Contains(got, "no beliefs") {
		t.Errorf("empty beliefs = %q", got)
	}
	adam, _ := s.w.Residents.Get("Adam")
	adam.Beliefs.SetSummary(ctx, "Wolf", "Dangerous at night.")
	adam.Beliefs.AddNote(ctx, "Wolf", "a torn ear")
	if got := run("/beliefs Adam"); got != "- Wolf: Dangerous at night. (noticed: a torn ear)" {
		t.Errorf("beliefs = %q", got)
	}
	if got := run("/beliefs Nobody"); !strings.Contains(got, "No resident") {
		t.Errorf("unknown resident = %q", got)
	}

	s.err = sim.ErrTerminated
	if _, err := reg.Dispatch(ctx, "/turn", &Context{}); !errors.Is(err, sim.ErrTerminated) {
		t.Errorf("turn after end: err = %v", err)
	}
}

type replyAdapter struct {
	handler gateway.MessageHandler
	sent    chan *gateway.OutboundMessage
}

func (r *replyAdapter) Platform() string                   { return "discord" }
func (r *replyAdapter) Connect(context.Context) error      { return nil }
func (r *replyAdapter) OnMessage(h gateway.MessageHandler) { r.handler = h }
func (r *replyAdapter) Close() error                       { return nil }
func (r *replyAdapter) Send(_ context.Context, m *gateway.OutboundMessage) error {
	r.sent <- m
	return nil
}

func TestGatewayHandler(t *testing.T) {
	s := newFakeSim(t)
	reg := NewRegistry()
	RegisterBuiltins(reg, s)

	gw := gateway.NewGateway(zap.NewNop())
	a := &replyAdapter{sent: make(chan *gateway.OutboundMessage, 1)}
	gw.Register(a)

	var heard []string
	gw.SetHandler(GatewayHandler(reg, gw, func(m *gateway.InboundMessage) {
		heard = append(heard, m.Content)
	}, zap.NewNop()))

	a.handler(&gateway.InboundMessage{Platform: "discord", ChannelID: "c1", Content: "The bell cracks."})
	if len(heard) != 1 || heard[0] != "The bell cracks." {
		t.Fatalf("fallback got %v", heard)
	}

	a.handler(&gateway.InboundMessage{Platform: "discord", ChannelID: "c1", Content: "/state"})
	select {
	case m := <-a.sent:
		if m.ChannelID != "c1" || !strings.Contains(m.Content, "Adam acts next") {
			t.Errorf("reply = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to /state")
	}
	if len(heard) != 1 {
		t.Errorf("command leaked into the world: %v", heard)
	}
}
