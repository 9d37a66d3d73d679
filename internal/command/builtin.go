package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/alice/internal/sim"
	"github.com/nidhogg/alice/internal/world"
)

// Simulation is the part of sim.Engine the built-in commands use.
type Simulation interface {
	State() sim.TurnState
	AdvanceTurn(ctx context.Context) (sim.TurnResult, error)
	World() *world.World
}

// RegisterBuiltins registers /help, /state, /turn, /residents and /beliefs.
func RegisterBuiltins(reg *Registry, s Simulation) {
	reg.Register(helpCommand(reg))
	reg.Register(stateCommand(s))
	reg.Register(turnCommand(s))
	reg.Register(residentsCommand(s))
	reg.Register(beliefsCommand(s))
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			var b strings.Builder
			b.WriteString("Commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  %s  %s\n", c.Usage, c.Description)
			}
			b.WriteString("Anything else you write is heard inside the world.")
			return &Result{Content: b.String()}, nil
		},
	}
}

func stateCommand(s Simulation) *Command {
	return &Command{
		Name:        "state",
		Description: "Show whose turn it is",
		Usage:       "/state",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			st := s.State()
			content := fmt.Sprintf("T=%d, turn %d: %s acts next (%s). Status: %s.",
				s.World().Clock.Now(), st.TurnCount, st.Actor, st.Mode, st.Status)
			if st.Terminated {
				content = fmt.Sprintf("The run ended after %d turns (%s).", st.TurnCount, st.Reason)
			}
			return &Result{Content: content, Data: st}, nil
		},
	}
}

func turnCommand(s Simulation) *Command {
	return &Command{
		Name:        "turn",
		Description: "Play one turn",
		Usage:       "/turn",
		Handler: func(ctx context.Context, _ string, _ *Context) (*Result, error) {
			r, err := s.AdvanceTurn(ctx)
			if err != nil {
				return nil, fmt.Errorf("turn: %w", err)
			}
			return &Result{Content: fmt.Sprintf("[T=%d] %s", r.Turn, r.Description), Data: r}, nil
		},
	}
}

func residentsCommand(s Simulation) *Command {
	return &Command{
		Name:        "residents",
		Description: "List residents and where they are",
		Usage:       "/residents",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			w := s.World()
			list := w.Residents.List()
			if len(list) == 0 {
				return &Result{Content: "Nobody lives here yet."}, nil
			}
			var b strings.Builder
			for _, a := range list {
				fmt.Fprintf(&b, "- %s (%s) at %s\n", a.Name, a.Kind, w.Places.Location(a.Name))
			}
			return &Result{Content: strings.TrimRight(b.String(), "\n")}, nil
		},
	}
}

func beliefsCommand(s Simulation) *Command {
	return &Command{
		Name:        "beliefs",
		Description: "Show what a resident believes about the others",
		Usage:       "/beliefs <name>",
		Handler: func(_ context.Context, args string, _ *Context) (*Result, error) {
			if args == "" {
				return &Result{Content: "Usage: /beliefs <name>"}, nil
			}
			a, ok := s.World().Residents.Get(args)
			if !ok {
				return &Result{Content: fmt.Sprintf("No resident named %s.", args)}, nil
			}
			targets := a.Beliefs.Targets()
			if len(targets) == 0 {
				return &Result{Content: fmt.Sprintf("%s has formed no beliefs yet.", a.Name)}, nil
			}
			var b strings.Builder
			for _, t := range targets {
				r := a.Beliefs.Get(t)
				fmt.Fprintf(&b, "- %s: %s", t, r.Summary)
				if len(r.Notes) > 0 {
					fmt.Fprintf(&b, " (noticed: %s)", strings.Join(r.Notes, "; "))
				}
				b.WriteString("\n")
			}
			return &Result{Content: strings.TrimRight(b.String(), "\n"), Data: a.Beliefs.Snapshot()}, nil
		},
	}
}
