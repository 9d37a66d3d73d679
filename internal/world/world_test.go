package world

import (
	"context"
	"errors"
	"testing"

	"github.com/nidhogg/alice/internal/agent"
	"github.com/nidhogg/alice/internal/knowledge"
	"github.com/nidhogg/alice/internal/memory"
	"go.uber.org/zap"
)

func TestClockTicksAndNotifies(t *testing.T) {
	c := NewClock(zap.NewNop())
	var seen []int64
	c.AddListener(ListenerFunc(func(_ context.Context, now int64) {
		seen = append(seen, now)
	}))

	if c.Now() != 0 {
		t.Fatalf("start = %d", c.Now())
	}
	for i := 0; i < 3; i++ {
		c.Tick(context.Background())
	}
	if c.Now() != 3 {
		t.Errorf("now = %d", c.Now())
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("listener saw %v", seen)
	}
}

func TestPlaces(t *testing.T) {
	p := NewPlaces(zap.NewNop())
	if p.Location("Lily") != "" {
		t.Error("unknown resident has a location")
	}
	p.Move("Lily", "square")
	p.Move("Adam", "square")
	if prev := p.Move("Lily", "chapel"); prev != "square" {
		t.Errorf("prev = %q", prev)
	}
	if got := p.Occupants("square"); len(got) != 1 || got[0] != "Adam" {
		t.Errorf("occupants = %v", got)
	}
}

func TestTally(t *testing.T) {
	tl := NewTally(zap.NewNop())
	tl.RecordTool("Lily", "speak", 1)
	tl.RecordTool("Lily", "speak", 2)
	tl.RecordTool("Lily", "move", 3)
	tl.RecordReveal("Lily")

	s := tl.Get("Lily")
	if s.Turns != 3 || s.Tools["speak"] != 2 || s.Revealed != 1 {
		t.Errorf("stats = %+v", s)
	}
	if len(s.Milestones) != 2 {
		t.Errorf("milestones = %v", s.Milestones)
	}
	s.Tools["speak"] = 99
	if tl.Get("Lily").Tools["speak"] != 2 {
		t.Error("Get returned shared map")
	}
	if got := tl.Get("Nobody"); got.Turns != 0 || got.Tools == nil {
		t.Errorf("empty stats = %+v", got)
	}
}

func TestHeartbeatInterval(t *testing.T) {
	var beats []int64
	h := NewHeartbeat(3, func(_ context.Context, name string, now int64) error {
		beats = append(beats, now)
		if name == "bad" {
			return errors.New("fail")
		}
		return nil
	}, func() []string { return []string{"Lily"} }, zap.NewNop())

	c := NewClock(zap.NewNop())
	c.AddListener(h)
	for i := 0; i < 7; i++ {
		c.Tick(context.Background())
	}
	if len(beats) != 2 || beats[0] != 3 || beats[1] != 6 {
		t.Errorf("beats = %v", beats)
	}

	if n := h.FireNow(context.Background(), 7); n != 1 {
		t.Errorf("FireNow fired %d", n)
	}
}

func TestWorldPresent(t *testing.T) {
	reg := agent.NewRegistry(memory.Options{}, zap.NewNop())
	for _, n := range []string{"Priest", "Lily", "Adam"} {
		reg.Create(agent.Profile{Name: n})
	}
	w := New(knowledge.NewBase(zap.NewNop()), reg, zap.NewNop())
	got := w.Present("Lily")
	if len(got) != 2 || got[0].Name != "Priest" || got[1].Name != "Adam" {
		t.Errorf("present = %v", got)
	}
}
