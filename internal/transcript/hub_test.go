package transcript

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func line(n int64) Line {
	return NewLine("run", n, KindAction, "event")
}

func TestPublishFIFO(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe(8)
	for i := int64(1); i <= 3; i++ {
		h.Publish(line(i))
	}
	for i := int64(1); i <= 3; i++ {
		got, ok := sub.TryNext()
		if !ok || got.Turn != i {
			t.Fatalf("line %d = %+v, %v", i, got, ok)
		}
	}
	if _, ok := sub.TryNext(); ok {
		t.Error("TryNext on empty buffer returned a line")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	h := NewHub(zap.NewNop())
	slow := h.Subscribe(2)
	fast := h.Subscribe(10)

	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 5; i++ {
			h.Publish(line(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if slow.Dropped() != 3 {
		t.Errorf("slow dropped = %d, want 3", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Errorf("fast dropped = %d", fast.Dropped())
	}
	first, _ := slow.TryNext()
	if first.Turn != 1 {
		t.Errorf("slow kept %d, want the oldest lines", first.Turn)
	}
	h.Close()
}

func TestCloseEndsSubscriptions(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe(4)
	h.Publish(line(1))
	h.Close()

	got, ok := sub.Next(context.Background())
	if !ok || got.Turn != 1 {
		t.Fatalf("buffered line lost on close: %+v %v", got, ok)
	}
	if _, ok := sub.Next(context.Background()); ok {
		t.Error("Next after close returned ok")
	}

	h.Publish(line(2))
	h.Close()
	late := h.Subscribe(1)
	if _, ok := <-late.C(); ok {
		t.Error("subscription to closed hub is open")
	}
}

func TestNextHonorsContext(t *testing.T) {
	h := NewHub(zap.NewNop())
	defer h.Close()
	sub := h.Subscribe(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := sub.Next(ctx); ok {
		t.Error("Next returned ok with nothing published")
	}
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub(zap.NewNop())
	defer h.Close()
	sub := h.Subscribe(1)
	sub.Close()
	sub.Close()
	if h.Subscribers() != 0 {
		t.Errorf("subscribers = %d", h.Subscribers())
	}
	h.Publish(line(1))
}

func TestPumpDeliversUntilClose(t *testing.T) {
	h := NewHub(zap.NewNop())
	var mu sync.Mutex
	var got []int64
	good := SinkFunc(func(_ context.Context, l Line) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, l.Turn)
		return nil
	})
	bad := SinkFunc(func(context.Context, Line) error { return errors.New("disk full") })

	pump := NewPump(h.Subscribe(16), zap.NewNop(), bad, good)
	errc := make(chan error, 1)
	go func() { errc <- pump.Run(context.Background()) }()

	for i := int64(1); i <= 3; i++ {
		h.Publish(line(i))
	}
	h.Close()

	if err := <-errc; err != nil {
		t.Fatalf("pump err = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[2] != 3 {
		t.Errorf("sink got %v", got)
	}
}

func TestReliableSubscriptionKeepsEveryLine(t *testing.T) {
	h := NewHub(zap.NewNop())
	live := h.Subscribe(2)
	sub := h.SubscribeReliable(2)

	for i := int64(1); i <= 50; i++ {
		h.Publish(line(i))
	}
	h.Close()

	for i := int64(1); i <= 50; i++ {
		got, ok := sub.Next(context.Background())
		if !ok || got.Turn != i {
			t.Fatalf("line %d = %+v, %v", i, got, ok)
		}
	}
	if _, ok := sub.Next(context.Background()); ok {
		t.Error("reliable subscription open after drain")
	}
	if sub.Dropped() != 0 || sub.Pending() != 0 {
		t.Errorf("dropped=%d pending=%d", sub.Dropped(), sub.Pending())
	}
	if live.Dropped() != 48 {
		t.Errorf("live dropped = %d, want 48", live.Dropped())
	}
}

func TestReliableSubscriptionClose(t *testing.T) {
	h := NewHub(zap.NewNop())
	defer h.Close()
	sub := h.SubscribeReliable(1)
	for i := int64(1); i <= 5; i++ {
		h.Publish(line(i))
	}
	sub.Close()
	sub.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				if h.Subscribers() != 0 {
					t.Errorf("subscribers = %d", h.Subscribers())
				}
				return
			}
		case <-deadline:
			t.Fatal("closed reliable subscription never ended")
		}
	}
}

func TestPumpWithSlowSinkArchivesEverything(t *testing.T) {
	h := NewHub(zap.NewNop())
	var mu sync.Mutex
	var got []int64
	slow := SinkFunc(func(_ context.Context, l Line) error {
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, l.Turn)
		return nil
	})

	pump := NewPump(h.SubscribeReliable(2), zap.NewNop(), slow)
	errc := make(chan error, 1)
	go func() { errc <- pump.Run(context.Background()) }()

	for i := int64(1); i <= 30; i++ {
		h.Publish(line(i))
	}
	h.Close()
	if err := <-errc; err != nil {
		t.Fatalf("pump err = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 30 {
		t.Fatalf("archived %d of 30 lines", len(got))
	}
	for i, turn := range got {
		if turn != int64(i+1) {
			t.Fatalf("line %d has turn %d", i, turn)
		}
	}
}
