package transcript

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length when none is given.
const DefaultBuffer = 64

// Hub fans transcript lines out to subscribers. Publish never blocks: a
// live subscriber whose buffer is full misses the line, a reliable one
// queues it.
type Hub struct {
	subs      map[uint64]*Subscription
	nextID    uint64
	closed    bool
	published atomic.Int64
	mu        sync.RWMutex
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscription is one consumer's FIFO view of the hub.
type Subscription struct {
	id      uint64
	ch      chan Line
	hub     *Hub
	dropped atomic.Int64
	once    sync.Once

	// reliable subscriptions spill into queue and a forwarder feeds ch
	reliable bool
	qmu      sync.Mutex
	queue    []Line
	draining bool
	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

// Subscribe registers a live consumer that may miss lines when it lags.
// A closed hub returns an already closed subscription.
func (h *Hub) Subscribe(buffer int) *Subscription {
	return h.subscribe(buffer, false)
}

// SubscribeReliable registers a consumer that never misses a line. Lines it
// has not taken yet wait in an unbounded queue, so it suits sinks that
// archive the run rather than viewers.
func (h *Hub) SubscribeReliable(buffer int) *Subscription {
	return h.subscribe(buffer, true)
}

func (h *Hub) subscribe(buffer int, reliable bool) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscription{ch: make(chan Line, buffer), hub: h, reliable: reliable}
	if h.closed {
		s.closeCh()
		return s
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	if reliable {
		s.wake = make(chan struct{}, 1)
		s.quit = make(chan struct{})
		go s.forward()
	}
	return s
}

// Publish offers line to every subscriber.
func (h *Hub) Publish(line Line) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, s := range h.subs {
		if s.reliable {
			s.enqueue(line)
			continue
		}
		select {
		case s.ch <- line:
		default:
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				h.logger.Warn("transcript subscriber lagging, line dropped",
					zap.Uint64("subscriber", s.id), zap.Int64("dropped", n))
			}
		}
	}
}

// Close ends every subscription. Consumers drain what is buffered and then
// see the channel closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.drain()
		delete(h.subs, id)
	}
	h.logger.Debug("transcript hub closed", zap.Int64("published", h.published.Load()))
}

// Published is the number of lines offered so far.
func (h *Hub) Published() int64 { return h.published.Load() }

// Subscribers is the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// C exposes the underlying channel for select loops.
func (s *Subscription) C() <-chan Line { return s.ch }

// Next blocks for the next line. ok is false once the hub is closed and
// drained, or when ctx ends.
func (s *Subscription) Next(ctx context.Context) (Line, bool) {
	select {
	case line, ok := <-s.ch:
		return line, ok
	case <-ctx.Done():
		return Line{}, false
	}
}

// TryNext returns a buffered line without blocking.
func (s *Subscription) TryNext() (Line, bool) {
	select {
	case line, ok := <-s.ch:
		return line, ok
	default:
		return Line{}, false
	}
}

// Dropped counts lines this subscriber missed. Always zero when reliable.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Pending is the number of queued lines not yet handed to the channel.
func (s *Subscription) Pending() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription from the hub. Queued lines are discarded.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s.id)
	if s.reliable {
		s.quitOnce.Do(func() { close(s.quit) })
		return
	}
	s.closeCh()
}

func (s *Subscription) closeCh() { s.once.Do(func() { close(s.ch) }) }

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) enqueue(line Line) {
	s.qmu.Lock()
	s.queue = append(s.queue, line)
	s.qmu.Unlock()
	s.signal()
}

// drain closes the channel once everything already published has been
// delivered.
func (s *Subscription) drain() {
	if !s.reliable {
		s.closeCh()
		return
	}
	s.qmu.Lock()
	s.draining = true
	s.qmu.Unlock()
	s.signal()
}

// forward moves queued lines into ch in order, blocking on a slow consumer.
func (s *Subscription) forward() {
	defer s.closeCh()
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			done := s.draining
			s.qmu.Unlock()
			if done {
				return
			}
			select {
			case <-s.wake:
			case <-s.quit:
				return
			}
			continue
		}
		line := s.queue[0]
		s.queue[0] = Line{}
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		select {
		case s.ch <- line:
		case <-s.quit:
			return
		}
	}
}
