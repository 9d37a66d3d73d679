package world

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ClockListener receives world tick events.
type ClockListener interface {
	OnTick(ctx context.Context, now int64)
}

// ListenerFunc adapts a function to ClockListener.
type ListenerFunc func(ctx context.Context, now int64)

func (f ListenerFunc) OnTick(ctx context.Context, now int64) { f(ctx, now) }

// Clock is the shared turn counter. It only moves forward, one tick per turn.
type Clock struct {
	now       int64
	listeners []ClockListener
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewClock creates a clock at T=0.
func NewClock(logger *zap.Logger) *Clock {
	return &Clock{logger: logger}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l ClockListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Now returns the current time.
func (c *Clock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Tick advances the clock by one and notifies listeners in registration
// order, outside the lock.
func (c *Clock) Tick(ctx context.Context) int64 {
	c.mu.Lock()
	c.now++
	now := c.now
	listeners := make([]ClockListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.logger.Debug("clock tick", zap.Int64("t", now))
	for _, l := range listeners {
		l.OnTick(ctx, now)
	}
	return now
}
