package world

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// HeartbeatFunc is called for each resident when the heartbeat fires.
type HeartbeatFunc func(ctx context.Context, name string, now int64) error

// ListNamesFunc returns the residents that receive heartbeats.
type ListNamesFunc func() []string

// Heartbeat is a ClockListener that fires every interval ticks.
type Heartbeat struct {
	interval int64
	lastBeat int64
	beatFn   HeartbeatFunc
	listFn   ListNamesFunc
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewHeartbeat creates a heartbeat listener. An interval <= 0 never fires on tick.
func NewHeartbeat(interval int64, beatFn HeartbeatFunc, listFn ListNamesFunc, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		beatFn:   beatFn,
		listFn:   listFn,
		logger:   logger,
	}
}

// FireNow beats for every resident regardless of the interval.
func (h *Heartbeat) FireNow(ctx context.Context, now int64) int {
	return h.fire(ctx, now)
}

// OnTick implements ClockListener.
func (h *Heartbeat) OnTick(ctx context.Context, now int64) {
	if h.interval <= 0 {
		return
	}
	h.mu.Lock()
	if now-h.lastBeat < h.interval {
		h.mu.Unlock()
		return
	}
	h.lastBeat = now
	h.mu.Unlock()

	h.fire(ctx, now)
}

func (h *Heartbeat) fire(ctx context.Context, now int64) int {
	fired := 0
	for _, name := range h.listFn() {
		if ctx.Err() != nil {
			break
		}
		if err := h.beatFn(ctx, name, now); err != nil {
			h.logger.Warn("heartbeat failed",
				zap.String("resident", name),
				zap.Error(err))
			continue
		}
		fired++
		h.logger.Debug("heartbeat fired",
			zap.String("resident", name),
			zap.Int64("t", now))
	}
	return fired
}
