package transcript

import (
	"context"

	"go.uber.org/zap"
)

// Sink persists or forwards transcript lines.
type Sink interface {
	Write(ctx context.Context, line Line) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, line Line) error

func (f SinkFunc) Write(ctx context.Context, line Line) error { return f(ctx, line) }

// Pump copies a subscription into sinks until the hub closes or ctx ends.
type Pump struct {
	sub    *Subscription
	sinks  []Sink
	logger *zap.Logger
}

func NewPump(sub *Subscription, logger *zap.Logger, sinks ...Sink) *Pump {
	return &Pump{sub: sub, sinks: sinks, logger: logger}
}

// Run blocks. Sink errors are logged and do not stop the pump.
func (p *Pump) Run(ctx context.Context) error {
	for {
		line, ok := p.sub.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		for _, s := range p.sinks {
			if err := s.Write(ctx, line); err != nil {
				p.logger.Warn("transcript sink write failed",
					zap.String("line", line.ID), zap.Error(err))
			}
		}
	}
}
