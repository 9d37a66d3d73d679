package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/alice/internal/transcript"
	"go.uber.org/zap"
)

// RelayRecord tracks a relayed line.
type RelayRecord struct {
	LineID string    `json:"line_id"`
	SentAt time.Time `json:"sent_at"`
	Failed bool      `json:"failed"`
}

// Relay is a transcript sink that posts lines to every adapter.
type Relay struct {
	gateway *Gateway
	kinds   map[transcript.Kind]bool
	history []RelayRecord
	max     int
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewRelay relays lines of the given kinds; no kinds means all of them.
func NewRelay(gw *Gateway, logger *zap.Logger, kinds ...transcript.Kind) *Relay {
	r := &Relay{gateway: gw, max: 200, logger: logger}
	if len(kinds) > 0 {
		r.kinds = make(map[transcript.Kind]bool, len(kinds))
		for _, k := range kinds {
			r.kinds[k] = true
		}
	}
	return r
}

// Write implements transcript.Sink.
func (r *Relay) Write(ctx context.Context, line transcript.Line) error {
	if r.kinds != nil && !r.kinds[line.Kind] {
		return nil
	}
	err := r.gateway.Broadcast(ctx, line.Actor, Format(line))

	r.mu.Lock()
	r.history = append(r.history, RelayRecord{LineID: line.ID, SentAt: time.Now(), Failed: err != nil})
	if len(r.history) > r.max {
		r.history = r.history[len(r.history)-r.max:]
	}
	r.mu.Unlock()
	return err
}

// History returns the most recent relay records.
func (r *Relay) History(limit int) []RelayRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	return append([]RelayRecord{}, r.history[len(r.history)-limit:]...)
}

// Format renders a line for chat platforms.
func Format(line transcript.Line) string {
	switch line.Kind {
	case transcript.KindObservation:
		return "_" + line.Description + "_"
	case transcript.KindSystem:
		return "*" + line.Description + "*"
	default:
		return line.Description
	}
}
