package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a transcript line.
type Kind string

const (
	KindAction      Kind = "action"
	KindObservation Kind = "observation"
	KindSystem      Kind = "system"
)

// Line is one narrated event.
type Line struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Turn        int64     `json:"turn"`
	Kind        Kind      `json:"kind"`
	Actor       string    `json:"actor,omitempty"`
	Tool        string    `json:"tool,omitempty"`
	Target      string    `json:"target,omitempty"`
	Content     string    `json:"content,omitempty"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

// NewLine stamps a line with a fresh id and the current time.
func NewLine(runID string, turn int64, kind Kind, description string) Line {
	return Line{
		ID:          uuid.New().String(),
		RunID:       runID,
		Turn:        turn,
		Kind:        kind,
		Description: description,
		Time:        time.Now().UTC(),
	}
}
