package belief

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultSummary is what a resident believes about someone it has not
// yet formed an opinion of.
const DefaultSummary = "identity unknown, needs observation"

// Record is one resident's belief about another.
type Record struct {
	Summary string   `json:"summary"`
	Notes   []string `json:"notes"`
}

func (r Record) clone() Record {
	return Record{Summary: r.Summary, Notes: append([]string{}, r.Notes...)}
}

// Mirror receives a copy of every changed record.
type Mirror interface {
	Mirror(ctx context.Context, owner, target string, r Record) error
}

// Store holds one resident's beliefs keyed by target name. Records are
// created on first access and only the owning resident writes them.
type Store struct {
	owner   string
	records map[string]*Record
	mirrors []Mirror
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewStore(owner string, logger *zap.Logger) *Store {
	return &Store{
		owner:   owner,
		records: make(map[string]*Record),
		logger:  logger,
	}
}

// AddMirror registers a sink for belief changes.
func (s *Store) AddMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrors = append(s.mirrors, m)
}

// Get returns the belief about target, creating the default record first.
func (s *Store) Get(target string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(target).clone()
}

// Peek returns the belief about target without creating one.
func (s *Store) Peek(target string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[target]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

func (s *Store) lookup(target string) *Record {
	r, ok := s.records[target]
	if !ok {
		r = &Record{Summary: DefaultSummary, Notes: []string{}}
		s.records[target] = r
	}
	return r
}

// SetSummary replaces the summary. Blank summaries are ignored.
func (s *Store) SetSummary(ctx context.Context, target, summary string) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}
	s.mu.Lock()
	r := s.lookup(target)
	r.Summary = summary
	snap := r.clone()
	mirrors := append([]Mirror(nil), s.mirrors...)
	s.mu.Unlock()

	s.mirror(ctx, mirrors, target, snap)
}

// AddNote appends a note unless the same note is already present.
func (s *Store) AddNote(ctx context.Context, target, note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	s.mu.Lock()
	r := s.lookup(target)
	for _, n := range r.Notes {
		if n == note {
			s.mu.Unlock()
			return
		}
	}
	r.Notes = append(r.Notes, note)
	snap := r.clone()
	mirrors := append([]Mirror(nil), s.mirrors...)
	s.mu.Unlock()

	s.mirror(ctx, mirrors, target, snap)
}

func (s *Store) mirror(ctx context.Context, mirrors []Mirror, target string, r Record) {
	for _, m := range mirrors {
		if err := m.Mirror(ctx, s.owner, target, r); err != nil {
			s.logger.Warn("belief mirror failed",
				zap.String("owner", s.owner), zap.String("target", target), zap.Error(err))
		}
	}
}

// Snapshot copies every record.
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for k, r := range s.records {
		out[k] = r.clone()
	}
	return out
}

// Targets lists the residents this store holds beliefs about, sorted.
func (s *Store) Targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Line renders a record for a prompt.
func Line(target string, r Record) string {
	if len(r.Notes) == 0 {
		return "- " + target + ": " + r.Summary
	}
	return "- " + target + ": " + r.Summary + " (notes: " + strings.Join(r.Notes, "; ") + ")"
}
