package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ErrOutOfOrder is returned when an entry would be older than the last one.
var ErrOutOfOrder = errors.New("memory timestamp out of order")

const (
	DefaultSummaryThreshold = 160
	DefaultSummaryMaxChars  = 50
)

// Summarizer compresses long content before it is stored.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxChars int) (string, error)
}

// Archive receives a copy of every stored entry.
type Archive interface {
	Archive(ctx context.Context, owner string, e Entry) error
}

// Options tunes when content is summarized.
type Options struct {
	SummaryThreshold int `json:"summary_threshold"`
	SummaryMaxChars  int `json:"summary_max_chars"`
}

func (o Options) withDefaults() Options {
	if o.SummaryThreshold <= 0 {
		o.SummaryThreshold = DefaultSummaryThreshold
	}
	if o.SummaryMaxChars <= 0 {
		o.SummaryMaxChars = DefaultSummaryMaxChars
	}
	return o
}

// Stream is one resident's append-only memory. Entries are never edited or
// removed, and timestamps never go backwards.
type Stream struct {
	owner      string
	entries    []Entry
	opts       Options
	summarizer Summarizer
	retriever  Retriever
	archives   []Archive
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewStream creates an empty stream for the named resident. Retrieval uses
// keyword overlap until another retriever is set.
func NewStream(owner string, opts Options, logger *zap.Logger) *Stream {
	return &Stream{
		owner:     owner,
		opts:      opts.withDefaults(),
		retriever: NewKeywordRetriever(),
		logger:    logger,
	}
}

func (s *Stream) Owner() string { return s.owner }

// SetSummarizer installs the summarizer used for long content.
func (s *Stream) SetSummarizer(sum Summarizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summarizer = sum
}

// SetRetriever replaces the relevance backend.
func (s *Stream) SetRetriever(r Retriever) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retriever = r
}

// AddArchive registers a sink that mirrors stored entries.
func (s *Stream) AddArchive(a Archive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives = append(s.archives, a)
}

// Record appends an entry. Content at or above the summary threshold is
// replaced by its summary; the original text is returned in Recorded.Raw.
func (s *Stream) Record(ctx context.Context, ts int64, kind Kind, content string) (Recorded, error) {
	s.mu.RLock()
	last := s.lastTimestamp()
	sum := s.summarizer
	s.mu.RUnlock()

	if ts < last {
		return Recorded{}, fmt.Errorf("record %s at T=%d after T=%d: %w", kind, ts, last, ErrOutOfOrder)
	}

	stored, summarized := s.compress(ctx, sum, content)

	s.mu.Lock()
	if ts < s.lastTimestamp() {
		s.mu.Unlock()
		return Recorded{}, fmt.Errorf("record %s at T=%d: %w", kind, ts, ErrOutOfOrder)
	}
	e := Entry{
		Seq:       len(s.entries),
		Timestamp: ts,
		Kind:      kind,
		Content:   stored,
	}
	s.entries = append(s.entries, e)
	retriever := s.retriever
	archives := append([]Archive(nil), s.archives...)
	s.mu.Unlock()

	s.logger.Debug("memory recorded",
		zap.String("owner", s.owner),
		zap.Int64("t", ts),
		zap.String("kind", string(kind)),
		zap.Bool("summarized", summarized))

	if retriever != nil {
		if err := retriever.Index(ctx, s.owner, e); err != nil {
			s.logger.Warn("memory index failed", zap.String("owner", s.owner), zap.Error(err))
		}
	}
	for _, a := range archives {
		if err := a.Archive(ctx, s.owner, e); err != nil {
			s.logger.Warn("memory archive failed", zap.String("owner", s.owner), zap.Error(err))
		}
	}

	return Recorded{Entry: e, Raw: content, Summarized: summarized}, nil
}

func (s *Stream) compress(ctx context.Context, sum Summarizer, content string) (string, bool) {
	if content == "" || utf8.RuneCountInString(content) < s.opts.SummaryThreshold {
		return content, false
	}
	if sum != nil {
		summary, err := sum.Summarize(ctx, content, s.opts.SummaryMaxChars)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary), true
		}
		s.logger.Warn("memory summary failed, truncating",
			zap.String("owner", s.owner), zap.Error(err))
	}
	return truncate(content, s.opts.SummaryThreshold), true
}

func (s *Stream) lastTimestamp() int64 {
	if len(s.entries) == 0 {
		return 0
	}
	return s.entries[len(s.entries)-1].Timestamp
}

// Recent returns the last limit entries as lines, oldest first.
func (s *Stream) Recent(limit int) []string {
	entries := s.RecentEntries(limit)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line()
	}
	return lines
}

// RecentEntries returns a copy of the last limit entries, oldest first.
func (s *Stream) RecentEntries(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return []Entry{}
	}
	start := len(s.entries) - limit
	if start < 0 {
		start = 0
	}
	return append([]Entry{}, s.entries[start:]...)
}

// Relevant returns up to limit lines most related to query, best first.
// Equal scores go to the more recent entry.
func (s *Stream) Relevant(ctx context.Context, query string, limit int) []string {
	entries := s.RelevantEntries(ctx, query, limit)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line()
	}
	return lines
}

// RelevantEntries is Relevant without formatting.
func (s *Stream) RelevantEntries(ctx context.Context, query string, limit int) []Entry {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []Entry{}
	}
	s.mu.RLock()
	snapshot := append([]Entry(nil), s.entries...)
	retriever := s.retriever
	s.mu.RUnlock()

	found, err := retriever.Search(ctx, s.owner, query, snapshot, limit)
	if err != nil {
		s.logger.Warn("memory search failed, using keywords",
			zap.String("owner", s.owner), zap.Error(err))
		found = keywordSearch(query, snapshot, limit)
	}
	return found
}

// Entries returns a copy of the whole stream.
func (s *Stream) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry{}, s.entries...)
}

// Since returns entries with a timestamp strictly after ts.
func (s *Stream) Since(ts int64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Timestamp > ts {
			out = append(out, e)
		}
	}
	return out
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
