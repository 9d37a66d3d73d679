package knowledge

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrUnknownCategory = errors.New("unknown knowledge category")
	ErrUnknownOrigin   = errors.New("unknown knowledge origin")
	ErrDuplicateID     = errors.New("duplicate knowledge id")
)

// Category groups world facts by subject.
type Category string

const (
	CategoryCommonSense Category = "common_sense"
	CategoryHistory     Category = "history"
	CategoryGeography   Category = "geography"
	CategoryCulture     Category = "culture"
	CategoryMorality    Category = "morality"
	CategoryRules       Category = "rules"
)

// Origin records who put a fact into circulation.
type Origin string

const (
	OriginNatural  Origin = "natural"
	OriginChurch   Origin = "church"
	OriginDark     Origin = "dark"
	OriginOriental Origin = "oriental"
)

func (c Category) valid() bool {
	switch c {
	case CategoryCommonSense, CategoryHistory, CategoryGeography,
		CategoryCulture, CategoryMorality, CategoryRules:
		return true
	}
	return false
}

func (o Origin) valid() bool {
	switch o {
	case OriginNatural, OriginChurch, OriginDark, OriginOriental:
		return true
	}
	return false
}

// Record is one entry of the shared world catalog.
type Record struct {
	ID       int      `json:"id" yaml:"id"`
	Category Category `json:"category" yaml:"category"`
	Content  string   `json:"content" yaml:"content"`
	Origin   Origin   `json:"origin" yaml:"origin"`
}

// unknownContent is returned for ids that are not in the catalog.
const unknownContent = "Unknown knowledge"

// Base is the catalog of world facts shared by every resident of a run.
type Base struct {
	records map[int]Record
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewBase creates an empty catalog.
func NewBase(logger *zap.Logger) *Base {
	return &Base{
		records: make(map[int]Record),
		logger:  logger,
	}
}

// Add validates and stores a record. Ids are unique for the life of the catalog.
func (b *Base) Add(rec Record) error {
	if !rec.Category.valid() {
		return fmt.Errorf("add knowledge %d: %w: %q", rec.ID, ErrUnknownCategory, rec.Category)
	}
	if rec.Origin == "" {
		rec.Origin = OriginNatural
	}
	if !rec.Origin.valid() {
		return fmt.Errorf("add knowledge %d: %w: %q", rec.ID, ErrUnknownOrigin, rec.Origin)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[rec.ID]; ok {
		return fmt.Errorf("add knowledge %d: %w", rec.ID, ErrDuplicateID)
	}
	b.records[rec.ID] = rec
	b.logger.Debug("knowledge added",
		zap.Int("id", rec.ID),
		zap.String("category", string(rec.Category)),
		zap.String("origin", string(rec.Origin)))
	return nil
}

// Get returns a record by id.
func (b *Base) Get(id int) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	return rec, ok
}

// Content returns the text of a record, or a placeholder for unknown ids.
func (b *Base) Content(id int) string {
	if rec, ok := b.Get(id); ok {
		return rec.Content
	}
	return unknownContent
}

// List returns every record ordered by id.
func (b *Base) List() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Record, 0, len(b.records))
	for _, rec := range b.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of records in the catalog.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Mastered returns the content of every record the map marks as mastered,
// ordered by id. Suspected and unmastered ids are left out.
func (b *Base) Mastered(m *MasteryMap) []string {
	ids := m.IDs(Mastered)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.Content(id))
	}
	return out
}
