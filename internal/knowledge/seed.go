package knowledge

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// SeedRecord is the on-disk form of a catalog entry. Older seed files use
// "source" for the origin.
type SeedRecord struct {
	Category Category `json:"category" yaml:"category"`
	Content  string   `json:"content" yaml:"content"`
	Origin   Origin   `json:"origin,omitempty" yaml:"origin,omitempty"`
	Source   Origin   `json:"source,omitempty" yaml:"source,omitempty"`
}

// Seed maps catalog ids to records.
type Seed map[int]SeedRecord

// ParseSeed decodes a YAML (or JSON) id -> record mapping.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse knowledge seed: %w", err)
	}
	return seed, nil
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

// Load adds every seed record to the catalog in id order.
func (b *Base) Load(seed Seed) error {
	ids := make([]int, 0, len(seed))
	for id := range seed {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		sr := seed[id]
		origin := sr.Origin
		if origin == "" {
			origin = sr.Source
		}
		if err := b.Add(Record{
			ID:       id,
			Category: sr.Category,
			Content:  sr.Content,
			Origin:   origin,
		}); err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
	}
	return nil
}
