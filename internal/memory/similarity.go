package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Retriever ranks a resident's entries against a query.
type Retriever interface {
	// Index is called once for every stored entry.
	Index(ctx context.Context, owner string, e Entry) error
	// Search returns up to limit entries from entries, best match first.
	Search(ctx context.Context, owner, query string, entries []Entry, limit int) ([]Entry, error)
}

// KeywordRetriever scores entries by keyword overlap with the query.
type KeywordRetriever struct{}

func NewKeywordRetriever() *KeywordRetriever { return &KeywordRetriever{} }

func (KeywordRetriever) Index(context.Context, string, Entry) error { return nil }

func (KeywordRetriever) Search(_ context.Context, _ string, query string, entries []Entry, limit int) ([]Entry, error) {
	return keywordSearch(query, entries, limit), nil
}

type scored struct {
	entry Entry
	score float64
}

func keywordSearch(query string, entries []Entry, limit int) []Entry {
	keywords := extractKeywords(query)
	if len(keywords) == 0 || limit <= 0 {
		return []Entry{}
	}

	var hits []scored
	for _, e := range entries {
		if sc := keywordSimilarity(keywords, e.Content); sc > 0 {
			hits = append(hits, scored{entry: e, score: sc})
		}
	}
	sortByScoreThenRecency(hits)

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}

// keywordSimilarity blends a Jaccard-style overlap with keyword coverage.
// Substring hits count for less than whole-word hits.
func keywordSimilarity(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	target := strings.ToLower(text)
	targetSet := make(map[string]bool)
	for _, w := range tokenize(target) {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, kw := range keywords {
		if targetSet[kw] {
			matched++
			weighted += 1.0
		} else if strings.Contains(target, kw) {
			matched++
			weighted += 0.7
		}
	}
	if matched == 0 {
		return 0
	}

	overlap := float64(matched)
	union := float64(len(keywords) + len(targetSet) - matched)
	jaccard := overlap / math.Max(union, 1)
	coverage := weighted / float64(len(keywords))

	return 0.4*jaccard + 0.6*coverage
}

func sortByScoreThenRecency(hits []scored) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.Seq > hits[j].entry.Seq
	})
}

// tokenize splits text into lowercase word tokens. Runs of CJK characters
// carry no spaces, so they become overlapping bigrams; a lone character is
// kept as a unigram.
func tokenize(text string) []string {
	var (
		result []string
		word   []rune
		cjk    []rune
	)
	flushWord := func() {
		if w := strings.ToLower(string(word)); len(w) > 1 {
			result = append(result, w)
		}
		word = word[:0]
	}
	flushCJK := func() {
		switch {
		case len(cjk) == 1:
			result = append(result, string(cjk))
		case len(cjk) > 1:
			for i := 0; i+1 < len(cjk); i++ {
				result = append(result, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-':
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return result
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

// extractKeywords keeps distinct tokens of three or more bytes that are not
// stopwords. A single CJK character is three bytes and counts.
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, w := range tokenize(text) {
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		result = append(result, w)
		if len(result) >= 20 {
			break
		}
	}
	return result
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true,
	"but": true, "not": true, "you": true, "all": true,
	"can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true,
	"have": true, "been": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true,
	"what": true, "when": true, "make": true, "like": true,
	"just": true, "into": true, "than": true, "them": true,
	"says": true, "said": true, "your": true, "his": true,
}
