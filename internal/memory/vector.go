package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/nidhogg/alice/internal/embedding"
	"github.com/nidhogg/alice/internal/vectorstore"
	"go.uber.org/zap"
)

// VectorIndex is the part of the vector store the retriever needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points ...vectorstore.Point) error
	Search(ctx context.Context, collection string, q vectorstore.Query) ([]vectorstore.Hit, error)
}

// VectorRetriever ranks entries by embedding similarity. Every resident
// shares one collection; points are filtered by owner.
type VectorRetriever struct {
	embedder   embedding.Provider
	index      VectorIndex
	collection string
	runID      string

	ensureOnce sync.Once
	ensureErr  error
	logger     *zap.Logger
}

// NewVectorRetriever creates a retriever writing to collection. runID keeps
// points of separate runs apart.
func NewVectorRetriever(embedder embedding.Provider, index VectorIndex, collection, runID string, logger *zap.Logger) *VectorRetriever {
	return &VectorRetriever{
		embedder:   embedder,
		index:      index,
		collection: collection,
		runID:      runID,
		logger:     logger,
	}
}

func (r *VectorRetriever) ensure(ctx context.Context) error {
	r.ensureOnce.Do(func() {
		dim := r.embedder.Dimension()
		if dim <= 0 {
			r.ensureErr = fmt.Errorf("ensure collection %s: unknown embedding dimension", r.collection)
			return
		}
		r.ensureErr = r.index.EnsureCollection(ctx, r.collection, uint64(dim))
	})
	return r.ensureErr
}

func (r *VectorRetriever) embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embed: empty vector")
	}
	return vectors[0], nil
}

// Index embeds the entry and upserts it with owner and position payload.
func (r *VectorRetriever) Index(ctx context.Context, owner string, e Entry) error {
	if e.Content == "" {
		return nil
	}
	vec, err := r.embed(ctx, e.Content)
	if err != nil {
		return fmt.Errorf("index memory: %w", err)
	}
	if err := r.ensure(ctx); err != nil {
		return fmt.Errorf("index memory: %w", err)
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(r.runID+"/"+owner+"/"+strconv.Itoa(e.Seq))).String()
	return r.index.Upsert(ctx, r.collection, vectorstore.Point{
		ID:     id,
		Vector: vec,
		Payload: map[string]string{
			"run":     r.runID,
			"owner":   owner,
			"seq":     strconv.Itoa(e.Seq),
			"kind":    string(e.Kind),
			"t":       strconv.FormatInt(e.Timestamp, 10),
			"content": e.Content,
		},
	})
}

// Search maps nearest points back onto entries by sequence number.
func (r *VectorRetriever) Search(ctx context.Context, owner, query string, entries []Entry, limit int) ([]Entry, error) {
	if len(entries) == 0 || limit <= 0 {
		return []Entry{}, nil
	}
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	if err := r.ensure(ctx); err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	results, err := r.index.Search(ctx, r.collection, vectorstore.Query{
		Vector: vec,
		Limit:  uint64(limit),
		Filter: map[string]string{"run": r.runID, "owner": owner},
	})
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}

	bySeq := make(map[int]Entry, len(entries))
	for _, e := range entries {
		bySeq[e.Seq] = e
	}
	var hits []scored
	for _, res := range results {
		seq, err := strconv.Atoi(res.Payload["seq"])
		if err != nil {
			continue
		}
		if e, ok := bySeq[seq]; ok {
			hits = append(hits, scored{entry: e, score: float64(res.Score)})
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
	return out, nil
}
