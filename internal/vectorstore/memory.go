package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
	"go.uber.org/zap"
)

// DefaultThreshold is the minimum similarity a local match must reach.
const DefaultThreshold = 0.1

type memoryEntry struct {
	id        string
	embedding []float32
	metadata  map[string]any
}

// MemoryIndex is the in-process linear-scan index. Entries live only in
// memory. Query computes cosine similarity against every entry, so it is
// meant for corpora in the hundreds of chunks.
type MemoryIndex struct {
	embedder  embeddings.Embedder
	threshold float64
	logger    *zap.Logger

	mu      sync.RWMutex
	entries []memoryEntry
	byID    map[string]int
	dim     int
}

// MemoryOption configures a MemoryIndex.
type MemoryOption func(*MemoryIndex)

// WithThreshold sets the minimum similarity returned by Query.
func WithThreshold(t float64) MemoryOption {
	return func(m *MemoryIndex) { m.threshold = t }
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(l *zap.Logger) MemoryOption {
	return func(m *MemoryIndex) { m.logger = l }
}

// NewMemoryIndex creates an empty index that embeds text with embedder.
func NewMemoryIndex(embedder embeddings.Embedder, opts ...MemoryOption) (*MemoryIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	m := &MemoryIndex{
		embedder:  embedder,
		threshold: DefaultThreshold,
		logger:    zap.NewNop(),
		byID:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Upsert embeds records without a vector, then appends them or replaces
// existing entries with the same ID.
func (m *MemoryIndex) Upsert(ctx context.Context, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	vectors, err := embedRecords(ctx, m.embedder, records)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	for i, r := range records {
		if dim == 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) != dim {
			return &StoreError{Op: "upsert", Kind: KindInvalid,
				Err: fmt.Errorf("%w: record %s has %d dimensions, index has %d", embeddings.ErrDimensionMismatch, r.ID, len(vectors[i]), dim)}
		}
	}
	m.dim = dim

	for i, r := range records {
		entry := memoryEntry{id: r.ID, embedding: vectors[i], metadata: maps.Clone(r.Metadata)}
		if idx, ok := m.byID[r.ID]; ok {
			m.entries[idx] = entry
			continue
		}
		m.byID[r.ID] = len(m.entries)
		m.entries = append(m.entries, entry)
	}

	m.logger.Debug("upserted records into memory index",
		zap.Int("count", len(records)),
		zap.Int("total", len(m.entries)),
	)
	return nil
}

// Query scores every entry, drops those below the threshold, sorts by
// descending score and truncates to TopK.
func (m *MemoryIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	vector := q.Vector
	if vector == nil {
		v, err := m.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return nil, &StoreError{Op: "query", Kind: classify(err), Err: fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)}
		}
		vector = v
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		score, err := embeddings.CosineSimilarity(vector, e.embedding)
		if err != nil {
			return nil, &StoreError{Op: "query", Kind: KindInvalid, Err: err}
		}
		if score < m.threshold {
			continue
		}
		match := Match{ID: e.id, Score: float32(score)}
		if q.IncludeMetadata {
			match.Metadata = maps.Clone(e.metadata)
		}
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// Info reports the entry count and vector dimension.
func (m *MemoryIndex) Info(_ context.Context) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{VectorCount: len(m.entries), Dimension: m.dim, Provider: "memory"}, nil
}

// Reset removes every entry.
func (m *MemoryIndex) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.byID = make(map[string]int)
	m.dim = 0
	return nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// embedRecords returns one vector per record, embedding the texts of
// records that carry none.
func embedRecords(ctx context.Context, embedder embeddings.Embedder, records []Record) ([][]float32, error) {
	vectors := make([][]float32, len(records))
	var (
		texts []string
		slots []int
	)
	for i, r := range records {
		if r.Vector != nil {
			vectors[i] = r.Vector
			continue
		}
		texts = append(texts, r.Text)
		slots = append(slots, i)
	}
	if len(texts) == 0 {
		return vectors, nil
	}

	embedded, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, &StoreError{Op: "upsert", Kind: classify(err), Err: fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)}
	}
	if len(embedded) != len(texts) {
		return nil, &StoreError{Op: "upsert", Kind: KindInternal,
			Err: fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(embedded), len(texts))}
	}
	for j, slot := range slots {
		vectors[slot] = embedded[j]
	}
	return vectors, nil
}
