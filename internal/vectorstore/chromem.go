package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
)

// ChromemConfig holds configuration for the chromem-go embedded index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the
	// index in memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name.
	// Default: "digitaltwin"
	Collection string

	// Dimension is the expected embedding dimension.
	// Must match the embedder's output dimension.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "digitaltwin"
	}
	if c.Dimension == 0 {
		c.Dimension = embeddings.DefaultHashDimension
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemIndex implements Index on chromem-go. With a Path it persists to
// gob files and survives restarts, so the lazy profile load runs once per
// data directory rather than once per process.
type ChromemIndex struct {
	db       *chromem.DB
	embedder embeddings.Embedder
	config   ChromemConfig
	logger   *zap.Logger

	// mu serializes Reset against collection lookups.
	mu sync.RWMutex
}

// NewChromemIndex opens or creates the index described by config.
func NewChromemIndex(config ChromemConfig, embedder embeddings.Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = NewResilientChromemDB(path, config.Compress, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	idx := &ChromemIndex{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}
	if _, err := idx.collection(); err != nil {
		return nil, err
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("dimension", config.Dimension),
		zap.String("collection", config.Collection),
	)
	return idx, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (c *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return c.embedder.EmbedQuery(ctx, text)
	}
}

// collection returns the index collection, creating it when missing. The
// embedding func must always be passed: chromem falls back to its OpenAI
// default when it is nil.
func (c *ChromemIndex) collection() (*chromem.Collection, error) {
	col, err := c.db.GetOrCreateCollection(c.config.Collection, nil, c.embeddingFunc())
	if err != nil {
		return nil, &StoreError{Op: "collection", Kind: KindInternal, Err: err}
	}
	return col, nil
}

// Upsert embeds and stores records. Existing IDs are replaced.
func (c *ChromemIndex) Upsert(ctx context.Context, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	vectors, err := embedRecords(ctx, c.embedder, records)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(vectors[i]) != c.config.Dimension {
			return &StoreError{Op: "upsert", Kind: KindInvalid,
				Err: fmt.Errorf("%w: record %s has %d dimensions, index has %d", embeddings.ErrDimensionMismatch, r.ID, len(vectors[i]), c.config.Dimension)}
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  convertMetadataToString(r.Metadata),
			Embedding: vectors[i],
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	col, err := c.collection()
	if err != nil {
		return err
	}
	// Concurrency of 1 since the embeddings already exist.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return &StoreError{Op: "upsert", Kind: KindInternal, Err: err}
	}

	c.logger.Debug("upserted records into chromem",
		zap.String("collection", c.config.Collection),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query returns the nearest neighbours by cosine similarity.
func (c *ChromemIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	vector := q.Vector
	if vector == nil {
		v, err := c.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return nil, &StoreError{Op: "query", Kind: classify(err), Err: fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)}
		}
		vector = v
	}
	if len(vector) != c.config.Dimension {
		return nil, &StoreError{Op: "query", Kind: KindInvalid, Err: embeddings.ErrDimensionMismatch}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	col, err := c.collection()
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count.
	k := q.TopK
	count := col.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, &StoreError{Op: "query", Kind: KindInternal, Err: err}
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.ID, Score: r.Similarity}
		if q.IncludeMetadata {
			matches[i].Metadata = convertMetadataFromString(r.Metadata)
		}
	}
	return matches, nil
}

// Info reports the document count of the collection.
func (c *ChromemIndex) Info(_ context.Context) (Info, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	col, err := c.collection()
	if err != nil {
		return Info{}, err
	}
	return Info{VectorCount: col.Count(), Dimension: c.config.Dimension, Provider: "chromem"}, nil
}

// Reset deletes and recreates the collection.
func (c *ChromemIndex) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.DeleteCollection(c.config.Collection); err != nil {
		return &StoreError{Op: "reset", Kind: KindInternal, Err: err}
	}
	if _, err := c.collection(); err != nil {
		return err
	}
	c.logger.Info("reset chromem collection", zap.String("collection", c.config.Collection))
	return nil
}

// Close is a no-op; chromem persists on every write.
func (c *ChromemIndex) Close() error {
	return nil
}

// convertMetadataToString converts payload values to chromem's string map.
func convertMetadataToString(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}

	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = strconv.Itoa(val)
		case int64:
			result[k] = strconv.FormatInt(val, 10)
		case float64:
			result[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			result[k] = strconv.FormatBool(val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// convertMetadataFromString converts chromem's string map back to a payload.
func convertMetadataFromString(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}

	result := make(map[string]any, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

var _ Index = (*ChromemIndex)(nil)
