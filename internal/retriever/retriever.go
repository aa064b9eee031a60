// Package retriever answers similarity searches over the profile, loading
// the profile into the vector index on first use.
package retriever

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/digitaltwin/internal/profile"
	"github.com/fyrsmithlabs/digitaltwin/internal/vectorstore"
)

const (
	// DefaultTopK is the number of results returned when none is requested.
	DefaultTopK = 5

	// DefaultThreshold is the minimum score kept when none is requested.
	DefaultThreshold = 0.1

	// DefaultBatchSize is the number of chunks upserted per request during load.
	DefaultBatchSize = 32
)

var tracer = otel.Tracer("digitaltwin.retriever")

// ChunkSource yields the chunks to index.
type ChunkSource interface {
	Chunks(ctx context.Context) ([]profile.Chunk, error)
}

// ChunkSourceFunc adapts a function to ChunkSource.
type ChunkSourceFunc func(ctx context.Context) ([]profile.Chunk, error)

// Chunks calls f.
func (f ChunkSourceFunc) Chunks(ctx context.Context) ([]profile.Chunk, error) { return f(ctx) }

// FileSource reads the profile document from Path on every call. The
// retriever calls it at most once per load.
type FileSource struct {
	Path string
}

// Chunks loads the document and returns its indexing plan.
func (s FileSource) Chunks(_ context.Context) ([]profile.Chunk, error) {
	doc, err := profile.Load(s.Path)
	if err != nil {
		return nil, err
	}
	return doc.Chunks(), nil
}

// Options controls a search. A nil Threshold uses the retriever's.
type Options struct {
	TopK      int
	Threshold *float64
}

// Threshold returns a pointer to v for Options and Config.
func Threshold(v float64) *float64 {
	return &v
}

// Result is one search hit mapped for display and prompting.
type Result struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Title    string         `json:"title"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Config configures a Retriever. A nil Threshold uses DefaultThreshold;
// a negative one keeps every match.
type Config struct {
	TopK      int
	Threshold *float64
	BatchSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.Threshold == nil {
		c.Threshold = Threshold(DefaultThreshold)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Retriever populates the index lazily and searches it.
type Retriever struct {
	index  vectorstore.Index
	source ChunkSource
	config Config
	logger *zap.Logger

	group singleflight.Group
	ready atomic.Bool
	// loadMu serializes a load with Reset.
	loadMu sync.Mutex
}

// New creates a Retriever. Nothing is loaded until Initialize or Search.
func New(index vectorstore.Index, source ChunkSource, config Config, logger *zap.Logger) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("vector index cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("chunk source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &Retriever{
		index:  index,
		source: source,
		config: config,
		logger: logger,
	}, nil
}

// IsReady reports whether the index has been verified or loaded.
func (r *Retriever) IsReady() bool {
	return r.ready.Load()
}

// Initialize ensures the index holds the profile. Concurrent callers share
// a single load; once it succeeds later calls return immediately. A failed
// load is retried by the next call.
func (r *Retriever) Initialize(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}

	ch := r.group.DoChan("initialize", func() (any, error) {
		r.loadMu.Lock()
		defer r.loadMu.Unlock()
		if r.ready.Load() {
			return nil, nil
		}
		// The load outlives any single caller's cancellation.
		err := r.load(context.WithoutCancel(ctx))
		if err == nil {
			r.ready.Store(true)
		}
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Retriever) load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "retriever.Initialize")
	defer span.End()

	info, err := r.index.Info(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "info failed")
		return fmt.Errorf("checking index: %w", err)
	}
	if info.VectorCount > 0 {
		span.SetAttributes(attribute.Int("vector_count", info.VectorCount), attribute.Bool("loaded", false))
		r.logger.Info("index already populated, skipping profile load",
			zap.Int("vector_count", info.VectorCount),
			zap.String("provider", info.Provider),
		)
		return nil
	}

	start := time.Now()
	chunks, err := r.source.Chunks(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loading profile failed")
		return fmt.Errorf("loading profile: %w", err)
	}
	if len(chunks) == 0 {
		span.SetAttributes(attribute.Int("vector_count", 0), attribute.Bool("loaded", true))
		r.logger.Warn("profile produced no content chunks, searches will return no results")
		return nil
	}

	for i := 0; i < len(chunks); i += r.config.BatchSize {
		end := min(i+r.config.BatchSize, len(chunks))
		if err := r.index.Upsert(ctx, toRecords(chunks[i:end])); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert failed")
			return fmt.Errorf("indexing chunks %d-%d: %w", i, end-1, err)
		}
	}

	span.SetAttributes(attribute.Int("vector_count", len(chunks)), attribute.Bool("loaded", true))
	r.logger.Info("profile indexed",
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func toRecords(chunks []profile.Chunk) []vectorstore.Record {
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:       c.ID,
			Text:     c.Content,
			Metadata: c.Metadata.ToMap(),
		}
	}
	return records
}

// Search ensures the index is loaded and returns up to TopK results scoring
// at least Threshold, best first.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = r.config.TopK
	}
	threshold := *r.config.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "retriever.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", opts.TopK), attribute.Float64("threshold", threshold))

	matches, err := r.index.Query(ctx, vectorstore.Query{
		Text:            query,
		TopK:            opts.TopK,
		IncludeMetadata: true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if float64(m.Score) < threshold {
			continue
		}
		results = append(results, toResult(m))
		if len(results) == opts.TopK {
			break
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	r.logger.Debug("search completed",
		zap.Int("matches", len(matches)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// toResult maps stored metadata to display fields. Q&A chunks show the
// answer under the question; other chunks show their raw content under
// their title, falling back to the section path.
func toResult(m vectorstore.Match) Result {
	md := profile.MetadataFromMap(m.Metadata)
	res := Result{ID: m.ID, Score: m.Score, Metadata: m.Metadata}

	if md.Question != "" || md.Answer != "" {
		res.Content = md.Answer
		res.Title = md.Question
		if res.Title == "" {
			res.Title = "Q&A"
		}
		return res
	}

	res.Content = md.Body
	res.Title = md.Title
	if res.Title == "" {
		res.Title = strings.TrimPrefix(md.Section, profile.RootPrefix+".")
	}
	if res.Title == "" || res.Title == profile.RootPrefix {
		res.Title = "Information"
	}
	return res
}

// Degraded reports whether the index is serving from a fallback because
// its primary store is unavailable.
func (r *Retriever) Degraded() bool {
	d, ok := r.index.(interface{ Degraded() bool })
	return ok && d.Degraded()
}

// Info returns the index statistics.
func (r *Retriever) Info(ctx context.Context) (vectorstore.Info, error) {
	return r.index.Info(ctx)
}

// Reset clears the index. The next Initialize or Search reloads the profile.
// A load in progress finishes before the index is cleared.
func (r *Retriever) Reset(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	r.ready.Store(false)
	if err := r.index.Reset(ctx); err != nil {
		return fmt.Errorf("resetting index: %w", err)
	}
	r.logger.Info("retriever reset")
	return nil
}
