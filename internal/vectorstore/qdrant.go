package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
)

// errCircuitOpen is returned while the circuit breaker rejects calls.
var errCircuitOpen = errors.New("circuit breaker open")

// pointNamespace derives Qdrant point UUIDs from chunk ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fyrsmithlabs/digitaltwin/points"))

// payloadIDKey stores the original record id in the point payload.
const payloadIDKey = "_id"

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional for local servers.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the collection name.
	Collection string

	// Dimension is the vector size. Must match the embedder's output.
	Dimension uint64

	// Timeout bounds each gRPC call.
	// Default: 10s
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff between retries.
	// Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening the circuit.
	// Default: 5
	CircuitBreakerThreshold int

	// CircuitBreakerCooldown is how long the circuit stays open.
	// Default: 30s
	CircuitBreakerCooldown time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "digitaltwin"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension == 0 {
		return fmt.Errorf("%w: dimension required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// qdrantAPI is the subset of *qdrant.Client used by QdrantIndex.
type qdrantAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantIndex implements Index on Qdrant's native gRPC client. Text is
// embedded client-side. Point ids are UUIDv5 values derived from record ids,
// so re-upserting a record replaces its point.
type QdrantIndex struct {
	client   qdrantAPI
	embedder embeddings.Embedder
	config   QdrantConfig
	logger   *zap.Logger

	circuitBreaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantIndex connects to Qdrant, checks health and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, embedder embeddings.Embedder, logger *zap.Logger) (*QdrantIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		// Server health is checked below with retries.
		SkipCompatibilityCheck: true,
		PoolSize:               1,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, &StoreError{Op: "connect", Kind: KindUnavailable, Err: err}
	}

	idx, err := newQdrantIndex(ctx, client, config, embedder, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func newQdrantIndex(ctx context.Context, client qdrantAPI, config QdrantConfig, embedder embeddings.Embedder, logger *zap.Logger) (*QdrantIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	s := &QdrantIndex{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	if err := s.do(ctx, "health", func(ctx context.Context) error {
		_, err := s.client.HealthCheck(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Uint64("dimension", config.Dimension),
	)
	return s, nil
}

// PointID returns the Qdrant point UUID for a record id.
func PointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	var exists bool
	if err := s.do(ctx, "collection_exists", func(ctx context.Context) error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.Collection)
		return err
	}); err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.do(ctx, "create_collection", func(ctx context.Context) error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.Dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// do runs fn with a per-call timeout, retrying transient failures with
// exponential backoff. Failures feed the circuit breaker.
func (s *QdrantIndex) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.isCircuitOpen() {
		return &StoreError{Op: op, Kind: KindUnavailable, Err: errCircuitOpen}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryBackoff
	b.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if !transient(classify(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.recordFailure()
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("retrying qdrant operation",
				zap.String("operation", op),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return wrapErr(op, err)
	}
	s.resetCircuitBreaker()
	return nil
}

func (s *QdrantIndex) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantIndex) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantIndex) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures < s.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(s.circuitBreaker.lastFail) > s.config.CircuitBreakerCooldown {
		s.circuitBreaker.failures = 0
		return false
	}
	return true
}

// Upsert embeds records and upserts them as points.
func (s *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	vectors, err := embedRecords(ctx, s.embedder, records)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		if uint64(len(vectors[i])) != s.config.Dimension {
			return &StoreError{Op: "upsert", Kind: KindInvalid,
				Err: fmt.Errorf("%w: record %s has %d dimensions, collection has %d", embeddings.ErrDimensionMismatch, r.ID, len(vectors[i]), s.config.Dimension)}
		}

		payload := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadIDKey] = r.ID

		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return &StoreError{Op: "upsert", Kind: KindInvalid, Err: fmt.Errorf("record %s payload: %w", r.ID, err)}
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: values,
		}
	}

	return s.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

// Query embeds the text when needed and returns the nearest points.
func (s *QdrantIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	vector := q.Vector
	if vector == nil {
		v, err := s.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return nil, &StoreError{Op: "query", Kind: classify(err), Err: fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)}
		}
		vector = v
	}

	var points []*qdrant.ScoredPoint
	err := s.do(ctx, "query", func(ctx context.Context) error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(q.TopK)),
			// The record id lives in the payload, so it is always fetched.
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(points))
	for i, p := range points {
		payload := payloadToMap(p.GetPayload())
		id, _ := payload[payloadIDKey].(string)
		delete(payload, payloadIDKey)

		matches[i] = Match{ID: id, Score: p.GetScore()}
		if q.IncludeMetadata {
			matches[i].Metadata = payload
		}
	}
	return matches, nil
}

// Info returns the exact point count.
func (s *QdrantIndex) Info(ctx context.Context) (Info, error) {
	var count uint64
	err := s.do(ctx, "info", func(ctx context.Context) error {
		var err error
		count, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return Info{}, err
	}
	return Info{VectorCount: int(count), Dimension: int(s.config.Dimension), Provider: "qdrant"}, nil
}

// Reset drops and recreates the collection.
func (s *QdrantIndex) Reset(ctx context.Context) error {
	if err := s.do(ctx, "delete_collection", func(ctx context.Context) error {
		return s.client.DeleteCollection(ctx, s.config.Collection)
	}); err != nil && KindOf(err) != KindNotFound {
		return err
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	s.logger.Info("reset qdrant collection", zap.String("collection", s.config.Collection))
	return nil
}

// Ping checks server health without retries.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return wrapErr("health", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// payloadToMap converts a point payload to plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

var _ Index = (*QdrantIndex)(nil)
