package vectorstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
)

// fakeQdrant is an in-memory qdrantAPI. Errors queued in healthErrs are
// returned by successive HealthCheck calls.
type fakeQdrant struct {
	mu          sync.Mutex
	healthErrs  []error
	healthCalls int
	exists      bool
	created     *qdrant.CreateCollection
	deleted     int
	upserts     []*qdrant.UpsertPoints
	queryResult []*qdrant.ScoredPoint
	queryErr    error
	queryCalls  int
	count       uint64
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	if len(f.healthErrs) > 0 {
		err := f.healthErrs[0]
		f.healthErrs = f.healthErrs[1:]
		return nil, err
	}
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = req
	f.exists = true
	return nil
}

func (f *fakeQdrant) DeleteCollection(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	f.exists = false
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(context.Context, *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	return f.queryResult, f.queryErr
}

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeQdrant) Close() error { return nil }

func testQdrantConfig() QdrantConfig {
	cfg := QdrantConfig{
		Host:         "localhost",
		Collection:   "test_profile",
		Dimension:    64,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestQdrantIndex(t *testing.T, fake *fakeQdrant) (*QdrantIndex, error) {
	t.Helper()
	return newQdrantIndex(context.Background(), fake, testQdrantConfig(), embeddings.NewHashProvider(64), zaptest.NewLogger(t))
}

func TestQdrantConfig_Validate(t *testing.T) {
	cfg := QdrantConfig{Host: "localhost", Dimension: 384}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "digitaltwin", cfg.Collection)

	assert.ErrorIs(t, QdrantConfig{Port: 6334, Dimension: 384, Collection: "x"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, QdrantConfig{Host: "h", Port: 70000, Dimension: 384, Collection: "x"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, QdrantConfig{Host: "h", Port: 6334, Collection: "x"}.Validate(), ErrInvalidConfig)
}

func TestQdrantIndex_CreatesCollection(t *testing.T) {
	fake := &fakeQdrant{}
	_, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)

	require.NotNil(t, fake.created)
	assert.Equal(t, "test_profile", fake.created.GetCollectionName())
	params := fake.created.GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(64), params.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params.GetDistance())
}

func TestQdrantIndex_UnauthorizedIsNotRetried(t *testing.T) {
	fake := &fakeQdrant{healthErrs: []error{status.Error(codes.Unauthenticated, "bad api key")}}

	_, err := newTestQdrantIndex(t, fake)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.Equal(t, 1, fake.healthCalls)
}

func TestQdrantIndex_RetriesUnavailable(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "connection refused")
	fake := &fakeQdrant{healthErrs: []error{unavailable, unavailable}}

	_, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.healthCalls)
}

func TestQdrantIndex_GivesUpAfterMaxRetries(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "connection refused")
	fake := &fakeQdrant{healthErrs: []error{unavailable, unavailable, unavailable, unavailable}}

	_, err := newTestQdrantIndex(t, fake)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, 3, fake.healthCalls)
}

func TestQdrantIndex_Upsert(t *testing.T) {
	fake := &fakeQdrant{exists: true}
	idx, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), []Record{
		{ID: "chunk_1", Text: "skills: Laravel", Metadata: map[string]any{"section": "skills", "index": 2}},
	})
	require.NoError(t, err)

	require.Len(t, fake.upserts, 1)
	req := fake.upserts[0]
	assert.True(t, req.GetWait())
	require.Len(t, req.GetPoints(), 1)

	point := req.GetPoints()[0]
	assert.Equal(t, PointID("chunk_1"), point.GetId().GetUuid())
	assert.Equal(t, "chunk_1", point.GetPayload()[payloadIDKey].GetStringValue())
	assert.Equal(t, "skills", point.GetPayload()["section"].GetStringValue())
	assert.Equal(t, int64(2), point.GetPayload()["index"].GetIntegerValue())
}

func TestQdrantIndex_QueryMapsPayload(t *testing.T) {
	fake := &fakeQdrant{
		exists: true,
		queryResult: []*qdrant.ScoredPoint{
			{
				Id:      qdrant.NewIDUUID(PointID("chunk_1")),
				Score:   0.92,
				Payload: qdrant.NewValueMap(map[string]any{payloadIDKey: "chunk_1", "section": "skills"}),
			},
		},
	}
	idx, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)

	matches, err := idx.Query(context.Background(), Query{Text: "what are your skills", TopK: 3, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "chunk_1", matches[0].ID)
	assert.InDelta(t, 0.92, matches[0].Score, 1e-6)
	assert.Equal(t, map[string]any{"section": "skills"}, matches[0].Metadata)

	matches, err = idx.Query(context.Background(), Query{Text: "what are your skills", TopK: 3})
	require.NoError(t, err)
	assert.Nil(t, matches[0].Metadata)
}

func TestQdrantIndex_QueryRateLimited(t *testing.T) {
	fake := &fakeQdrant{exists: true, queryErr: status.Error(codes.ResourceExhausted, "slow down")}
	idx, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), Query{Text: "hi", TopK: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 3, fake.queryCalls)
}

func TestQdrantIndex_CircuitBreakerOpens(t *testing.T) {
	fake := &fakeQdrant{exists: true, queryErr: status.Error(codes.Unavailable, "down")}
	idx, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)

	// two queries exhaust 6 attempts, passing the threshold of 5
	for i := 0; i < 2; i++ {
		_, err = idx.Query(context.Background(), Query{Text: "hi", TopK: 1})
		require.Error(t, err)
	}
	calls := fake.queryCalls

	_, err = idx.Query(context.Background(), Query{Text: "hi", TopK: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errCircuitOpen))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, calls, fake.queryCalls)
}

func TestQdrantIndex_InfoAndReset(t *testing.T) {
	fake := &fakeQdrant{exists: true, count: 14}
	idx, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)

	info, err := idx.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Info{VectorCount: 14, Dimension: 64, Provider: "qdrant"}, info)

	require.NoError(t, idx.Reset(context.Background()))
	assert.Equal(t, 1, fake.deleted)
	assert.True(t, fake.exists)
	require.NotNil(t, fake.created)
}

func TestQdrantIndex_Ping(t *testing.T) {
	fake := &fakeQdrant{exists: true}
	idx, err := newTestQdrantIndex(t, fake)
	require.NoError(t, err)
	require.NoError(t, idx.Ping(context.Background()))

	fake.healthErrs = []error{status.Error(codes.Unavailable, "down"), status.Error(codes.Unavailable, "down")}
	err = idx.Ping(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	// Ping does not retry
	assert.Len(t, fake.healthErrs, 1)
}

func TestPointID_Deterministic(t *testing.T) {
	assert.Equal(t, PointID("chunk_1"), PointID("chunk_1"))
	assert.NotEqual(t, PointID("chunk_1"), PointID("chunk_2"))
	assert.Len(t, PointID("qa_leadership_0"), 36)
}

func TestPayloadToMap(t *testing.T) {
	got := payloadToMap(qdrant.NewValueMap(map[string]any{
		"s": "text",
		"i": 3,
		"f": 0.25,
		"b": true,
	}))
	assert.Equal(t, map[string]any{"s": "text", "i": int64(3), "f": 0.25, "b": true}, got)
}
