package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
)

func newTestChromemIndex(t *testing.T, path string) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex(ChromemConfig{
		Path:       path,
		Collection: "test_profile",
		Dimension:  64,
	}, embeddings.NewHashProvider(64), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func chromemRecords() []Record {
	return []Record{
		{ID: "chunk_0", Text: "personal.name: Juan Dela Cruz", Metadata: map[string]any{"section": "personal", "index": 0}},
		{ID: "chunk_1", Text: "skills: Laravel, MySQL and JavaScript", Metadata: map[string]any{"section": "skills", "type": "array_item"}},
		{ID: "qa_leadership_0", Text: "Interview Question: Tell me about a time you led a team", Metadata: map[string]any{"section": "interview_qa"}},
	}
}

func TestChromemConfig_Validate(t *testing.T) {
	cfg := ChromemConfig{Collection: "Bad-Name"}
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCollectionName)

	cfg = ChromemConfig{}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "digitaltwin", cfg.Collection)
	assert.Equal(t, embeddings.DefaultHashDimension, cfg.Dimension)
}

func TestChromemIndex_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t, "")

	require.NoError(t, idx.Upsert(ctx, chromemRecords()))

	matches, err := idx.Query(ctx, Query{Text: "skills: Laravel, MySQL and JavaScript", TopK: 2, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "chunk_1", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, "skills", matches[0].Metadata["section"])
}

func TestChromemIndex_QueryClampsTopK(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t, "")

	matches, err := idx.Query(ctx, Query{Text: "anything", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, idx.Upsert(ctx, chromemRecords()))
	matches, err = idx.Query(ctx, Query{Text: "anything", TopK: 50})
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestChromemIndex_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t, "")

	require.NoError(t, idx.Upsert(ctx, chromemRecords()))
	require.NoError(t, idx.Upsert(ctx, chromemRecords()[:1]))

	info, err := idx.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.VectorCount)
	assert.Equal(t, 64, info.Dimension)
	assert.Equal(t, "chromem", info.Provider)
}

func TestChromemIndex_DimensionMismatch(t *testing.T) {
	idx := newTestChromemIndex(t, "")

	err := idx.Upsert(context.Background(), []Record{{ID: "a", Vector: []float32{1, 0, 0}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrDimensionMismatch)
}

func TestChromemIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	first := newTestChromemIndex(t, path)
	require.NoError(t, first.Upsert(ctx, chromemRecords()))

	second := newTestChromemIndex(t, path)
	info, err := second.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.VectorCount)

	matches, err := second.Query(ctx, Query{Text: "personal.name: Juan Dela Cruz", TopK: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "chunk_0", matches[0].ID)
}

func TestChromemIndex_Reset(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t, t.TempDir())

	require.NoError(t, idx.Upsert(ctx, chromemRecords()))
	require.NoError(t, idx.Reset(ctx))

	info, err := idx.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.VectorCount)

	require.NoError(t, idx.Upsert(ctx, chromemRecords()[:2]))
	info, err = idx.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.VectorCount)
}

func TestConvertMetadataToString(t *testing.T) {
	got := convertMetadataToString(map[string]any{
		"section": "skills",
		"index":   3,
		"score":   0.5,
		"active":  true,
	})
	assert.Equal(t, map[string]string{
		"section": "skills",
		"index":   "3",
		"score":   "0.5",
		"active":  "true",
	}, got)
	assert.Nil(t, convertMetadataToString(nil))
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("digitaltwin"))
	assert.NoError(t, ValidateCollectionName("profile_2024"))
	assert.ErrorIs(t, ValidateCollectionName(""), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("has space"), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("UPPER"), ErrInvalidCollectionName)
}

func TestNewResilientChromemDB_HealthyDB(t *testing.T) {
	db, err := NewResilientChromemDB(t.TempDir(), false, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, db)
}

func TestFindCorruptCollections(t *testing.T) {
	logger := zaptest.NewLogger(t)
	path := t.TempDir()

	healthy := filepath.Join(path, "aaaa1111")
	require.NoError(t, os.MkdirAll(healthy, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(healthy, "00000000.gob"), []byte("metadata"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(healthy, "abcd1234.gob"), []byte("document"), 0o644))

	corrupt := filepath.Join(path, "bbbb2222")
	require.NoError(t, os.MkdirAll(corrupt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "abcd5678.gob"), []byte("document"), 0o644))

	// empty collections and hidden directories are ignored
	require.NoError(t, os.MkdirAll(filepath.Join(path, "cccc3333"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(path, quarantineDir, "dddd4444"), 0o755))

	found, err := findCorruptCollections(path, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"bbbb2222"}, found)
}
