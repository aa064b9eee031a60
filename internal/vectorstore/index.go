// Package vectorstore provides the vector index used for profile retrieval.
//
// Every backend implements Index. Local backends (MemoryIndex, ChromemIndex)
// embed text with an embeddings.Embedder; remote backends either embed
// client-side (QdrantIndex) or send raw text to a hosted embedding model
// (UpstashIndex). FallbackIndex serves from a local index while the remote
// one is unavailable.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords indicates an upsert with no records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrEmptyQuery indicates a query with neither text nor vector.
	ErrEmptyQuery = errors.New("query requires text or vector")

	// ErrEmbeddingFailed indicates the index could not embed text.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Record is one entry to insert or replace.
type Record struct {
	ID string
	// Text is embedded by the index when Vector is nil.
	Text     string
	Vector   []float32
	Metadata map[string]any
}

// Query describes a nearest-neighbour lookup. Vector takes precedence over Text.
type Query struct {
	Text            string
	Vector          []float32
	TopK            int
	IncludeMetadata bool
}

// Match is one query result. Results are ordered by descending Score.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Info describes the index contents.
type Info struct {
	VectorCount int    `json:"vectorCount"`
	Dimension   int    `json:"dimension"`
	Provider    string `json:"provider"`
}

// Index is the contract shared by all vector index backends.
//
// Query never mutates state; Upsert and Reset are the only mutators.
// Transport, authentication and rate-limit failures are returned as
// *StoreError values matching ErrStoreUnavailable.
type Index interface {
	// Upsert inserts records or replaces them by ID.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to TopK matches ordered by descending score.
	Query(ctx context.Context, q Query) ([]Match, error)

	// Info reports the number of stored vectors and their dimension.
	Info(ctx context.Context) (Info, error)

	// Reset removes every entry.
	Reset(ctx context.Context) error

	// Close releases resources held by the index.
	Close() error
}

func validateRecords(records []Record) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}
	for i, r := range records {
		if r.ID == "" {
			return &StoreError{Op: "upsert", Kind: KindInvalid, Err: fmt.Errorf("record %d has no id", i)}
		}
		if r.Vector == nil && r.Text == "" {
			return &StoreError{Op: "upsert", Kind: KindInvalid, Err: fmt.Errorf("record %s has neither text nor vector", r.ID)}
		}
	}
	return nil
}

func validateQuery(q Query) error {
	if q.Vector == nil && q.Text == "" {
		return ErrEmptyQuery
	}
	if q.TopK <= 0 {
		return &StoreError{Op: "query", Kind: KindInvalid, Err: fmt.Errorf("topK must be positive, got %d", q.TopK)}
	}
	return nil
}
