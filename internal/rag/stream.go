package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
)

// EventType names a streamed query event.
type EventType string

const (
	EventMetadata      EventType = "metadata"
	EventSearchResults EventType = "searchResults"
	EventChunk         EventType = "chunk"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
)

// Event is one item of a streamed answer. A stream is metadata,
// searchResults, zero or more chunks, then exactly one of complete or error.
type Event struct {
	Type               EventType          `json:"type"`
	Query              string             `json:"query,omitempty"`
	SearchResultsCount *int               `json:"searchResultsCount,omitempty"`
	Results            []retriever.Result `json:"results,omitzero"`
	Content            string             `json:"content,omitempty"`
	Message            string             `json:"message,omitempty"`
	Timestamp          time.Time          `json:"timestamp,omitzero"`
}

// ErrEmit wraps errors returned by the emit callback, usually a client
// that went away.
var ErrEmit = errors.New("emitting event")

// StreamQuery answers query incrementally through emit. Validation and
// search failures are returned before anything is emitted. Once streaming
// starts a generation failure is emitted as an error event and also
// returned. An emit error stops the stream.
func (s *Service) StreamQuery(ctx context.Context, query string, opts QueryOptions, emit func(Event) error) error {
	start := time.Now()
	if err := opts.validate(query); err != nil {
		QueriesTotal.WithLabelValues(outcome(err, false)).Inc()
		return err
	}

	ctx, span := tracer.Start(ctx, "rag.StreamQuery")
	defer span.End()

	err := s.streamQuery(ctx, query, opts, emit)
	QueriesTotal.WithLabelValues(outcome(err, s.storeDegraded())).Inc()
	QueryDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		s.logger.Error("streamed query failed", zap.Error(err))
	}
	return err
}

func (s *Service) streamQuery(ctx context.Context, query string, opts QueryOptions, emit func(Event) error) error {
	results, err := s.search(ctx, query, SearchOptions{TopK: opts.TopK, Threshold: opts.Threshold})
	if err != nil {
		return err
	}

	send := func(e Event) error {
		if err := emit(e); err != nil {
			return fmt.Errorf("%w: %w", ErrEmit, err)
		}
		return nil
	}
	fail := func(err error) error {
		_ = emit(Event{Type: EventError, Message: PublicMessage(err), Timestamp: time.Now().UTC()})
		return err
	}

	count := len(results)
	if err := send(Event{Type: EventMetadata, Query: query, SearchResultsCount: &count, Timestamp: time.Now().UTC()}); err != nil {
		return err
	}
	if err := send(Event{Type: EventSearchResults, Results: results}); err != nil {
		return err
	}

	stream, err := s.responder.GenerateStream(ctx, query, results, generation.Options{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return fail(fmt.Errorf("generating answer: %w", err))
	}
	defer stream.Close()

	chunks := 0
	for stream.Next() {
		chunks++
		if err := send(Event{Type: EventChunk, Content: stream.Current()}); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fail(fmt.Errorf("streaming answer: %w", err))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("results", count),
		attribute.Int("chunks", chunks),
	)
	return send(Event{Type: EventComplete, Timestamp: time.Now().UTC()})
}
