package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/vectorstore"
)

func collect(events *[]Event) func(Event) error {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestStreamQuery(t *testing.T) {
	f := newFixture(t, &echoChat{chunks: []string{"I know ", "", "C++ and ", "Laravel."}})

	var events []Event
	err := f.svc.StreamQuery(context.Background(), "What programming languages do you know?", QueryOptions{TopK: 2}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventMetadata, EventSearchResults, EventChunk, EventChunk, EventChunk, EventComplete}, types(events))

	meta := events[0]
	assert.Equal(t, "What programming languages do you know?", meta.Query)
	require.NotNil(t, meta.SearchResultsCount)
	assert.Equal(t, 2, *meta.SearchResultsCount)
	assert.False(t, meta.Timestamp.IsZero())

	assert.Len(t, events[1].Results, 2)

	var text string
	for _, e := range events[2:5] {
		text += e.Content
	}
	assert.Equal(t, "I know C++ and Laravel.", text)
	assert.False(t, events[5].Timestamp.IsZero())
}

func TestStreamQuery_MidStreamError(t *testing.T) {
	f := newFixture(t, &echoChat{
		chunks:    []string{"I know "},
		streamErr: &generation.Error{Kind: generation.KindUnavailable, StatusCode: 502},
	})

	var events []Event
	err := f.svc.StreamQuery(context.Background(), "skills", QueryOptions{}, collect(&events))
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrUnavailable)

	assert.Equal(t, []EventType{EventMetadata, EventSearchResults, EventChunk, EventError}, types(events))
	assert.Equal(t, "generation service unavailable", events[3].Message)
}

func TestStreamQuery_OpenError(t *testing.T) {
	f := newFixture(t, &echoChat{failAll: &generation.Error{Kind: generation.KindRateLimited, StatusCode: 429}})

	var events []Event
	err := f.svc.StreamQuery(context.Background(), "skills", QueryOptions{}, collect(&events))
	assert.ErrorIs(t, err, generation.ErrRateLimited)

	assert.Equal(t, []EventType{EventMetadata, EventSearchResults, EventError}, types(events))
	assert.Equal(t, "generation service rate limited, try again later", events[2].Message)
}

func TestStreamQuery_DegradedStoreStillAnswers(t *testing.T) {
	f := newFixture(t, &echoChat{chunks: []string{"I don't have that information right now."}})
	f.index.queryErr = &vectorstore.StoreError{Op: "query", Kind: vectorstore.KindUnavailable}

	var events []Event
	err := f.svc.StreamQuery(context.Background(), "skills", QueryOptions{}, collect(&events))
	require.NoError(t, err)

	require.NotNil(t, events[0].SearchResultsCount)
	assert.Zero(t, *events[0].SearchResultsCount)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
}

func TestStreamQuery_EmitErrorStops(t *testing.T) {
	f := newFixture(t, &echoChat{chunks: []string{"a", "b", "c"}})
	gone := errors.New("client disconnected")

	var events []Event
	err := f.svc.StreamQuery(context.Background(), "skills", QueryOptions{}, func(e Event) error {
		events = append(events, e)
		if e.Type == EventChunk {
			return gone
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrEmit)
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, []EventType{EventMetadata, EventSearchResults, EventChunk}, types(events))
}
