// Package rag composes retrieval, answer generation and follow-up questions
// into the query pipeline served by the HTTP, MCP and CLI front ends.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/followup"
	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
	"github.com/fyrsmithlabs/digitaltwin/internal/vectorstore"
)

// Request limits.
const (
	MaxQueryLength = 2000
	MaxTopK        = 50
	MaxTokens      = 4096
)

// Store status values reported by SystemInfo.
const (
	StoreHealthy  = "healthy"
	StoreDegraded = "degraded"
)

// QueryOptions controls QueryWithResponse and StreamQuery. Zero or nil
// values use the retrieval and generation defaults.
type QueryOptions struct {
	TopK                int                  `json:"topK,omitempty"`
	Threshold           *float64             `json:"threshold,omitempty"`
	Temperature         *float32             `json:"temperature,omitempty"`
	MaxTokens           int                  `json:"maxTokens,omitempty"`
	GenerateFollowUp    bool                 `json:"generateFollowUp,omitempty"`
	ConversationHistory []generation.Message `json:"conversationHistory,omitempty"`
}

// SearchOptions controls Search.
type SearchOptions struct {
	TopK      int      `json:"topK,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// QueryResult is an answered query.
type QueryResult struct {
	Query            string             `json:"query"`
	Response         string             `json:"response"`
	SearchResults    []retriever.Result `json:"searchResults"`
	FollowUpQuestion string             `json:"followUpQuestion,omitempty"`
	UsageStats       generation.Usage   `json:"usageStats"`
}

// FollowUpRequest asks for the next question in a conversation.
type FollowUpRequest struct {
	UserMessage string
	// PreviousQuestion defaults to the last user turn in History.
	PreviousQuestion string
	History          []generation.Message
	// Scenario selects an interview focus; empty means a general follow-up.
	Scenario string
}

// SystemInfo is the service status.
type SystemInfo struct {
	IsInitialized bool              `json:"isInitialized"`
	VectorInfo    *vectorstore.Info `json:"vectorInfo"`
	StoreStatus   string            `json:"storeStatus"`
	StoreError    string            `json:"storeError,omitempty"`
	UsageStats    generation.Usage  `json:"usageStats"`
}

// Deps are the pipeline stages.
type Deps struct {
	Retriever *retriever.Retriever
	Responder *generation.Responder
	FollowUps *followup.Generator
	Usage     *generation.UsageTracker
}

// Service runs the query pipeline. It is safe for concurrent use; create
// one per process.
type Service struct {
	retriever *retriever.Retriever
	responder *generation.Responder
	followups *followup.Generator
	usage     *generation.UsageTracker
	logger    *zap.Logger

	initialized atomic.Bool

	mu       sync.RWMutex
	storeErr error // last store failure, nil while healthy
}

// NewService creates a Service. Nothing is loaded until Initialize or the
// first query.
func NewService(deps Deps, logger *zap.Logger) (*Service, error) {
	if deps.Retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if deps.Responder == nil {
		return nil, fmt.Errorf("responder cannot be nil")
	}
	if deps.FollowUps == nil {
		return nil, fmt.Errorf("follow-up generator cannot be nil")
	}
	if deps.Usage == nil {
		deps.Usage = generation.NewUsageTracker(generation.Pricing{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retriever: deps.Retriever,
		responder: deps.Responder,
		followups: deps.FollowUps,
		usage:     deps.Usage,
		logger:    logger,
	}, nil
}

// IsReady reports whether initialization has completed, possibly with the
// store degraded.
func (s *Service) IsReady() bool {
	return s.initialized.Load()
}

// Initialize loads the profile into the index if needed. An unavailable
// store does not fail initialization; it leaves the service degraded and
// the load is retried by later searches.
func (s *Service) Initialize(ctx context.Context) error {
	err := s.retriever.Initialize(ctx)
	switch {
	case err == nil:
		s.setStoreErr(nil)
	case errors.Is(err, ErrStoreUnavailable):
		s.setStoreErr(err)
		s.logger.Warn("vector store unavailable during initialization, continuing degraded",
			zap.String("kind", vectorstore.KindOf(err).String()),
			zap.Error(err),
		)
	default:
		return fmt.Errorf("initializing: %w", err)
	}
	s.initialized.Store(true)
	return nil
}

// Search returns results for query. When the store is unavailable it
// returns an empty list and marks the store degraded.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]retriever.Result, error) {
	if err := validateQuery(query, opts.TopK); err != nil {
		return nil, err
	}
	return s.search(ctx, query, opts)
}

func (s *Service) search(ctx context.Context, query string, opts SearchOptions) ([]retriever.Result, error) {
	if !s.IsReady() {
		if err := s.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	results, err := s.retriever.Search(ctx, query, retriever.Options{TopK: opts.TopK, Threshold: opts.Threshold})
	if errors.Is(err, ErrStoreUnavailable) {
		s.setStoreErr(err)
		s.logger.Warn("vector store unavailable, returning no results",
			zap.String("kind", vectorstore.KindOf(err).String()),
			zap.Error(err),
		)
		return []retriever.Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	s.setStoreErr(nil)
	return results, nil
}

// QueryWithResponse searches, answers and optionally writes a follow-up.
// A follow-up failure omits the follow-up; other failures fail the query.
func (s *Service) QueryWithResponse(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error) {
	start := time.Now()
	if err := opts.validate(query); err != nil {
		QueriesTotal.WithLabelValues(outcome(err, false)).Inc()
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "rag.QueryWithResponse")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_k", opts.TopK),
		attribute.Bool("follow_up", opts.GenerateFollowUp),
	)

	res, err := s.queryWithResponse(ctx, query, opts)
	degraded := s.storeDegraded()
	QueriesTotal.WithLabelValues(outcome(err, degraded)).Inc()
	QueryDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.logger.Error("query failed", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(res.SearchResults)), attribute.Bool("degraded", degraded))
	return res, nil
}

func (s *Service) queryWithResponse(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error) {
	results, err := s.search(ctx, query, SearchOptions{TopK: opts.TopK, Threshold: opts.Threshold})
	if err != nil {
		return nil, err
	}

	answer, err := s.responder.Generate(ctx, query, results, generation.Options{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	res := &QueryResult{
		Query:         query,
		Response:      answer,
		SearchResults: results,
	}

	if opts.GenerateFollowUp {
		fu, err := s.followups.GenerateFollowUp(ctx, answer, query, followup.Options{
			History: opts.ConversationHistory,
			Depth:   followup.Moderate,
		})
		switch {
		case err != nil:
			s.logger.Warn("follow-up omitted", zap.Error(err))
		case fu.Fallback:
			s.logger.Warn("follow-up omitted, model unavailable")
		default:
			res.FollowUpQuestion = fu.FollowUpQuestion
		}
	}

	res.UsageStats = s.usage.Snapshot()
	return res, nil
}

// GenerateFollowUpQuestion writes the next question for a conversation.
// Model failures degrade to a canned question.
func (s *Service) GenerateFollowUpQuestion(ctx context.Context, req FollowUpRequest) (string, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return "", fmt.Errorf("%w: userMessage is required", ErrValidation)
	}
	previous := req.PreviousQuestion
	if previous == "" {
		previous = lastUserTurn(req.History)
	}

	if req.Scenario != "" {
		scenario, err := followup.ParseScenario(req.Scenario)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return s.followups.GenerateInterviewFollowUp(ctx, scenario, req.UserMessage, previous)
	}

	res, err := s.followups.GenerateFollowUp(ctx, req.UserMessage, previous, followup.Options{
		History: req.History,
		Depth:   followup.Moderate,
	})
	if err != nil {
		return "", err
	}
	return res.FollowUpQuestion, nil
}

// GenerateInitialFollowUp opens a conversation about topic.
func (s *Service) GenerateInitialFollowUp(ctx context.Context, topic string) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("%w: topic is required", ErrValidation)
	}
	return s.followups.GenerateInitialFollowUp(ctx, topic)
}

// SystemInfo reports readiness, index statistics, store health and usage.
func (s *Service) SystemInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{
		IsInitialized: s.IsReady(),
		StoreStatus:   StoreHealthy,
		UsageStats:    s.usage.Snapshot(),
	}

	vi, err := s.retriever.Info(ctx)
	if err != nil {
		s.logger.Warn("reading index info failed", zap.Error(err))
		if errors.Is(err, ErrStoreUnavailable) {
			s.setStoreErr(err)
		}
	} else {
		info.VectorInfo = &vi
	}

	if storeErr := s.currentStoreErr(); storeErr != nil {
		info.StoreStatus = StoreDegraded
		info.StoreError = "vector store " + vectorstore.KindOf(storeErr).String()
	} else if s.retriever.Degraded() {
		info.StoreStatus = StoreDegraded
		info.StoreError = "primary vector store unavailable, serving fallback"
	}
	return info
}

// Reset clears the index and the usage totals. The next query reloads the
// profile.
func (s *Service) Reset(ctx context.Context) error {
	s.initialized.Store(false)
	if err := s.retriever.Reset(ctx); err != nil {
		return err
	}
	s.usage.Reset()
	s.setStoreErr(nil)
	s.logger.Info("service reset")
	return nil
}

// Usage returns the accumulated generation usage.
func (s *Service) Usage() generation.Usage {
	return s.usage.Snapshot()
}

func (s *Service) setStoreErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeErr = err
	if err != nil {
		StoreDegradedGauge.Set(1)
	} else {
		StoreDegradedGauge.Set(0)
	}
}

func (s *Service) currentStoreErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storeErr
}

func (s *Service) storeDegraded() bool {
	return s.currentStoreErr() != nil || s.retriever.Degraded()
}

func (o QueryOptions) validate(query string) error {
	if err := validateQuery(query, o.TopK); err != nil {
		return err
	}
	if t := o.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("%w: temperature must be within [0, 2]", ErrValidation)
	}
	if o.MaxTokens < 0 || o.MaxTokens > MaxTokens {
		return fmt.Errorf("%w: maxTokens must be within [0, %d]", ErrValidation, MaxTokens)
	}
	return nil
}

func validateQuery(query string, topK int) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if len([]rune(q)) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrValidation, MaxQueryLength)
	}
	if topK < 0 || topK > MaxTopK {
		return fmt.Errorf("%w: topK must be within [0, %d]", ErrValidation, MaxTopK)
	}
	return nil
}

func lastUserTurn(history []generation.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == generation.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
