package http

import (
	"time"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query     string   `json:"query"`
	TopK      int      `json:"topK,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Success   bool               `json:"success"`
	Results   []retriever.Result `json:"results"`
	Timestamp time.Time          `json:"timestamp"`
}

// QueryOptions are the tunables of POST /api/v1/query.
type QueryOptions struct {
	TopK                int                  `json:"topK,omitempty"`
	Threshold           *float64             `json:"threshold,omitempty"`
	Temperature         *float32             `json:"temperature,omitempty"`
	MaxTokens           int                  `json:"maxTokens,omitempty"`
	GenerateFollowUp    bool                 `json:"generateFollowUp,omitempty"`
	ConversationHistory []generation.Message `json:"conversationHistory,omitempty"`
}

// QueryRequest is the request body for POST /api/v1/query and
// POST /api/v1/query/stream.
type QueryRequest struct {
	Query   string       `json:"query"`
	Options QueryOptions `json:"options"`
}

// QueryResponse is the response body for POST /api/v1/query.
type QueryResponse struct {
	Success          bool               `json:"success"`
	Query            string             `json:"query"`
	Response         string             `json:"response"`
	SearchResults    []retriever.Result `json:"searchResults"`
	FollowUpQuestion string             `json:"followUpQuestion,omitempty"`
	UsageStats       generation.Usage   `json:"usageStats"`
	Timestamp        time.Time          `json:"timestamp"`
}

// FollowUpRequest is the request body for POST /api/v1/follow-up.
type FollowUpRequest struct {
	UserMessage         string               `json:"userMessage"`
	PreviousQuestion    string               `json:"previousQuestion,omitempty"`
	ConversationHistory []generation.Message `json:"conversationHistory,omitempty"`
	Scenario            string               `json:"scenario,omitempty"`
}

// InitialFollowUpRequest is the request body for POST /api/v1/follow-up/initial.
type InitialFollowUpRequest struct {
	Topic string `json:"topic"`
}

// FollowUpResponse is the response body of both follow-up endpoints.
type FollowUpResponse struct {
	Success          bool      `json:"success"`
	FollowUpQuestion string    `json:"followUpQuestion"`
	Timestamp        time.Time `json:"timestamp"`
}

// ResetResponse is the response body for POST /api/v1/reset.
type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
