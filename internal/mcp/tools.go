package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/logging"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
)

// Tool names.
const (
	ToolQueryProfile    = "query_profile"
	ToolSearchProfile   = "search_profile"
	ToolGenerateFollow  = "generate_follow_up"
	ToolInitialFollowUp = "generate_initial_follow_up"
	ToolSystemInfo      = "get_system_info"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolQueryProfile,
		Description: "Ask the digital twin a question. Answers in the first person using only facts from the portfolio profile, and can suggest a follow-up question.",
	}, instrument(s, ToolQueryProfile, s.queryProfile))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSearchProfile,
		Description: "Search the portfolio profile and return the most relevant facts with similarity scores, without generating an answer.",
	}, instrument(s, ToolSearchProfile, s.searchProfile))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGenerateFollow,
		Description: "Write the next conversational question given the user's latest message. Optional scenario: achievement, challenge, leadership, technical, career.",
	}, instrument(s, ToolGenerateFollow, s.generateFollowUp))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolInitialFollowUp,
		Description: "Write an opening question that starts a conversation about a topic.",
	}, instrument(s, ToolInitialFollowUp, s.generateInitialFollowUp))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSystemInfo,
		Description: "Report readiness, index statistics, vector store health and token usage.",
	}, instrument(s, ToolSystemInfo, s.systemInfo))
}

// instrument records metrics for a tool and replaces failures with
// caller-safe messages. The full error is logged.
func instrument[In, Out any](s *Server, name string, fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		defer s.metrics.DecrementActive(ctx, name)

		out, err := fn(ctx, in)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool failed",
				append(logging.ContextFields(ctx), zap.String("tool", name), zap.Error(err))...)
			var zero Out
			return nil, zero, errors.New(rag.PublicMessage(err))
		}
		return nil, out, nil
	}
}

// ===== QUERY =====

type queryInput struct {
	Query            string               `json:"query" jsonschema:"The question to ask"`
	TopK             int                  `json:"top_k,omitempty" jsonschema:"Number of profile facts to retrieve (default 5, max 50)"`
	GenerateFollowUp bool                 `json:"generate_follow_up,omitempty" jsonschema:"Also suggest a follow-up question"`
	History          []generation.Message `json:"history,omitempty" jsonschema:"Earlier conversation turns, oldest first"`
}

type queryOutput struct {
	Response         string             `json:"response" jsonschema:"The answer in the first person"`
	SearchResults    []retriever.Result `json:"search_results" jsonschema:"Profile facts the answer was based on"`
	FollowUpQuestion string             `json:"follow_up_question,omitempty" jsonschema:"Suggested next question"`
	UsageStats       generation.Usage   `json:"usage_stats" jsonschema:"Accumulated token usage"`
}

func (s *Server) queryProfile(ctx context.Context, in queryInput) (queryOutput, error) {
	res, err := s.service.QueryWithResponse(ctx, in.Query, rag.QueryOptions{
		TopK:                in.TopK,
		GenerateFollowUp:    in.GenerateFollowUp,
		ConversationHistory: in.History,
	})
	if err != nil {
		return queryOutput{}, err
	}
	return queryOutput{
		Response:         res.Response,
		SearchResults:    nonNil(res.SearchResults),
		FollowUpQuestion: res.FollowUpQuestion,
		UsageStats:       res.UsageStats,
	}, nil
}

// ===== SEARCH =====

type searchInput struct {
	Query string `json:"query" jsonschema:"Text to search for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Maximum results (default 5, max 50)"`
}

type searchOutput struct {
	Results []retriever.Result `json:"results" jsonschema:"Matching profile facts, best first"`
	Count   int                `json:"count" jsonschema:"Number of results"`
}

func (s *Server) searchProfile(ctx context.Context, in searchInput) (searchOutput, error) {
	results, err := s.service.Search(ctx, in.Query, rag.SearchOptions{TopK: in.TopK})
	if err != nil {
		return searchOutput{}, err
	}
	return searchOutput{Results: nonNil(results), Count: len(results)}, nil
}

// ===== FOLLOW-UP =====

type followUpInput struct {
	UserMessage      string `json:"user_message" jsonschema:"The user's latest message"`
	PreviousQuestion string `json:"previous_question,omitempty" jsonschema:"The question the user was answering"`
	Scenario         string `json:"scenario,omitempty" jsonschema:"Interview scenario focus"`
}

type initialFollowUpInput struct {
	Topic string `json:"topic" jsonschema:"Topic to open the conversation with"`
}

type followUpOutput struct {
	FollowUpQuestion string `json:"follow_up_question" jsonschema:"The next question to ask"`
}

func (s *Server) generateFollowUp(ctx context.Context, in followUpInput) (followUpOutput, error) {
	text, err := s.service.GenerateFollowUpQuestion(ctx, rag.FollowUpRequest{
		UserMessage:      in.UserMessage,
		PreviousQuestion: in.PreviousQuestion,
		Scenario:         in.Scenario,
	})
	if err != nil {
		return followUpOutput{}, err
	}
	return followUpOutput{FollowUpQuestion: text}, nil
}

func (s *Server) generateInitialFollowUp(ctx context.Context, in initialFollowUpInput) (followUpOutput, error) {
	text, err := s.service.GenerateInitialFollowUp(ctx, in.Topic)
	if err != nil {
		return followUpOutput{}, err
	}
	return followUpOutput{FollowUpQuestion: text}, nil
}

// ===== STATUS =====

type systemInfoInput struct{}

func (s *Server) systemInfo(ctx context.Context, _ systemInfoInput) (rag.SystemInfo, error) {
	return s.service.SystemInfo(ctx), nil
}

func nonNil(results []retriever.Result) []retriever.Result {
	if results == nil {
		return []retriever.Result{}
	}
	return results
}
