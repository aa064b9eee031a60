package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/logging"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		s.logger.Debug("invalid request body", zap.Error(err))
		return fmt.Errorf("%w: invalid request body", rag.ErrValidation)
	}
	return nil
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	results, err := s.service.Search(c.Request().Context(), req.Query, rag.SearchOptions{
		TopK:      req.TopK,
		Threshold: req.Threshold,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SearchResponse{
		Success:   true,
		Results:   results,
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	res, err := s.service.QueryWithResponse(c.Request().Context(), req.Query, req.Options.toRAG())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Success:          true,
		Query:            res.Query,
		Response:         res.Response,
		SearchResults:    res.SearchResults,
		FollowUpQuestion: res.FollowUpQuestion,
		UsageStats:       res.UsageStats,
		Timestamp:        s.now().UTC(),
	})
}

// handleQueryStream answers as server-sent events. Failures before the first
// event are ordinary error responses; later failures arrive as an error
// event and end the stream.
func (s *Server) handleQueryStream(c echo.Context) error {
	var req QueryRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	started := false
	w := c.Response()
	emit := func(e rag.Event) error {
		if !started {
			h := w.Header()
			h.Set(echo.HeaderContentType, "text/event-stream")
			h.Set(echo.HeaderCacheControl, "no-cache")
			h.Set(echo.HeaderConnection, "keep-alive")
			h.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		w.Flush()
		return nil
	}

	ctx := c.Request().Context()
	err := s.service.StreamQuery(ctx, req.Query, req.Options.toRAG(), emit)
	if err != nil && started {
		s.logger.Warn("stream ended with error",
			append(logging.ContextFields(ctx), zap.Error(err))...)
		return nil
	}
	return err
}

func (s *Server) handleFollowUp(c echo.Context) error {
	var req FollowUpRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	text, err := s.service.GenerateFollowUpQuestion(c.Request().Context(), rag.FollowUpRequest{
		UserMessage:      req.UserMessage,
		PreviousQuestion: req.PreviousQuestion,
		History:          req.ConversationHistory,
		Scenario:         req.Scenario,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, FollowUpResponse{Success: true, FollowUpQuestion: text, Timestamp: s.now().UTC()})
}

func (s *Server) handleInitialFollowUp(c echo.Context) error {
	var req InitialFollowUpRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	text, err := s.service.GenerateInitialFollowUp(c.Request().Context(), req.Topic)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, FollowUpResponse{Success: true, FollowUpQuestion: text, Timestamp: s.now().UTC()})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.SystemInfo(c.Request().Context()))
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.service.Reset(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResetResponse{Success: true, Message: "index and usage statistics cleared"})
}

func (o QueryOptions) toRAG() rag.QueryOptions {
	return rag.QueryOptions{
		TopK:                o.TopK,
		Threshold:           o.Threshold,
		Temperature:         o.Temperature,
		MaxTokens:           o.MaxTokens,
		GenerateFollowUp:    o.GenerateFollowUp,
		ConversationHistory: o.ConversationHistory,
	}
}
