package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/logging"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeValidation            = "validation_error"
	CodeStoreUnavailable      = "store_unavailable"
	CodeGenerationUnavailable = "generation_unavailable"
	CodeUpstreamAuth          = "upstream_auth_error"
	CodeRateLimited           = "rate_limited"
	CodeInternal              = "internal_error"
	CodeHTTP                  = "http_error"
)

// statusFor maps a pipeline error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, rag.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	case errors.Is(err, generation.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeGenerationUnavailable
	case errors.Is(err, generation.ErrAuth):
		return http.StatusBadGateway, CodeUpstreamAuth
	case errors.Is(err, generation.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// handleError writes every failure as an ErrorResponse. Upstream detail is
// logged and never returned.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   ErrorResponse
		he     *echo.HTTPError
	)
	if errors.As(err, &he) {
		status = he.Code
		body = ErrorResponse{Error: CodeHTTP, Message: http.StatusText(he.Code)}
		if msg, ok := he.Message.(string); ok && msg != "" {
			body.Message = msg
		}
	} else {
		var code string
		status, code = statusFor(err)
		body = ErrorResponse{Error: code, Message: rag.PublicMessage(err)}
	}

	fields := append(logging.ContextFields(c.Request().Context()),
		zap.Int("status", status),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, body)
	}
	if werr != nil {
		s.logger.Warn("writing error response failed", zap.Error(werr))
	}
}
