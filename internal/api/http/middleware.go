// Package http provides the echo-based HTTP API of taxidash.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
	"github.com/taxidash/taxidash/internal/logging"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestIDMiddleware echoes X-Request-ID or generates one, and makes it
// available to loggers through the request context.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.ContextWithRequestID(req.Context(), id)))
		},
	})
}

// RequestLoggerMiddleware logs one line per request.
func RequestLoggerMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	})
}

// DefaultMiddleware returns the middleware chain for the API.
func DefaultMiddleware(logger *slog.Logger) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.Recover(),
		RequestIDMiddleware(),
		RequestLoggerMiddleware(logger),
		middleware.CORS(),
	}
}

// RateLimitMiddleware limits each client IP to perMinute requests with the
// given burst. Rejected requests get 429.
func RateLimitMiddleware(perMinute, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Every(time.Minute / time.Duration(perMinute)),
		Burst:     burst,
		ExpiresIn: 15 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "cannot identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch {
	case errors.Is(err, taxierrors.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, taxierrors.ErrSourceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, taxierrors.ErrNoDataAvailable):
		return http.StatusNotFound
	case errors.Is(err, taxierrors.ErrDuplicateRegistration):
		return http.StatusConflict
	}
	switch taxierrors.GetCategory(err) {
	case taxierrors.ErrCategoryValidation, taxierrors.ErrCategoryQuery:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError writes err as an ErrorResponse.
func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      taxierrors.GetCode(err),
		RequestID: requestID(c),
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		resp.Error = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			resp.Error = msg
		}
	}
	return c.JSON(status, resp)
}

// ErrorHandler renders errors that escape handlers, such as unknown routes.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	_ = writeError(c, err)
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
