package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tunogya/fractal/pkg/metrics"
)

const requestIDKey = "request_id"

// RequestID propagates X-Request-ID, generating one when the client sent none
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(requestIDKey, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// RequestLogging logs every request with its latency and counts it
func RequestLogging(log zerolog.Logger, rec *metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			id, _ := c.Get(requestIDKey).(string)

			log.Info().
				Str("request_id", id).
				Str("method", req.Method).
				Str("path", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Msg("http request")
			rec.RecordHTTP(c.Path(), req.Method, strconv.Itoa(status))

			return nil
		}
	}
}

// RateLimit rejects requests beyond rps (with burst) with 429. Paths in skip are never limited.
func RateLimit(rps float64, burst int, skip ...string) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = int(rps) + 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	exempt := make(map[string]bool, len(skip))
	for _, p := range skip {
		exempt[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if exempt[c.Path()] || limiter.Allow() {
				return next(c)
			}
			return c.JSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
		}
	}
}
