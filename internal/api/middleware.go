package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/samcharles93/summarizer/internal/logger"
	"github.com/samcharles93/summarizer/internal/tracing"
)

const HeaderRequestID = "X-Request-Id"

type requestState struct {
	id     string
	status int
}

type stateKey struct{}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(stateKey{}).(*requestState)
	return st
}

// RequestIDFromContext returns the id assigned by the request middleware.
func RequestIDFromContext(ctx context.Context) string {
	if st := stateFrom(ctx); st != nil {
		return st.id
	}
	return ""
}

// requestContext assigns a request id (reusing a client-supplied one), puts
// a request-scoped logger in the context and writes one access log line per
// request.
func requestContext(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)

			st := &requestState{id: id}
			reqLog := log.With("request_id", id)
			ctx := context.WithValue(req.Context(), stateKey{}, st)
			ctx = logger.WithContext(ctx, reqLog)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			status := st.status
			if status == 0 {
				status = http.StatusOK
				if err != nil {
					status = statusFromError(err)
				}
			}
			reqLog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"latency", time.Since(start),
			)
			return err
		}
	}
}

func traceRequests() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) (err error) {
			req := c.Request()
			ctx, span := tracing.Start(req.Context(), "HTTP "+req.Method+" "+req.URL.Path,
				attribute.String("http.request.method", req.Method),
				attribute.String("url.path", req.URL.Path),
				attribute.String("request.id", RequestIDFromContext(req.Context())),
			)
			defer func() { tracing.End(span, err) }()
			c.SetRequest(req.WithContext(ctx))
			err = next(c)
			if st := stateFrom(ctx); st != nil && st.status != 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", st.status))
			}
			return err
		}
	}
}

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(l *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			r := l.Reserve()
			if !r.OK() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded", "")
			}
			if d := r.Delay(); d > 0 {
				r.Cancel()
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error",
					fmt.Sprintf("rate limit exceeded, retry in %s", d.Round(time.Millisecond)), "")
			}
			return next(c)
		}
	}
}
