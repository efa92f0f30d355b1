// Package adminserver exposes the process's health, status, and
// operator-triggered maintenance endpoints: a RequestID/RequestLog/Recover
// middleware chain wrapping handlers that report on
// internal/store/kv.Engine and internal/cluster/raft.Node. This server
// carries no externally-facing business API of its own; JMAP/IMAP
// request handling lives in the protocol front-ends, not this repo.
package adminserver

import (
	"context"
	"net/http"
	"time"

	"github.com/nyxmail/corestore/internal/telemetry/logger"
	"github.com/nyxmail/corestore/pkg/token"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares in the order given, so the first middleware
// listed runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID stamps every request with an X-Request-ID header, generating
// one if the caller didn't send it.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recover converts a panic in the handler chain into a 500 response
// instead of crashing the process.
func Recover(log logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered", "error", rec, "path", r.URL.Path)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLog logs method, path, status, and latency for every request.
func RequestLog(log logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("admin request",
				"method", r.Method, "path", r.URL.Path,
				"status", rec.status, "elapsed", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// generateRequestID produces a short random request id from
// pkg/token.GenerateWithLength, falling back to a fixed placeholder on
// the vanishingly unlikely crypto/rand failure rather than erroring a
// request over it.
func generateRequestID() string {
	id, err := token.GenerateWithLength(9)
	if err != nil {
		return "req-unknown"
	}
	return "req-" + id
}
