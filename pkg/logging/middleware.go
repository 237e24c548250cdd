package logging

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDMiddleware adds a request ID to each HTTP request and logs request/response.
// Long-lived event streams are logged when they open and close only.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Generate or extract request ID
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		// Add to context
		ctx := WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		// Add to response header
		w.Header().Set("X-Request-ID", requestID)

		// Wrap response writer to capture status code
		wrapped := NewStatusWriter(w)

		start := time.Now()
		streaming := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
		if streaming {
			InfoContext(ctx, "stream opened", "path", r.URL.Path, "remoteAddr", r.RemoteAddr)
		} else {
			DebugContext(ctx, "request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr,
			)
		}

		// Handle request
		next.ServeHTTP(wrapped, r)

		// Log request completion
		duration := time.Since(start)
		switch {
		case streaming:
			InfoContext(ctx, "stream closed", "path", r.URL.Path, "durationMs", duration.Milliseconds())
		case wrapped.Status() >= 500:
			ErrorContext(ctx, "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.Status(),
				"durationMs", duration.Milliseconds(),
			)
		case wrapped.Status() >= 400:
			WarnContext(ctx, "request rejected",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.Status(),
				"durationMs", duration.Milliseconds(),
			)
		default:
			InfoContext(ctx, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.Status(),
				"durationMs", duration.Milliseconds(),
			)
		}
	})
}

// StatusWriter wraps http.ResponseWriter to capture the status code
type StatusWriter struct {
	http.ResponseWriter
	statusCode int
}

// NewStatusWriter wraps w. The status defaults to 200 until written.
func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	if sw, ok := w.(*StatusWriter); ok {
		return sw
	}
	return &StatusWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// Status returns the status code written so far
func (rw *StatusWriter) Status() int { return rw.statusCode }

func (rw *StatusWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *StatusWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
