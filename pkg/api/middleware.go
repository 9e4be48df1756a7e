package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pashagolub/tierelo/pkg/logger"
)

// instrument wraps a handler to record request metrics and a debug log line
func (s *Server) instrument(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		status := strconv.Itoa(wrapped.statusCode)
		s.metrics.RecordHTTPRequest(endpoint, r.Method, status, elapsed)

		fields := []logger.Field{
			logger.String("endpoint", endpoint),
			logger.String("method", r.Method),
			logger.Int("status", wrapped.statusCode),
			logger.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
		}
		if wrapped.statusCode >= http.StatusInternalServerError {
			s.log.Error(r.Context(), "request failed", fields...)
			return
		}
		s.log.Debug(r.Context(), "request served", fields...)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
