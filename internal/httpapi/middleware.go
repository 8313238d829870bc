package httpapi

import (
	"log/slog"
	"net/http"
	"time"
)

// responseMeter remembers what the handler sent back.
type responseMeter struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (m *responseMeter) WriteHeader(code int) {
	m.code = code
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeter) Write(p []byte) (int, error) {
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		meter := &responseMeter{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(meter, r)

		level := slog.LevelInfo
		if meter.code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", meter.code,
			"bytes", meter.bytes,
			"duration_ms", time.Since(began).Milliseconds(),
		)
	})
}
