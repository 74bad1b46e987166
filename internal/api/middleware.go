package api

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/metrics"
)

const (
	headerProcessTime = "X-Process-Time"
	headerMemoryUsage = "X-Memory-Usage-MB"
)

// RequestMetrics sets the X-Process-Time and X-Memory-Usage-MB headers when
// the response headers are written. The full request duration is recorded per
// route pattern.
func RequestMetrics(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &timingWriter{ResponseWriter: w, start: time.Now(), status: http.StatusOK}
			next.ServeHTTP(tw, r)
			if !tw.wroteHeader {
				tw.WriteHeader(http.StatusOK)
			}

			duration := time.Since(tw.start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(tw.status)).Observe(duration.Seconds())
			logger.Info("Request handled",
				zap.String("path", r.URL.Path),
				zap.Int("status", tw.status),
				zap.Duration("duration", duration),
				zap.String("memory_mb", tw.memory))
		})
	}
}

type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	memory      string
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.status = code
		w.memory = fmt.Sprintf("%.2f", memoryUsageMB())
		h := w.Header()
		h.Set(headerProcessTime, fmt.Sprintf("%.4f", time.Since(w.start).Seconds()))
		h.Set(headerMemoryUsage, w.memory)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush forwards to the wrapped writer when it supports flushing.
func (w *timingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// memoryUsageMB reports the resident set size, or the memory obtained from
// the OS by the Go runtime where /proc is unavailable.
func memoryUsageMB() float64 {
	if p, err := procfs.Self(); err == nil {
		if stat, err := p.Stat(); err == nil {
			return float64(stat.ResidentMemory()) / (1024 * 1024)
		}
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Sys) / (1024 * 1024)
}
