package http

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/pverhoef/intake/pkg/intercept"
	"github.com/pverhoef/intake/pkg/producer"
	"github.com/pverhoef/intake/pkg/transport"
)

// PipelineConfig holds configuration for the body pipeline middleware.
type PipelineConfig struct {
	// MinDataRate is the minimum acceptable body arrival rate in bytes
	// per second. Zero disables the check.
	MinDataRate int64
	// ChunkSize is the size of the pooled read buffers.
	ChunkSize int
	// RateCheckInterval is how often the data rate is re-checked while a
	// read is parked waiting for content.
	RateCheckInterval time.Duration
	// Encodings lists the Content-Encoding values to decode transparently.
	// Nil enables every supported encoding; an explicit empty slice
	// disables decoding.
	Encodings []string
	// Logger receives pipeline debug logs. Nil falls back to slog.Default.
	Logger *slog.Logger
	// Hooks receives lifecycle notifications, typically wired to metrics.
	Hooks Hooks
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults:
// no minimum rate, 8 KiB chunks, one-second rate polling, all supported
// encodings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ChunkSize:         8 * 1024,
		RateCheckInterval: time.Second,
	}
}

// Pipeline returns middleware that routes each request body through the
// content producer: reads become demand-driven, Content-Encoding is
// transparently decoded, and slow bodies fail the minimum data rate check.
// Handlers read the decoded body from r.Body as usual and map failures
// with StatusFor.
func Pipeline(cfg PipelineConfig) transport.Middleware {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8 * 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			cw := &commitWriter{ResponseWriter: w}
			ch := newBodyChannel(r.Body, cfg.ChunkSize,
				func() http.Header { return r.Trailer },
				cw.Committed,
				cfg.Hooks,
			)
			p := producer.New(ch, producer.Config{MinDataRate: cfg.MinDataRate}, logger)

			l := p.Acquire()
			l.Reopen()
			if encoding := strings.ToLower(r.Header.Get("Content-Encoding")); decodable(encoding, cfg.Encodings) {
				inflater, err := intercept.NewInflater(encoding)
				if err == nil {
					l.SetInterceptor(inflater)
					// The handler sees the decoded stream.
					r.Header.Set("Content-Encoding", "identity")
					r.ContentLength = -1
				}
			}
			l.Release()

			body := newBody(r.Context(), producer.NewBlockingReader(p), ch, cfg.RateCheckInterval)
			ch.start()
			r.Body = body
			defer body.Close()

			next.ServeHTTP(cw, r)
		})
	}
}

func decodable(encoding string, enabled []string) bool {
	if encoding == "" || encoding == "identity" || !intercept.Supported(encoding) {
		return false
	}
	if enabled == nil {
		return true
	}
	return slices.Contains(enabled, encoding)
}

// commitWriter tracks whether response headers have been sent, which
// decides whether a body failure can still be turned into a status code
// or must abort the exchange.
type commitWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *commitWriter) WriteHeader(status int) {
	w.committed = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.committed = true
	return w.ResponseWriter.Write(b)
}

// Committed reports whether the response has started.
func (w *commitWriter) Committed() bool { return w.committed }

// Flush delegates to the underlying writer if it implements http.Flusher.
func (w *commitWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (w *commitWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
