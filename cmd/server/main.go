// Command server runs the intake body-pipeline server.
//
// Every request body is routed through the content producer: reads are
// demand-driven, compressed bodies (gzip, deflate, zstd) are decoded
// transparently, and bodies arriving below the configured minimum data
// rate are rejected.
//
// Configuration is loaded from a YAML file (-config flag, INTAKE_CONFIG
// env var, ./config.yaml, /etc/intake/config.yaml) with INTAKE_* env
// variable overrides.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pverhoef/intake/pkg/config"
	"github.com/pverhoef/intake/pkg/intercept"
	"github.com/pverhoef/intake/pkg/observability"
	"github.com/pverhoef/intake/pkg/producer"
	"github.com/pverhoef/intake/pkg/transport"
	transporthttp "github.com/pverhoef/intake/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ingest", handleIngest)
	mux.HandleFunc("POST /v1/echo", handleEcho)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	var handler http.Handler = observability.MetricsMiddleware(mux)
	if cfg.Limits.RequestsPerSecond > 0 {
		handler = transport.RateLimit(
			cfg.Limits.RequestsPerSecond,
			cfg.Limits.Burst,
			observability.RateLimitRejectedTotal.Inc,
		)(handler)
	}

	srv := transporthttp.NewServer(handler,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
		transporthttp.WithPipeline(transporthttp.PipelineConfig{
			MinDataRate:       cfg.Body.MinDataRate,
			ChunkSize:         cfg.Body.ChunkSize,
			RateCheckInterval: cfg.Body.RateCheckInterval,
			Encodings:         cfg.Body.Encodings,
			Logger:            logger,
			Hooks: transporthttp.Hooks{
				OnBytes: func(n int) {
					observability.BodyBytesReceivedTotal.Add(float64(n))
				},
			},
		}),
	)

	logger.Info("intake server configured",
		slog.Int("port", cfg.Server.Port),
		slog.Int64("min_data_rate", cfg.Body.MinDataRate),
		slog.Any("encodings", cfg.Body.Encodings),
	)
	return srv.ListenAndServe()
}

// handleIngest drains the decoded request body and responds with its size
// and SHA-256 digest.
func handleIngest(w http.ResponseWriter, r *http.Request) {
	h := sha256.New()
	n, err := io.Copy(h, r.Body)
	if err != nil {
		respondBodyError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ingestResponse{
		Bytes:  n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	})
}

type ingestResponse struct {
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// handleEcho streams the decoded request body back to the client.
func handleEcho(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 8192)
	committed := false
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			if !committed {
				w.Header().Set("Content-Type", "application/octet-stream")
				committed = true
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			if !committed {
				respondBodyError(w, err)
			}
			return
		}
	}
}

// respondBodyError records the failure and answers with the status code
// the failure maps to.
func respondBodyError(w http.ResponseWriter, err error) {
	var rateErr *producer.DataRateError
	var decErr *intercept.DecompressionError
	switch {
	case errors.As(err, &rateErr):
		observability.RateViolationsTotal.Inc()
	case errors.As(err, &decErr):
		observability.InterceptorFailuresTotal.WithLabelValues("decode").Inc()
	default:
		observability.InterceptorFailuresTotal.WithLabelValues("protocol").Inc()
	}
	http.Error(w, err.Error(), transporthttp.StatusFor(err))
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
