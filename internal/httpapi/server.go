package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"livestream-studio/internal/observability/logging"
	"livestream-studio/internal/observability/metrics"
)

// ServerConfig wires NewServer.
type ServerConfig struct {
	Addr    string
	Handler *Handler
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// NewServer mounts the API routes and the metrics endpoint behind the
// request id, logging and metrics middleware.
func NewServer(cfg ServerConfig) (*http.Server, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Handler.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	cfg.Handler.Register(mux)
	mux.Handle("GET /metrics", recorder.Handler())

	chain := http.Handler(mux)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger: logging.WithComponent(logger, "http"),
		Skip:   isHealthCheck,
	})(chain)
	chain = requestIDMiddleware(newRequestID, chain)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: a start waits for the capture attach and the
		// websocket stream is long lived.
		IdleTimeout: 60 * time.Second,
	}, nil
}

func isHealthCheck(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
}

func requestIDMiddleware(generate func() string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = generate()
		}
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err == nil {
		return hex.EncodeToString(buffer[:])
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
