// Package server implements the HTTP JSON API over the question
// orchestrator: ask, root-cause analysis, history, health and readiness
// probes, and Prometheus metrics.
// The server is started by the `dbrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataplane-ai/dbrag-go/internal/answer"
	"github.com/dataplane-ai/dbrag-go/internal/logging"
	"github.com/dataplane-ai/dbrag-go/internal/rca"
	"github.com/dataplane-ai/dbrag-go/internal/rewrite"
	"github.com/dataplane-ai/dbrag-go/internal/store"
)

// historyDefaultLimit is the number of entries GET /api/history returns
// when the caller does not pass ?n=.
const historyDefaultLimit = 20

// historyMaxLimit caps ?n= so one request cannot drag the whole table.
const historyMaxLimit = 100

// New constructs a Server from the provided orchestrator and config.
func New(orchestrator *answer.Orchestrator, cfg *Config) (*Server, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator must not be nil")
	}
	return newServer(orchestrator, cfg)
}

// newServer is the test-visible constructor; the orchestrator arrives as an
// interface so tests can inject a fake.
func newServer(orchestrator asker, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full fan-out with model retries.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		orchestrator: orchestrator,
		rcaPipeline:  rca.NewPipeline(),
		cfg:          cfg,
		log:          cfg.Logger,
		pingers:      cfg.Pingers,
		metrics:      newServerMetrics(cfg.Registry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not configured, authentication disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	protected := func(h http.HandlerFunc) http.Handler {
		return rl.middleware(authMiddleware(cfg.APIKey, h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", protected(s.handleAsk))
	mux.Handle("POST /api/rca", protected(s.handleRca))
	mux.Handle("GET /api/history", protected(s.handleHistory))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.countRequests(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask. The orchestrator never fails, so the
// only error responses here are for malformed requests.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	req, ok := decodeAsk(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result := s.orchestrator.AskWith(r.Context(), req.Question, entityParams(req), answer.AskOptions{
		TopK:           req.TopK,
		TotalMaxTokens: req.MaxTokens,
		Temperature:    req.Temperature,
	})
	elapsed := time.Since(start)

	outcome := "ok"
	if result.Answer == answer.NotFoundMessage {
		outcome = "not_found"
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())

	s.recordHistory(r.Context(), req, result)

	intents := make([]string, 0, len(result.Intents))
	for _, in := range result.Intents {
		intents = append(intents, in.Name)
	}

	writeJSON(w, log, http.StatusOK, askResponse{
		Answer:       result.Answer,
		Sections:     result.Sections,
		Intents:      intents,
		Confidence:   result.Confidence,
		RetrievalMs:  result.RetrievalMs,
		GenerationMs: result.GenerationMs,
	})
}

// handleRca handles POST /api/rca: retrieve candidates across all detected
// intents, then run the deterministic root-cause pipeline over them.
func (s *Server) handleRca(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	req, ok := decodeAsk(w, r)
	if !ok {
		return
	}

	candidates, _ := s.orchestrator.Collect(r.Context(), req.Question, entityParams(req))
	result := s.rcaPipeline.Analyze(r.Context(), req.Question, candidates)

	writeJSON(w, log, http.StatusOK, result)
}

// handleHistory handles GET /api/history?n=20.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.cfg.History == nil {
		http.Error(w, "history is not configured", http.StatusServiceUnavailable)
		return
	}

	n := historyDefaultLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	if n > historyMaxLimit {
		n = historyMaxLimit
	}

	entries, err := s.cfg.History.Recent(r.Context(), n)
	if err != nil {
		log.Error("server: history read failed", slog.Any("error", err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			Question:   e.Question,
			Answer:     e.Answer,
			Intents:    e.Intents,
			Confidence: e.Confidence,
			Cluster:    e.Cluster,
			AskedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, log, http.StatusOK, out)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// recordHistory appends the served answer to the history store.
// Failures are logged, never surfaced: history is an observability aid,
// not part of the answer path.
func (s *Server) recordHistory(ctx context.Context, req askRequest, result *answer.Result) {
	if s.cfg.History == nil {
		return
	}

	intents := make([]string, 0, len(result.Intents))
	for _, in := range result.Intents {
		intents = append(intents, in.Name)
	}
	err := s.cfg.History.Append(ctx, store.Entry{
		Question:   req.Question,
		Answer:     result.Answer,
		Intents:    intents,
		Confidence: result.Confidence,
		Cluster:    req.Cluster,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("server: history append failed", slog.Any("error", err))
	}
}

// decodeAsk decodes and validates the shared ask/rca request body, writing
// the error response itself when the body is unusable.
func decodeAsk(w http.ResponseWriter, r *http.Request) (askRequest, bool) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return askRequest{}, false
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return askRequest{}, false
	}
	return req, true
}

// entityParams maps the request's scope fields onto rewrite parameters.
func entityParams(req askRequest) rewrite.EntityParams {
	return rewrite.EntityParams{
		Cluster:  req.Cluster,
		Keyspace: req.Keyspace,
		Table:    req.Table,
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("server: response encode failed", slog.Any("error", err))
	}
}
