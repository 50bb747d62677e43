package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dataplane-ai/dbrag-go/internal/answer"
	"github.com/dataplane-ai/dbrag-go/internal/intent"
	"github.com/dataplane-ai/dbrag-go/internal/rca"
	"github.com/dataplane-ai/dbrag-go/internal/rewrite"
	"github.com/dataplane-ai/dbrag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs GET /metrics.
	// If nil, a fresh registry is created.
	Registry *prometheus.Registry
	// History persists answered questions for GET /api/history. If nil the
	// endpoint reports history as disabled and answers are not recorded.
	History store.HistoryStore
}

// asker is the interface the question handlers call.
// *answer.Orchestrator satisfies it; tests inject a fake.
type asker interface {
	// AskWith answers one question with per-request overrides applied.
	AskWith(ctx context.Context, question string, params rewrite.EntityParams, opts answer.AskOptions) *answer.Result
	// Collect retrieves the merged, deduplicated candidates for a question
	// without generating; the root-cause pipeline feeds on it.
	Collect(ctx context.Context, question string, params rewrite.EntityParams) ([]answer.Candidate, []intent.Intent)
}

// Server is the HTTP server that wraps the question orchestrator.
type Server struct {
	// orchestrator answers questions; set to *answer.Orchestrator in
	// production, overridden by a fake in tests.
	orchestrator asker
	// rcaPipeline runs root-cause analysis for POST /api/rca.
	rcaPipeline *rca.Pipeline
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask and POST /api/rca.
type askRequest struct {
	// Question is the natural-language question. Required.
	Question string `json:"question"`
	// Cluster scopes the question to one cluster.
	Cluster string `json:"cluster,omitempty"`
	// Keyspace scopes the question to one keyspace.
	Keyspace string `json:"keyspace,omitempty"`
	// Table scopes the question to one table.
	Table string `json:"table,omitempty"`
	// TopK overrides the per-intent retrieval depth.
	TopK int `json:"topK,omitempty"`
	// MaxTokens overrides the combined output token budget.
	MaxTokens int `json:"maxTokens,omitempty"`
	// Temperature overrides the model temperature.
	Temperature float32 `json:"temperature,omitempty"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the rendered answer text.
	Answer string `json:"answer"`
	// Sections lists the contributing family sections in detection order.
	Sections []answer.Section `json:"sections"`
	// Intents lists every detected intent name, including empty branches.
	Intents []string `json:"intents"`
	// Confidence is the answer confidence in [0, 1].
	Confidence float32 `json:"confidence"`
	// RetrievalMs is the slowest branch's retrieval time in milliseconds.
	RetrievalMs int64 `json:"retrievalMs"`
	// GenerationMs is the slowest branch's generation time in milliseconds.
	GenerationMs int64 `json:"generationMs"`
}

// historyEntry is one record in the GET /api/history response.
type historyEntry struct {
	// Question is the question as asked.
	Question string `json:"question"`
	// Answer is the answer that was served.
	Answer string `json:"answer"`
	// Intents lists the detected intent names.
	Intents []string `json:"intents"`
	// Confidence is the answer confidence in [0, 1].
	Confidence float32 `json:"confidence"`
	// Cluster is the cluster scope, if any.
	Cluster string `json:"cluster,omitempty"`
	// AskedAt is when the question was answered, in RFC 3339.
	AskedAt string `json:"askedAt"`
}
