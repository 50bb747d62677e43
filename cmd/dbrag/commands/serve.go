package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dataplane-ai/dbrag-go/internal/logging"
	"github.com/dataplane-ai/dbrag-go/internal/provider"
	"github.com/dataplane-ai/dbrag-go/internal/server"
	"github.com/dataplane-ai/dbrag-go/internal/store"
	"github.com/dataplane-ai/dbrag-go/internal/tracing"
)

// NewServeCmd constructs the `dbrag serve` command, which starts the HTTP
// question-answering API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dbrag HTTP API server",
		Long: `Start the dbrag HTTP server on localhost.

The server exposes POST /api/ask for question answering, POST /api/rca for
root-cause analysis, GET /api/history for recently answered questions, plus
health, readiness, and Prometheus metrics endpoints.

Examples:
  dbrag serve
  dbrag serve --port 9090
  MODEL_PROVIDER=azure dbrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			registry := prometheus.NewRegistry()

			orchestrator, qdrantStore, emb, closeStore, err := buildOrchestrator(ctx, chatModel, registry, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeStore()

			// Open the answer history store. DBRAG_HISTORY_DB overrides the
			// default path (~/.dbrag/history.db). Set to "disabled" to disable.
			var historyStore store.HistoryStore
			dbPath := os.Getenv("DBRAG_HISTORY_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					hs, hsErr := store.Open(dbPath)
					if hsErr != nil {
						log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
					} else {
						historyStore = hs
						defer func() { _ = hs.Close() }()
						log.Info("history: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("history: disabled via DBRAG_HISTORY_DB=disabled")
			}

			srv, err := server.New(orchestrator, &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				Pingers:  buildPingers(chatModel, emb, qdrantStore),
				APIKey:   os.Getenv("DBRAG_API_KEY"),
				Registry: registry,
				History:  historyStore,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
