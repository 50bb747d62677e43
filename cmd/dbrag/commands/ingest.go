package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dataplane-ai/dbrag-go/internal/embedder"
	"github.com/dataplane-ai/dbrag-go/internal/ingestion"
	"github.com/dataplane-ai/dbrag-go/internal/logging"
)

// NewIngestCmd constructs the `dbrag ingest` command, which indexes platform
// documents from JSONL files into the Qdrant vector store.
func NewIngestCmd() *cobra.Command {
	var cluster string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest platform documents into the vector store",
		Long: `Index schema metadata, lineage, log summaries, and metric summaries into
the Qdrant vector store from JSONL files, one document per line.

Each record carries a content field plus category or source_type, and
optional cluster, keyspace, table, component, source, and event_date
scoping. Malformed lines are skipped and counted; embedding or store
failures abort the run.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: dbrag-docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  dbrag ingest schema-metadata.jsonl
  dbrag ingest --cluster prod-west lineage.jsonl logs.jsonl
  dbrag ingest --batch-size 128 metrics.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))))

			store, err := buildVectorStore(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to connect to Qdrant: %w", err)
			}
			defer store.Close()
			log.Info("qdrant store ready",
				slog.String("host", getEnvOrDefault("QDRANT_HOST", "localhost")),
				slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "dbrag-docs")),
			)

			pipeline, err := ingestion.NewPipeline(emb, store, &ingestion.Config{
				BatchSize:      batchSize,
				DefaultCluster: cluster,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			var total ingestion.Stats
			for _, path := range args {
				log.Info("ingesting file", slog.String("path", path))

				stats, err := pipeline.IngestFile(ctx, path, func(msg string) {
					log.Info(msg)
				})
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}

				total.Records += stats.Records
				total.Batches += stats.Batches
				total.Skipped += stats.Skipped
			}

			log.Info("ingestion complete",
				slog.Int("files", len(args)),
				slog.Int("records", total.Records),
				slog.Int("batches", total.Batches),
				slog.Int("skipped", total.Skipped),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&cluster, "cluster", "", "Default cluster label for records that omit one")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Documents embedded and upserted per batch (0 = default)")

	return cmd
}
