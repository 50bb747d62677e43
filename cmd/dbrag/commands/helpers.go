package commands

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dataplane-ai/dbrag-go/internal/answer"
	"github.com/dataplane-ai/dbrag-go/internal/embedder"
	"github.com/dataplane-ai/dbrag-go/internal/intent"
	"github.com/dataplane-ai/dbrag-go/internal/rag"
	"github.com/dataplane-ai/dbrag-go/internal/rewrite"
	"github.com/dataplane-ai/dbrag-go/internal/server"
)

// buildVectorStore connects to Qdrant using the QDRANT_* environment
// variables. The vector size follows the configured embedding backend
// unless EMBEDDING_DIMENSIONS overrides it.
func buildVectorStore(ctx context.Context) (*rag.QdrantStore, error) {
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(embBackend))

	return rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "dbrag-docs"),
		VectorSize: uint64(vectorSize), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
}

// buildOrchestrator assembles the full answer pipeline from environment
// configuration: detector, rewriter, retriever, generator, and metrics.
// The returned close function releases the Qdrant connection.
func buildOrchestrator(ctx context.Context, chatModel model.BaseChatModel, reg prometheus.Registerer, log *slog.Logger) (*answer.Orchestrator, *rag.QdrantStore, rag.Embedder, func(), error) {
	if err := embedder.Validate(log); err != nil {
		return nil, nil, nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	store, err := buildVectorStore(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	topK := getEnvInt("RAG_TOP_K", 6)
	retriever, err := rag.NewRetriever(emb, store, topK)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}

	detector := intent.NewDetector(intent.LoadCatalog(os.Getenv("DBRAG_INTENT_RULES"), log))
	defaults := rewrite.EntityParams{
		Cluster:  os.Getenv("RAG_DEFAULT_CLUSTER"),
		Keyspace: os.Getenv("RAG_DEFAULT_KEYSPACE"),
		Table:    os.Getenv("RAG_DEFAULT_TABLE"),
	}
	rewriter := rewrite.NewRewriter(
		rewrite.LoadTemplates(os.Getenv("DBRAG_REWRITE_TEMPLATES"), log),
		defaults,
		getEnvFloat32("RAG_SIMILARITY_THRESHOLD", 0),
	)

	generator := answer.NewGenerator(chatModel, answer.GeneratorConfig{
		AttemptTimeout: time.Duration(getEnvInt("RAG_BRANCH_TIMEOUT_SECONDS", 0)) * time.Second,
		MaxRetries:     getEnvInt("RAG_MAX_RETRIES", -1),
	})

	orchestrator := answer.NewOrchestrator(detector, rewriter, retriever, generator, answer.NewMetrics(reg), answer.Config{
		TopK:           topK,
		MaxCandidates:  getEnvInt("RAG_MAX_TOP_K", 0),
		TotalMaxTokens: getEnvInt("MODEL_MAX_TOKENS", 512),
		Temperature:    getEnvFloat32("MODEL_TEMPERATURE", 0.2),
		Defaults:       defaults,
	})

	closeStore := func() { _ = store.Close() }
	return orchestrator, store, emb, closeStore, nil
}

// buildPingers constructs the readiness probes for every external dependency
// the serve command wires in.
func buildPingers(chatModel model.BaseChatModel, emb rag.Embedder, store *rag.QdrantStore) []server.Pinger {
	providerName := getEnvOrDefault("MODEL_PROVIDER", "ollama")
	return []server.Pinger{
		server.NewLLMPinger(chatModel, providerName),
		server.NewEmbedderPinger(emb),
		server.NewQdrantPinger(store.Client()),
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
