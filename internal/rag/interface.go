// Package rag defines the retrieval layer for platform documents: vector
// storage, filtered similarity search, and embedding. Concrete
// implementations (Qdrant, etc.) satisfy these interfaces so the answer
// layer never depends on a specific backend.
package rag

import (
	"context"
	"time"
)

// Document represents a canonical platform document: a schema description,
// a lineage edge summary, a daily log digest, or a metric snapshot.
type Document struct {
	// ID is the unique identifier for this document (UUID).
	ID string

	// Content is the raw text content of the document.
	Content string

	// Category is the fine-grained document type (e.g. "schema_metadata",
	// "lineage_kafka", "logs_daily").
	Category string

	// Family is the coarse source family the category belongs to:
	// metadata, lineage, logs, or metrics.
	Family string

	// Cluster is the platform cluster this document describes.
	Cluster string

	// Keyspace is the keyspace scope, if any.
	Keyspace string

	// Table is the table scope, if any.
	Table string

	// Component is the emitting component (e.g. "tserver", "kafka-connect").
	Component string

	// Source is the origin system or pipeline that produced the document.
	Source string

	// EventDate is the observation date for time-scoped documents
	// (log and metric summaries). Zero for timeless documents.
	EventDate time.Time

	// Metadata holds any additional key-value pairs.
	Metadata map[string]string
}

// SearchFilter restricts a similarity search to matching payload fields.
// Empty string fields and zero times are ignored.
type SearchFilter struct {
	// Category matches the fine-grained document type exactly.
	Category string

	// Family matches the coarse source family exactly.
	Family string

	// Cluster scopes the search to one platform cluster.
	Cluster string

	// Keyspace scopes the search to one keyspace.
	Keyspace string

	// Table scopes the search to one table.
	Table string

	// From is the inclusive lower bound on EventDate.
	From time.Time

	// To is the inclusive upper bound on EventDate.
	To time.Time
}

// SearchResult is a document returned by a similarity search together with
// its cosine distance from the query vector. Distance is in [0, 2] for
// normalised embeddings; 0 means identical direction. Similarity is
// recovered as 1 - Distance.
type SearchResult struct {
	// Document is the matched document with payload fields populated.
	Document Document

	// Distance is the cosine distance between query and document vectors.
	Distance float32
}

// VectorStore is the interface for persisting and searching document embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. embeddings must be parallel to docs.
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns the topK nearest documents to the query embedding that
	// satisfy the filter, ordered nearest-first.
	Search(ctx context.Context, queryEmbedding []float32, filter SearchFilter, topK int) ([]SearchResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface used by the answer layer to fetch
// candidate documents for one rewritten query. It combines embedding and
// filtered vector search. Implementations must be safe to call from
// multiple goroutines.
type Retriever interface {
	// Retrieve returns the topK nearest documents for the query under the
	// given filter.
	Retrieve(ctx context.Context, query string, filter SearchFilter, topK int) ([]SearchResult, error)
}
