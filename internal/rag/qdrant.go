package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// Client exposes the underlying gRPC client for health probes.
func (s *QdrantStore) Client() *qdrant.Client {
	return s.client
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Upsert stores or updates a batch of documents with their embeddings.
// embeddings must be parallel to docs; the method rejects mismatched lengths
// so a partial batch never reaches the collection.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]interface{}{
			"content":   doc.Content,
			"category":  doc.Category,
			"family":    doc.Family,
			"cluster":   doc.Cluster,
			"keyspace":  doc.Keyspace,
			"table":     doc.Table,
			"component": doc.Component,
			"source":    doc.Source,
		}
		if !doc.EventDate.IsZero() {
			payload["event_date"] = doc.EventDate.Unix()
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a filtered cosine similarity search and returns the topK
// nearest results. Qdrant reports cosine similarity; the result carries the
// equivalent cosine distance (1 - similarity).
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, filter SearchFilter, topK int) ([]SearchResult, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Filter:         buildFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:       r.Id.GetUuid(),
			Metadata: make(map[string]string),
		}
		if p := r.Payload; p != nil {
			doc.Content = stringField(p, "content")
			doc.Category = stringField(p, "category")
			doc.Family = stringField(p, "family")
			doc.Cluster = stringField(p, "cluster")
			doc.Keyspace = stringField(p, "keyspace")
			doc.Table = stringField(p, "table")
			doc.Component = stringField(p, "component")
			doc.Source = stringField(p, "source")
			for k, v := range p {
				if !wellKnownField(k) {
					doc.Metadata[k] = v.GetStringValue()
				}
			}
		}
		out = append(out, SearchResult{
			Document: doc,
			Distance: 1 - r.Score,
		})
	}

	return out, nil
}

// buildFilter converts a SearchFilter into Qdrant must-conditions.
// Returns nil when the filter is empty so unfiltered searches skip the
// filter stage entirely.
func buildFilter(f SearchFilter) *qdrant.Filter {
	var must []*qdrant.Condition

	match := func(field, value string) {
		if value != "" {
			must = append(must, qdrant.NewMatch(field, value))
		}
	}
	match("category", f.Category)
	match("family", f.Family)
	match("cluster", f.Cluster)
	match("keyspace", f.Keyspace)
	match("table", f.Table)

	if !f.From.IsZero() || !f.To.IsZero() {
		r := &qdrant.Range{}
		if !f.From.IsZero() {
			gte := float64(f.From.Unix())
			r.Gte = &gte
		}
		if !f.To.IsZero() {
			lte := float64(f.To.Unix())
			r.Lte = &lte
		}
		must = append(must, qdrant.NewRange("event_date", r))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// wellKnownField reports whether a payload key maps to a named Document field.
func wellKnownField(k string) bool {
	switch k {
	case "content", "category", "family", "cluster", "keyspace", "table", "component", "source", "event_date":
		return true
	}
	return false
}

// stringField extracts a string payload value, returning "" when absent.
func stringField(p map[string]*qdrant.Value, key string) string {
	if v, ok := p[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// Delete removes documents from the collection by their IDs.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
