// Package ingestion implements the canonical-document ingestion pipeline.
// It reads JSONL exports of platform documents (schema snapshots, lineage
// edges, log digests, metric summaries), embeds each record, and upserts
// the results into the vector store. This pipeline is invoked by the
// `dbrag ingest` CLI command.
package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dataplane-ai/dbrag-go/internal/rag"
)

// maxLineBytes bounds a single JSONL record. Log digests can get large.
const maxLineBytes = 1 << 20

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of records embedded and upserted per batch.
	// Defaults to 64 if zero.
	BatchSize int

	// DefaultCluster fills the cluster field of records that omit it.
	DefaultCluster string
}

// Stats summarizes one ingestion run.
type Stats struct {
	// Records is the number of documents successfully upserted.
	Records int

	// Batches is the number of upsert batches issued.
	Batches int

	// Skipped is the number of lines rejected during normalization.
	Skipped int
}

// Pipeline orchestrates the read → normalize → embed → upsert flow for a
// JSONL document export.
type Pipeline struct {
	// embedder converts document content into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded documents.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
	}, nil
}

// IngestFile ingests one JSONL file. Progress is reported via the optional
// progress callback.
func (p *Pipeline) IngestFile(ctx context.Context, path string, progress func(msg string)) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()
	return p.Ingest(ctx, f, progress)
}

// Ingest reads JSONL records from r, normalizes them, and upserts them in
// batches. Blank lines are ignored. Records that fail normalization are
// skipped and counted, not fatal: one bad export line must not abort a
// multi-thousand-document load. Embedding and upsert failures are fatal.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, progress func(msg string)) (Stats, error) {
	if progress == nil {
		progress = func(string) {}
	}

	var stats Stats
	var batch []rag.Document

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			stats.Skipped++
			progress(fmt.Sprintf("line %d: skipped: %v", line, err))
			continue
		}

		doc, err := rec.Document(p.cfg.DefaultCluster)
		if err != nil {
			stats.Skipped++
			progress(fmt.Sprintf("line %d: skipped: %v", line, err))
			continue
		}

		batch = append(batch, doc)
		if len(batch) >= p.cfg.BatchSize {
			if err := p.flush(ctx, batch, &stats); err != nil {
				return stats, err
			}
			progress(fmt.Sprintf("upserted %d documents", stats.Records))
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("ingestion: read: %w", err)
	}

	if len(batch) > 0 {
		if err := p.flush(ctx, batch, &stats); err != nil {
			return stats, err
		}
	}

	progress(fmt.Sprintf("done: %d documents in %d batches, %d skipped",
		stats.Records, stats.Batches, stats.Skipped))
	return stats, nil
}

// flush embeds and upserts one batch.
func (p *Pipeline) flush(ctx context.Context, batch []rag.Document, stats *Stats) error {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.Content
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("ingestion: embedding failed: %w", err)
	}

	if err := p.store.Upsert(ctx, batch, embeddings); err != nil {
		return fmt.Errorf("ingestion: upsert failed: %w", err)
	}

	stats.Records += len(batch)
	stats.Batches++
	return nil
}
