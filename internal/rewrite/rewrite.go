// Package rewrite turns a raw question into a category-shaped retrieval
// query. Canonical documents are written in a fixed phrasing per category;
// rewriting the question into the same phrasing moves its embedding closer
// to the right documents. Rewriting is pure string work: deterministic,
// no model call, safe for concurrent use.
package rewrite

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// DefaultSimilarityThreshold is the global similarity cutoff applied to
// categories without their own threshold.
const DefaultSimilarityThreshold = 0.65

// Template is the canonical query shape for one document category.
type Template struct {
	// Category is the document category this template rewrites for.
	Category string `json:"category"`

	// Text is the canonical query with {cluster}, {keyspace}, and {table}
	// placeholders.
	Text string `json:"text"`

	// SimilarityThreshold overrides the global cutoff for this category.
	// Zero means use the global default.
	SimilarityThreshold float32 `json:"similarity_threshold,omitempty"`

	// Description documents what the template targets. Informational only.
	Description string `json:"description,omitempty"`
}

// EntityParams carries the entity scope of a question. Empty fields fall
// back to configured defaults; still-empty placeholders stay literal.
type EntityParams struct {
	// Cluster is the platform cluster name.
	Cluster string
	// Keyspace is the keyspace name.
	Keyspace string
	// Table is the table name.
	Table string
}

// Merge returns p with empty fields filled from defaults.
func (p EntityParams) Merge(defaults EntityParams) EntityParams {
	if p.Cluster == "" {
		p.Cluster = defaults.Cluster
	}
	if p.Keyspace == "" {
		p.Keyspace = defaults.Keyspace
	}
	if p.Table == "" {
		p.Table = defaults.Table
	}
	return p
}

// Query is the outcome of rewriting one intent.
type Query struct {
	// Text is the retrieval query to embed.
	Text string

	// Threshold is the similarity cutoff candidates must clear.
	Threshold float32
}

// Rewriter maps intents to retrieval queries using a per-category template
// table. The zero value is not usable; construct with NewRewriter.
type Rewriter struct {
	// templates is keyed by category.
	templates map[string]Template

	// defaults fills entity placeholders the caller leaves empty.
	defaults EntityParams

	// defaultThreshold applies to categories without their own threshold
	// and to pass-through rewrites.
	defaultThreshold float32
}

// NewRewriter constructs a Rewriter over the given templates.
// defaultThreshold <= 0 selects DefaultSimilarityThreshold.
func NewRewriter(templates []Template, defaults EntityParams, defaultThreshold float32) *Rewriter {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultSimilarityThreshold
	}
	byCat := make(map[string]Template, len(templates))
	for _, t := range templates {
		byCat[t.Category] = t
	}
	return &Rewriter{
		templates:        byCat,
		defaults:         defaults,
		defaultThreshold: defaultThreshold,
	}
}

// Threshold returns the similarity cutoff for a category.
func (r *Rewriter) Threshold(category string) float32 {
	if t, ok := r.templates[category]; ok && t.SimilarityThreshold > 0 {
		return t.SimilarityThreshold
	}
	return r.defaultThreshold
}

// Rewrite produces the retrieval query for one question and category.
// Categories without a template (including the empty category of
// family-wide intents) pass the question through unchanged. The function
// is pure: identical inputs always produce identical output.
func (r *Rewriter) Rewrite(question, category string, params EntityParams) Query {
	t, ok := r.templates[category]
	if !ok {
		return Query{Text: question, Threshold: r.defaultThreshold}
	}

	text := r.substitute(t.Text, params)
	return Query{Text: text, Threshold: r.Threshold(category)}
}

// substitute fills entity placeholders from params, falling back to the
// configured defaults. Placeholders that resolve to nothing stay literal so
// downstream logging shows exactly what was searched.
func (r *Rewriter) substitute(text string, params EntityParams) string {
	pairs := []struct {
		placeholder string
		value       string
		fallback    string
	}{
		{"{cluster}", params.Cluster, r.defaults.Cluster},
		{"{keyspace}", params.Keyspace, r.defaults.Keyspace},
		{"{table}", params.Table, r.defaults.Table},
	}
	for _, p := range pairs {
		v := p.value
		if v == "" {
			v = p.fallback
		}
		if v == "" {
			continue
		}
		text = strings.ReplaceAll(text, p.placeholder, v)
	}
	return text
}

// LoadTemplates reads a JSON template file. A missing or malformed file is
// not fatal: the built-in templates are returned and a warning is logged.
func LoadTemplates(path string, log *slog.Logger) []Template {
	if path == "" {
		return builtinTemplates()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("rewrite: could not read template file, using built-in templates",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return builtinTemplates()
	}

	var templates []Template
	if err := json.Unmarshal(data, &templates); err != nil {
		log.Warn("rewrite: could not parse template file, using built-in templates",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return builtinTemplates()
	}

	for i, t := range templates {
		if t.Category == "" || t.Text == "" {
			log.Warn("rewrite: invalid template, using built-in templates",
				slog.String("path", path),
				slog.String("error", fmt.Sprintf("template %d missing category or text", i)),
			)
			return builtinTemplates()
		}
	}

	log.Info("rewrite: loaded template file",
		slog.String("path", path),
		slog.Int("templates", len(templates)),
	)
	return templates
}

// builtinTemplates returns the default canonical query per category,
// matching the phrasing the ingestion pipeline writes documents in.
func builtinTemplates() []Template {
	return []Template{
		{
			Category:    "schema_metadata",
			Text:        "Schema definition columns data types and keys for table {keyspace}.{table} in cluster {cluster}",
			Description: "column-level schema and key structure",
		},
		{
			Category:    "business_metadata",
			Text:        "Business description ownership and domain for table {keyspace}.{table} in cluster {cluster}",
			Description: "ownership and business context",
		},
		{
			Category:    "storage_configuration",
			Text:        "Storage configuration compression and replication settings for table {keyspace}.{table} in cluster {cluster}",
			Description: "physical storage settings",
		},
		{
			Category:    "table_statistics",
			Text:        "Row count size and cardinality statistics for table {keyspace}.{table} in cluster {cluster}",
			Description: "table-level statistics",
		},
		{
			Category:    "data_lifecycle",
			Text:        "Retention TTL and lifecycle policy for table {keyspace}.{table} in cluster {cluster}",
			Description: "retention and expiry policy",
		},
		{
			Category:            "lineage_kafka",
			Text:                "Kafka topics and CDC streams feeding or consuming table {keyspace}.{table} in cluster {cluster}",
			SimilarityThreshold: 0.60,
			Description:         "Kafka lineage edges",
		},
		{
			Category:            "lineage_spark",
			Text:                "Spark jobs reading or writing table {keyspace}.{table} in cluster {cluster}",
			SimilarityThreshold: 0.60,
			Description:         "Spark lineage edges",
		},
		{
			Category:            "lineage_dataapi",
			Text:                "Data API consumers reading table {keyspace}.{table} in cluster {cluster}",
			SimilarityThreshold: 0.60,
			Description:         "API consumer lineage edges",
		},
		{
			Category:            "logs_daily",
			Text:                "Errors warnings and notable events in the last 24 hours for table {keyspace}.{table} in cluster {cluster}",
			SimilarityThreshold: 0.60,
			Description:         "daily log digest",
		},
		{
			Category:            "logs_weekly",
			Text:                "Errors warnings and notable events in the last 7 days for table {keyspace}.{table} in cluster {cluster}",
			SimilarityThreshold: 0.60,
			Description:         "weekly log digest",
		},
		{
			Category:    "metrics_daily",
			Text:        "Current latency throughput and resource metrics for table {keyspace}.{table} in cluster {cluster}",
			Description: "daily metric snapshot",
		},
		{
			Category:    "metrics_weekly",
			Text:        "Weekly latency throughput and resource metric trends for table {keyspace}.{table} in cluster {cluster}",
			Description: "weekly metric trend",
		},
	}
}
