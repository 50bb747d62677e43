// Package intent implements keyword-rule intent detection for platform
// questions. A question is classified into one or more intents, each bound
// to a document category (e.g. "schema_metadata", "logs_daily") and its
// source family. Detection is deterministic: no model call is involved.
package intent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Families, in canonical presentation order. The order is load-bearing:
// default intents and aggregated answer sections follow it.
const (
	FamilyMetadata = "metadata"
	FamilyLineage  = "lineage"
	FamilyLogs     = "logs"
	FamilyMetrics  = "metrics"
)

// Families lists all known source families in canonical order.
var Families = []string{FamilyMetadata, FamilyLineage, FamilyLogs, FamilyMetrics}

// Rule maps a set of trigger keywords to a document category.
// Rules are evaluated in order; the first keyword hit claims the rule.
type Rule struct {
	// Intent is the human-readable rule name (e.g. "schema-lookup").
	Intent string `json:"intent"`

	// Category is the document category this rule selects. Empty means the
	// rule selects the whole Family (family-wide search, no rewrite).
	Category string `json:"category"`

	// Family overrides the family derived from Category. Required when
	// Category is empty.
	Family string `json:"family,omitempty"`

	// Keywords are lowercase substrings matched against the question.
	Keywords []string `json:"keywords"`

	// TimeWindowDays restricts retrieval to documents observed within the
	// last N days. Zero means no time restriction.
	TimeWindowDays int `json:"time_window_days,omitempty"`
}

// Catalog is an ordered, immutable set of intent rules.
type Catalog struct {
	// rules is the ordered rule list.
	rules []Rule
}

// DeriveFamily maps a document category to its source family by prefix.
// Unknown prefixes map to the metadata family, which is the broadest.
func DeriveFamily(category string) string {
	switch {
	case strings.HasPrefix(category, "lineage_"):
		return FamilyLineage
	case strings.HasPrefix(category, "logs_"):
		return FamilyLogs
	case strings.HasPrefix(category, "metrics_"):
		return FamilyMetrics
	default:
		return FamilyMetadata
	}
}

// NewCatalog builds a Catalog from explicit rules, deriving each rule's
// family from its category when not set. Rules with neither category nor
// family are rejected.
func NewCatalog(rules []Rule) (*Catalog, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Category == "" && r.Family == "" {
			return nil, fmt.Errorf("intent: rule %d (%q) has neither category nor family", i, r.Intent)
		}
		if r.Family == "" {
			r.Family = DeriveFamily(r.Category)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("intent: rule %d (%q) has no keywords", i, r.Intent)
		}
		for j, k := range r.Keywords {
			r.Keywords[j] = strings.ToLower(k)
		}
		out = append(out, r)
	}
	return &Catalog{rules: out}, nil
}

// Rules returns the ordered rule list.
func (c *Catalog) Rules() []Rule {
	return c.rules
}

// Len returns the number of rules in the catalog.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// LoadCatalog reads a JSON rule file and builds a Catalog. A missing or
// malformed file is not fatal: the built-in rule set is returned and a
// warning is logged, so the binary always starts with working detection.
func LoadCatalog(path string, log *slog.Logger) *Catalog {
	if path == "" {
		return builtinCatalog()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("intent: could not read rule file, using built-in rules",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return builtinCatalog()
	}

	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		log.Warn("intent: could not parse rule file, using built-in rules",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return builtinCatalog()
	}

	cat, err := NewCatalog(rules)
	if err != nil {
		log.Warn("intent: invalid rule file, using built-in rules",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return builtinCatalog()
	}

	log.Info("intent: loaded rule file",
		slog.String("path", path),
		slog.Int("rules", cat.Len()),
	)
	return cat
}

// builtinCatalog returns the default rule set covering every document
// category the platform emits.
func builtinCatalog() *Catalog {
	cat, err := NewCatalog([]Rule{
		{
			Intent:   "schema-lookup",
			Category: "schema_metadata",
			Keywords: []string{"schema", "column", "columns", "primary key", "data type", "ddl", "table structure", "index"},
		},
		{
			Intent:   "business-context",
			Category: "business_metadata",
			Keywords: []string{"owner", "description", "business", "glossary", "domain", "steward"},
		},
		{
			Intent:   "storage-config",
			Category: "storage_configuration",
			Keywords: []string{"storage", "compression", "replication", "replication factor", "tablet", "encoding"},
		},
		{
			Intent:   "table-stats",
			Category: "table_statistics",
			Keywords: []string{"row count", "rows", "statistics", "cardinality", "size on disk", "largest table"},
		},
		{
			Intent:   "data-lifecycle",
			Category: "data_lifecycle",
			Keywords: []string{"ttl", "retention", "lifecycle", "expiry", "expiration", "archival"},
		},
		{
			Intent:   "lineage-kafka",
			Category: "lineage_kafka",
			Keywords: []string{"kafka", "topic", "cdc", "change data capture"},
		},
		{
			Intent:   "lineage-spark",
			Category: "lineage_spark",
			Keywords: []string{"spark", "etl", "batch job", "transform job"},
		},
		{
			Intent:   "lineage-dataapi",
			Category: "lineage_dataapi",
			Keywords: []string{"data api", "api consumer", "rest consumer", "service consumer"},
		},
		{
			Intent:   "lineage-any",
			Family:   FamilyLineage,
			Keywords: []string{"lineage", "upstream", "downstream", "flows into", "feeds", "derived from"},
		},
		{
			Intent:         "logs-recent",
			Category:       "logs_daily",
			Keywords:       []string{"error", "errors", "exception", "failed", "failure", "last 24", "today", "logs"},
			TimeWindowDays: 1,
		},
		{
			Intent:         "logs-weekly",
			Category:       "logs_weekly",
			Keywords:       []string{"last week", "past week", "this week", "7 days", "weekly log"},
			TimeWindowDays: 7,
		},
		{
			Intent:         "metrics-current",
			Category:       "metrics_daily",
			Keywords:       []string{"latency", "qps", "throughput", "cpu", "memory", "iops", "p99", "metric", "metrics"},
			TimeWindowDays: 1,
		},
		{
			Intent:         "metrics-trend",
			Category:       "metrics_weekly",
			Keywords:       []string{"trend", "over the week", "week over week", "weekly metric"},
			TimeWindowDays: 7,
		},
	})
	if err != nil {
		// The built-in rules are validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return cat
}
