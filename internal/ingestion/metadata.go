package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataplane-ai/dbrag-go/internal/intent"
	"github.com/dataplane-ai/dbrag-go/internal/rag"
)

// Record is one canonical document in a JSONL export. Either Category or
// the legacy SourceType label must be set; everything else is optional.
type Record struct {
	// ID is the document identifier. Omitted IDs are derived
	// deterministically so re-ingesting the same export is idempotent.
	ID string `json:"id,omitempty"`

	// Content is the document text that gets embedded.
	Content string `json:"content"`

	// Category is the canonical document category (e.g. "schema_metadata").
	Category string `json:"category,omitempty"`

	// SourceType is the legacy export label (METADATA, LINEAGE,
	// LOG_SUMMARY, METRIC_SUMMARY). Used only when Category is empty;
	// such records become family-wide documents without a category.
	SourceType string `json:"source_type,omitempty"`

	// Cluster is the originating cluster name.
	Cluster string `json:"cluster,omitempty"`

	// Keyspace is the keyspace the document describes.
	Keyspace string `json:"keyspace,omitempty"`

	// Table is the table the document describes.
	Table string `json:"table,omitempty"`

	// Component is the platform component that produced the document.
	Component string `json:"component,omitempty"`

	// Source names the producing job or exporter.
	Source string `json:"source,omitempty"`

	// EventDate is the observation date, as "2006-01-02" or RFC 3339.
	EventDate string `json:"event_date,omitempty"`
}

// legacySourceFamilies maps the legacy export labels to source families.
var legacySourceFamilies = map[string]string{
	"METADATA":       intent.FamilyMetadata,
	"LINEAGE":        intent.FamilyLineage,
	"LOG_SUMMARY":    intent.FamilyLogs,
	"METRIC_SUMMARY": intent.FamilyMetrics,
}

// documentNamespace is the fixed namespace for derived document UUIDs.
var documentNamespace = uuid.MustParse("b1d2f1a0-3c55-47e3-9b3e-1f08c5a6d7e4")

// Document normalizes the record into a storable document. Records without
// content, without any family signal, or with an unparseable event date
// are rejected.
func (r Record) Document(defaultCluster string) (rag.Document, error) {
	if strings.TrimSpace(r.Content) == "" {
		return rag.Document{}, fmt.Errorf("record has no content")
	}

	family, category, err := r.resolveFamily()
	if err != nil {
		return rag.Document{}, err
	}

	eventDate, err := parseEventDate(r.EventDate)
	if err != nil {
		return rag.Document{}, err
	}

	cluster := r.Cluster
	if cluster == "" {
		cluster = defaultCluster
	}

	return rag.Document{
		ID:        r.documentID(),
		Content:   r.Content,
		Category:  category,
		Family:    family,
		Cluster:   cluster,
		Keyspace:  r.Keyspace,
		Table:     r.Table,
		Component: r.Component,
		Source:    r.Source,
		EventDate: eventDate,
	}, nil
}

// resolveFamily determines the record's family and category. An explicit
// category wins and implies its family; otherwise the legacy source type
// yields a family-wide document.
func (r Record) resolveFamily() (family, category string, err error) {
	if r.Category != "" {
		return intent.DeriveFamily(r.Category), r.Category, nil
	}
	if r.SourceType != "" {
		fam, ok := legacySourceFamilies[strings.ToUpper(r.SourceType)]
		if !ok {
			return "", "", fmt.Errorf("unknown source_type %q", r.SourceType)
		}
		return fam, "", nil
	}
	return "", "", fmt.Errorf("record has neither category nor source_type")
}

// documentID returns the record's point ID as a UUID string. Explicit UUIDs
// pass through; any other value, or no value, derives a deterministic UUID
// so identical records always map to the same point.
func (r Record) documentID() string {
	if r.ID != "" {
		if _, err := uuid.Parse(r.ID); err == nil {
			return r.ID
		}
		return uuid.NewSHA1(documentNamespace, []byte(r.ID)).String()
	}
	key := strings.Join([]string{
		r.Source, r.Category, r.SourceType, r.Cluster, r.Keyspace, r.Table, r.EventDate, r.Content,
	}, "\x1f")
	return uuid.NewSHA1(documentNamespace, []byte(key)).String()
}

// parseEventDate accepts the export's date-only form and full RFC 3339
// timestamps. Empty input yields the zero time (no time-window indexing).
func parseEventDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable event_date %q", s)
}
