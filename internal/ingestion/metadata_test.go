package ingestion

import (
	"strings"
	"testing"
	"time"
)

func TestRecordDocument_CategoryImpliesFamily(t *testing.T) {
	t.Parallel()

	cases := []struct {
		category string
		family   string
	}{
		{"schema_metadata", "metadata"},
		{"business_metadata", "metadata"},
		{"lineage_kafka", "lineage"},
		{"logs_daily", "logs"},
		{"metrics_weekly", "metrics"},
	}
	for _, tc := range cases {
		rec := Record{Content: "doc", Category: tc.category}
		doc, err := rec.Document("")
		if err != nil {
			t.Fatalf("%s: %v", tc.category, err)
		}
		if doc.Family != tc.family {
			t.Errorf("%s: family got %q, want %q", tc.category, doc.Family, tc.family)
		}
		if doc.Category != tc.category {
			t.Errorf("%s: category got %q", tc.category, doc.Category)
		}
	}
}

func TestRecordDocument_LegacySourceType(t *testing.T) {
	t.Parallel()

	rec := Record{Content: "lineage edge", SourceType: "LINEAGE"}
	doc, err := rec.Document("")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.Family != "lineage" {
		t.Errorf("family: got %q, want lineage", doc.Family)
	}
	if doc.Category != "" {
		t.Errorf("legacy records are family-wide, category got %q", doc.Category)
	}

	// Labels are case-insensitive.
	rec = Record{Content: "x", SourceType: "log_summary"}
	doc, err = rec.Document("")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.Family != "logs" {
		t.Errorf("family: got %q, want logs", doc.Family)
	}
}

func TestRecordDocument_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		rec  Record
		want string
	}{
		{"no content", Record{Category: "schema_metadata"}, "no content"},
		{"blank content", Record{Content: "   ", Category: "schema_metadata"}, "no content"},
		{"no family signal", Record{Content: "doc"}, "neither category nor source_type"},
		{"unknown source type", Record{Content: "doc", SourceType: "WEIRD"}, "unknown source_type"},
		{"bad event date", Record{Content: "doc", Category: "logs_daily", EventDate: "yesterday"}, "unparseable event_date"},
	}
	for _, tc := range cases {
		_, err := tc.rec.Document("")
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestRecordDocument_DefaultCluster(t *testing.T) {
	t.Parallel()

	rec := Record{Content: "doc", Category: "schema_metadata"}
	doc, err := rec.Document("prod-west")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.Cluster != "prod-west" {
		t.Errorf("cluster: got %q, want default applied", doc.Cluster)
	}

	rec.Cluster = "staging"
	doc, err = rec.Document("prod-west")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.Cluster != "staging" {
		t.Errorf("cluster: got %q, record value must win", doc.Cluster)
	}
}

func TestRecordDocument_EventDateForms(t *testing.T) {
	t.Parallel()

	rec := Record{Content: "doc", Category: "logs_daily", EventDate: "2026-08-29"}
	doc, err := rec.Document("")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	want := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	if !doc.EventDate.Equal(want) {
		t.Errorf("event date: got %v, want %v", doc.EventDate, want)
	}

	rec.EventDate = "2026-08-29T14:30:00Z"
	doc, err = rec.Document("")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.EventDate.Hour() != 14 {
		t.Errorf("rfc3339 event date: got %v", doc.EventDate)
	}

	rec.EventDate = ""
	doc, err = rec.Document("")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if !doc.EventDate.IsZero() {
		t.Errorf("empty event date must stay zero, got %v", doc.EventDate)
	}
}

func TestDocumentID_Deterministic(t *testing.T) {
	t.Parallel()

	rec := Record{
		Content:   "the orders table has 14 columns",
		Category:  "schema_metadata",
		Cluster:   "prod-west",
		Keyspace:  "sales",
		Table:     "orders",
		EventDate: "2026-08-29",
	}
	first := rec.documentID()
	second := rec.documentID()
	if first != second {
		t.Errorf("derived IDs differ: %s vs %s", first, second)
	}

	other := rec
	other.Table = "customers"
	if other.documentID() == first {
		t.Error("different records must derive different IDs")
	}
}

func TestDocumentID_ExplicitValues(t *testing.T) {
	t.Parallel()

	// A valid UUID passes through untouched.
	rec := Record{ID: "a2b41725-3c1f-4de1-9f4a-8b2f6f3a9c01", Content: "doc", Category: "schema_metadata"}
	if got := rec.documentID(); got != rec.ID {
		t.Errorf("uuid passthrough: got %s", got)
	}

	// A non-UUID ID derives a stable UUID.
	rec.ID = "sales.orders#schema"
	first := rec.documentID()
	second := rec.documentID()
	if first == rec.ID {
		t.Error("non-uuid ID must be rewritten")
	}
	if first != second {
		t.Errorf("derived IDs differ: %s vs %s", first, second)
	}
}
