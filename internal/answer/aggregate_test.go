package answer

import (
	"strings"
	"testing"

	"github.com/dataplane-ai/dbrag-go/internal/intent"
)

func okAnswer(family, category, text string, conf float32) IntentAnswer {
	return IntentAnswer{
		Intent:     intent.Intent{Name: "test", Category: category, Family: family},
		Text:       text,
		Status:     StatusOK,
		Confidence: conf,
	}
}

func TestAggregate_SingleSectionHasNoHeading(t *testing.T) {
	t.Parallel()

	got := Aggregate([]IntentAnswer{
		okAnswer(intent.FamilyMetadata, "schema_metadata", "three columns", 0.8),
	})

	if got.Answer != "three columns" {
		t.Errorf("answer: got %q, want bare section text", got.Answer)
	}
	if len(got.Sections) != 1 {
		t.Fatalf("sections: got %d, want 1", len(got.Sections))
	}
	if got.Sections[0].Label != "Schema Information" {
		t.Errorf("label: got %q", got.Sections[0].Label)
	}
}

func TestAggregate_MultiSectionHeadingsInOrder(t *testing.T) {
	t.Parallel()

	got := Aggregate([]IntentAnswer{
		okAnswer(intent.FamilyMetadata, "schema_metadata", "schema body", 0.8),
		okAnswer(intent.FamilyLogs, "logs_daily", "log body", 0.6),
	})

	want := "**Schema Information:**\nschema body\n\n**Recent Logs:**\nlog body"
	if got.Answer != want {
		t.Errorf("answer:\n got %q\nwant %q", got.Answer, want)
	}
	if len(got.Sections) != 2 {
		t.Fatalf("sections: got %d, want 2", len(got.Sections))
	}
	if got.Sections[0].Family != intent.FamilyMetadata || got.Sections[1].Family != intent.FamilyLogs {
		t.Errorf("section order: %s, %s", got.Sections[0].Family, got.Sections[1].Family)
	}
}

func TestAggregate_EmptyBranchesDropped(t *testing.T) {
	t.Parallel()

	got := Aggregate([]IntentAnswer{
		{Intent: intent.Intent{Family: intent.FamilyMetadata}, Text: "no docs", Status: StatusEmpty},
		okAnswer(intent.FamilyMetrics, "metrics_daily", "p99 is 4ms", 0.7),
	})

	if len(got.Sections) != 1 {
		t.Fatalf("sections: got %d, want 1", len(got.Sections))
	}
	if got.Sections[0].Family != intent.FamilyMetrics {
		t.Errorf("surviving section: got %s", got.Sections[0].Family)
	}
	if strings.Contains(got.Answer, "no docs") {
		t.Errorf("empty branch text leaked into answer: %q", got.Answer)
	}
}

func TestAggregate_AllEmptyYieldsSentinel(t *testing.T) {
	t.Parallel()

	got := Aggregate([]IntentAnswer{
		{Intent: intent.Intent{Family: intent.FamilyMetadata}, Status: StatusEmpty},
		{Intent: intent.Intent{Family: intent.FamilyLogs}, Status: StatusEmpty},
	})

	if got.Answer != NotFoundMessage {
		t.Errorf("answer: got %q, want sentinel", got.Answer)
	}
	if len(got.Sections) != 0 {
		t.Errorf("sections: got %d, want 0", len(got.Sections))
	}
	if got.Confidence != 0 {
		t.Errorf("confidence: got %v, want 0", got.Confidence)
	}
}

func TestAggregate_FallbackSectionsContribute(t *testing.T) {
	t.Parallel()

	got := Aggregate([]IntentAnswer{
		{
			Intent:     intent.Intent{Family: intent.FamilyLogs, Category: "logs_daily"},
			Text:       "raw log excerpt...",
			Status:     StatusFallback,
			Confidence: 0.6,
		},
	})

	if got.Answer != "raw log excerpt..." {
		t.Errorf("answer: got %q", got.Answer)
	}
	if got.Sections[0].Status != StatusFallback {
		t.Errorf("status: got %s, want %s", got.Sections[0].Status, StatusFallback)
	}
}

func TestAggregate_ConfidenceIsMeanClamped(t *testing.T) {
	t.Parallel()

	got := Aggregate([]IntentAnswer{
		okAnswer(intent.FamilyMetadata, "schema_metadata", "a", 0.9),
		okAnswer(intent.FamilyMetrics, "metrics_daily", "b", 0.5),
	})
	if got.Confidence < 0.69 || got.Confidence > 0.71 {
		t.Errorf("confidence: got %v, want ~0.7", got.Confidence)
	}

	clamped := Aggregate([]IntentAnswer{
		okAnswer(intent.FamilyMetadata, "schema_metadata", "a", 1.4),
	})
	if clamped.Confidence != 1 {
		t.Errorf("confidence: got %v, want clamped to 1", clamped.Confidence)
	}
}

func TestFamilyLabel_UnknownFamily(t *testing.T) {
	t.Parallel()

	if got := FamilyLabel("something-else"); got != "Additional Information" {
		t.Errorf("label: got %q", got)
	}
}
