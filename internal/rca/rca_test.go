package rca

import (
	"context"
	"strings"
	"testing"

	"github.com/dataplane-ai/dbrag-go/internal/answer"
	"github.com/dataplane-ai/dbrag-go/internal/rag"
)

func candidate(source, family, content string) answer.Candidate {
	return answer.Candidate{
		Document: rag.Document{
			ID:      source,
			Content: content,
			Family:  family,
			Source:  source,
		},
		Similarity: 0.8,
	}
}

func TestAnalyze_NoCandidates(t *testing.T) {
	t.Parallel()

	got := NewPipeline().Analyze(context.Background(), "why is it slow", nil)

	if got.Confidence != 0 {
		t.Errorf("confidence: got %v, want 0", got.Confidence)
	}
	if got.RootCause.Description != "No root cause identified" {
		t.Errorf("description: got %q", got.RootCause.Description)
	}
	if len(got.Fixes) != 0 {
		t.Errorf("fixes: got %d, want 0", len(got.Fixes))
	}
}

func TestAnalyze_ErrorSignalDetected(t *testing.T) {
	t.Parallel()

	cands := []answer.Candidate{
		candidate("daily-log-digest", "logs",
			"tserver reported connection refused while contacting the master at 02:14, writes failed for 30 seconds"),
	}
	got := NewPipeline().Analyze(context.Background(), "why did writes fail", cands)

	if len(got.Signals) == 0 {
		t.Fatal("expected at least one signal")
	}
	if got.Signals[0].Type != SignalError {
		t.Errorf("top signal type: got %s, want %s", got.Signals[0].Type, SignalError)
	}
	if !strings.HasPrefix(got.RootCause.Description, "Root cause identified: error detected in logs") {
		t.Errorf("description: got %q", got.RootCause.Description)
	}
	if got.Confidence <= 0 {
		t.Errorf("confidence: got %v, want > 0", got.Confidence)
	}
}

func TestAnalyze_ErrorQuestionBoostsErrorSignals(t *testing.T) {
	t.Parallel()

	cands := []answer.Candidate{
		candidate("metric-snapshot", "metrics",
			"an unusual increase in read volume was observed across all tablets during the evening window"),
		candidate("daily-log-digest", "logs",
			"write requests failed with a timeout against the leader replica for several minutes"),
	}
	got := NewPipeline().Analyze(context.Background(), "what caused the write errors", cands)

	if len(got.Signals) < 2 {
		t.Fatalf("signals: got %d, want >= 2", len(got.Signals))
	}
	if got.Signals[0].Type != SignalError {
		t.Errorf("error question must rank error signals first, got %s", got.Signals[0].Type)
	}
}

func TestAnalyze_PerformanceQuestionBoostsAnomalies(t *testing.T) {
	t.Parallel()

	cands := []answer.Candidate{
		candidate("metric-snapshot", "metrics",
			"p99 latency shows an abnormal spike well above normal for the orders table read path today"),
	}
	got := NewPipeline().Analyze(context.Background(), "why is the orders table slow", cands)

	if len(got.Signals) == 0 {
		t.Fatal("expected signals")
	}
	if got.Signals[0].Type != SignalAnomaly {
		t.Errorf("top signal type: got %s, want %s", got.Signals[0].Type, SignalAnomaly)
	}
	if got.Signals[0].Correlation <= got.Signals[0].Strength {
		t.Errorf("performance boost missing: correlation %v <= strength %v",
			got.Signals[0].Correlation, got.Signals[0].Strength)
	}
}

func TestAnalyze_ThresholdViolationNeedsMetricsFamily(t *testing.T) {
	t.Parallel()

	content := "the configured threshold was exceeded repeatedly over the past six hours of monitoring"
	fromLogs := NewPipeline().Analyze(context.Background(), "status",
		[]answer.Candidate{candidate("log", "logs", content)})
	fromMetrics := NewPipeline().Analyze(context.Background(), "status",
		[]answer.Candidate{candidate("metric", "metrics", content)})

	hasViolation := func(r *Result) bool {
		for _, s := range r.Signals {
			if s.Type == SignalThresholdViolation {
				return true
			}
		}
		return false
	}
	if hasViolation(fromLogs) {
		t.Error("threshold violation must not fire outside the metrics family")
	}
	if !hasViolation(fromMetrics) {
		t.Error("threshold violation missing for metrics document")
	}
}

func TestAnalyze_FixesMatchTopSignalType(t *testing.T) {
	t.Parallel()

	cands := []answer.Candidate{
		candidate("daily-log-digest", "logs",
			"requests failed with repeated timeout errors during the maintenance window overnight"),
	}
	got := NewPipeline().Analyze(context.Background(), "what failed", cands)

	if len(got.Fixes) != 3 {
		t.Fatalf("fixes: got %d, want 3", len(got.Fixes))
	}
	if got.Fixes[0].Action != "Check application logs" {
		t.Errorf("first fix: got %q", got.Fixes[0].Action)
	}
	last := got.Fixes[len(got.Fixes)-1]
	if last.Action != "Implement monitoring alerts" || last.Priority != "LOW" {
		t.Errorf("preventive fix must come last, got %+v", last)
	}
}

func TestAnalyze_EvidenceCappedAtThree(t *testing.T) {
	t.Parallel()

	var cands []answer.Candidate
	for _, src := range []string{"a", "b", "c", "d", "e"} {
		cands = append(cands, candidate(src, "logs",
			"the batch load failed with an exception while writing to the target table"))
	}
	got := NewPipeline().Analyze(context.Background(), "what happened", cands)

	if len(got.RootCause.Evidence) != 3 {
		t.Errorf("evidence: got %d, want 3", len(got.RootCause.Evidence))
	}
	for _, e := range got.RootCause.Evidence {
		if !strings.Contains(e, "(from ") {
			t.Errorf("evidence missing source attribution: %q", e)
		}
	}
}

func TestSignalStrength_GrowsWithOccurrences(t *testing.T) {
	t.Parallel()

	once := signalStrength("one error here", "error")
	thrice := signalStrength("error error error", "error")
	if once != 0.6 {
		t.Errorf("single occurrence: got %v, want 0.6", once)
	}
	if thrice <= once {
		t.Errorf("repeated keyword must strengthen the signal: %v <= %v", thrice, once)
	}
	many := signalStrength(strings.Repeat("error ", 20), "error")
	if many != 1 {
		t.Errorf("strength must cap at 1, got %v", many)
	}
}

func TestSurroundingContext_Window(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("a", 300) + "timeout" + strings.Repeat("b", 300)
	ctx := surroundingContext(content, "timeout")
	if len(ctx) != 100+len("timeout")+100 {
		t.Errorf("context length: got %d", len(ctx))
	}
	if surroundingContext("nothing here", "timeout") != "" {
		t.Error("missing keyword must yield empty context")
	}
}
