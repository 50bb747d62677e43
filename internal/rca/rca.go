// Package rca implements a structured root-cause-analysis pipeline over
// retrieved platform documents. The pipeline is fully deterministic: signal
// detection, noise filtering, correlation ranking, root cause extraction,
// fix recommendation, and confidence scoring are all keyword and scoring
// rules, with no model call involved.
package rca

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dataplane-ai/dbrag-go/internal/answer"
	"github.com/dataplane-ai/dbrag-go/internal/logging"
)

// Signal types, ordered from most to least specific.
const (
	SignalError              = "error"
	SignalAnomaly            = "anomaly"
	SignalThresholdViolation = "threshold_violation"
)

// errorKeywords mark hard failures in document content.
var errorKeywords = []string{
	"error", "exception", "failed", "failure", "timeout", "crash",
	"outofmemory", "nullpointer", "connection refused", "503", "500",
	"latency spike", "throughput drop", "lag", "delayed",
}

// anomalyKeywords mark deviations that are not outright failures.
var anomalyKeywords = []string{
	"unusual", "abnormal", "spike", "drop", "increase", "decrease",
	"threshold exceeded", "above normal", "below normal",
}

// Signal is one piece of evidence detected in a document.
type Signal struct {
	// Type classifies the signal: error, anomaly, or threshold_violation.
	Type string `json:"type"`

	// Keyword is the trigger that produced the signal.
	Keyword string `json:"keyword"`

	// Source names the document the signal came from.
	Source string `json:"source"`

	// Family is the document's source family.
	Family string `json:"family"`

	// Context is the text surrounding the keyword occurrence.
	Context string `json:"context"`

	// Strength grows with keyword occurrence count, in [0.5, 1].
	Strength float64 `json:"strength"`

	// Correlation combines question relevance with strength, in [0, 1].
	Correlation float64 `json:"correlation"`
}

// RootCause is the pipeline's primary finding.
type RootCause struct {
	// Description summarizes what was identified and where.
	Description string `json:"description"`

	// Details is the raw context of the strongest signal.
	Details string `json:"details"`

	// Evidence lists the top supporting signals, formatted for display.
	Evidence []string `json:"evidence"`

	// Confidence is the finding's own confidence, in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Fix is one actionable recommendation.
type Fix struct {
	// Action is the short imperative headline.
	Action string `json:"action"`

	// Description elaborates the action.
	Description string `json:"description"`

	// Priority is HIGH, MEDIUM, or LOW.
	Priority string `json:"priority"`

	// Timeframe suggests when to act.
	Timeframe string `json:"timeframe"`
}

// Result is the complete outcome of one analysis.
type Result struct {
	// Question is the analyzed question, echoed back.
	Question string `json:"question"`

	// RootCause is the primary finding.
	RootCause RootCause `json:"rootCause"`

	// Signals lists the surviving signals in correlation order.
	Signals []Signal `json:"signals"`

	// Fixes lists the recommendations, strongest first.
	Fixes []Fix `json:"fixes"`

	// Confidence is the overall confidence, in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Pipeline runs root-cause analysis. It is stateless and safe for
// concurrent use.
type Pipeline struct{}

// NewPipeline constructs a Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Analyze runs the full pipeline over the retrieved candidates. It never
// fails: with no usable signals the result carries a zero-confidence
// "no root cause identified" finding.
func (p *Pipeline) Analyze(ctx context.Context, question string, candidates []answer.Candidate) *Result {
	log := logging.FromContext(ctx)

	signals := detectSignals(candidates)
	log.Info("rca: detected signals", slog.Int("count", len(signals)))

	signals = filterNoise(signals)
	log.Info("rca: signals after noise filter", slog.Int("count", len(signals)))

	signals = rankByCorrelation(signals, question)

	rootCause := extractRootCause(signals)
	fixes := recommendFixes(signals)
	confidence := overallConfidence(rootCause, signals, fixes)

	log.Info("rca: analysis complete",
		slog.Int("signals", len(signals)),
		slog.Int("fixes", len(fixes)),
		slog.Float64("confidence", confidence),
	)

	return &Result{
		Question:   question,
		RootCause:  rootCause,
		Signals:    signals,
		Fixes:      fixes,
		Confidence: confidence,
	}
}

// detectSignals scans document content for error keywords, anomaly
// keywords, and metric threshold violations.
func detectSignals(candidates []answer.Candidate) []Signal {
	var signals []Signal

	for _, c := range candidates {
		content := strings.ToLower(c.Document.Content)

		for _, kw := range errorKeywords {
			if strings.Contains(content, kw) {
				signals = append(signals, newSignal(SignalError, kw, c, content))
			}
		}
		for _, kw := range anomalyKeywords {
			if strings.Contains(content, kw) {
				signals = append(signals, newSignal(SignalAnomaly, kw, c, content))
			}
		}

		if c.Document.Family == "metrics" &&
			(strings.Contains(content, "threshold") || strings.Contains(content, "exceeded")) {
			s := newSignal(SignalThresholdViolation, "metric_threshold", c, content)
			s.Context = surroundingContext(content, "threshold")
			s.Strength = 0.8
			signals = append(signals, s)
		}
	}

	return signals
}

func newSignal(typ, keyword string, c answer.Candidate, content string) Signal {
	return Signal{
		Type:     typ,
		Keyword:  keyword,
		Source:   c.Document.Source,
		Family:   c.Document.Family,
		Context:  surroundingContext(content, keyword),
		Strength: signalStrength(content, keyword),
	}
}

// filterNoise drops weak signals and signals without enough surrounding
// context to be interpretable.
func filterNoise(signals []Signal) []Signal {
	out := signals[:0]
	for _, s := range signals {
		if s.Strength < 0.5 {
			continue
		}
		if len(s.Context) <= 10 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// rankByCorrelation scores each signal against the question and sorts
// best-first. Question words longer than three characters that appear in
// the signal context each add 0.1; error questions boost error signals
// and performance questions boost anomaly and threshold signals.
func rankByCorrelation(signals []Signal, question string) []Signal {
	lower := strings.ToLower(question)
	words := strings.Fields(lower)

	for i := range signals {
		var score float64
		ctx := strings.ToLower(signals[i].Context)

		for _, w := range words {
			if len(w) > 3 && strings.Contains(ctx, w) {
				score += 0.1
			}
		}

		if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
			if signals[i].Type == SignalError {
				score += 0.3
			}
		}
		if strings.Contains(lower, "slow") || strings.Contains(lower, "latency") || strings.Contains(lower, "performance") {
			if signals[i].Type == SignalAnomaly || signals[i].Type == SignalThresholdViolation {
				score += 0.3
			}
		}

		signals[i].Correlation = clamp01(score + signals[i].Strength)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Correlation > signals[j].Correlation
	})
	return signals
}

// extractRootCause turns the strongest signal into the primary finding,
// with the top three signals as supporting evidence.
func extractRootCause(ranked []Signal) RootCause {
	if len(ranked) == 0 {
		return RootCause{
			Description: "No root cause identified",
			Details:     "Insufficient evidence in retrieved documents",
		}
	}

	top := ranked[0]

	evidence := make([]string, 0, 3)
	for _, s := range ranked {
		if len(evidence) == 3 {
			break
		}
		ctx := s.Context
		if len(ctx) > 100 {
			ctx = ctx[:100]
		}
		evidence = append(evidence, fmt.Sprintf("%s: %s (from %s)", s.Type, ctx, s.Source))
	}

	return RootCause{
		Description: describeRootCause(top, len(ranked)),
		Details:     top.Context,
		Evidence:    evidence,
		Confidence:  (top.Correlation + top.Strength) / 2,
	}
}

func describeRootCause(top Signal, total int) string {
	var b strings.Builder
	b.WriteString("Root cause identified: ")
	b.WriteString(strings.ReplaceAll(top.Type, "_", " "))
	b.WriteString(" detected in ")
	b.WriteString(top.Family)
	if total > 1 {
		fmt.Fprintf(&b, " (supported by %d additional signal", total-1)
		if total > 2 {
			b.WriteString("s")
		}
		b.WriteString(")")
	}
	return b.String()
}

// recommendFixes maps the strongest signal's type to a fixed set of
// actionable recommendations, always ending with a preventive action.
func recommendFixes(signals []Signal) []Fix {
	if len(signals) == 0 {
		return nil
	}

	var fixes []Fix
	switch signals[0].Type {
	case SignalError:
		fixes = append(fixes,
			Fix{
				Action:      "Check application logs",
				Description: "Review detailed error logs for the specific error message",
				Priority:    "HIGH",
				Timeframe:   "Immediate",
			},
			Fix{
				Action:      "Verify system resources",
				Description: "Check CPU, memory, and disk usage at the time of error",
				Priority:    "MEDIUM",
				Timeframe:   "Within 1 hour",
			},
		)
	case SignalAnomaly:
		fixes = append(fixes,
			Fix{
				Action:      "Investigate metric trends",
				Description: "Compare current metrics with historical baselines",
				Priority:    "HIGH",
				Timeframe:   "Within 30 minutes",
			},
			Fix{
				Action:      "Check dependent services",
				Description: "Verify health of upstream/downstream services",
				Priority:    "MEDIUM",
				Timeframe:   "Within 1 hour",
			},
		)
	case SignalThresholdViolation:
		fixes = append(fixes,
			Fix{
				Action:      "Review threshold configuration",
				Description: "Verify if thresholds are set appropriately",
				Priority:    "HIGH",
				Timeframe:   "Immediate",
			},
			Fix{
				Action:      "Scale resources if needed",
				Description: "Consider scaling if threshold violations are persistent",
				Priority:    "MEDIUM",
				Timeframe:   "Within 2 hours",
			},
		)
	}

	fixes = append(fixes, Fix{
		Action:      "Implement monitoring alerts",
		Description: "Set up proactive alerts for similar issues",
		Priority:    "LOW",
		Timeframe:   "Within 24 hours",
	})
	return fixes
}

// overallConfidence combines the root cause's own confidence with boosts
// for additional evidence and actionable recommendations.
func overallConfidence(rootCause RootCause, signals []Signal, fixes []Fix) float64 {
	if len(signals) == 0 {
		return 0
	}
	signalBoost := float64(len(signals)) * 0.05
	if signalBoost > 0.2 {
		signalBoost = 0.2
	}
	fixBoost := float64(len(fixes)) * 0.02
	if fixBoost > 0.1 {
		fixBoost = 0.1
	}
	return clamp01(rootCause.Confidence + signalBoost + fixBoost)
}

// surroundingContext returns up to 100 characters either side of the first
// keyword occurrence.
func surroundingContext(content, keyword string) string {
	idx := strings.Index(content, keyword)
	if idx == -1 {
		return ""
	}
	start := idx - 100
	if start < 0 {
		start = 0
	}
	end := idx + len(keyword) + 100
	if end > len(content) {
		end = len(content)
	}
	return strings.TrimSpace(content[start:end])
}

// signalStrength grows with occurrence count: 0.5 base plus 0.1 per
// occurrence, capped at 1.
func signalStrength(content, keyword string) float64 {
	count := strings.Count(content, keyword)
	s := 0.5 + float64(count)*0.1
	if s > 1 {
		s = 1
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
