package answer

import (
	"strings"

	"github.com/dataplane-ai/dbrag-go/internal/intent"
)

// NotFoundMessage is the single sentinel returned when every branch came
// back empty. The caller still receives a well-formed response.
const NotFoundMessage = "I apologize, but I was unable to find relevant information for your query. The requested details may not be available in the knowledge base."

// familyLabels maps each source family to its presentation heading.
var familyLabels = map[string]string{
	intent.FamilyMetadata: "Schema Information",
	intent.FamilyLineage:  "Data Lineage",
	intent.FamilyLogs:     "Recent Logs",
	intent.FamilyMetrics:  "Current Metrics",
}

// FamilyLabel returns the presentation heading for a family.
func FamilyLabel(family string) string {
	if l, ok := familyLabels[family]; ok {
		return l
	}
	return "Additional Information"
}

// Section is one labeled part of an aggregated answer.
type Section struct {
	// Label is the family heading shown to the caller.
	Label string `json:"label"`

	// Family is the source family of the contributing intent.
	Family string `json:"family"`

	// Category is the contributing intent's category, if any.
	Category string `json:"category,omitempty"`

	// Text is the section body.
	Text string `json:"text"`

	// Status records how the section's text was produced.
	Status Status `json:"status"`
}

// Final is the assembled response for one question.
type Final struct {
	// Answer is the rendered full answer text.
	Answer string

	// Sections lists the contributing sections in detection order.
	// Empty when every branch was empty.
	Sections []Section

	// Confidence is the mean of the contributing sections' confidences,
	// clamped to [0, 1].
	Confidence float32
}

// Aggregate assembles the per-intent answers into the final response.
// Answers appear in their original detection order; empty branches are
// dropped. When nothing remains the sentinel NotFoundMessage is returned,
// never an error: total retrieval failure is an answer, not a fault.
func Aggregate(answers []IntentAnswer) Final {
	var sections []Section
	var confSum float32
	var confN int

	for _, a := range answers {
		if a.Status == StatusEmpty {
			continue
		}
		sections = append(sections, Section{
			Label:    FamilyLabel(a.Intent.Family),
			Family:   a.Intent.Family,
			Category: a.Intent.Category,
			Text:     a.Text,
			Status:   a.Status,
		})
		confSum += a.Confidence
		confN++
	}

	if len(sections) == 0 {
		return Final{Answer: NotFoundMessage}
	}

	conf := confSum / float32(confN)
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}

	return Final{
		Answer:     render(sections),
		Sections:   sections,
		Confidence: conf,
	}
}

// render joins sections into one text. A single section needs no heading;
// multiple sections get bold headings in order.
func render(sections []Section) string {
	if len(sections) == 1 {
		return sections[0].Text
	}

	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("**")
		b.WriteString(s.Label)
		b.WriteString(":**\n")
		b.WriteString(s.Text)
	}
	return b.String()
}
