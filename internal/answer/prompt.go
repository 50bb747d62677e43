package answer

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/dataplane-ai/dbrag-go/internal/budget"
	"github.com/dataplane-ai/dbrag-go/internal/intent"
)

// systemPrompt is the base instruction sent with every generation call.
// The no-fabrication rule is the load-bearing part: answers must come from
// the supplied context documents or admit the gap.
const systemPrompt = `You are an enterprise data platform assistant. You answer questions about database clusters, keyspaces, tables, data lineage, logs, and metrics.

Rules:
- Answer using ONLY the context documents provided below.
- If the context does not contain the answer, say so plainly.
- Never fabricate schema details, metric values, log entries, or lineage relationships.
- Be concise and specific: name the tables, topics, jobs, and values you cite.`

// familyInstructions adds one focusing line per source family so the model
// answers the right aspect of a multi-intent question.
var familyInstructions = map[string]string{
	intent.FamilyMetadata: "Focus on schema, configuration, and business metadata. Describe structures exactly as documented.",
	intent.FamilyLineage:  "Focus on data flow: name upstream producers and downstream consumers and the systems connecting them.",
	intent.FamilyLogs:     "Focus on log events in the covered window. State when each event was observed.",
	intent.FamilyMetrics:  "Focus on metric values and trends. Quote numbers with their units.",
}

// BuildMessages assembles the chat messages for one intent's generation
// call. Candidate documents are serialised best-first and trimmed to fit
// the input token budget, so the strongest evidence survives truncation.
func BuildMessages(question string, in intent.Intent, candidates []Candidate, maxContextTokens int) []*schema.Message {
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}

	sys := systemPrompt
	if instr, ok := familyInstructions[in.Family]; ok {
		sys = sys + "\n\n" + instr
	}

	docs := make([]string, 0, len(candidates))
	for i, c := range candidates {
		docs = append(docs, formatCandidate(i+1, c))
	}

	// Trim against the fixed frame (system prompt + bare question) so the
	// budget accounts for everything except the documents themselves.
	frame := []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage(question),
	}
	docs = budget.TrimContext(frame, docs, maxContextTokens)

	var b strings.Builder
	b.WriteString("Context documents:\n\n")
	for _, d := range docs {
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)

	return []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage(b.String()),
	}
}

// formatCandidate renders one document for the prompt with enough
// provenance that the model can cite it.
func formatCandidate(n int, c Candidate) string {
	var meta []string
	if c.Document.Category != "" {
		meta = append(meta, c.Document.Category)
	}
	if c.Document.Cluster != "" {
		meta = append(meta, "cluster="+c.Document.Cluster)
	}
	if c.Document.Keyspace != "" && c.Document.Table != "" {
		meta = append(meta, c.Document.Keyspace+"."+c.Document.Table)
	}
	if !c.Document.EventDate.IsZero() {
		meta = append(meta, c.Document.EventDate.Format("2006-01-02"))
	}
	return fmt.Sprintf("[%d] (%s)\n%s\n", n, strings.Join(meta, ", "), c.Document.Content)
}

// emptyFamilyPhrases names each family in the canned no-candidates answer.
var emptyFamilyPhrases = map[string]string{
	intent.FamilyMetadata: "schema or configuration metadata",
	intent.FamilyLineage:  "data lineage information",
	intent.FamilyLogs:     "log entries",
	intent.FamilyMetrics:  "metric data",
}

// EmptyAnswer is the deterministic text returned for an intent whose
// retrieval produced no candidates above threshold. No model call is made
// for these branches.
func EmptyAnswer(in intent.Intent) string {
	phrase, ok := emptyFamilyPhrases[in.Family]
	if !ok {
		phrase = "relevant information"
	}
	return fmt.Sprintf("No %s was found for this part of your query.", phrase)
}
