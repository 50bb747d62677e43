package intent

import (
	"strings"
)

// Intent is one detected retrieval-and-generation branch for a question.
type Intent struct {
	// Name is the rule name that produced this intent, or "default-<family>"
	// for fallback intents.
	Name string

	// Category is the document category to search. Empty means the whole
	// family is searched and no rewrite template applies.
	Category string

	// Family is the source family this intent belongs to.
	Family string

	// TimeWindowDays restricts retrieval recency. Zero means unrestricted.
	TimeWindowDays int
}

// Detector classifies questions against a rule catalog.
// It is stateless and safe for concurrent use.
type Detector struct {
	// catalog holds the ordered rules consulted on every Detect call.
	catalog *Catalog
}

// NewDetector constructs a Detector over the given catalog.
func NewDetector(catalog *Catalog) *Detector {
	return &Detector{catalog: catalog}
}

// Detect returns the intents matching the question, in catalog rule order,
// deduplicated so each (category, family) pair appears at most once.
// A question matching no rule yields one family-wide intent per known
// family, so retrieval always has somewhere to look.
func (d *Detector) Detect(question string) []Intent {
	lower := strings.ToLower(question)

	var intents []Intent
	seen := make(map[string]bool)

	for _, rule := range d.catalog.Rules() {
		if !anyKeyword(lower, rule.Keywords) {
			continue
		}
		key := rule.Family + "/" + rule.Category
		if seen[key] {
			continue
		}
		seen[key] = true
		intents = append(intents, Intent{
			Name:           rule.Intent,
			Category:       rule.Category,
			Family:         rule.Family,
			TimeWindowDays: rule.TimeWindowDays,
		})
	}

	if len(intents) == 0 {
		for _, fam := range Families {
			intents = append(intents, Intent{
				Name:   "default-" + fam,
				Family: fam,
			})
		}
	}

	return intents
}

// anyKeyword reports whether any keyword occurs as a substring of s.
// Keywords are already lowercased by the catalog.
func anyKeyword(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
