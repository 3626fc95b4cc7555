package rules

import (
	"fmt"
	"sort"
	"strings"

	"gomatter/domain/core"
)

// Category classifies what kind of claim a rule makes
type Category string

const (
	CategoryElectronic  Category = "electronic"
	CategoryMechanical  Category = "mechanical"
	CategoryThermal     Category = "thermal"
	CategoryStability   Category = "stability"
	CategorySynthesis   Category = "synthesis"
	CategoryApplication Category = "application"
)

// AllCategories lists every category in display order
var AllCategories = []Category{
	CategoryElectronic,
	CategoryMechanical,
	CategoryThermal,
	CategoryStability,
	CategorySynthesis,
	CategoryApplication,
}

// legacyCategories maps category and rule_type names written by the extraction tooling
var legacyCategories = map[string]Category{
	"property_application": CategoryApplication,
	"material_property":    CategoryStability,
	"band_gap":             CategoryElectronic,
	"electrical":           CategoryElectronic,
	"phase_stability":      CategoryStability,
	"chemical_constraint":  CategoryStability,
	"thermodynamic":        CategoryStability,
}

// ParseCategory accepts canonical and legacy category names
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCategories {
		if string(c) == key {
			return c, nil
		}
	}
	if c, ok := legacyCategories[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown rule category %q", s)
}

// CategorySet is an unordered set of categories
type CategorySet map[Category]struct{}

// NewCategorySet builds a set from the given categories
func NewCategorySet(cats ...Category) CategorySet {
	s := make(CategorySet, len(cats))
	for _, c := range cats {
		s[c] = struct{}{}
	}
	return s
}

// Contains reports membership; an empty set contains nothing
func (s CategorySet) Contains(c Category) bool {
	_, ok := s[c]
	return ok
}

// Sorted returns the members in a stable order
func (s CategorySet) Sorted() []Category {
	out := make([]Category, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EvidenceStrength buckets a rule by confidence
type EvidenceStrength string

const (
	EvidenceStrong EvidenceStrength = "strong"
	EvidenceMedium EvidenceStrength = "medium"
	EvidenceWeak   EvidenceStrength = "weak"
)

// StrengthFor returns the evidence bucket for a confidence value
func StrengthFor(confidence float64) EvidenceStrength {
	switch {
	case confidence >= 0.85:
		return EvidenceStrong
	case confidence >= 0.65:
		return EvidenceMedium
	default:
		return EvidenceWeak
	}
}

// Rule is an immutable, confidence-scored claim relating properties to a conclusion
type Rule struct {
	ID            core.RuleID `json:"id"`
	Category      Category    `json:"category"`
	Predicate     Expr        `json:"-"`
	PredicateText string      `json:"predicate"`
	Statement     string      `json:"statement"`
	Confidence    float64     `json:"confidence"`
	Citation      string      `json:"citation"`
	Applications  []string    `json:"applications,omitempty"`
	Sources       []string    `json:"sources,omitempty"`
}

// Fields returns the property names the predicate references
func (r Rule) Fields() []string {
	if r.Predicate == nil {
		return nil
	}
	return Fields(r.Predicate)
}

// Strength returns the evidence bucket for the rule's confidence
func (r Rule) Strength() EvidenceStrength {
	return StrengthFor(r.Confidence)
}

// CrossValidated reports whether at least two independent sources support the rule
func (r Rule) CrossValidated() bool {
	seen := make(map[string]struct{}, len(r.Sources))
	for _, s := range r.Sources {
		if s = strings.TrimSpace(s); s != "" {
			seen[s] = struct{}{}
		}
	}
	return len(seen) >= 2
}

// Match is one rule that applied to a property record
type Match struct {
	RuleID     core.RuleID `json:"rule_id"`
	Confidence float64     `json:"confidence"`
	Category   Category    `json:"category"`
}

// SortMatches orders by descending confidence, ties by ascending rule id
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Confidence != ms[j].Confidence {
			return ms[i].Confidence > ms[j].Confidence
		}
		return ms[i].RuleID < ms[j].RuleID
	})
}

// MatchIDs returns the rule ids of the matches in order
func MatchIDs(ms []Match) []core.RuleID {
	out := make([]core.RuleID, len(ms))
	for i, m := range ms {
		out[i] = m.RuleID
	}
	return out
}

// AsMatch returns the match entry for a rule that applied
func (r Rule) AsMatch() Match {
	return Match{RuleID: r.ID, Confidence: r.Confidence, Category: r.Category}
}
