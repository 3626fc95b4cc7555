package rulestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gomatter/domain/core"
	"gomatter/domain/rules"
)

// File names of the persisted rule store
const (
	RulesFile    = "extracted_rules.json"
	MetadataFile = "rule_metadata.json"
	IndexFile    = "rule_index.json"
)

// ruleRecord is one element of extracted_rules.json. Both the predicate-description
// form and the structured threshold form written by the extraction tooling are accepted.
type ruleRecord struct {
	ID     flexID `json:"id"`
	RuleID flexID `json:"rule_id"`

	Category string `json:"category"`
	RuleType string `json:"rule_type"`

	Predicate      string   `json:"predicate"`
	Property       string   `json:"property"`
	Operator       string   `json:"operator"`
	ThresholdValue *float64 `json:"threshold_value"`
	RangeStart     *float64 `json:"range_start"`
	RangeEnd       *float64 `json:"range_end"`
	Uncertainty    float64  `json:"uncertainty"`

	Statement string `json:"statement"`
	RuleText  string `json:"rule_text"`

	Confidence            *float64 `json:"confidence"`
	StatisticalConfidence *float64 `json:"statistical_confidence"`

	Citation          string      `json:"citation"`
	SourceCitation    string      `json:"source_citation"`
	SourcePaperID     string      `json:"source_paper_id"`
	SupportedByPapers flexStrings `json:"supported_by_papers"`

	Applications flexStrings `json:"applications"`
	Application  flexStrings `json:"application"`
	Domain       flexStrings `json:"domain"`
}

// PaperMeta is one entry of rule_metadata.json, keyed by paper id
type PaperMeta struct {
	Title          string   `json:"title"`
	Authors        []string `json:"authors"`
	URL            string   `json:"url"`
	ExtractionDate string   `json:"extraction_date"`
	RulesCount     int      `json:"rules_count"`
}

// Cite renders a short citation: authors, title, then the URL in parentheses
func (p PaperMeta) Cite() string {
	var b strings.Builder
	if len(p.Authors) > 0 {
		b.WriteString(strings.Join(p.Authors, ", "))
		if p.Title != "" || p.URL != "" {
			b.WriteString(". ")
		}
	}
	switch {
	case p.Title != "" && p.URL != "":
		fmt.Fprintf(&b, "%s (%s)", p.Title, p.URL)
	case p.Title != "":
		b.WriteString(p.Title)
	default:
		b.WriteString(p.URL)
	}
	return b.String()
}

// indexRecord is rule_index.json; dimensions other than category and keyword are ignored
type indexRecord struct {
	Category map[string][]flexID `json:"category"`
	Keyword  map[string][]flexID `json:"keyword"`
}

// flexID accepts string ids and the integer ids of older rule files
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("rule id must be a string or integer, got %s", data)
	}
	*f = flexID(fmt.Sprintf("rule_%06d", n))
	return nil
}

// flexStrings accepts a single string or an array of strings
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s != "" {
			*f = flexStrings{s}
		}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return err
	}
	*f = flexStrings(ss)
	return nil
}

// toRule normalizes a persisted record into a rule
func (r ruleRecord) toRule(papers map[string]PaperMeta) (rules.Rule, error) {
	catName := r.Category
	if catName == "" {
		catName = r.RuleType
	}
	cat, err := rules.ParseCategory(catName)
	if err != nil {
		return rules.Rule{}, err
	}

	statement := strings.TrimSpace(r.Statement)
	if statement == "" {
		statement = strings.TrimSpace(r.RuleText)
	}

	var expr rules.Expr
	if strings.TrimSpace(r.Predicate) != "" {
		expr, err = rules.ParsePredicate(r.Predicate)
	} else if r.Property != "" {
		expr, err = rules.FromLegacy(rules.LegacyCondition{
			Property:    r.Property,
			Operator:    r.Operator,
			Threshold:   r.ThresholdValue,
			RangeStart:  r.RangeStart,
			RangeEnd:    r.RangeEnd,
			Uncertainty: r.Uncertainty,
		})
	} else {
		err = fmt.Errorf("rule has neither predicate nor property condition")
	}
	if err != nil {
		return rules.Rule{}, err
	}

	conf := r.Confidence
	if conf == nil {
		conf = r.StatisticalConfidence
	}
	if conf == nil {
		return rules.Rule{}, fmt.Errorf("rule has no confidence")
	}
	if *conf < 0 || *conf > 1 {
		return rules.Rule{}, fmt.Errorf("confidence %v outside [0,1]", *conf)
	}

	id := core.RuleID(r.ID)
	if id == "" {
		id = core.RuleID(r.RuleID)
	}
	if id == "" {
		id = core.ContentRuleID(statement, expr.String())
	}

	citation := r.Citation
	if citation == "" {
		citation = r.SourceCitation
	}
	if citation == "" && r.SourcePaperID != "" {
		if meta, ok := papers[r.SourcePaperID]; ok {
			citation = meta.Cite()
		} else {
			citation = r.SourcePaperID
		}
	}

	var sources []string
	if r.SourcePaperID != "" {
		sources = append(sources, r.SourcePaperID)
	}
	for _, p := range r.SupportedByPapers {
		if p != "" && p != r.SourcePaperID {
			sources = append(sources, p)
		}
	}

	apps := uniqueLower(append(append(append([]string{}, r.Applications...), r.Application...), r.Domain...))

	return rules.Rule{
		ID:            id,
		Category:      cat,
		Predicate:     expr,
		PredicateText: expr.String(),
		Statement:     statement,
		Confidence:    *conf,
		Citation:      citation,
		Applications:  apps,
		Sources:       sources,
	}, nil
}

func uniqueLower(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || s == "general" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
