// Package heuristic writes template prose from prompt facts without calling a model.
package heuristic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gomatter/ports"
)

// Generator creates narratives from the structured prompt context alone
type Generator struct{}

// NewGenerator creates a new heuristic generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate implements ports.Generator. It is deterministic.
func (g *Generator) Generate(ctx context.Context, p ports.PromptContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch p.Purpose {
	case ports.PurposeAnalysis:
		return g.analysis(p), nil
	case ports.PurposeHypothesis:
		return g.hypotheses(p), nil
	}
	return "", fmt.Errorf("unknown prompt purpose %q", p.Purpose)
}

func (g *Generator) analysis(p ports.PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", p.Formula)
	dims := make([]string, 0, len(p.Findings))
	for d := range p.Findings {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	if len(dims) == 0 {
		b.WriteString(" has no analysed dimensions.")
	} else {
		parts := make([]string, len(dims))
		for i, d := range dims {
			parts[i] = fmt.Sprintf("%s: %s", d, p.Findings[d])
		}
		fmt.Fprintf(&b, " summary. %s.", strings.Join(parts, "; "))
	}
	if len(p.Rules) > 0 {
		b.WriteString(" Supporting rules: ")
		b.WriteString(ruleList(p.Rules))
		b.WriteString(".")
	} else {
		b.WriteString(" No literature rules matched.")
	}
	return b.String()
}

func (g *Generator) hypotheses(p ports.PromptContext) string {
	if len(p.Candidates) == 0 {
		return fmt.Sprintf("No applications proposed for %s.", p.Formula)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate applications for %s: ", p.Formula)
	b.WriteString(strings.Join(p.Candidates, ", "))
	b.WriteString(".")
	if len(p.Rules) > 0 {
		b.WriteString(" Strongest evidence: ")
		b.WriteString(ruleList(p.Rules[:1]))
		b.WriteString(".")
	}
	return b.String()
}

func ruleList(rs []ports.RuleFact) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("%s [%s, %.2f]", r.Statement, r.ID, r.Confidence)
	}
	return strings.Join(parts, "; ")
}
