package analysis

import (
	"fmt"
	"sort"
	"strings"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/run"
	"gomatter/ports"
)

// ExploratoryApplication is proposed when no rule supports any application
const ExploratoryApplication = "exploratory characterization"

// HypothesisCategories adds application rules to what the hypothesize node considers
var HypothesisCategories = rules.NewCategorySet(rules.CategoryApplication)

// Hypothesize groups the application tags of matched rules into ranked hypotheses.
// Confidence is the strongest supporting rule; ties order by application name.
// With no tagged rule, a single uncited exploratory hypothesis is returned.
func Hypothesize(matched []rules.Rule) []run.Hypothesis {
	type group struct {
		label string
		best  float64
		rules []rules.Rule
	}
	groups := make(map[string]*group)
	for _, r := range matched {
		for _, app := range r.Applications {
			label := strings.ToLower(strings.TrimSpace(app))
			if label == "" {
				continue
			}
			g, ok := groups[label]
			if !ok {
				g = &group{label: label}
				groups[label] = g
			}
			g.rules = append(g.rules, r)
			if r.Confidence > g.best {
				g.best = r.Confidence
			}
		}
	}

	if len(groups) == 0 {
		return []run.Hypothesis{{
			Application:     ExploratoryApplication,
			Confidence:      0,
			SupportingRules: []core.RuleID{},
			Rationale:       "no matched rule names an application",
		}}
	}

	out := make([]run.Hypothesis, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.rules, func(i, j int) bool {
			if g.rules[i].Confidence != g.rules[j].Confidence {
				return g.rules[i].Confidence > g.rules[j].Confidence
			}
			return g.rules[i].ID < g.rules[j].ID
		})
		ids := make([]core.RuleID, 0, len(g.rules))
		seen := make(map[core.RuleID]bool)
		for _, r := range g.rules {
			if !seen[r.ID] {
				seen[r.ID] = true
				ids = append(ids, r.ID)
			}
		}
		out = append(out, run.Hypothesis{
			Application:     g.label,
			Confidence:      g.best,
			SupportingRules: ids,
			Rationale:       fmt.Sprintf("%s (%s)", g.rules[0].Statement, g.rules[0].ID),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Application < out[j].Application
	})
	return out
}

// Rank scores every rule-backed hypothesis with fitness and orders them by that
// score, then by confidence, then by application. The exploratory hypothesis is left unscored.
func Rank(hs []run.Hypothesis, fitness func(application string) float64) []run.Hypothesis {
	out := make([]run.Hypothesis, len(hs))
	copy(out, hs)
	for i := range out {
		if out[i].Application == ExploratoryApplication || len(out[i].SupportingRules) == 0 {
			continue
		}
		score := fitness(out[i].Application)
		out[i].DomainScore = &score
	}
	fit := func(h run.Hypothesis) float64 {
		if h.DomainScore == nil {
			return -1
		}
		return *h.DomainScore
	}
	sort.SliceStable(out, func(i, j int) bool {
		if fi, fj := fit(out[i]), fit(out[j]); fi != fj {
			return fi > fj
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Application < out[j].Application
	})
	return out
}

// Facts converts rules to the generator's view
func Facts(rs []rules.Rule) []ports.RuleFact {
	out := make([]ports.RuleFact, len(rs))
	for i, r := range rs {
		out[i] = ports.RuleFact{
			ID:         r.ID.String(),
			Category:   string(r.Category),
			Statement:  r.Statement,
			Confidence: r.Confidence,
			Citation:   r.Citation,
		}
	}
	return out
}

// AnalysisPrompt builds the generator input for the analysis narrative
func AnalysisPrompt(formula string, rec material.PropertyRecord, matched []rules.Rule, findings map[run.Dimension]run.Finding) ports.PromptContext {
	return ports.PromptContext{
		Purpose:    ports.PurposeAnalysis,
		Formula:    formula,
		Properties: rec,
		Rules:      Facts(matched),
		Findings:   FindingText(findings),
	}
}

// HypothesisPrompt builds the generator input for the hypothesis narrative
func HypothesisPrompt(formula string, rec material.PropertyRecord, matched []rules.Rule, findings map[run.Dimension]run.Finding, hs []run.Hypothesis) ports.PromptContext {
	candidates := make([]string, len(hs))
	for i, h := range hs {
		candidates[i] = h.Application
	}
	return ports.PromptContext{
		Purpose:    ports.PurposeHypothesis,
		Formula:    formula,
		Properties: rec,
		Rules:      Facts(matched),
		Findings:   FindingText(findings),
		Candidates: candidates,
	}
}
