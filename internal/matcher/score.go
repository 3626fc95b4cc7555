package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/internal/rulestore"
)

// ScoreMinConfidence is the confidence floor for rules taking part in a score
const ScoreMinConfidence = 0.6

// neutralScore is given to a component no evaluated rule speaks to
const neutralScore = 0.5

const maxListedRules = 10

// Weights are the contributions of the component scores to the overall score
type Weights struct {
	Stability float64 `json:"stability"`
	Property  float64 `json:"property"`
	Synthesis float64 `json:"synthesis"`
	Domain    float64 `json:"domain"`
}

var domainWeights = map[string]Weights{
	"photovoltaics":   {Stability: 0.3, Property: 0.4, Synthesis: 0.2, Domain: 0.3},
	"thermoelectric":  {Stability: 0.25, Property: 0.3, Synthesis: 0.2, Domain: 0.3},
	"battery":         {Stability: 0.35, Property: 0.15, Synthesis: 0.3, Domain: 0.3},
	"optoelectronics": {Stability: 0.3, Property: 0.5, Synthesis: 0.2, Domain: 0.3},
	"structural":      {Stability: 0.3, Property: 0.5, Synthesis: 0.2, Domain: 0.3},
	"general":         {Stability: 0.4, Property: 0.1, Synthesis: 0.3, Domain: 0.3},
}

var propertyCategories = rules.NewCategorySet(rules.CategoryElectronic, rules.CategoryMechanical, rules.CategoryThermal)

// WeightsFor returns the weights of a domain; unknown domains use the general weights
// and report false.
func WeightsFor(domain string) (Weights, bool) {
	w, ok := domainWeights[rulestore.NormalizeKeyword(domain)]
	if !ok {
		return domainWeights[rulestore.GeneralApplication], false
	}
	return w, true
}

// WeightedDomains lists the domains with their own weights, sorted
func WeightedDomains() []string {
	out := make([]string, 0, len(domainWeights))
	for d := range domainWeights {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Scorecard is the fitness of one material for one application domain.
// Scores are in [0, 1] and rounded to three decimals.
type Scorecard struct {
	Domain      string  `json:"domain"`
	Weights     Weights `json:"weights"`
	Overall     float64 `json:"overall_score"`
	DomainScore float64 `json:"domain_score"`
	Stability   float64 `json:"stability_score"`
	Property    float64 `json:"property_score"`
	Synthesis   float64 `json:"synthesis_score"`

	// Matched and Violated list at most ten rules each, strongest first
	Matched  []rules.Match `json:"matched_rules"`
	Violated []rules.Match `json:"violated_rules"`

	Evaluated     int `json:"total_rules_evaluated"`
	MatchedCount  int `json:"rules_matched"`
	ViolatedCount int `json:"rules_violated"`
	// Unevaluated counts candidate rules whose fields the record lacks
	Unevaluated int `json:"rules_unevaluated"`

	Reasoning string `json:"reasoning"`
}

// ScoreSnapshot rates rec against a domain. The candidates are the rules tagged
// with the domain plus the untagged general rules, at ScoreMinConfidence or above.
// A rule holds (matched) or fails (violated) only when the record defines every
// field it reads; the rest are counted as unevaluated and affect no score.
func ScoreSnapshot(snap *rulestore.Snapshot, rec material.PropertyRecord, domain string) Scorecard {
	domain = rulestore.NormalizeKeyword(domain)
	if domain == "" {
		domain = rulestore.GeneralApplication
	}
	w, _ := WeightsFor(domain)
	card := Scorecard{Domain: domain, Weights: w, Matched: []rules.Match{}, Violated: []rules.Match{}}

	var matched, violated []rules.Rule
	for _, r := range scoreCandidates(snap, domain) {
		switch {
		case r.Predicate == nil || !rules.Applicable(r.Predicate, rec):
			card.Unevaluated++
		case r.Predicate.Eval(rec):
			matched = append(matched, r)
		default:
			violated = append(violated, r)
		}
	}

	inDomain := func(r rules.Rule) bool {
		if domain == rulestore.GeneralApplication {
			return len(r.Applications) == 0
		}
		for _, app := range r.Applications {
			if app == domain {
				return true
			}
		}
		return false
	}
	inCategories := func(cs rules.CategorySet) func(rules.Rule) bool {
		return func(r rules.Rule) bool { return cs.Contains(r.Category) }
	}

	card.DomainScore = weightedShare(matched, violated, inDomain, neutralScore)
	card.Stability = weightedShare(matched, violated, inCategories(rules.NewCategorySet(rules.CategoryStability)), stabilityFromRecord(rec))
	card.Property = weightedShare(matched, violated, inCategories(propertyCategories), neutralScore)
	card.Synthesis = weightedShare(matched, violated, inCategories(rules.NewCategorySet(rules.CategorySynthesis)), neutralScore)

	overall := card.Stability*w.Stability + card.Property*w.Property + card.Synthesis*w.Synthesis + card.DomainScore*w.Domain
	card.Overall = round3(math.Min(1, math.Max(0, overall)))
	card.DomainScore = round3(card.DomainScore)
	card.Stability = round3(card.Stability)
	card.Property = round3(card.Property)
	card.Synthesis = round3(card.Synthesis)

	card.Evaluated = len(matched) + len(violated)
	card.MatchedCount = len(matched)
	card.ViolatedCount = len(violated)
	for i, r := range matched {
		if i == maxListedRules {
			break
		}
		card.Matched = append(card.Matched, r.AsMatch())
	}
	for i, r := range violated {
		if i == maxListedRules {
			break
		}
		card.Violated = append(card.Violated, r.AsMatch())
	}
	card.Reasoning = reasoning(card, matched, violated)
	return card
}

// scoreCandidates returns the domain and general rules, deduplicated, strongest first
func scoreCandidates(snap *rulestore.Snapshot, domain string) []rules.Rule {
	pool := rulestore.AtLeast(snap.ByApplication(domain), ScoreMinConfidence)
	if domain != rulestore.GeneralApplication {
		pool = append(pool, rulestore.AtLeast(snap.ByApplication(rulestore.GeneralApplication), ScoreMinConfidence)...)
	}
	seen := make(map[string]bool, len(pool))
	out := pool[:0]
	for _, r := range pool {
		if seen[r.ID.String()] {
			continue
		}
		seen[r.ID.String()] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// weightedShare is the confidence-weighted fraction of selected rules that matched
func weightedShare(matched, violated []rules.Rule, keep func(rules.Rule) bool, fallback float64) float64 {
	var hit, total float64
	for _, r := range matched {
		if keep(r) {
			hit += r.Confidence
			total += r.Confidence
		}
	}
	for _, r := range violated {
		if keep(r) {
			total += r.Confidence
		}
	}
	if total == 0 {
		return fallback
	}
	return hit / total
}

// stabilityFromRecord scores stability from the energies alone when no stability rule applies
func stabilityFromRecord(rec material.PropertyRecord) float64 {
	score := neutralScore
	if fe, ok := rec.Number(material.PropFormationEnergy); ok {
		switch {
		case fe < -1.0:
			score += 0.2
		case fe < 0:
			score += 0.1
		}
	}
	if eh, ok := rec.Number(material.PropEnergyAboveHull); ok {
		switch {
		case eh < 0.05:
			score += 0.2
		case eh < 0.1:
			score += 0.1
		}
	}
	return math.Min(1, score)
}

func reasoning(card Scorecard, matched, violated []rules.Rule) string {
	parts := []string{fmt.Sprintf("overall score %.2f for %s", card.Overall, card.Domain)}
	if len(matched) > 0 {
		parts = append(parts, fmt.Sprintf("matched %d rules, led by %s: %s", len(matched), matched[0].ID, truncate(matched[0].Statement, 80)))
	}
	if len(violated) > 0 {
		parts = append(parts, fmt.Sprintf("violated %d rules, led by %s: %s", len(violated), violated[0].ID, truncate(violated[0].Statement, 80)))
	}
	switch {
	case card.Overall >= 0.8:
		parts = append(parts, "strong alignment with the domain rules")
	case card.Overall >= 0.6:
		parts = append(parts, "meets most criteria with some limitations")
	case card.Overall >= 0.4:
		parts = append(parts, "violates several important rules")
	default:
		parts = append(parts, "poor alignment with established rules")
	}
	return strings.Join(parts, " | ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
