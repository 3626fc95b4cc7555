package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/internal/rulestore"
)

func tagged(r rules.Rule, apps ...string) rules.Rule {
	r.Applications = apps
	return r
}

func scoringCatalog(t *testing.T) *rulestore.Store {
	return rulestore.FromRules(
		tagged(rule(t, "pv_window", rules.CategoryElectronic, "band_gap in [1.1, 1.7]", 0.85), "photovoltaics"),
		tagged(rule(t, "pv_weak", rules.CategoryElectronic, "band_gap > 0", 0.5), "photovoltaics"),
		tagged(rule(t, "opto_gap", rules.CategoryElectronic, "band_gap > 3", 1.0), "optoelectronics"),
		rule(t, "hull_stable", rules.CategoryStability, "energy_above_hull < 0.05", 0.9),
		rule(t, "negative_formation", rules.CategoryStability, "formation_energy < 0", 0.8),
		rule(t, "ionic_pair", rules.CategorySynthesis, "delta_chi_max > 1.7", 0.7),
	)
}

func TestScoreDomain(t *testing.T) {
	m := New(scoringCatalog(t))
	good := material.PropertyRecord{
		"band_gap":          material.Number(1.4),
		"energy_above_hull": material.Number(0),
		"formation_energy":  material.Number(-1.5),
	}
	bad := material.PropertyRecord{
		"band_gap":          material.Number(4.0),
		"energy_above_hull": material.Number(0.3),
		"formation_energy":  material.Number(0.2),
	}
	bare := material.PropertyRecord{"density": material.Number(3)}

	tests := []struct {
		name        string
		rec         material.PropertyRecord
		domain      string
		overall     float64
		domainScore float64
		stability   float64
		property    float64
		synthesis   float64
		matched     []core.RuleID
		violated    []core.RuleID
		unevaluated int
		verdict     string
	}{
		{"good absorber", good, "photovoltaics", 1.0, 1.0, 1.0, 1.0, 0.5,
			[]core.RuleID{"hull_stable", "pv_window", "negative_formation"}, nil, 1, "strong alignment"},
		{"poor absorber", bad, "Photovoltaics", 0.1, 0, 0, 0, 0.5,
			nil, []core.RuleID{"hull_stable", "pv_window", "negative_formation"}, 1, "poor alignment"},
		{"nothing evaluable", bare, "photovoltaics", 0.6, 0.5, 0.5, 0.5, 0.5,
			nil, nil, 4, "meets most criteria"},
		{"unknown domain uses general weights", good, "aerospace", 0.75, 0.5, 1.0, 0.5, 0.5,
			[]core.RuleID{"hull_stable", "negative_formation"}, nil, 1, "meets most criteria"},
		{"general domain", good, "", 0.9, 1.0, 1.0, 0.5, 0.5,
			[]core.RuleID{"hull_stable", "negative_formation"}, nil, 1, "strong alignment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := m.Score(tt.rec, tt.domain)
			assert.InDelta(t, tt.overall, card.Overall, 1e-9)
			assert.InDelta(t, tt.domainScore, card.DomainScore, 1e-9)
			assert.InDelta(t, tt.stability, card.Stability, 1e-9)
			assert.InDelta(t, tt.property, card.Property, 1e-9)
			assert.InDelta(t, tt.synthesis, card.Synthesis, 1e-9)
			assert.Equal(t, tt.matched, nilIfEmpty(rules.MatchIDs(card.Matched)))
			assert.Equal(t, tt.violated, nilIfEmpty(rules.MatchIDs(card.Violated)))
			assert.Equal(t, len(tt.matched), card.MatchedCount)
			assert.Equal(t, len(tt.violated), card.ViolatedCount)
			assert.Equal(t, card.MatchedCount+card.ViolatedCount, card.Evaluated)
			assert.Equal(t, tt.unevaluated, card.Unevaluated)
			assert.Contains(t, card.Reasoning, tt.verdict)
		})
	}
}

func nilIfEmpty(ids []core.RuleID) []core.RuleID {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func TestScoreExcludesWeakAndForeignRules(t *testing.T) {
	card := New(scoringCatalog(t)).Score(material.PropertyRecord{"band_gap": material.Number(3.5)}, "photovoltaics")
	ids := append(rules.MatchIDs(card.Matched), rules.MatchIDs(card.Violated)...)
	assert.NotContains(t, ids, core.RuleID("pv_weak"), "below the confidence floor")
	assert.NotContains(t, ids, core.RuleID("opto_gap"), "tagged for another domain")
	assert.Equal(t, "photovoltaics", card.Domain)
	w, ok := WeightsFor("photovoltaics")
	require.True(t, ok)
	assert.Equal(t, w, card.Weights)
}

func TestScoreIgnoresMistypedFields(t *testing.T) {
	store := rulestore.FromRules(tagged(rule(t, "not_wide", rules.CategoryElectronic, "not (band_gap > 3)", 0.9), "photovoltaics"))
	card := New(store).Score(material.PropertyRecord{"band_gap": material.Text("n/a")}, "photovoltaics")
	assert.Zero(t, card.Evaluated)
	assert.Equal(t, 1, card.Unevaluated)
	assert.Empty(t, New(store).Match(material.PropertyRecord{"band_gap": material.Text("n/a")}, rules.NewCategorySet(rules.AllCategories...)))
}

func TestScoreIsDeterministic(t *testing.T) {
	m := New(scoringCatalog(t))
	rec := material.PropertyRecord{"band_gap": material.Number(1.2), "energy_above_hull": material.Number(0.2)}
	first := m.Score(rec, "photovoltaics")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.Score(rec, "photovoltaics"))
	}
}

func TestStabilityFromRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  material.PropertyRecord
		want float64
	}{
		{"no energies", material.PropertyRecord{}, 0.5},
		{"strongly bound on hull", material.PropertyRecord{"formation_energy": material.Number(-1.5), "energy_above_hull": material.Number(0)}, 0.9},
		{"weakly bound near hull", material.PropertyRecord{"formation_energy": material.Number(-0.2), "energy_above_hull": material.Number(0.07)}, 0.7},
		{"unbound far above hull", material.PropertyRecord{"formation_energy": material.Number(0.3), "energy_above_hull": material.Number(0.4)}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, stabilityFromRecord(tt.rec), 1e-9)
		})
	}
}

func TestWeightedDomains(t *testing.T) {
	assert.Equal(t, []string{"battery", "general", "optoelectronics", "photovoltaics", "structural", "thermoelectric"}, WeightedDomains())
	w, ok := WeightsFor("  Battery ")
	assert.True(t, ok)
	assert.Equal(t, 0.35, w.Stability)
	_, ok = WeightsFor("aerospace")
	assert.False(t, ok)
}

type swappableSource struct{ snap *rulestore.Snapshot }

func (s *swappableSource) Snapshot() *rulestore.Snapshot { return s.snap }

func TestPinnedViewIgnoresLaterSnapshots(t *testing.T) {
	src := &swappableSource{snap: scoringCatalog(t).Snapshot()}
	m := New(src)
	view := m.Pin()

	src.snap = rulestore.FromRules().Snapshot()

	rec := material.PropertyRecord{"energy_above_hull": material.Number(0)}
	cats := rules.NewCategorySet(rules.CategoryStability)
	assert.Empty(t, m.MatchRules(rec, cats))
	assert.Len(t, view.MatchRules(rec, cats), 1)
	_, ok := view.Get("hull_stable")
	assert.True(t, ok)
	_, ok = m.Get("hull_stable")
	assert.False(t, ok)
	assert.Equal(t, 1, view.Score(rec, "general").MatchedCount)
}
