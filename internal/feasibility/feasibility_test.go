package feasibility

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/verdict"
	"gomatter/internal"
	"gomatter/internal/errors"
	"gomatter/internal/matcher"
	"gomatter/internal/rulestore"
	"gomatter/ports"
)

type stubPredictor struct {
	mu       sync.Mutex
	energies map[string]float64
	fallback float64
	err      error
	calls    []string
}

func (p *stubPredictor) PredictEnergy(_ context.Context, sd ports.StructureDescriptor) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, sd.Prototype)
	if p.err != nil {
		return 0, p.err
	}
	if e, ok := p.energies[sd.Prototype]; ok {
		return e, nil
	}
	return p.fallback, nil
}

type stubReferences struct {
	phases []ports.ReferencePhase
	err    error
}

func (s stubReferences) CompetingPhases(context.Context, []string) ([]ports.ReferencePhase, error) {
	return s.phases, s.err
}

func evidenceRules(t *testing.T) *rulestore.Store {
	t.Helper()
	mk := func(id string, cat rules.Category, pred string, conf float64) rules.Rule {
		e, err := rules.ParsePredicate(pred)
		require.NoError(t, err)
		return rules.Rule{ID: core.RuleID(id), Category: cat, Predicate: e, PredicateText: e.String(), Statement: id, Confidence: conf}
	}
	return rulestore.FromRules(
		mk("rule_charge_balance", rules.CategorySynthesis, "charge_neutral == false", 0.95),
		mk("rule_ionic_pair", rules.CategorySynthesis, "delta_chi_max > 1.7", 0.7),
		mk("rule_hull_stable", rules.CategoryStability, "energy_above_hull < 0.05", 0.9),
		mk("rule_negative_formation", rules.CategoryStability, "formation_energy < 0", 0.8),
		mk("rule_band_gap", rules.CategoryElectronic, "band_gap > 3.0", 1.0),
	)
}

func newEngine(t *testing.T, pred ports.EnergyPredictor, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(internal.NewNopLogger())}, opts...)
	return NewEngine(DefaultConfig(), matcher.New(evidenceRules(t)), pred, opts...)
}

func TestChargeNeutralityVeto(t *testing.T) {
	pred := &stubPredictor{fallback: -1}
	res, err := newEngine(t, pred).Evaluate(context.Background(), "Cu2N5")
	require.NoError(t, err)

	assert.Equal(t, verdict.NotFeasible, res.Assessment.Verdict)
	assert.Equal(t, verdict.BasisChemicalFilter, res.Assessment.Basis)
	assert.Equal(t, "charge_neutrality", res.Assessment.FailedFilter)
	assert.Equal(t, []core.RuleID{"rule_charge_balance"}, rules.MatchIDs(res.Matches))
	assert.Contains(t, res.ValidationReason, "rule_charge_balance")
	assert.True(t, res.Vetoed())
	assert.Empty(t, pred.calls, "no energy prediction after a veto")
}

func TestVetoWithoutRulesStillNotFeasible(t *testing.T) {
	e := NewEngine(DefaultConfig(), matcher.New(rulestore.FromRules()), &stubPredictor{}, WithLogger(internal.NewNopLogger()))
	res, err := e.Evaluate(context.Background(), "Cu2N5")
	require.NoError(t, err)
	assert.Equal(t, verdict.NotFeasible, res.Assessment.Verdict)
	assert.Empty(t, res.Matches)
	assert.NotEmpty(t, res.ValidationReason)
}

func TestEvaluateWithCitesFromGivenRules(t *testing.T) {
	e := newEngine(t, &stubPredictor{fallback: -1})
	pinned := matcher.New(rulestore.FromRules()).Pin()

	res, err := e.EvaluateWith(context.Background(), "Cu2N5", pinned)
	require.NoError(t, err)
	assert.Equal(t, verdict.NotFeasible, res.Assessment.Verdict)
	assert.Empty(t, res.Matches, "the engine's own rules are not consulted")

	res, err = e.EvaluateWith(context.Background(), "Cu2N5", nil)
	require.NoError(t, err)
	assert.Equal(t, []core.RuleID{"rule_charge_balance"}, rules.MatchIDs(res.Matches))
}

func TestChargeNeutralityFilter(t *testing.T) {
	tests := []struct {
		formula string
		want    bool
	}{
		{"NaCl", true},
		{"MgO", true},
		{"Fe3O4", true},
		{"Al2O3", true},
		{"SrTiO3", true},
		{"H2O", true},
		{"CH4", true},
		{"Fe", true},
		{"Cu3Au", true},
		{"Cu2N5", false},
		{"NaCl2", false},
		{"KrF2", false},
	}
	f := ChargeNeutralityFilter{}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			comp, err := material.ParseFormula(tt.formula)
			require.NoError(t, err)
			out := f.Check(comp, AssignRoles(comp))
			assert.Equal(t, tt.want, out.Passed, out.Reason)
			v, ok := out.Evidence.Get(FieldChargeNeutral)
			require.True(t, ok)
			assert.Equal(t, tt.want, v.Bool)
		})
	}
}

func TestElectronegativityFilter(t *testing.T) {
	nacl, _ := material.ParseFormula("NaCl")
	out := DefaultElectronegativityFilter().Check(nacl, AssignRoles(nacl))
	assert.True(t, out.Passed)
	d, _ := out.Evidence.Number(FieldDeltaChiMax)
	assert.InDelta(t, 2.23, d, 1e-9)

	out = ElectronegativityFilter{MinDelta: 0, MaxDelta: 2.0}.Check(nacl, AssignRoles(nacl))
	assert.False(t, out.Passed)
	assert.Contains(t, out.Reason, "Na-Cl")

	heo, _ := material.ParseFormula("HeO")
	out = DefaultElectronegativityFilter().Check(heo, AssignRoles(heo))
	assert.False(t, out.Passed)
	assert.Contains(t, out.Reason, "He")
}

func TestRadiusModels(t *testing.T) {
	nacl, _ := material.ParseFormula("NaCl")
	roles := AssignRoles(nacl)

	out := UnscoredRadiusModel{}.Assess(nacl, roles)
	assert.True(t, out.Passed)
	r, ok := out.Evidence.Number(FieldRadiusRatio)
	require.True(t, ok)
	assert.InDelta(t, 0.564, r, 1e-9)

	assert.True(t, BoundedRadiusModel{Min: 0.414, Max: 0.732}.Assess(nacl, roles).Passed)
	assert.False(t, BoundedRadiusModel{Min: 0.732, Max: 1.0}.Assess(nacl, roles).Passed)
}

func TestRadiusVetoThroughEngine(t *testing.T) {
	pred := &stubPredictor{fallback: -1}
	e := newEngine(t, pred, WithRadiusModel(BoundedRadiusModel{Min: 0.732, Max: 1.0}))
	res, err := e.Evaluate(context.Background(), "NaCl")
	require.NoError(t, err)
	assert.Equal(t, verdict.NotFeasible, res.Assessment.Verdict)
	assert.Equal(t, "radius_ratio:bounded", res.Assessment.FailedFilter)
	assert.Empty(t, pred.calls)
}

func TestPrototypes(t *testing.T) {
	tests := []struct {
		formula string
		key     string
		want    []string
	}{
		{"Fe", "1", []string{"fcc", "bcc", "hcp"}},
		{"NaCl", "1:1", []string{"rock-salt", "cesium-chloride", "zinc-blende", "wurtzite"}},
		{"MgF2", "1:2", []string{"fluorite", "rutile"}},
		{"Li2O", "2:1", []string{"anti-fluorite"}},
		{"Al2O3", "2:3", []string{"corundum", "bixbyite"}},
		{"Fe3O4", "3:4", []string{"spinel"}},
		{"SrTiO3", "1:1:3", []string{"perovskite", "ilmenite"}},
		{"MgAl2O4", "1:2:4", []string{"spinel", "inverse-spinel", "olivine"}},
		{"Mg2SiO4", "1:2:4", []string{"spinel", "inverse-spinel", "olivine"}},
		{"Cu3Au", "1:3", []string{"L1_2", "D0_19"}},
		{"Na3N", "3:1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			comp, err := material.ParseFormula(tt.formula)
			require.NoError(t, err)
			roles := AssignRoles(comp)
			key, ok := RatioKey(comp, roles)
			require.True(t, ok)
			assert.Equal(t, tt.key, key)
			got := Prototypes(comp, roles)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFractionalCountsScale(t *testing.T) {
	comp, err := material.ParseFormula("Na0.5Cl0.5")
	require.NoError(t, err)
	key, ok := RatioKey(comp, AssignRoles(comp))
	require.True(t, ok)
	assert.Equal(t, "1:1", key)
}

func TestNoPrototypeIsLowConfidenceNotFeasible(t *testing.T) {
	pred := &stubPredictor{fallback: -1}
	res, err := newEngine(t, pred).Evaluate(context.Background(), "Na3N")
	require.NoError(t, err)
	assert.Equal(t, verdict.NotFeasible, res.Assessment.Verdict)
	assert.Equal(t, verdict.BasisNoPrototype, res.Assessment.Basis)
	assert.True(t, res.Assessment.IsLowConfidence())
	assert.Empty(t, pred.calls)
}

func TestLowestEnergyPrototypeRetained(t *testing.T) {
	pred := &stubPredictor{energies: map[string]float64{"rock-salt": -2.0, "cesium-chloride": -1.8}, fallback: -1.2}
	res, err := newEngine(t, pred).Evaluate(context.Background(), "NaCl")
	require.NoError(t, err)

	assert.Equal(t, []string{"rock-salt", "cesium-chloride", "zinc-blende", "wurtzite"}, pred.calls)
	assert.Len(t, res.Estimates, 4)
	assert.Equal(t, "rock-salt", res.Assessment.Prototype)
	require.NotNil(t, res.Assessment.FormationEnergy)
	assert.Equal(t, -2.0, *res.Assessment.FormationEnergy)
}

func TestHullVerdicts(t *testing.T) {
	tests := []struct {
		name   string
		refE   float64
		want   verdict.Verdict
		aboveE float64
	}{
		{"below hull", -1.9, verdict.Feasible, -0.1},
		{"within window", -2.05, verdict.Metastable, 0.05},
		{"far above", -2.5, verdict.NotFeasible, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &stubPredictor{fallback: -2.0}
			refs := stubReferences{phases: []ports.ReferencePhase{{Formula: "NaCl", FormationEnergy: tt.refE}}}
			res, err := newEngine(t, pred, WithReferences(refs)).Evaluate(context.Background(), "NaCl")
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Assessment.Verdict)
			assert.Equal(t, verdict.BasisConvexHull, res.Assessment.Basis)
			assert.Equal(t, verdict.ConfidenceHigh, res.Assessment.Confidence)
			require.NotNil(t, res.Assessment.EnergyAboveHull)
			assert.InDelta(t, tt.aboveE, *res.Assessment.EnergyAboveHull, 1e-6)
		})
	}
}

func TestHullDecomposition(t *testing.T) {
	target, err := material.ParseFormula("Fe2O3")
	require.NoError(t, err)
	refs := []ports.ReferencePhase{
		{Formula: "FeO", FormationEnergy: -1.5},
		{Formula: "Fe3O4", FormationEnergy: -1.7},
		{Formula: "NaCl", FormationEnergy: -2.1},
	}
	hull, err := EnergyAboveHull(target, -1.6, refs)
	require.NoError(t, err)

	assert.InDelta(t, -1.7*14.0/15.0, hull.HullEnergy, 1e-6)
	assert.InDelta(t, -1.6+1.7*14.0/15.0, hull.EnergyAboveHull, 1e-6)
	assert.Contains(t, hull.Decomposition, "Fe3O4")
	assert.Contains(t, hull.Decomposition, "O")
	assert.NotContains(t, hull.Decomposition, "NaCl")
}

func TestHullWithoutCompoundReferences(t *testing.T) {
	target, _ := material.ParseFormula("NaCl")
	_, err := EnergyAboveHull(target, -1, []ports.ReferencePhase{{Formula: "Na", FormationEnergy: 0}})
	assert.ErrorIs(t, err, ErrNoReferencePhases)
}

func TestHeuristicFallback(t *testing.T) {
	tests := []struct {
		energy float64
		want   verdict.Verdict
	}{
		{-0.5, verdict.Feasible},
		{0.0, verdict.Metastable},
		{0.3, verdict.NotFeasible},
	}
	for _, tt := range tests {
		pred := &stubPredictor{fallback: tt.energy}
		res, err := newEngine(t, pred).Evaluate(context.Background(), "MgO")
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.Assessment.Verdict)
		assert.Equal(t, verdict.BasisEnergyHeuristic, res.Assessment.Basis)
		assert.True(t, res.Assessment.IsLowConfidence())
		assert.Nil(t, res.Assessment.EnergyAboveHull)
	}
}

func TestReferenceFailureDegradesToHeuristic(t *testing.T) {
	pred := &stubPredictor{fallback: -1.0}
	refs := stubReferences{err: stderrors.New("reference db down")}
	res, err := newEngine(t, pred, WithReferences(refs)).Evaluate(context.Background(), "MgO")
	require.NoError(t, err)
	assert.Equal(t, verdict.Feasible, res.Assessment.Verdict)
	assert.Equal(t, verdict.BasisEnergyHeuristic, res.Assessment.Basis)
}

func TestPredictionFailureIsFatal(t *testing.T) {
	pred := &stubPredictor{err: stderrors.New("model offline")}
	_, err := newEngine(t, pred).Evaluate(context.Background(), "MgO")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePredictionUnavailable))
	assert.Len(t, pred.calls, 1, "stops at the first failed prediction")
}

func TestNilPredictorIsUnavailable(t *testing.T) {
	_, err := newEngine(t, nil).Evaluate(context.Background(), "MgO")
	assert.True(t, errors.IsCode(err, errors.CodePredictionUnavailable))
}

func TestInvalidFormula(t *testing.T) {
	_, err := newEngine(t, &stubPredictor{}).Evaluate(context.Background(), "Xx2")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidFormula))
}

func TestCancelledBeforePrediction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pred := &stubPredictor{fallback: -1}
	_, err := newEngine(t, pred).Evaluate(ctx, "MgO")
	assert.True(t, errors.IsCode(err, errors.CodeCancelled))
	assert.Empty(t, pred.calls)
}

func TestSupportingRulesOnHullVerdict(t *testing.T) {
	pred := &stubPredictor{fallback: -2.0}
	refs := stubReferences{phases: []ports.ReferencePhase{{Formula: "NaCl", FormationEnergy: -1.9}}}
	res, err := newEngine(t, pred, WithReferences(refs)).Evaluate(context.Background(), "NaCl")
	require.NoError(t, err)

	ids := rules.MatchIDs(res.Matches)
	assert.Equal(t, []core.RuleID{"rule_hull_stable", "rule_negative_formation", "rule_ionic_pair"}, ids)
	assert.NotContains(t, ids, core.RuleID("rule_band_gap"))
	assert.Empty(t, res.ValidationReason)
}
