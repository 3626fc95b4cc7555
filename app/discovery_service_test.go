package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/run"
	"gomatter/domain/verdict"
	"gomatter/internal"
	"gomatter/internal/errors"
	"gomatter/internal/feasibility"
	"gomatter/internal/matcher"
	"gomatter/internal/pipeline"
	"gomatter/internal/testkit"
)

type recordingSink struct {
	mu     sync.Mutex
	events []NodeEvent
}

func (r *recordingSink) Publish(ev NodeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) all() []NodeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NodeEvent(nil), r.events...)
}

type fixture struct {
	db   *testkit.FakeDatabase
	pred *testkit.FakePredictor
	sink *recordingSink
	svc  *DiscoveryService
}

func newFixture(t *testing.T, concurrency int) *fixture {
	t.Helper()
	store := testkit.CatalogStore()
	f := &fixture{
		db:   testkit.NewFakeDatabase(testkit.KnownMaterials()),
		pred: testkit.NewFakePredictor(-1.0, nil),
		sink: &recordingSink{},
	}
	m := matcher.New(store)
	engine := feasibility.NewEngine(feasibility.DefaultConfig(), m, f.pred, feasibility.WithLogger(internal.NewNopLogger()))
	orch := pipeline.New(f.db, testkit.NewFakeGenerator(), m, engine, pipeline.WithLogger(internal.NewNopLogger()))
	f.svc = NewDiscoveryService(orch, store, f.sink, concurrency, internal.NewNopLogger(), WithScoring(f.db, m))
	return f
}

func TestRun(t *testing.T) {
	f := newFixture(t, 2)

	s, err := f.svc.Run(context.Background(), RunRequest{Formula: "  NaCl ", SessionID: "s1"})
	require.NoError(t, err)
	require.NotNil(t, s.Report)
	assert.Equal(t, "NaCl", s.Formula)

	events := f.sink.all()
	require.Len(t, events, len(s.Path))
	for i, ev := range events {
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, s.Path[i], ev.Node)
		assert.Len(t, ev.Path, i+1)
		assert.False(t, ev.Failed)
	}
}

func TestRunWithoutSessionPublishesNothing(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Run(context.Background(), RunRequest{Formula: "MgO"})
	require.NoError(t, err)
	assert.Empty(t, f.sink.all())
}

func TestRunRejectsBlankFormula(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Run(context.Background(), RunRequest{Formula: "   "})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestRunBatchKeepsOrderAndSummarizes(t *testing.T) {
	f := newFixture(t, 3)
	formulas := []string{"NaCl", "Cu2N5", "MgO", "LiF", "Xx", "Si"}

	res, err := f.svc.RunBatch(context.Background(), BatchRequest{Formulas: formulas, SessionID: "batch"})
	require.NoError(t, err)
	require.Len(t, res.Items, len(formulas))
	for i, it := range res.Items {
		assert.Equal(t, formulas[i], it.Formula)
		assert.Equal(t, formulas[i], it.State.Formula)
		assert.True(t, it.State.Completed())
	}

	sum := res.Summary
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 5, sum.Completed)
	assert.Equal(t, 1, sum.ByErrorKind[string(run.ErrInvalidFormula)])
	assert.Equal(t, 3, sum.DatabaseHits)
	assert.Equal(t, 1, sum.ByVerdict[string(verdict.NotFeasible)], "Cu2N5 is vetoed")
	assert.Equal(t, 2, sum.ByVerdict[string(verdict.NotFeasible)]+sum.ByVerdict[string(verdict.Feasible)]+sum.ByVerdict[string(verdict.Metastable)])

	var last float64
	for _, ev := range f.sink.all() {
		assert.Equal(t, "batch", ev.SessionID)
		assert.GreaterOrEqual(t, ev.Progress, 0.0)
		assert.LessOrEqual(t, ev.Progress, 1.0)
		if ev.Progress > last {
			last = ev.Progress
		}
	}
	assert.Less(t, last, 1.0, "progress is sampled before the run that emits it finishes")
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	f := newFixture(t, 2)
	formulas := []string{"NaCl", "MgO", "Si", "Cu", "NaCl", "MgO", "Si", "Cu"}

	_, err := f.svc.RunBatch(context.Background(), BatchRequest{Formulas: formulas})
	require.NoError(t, err)
	assert.Equal(t, len(formulas), f.db.Calls())
	assert.LessOrEqual(t, f.db.MaxInFlight(), 2)
}

func TestRunBatchCancelled(t *testing.T) {
	f := newFixture(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.svc.RunBatch(ctx, BatchRequest{Formulas: []string{"NaCl", "MgO"}})
	require.NoError(t, err)
	for _, it := range res.Items {
		require.NotNil(t, it.State.Error)
		assert.Equal(t, run.ErrCancelled, it.State.Error.Kind)
	}
	assert.Equal(t, 2, res.Summary.ByErrorKind[string(run.ErrCancelled)])
}

func TestRunBatchValidation(t *testing.T) {
	f := newFixture(t, 1)
	tests := []struct {
		name     string
		formulas []string
	}{
		{"empty", nil},
		{"blank entry", []string{"NaCl", " "}},
		{"too many", make([]string, MaxBatchSize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RunBatch(context.Background(), BatchRequest{Formulas: tt.formulas})
			assert.True(t, errors.IsCode(err, errors.CodeInvalidInput), "got %v", err)
		})
	}
}

func TestListRules(t *testing.T) {
	f := newFixture(t, 1)

	tests := []struct {
		name  string
		query RuleQuery
		want  []string
	}{
		{"category", RuleQuery{Category: "stability"},
			[]string{"rule_hull_stable", "rule_hull_metastable", "rule_negative_formation"}},
		{"category and keyword", RuleQuery{Category: "electronic", Keyword: "band_gap"},
			[]string{"rule_wide_gap_optoelectronics", "rule_semiconductor", "rule_metallic"}},
		{"application", RuleQuery{Application: " Optoelectronics"},
			[]string{"rule_wide_gap_optoelectronics"}},
		{"general application", RuleQuery{Application: "general", Category: "synthesis"},
			[]string{"rule_charge_balance", "rule_ionic_pair"}},
		{"property", RuleQuery{Property: "energy_above_hull", Category: "application"},
			[]string{"rule_uv_detector"}},
		{"min confidence", RuleQuery{MinConfidence: 0.9},
			[]string{"rule_wide_gap_optoelectronics", "rule_hull_stable", "rule_charge_balance"}},
		{"no match", RuleQuery{Application: "aerospace"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := f.svc.ListRules(tt.query)
			require.NoError(t, err)
			got := make([]string, 0, len(rs))
			for _, r := range rs {
				got = append(got, r.ID.String())
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	all, err := f.svc.ListRules(RuleQuery{})
	require.NoError(t, err)
	assert.Len(t, all, len(testkit.CatalogRules()))
	for _, r := range all {
		assert.Contains(t, rules.AllCategories, r.Category)
	}

	for _, bad := range []RuleQuery{{Category: "alchemy"}, {MinConfidence: 1.5}, {MinConfidence: -0.1}} {
		_, err := f.svc.ListRules(bad)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidInput), "query %+v: %v", bad, err)
	}
}

func TestScoreMaterial(t *testing.T) {
	f := newFixture(t, 1)

	res, err := f.svc.ScoreMaterial(context.Background(), ScoreRequest{Formula: " NaCl ", Domain: "optoelectronics"})
	require.NoError(t, err)
	assert.Equal(t, "NaCl", res.Formula)
	assert.Equal(t, SourceDatabase, res.Source)
	assert.Equal(t, "optoelectronics", res.Scorecard.Domain)
	assert.InDelta(t, 1.0, res.Scorecard.Overall, 1e-9)
	assert.Equal(t, 2, res.Scorecard.MatchedCount)
	assert.Equal(t, 1, res.Scorecard.ViolatedCount)

	general, err := f.svc.ScoreMaterial(context.Background(), ScoreRequest{Formula: "NaCl"})
	require.NoError(t, err)
	assert.Equal(t, "general", general.Scorecard.Domain)
	assert.InDelta(t, 0.62, general.Scorecard.Overall, 1e-9)

	given, err := f.svc.ScoreMaterial(context.Background(), ScoreRequest{
		Formula:    "Unobtainium",
		Domain:     "photovoltaics",
		Properties: material.PropertyRecord{material.PropBandGap: material.Number(1.4)},
	})
	require.NoError(t, err)
	assert.Equal(t, SourceRequest, given.Source)
	assert.Equal(t, []core.RuleID{"rule_semiconductor"}, rules.MatchIDs(given.Scorecard.Matched))

	_, err = f.svc.ScoreMaterial(context.Background(), ScoreRequest{Formula: "Unobtainium"})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)

	_, err = f.svc.ScoreMaterial(context.Background(), ScoreRequest{Formula: "  "})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput), "got %v", err)

	bare := NewDiscoveryService(nil, testkit.CatalogStore(), nil, 1, internal.NewNopLogger())
	_, err = bare.ScoreMaterial(context.Background(), ScoreRequest{Formula: "NaCl"})
	assert.True(t, errors.IsCode(err, errors.CodeInternalError), "got %v", err)
}

func TestRuleStatsAndReload(t *testing.T) {
	f := newFixture(t, 1)
	st := f.svc.RuleStats()
	assert.Equal(t, len(testkit.CatalogRules()), st.TotalRules)

	reloaded, err := f.svc.ReloadRules()
	require.NoError(t, err)
	assert.Equal(t, st.TotalRules, reloaded.TotalRules)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.MeanDurationMs)
}
