package container

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomatter/app"
	"gomatter/domain/material"
	"gomatter/domain/run"
	"gomatter/internal"
	"gomatter/internal/config"
	"gomatter/internal/testkit"
)

const testRules = `[
  {"id": "rule_wide_gap", "category": "electronic", "predicate": "band_gap > 3.0",
   "statement": "Wide band gap materials are transparent to visible light", "confidence": 1.0,
   "applications": ["optoelectronics"]},
  {"id": "rule_hull", "category": "stability", "predicate": "energy_above_hull < 0.05",
   "statement": "Compounds near the convex hull are stable", "confidence": 0.9}
]`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extracted_rules.json"), []byte(testRules), 0o644))

	cfg := config.Default()
	cfg.Rules.Dir = dir
	cfg.Database.URL = ":memory:"
	return cfg
}

func newContainer(t *testing.T, cfg *config.Config) *Container {
	t.Helper()
	c, err := New(context.Background(), cfg, internal.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestNewWiresDatabaseHitRun(t *testing.T) {
	c := newContainer(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, c.Materials.Upsert(ctx, "NaCl", material.PropertyRecord{
		material.PropBandGap:         material.Number(5.0),
		material.PropEnergyAboveHull: material.Number(0),
	}))

	s, err := c.Discovery.Run(ctx, app.RunRequest{Formula: "NaCl"})
	require.NoError(t, err)
	require.NotNil(t, s.Report)
	assert.Nil(t, s.Error)
	require.NotNil(t, s.FoundInDatabase)
	assert.True(t, *s.FoundInDatabase)
	assert.Len(t, s.MatchedRules, 2)
	assert.Equal(t, 2, c.Discovery.RuleStats().TotalRules)
}

func TestNewWithoutEnergyServiceFailsPrediction(t *testing.T) {
	c := newContainer(t, testConfig(t))

	s, err := c.Discovery.Run(context.Background(), app.RunRequest{Formula: "LiF"})
	require.NoError(t, err)
	require.NotNil(t, s.Error)
	assert.Equal(t, run.ErrPredictionUnavailable, s.Error.Kind)
	assert.Nil(t, s.Report, "a failed run carries an error, never a report")
	require.NotNil(t, s.Artifact, "failed runs still render an artifact")
	assert.Equal(t, run.ArtifactError, s.Artifact.Status)
}

func TestNewWithEnergyService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"formation_energy_per_atom": -1.2}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Energy.ServiceURL = srv.URL
	c := newContainer(t, cfg)

	s, err := c.Discovery.Run(context.Background(), app.RunRequest{Formula: "LiF"})
	require.NoError(t, err)
	assert.Nil(t, s.Error)
	assert.NotNil(t, s.Verdict)
	assert.NotNil(t, s.Assessment)
}

func TestNewLoadsReferencePhasesFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phases:\n  - formula: Li2O\n    formation_energy: -2.07\n"), 0o644))
	cfg.Reference.PhasesFile = path

	c := newContainer(t, cfg)
	phases, err := c.References.CompetingPhases(context.Background(), []string{"Li", "O"})
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, "Li2O", phases[0].Formula)
}

func TestNewRejectsMissingPhasesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reference.PhasesFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, internal.NewNopLogger())
	assert.Error(t, err)
}

func TestNewToleratesEmptyRuleDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rules.Dir = t.TempDir()

	c := newContainer(t, cfg)
	assert.Zero(t, c.Rules.Snapshot().Len())
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, internal.NewNopLogger())
	assert.Error(t, err)
}

func TestStartRuleWatcherDisabled(t *testing.T) {
	c := newContainer(t, testConfig(t))
	require.NoError(t, c.StartRuleWatcher(context.Background()))
	assert.Nil(t, c.stopWatcher)
}

func TestExportRules(t *testing.T) {
	c := newContainer(t, testConfig(t))
	var buf bytes.Buffer
	require.NoError(t, c.ExportRules(&buf))
	assert.Greater(t, buf.Len(), 0)
	assert.NotNil(t, c.NewServer())
}

func TestSyntheticCatalogBatch(t *testing.T) {
	c := newContainer(t, testConfig(t))
	ctx := context.Background()

	catalog := testkit.NewCatalogGenerator(testkit.DefaultCatalogConfig()).Generate()
	formulas := make([]string, 0, len(catalog))
	for _, m := range catalog {
		require.NoError(t, c.Materials.Upsert(ctx, m.Formula, m.Record))
		formulas = append(formulas, m.Formula)
	}
	n, err := c.Materials.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(catalog), n)

	res, err := c.Discovery.RunBatch(ctx, app.BatchRequest{Formulas: formulas})
	require.NoError(t, err)
	assert.Equal(t, len(catalog), res.Summary.Total)
	assert.Equal(t, len(catalog), res.Summary.DatabaseHits)
	assert.Empty(t, res.Summary.ByVerdict, "known materials never reach the feasibility engine")
}
