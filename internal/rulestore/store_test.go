package rulestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomatter/domain/core"
	"gomatter/domain/rules"
	"gomatter/internal"
	"gomatter/internal/errors"
)

func TestApplicationAndPropertyLookups(t *testing.T) {
	snap := openSample(t).Snapshot()

	assert.Equal(t, []string{GeneralApplication, "optoelectronics", "photovoltaics"}, snap.Applications())
	assert.Equal(t, []core.RuleID{"rule_000007"}, ids(snap.ByApplication("Photovoltaics")))
	assert.Equal(t, []core.RuleID{"rule_wide_gap"}, ids(snap.ByApplication("optoelectronics")))
	assert.Len(t, snap.ByApplication(GeneralApplication), 2, "untagged rules are general")
	assert.Empty(t, snap.ByApplication("battery"))

	assert.Equal(t, []core.RuleID{"rule_000007", "rule_wide_gap"}, ids(snap.ByProperty("band_gap")))
	assert.Len(t, snap.ByProperty("charge_neutral"), 1)
	assert.Empty(t, snap.ByProperty("density"))

	strong := AtLeast(snap.All(), 0.9)
	assert.Len(t, strong, 3)
	for _, r := range strong {
		assert.GreaterOrEqual(t, r.Confidence, 0.9)
	}
}

func ids(rs []rules.Rule) []core.RuleID {
	out := make([]core.RuleID, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

const sampleRules = `[
  {"id": "rule_wide_gap", "category": "electronic", "predicate": "band_gap > 3.0",
   "statement": "Wide band gap materials are transparent insulators suited to optoelectronics",
   "confidence": 1.0, "citation": "Handbook of Optical Materials", "applications": ["optoelectronics"]},
  {"id": "rule_hull", "category": "stability", "predicate": "energy_above_hull < 0.05",
   "statement": "Compounds within 50 meV/atom of the convex hull are thermodynamically stable",
   "confidence": 0.9, "source_paper_id": "p1"},
  {"rule_id": 7, "rule_type": "band_gap", "property": "band_gap", "operator": "in_range",
   "range_start": 1.1, "range_end": 1.7, "rule_text": "Band gaps between 1.1 and 1.7 eV are optimal for photovoltaic absorbers",
   "statistical_confidence": 0.8, "domain": "photovoltaics", "supported_by_papers": ["p1", "p2"]},
  {"category": "synthesis", "predicate": "charge_neutral == false",
   "statement": "Compositions that cannot balance oxidation states are not synthesizable", "confidence": 0.95},
  {"id": "rule_bad_category", "category": "astrology", "predicate": "band_gap > 1", "statement": "x", "confidence": 0.5},
  {"id": "rule_bad_predicate", "category": "electronic", "predicate": "band_gap >", "statement": "x", "confidence": 0.5},
  {"id": "rule_bad_confidence", "category": "electronic", "predicate": "band_gap > 1", "statement": "x", "confidence": 1.5},
  {"id": "rule_hull", "category": "stability", "predicate": "energy_above_hull < 1", "statement": "duplicate", "confidence": 0.1}
]`

const sampleMetadata = `{"p1": {"title": "Thermodynamic stability of inorganic compounds", "url": "https://example.org/p1"}}`

const sampleIndex = `{
  "category": {"stability": ["rule_hull", "rule_missing"]},
  "keyword": {"Transparency": ["rule_wide_gap"], "ghost": ["rule_missing"]},
  "property": {"band_gap": [7]}
}`

func writeRuleFiles(t *testing.T, dir, rulesJSON, metaJSON, indexJSON string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RulesFile), []byte(rulesJSON), 0o644))
	if metaJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(metaJSON), 0o644))
	}
	if indexJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte(indexJSON), 0o644))
	}
}

func openSample(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	writeRuleFiles(t, dir, sampleRules, sampleMetadata, sampleIndex)
	store, err := Open(dir, WithLogger(internal.NewNopLogger()))
	require.NoError(t, err)
	return store
}

func TestOpenNormalizesRecords(t *testing.T) {
	store := openSample(t)

	all := store.All()
	require.Len(t, all, 4, "invalid and duplicate records are skipped")

	wide, ok := store.Get("rule_wide_gap")
	require.True(t, ok)
	assert.Equal(t, rules.CategoryElectronic, wide.Category)
	assert.Equal(t, 1.0, wide.Confidence)
	assert.Equal(t, []string{"optoelectronics"}, wide.Applications)

	legacy, ok := store.Get("rule_000007")
	require.True(t, ok, "integer rule ids are zero padded")
	assert.Equal(t, rules.CategoryElectronic, legacy.Category)
	assert.Equal(t, 0.8, legacy.Confidence)
	assert.Equal(t, "band_gap in [1.1, 1.7]", legacy.PredicateText)
	assert.Equal(t, []string{"photovoltaics"}, legacy.Applications)
	assert.True(t, legacy.CrossValidated())

	hull, ok := store.Get("rule_hull")
	require.True(t, ok)
	assert.Equal(t, 0.9, hull.Confidence, "the first of two duplicate ids wins")
	assert.Equal(t, "Thermodynamic stability of inorganic compounds (https://example.org/p1)", hull.Citation)

	synthesis := store.ByCategory(rules.CategorySynthesis)
	require.Len(t, synthesis, 1)
	assert.Equal(t, core.ContentRuleID(synthesis[0].Statement, synthesis[0].PredicateText), synthesis[0].ID)
}

func TestIndexLookups(t *testing.T) {
	store := openSample(t)

	stability := store.ByCategory(rules.CategoryStability)
	require.Len(t, stability, 1)
	assert.Equal(t, core.RuleID("rule_hull"), stability[0].ID)

	assert.Len(t, store.ByCategory(rules.CategoryElectronic), 2)
	assert.Empty(t, store.ByCategory(rules.CategoryThermal))

	byWord := store.ByKeyword("Transparent")
	require.Len(t, byWord, 1)
	assert.Equal(t, core.RuleID("rule_wide_gap"), byWord[0].ID)

	assert.Len(t, store.ByKeyword("transparency"), 1, "persisted keyword entries are merged")
	assert.Len(t, store.ByKeyword("band_gap"), 2, "predicate fields are keywords")
	assert.Empty(t, store.ByKeyword("ghost"), "unknown ids in the persisted index are ignored")
}

func TestOpenCorrupt(t *testing.T) {
	dir := t.TempDir()
	writeRuleFiles(t, dir, `[{"id": "rule_a",`, "", "")

	store, err := Open(dir, WithLogger(internal.NewNopLogger()))
	require.Error(t, err)
	assert.Nil(t, store)
	assert.Equal(t, errors.CodeRuleStoreCorrupt, errors.GetCode(err))
}

func TestOpenCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	writeRuleFiles(t, dir, sampleRules, "", `{"category": [}`)

	_, err := Open(dir, WithLogger(internal.NewNopLogger()))
	assert.Equal(t, errors.CodeRuleStoreCorrupt, errors.GetCode(err))
}

func TestOpenEmpty(t *testing.T) {
	for name, content := range map[string]string{"empty array": "[]", "wrapped": `{"rules": []}`, "blank": "  "} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeRuleFiles(t, dir, content, "", "")

			store, err := Open(dir, WithLogger(internal.NewNopLogger()))
			require.NotNil(t, store)
			assert.Equal(t, errors.CodeRuleStoreEmpty, errors.GetCode(err))
			assert.Empty(t, store.All())
			assert.Empty(t, store.ByCategory(rules.CategoryElectronic))
		})
	}
}

func TestOpenMissingDirectoryIsEmpty(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nope"), WithLogger(internal.NewNopLogger()))
	require.NotNil(t, store)
	assert.Equal(t, errors.CodeRuleStoreEmpty, errors.GetCode(err))
}

func TestMinConfidenceFilter(t *testing.T) {
	dir := t.TempDir()
	writeRuleFiles(t, dir, sampleRules, sampleMetadata, "")
	store, err := Open(dir, WithLogger(internal.NewNopLogger()), WithMinConfidence(0.92))
	require.NoError(t, err)
	assert.Len(t, store.All(), 2)
}

func TestRebuildKeepsSnapshotOnCorruption(t *testing.T) {
	dir := t.TempDir()
	writeRuleFiles(t, dir, sampleRules, sampleMetadata, sampleIndex)
	store, err := Open(dir, WithLogger(internal.NewNopLogger()))
	require.NoError(t, err)
	before := store.Snapshot()

	writeRuleFiles(t, dir, "not json", "", "")
	err = store.Rebuild()
	assert.Equal(t, errors.CodeRuleStoreCorrupt, errors.GetCode(err))
	assert.Same(t, before, store.Snapshot())
}

func TestRebuildIsIdempotent(t *testing.T) {
	store := openSample(t)
	before := store.All()
	require.NoError(t, store.Rebuild())
	after := store.All()

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].PredicateText, after[i].PredicateText)
	}
	assert.Equal(t, int64(2), store.Snapshot().Version())
}

// TestConcurrentRebuildAndReads flips the rule file between two catalogs while readers
// check that every snapshot they observe is internally consistent.
func TestConcurrentRebuildAndReads(t *testing.T) {
	dir := t.TempDir()
	small := `[{"id": "rule_a", "category": "electronic", "predicate": "band_gap > 1", "statement": "a", "confidence": 0.7}]`
	writeRuleFiles(t, dir, sampleRules, "", "")
	store, err := Open(dir, WithLogger(internal.NewNopLogger()))
	require.NoError(t, err)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Snapshot()
				total := 0
				for _, n := range snap.CategoryCounts() {
					total += n
				}
				if total != snap.Len() || (snap.Len() != 1 && snap.Len() != 4) {
					t.Errorf("inconsistent snapshot: %d rules, %d categorized", snap.Len(), total)
					return
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func(i int) {
			defer writers.Done()
			for j := 0; j < 10; j++ {
				_ = store.Rebuild()
			}
		}(i)
	}
	for j := 0; j < 10; j++ {
		content := sampleRules
		if j%2 == 0 {
			content = small
		}
		// write to a temp file and rename so rebuilds never read a half-written file
		tmp := filepath.Join(dir, "tmp.json")
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
		require.NoError(t, os.Rename(tmp, filepath.Join(dir, RulesFile)))
		require.NoError(t, store.Rebuild())
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	assert.Greater(t, store.Snapshot().Version(), int64(10))
}

func TestWatcherRebuildsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeRuleFiles(t, dir, `[{"id": "rule_a", "category": "electronic", "predicate": "band_gap > 1", "statement": "a", "confidence": 0.7}]`, "", "")
	store, err := Open(dir, WithLogger(internal.NewNopLogger()))
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w, err := NewWatcher(store, 20*time.Millisecond, func(err error) {
		select {
		case reloaded <- err:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, RulesFile), []byte(sampleRules), 0o644))

	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not rebuild")
	}
	assert.Len(t, store.All(), 4)
}

func TestFromRules(t *testing.T) {
	store := FromRules(rules.Rule{ID: "rule_x", Category: rules.CategoryThermal, Statement: "Thermal conductors", Confidence: 0.7})
	assert.Len(t, store.ByCategory(rules.CategoryThermal), 1)
	assert.Len(t, store.ByKeyword("thermal"), 1)
	assert.NoError(t, store.Rebuild(), "in-memory stores have nothing to rebuild")
}

func TestKeywords(t *testing.T) {
	got := Keywords("The band gap of wide-gap oxides, and the band gap of nitrides, is large.")
	assert.Equal(t, []string{"band", "wide", "oxides", "nitrides", "large"}, got)

	long := Keywords("alpha bravo charlie delta echo foxtrot hotel india juliet kilo lima mike")
	assert.Len(t, long, maxKeywordsPerRule)
}

func TestShippedCatalogLoads(t *testing.T) {
	store, err := Open(filepath.Join("..", "..", "rules"), WithLogger(internal.NewNopLogger()))
	require.NoError(t, err)

	assert.Len(t, store.All(), 26, "every shipped rule parses")
	counts := store.Snapshot().CategoryCounts()
	assert.Equal(t, 5, counts[rules.CategoryElectronic])
	assert.Equal(t, 5, counts[rules.CategoryStability])
	assert.Equal(t, 2, counts[rules.CategoryThermal])

	pv, ok := store.Get("rule_pv_absorber")
	require.True(t, ok)
	assert.Equal(t, []string{"photovoltaics"}, pv.Applications)
	assert.Equal(t, "W. Shockley, H. J. Queisser. Detailed Balance Limit of Efficiency of p-n Junction Solar Cells (https://doi.org/10.1063/1.1736034)", pv.Citation)
	assert.NotEmpty(t, store.ByKeyword("photovoltaic"))
}

func TestPaperMetaCite(t *testing.T) {
	tests := []struct {
		name string
		meta PaperMeta
		want string
	}{
		{"title and url", PaperMeta{Title: "Elastic constants", URL: "https://example.org/e"}, "Elastic constants (https://example.org/e)"},
		{"authors first", PaperMeta{Title: "The Nature of the Chemical Bond", Authors: []string{"L. Pauling"}}, "L. Pauling. The Nature of the Chemical Bond"},
		{"authors and url", PaperMeta{Authors: []string{"A", "B"}, URL: "https://example.org/x"}, "A, B. https://example.org/x"},
		{"url only", PaperMeta{URL: "https://example.org/u"}, "https://example.org/u"},
		{"authors only", PaperMeta{Authors: []string{"C. Kittel"}}, "C. Kittel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.meta.Cite())
		})
	}
}
