// Package testkit provides in-memory collaborators and fixtures for exercising the
// pipeline without a database, language model, or energy service.
package testkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/internal/rulestore"
	"gomatter/ports"
)

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// inflight tracks concurrent calls to a fake
type inflight struct {
	mu      sync.Mutex
	current int
	max     int
	calls   int
}

func (f *inflight) enter() {
	f.mu.Lock()
	f.current++
	f.calls++
	if f.current > f.max {
		f.max = f.current
	}
	f.mu.Unlock()
}

func (f *inflight) leave() {
	f.mu.Lock()
	f.current--
	f.mu.Unlock()
}

// Calls returns how many calls were made
func (f *inflight) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MaxInFlight returns the highest observed number of concurrent calls
func (f *inflight) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max
}

// FakeDatabase is a materials database over a fixed map
type FakeDatabase struct {
	inflight
	Records map[string]material.PropertyRecord
	Err     error
	Delay   time.Duration
}

// NewFakeDatabase creates a database holding the given records
func NewFakeDatabase(records map[string]material.PropertyRecord) *FakeDatabase {
	if records == nil {
		records = map[string]material.PropertyRecord{}
	}
	return &FakeDatabase{Records: records}
}

// Lookup returns a copy of the stored record or ports.ErrMaterialNotFound
func (d *FakeDatabase) Lookup(ctx context.Context, formula string) (material.PropertyRecord, error) {
	d.enter()
	defer d.leave()
	if err := sleep(ctx, d.Delay); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	rec, ok := d.Records[formula]
	if !ok {
		return nil, ports.ErrMaterialNotFound
	}
	return rec.Clone(), nil
}

// FakeGenerator returns deterministic prose built from the prompt facts
type FakeGenerator struct {
	inflight
	Err      map[ports.PromptPurpose]error
	Delay    time.Duration
	promptMu sync.Mutex
	prompt   []ports.PromptContext
}

// NewFakeGenerator creates a generator that always succeeds
func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{Err: map[ports.PromptPurpose]error{}}
}

// Generate records the prompt and returns a summary of its facts
func (g *FakeGenerator) Generate(ctx context.Context, p ports.PromptContext) (string, error) {
	g.enter()
	defer g.leave()
	g.promptMu.Lock()
	g.prompt = append(g.prompt, p)
	g.promptMu.Unlock()
	if err := sleep(ctx, g.Delay); err != nil {
		return "", err
	}
	if err := g.Err[p.Purpose]; err != nil {
		return "", err
	}
	ids := make([]string, len(p.Rules))
	for i, r := range p.Rules {
		ids[i] = r.ID
	}
	return fmt.Sprintf("%s of %s citing [%s]", p.Purpose, p.Formula, strings.Join(ids, ", ")), nil
}

// Prompts returns the prompts seen so far
func (g *FakeGenerator) Prompts() []ports.PromptContext {
	g.promptMu.Lock()
	defer g.promptMu.Unlock()
	return append([]ports.PromptContext(nil), g.prompt...)
}

// FakePredictor returns canned formation energies per prototype
type FakePredictor struct {
	inflight
	Energies map[string]float64
	Fallback float64
	Err      error
	Delay    time.Duration
}

// NewFakePredictor predicts fallback for every prototype not in energies
func NewFakePredictor(fallback float64, energies map[string]float64) *FakePredictor {
	return &FakePredictor{Energies: energies, Fallback: fallback}
}

// PredictEnergy returns the canned energy for the prototype
func (p *FakePredictor) PredictEnergy(ctx context.Context, sd ports.StructureDescriptor) (float64, error) {
	p.enter()
	defer p.leave()
	if err := sleep(ctx, p.Delay); err != nil {
		return 0, err
	}
	if p.Err != nil {
		return 0, p.Err
	}
	if e, ok := p.Energies[sd.Prototype]; ok {
		return e, nil
	}
	return p.Fallback, nil
}

// FakeReferences serves a fixed list of competing phases
type FakeReferences struct {
	Phases []ports.ReferencePhase
	Err    error
}

// CompetingPhases returns the phases whose elements all lie in the requested set
func (r FakeReferences) CompetingPhases(_ context.Context, elements []string) ([]ports.ReferencePhase, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	allowed := make(map[string]bool, len(elements))
	for _, e := range elements {
		allowed[e] = true
	}
	var out []ports.ReferencePhase
	for _, p := range r.Phases {
		comp, err := material.ParseFormula(p.Formula)
		if err != nil {
			continue
		}
		ok := true
		for _, s := range comp.Symbols() {
			ok = ok && allowed[s]
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// MustRule builds a rule from predicate text and panics on a bad predicate
func MustRule(id string, cat rules.Category, predicate string, confidence float64, applications ...string) rules.Rule {
	e, err := rules.ParsePredicate(predicate)
	if err != nil {
		panic(fmt.Sprintf("testkit: rule %s: %v", id, err))
	}
	return rules.Rule{
		ID:            core.RuleID(id),
		Category:      cat,
		Predicate:     e,
		PredicateText: e.String(),
		Statement:     fmt.Sprintf("Materials with %s", e),
		Confidence:    confidence,
		Citation:      "testkit",
		Applications:  applications,
	}
}

// CatalogRules is a small rule set covering every category
func CatalogRules() []rules.Rule {
	return []rules.Rule{
		MustRule("rule_wide_gap_optoelectronics", rules.CategoryElectronic, "band_gap > 3.0", 1.0, "optoelectronics"),
		MustRule("rule_semiconductor", rules.CategoryElectronic, "band_gap in [0.1, 3.0]", 0.8, "photovoltaics"),
		MustRule("rule_metallic", rules.CategoryElectronic, "band_gap <= 0.01", 0.85, "conductors"),
		MustRule("rule_hull_stable", rules.CategoryStability, "energy_above_hull < 0.05", 0.9),
		MustRule("rule_hull_metastable", rules.CategoryStability, "energy_above_hull in [0.05, 0.2]", 0.6),
		MustRule("rule_negative_formation", rules.CategoryStability, "formation_energy < 0", 0.75),
		MustRule("rule_stiff", rules.CategoryMechanical, "bulk_modulus > 100", 0.7, "structural ceramics"),
		MustRule("rule_thermal_conductor", rules.CategoryThermal, "thermal_conductivity > 100", 0.7, "heat spreaders"),
		MustRule("rule_charge_balance", rules.CategorySynthesis, "charge_neutral == false", 0.95),
		MustRule("rule_ionic_pair", rules.CategorySynthesis, "delta_chi_max > 1.7", 0.65),
		MustRule("rule_uv_detector", rules.CategoryApplication, "band_gap > 4.0 and energy_above_hull < 0.1", 0.7, "uv detectors"),
	}
}

// CatalogStore is an in-memory rule store over CatalogRules
func CatalogStore() *rulestore.Store {
	return rulestore.FromRules(CatalogRules()...)
}

// KnownMaterials are database records for common compounds
func KnownMaterials() map[string]material.PropertyRecord {
	return map[string]material.PropertyRecord{
		"NaCl": {
			material.PropBandGap:         material.Number(4.38),
			material.PropEnergyAboveHull: material.Number(0),
			material.PropDensity:         material.Number(2.16),
			material.PropBulkModulus:     material.Number(25),
			material.PropCrystalSystem:   material.Text("cubic"),
		},
		"MgO": {
			material.PropBandGap:             material.Number(4.45),
			material.PropEnergyAboveHull:     material.Number(0),
			material.PropFormationEnergy:     material.Number(-3.05),
			material.PropBulkModulus:         material.Number(160),
			material.PropShearModulus:        material.Number(130),
			material.PropThermalConductivity: material.Number(45),
		},
		"Si": {
			material.PropBandGap:         material.Number(0.61),
			material.PropEnergyAboveHull: material.Number(0),
			material.PropDensity:         material.Number(2.33),
		},
		"Cu": {
			material.PropBandGap:             material.Number(0),
			material.PropEnergyAboveHull:     material.Number(0),
			material.PropThermalConductivity: material.Number(401),
			material.PropIsMetal:             material.Bool(true),
		},
	}
}
