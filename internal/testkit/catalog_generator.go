package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"gomatter/domain/material"
)

// CatalogGeneratorConfig configures the synthetic materials generator
type CatalogGeneratorConfig struct {
	Count int   `json:"count"`
	Seed  int64 `json:"seed"`
	// MissingRate is the probability that an optional property is left out
	MissingRate float64 `json:"missing_rate"`
}

// DefaultCatalogConfig returns a small reproducible catalog
func DefaultCatalogConfig() CatalogGeneratorConfig {
	return CatalogGeneratorConfig{Count: 20, Seed: 42, MissingRate: 0.2}
}

// SyntheticMaterial is one generated database entry
type SyntheticMaterial struct {
	Formula string
	Record  material.PropertyRecord
}

type ion struct {
	symbol string
	charge int
}

var (
	syntheticCations = []ion{{"Li", 1}, {"Na", 1}, {"K", 1}, {"Mg", 2}, {"Ca", 2}, {"Sr", 2}, {"Ba", 2}, {"Zn", 2}, {"Al", 3}, {"Ga", 3}}
	syntheticAnions  = []ion{{"F", -1}, {"Cl", -1}, {"Br", -1}, {"O", -2}, {"S", -2}, {"N", -3}}
)

// CatalogGenerator produces charge-balanced binary compounds with plausible properties
type CatalogGenerator struct {
	config CatalogGeneratorConfig
	rng    *rand.Rand
}

// NewCatalogGenerator creates a generator seeded from the config
func NewCatalogGenerator(config CatalogGeneratorConfig) *CatalogGenerator {
	return &CatalogGenerator{config: config, rng: rand.New(rand.NewSource(config.Seed))}
}

// Generate returns up to Count distinct materials; the same seed gives the same catalog
func (g *CatalogGenerator) Generate() []SyntheticMaterial {
	seen := make(map[string]bool)
	var out []SyntheticMaterial
	limit := len(syntheticCations) * len(syntheticAnions)
	for attempts := 0; len(out) < g.config.Count && attempts < limit*4; attempts++ {
		c := syntheticCations[g.rng.Intn(len(syntheticCations))]
		a := syntheticAnions[g.rng.Intn(len(syntheticAnions))]
		formula := balancedFormula(c, a)
		if seen[formula] {
			continue
		}
		seen[formula] = true
		out = append(out, SyntheticMaterial{Formula: formula, Record: g.properties(formula)})
	}
	return out
}

// Records returns the catalog keyed by formula, ready for a FakeDatabase
func (g *CatalogGenerator) Records() map[string]material.PropertyRecord {
	out := make(map[string]material.PropertyRecord)
	for _, m := range g.Generate() {
		out[m.Formula] = m.Record
	}
	return out
}

func balancedFormula(c, a ion) string {
	nc, na := -a.charge, c.charge
	g := gcd(nc, na)
	nc, na = nc/g, na/g
	return fmt.Sprintf("%s%s%s%s", c.symbol, count(nc), a.symbol, count(na))
}

func count(n int) string {
	if n == 1 {
		return ""
	}
	return fmt.Sprint(n)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func (g *CatalogGenerator) properties(formula string) material.PropertyRecord {
	comp, _ := material.ParseFormula(formula)
	rec := material.PropertyRecord{
		material.PropBandGap:         material.Number(round(g.rng.Float64()*8, 2)),
		material.PropEnergyAboveHull: material.Number(round(math.Abs(g.rng.NormFloat64())*0.05, 3)),
		material.PropNumElements:     material.Number(float64(comp.NumElements())),
	}
	if g.rng.Float64() >= g.config.MissingRate {
		rec[material.PropDensity] = material.Number(round(1.5+g.rng.Float64()*5, 2))
	}
	if g.rng.Float64() >= g.config.MissingRate {
		rec[material.PropFormationEnergy] = material.Number(round(-0.5-g.rng.Float64()*3, 3))
	}
	if g.rng.Float64() >= g.config.MissingRate {
		bulk := 20 + g.rng.Float64()*200
		rec[material.PropBulkModulus] = material.Number(round(bulk, 1))
		rec[material.PropShearModulus] = material.Number(round(bulk*(0.3+g.rng.Float64()*0.6), 1))
	}
	return rec
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
