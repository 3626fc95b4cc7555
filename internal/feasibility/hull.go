package feasibility

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"gomatter/domain/material"
	"gomatter/ports"
)

// ErrNoReferencePhases means the chemical system has no compound references, only elements
var ErrNoReferencePhases = errors.New("no reference phases in chemical system")

// HullResult is the position of a composition relative to the lower convex hull
type HullResult struct {
	HullEnergy      float64
	EnergyAboveHull float64
	// Decomposition lists the hull phases and their atom fractions at the target composition
	Decomposition map[string]float64
}

type hullPhase struct {
	formula   string
	fractions map[string]float64
	energy    float64
}

// EnergyAboveHull solves for the lowest-energy mixture of reference phases at the
// target composition and returns how far the target energy sits above it.
// Elements are always present as references at zero formation energy.
func EnergyAboveHull(target material.Composition, energy float64, refs []ports.ReferencePhase) (HullResult, error) {
	elements := target.Symbols()
	sort.Strings(elements)
	inSystem := make(map[string]bool, len(elements))
	for _, e := range elements {
		inSystem[e] = true
	}

	var phases []hullPhase
	for _, e := range elements {
		phases = append(phases, hullPhase{formula: e, fractions: map[string]float64{e: 1}, energy: 0})
	}
	compounds := 0
	for _, ref := range refs {
		comp := ref.Composition
		if comp.NumElements() == 0 {
			parsed, err := material.ParseFormula(ref.Formula)
			if err != nil {
				continue
			}
			comp = parsed
		}
		within := true
		for _, s := range comp.Symbols() {
			if !inSystem[s] {
				within = false
				break
			}
		}
		if !within || comp.NumElements() < 2 {
			continue
		}
		phases = append(phases, hullPhase{formula: comp.String(), fractions: comp.Fractions(), energy: ref.FormationEnergy})
		compounds++
	}
	if compounds == 0 {
		return HullResult{}, ErrNoReferencePhases
	}

	m, n := len(elements), len(phases)
	a := mat.NewDense(m, n, nil)
	c := make([]float64, n)
	for i, p := range phases {
		c[i] = p.energy
		for j, e := range elements {
			a.Set(j, i, p.fractions[e])
		}
	}
	fr := target.Fractions()
	b := make([]float64, m)
	for j, e := range elements {
		b[j] = fr[e]
	}

	hullE, x, err := lp.Simplex(c, a, b, 1e-10, nil)
	if err != nil {
		return HullResult{}, fmt.Errorf("solve hull: %w", err)
	}

	decomp := make(map[string]float64)
	for i, w := range x {
		if w > 1e-9 {
			decomp[phases[i].formula] += w
		}
	}
	above := energy - hullE
	if math.Abs(above) < 1e-12 {
		above = 0
	}
	return HullResult{HullEnergy: hullE, EnergyAboveHull: above, Decomposition: decomp}, nil
}
