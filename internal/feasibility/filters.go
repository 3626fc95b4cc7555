package feasibility

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gomatter/domain/material"
)

// Fields of the feasibility evidence record matched against synthesis and stability rules
const (
	FieldChargeNeutral = "charge_neutral"
	FieldDeltaChiMax   = "delta_chi_max"
	FieldDeltaChiMin   = "delta_chi_min"
	FieldRadiusRatio   = "radius_ratio"
	FieldNumElements   = material.PropNumElements
	FieldFormation     = material.PropFormationEnergy
	FieldAboveHull     = material.PropEnergyAboveHull
)

// Roles assigns each element of a composition a bonding role
type Roles struct {
	Anion         string
	Cations       []string
	Elemental     bool
	Intermetallic bool
}

// AssignRoles takes the most electronegative element as the anion; ties keep formula order
func AssignRoles(comp material.Composition) Roles {
	if comp.NumElements() == 1 {
		return Roles{Elemental: true, Cations: comp.Symbols()}
	}
	if comp.IsIntermetallic() {
		return Roles{Intermetallic: true, Cations: comp.Symbols()}
	}
	anion := ""
	best := math.Inf(-1)
	for _, ec := range comp.Elements {
		e, _ := material.LookupElement(ec.Symbol)
		if e.Electronegativity > best {
			best = e.Electronegativity
			anion = ec.Symbol
		}
	}
	r := Roles{Anion: anion}
	for _, ec := range comp.Elements {
		if ec.Symbol != anion {
			r.Cations = append(r.Cations, ec.Symbol)
		}
	}
	return r
}

// FilterResult is the outcome of one chemical screen
type FilterResult struct {
	Passed bool
	Reason string
	// Evidence adds fields to the feasibility record
	Evidence material.PropertyRecord
}

// Filter is one chemical plausibility screen
type Filter interface {
	Name() string
	// EvidenceFields names the record fields a veto from this filter can be justified by
	EvidenceFields() []string
	Check(comp material.Composition, roles Roles) FilterResult
}

// ChargeNeutralityFilter checks that typical oxidation states can sum to zero.
// The anion takes its negative states, every other element its positive ones, and the
// composition passes when the reachable interval of total charge contains zero.
type ChargeNeutralityFilter struct {
	Tolerance float64
}

func (ChargeNeutralityFilter) Name() string { return "charge_neutrality" }

func (ChargeNeutralityFilter) EvidenceFields() []string { return []string{FieldChargeNeutral} }

func (f ChargeNeutralityFilter) Check(comp material.Composition, roles Roles) FilterResult {
	pass := func(reason string) FilterResult {
		return FilterResult{Passed: true, Reason: reason, Evidence: material.PropertyRecord{FieldChargeNeutral: material.Bool(true)}}
	}
	fail := func(reason string) FilterResult {
		return FilterResult{Passed: false, Reason: reason, Evidence: material.PropertyRecord{FieldChargeNeutral: material.Bool(false)}}
	}

	if roles.Elemental {
		return pass("elemental composition")
	}
	if roles.Intermetallic {
		return pass("intermetallic composition; oxidation-state balance does not apply")
	}

	var lo, hi float64
	for _, ec := range comp.Elements {
		e, _ := material.LookupElement(ec.Symbol)
		var states []int
		if ec.Symbol == roles.Anion {
			states = e.NegativeStates()
		} else {
			states = positiveStates(e.OxidationStates)
		}
		if len(states) == 0 {
			states = e.OxidationStates
		}
		if len(states) == 0 {
			return fail(fmt.Sprintf("%s has no common oxidation states", ec.Symbol))
		}
		minS, maxS := states[0], states[0]
		for _, s := range states[1:] {
			if s < minS {
				minS = s
			}
			if s > maxS {
				maxS = s
			}
		}
		lo += ec.Count * float64(minS)
		hi += ec.Count * float64(maxS)
	}

	if lo-f.Tolerance <= 0 && 0 <= hi+f.Tolerance {
		return pass(fmt.Sprintf("oxidation states can balance (total charge range %s)", chargeRange(lo, hi)))
	}
	return fail(fmt.Sprintf("oxidation states cannot balance: total charge range %s with %s as anion excludes zero",
		chargeRange(lo, hi), roles.Anion))
}

func positiveStates(states []int) []int {
	var out []int
	for _, s := range states {
		if s > 0 {
			out = append(out, s)
		}
	}
	return out
}

func chargeRange(lo, hi float64) string {
	return fmt.Sprintf("[%+g, %+g]", lo, hi)
}

// ElectronegativityFilter bounds the Pauling electronegativity difference of every
// anion-cation pair. Elements without a tabulated value fail.
type ElectronegativityFilter struct {
	MinDelta float64
	MaxDelta float64
}

// DefaultElectronegativityFilter uses the conventional [0, 3.5] window
func DefaultElectronegativityFilter() ElectronegativityFilter {
	return ElectronegativityFilter{MinDelta: 0, MaxDelta: 3.5}
}

func (ElectronegativityFilter) Name() string { return "electronegativity" }

func (ElectronegativityFilter) EvidenceFields() []string {
	return []string{FieldDeltaChiMax, FieldDeltaChiMin}
}

func (f ElectronegativityFilter) Check(comp material.Composition, roles Roles) FilterResult {
	var undefined []string
	for _, ec := range comp.Elements {
		if e, _ := material.LookupElement(ec.Symbol); !e.HasElectronegativity() {
			undefined = append(undefined, ec.Symbol)
		}
	}
	if len(undefined) > 0 {
		return FilterResult{Passed: false, Reason: fmt.Sprintf("no electronegativity for %s", strings.Join(undefined, ", "))}
	}
	if roles.Elemental || roles.Intermetallic {
		return FilterResult{Passed: true, Reason: "no anion-cation pairs"}
	}

	anion, _ := material.LookupElement(roles.Anion)
	minD, maxD := math.Inf(1), math.Inf(-1)
	var bad []string
	for _, sym := range roles.Cations {
		c, _ := material.LookupElement(sym)
		d := anion.Electronegativity - c.Electronegativity
		minD = math.Min(minD, d)
		maxD = math.Max(maxD, d)
		if d < f.MinDelta || d > f.MaxDelta {
			bad = append(bad, fmt.Sprintf("%s-%s (%.2f)", sym, roles.Anion, d))
		}
	}
	evidence := material.PropertyRecord{
		FieldDeltaChiMax: material.Number(round3(maxD)),
		FieldDeltaChiMin: material.Number(round3(minD)),
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return FilterResult{
			Passed:   false,
			Reason:   fmt.Sprintf("electronegativity difference outside [%.2f, %.2f] for %s", f.MinDelta, f.MaxDelta, strings.Join(bad, ", ")),
			Evidence: evidence,
		}
	}
	return FilterResult{Passed: true, Reason: fmt.Sprintf("electronegativity differences within [%.2f, %.2f]", minD, maxD), Evidence: evidence}
}

// RadiusRatioModel scores ionic-radius compatibility with candidate structure families.
// Implementations are pluggable; the default does not veto.
type RadiusRatioModel interface {
	Name() string
	Assess(comp material.Composition, roles Roles) FilterResult
}

// RadiusRatioFilter adapts a RadiusRatioModel to the filter chain
type RadiusRatioFilter struct {
	Model RadiusRatioModel
}

func (f RadiusRatioFilter) Name() string { return "radius_ratio:" + f.Model.Name() }

func (RadiusRatioFilter) EvidenceFields() []string { return []string{FieldRadiusRatio} }

func (f RadiusRatioFilter) Check(comp material.Composition, roles Roles) FilterResult {
	return f.Model.Assess(comp, roles)
}

// meanRadiusRatio is the count-weighted mean cation radius over the anion radius
func meanRadiusRatio(comp material.Composition, roles Roles) (float64, bool) {
	if roles.Elemental || roles.Intermetallic {
		return 0, false
	}
	anion, _ := material.LookupElement(roles.Anion)
	if anion.IonicRadius <= 0 {
		return 0, false
	}
	var sum, n float64
	for _, sym := range roles.Cations {
		c, _ := material.LookupElement(sym)
		if c.IonicRadius <= 0 {
			return 0, false
		}
		cnt := comp.Count(sym)
		sum += c.IonicRadius * cnt
		n += cnt
	}
	if n == 0 {
		return 0, false
	}
	return round3(sum / n / anion.IonicRadius), true
}

// UnscoredRadiusModel records the radius ratio as evidence and always passes
type UnscoredRadiusModel struct{}

func (UnscoredRadiusModel) Name() string { return "unscored" }

func (UnscoredRadiusModel) Assess(comp material.Composition, roles Roles) FilterResult {
	res := FilterResult{Passed: true, Reason: "radius-ratio scoring not configured"}
	if ratio, ok := meanRadiusRatio(comp, roles); ok {
		res.Evidence = material.PropertyRecord{FieldRadiusRatio: material.Number(ratio)}
	}
	return res
}

// BoundedRadiusModel vetoes compositions whose mean radius ratio falls outside [Min, Max]
type BoundedRadiusModel struct {
	Min, Max float64
}

func (BoundedRadiusModel) Name() string { return "bounded" }

func (m BoundedRadiusModel) Assess(comp material.Composition, roles Roles) FilterResult {
	ratio, ok := meanRadiusRatio(comp, roles)
	if !ok {
		return FilterResult{Passed: true, Reason: "radius ratio not defined"}
	}
	ev := material.PropertyRecord{FieldRadiusRatio: material.Number(ratio)}
	if ratio < m.Min || ratio > m.Max {
		return FilterResult{Passed: false, Reason: fmt.Sprintf("radius ratio %.3f outside [%.3f, %.3f]", ratio, m.Min, m.Max), Evidence: ev}
	}
	return FilterResult{Passed: true, Reason: fmt.Sprintf("radius ratio %.3f", ratio), Evidence: ev}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
