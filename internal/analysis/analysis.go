// Package analysis turns a property record and its matched rules into per-dimension
// findings and application hypotheses. Everything here is deterministic; prose is
// delegated to a ports.Generator by the pipeline.
package analysis

import (
	"fmt"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/run"
)

// Classifications
const (
	InsufficientData = "insufficient_data"

	Metallic      = "metallic"
	Semiconductor = "semiconductor"
	WideGap       = "wide_gap_insulator"

	Ductile = "ductile"
	Brittle = "brittle"
	Stiff   = "stiff"
	Soft    = "compliant"

	HighConductivity     = "high_conductivity"
	ModerateConductivity = "moderate_conductivity"
	LowConductivity      = "low_conductivity"

	Stable     = "stable"
	Metastable = "metastable"
	Unstable   = "unstable"
)

// Thresholds
const (
	wideGapEV        = 3.0
	metallicGapEV    = 0.01
	pughRatio        = 1.75
	stiffBulkGPa     = 100.0
	highConductivity = 100.0
	modConductivity  = 10.0
	stableHullEV     = 0.05
	metastableHullEV = 0.2
)

// AnalysisCategories is the rule category set consulted by the analyze node
var AnalysisCategories = rules.NewCategorySet(
	rules.CategoryElectronic,
	rules.CategoryMechanical,
	rules.CategoryThermal,
	rules.CategoryStability,
)

// Analyze classifies every dimension. Each finding cites the matched rules of its own category.
func Analyze(rec material.PropertyRecord, matched []rules.Rule) map[run.Dimension]run.Finding {
	return map[run.Dimension]run.Finding{
		run.DimensionElectronic: cite(electronic(rec), matched, rules.CategoryElectronic),
		run.DimensionMechanical: cite(mechanical(rec), matched, rules.CategoryMechanical),
		run.DimensionThermal:    cite(thermal(rec), matched, rules.CategoryThermal),
		run.DimensionStability:  cite(stability(rec), matched, rules.CategoryStability),
	}
}

func cite(f run.Finding, matched []rules.Rule, cat rules.Category) run.Finding {
	for _, r := range matched {
		if r.Category == cat {
			f.SupportingRules = append(f.SupportingRules, r.ID)
		}
	}
	return f
}

func electronic(rec material.PropertyRecord) run.Finding {
	gap, ok := rec.Number(material.PropBandGap)
	if !ok {
		if v, ok := rec.Get(material.PropIsMetal); ok && v.Kind == material.KindBool {
			if v.Bool {
				return run.Finding{Classification: Metallic, Summary: "reported as metallic"}
			}
			return run.Finding{Classification: Semiconductor, Summary: "reported as non-metallic; band gap unknown"}
		}
		return run.Finding{Classification: InsufficientData, Summary: "no band gap reported"}
	}
	switch {
	case gap <= metallicGapEV:
		return run.Finding{Classification: Metallic, Summary: fmt.Sprintf("band gap %.2f eV: metallic", gap)}
	case gap < wideGapEV:
		return run.Finding{Classification: Semiconductor, Summary: fmt.Sprintf("band gap %.2f eV: semiconductor", gap)}
	default:
		return run.Finding{Classification: WideGap, Summary: fmt.Sprintf("band gap %.2f eV: wide-gap insulator", gap)}
	}
}

func mechanical(rec material.PropertyRecord) run.Finding {
	bulk, hasBulk := rec.Number(material.PropBulkModulus)
	shear, hasShear := rec.Number(material.PropShearModulus)
	switch {
	case hasBulk && hasShear && shear > 0:
		ratio := bulk / shear
		if ratio > pughRatio {
			return run.Finding{Classification: Ductile, Summary: fmt.Sprintf("Pugh ratio B/G = %.2f: ductile", ratio)}
		}
		return run.Finding{Classification: Brittle, Summary: fmt.Sprintf("Pugh ratio B/G = %.2f: brittle", ratio)}
	case hasBulk:
		if bulk > stiffBulkGPa {
			return run.Finding{Classification: Stiff, Summary: fmt.Sprintf("bulk modulus %.0f GPa", bulk)}
		}
		return run.Finding{Classification: Soft, Summary: fmt.Sprintf("bulk modulus %.0f GPa", bulk)}
	}
	return run.Finding{Classification: InsufficientData, Summary: "no elastic moduli reported"}
}

func thermal(rec material.PropertyRecord) run.Finding {
	k, ok := rec.Number(material.PropThermalConductivity)
	if !ok {
		return run.Finding{Classification: InsufficientData, Summary: "no thermal conductivity reported"}
	}
	summary := fmt.Sprintf("thermal conductivity %.1f W/m·K", k)
	switch {
	case k > highConductivity:
		return run.Finding{Classification: HighConductivity, Summary: summary}
	case k > modConductivity:
		return run.Finding{Classification: ModerateConductivity, Summary: summary}
	default:
		return run.Finding{Classification: LowConductivity, Summary: summary}
	}
}

func stability(rec material.PropertyRecord) run.Finding {
	eh, ok := rec.Number(material.PropEnergyAboveHull)
	if !ok {
		return run.Finding{Classification: InsufficientData, Summary: "no energy above hull reported"}
	}
	summary := fmt.Sprintf("%.3f eV/atom above hull", eh)
	switch {
	case eh < stableHullEV:
		return run.Finding{Classification: Stable, Summary: summary}
	case eh < metastableHullEV:
		return run.Finding{Classification: Metastable, Summary: summary}
	default:
		return run.Finding{Classification: Unstable, Summary: summary}
	}
}

// FindingText flattens findings for a prompt, keyed by dimension
func FindingText(findings map[run.Dimension]run.Finding) map[string]string {
	out := make(map[string]string, len(findings))
	for _, d := range run.Dimensions {
		if f, ok := findings[d]; ok {
			out[string(d)] = f.Classification + ": " + f.Summary
		}
	}
	return out
}

// CitedRules returns the distinct rule ids cited by any finding
func CitedRules(findings map[run.Dimension]run.Finding) []core.RuleID {
	seen := make(map[core.RuleID]bool)
	var out []core.RuleID
	for _, d := range run.Dimensions {
		for _, id := range findings[d].SupportingRules {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
