package verdict

import "fmt"

// Verdict is the feasibility outcome for a composition absent from the database
type Verdict string

const (
	Feasible    Verdict = "Feasible"
	Metastable  Verdict = "Metastable"
	NotFeasible Verdict = "NotFeasible"
)

// Parse accepts the three verdict names
func Parse(s string) (Verdict, error) {
	switch Verdict(s) {
	case Feasible, Metastable, NotFeasible:
		return Verdict(s), nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// ConfidenceLevel annotates how strongly the evidence supports a verdict
type ConfidenceLevel string

const (
	ConfidenceHigh ConfidenceLevel = "high"
	ConfidenceLow  ConfidenceLevel = "low"
)

// Basis names the step of the feasibility procedure that decided the verdict
type Basis string

const (
	BasisChemicalFilter  Basis = "chemical_filter"
	BasisNoPrototype     Basis = "no_prototype"
	BasisConvexHull      Basis = "convex_hull"
	BasisEnergyHeuristic Basis = "energy_heuristic"
)

// Assessment is a verdict plus the evidence that produced it
type Assessment struct {
	Verdict    Verdict         `json:"verdict"`
	Confidence ConfidenceLevel `json:"confidence"`
	Basis      Basis           `json:"basis"`
	Reason     string          `json:"reason"`

	// Set when a chemical filter vetoed the composition
	FailedFilter string `json:"failed_filter,omitempty"`

	// Set when energies were estimated
	Prototype       string   `json:"prototype,omitempty"`
	FormationEnergy *float64 `json:"formation_energy_per_atom,omitempty"`
	EnergyAboveHull *float64 `json:"energy_above_hull,omitempty"`
}

// IsLowConfidence reports whether the verdict came from a fallback path
func (a Assessment) IsLowConfidence() bool {
	return a.Confidence == ConfidenceLow
}
