package ports

import (
	"context"

	"gomatter/domain/material"
)

// ReferencePhase is a known phase with its formation energy in eV/atom
type ReferencePhase struct {
	Formula         string               `json:"formula" db:"formula"`
	Composition     material.Composition `json:"-" db:"-"`
	FormationEnergy float64              `json:"formation_energy_per_atom" db:"formation_energy"`
	Source          string               `json:"source,omitempty" db:"source"`
}

// ReferencePhaseSource returns competing phases whose elements are all within the given set
type ReferencePhaseSource interface {
	CompetingPhases(ctx context.Context, elements []string) ([]ReferencePhase, error)
}
