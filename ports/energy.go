package ports

import (
	"context"
	"errors"

	"gomatter/domain/material"
)

// ErrPredictionUnavailable is returned when no energy model is configured or reachable
var ErrPredictionUnavailable = errors.New("energy prediction unavailable")

// StructureDescriptor names a prototype decoration of a composition.
// It carries no geometry; the predictor resolves the prototype itself.
type StructureDescriptor struct {
	Formula     string                  `json:"formula"`
	Prototype   string                  `json:"prototype"`
	Composition []material.ElementCount `json:"composition"`
}

// EnergyPredictor returns the formation energy in eV/atom for a structure
type EnergyPredictor interface {
	PredictEnergy(ctx context.Context, structure StructureDescriptor) (float64, error)
}
