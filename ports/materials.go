package ports

import (
	"context"
	"errors"

	"gomatter/domain/material"
)

// ErrMaterialNotFound is the "not found" outcome of a materials database lookup
var ErrMaterialNotFound = errors.New("material not found")

// MaterialsDatabase looks up computed or measured properties by formula.
// A miss returns ErrMaterialNotFound; any other error is a lookup failure.
type MaterialsDatabase interface {
	Lookup(ctx context.Context, formula string) (material.PropertyRecord, error)
}

// MaterialsRepository is the writable side used to seed a local database
type MaterialsRepository interface {
	MaterialsDatabase
	Upsert(ctx context.Context, formula string, props material.PropertyRecord) error
	Count(ctx context.Context) (int, error)
}
