package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"gomatter/domain/material"
	"gomatter/internal/errors"
	"gomatter/ports"
)

var timeNow = time.Now

// MaterialsRepository stores one JSON property record per formula
type MaterialsRepository struct {
	db *sqlx.DB
}

var _ ports.MaterialsRepository = (*MaterialsRepository)(nil)

// NewMaterialsRepository creates a repository on a migrated database
func NewMaterialsRepository(db *sqlx.DB) *MaterialsRepository {
	return &MaterialsRepository{db: db}
}

type materialRow struct {
	Formula    string `db:"formula"`
	Properties string `db:"properties"`
	UpdatedAt  string `db:"updated_at"`
}

// Lookup returns the stored record or ports.ErrMaterialNotFound
func (r *MaterialsRepository) Lookup(ctx context.Context, formula string) (material.PropertyRecord, error) {
	var row materialRow
	query := r.db.Rebind(`SELECT formula, properties, updated_at FROM materials WHERE formula = ?`)
	if err := r.db.GetContext(ctx, &row, query, formulaKey(formula)); err != nil {
		if err == sql.ErrNoRows {
			return nil, ports.ErrMaterialNotFound
		}
		return nil, errors.DatabaseError("failed to get material", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(row.Properties), &raw); err != nil {
		return nil, errors.DatabaseError("failed to unmarshal properties of "+row.Formula, err)
	}
	return material.PropertyRecordFromMap(raw), nil
}

// Upsert inserts or replaces the record for a formula
func (r *MaterialsRepository) Upsert(ctx context.Context, formula string, props material.PropertyRecord) error {
	if props == nil {
		props = material.PropertyRecord{}
	}
	body, err := json.Marshal(props)
	if err != nil {
		return errors.Wrap(err, "failed to marshal properties")
	}

	query := r.db.Rebind(`
		INSERT INTO materials (formula, properties, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (formula) DO UPDATE SET
			properties = excluded.properties,
			updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, formulaKey(formula), string(body), timeNow().UTC().Format(time.RFC3339)); err != nil {
		return errors.DatabaseError("failed to save material", err)
	}
	return nil
}

// Count returns the number of stored materials
func (r *MaterialsRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM materials`); err != nil {
		return 0, errors.DatabaseError("failed to count materials", err)
	}
	return n, nil
}

// Formulas lists stored formulas in ascending order
func (r *MaterialsRepository) Formulas(ctx context.Context) ([]string, error) {
	var out []string
	if err := r.db.SelectContext(ctx, &out, `SELECT formula FROM materials ORDER BY formula`); err != nil {
		return nil, errors.DatabaseError("failed to list materials", err)
	}
	return out, nil
}
