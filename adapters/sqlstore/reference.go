package sqlstore

import (
	"context"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"gomatter/domain/material"
	"gomatter/internal/errors"
	"gomatter/ports"
)

// ReferencePhaseRepository holds formation energies of known competing phases
type ReferencePhaseRepository struct {
	db *sqlx.DB
}

var _ ports.ReferencePhaseSource = (*ReferencePhaseRepository)(nil)

// NewReferencePhaseRepository creates a repository on a migrated database
func NewReferencePhaseRepository(db *sqlx.DB) *ReferencePhaseRepository {
	return &ReferencePhaseRepository{db: db}
}

// chemsys is the sorted, dash-joined element set, e.g. "Fe-O"
func chemsys(comp material.Composition) string {
	syms := comp.Symbols()
	sort.Strings(syms)
	return strings.Join(syms, "-")
}

// Save inserts or replaces reference phases in one transaction
func (r *ReferencePhaseRepository) Save(ctx context.Context, phases []ports.ReferencePhase) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := r.db.Rebind(`
		INSERT INTO reference_phases (formula, chemsys, formation_energy, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (formula) DO UPDATE SET
			chemsys = excluded.chemsys,
			formation_energy = excluded.formation_energy,
			source = excluded.source`)
	for _, p := range phases {
		comp, err := material.ParseFormula(p.Formula)
		if err != nil {
			return errors.InvalidFormula(err)
		}
		if _, err := tx.ExecContext(ctx, query, comp.Normalized, chemsys(comp), p.FormationEnergy, p.Source); err != nil {
			return errors.DatabaseError("failed to save reference phase "+p.Formula, err)
		}
	}
	return tx.Commit()
}

// CompetingPhases returns every stored phase whose elements all belong to the given set
func (r *ReferencePhaseRepository) CompetingPhases(ctx context.Context, elements []string) ([]ports.ReferencePhase, error) {
	var rows []ports.ReferencePhase
	query := `SELECT formula, formation_energy, source FROM reference_phases ORDER BY formula`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.DatabaseError("failed to load reference phases", err)
	}

	allowed := make(map[string]bool, len(elements))
	for _, e := range elements {
		allowed[e] = true
	}

	out := rows[:0]
	for _, p := range rows {
		comp, err := material.ParseFormula(p.Formula)
		if err != nil {
			continue
		}
		if within(comp, allowed) {
			p.Composition = comp
			out = append(out, p)
		}
	}
	return out, nil
}

func within(comp material.Composition, allowed map[string]bool) bool {
	for _, s := range comp.Symbols() {
		if !allowed[s] {
			return false
		}
	}
	return true
}
