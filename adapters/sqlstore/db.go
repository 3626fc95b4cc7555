// Package sqlstore keeps material property records and competing reference phases
// in Postgres or SQLite through sqlx.
package sqlstore

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"gomatter/domain/material"
	"gomatter/internal/errors"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open connects to the configured database. SQLite connections are pinned to
// one so that ":memory:" databases are shared by every query.
func Open(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to "+driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// formulaKey stores formulas in normalized form so "NaCl" and "Na1Cl1" share a row
func formulaKey(formula string) string {
	comp, err := material.ParseFormula(formula)
	if err != nil {
		return strings.TrimSpace(formula)
	}
	return comp.Normalized
}
