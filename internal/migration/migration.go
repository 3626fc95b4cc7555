// Package migration applies the embedded schema to a Postgres or SQLite database.
package migration

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"gomatter/internal"
	"gomatter/internal/errors"
)

//go:embed sql/*.sql
var migrationFS embed.FS

var timeNow = time.Now

// File is one embedded migration
type File struct {
	Version string
	Name    string
	SQL     string
}

// Checksum is the SHA-256 of the migration body
func (f File) Checksum() string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(f.SQL)))
}

// Status reports whether a migration has been applied
type Status struct {
	Version   string `db:"version" json:"version"`
	Name      string `json:"name"`
	Applied   bool   `json:"applied"`
	AppliedAt string `db:"applied_at" json:"applied_at,omitempty"`
}

// Runner applies pending migrations in version order
type Runner struct {
	db     *sqlx.DB
	files  fs.FS
	logger *internal.Logger
}

// NewRunner creates a runner over the embedded migrations
func NewRunner(db *sqlx.DB, logger *internal.Logger) *Runner {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Runner{db: db, files: migrationFS, logger: logger}
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		checksum   TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`

// Version returns the newest embedded migration version
func (r *Runner) Version() string {
	files, err := r.Files()
	if err != nil || len(files) == 0 {
		return ""
	}
	return files[len(files)-1].Version
}

// Files lists embedded migrations sorted by version. Names look like 001_materials.sql.
func (r *Runner) Files() ([]File, error) {
	entries, err := fs.Glob(r.files, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	var files []File
	for _, p := range entries {
		base := path.Base(p)
		parts := strings.SplitN(base, "_", 2)
		if len(parts) < 2 {
			continue
		}
		body, err := fs.ReadFile(r.files, p)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Version: parts[0], Name: strings.TrimSuffix(parts[1], ".sql"), SQL: string(body)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// Run applies every pending migration. An applied migration whose checksum
// changed is reported as an error rather than re-applied.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return errors.DatabaseError("failed to create schema_migrations", err)
	}

	applied, err := r.applied(ctx)
	if err != nil {
		return err
	}
	files, err := r.Files()
	if err != nil {
		return errors.Wrap(err, "failed to read embedded migrations")
	}

	for _, f := range files {
		if sum, ok := applied[f.Version]; ok {
			if sum != f.Checksum() {
				return errors.DatabaseError(fmt.Sprintf("migration %s was modified after it was applied", f.Version), nil)
			}
			continue
		}
		if err := r.apply(ctx, f); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s", f.Version)
		}
		r.logger.Info("[Migration] Applied %s_%s", f.Version, f.Name)
	}
	return nil
}

// Status lists every embedded migration with its applied state
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	if _, err := r.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, errors.DatabaseError("failed to create schema_migrations", err)
	}
	var rows []Status
	if err := r.db.SelectContext(ctx, &rows, "SELECT version, applied_at FROM schema_migrations"); err != nil {
		return nil, errors.DatabaseError("failed to read schema_migrations", err)
	}
	appliedAt := make(map[string]string, len(rows))
	for _, row := range rows {
		appliedAt[row.Version] = row.AppliedAt
	}

	files, err := r.Files()
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(files))
	for _, f := range files {
		at, ok := appliedAt[f.Version]
		out = append(out, Status{Version: f.Version, Name: f.Name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

func (r *Runner) applied(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryxContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, errors.DatabaseError("failed to read schema_migrations", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, errors.DatabaseError("failed to scan schema_migrations", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func (r *Runner) apply(ctx context.Context, f File) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements(f.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.DatabaseError("failed to execute migration SQL", err)
		}
	}

	insert := r.db.Rebind("INSERT INTO schema_migrations (version, checksum, applied_at) VALUES (?, ?, ?)")
	if _, err := tx.ExecContext(ctx, insert, f.Version, f.Checksum(), timeNow().UTC().Format(time.RFC3339)); err != nil {
		return errors.DatabaseError("failed to record migration", err)
	}
	return tx.Commit()
}

// statements splits a migration body on semicolons; the embedded files hold no procedural SQL
func statements(body string) []string {
	var out []string
	for _, s := range strings.Split(body, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
