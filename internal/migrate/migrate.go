// Package migrate applies the SQL files under a migrations directory in
// filename order, tracking which have already run in a
// schema_migrations table. The teacher leans on River's bundled
// rivermigrate for its own job tables (cmd/api/main.go); this package is
// the equivalent "migrator runs before the server starts" step for the
// tables this repository owns, written against plain pgx since no
// migration library appears anywhere else in the example pack for us to
// adopt instead (see DESIGN.md). The directory-of-.sql-files convention
// mirrors the teacher's own SCHEMA_DIR-driven os.ReadDir loop in
// internal/services.NewValidator.
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createTrackingTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   text PRIMARY KEY,
	applied_at timestamptz NOT NULL DEFAULT now()
)`

// Up applies every *.sql file under dir not yet recorded in
// schema_migrations, in filename order, each inside its own transaction.
func Up(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	if _, err := pool.Exec(ctx, createTrackingTable); err != nil {
		return fmt.Errorf("migrate: create tracking table: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("migrate: read dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("migrate: check %q applied: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("migrate: read %q: %w", name, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("migrate: begin tx for %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("migrate: apply %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("migrate: record %q: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("migrate: commit %q: %w", name, err)
		}
	}
	return nil
}
