// Package migrations embeds the PostgreSQL schema and applies it in file order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"htlcflow/db"
)

//go:embed *.sql
var files embed.FS

const createVersionsSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Names returns the embedded migration file names in application order.
func Names() ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: read embedded dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Source returns the SQL text of one embedded migration.
func Source(name string) (string, error) {
	data, err := files.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("migrations: read %s: %w", name, err)
	}
	return string(data), nil
}

// Apply executes every migration not yet recorded in schema_migrations and
// returns the versions it applied.
func Apply(ctx context.Context, q db.Querier) ([]string, error) {
	if _, err := q.Exec(ctx, createVersionsSQL); err != nil {
		return nil, fmt.Errorf("migrations: create schema_migrations: %w", err)
	}

	names, err := Names()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")

		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists); err != nil {
			return applied, fmt.Errorf("migrations: check %s: %w", version, err)
		}
		if exists {
			continue
		}

		sql, err := Source(name)
		if err != nil {
			return applied, err
		}
		if _, err := q.Exec(ctx, sql); err != nil {
			return applied, fmt.Errorf("migrations: apply %s: %w", name, err)
		}
		if _, err := q.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return applied, fmt.Errorf("migrations: record %s: %w", version, err)
		}
		applied = append(applied, version)
	}

	return applied, nil
}
