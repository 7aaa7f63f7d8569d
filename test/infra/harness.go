package infra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ContainersEnv opts integration tests into starting a throwaway container
// when no DSN is configured.
const ContainersEnv = "HTLC_TESTCONTAINERS"

// Harness owns a migrated database for integration tests.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness provisions a database (see StartPostgres) and migrates an
// isolated schema in it.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	container, dsn, err := StartPostgres(ctx, overrideDSN)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, true)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &Harness{container: container, pool: pool, dsn: dsn, teardown: teardown}, nil
}

// Require returns a harness for t, or skips t when neither DATABASE_URL,
// HTLC_TEST_PG_DSN nor HTLC_TESTCONTAINERS is set.
func Require(t testing.TB) *Harness {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" && os.Getenv(DSNEnv) == "" && os.Getenv(ContainersEnv) == "" {
		t.Skip("no database configured; set DATABASE_URL, " + DSNEnv + " or " + ContainersEnv + "=1")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := NewHarness(ctx, dsn)
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.Close(ctx)
	})
	return h
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close drops the isolated schema and tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates mutable tables. TRUNCATE bypasses the row-level guard
// that forbids deleting contracts.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"ledger_entries",
		"ledger_accounts",
		"contracts",
		"parties",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
