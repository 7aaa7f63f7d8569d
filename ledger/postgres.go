package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"htlcflow/db"
)

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	db.TxBeginner
	db.Querier
}

// PGLedger is a Gateway backed by the ledger_accounts and ledger_entries
// tables. When the context carries a transaction (see db.WithTx) every
// movement joins it, so value moves commit or roll back together with the
// caller's state change.
type PGLedger struct {
	pool Pool
}

func NewPGLedger(pool Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

func (l *PGLedger) Debit(ctx context.Context, account string, amount uint64) error {
	if err := checkPGMove(account, amount); err != nil {
		return err
	}
	return db.InTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := debit(ctx, tx, account, amount); err != nil {
			return err
		}
		return journal(ctx, tx, &account, nil, amount)
	})
}

func (l *PGLedger) Credit(ctx context.Context, account string, amount uint64) error {
	if err := checkPGMove(account, amount); err != nil {
		return err
	}
	return db.InTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := credit(ctx, tx, account, amount); err != nil {
			return err
		}
		return journal(ctx, tx, nil, &account, amount)
	})
}

func (l *PGLedger) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := checkPGMove(from, amount); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("%w: empty destination account", ErrInvalidAmount)
	}
	return db.InTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		return journal(ctx, tx, &from, &to, amount)
	})
}

func (l *PGLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	var q db.Querier = l.pool
	if tx, ok := db.TxFromContext(ctx); ok {
		q = tx
	}

	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE account = $1`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: balance of %s: %w", account, err)
	}
	return uint64(balance), nil
}

// Entries returns the journal lines touching account, oldest first.
func (l *PGLedger) Entries(ctx context.Context, account string) ([]Entry, error) {
	const query = `
		SELECT COALESCE(debit_account, ''), COALESCE(credit_account, ''), amount, created_at
		FROM ledger_entries
		WHERE debit_account = $1 OR credit_account = $1
		ORDER BY id ASC
	`

	rows, err := l.pool.Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			amount int64
		)
		if err := rows.Scan(&e.Debit, &e.Credit, &amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		e.Amount = uint64(amount)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}

func debit(ctx context.Context, tx pgx.Tx, account string, amount uint64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = balance - $2, updated_at = now()
		WHERE account = $1 AND balance >= $2
	`, account, int64(amount))
	if err != nil {
		return fmt.Errorf("ledger: debit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s cannot cover %d", ErrInsufficientBalance, account, amount)
	}
	return nil
}

func credit(ctx context.Context, tx pgx.Tx, account string, amount uint64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_accounts (account, balance)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE
		SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = now()
	`, account, int64(amount))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22003" {
			return fmt.Errorf("%w: %s", ErrOverflow, account)
		}
		return fmt.Errorf("ledger: credit %s: %w", account, err)
	}
	return nil
}

func journal(ctx context.Context, tx pgx.Tx, from, to *string, amount uint64) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (debit_account, credit_account, amount)
		VALUES ($1, $2, $3)
	`, from, to, int64(amount)); err != nil {
		return fmt.Errorf("ledger: journal: %w", err)
	}
	return nil
}

func checkPGMove(account string, amount uint64) error {
	if err := checkMove(account, amount); err != nil {
		return err
	}
	if amount > math.MaxInt64 {
		return fmt.Errorf("%w: %d exceeds storage range", ErrOverflow, amount)
	}
	return nil
}
