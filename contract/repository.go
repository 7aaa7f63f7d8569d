package contract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"htlcflow/commitment"
	"htlcflow/db"
	"htlcflow/notify"
)

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	db.TxBeginner
	db.Querier
}

// Repository is the PostgreSQL Store. Every mutation runs in one transaction
// holding the contract row with SELECT ... FOR UPDATE; the transaction is
// handed to the mutation through the context so ledger moves and the outbox
// row commit together with the flag change.
type Repository struct {
	pool Pool
	log  logrus.FieldLogger
}

func NewRepository(pool Pool, log logrus.FieldLogger) *Repository {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Repository{pool: pool, log: log}
}

const recordColumns = `id::text, depositor, receiver, amount, hashlock, timelock,
	revealed_secret, withdrawn, refunded, created_at, finalized_at`

func (r *Repository) Create(ctx context.Context, rec Record, fn Mutation) error {
	if _, err := uuid.Parse(rec.ID); err != nil {
		return fmt.Errorf("contract: create: id %q is not a uuid", rec.ID)
	}
	if rec.Amount > math.MaxInt64 {
		return fmt.Errorf("%w: %d exceeds storage range", ErrInvalidAmount, rec.Amount)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
INSERT INTO contracts (id, depositor, receiver, amount, hashlock, timelock, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err = tx.Exec(ctx, insertSQL,
		rec.ID, rec.Depositor, rec.Receiver, int64(rec.Amount), rec.Hashlock[:], rec.Timelock, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("contract: insert: %w", err)
	}

	if fn != nil {
		work := rec.Clone()
		ev, err := fn(db.WithTx(ctx, tx), &work)
		if err != nil {
			return err
		}
		r.enqueue(ctx, tx, ev)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("contract: commit create: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, id string, fn Mutation) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	before, err := scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Record{}, err
	}

	work := before.Clone()
	ev, err := fn(db.WithTx(ctx, tx), &work)
	if err != nil {
		return Record{}, err
	}
	if err := checkTransition(before, work); err != nil {
		return Record{}, err
	}

	const updateSQL = `
UPDATE contracts
SET revealed_secret = $2,
    withdrawn = $3,
    refunded = $4,
    finalized_at = $5
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, updateSQL, id, work.RevealedSecret, work.Withdrawn, work.Refunded, work.FinalizedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return Record{}, fmt.Errorf("%w: %s", ErrAlreadyFinalized, pgErr.Message)
		}
		return Record{}, fmt.Errorf("contract: update: %w", err)
	}

	r.enqueue(ctx, tx, ev)

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit update: %w", err)
	}
	return work, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}
	return scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM contracts WHERE id = $1`, id))
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	filter = filter.normalized()

	var (
		conds []string
		args  []any
	)
	if filter.Party != "" {
		args = append(args, filter.Party)
		conds = append(conds, fmt.Sprintf("(depositor = $%d OR receiver = $%d)", len(args), len(args)))
	}
	switch filter.Status {
	case StatusLocked:
		conds = append(conds, "NOT withdrawn AND NOT refunded")
	case StatusWithdrawn:
		conds = append(conds, "withdrawn")
	case StatusRefunded:
		conds = append(conds, "refunded")
	}

	query := `SELECT ` + recordColumns + ` FROM contracts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, filter.PageSize)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return out, nil
}

// enqueue writes ev to the outbox under a savepoint. A failed write is logged
// and rolled back to the savepoint without failing the state change.
func (r *Repository) enqueue(ctx context.Context, tx pgx.Tx, ev notify.Event) {
	if ev.Topic == "" {
		return
	}
	log := r.log.WithFields(logrus.Fields{"topic": ev.Topic, "contract_id": ev.ContractID})

	sp, err := tx.Begin(ctx)
	if err != nil {
		log.WithError(err).Warn("outbox savepoint failed")
		return
	}
	if err := notify.WriteOutbox(ctx, sp, ev); err != nil {
		log.WithError(err).Warn("outbox write failed")
		_ = sp.Rollback(ctx)
		return
	}
	if err := sp.Commit(ctx); err != nil {
		log.WithError(err).Warn("outbox savepoint release failed")
	}
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		amount   int64
		hashlock []byte
	)
	err := row.Scan(&rec.ID, &rec.Depositor, &rec.Receiver, &amount, &hashlock, &rec.Timelock,
		&rec.RevealedSecret, &rec.Withdrawn, &rec.Refunded, &rec.CreatedAt, &rec.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("contract: scan: %w", err)
	}

	digest, err := commitment.DigestFromBytes(hashlock)
	if err != nil {
		return Record{}, fmt.Errorf("contract: stored hashlock: %w", err)
	}
	rec.Hashlock = digest
	rec.Amount = uint64(amount)
	rec.Timelock = rec.Timelock.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.FinalizedAt != nil {
		t := rec.FinalizedAt.UTC()
		rec.FinalizedAt = &t
	}
	return rec, nil
}

// truncate matches the microsecond precision of TIMESTAMPTZ so records read
// back from either store compare equal.
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
