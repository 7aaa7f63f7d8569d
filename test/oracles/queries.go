package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each returns no rows while its invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_outcome",
			SQL:  `SELECT id FROM contracts WHERE withdrawn AND refunded`,
		},
		{
			Name: "O2_secret_iff_withdrawn",
			SQL:  `SELECT id FROM contracts WHERE (revealed_secret IS NOT NULL) <> withdrawn`,
		},
		{
			Name: "O3_finalized_custody_drained",
			SQL: `SELECT c.id, a.balance FROM contracts c
                  JOIN ledger_accounts a ON a.account = 'custody:' || c.id::text
                  WHERE (c.withdrawn OR c.refunded) AND a.balance <> 0`,
		},
		{
			Name: "O4_locked_custody_matches_amount",
			SQL: `SELECT c.id, c.amount, a.balance FROM contracts c
                  LEFT JOIN ledger_accounts a ON a.account = 'custody:' || c.id::text
                  WHERE NOT c.withdrawn AND NOT c.refunded AND COALESCE(a.balance, 0) <> c.amount`,
		},
		{
			Name: "O5_conservation",
			SQL: `WITH held AS (SELECT COALESCE(SUM(balance), 0) AS total FROM ledger_accounts),
                       issued AS (SELECT COALESCE(SUM(amount), 0) AS total FROM ledger_entries WHERE debit_account IS NULL),
                       redeemed AS (SELECT COALESCE(SUM(amount), 0) AS total FROM ledger_entries WHERE credit_account IS NULL)
                  SELECT held.total, issued.total, redeemed.total FROM held, issued, redeemed
                  WHERE held.total <> issued.total - redeemed.total`,
		},
		{
			Name: "O6_one_terminal_event",
			SQL: `SELECT c.id FROM contracts c
                  WHERE (c.withdrawn OR c.refunded)
                    AND (SELECT COUNT(*) FROM outbox o
                         WHERE o.contract_id = c.id AND o.topic IN ('htlc.withdrawn', 'htlc.refunded')) <> 1`,
		},
		{
			Name: "O7_contract_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_contracts')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
