package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"htlcflow/db"
)

// OutboxMessage mirrors a row of the outbox table.
type OutboxMessage struct {
	ID         string
	Topic      string
	ContractID string
	Payload    []byte
	Status     string
	Attempts   int
	CreatedAt  time.Time
}

// WriteOutbox appends ev to the outbox using q, normally the transaction that
// performs the state change the event describes.
func WriteOutbox(ctx context.Context, q db.Querier, ev Event) error {
	payload := make(map[string]any, len(ev.Payload)+2)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	payload["contract_id"] = ev.ContractID
	if !ev.OccurredAt.IsZero() {
		payload["occurred_at"] = ev.OccurredAt.UTC()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal outbox payload: %w", err)
	}

	var contractID any
	if ev.ContractID != "" {
		contractID = ev.ContractID
	}

	const insertSQL = `
INSERT INTO outbox (topic, contract_id, payload)
VALUES ($1, $2, $3);
`
	if _, err := q.Exec(ctx, insertSQL, ev.Topic, contractID, payloadBytes); err != nil {
		return fmt.Errorf("notify: insert outbox message: %w", err)
	}
	return nil
}

// ListOutbox returns outbox messages, newest last. An empty contractID lists all.
func ListOutbox(ctx context.Context, q db.Querier, contractID string, limit int) ([]OutboxMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id::text, topic, COALESCE(contract_id::text, ''), payload, status, attempts, created_at
		FROM outbox
	`
	args := []any{}
	if contractID != "" {
		query += " WHERE contract_id = $1"
		args = append(args, contractID)
	}
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT %d", limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("notify: list outbox: %w", err)
	}
	defer rows.Close()

	out := make([]OutboxMessage, 0, 8)
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.ContractID, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan outbox: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate outbox: %w", err)
	}
	return out, nil
}
