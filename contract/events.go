package contract

import (
	"encoding/hex"
	"time"

	"htlcflow/notify"
)

func createdEvent(r Record) notify.Event {
	return notify.Event{
		Topic:      notify.TopicCreated,
		ContractID: r.ID,
		OccurredAt: r.CreatedAt,
		Payload: map[string]any{
			"depositor": r.Depositor,
			"receiver":  r.Receiver,
			"amount":    r.Amount,
			"hashlock":  r.Hashlock.String(),
			"timelock":  r.Timelock.Format(time.RFC3339Nano),
		},
	}
}

func withdrawnEvent(r Record) notify.Event {
	return notify.Event{
		Topic:      notify.TopicWithdrawn,
		ContractID: r.ID,
		OccurredAt: finalizedAt(r),
		Payload: map[string]any{
			"receiver": r.Receiver,
			"amount":   r.Amount,
			"secret":   hex.EncodeToString(r.RevealedSecret),
		},
	}
}

func refundedEvent(r Record) notify.Event {
	return notify.Event{
		Topic:      notify.TopicRefunded,
		ContractID: r.ID,
		OccurredAt: finalizedAt(r),
		Payload: map[string]any{
			"depositor": r.Depositor,
			"amount":    r.Amount,
		},
	}
}

func finalizedAt(r Record) time.Time {
	if r.FinalizedAt == nil {
		return time.Time{}
	}
	return *r.FinalizedAt
}
