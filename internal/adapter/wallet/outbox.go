package wallet

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/port"
)

const outboxKey = "payments:outbox"

var _ port.OutputBuilder = (*Outbox)(nil)

// Outbox hands committed payment records to the wallet service through a
// redis list. The wallet worker pops each entry, builds and signs the
// ledger transaction, and reports confirmation back through the payment
// reconciler. Payments are already durable in Postgres before they reach
// the outbox, so the wallet recovers missed entries from there.
type Outbox struct {
	client *redis.Client
}

func NewOutbox(client *redis.Client) *Outbox {
	return &Outbox{client: client}
}

func (o *Outbox) Submit(ctx context.Context, payments []*domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	entries := make([]interface{}, 0, len(payments))
	for _, p := range payments {
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		entries = append(entries, b)
	}
	return o.client.RPush(ctx, outboxKey, entries...).Err()
}
