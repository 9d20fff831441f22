package port

import (
	"context"

	"github.com/tanglemarket/trade-engine/internal/domain"
)

// OutputBuilder is the wallet layer that turns payment records into signed
// ledger transactions. Payments are handed off only after the settlement
// transaction committed; the builder consumes each payment exactly once,
// keyed by its id.
type OutputBuilder interface {
	Submit(ctx context.Context, payments []*domain.Payment) error
}
