package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tanglemarket/trade-engine/internal/domain"
)

type Repository interface {
	GetOrder(ctx context.Context, orderID string) (*domain.TradeOrder, error)
	// ListOpenOrders returns ACTIVE and PARTIALLY_FILLED orders for a token,
	// FIFO by created_on. Used for book snapshots, never for matching: the
	// matcher re-reads candidates under lock inside a transaction.
	ListOpenOrders(ctx context.Context, token string) ([]*domain.TradeOrder, error)
	// ListExpiredOrderIDs returns ids of open orders with expires_at <= now.
	ListExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListPurchasesForOrder(ctx context.Context, orderID string) ([]*domain.Purchase, error)
	GetBalance(ctx context.Context, token, member string) (*domain.BalanceEntry, error)

	BeginTx(ctx context.Context) (Tx, error)
	Close()
}

// Tx is one per-token atomic unit. Order reads inside a Tx take row locks
// (or the adapter's equivalent conflict detection); Commit fails with
// domain.ErrConflictRetry when a concurrent unit won the race.
type Tx interface {
	// LockOrder reads an order for update.
	LockOrder(ctx context.Context, orderID string) (*domain.TradeOrder, error)
	// LockCounterOrders reads, for update, the open counter-orders of the
	// given direction whose price is compatible with limitPrice, best price
	// first, created_on as tie-break. For dir == SELL compatible means
	// price <= limitPrice (ascending); for dir == BUY price >= limitPrice
	// (descending).
	LockCounterOrders(ctx context.Context, token string, dir domain.Direction, limitPrice decimal.Decimal, limit int) ([]*domain.TradeOrder, error)
	CreateOrder(ctx context.Context, o *domain.TradeOrder) error
	UpdateOrder(ctx context.Context, o *domain.TradeOrder) error
	SavePurchase(ctx context.Context, p *domain.Purchase) error
	SavePayment(ctx context.Context, p *domain.Payment) error
	// AddBalance applies relative deltas to a (token, member) entry,
	// creating it when absent. Fails with domain.ErrInsufficientBalance when
	// a delta would leave locked_for_sale > token_owned or either negative.
	AddBalance(ctx context.Context, token, member string, ownedDelta, lockedDelta int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
