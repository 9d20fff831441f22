package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/metrics"
	"github.com/tanglemarket/trade-engine/internal/port"
)

// Engine implements the trade-order business logic: order intake, funding
// reconciliation, matching, cancellation and book queries.
type Engine struct {
	repo    port.Repository
	cache   port.Cache
	wallet  port.OutputBuilder
	matcher *Matcher
	builder *SettlementBuilder
	log     *zap.Logger
	met     *metrics.Metrics
}

func NewEngine(repo port.Repository, cache port.Cache, wallet port.OutputBuilder, builder *SettlementBuilder, log *zap.Logger, met *metrics.Metrics) *Engine {
	return &Engine{
		repo:    repo,
		cache:   cache,
		wallet:  wallet,
		matcher: NewMatcher(repo, builder, wallet, log, met),
		builder: builder,
		log:     log,
		met:     met,
	}
}

// SubmitOrder validates and persists a new order. A SELL order locks the
// owner's token balance and is immediately matchable; a BUY order waits for
// the payment reconciler to confirm funding.
func (e *Engine) SubmitOrder(ctx context.Context, o *domain.TradeOrder) (*MatchResult, error) {
	if err := validateOrder(o); err != nil {
		return nil, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = domain.Active
	o.CreatedOn = time.Now().UTC()
	o.FilledCount = 0
	o.Balance = 0
	o.FundedAmount = 0

	err := withTx(ctx, e.repo, func(tx port.Tx) error {
		if o.Direction == domain.Sell {
			if err := tx.AddBalance(ctx, o.Token, o.Owner, 0, int64(o.RequestedCount)); err != nil {
				return err
			}
		}
		return tx.CreateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("order created",
		zap.String("order", o.ID),
		zap.String("token", o.Token),
		zap.String("direction", string(o.Direction)),
		zap.Uint64("count", o.RequestedCount))

	res := &MatchResult{OrderID: o.ID}
	if o.Direction == domain.Sell {
		// The token lock funds a SELL order; match right away.
		res, err = e.matcher.Match(ctx, o.ID)
		if err != nil {
			return res, err
		}
	}
	e.refreshBook(ctx, o.Token)
	return res, nil
}

// HandleOrderFunded applies a funding confirmation from the payment
// reconciler and triggers matching. The event is delivered at-least-once
// with the cumulative confirmed amount, so redelivery and terminal orders
// are safe no-ops.
func (e *Engine) HandleOrderFunded(ctx context.Context, orderID string, confirmedAmount uint64) (*MatchResult, error) {
	var token string
	err := withTx(ctx, e.repo, func(tx port.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Terminal() {
			return nil
		}
		if confirmedAmount <= o.FundedAmount {
			// Redelivery of an already-reconciled confirmation.
			return nil
		}
		delta := confirmedAmount - o.FundedAmount
		upd := *o
		upd.FundedAmount = confirmedAmount
		upd.Balance += delta
		token = o.Token
		return tx.UpdateOrder(ctx, &upd)
	})
	if err != nil {
		return nil, err
	}
	res, err := e.matcher.Match(ctx, orderID)
	if err != nil {
		return res, err
	}
	if token != "" {
		e.refreshBook(ctx, token)
	}
	return res, nil
}

// CancelOrder cancels an open order owned by member and refunds its locks
// through the settlement builder's credit path.
func (e *Engine) CancelOrder(ctx context.Context, orderID, member string) error {
	var (
		credit *domain.Payment
		token  string
	)
	err := withTx(ctx, e.repo, func(tx port.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Owner != member {
			return domain.ErrOrderNotFound
		}
		if o.Terminal() {
			return fmt.Errorf("cancel %v: order is %v: %w", orderID, o.Status, domain.ErrInvalidOrderState)
		}
		rel, err := e.builder.Release(o, domain.Cancelled)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, rel.Order); err != nil {
			return err
		}
		if rel.Credit != nil {
			if err := tx.SavePayment(ctx, rel.Credit); err != nil {
				return err
			}
		}
		for _, d := range rel.BalanceDeltas {
			if err := tx.AddBalance(ctx, d.Token, d.Member, d.OwnedDelta, d.LockedDelta); err != nil {
				return err
			}
		}
		credit = rel.Credit
		token = o.Token
		return nil
	})
	if err != nil {
		return err
	}
	if credit != nil && e.wallet != nil {
		if err := e.wallet.Submit(ctx, []*domain.Payment{credit}); err != nil {
			e.log.Error("wallet handoff failed",
				zap.String("order", orderID),
				zap.String("payment", credit.ID),
				zap.Error(err))
		}
	}
	e.refreshBook(ctx, token)
	return nil
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.TradeOrder, error) {
	return e.repo.GetOrder(ctx, orderID)
}

func (e *Engine) GetPurchases(ctx context.Context, orderID string) ([]*domain.Purchase, error) {
	return e.repo.ListPurchasesForOrder(ctx, orderID)
}

func (e *Engine) GetBalance(ctx context.Context, token, member string) (*domain.BalanceEntry, error) {
	return e.repo.GetBalance(ctx, token, member)
}

// GetBook returns the token's book snapshot, cache first.
func (e *Engine) GetBook(ctx context.Context, token string) (*domain.BookSnapshot, error) {
	if e.cache != nil {
		if book, err := e.cache.GetBook(ctx, token); err == nil && book != nil {
			return book, nil
		}
	}
	return e.buildBook(ctx, token)
}

// refreshBook rebuilds the cached snapshot after a committed mutation. Cache
// failures are not fatal: the book is always reconstructable from orders.
func (e *Engine) refreshBook(ctx context.Context, token string) {
	if token == "" || e.cache == nil {
		return
	}
	book, err := e.buildBook(ctx, token)
	if err != nil {
		_ = e.cache.Invalidate(ctx, token)
		return
	}
	_ = e.cache.SetBook(ctx, token, book)
}

func (e *Engine) buildBook(ctx context.Context, token string) (*domain.BookSnapshot, error) {
	orders, err := e.repo.ListOpenOrders(ctx, token)
	if err != nil {
		return nil, err
	}
	book := &domain.BookSnapshot{Token: token, Bids: []domain.TradeOrder{}, Asks: []domain.TradeOrder{}}
	for _, o := range orders {
		if o.Direction == domain.Buy {
			book.Bids = append(book.Bids, *o)
		} else {
			book.Asks = append(book.Asks, *o)
		}
	}
	// bids: price desc, FIFO on CreatedOn; asks: price asc, FIFO on CreatedOn
	sort.SliceStable(book.Bids, func(i, j int) bool {
		if !book.Bids[i].Price.Equal(book.Bids[j].Price) {
			return book.Bids[i].Price.GreaterThan(book.Bids[j].Price)
		}
		return book.Bids[i].CreatedOn.Before(book.Bids[j].CreatedOn)
	})
	sort.SliceStable(book.Asks, func(i, j int) bool {
		if !book.Asks[i].Price.Equal(book.Asks[j].Price) {
			return book.Asks[i].Price.LessThan(book.Asks[j].Price)
		}
		return book.Asks[i].CreatedOn.Before(book.Asks[j].CreatedOn)
	})
	if e.met != nil {
		e.met.OpenOrders.Set(float64(len(orders)))
	}
	return book, nil
}

func validateOrder(o *domain.TradeOrder) error {
	if o.Token == "" || o.Owner == "" {
		return fmt.Errorf("order needs token and owner: %w", domain.ErrInvalidOrderState)
	}
	if o.Direction != domain.Buy && o.Direction != domain.Sell {
		return fmt.Errorf("order direction %q: %w", o.Direction, domain.ErrInvalidOrderState)
	}
	if o.RequestedCount == 0 {
		return fmt.Errorf("order count must be positive: %w", domain.ErrInvalidOrderState)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("order price must be positive: %w", domain.ErrInvalidOrderState)
	}
	if o.Price.Exponent() < -domain.PriceScale {
		return fmt.Errorf("order price precision exceeds %d decimals: %w", domain.PriceScale, domain.ErrInvalidOrderState)
	}
	return nil
}
