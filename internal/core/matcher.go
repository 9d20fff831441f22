package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/metrics"
	"github.com/tanglemarket/trade-engine/internal/port"
)

const (
	defaultMaxRetries     = 5
	defaultCandidateBatch = 25
)

// Matcher orchestrates matching of a funded order against the resting
// counter-book. Each match step (taker + one maker + all resulting records)
// commits as a single per-token transaction; payments are handed to the
// wallet only after the commit.
type Matcher struct {
	repo    port.Repository
	builder *SettlementBuilder
	wallet  port.OutputBuilder
	log     *zap.Logger
	met     *metrics.Metrics

	maxRetries     int
	candidateBatch int
}

// MatchResult summarizes one Match invocation.
type MatchResult struct {
	OrderID     string
	Purchases   []*domain.Purchase
	Payments    []*domain.Payment
	FilledCount uint64
}

func NewMatcher(repo port.Repository, builder *SettlementBuilder, wallet port.OutputBuilder, log *zap.Logger, met *metrics.Metrics) *Matcher {
	return &Matcher{
		repo:           repo,
		builder:        builder,
		wallet:         wallet,
		log:            log,
		met:            met,
		maxRetries:     defaultMaxRetries,
		candidateBatch: defaultCandidateBatch,
	}
}

type matchStep struct {
	purchase *domain.Purchase
	payments []*domain.Payment
	filled   uint64
	done     bool
}

// Match fills the order against compatible counter-orders until it is
// settled or the book is exhausted. Calling it on a terminal or unfunded
// order is a no-op returning zero matches, so redelivered funding events
// are safe.
func (m *Matcher) Match(ctx context.Context, orderID string) (*MatchResult, error) {
	start := time.Now()
	res := &MatchResult{OrderID: orderID}
	for {
		step, err := m.matchStep(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidOrderState) {
				m.log.Info("match skipped, order not matchable",
					zap.String("order", orderID))
				break
			}
			return res, err
		}
		if step.purchase != nil {
			res.Purchases = append(res.Purchases, step.purchase)
			res.Payments = append(res.Payments, step.payments...)
			res.FilledCount += step.filled
			m.afterCommit(ctx, step)
		}
		if step.done {
			break
		}
	}
	if m.met != nil {
		m.met.MatchesTotal.Inc()
		m.met.MatchDur.Observe(time.Since(start).Seconds())
	}
	return res, nil
}

// afterCommit runs the side effects that must stay outside the locked
// region: wallet handoff and metrics.
func (m *Matcher) afterCommit(ctx context.Context, step *matchStep) {
	if m.wallet != nil {
		if err := m.wallet.Submit(ctx, step.payments); err != nil {
			// The payments are durably recorded; the wallet layer re-reads
			// unprocessed payments on recovery.
			m.log.Error("wallet handoff failed",
				zap.String("purchase", step.purchase.ID),
				zap.Error(err))
		}
	}
	if m.met != nil {
		m.met.PurchasesTotal.Inc()
		for _, p := range step.payments {
			m.met.PaymentsTotal.WithLabelValues(string(p.Kind)).Inc()
		}
	}
}

// matchStep executes one taker-vs-one-maker fill in its own transaction,
// retrying bounded times on optimistic-concurrency conflicts.
func (m *Matcher) matchStep(ctx context.Context, orderID string) (*matchStep, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		step := &matchStep{}
		err := withTx(ctx, m.repo, func(tx port.Tx) error {
			return m.stepInTx(ctx, tx, orderID, step)
		})
		if err == nil {
			return step, nil
		}
		if errors.Is(err, domain.ErrConflictRetry) {
			lastErr = err
			if m.met != nil {
				m.met.ConflictRetries.Inc()
			}
			m.log.Warn("match step conflict, retrying",
				zap.String("order", orderID),
				zap.Int("attempt", attempt+1))
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("match %v: retries exhausted: %w", orderID, lastErr)
}

func (m *Matcher) stepInTx(ctx context.Context, tx port.Tx, orderID string, step *matchStep) error {
	taker, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !taker.Matchable() {
		step.done = true
		return nil
	}

	counterDir := domain.Sell
	if taker.Direction == domain.Sell {
		counterDir = domain.Buy
	}
	candidates, err := tx.LockCounterOrders(ctx, taker.Token, counterDir, taker.Price, m.candidateBatch)
	if err != nil {
		return err
	}

	for _, maker := range candidates {
		if maker.ID == taker.ID || !maker.Matchable() {
			continue
		}
		// The trade executes at the resting order's quote.
		tradePrice := maker.Price
		fillQty := minQty(taker.Remaining(), maker.Remaining())
		buyOrd := taker
		if taker.Direction == domain.Sell {
			buyOrd = maker
		}
		fillQty = affordableQty(buyOrd.Balance, tradePrice, fillQty)
		if fillQty == 0 {
			continue
		}

		settlement, err := m.builder.Settle(taker, maker, fillQty, tradePrice)
		if err != nil {
			if errors.Is(err, domain.ErrStorageDepositUnsatisfiable) {
				return fmt.Errorf("order %v against %v: %w", taker.ID, maker.ID, err)
			}
			return err
		}
		if err := m.applySettlement(ctx, tx, settlement); err != nil {
			return err
		}
		step.purchase = settlement.Purchase
		step.payments = settlement.Payments
		step.filled = fillQty
		step.done = settlementDone(settlement, taker.ID)
		return nil
	}

	// Book exhausted; the order stays open for future counter-orders.
	step.done = true
	return nil
}

func (m *Matcher) applySettlement(ctx context.Context, tx port.Tx, s *Settlement) error {
	if err := tx.UpdateOrder(ctx, s.Buy); err != nil {
		return err
	}
	if err := tx.UpdateOrder(ctx, s.Sell); err != nil {
		return err
	}
	if err := tx.SavePurchase(ctx, s.Purchase); err != nil {
		return err
	}
	for _, p := range s.Payments {
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}
	}
	for _, d := range s.BalanceDeltas {
		if err := tx.AddBalance(ctx, d.Token, d.Member, d.OwnedDelta, d.LockedDelta); err != nil {
			return err
		}
	}
	return nil
}

func settlementDone(s *Settlement, takerID string) bool {
	taker := s.Buy
	if s.Sell.ID == takerID {
		taker = s.Sell
	}
	return !taker.Matchable()
}

func minQty(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// affordableQty caps a fill at the largest quantity whose ceiling cost fits
// in the buyer's locked balance. Partial reconciliation may leave a BUY
// order funded below its full target.
func affordableQty(balance uint64, price decimal.Decimal, want uint64) uint64 {
	if want == 0 || !price.IsPositive() {
		return want
	}
	bal := decimal.NewFromUint64(balance)
	q := bal.Div(price).Floor()
	if q.IsNegative() {
		return 0
	}
	qty := uint64(q.IntPart())
	if qty > want {
		qty = want
	}
	for qty > 0 {
		cost := price.Mul(decimal.NewFromUint64(qty)).Ceil()
		if cost.LessThanOrEqual(bal) {
			break
		}
		qty--
	}
	return qty
}
