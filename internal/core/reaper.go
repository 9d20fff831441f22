package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/metrics"
	"github.com/tanglemarket/trade-engine/internal/port"
)

const (
	DefaultSweepInterval = time.Minute
	sweepBatchSize       = 200
)

// Reaper cancels orders past their deadline and returns their locked funds.
// It is stateless between ticks: every sweep works purely off persisted
// order state, so re-running it over already-expired orders is a no-op.
type Reaper struct {
	repo     port.Repository
	builder  *SettlementBuilder
	wallet   port.OutputBuilder
	cache    port.Cache
	log      *zap.Logger
	met      *metrics.Metrics
	interval time.Duration
}

func NewReaper(repo port.Repository, builder *SettlementBuilder, wallet port.OutputBuilder, cache port.Cache, log *zap.Logger, met *metrics.Metrics, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{
		repo:     repo,
		builder:  builder,
		wallet:   wallet,
		cache:    cache,
		log:      log,
		met:      met,
		interval: interval,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, time.Now()); err != nil {
				r.log.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires every open order with expiresAt <= now and returns the
// number cancelled. Orders are processed independently: one failure is
// logged and does not block the rest of the batch.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := r.repo.ListExpiredOrderIDs(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if err := r.expireOne(ctx, id); err != nil {
			r.log.Error("expire order failed",
				zap.String("order", id),
				zap.Error(err))
			continue
		}
		expired++
	}
	if expired > 0 && r.met != nil {
		r.met.ExpiredOrders.Add(float64(expired))
	}
	return expired, nil
}

func (r *Reaper) expireOne(ctx context.Context, orderID string) error {
	var (
		credit *domain.Payment
		token  string
	)
	err := withTx(ctx, r.repo, func(tx port.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Terminal() {
			// Raced with a match or an earlier sweep.
			return nil
		}
		rel, err := r.builder.Release(o, domain.Expired)
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
	if credit != nil && r.wallet != nil {
		if err := r.wallet.Submit(ctx, []*domain.Payment{credit}); err != nil {
			r.log.Error("wallet handoff failed",
				zap.String("order", orderID),
				zap.String("payment", credit.ID),
				zap.Error(err))
		}
	}
	if token != "" && r.cache != nil {
		_ = r.cache.Invalidate(ctx, token)
	}
	return nil
}
