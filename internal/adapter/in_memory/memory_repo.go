package in_memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/port"
)

// MemoryRepo is an in-process Repository used by tests and local runs. It
// gives the same guarantee as the Postgres adapter through optimistic
// version checks: a transaction records the version of every order it read
// and commits only if none changed since.
type MemoryRepo struct {
	mu        sync.Mutex
	orders    map[string]*domain.TradeOrder
	purchases []*domain.Purchase
	payments  []*domain.Payment
	balances  map[string]*domain.BalanceEntry
}

var _ port.Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:   make(map[string]*domain.TradeOrder),
		balances: make(map[string]*domain.BalanceEntry),
	}
}

func balanceKey(token, member string) string { return token + "|" + member }

func (r *MemoryRepo) GetOrder(ctx context.Context, orderID string) (*domain.TradeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryRepo) ListOpenOrders(ctx context.Context, token string) ([]*domain.TradeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.TradeOrder
	for _, o := range r.orders {
		if o.Token == token && !o.Terminal() {
			cp := *o
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedOn.Before(res[j].CreatedOn) })
	return res, nil
}

func (r *MemoryRepo) ListExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, o := range r.orders {
		if !o.Terminal() && !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now) {
			ids = append(ids, o.ID)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (r *MemoryRepo) ListPurchasesForOrder(ctx context.Context, orderID string) ([]*domain.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Purchase
	for _, p := range r.purchases {
		if p.Buy == orderID || p.Sell == orderID {
			cp := *p
			res = append(res, &cp)
		}
	}
	return res, nil
}

// ListPayments returns every payment recorded so far. Test helper; the
// Postgres adapter exposes the equivalent through the wallet recovery query.
func (r *MemoryRepo) ListPayments() []*domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		cp := *p
		res = append(res, &cp)
	}
	return res
}

func (r *MemoryRepo) GetBalance(ctx context.Context, token, member string) (*domain.BalanceEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.balances[balanceKey(token, member)]; ok {
		cp := *b
		return &cp, nil
	}
	return &domain.BalanceEntry{Token: token, Member: member}, nil
}

// Seed installs a balance entry directly, bypassing transaction checks.
func (r *MemoryRepo) Seed(token, member string, owned, locked uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[balanceKey(token, member)] = &domain.BalanceEntry{
		Token:         token,
		Member:        member,
		TokenOwned:    owned,
		LockedForSale: locked,
	}
}

func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memTx{
		repo:     r,
		readVers: make(map[string]int64),
		updates:  make(map[string]*domain.TradeOrder),
	}, nil
}

func (r *MemoryRepo) Close() {}

type balanceDelta struct {
	token, member string
	owned, locked int64
}

type memTx struct {
	repo     *MemoryRepo
	readVers map[string]int64
	creates  []*domain.TradeOrder
	updates  map[string]*domain.TradeOrder
	purchs   []*domain.Purchase
	pays     []*domain.Payment
	deltas   []balanceDelta
	done     bool
}

func (t *memTx) LockOrder(ctx context.Context, orderID string) (*domain.TradeOrder, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	o, ok := t.repo.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	t.readVers[o.ID] = o.Version
	cp := *o
	return &cp, nil
}

func (t *memTx) LockCounterOrders(ctx context.Context, token string, dir domain.Direction, limitPrice decimal.Decimal, limit int) ([]*domain.TradeOrder, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var res []*domain.TradeOrder
	for _, o := range t.repo.orders {
		if o.Token != token || o.Direction != dir || o.Terminal() {
			continue
		}
		if dir == domain.Sell && o.Price.GreaterThan(limitPrice) {
			continue
		}
		if dir == domain.Buy && o.Price.LessThan(limitPrice) {
			continue
		}
		cp := *o
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Price.Equal(res[j].Price) {
			if dir == domain.Sell {
				return res[i].Price.LessThan(res[j].Price)
			}
			return res[i].Price.GreaterThan(res[j].Price)
		}
		return res[i].CreatedOn.Before(res[j].CreatedOn)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	for _, o := range res {
		t.readVers[o.ID] = o.Version
	}
	return res, nil
}

func (t *memTx) CreateOrder(ctx context.Context, o *domain.TradeOrder) error {
	cp := *o
	t.creates = append(t.creates, &cp)
	return nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *domain.TradeOrder) error {
	cp := *o
	t.updates[o.ID] = &cp
	return nil
}

func (t *memTx) SavePurchase(ctx context.Context, p *domain.Purchase) error {
	cp := *p
	t.purchs = append(t.purchs, &cp)
	return nil
}

func (t *memTx) SavePayment(ctx context.Context, p *domain.Payment) error {
	cp := *p
	t.pays = append(t.pays, &cp)
	return nil
}

func (t *memTx) AddBalance(ctx context.Context, token, member string, ownedDelta, lockedDelta int64) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	// Optimistic pre-check; re-validated against the live entry at commit.
	if err := t.checkBalanceLocked(token, member, ownedDelta, lockedDelta); err != nil {
		return err
	}
	t.deltas = append(t.deltas, balanceDelta{token: token, member: member, owned: ownedDelta, locked: lockedDelta})
	return nil
}

// checkBalanceLocked validates the live entry plus every staged delta for
// the same (token, member) against the ledger invariants. Caller holds
// repo.mu.
func (t *memTx) checkBalanceLocked(token, member string, ownedDelta, lockedDelta int64) error {
	owned, locked := int64(0), int64(0)
	if b, ok := t.repo.balances[balanceKey(token, member)]; ok {
		owned, locked = int64(b.TokenOwned), int64(b.LockedForSale)
	}
	for _, d := range t.deltas {
		if d.token == token && d.member == member {
			owned += d.owned
			locked += d.locked
		}
	}
	owned += ownedDelta
	locked += lockedDelta
	if owned < 0 || locked < 0 || locked > owned {
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	for id, ver := range t.readVers {
		if cur, ok := t.repo.orders[id]; !ok || cur.Version != ver {
			return domain.ErrConflictRetry
		}
	}
	for _, d := range t.deltas {
		if err := t.checkBalanceLocked(d.token, d.member, 0, 0); err != nil {
			return err
		}
	}

	for _, o := range t.creates {
		t.repo.orders[o.ID] = o
	}
	for id, o := range t.updates {
		o.Version = t.readVers[id] + 1
		t.repo.orders[id] = o
	}
	t.repo.purchases = append(t.repo.purchases, t.purchs...)
	t.repo.payments = append(t.repo.payments, t.pays...)
	for _, d := range t.deltas {
		key := balanceKey(d.token, d.member)
		b, ok := t.repo.balances[key]
		if !ok {
			b = &domain.BalanceEntry{Token: d.token, Member: d.member}
			t.repo.balances[key] = b
		}
		b.TokenOwned = uint64(int64(b.TokenOwned) + d.owned)
		b.LockedForSale = uint64(int64(b.LockedForSale) + d.locked)
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
