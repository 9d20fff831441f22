package pg

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/port"
)

var _ port.Tx = (*pgTx)(nil)

// pgTx is one per-token atomic unit. Row locks taken by FOR UPDATE reads
// serialize concurrent match steps touching the same orders; NOWAIT turns a
// lost race into domain.ErrConflictRetry instead of queueing behind it.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockOrder(ctx context.Context, orderID string) (*domain.TradeOrder, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM trade_orders WHERE id = $1 FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err)
	}
	return o, nil
}

func (t *pgTx) LockCounterOrders(ctx context.Context, token string, dir domain.Direction, limitPrice decimal.Decimal, limit int) ([]*domain.TradeOrder, error) {
	// Best price for the taker first: ascending for SELL candidates,
	// descending for BUY; created_on breaks ties.
	query := `
SELECT ` + orderColumns + `
FROM trade_orders
WHERE token = $1 AND direction = $2 AND status IN ('ACTIVE', 'PARTIALLY_FILLED') AND price <= $3
ORDER BY price ASC, created_on ASC
LIMIT $4
FOR UPDATE NOWAIT
`
	if dir == domain.Buy {
		query = `
SELECT ` + orderColumns + `
FROM trade_orders
WHERE token = $1 AND direction = $2 AND status IN ('ACTIVE', 'PARTIALLY_FILLED') AND price >= $3
ORDER BY price DESC, created_on ASC
LIMIT $4
FOR UPDATE NOWAIT
`
	}
	rows, err := t.tx.Query(ctx, query, token, string(dir), limitPrice, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var res []*domain.TradeOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapError(err)
		}
		res = append(res, o)
	}
	return res, mapError(rows.Err())
}

func (t *pgTx) CreateOrder(ctx context.Context, o *domain.TradeOrder) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO trade_orders(id, token, owner_id, direction, requested_count, price, filled_count,
  balance, funded_amount, status, created_on, expires_at, source_network, target_network, source_address)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`, o.ID, o.Token, o.Owner, string(o.Direction), o.RequestedCount, o.Price, o.FilledCount,
		o.Balance, o.FundedAmount, string(o.Status), o.CreatedOn, nullableTime(o), string(o.SourceNetwork),
		string(o.TargetNetwork), o.SourceAddress)
	return mapError(err)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *domain.TradeOrder) error {
	if o == nil {
		return errors.New("nil order")
	}
	res, err := t.tx.Exec(ctx, `
UPDATE trade_orders
SET filled_count = $2, balance = $3, funded_amount = $4, status = $5
WHERE id = $1
`, o.ID, o.FilledCount, o.Balance, o.FundedAmount, string(o.Status))
	if err != nil {
		return mapError(err)
	}
	if res.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) SavePurchase(ctx context.Context, p *domain.Purchase) error {
	if p == nil {
		return errors.New("nil purchase")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO purchases(id, token, sell_order, buy_order, count, price, source_network, target_network, created_on)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, p.ID, p.Token, p.Sell, p.Buy, p.Count, p.Price, string(p.SourceNetwork), string(p.TargetNetwork), p.CreatedOn)
	return mapError(err)
}

func (t *pgTx) SavePayment(ctx context.Context, p *domain.Payment) error {
	if p == nil {
		return errors.New("nil payment")
	}
	nativeToken, err := nullableJSON(p.NativeToken)
	if err != nil {
		return err
	}
	storageReturn, err := nullableJSON(p.StorageReturn)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO payments(id, kind, member, amount, native_token, source_address, target_address, storage_return, network, void, created_on)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, p.ID, string(p.Kind), p.Member, p.Amount, nativeToken, p.SourceAddress, p.TargetAddress,
		storageReturn, string(p.Network), p.Void, p.CreatedOn)
	return mapError(err)
}

// AddBalance applies relative deltas; the table's check constraints reject
// any mutation that would break locked_for_sale <= token_owned, which
// mapError surfaces as domain.ErrInsufficientBalance.
func (t *pgTx) AddBalance(ctx context.Context, token, member string, ownedDelta, lockedDelta int64) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO balances(token, member, token_owned, locked_for_sale)
VALUES($1,$2,$3,$4)
ON CONFLICT (token, member) DO UPDATE SET
  token_owned = balances.token_owned + EXCLUDED.token_owned,
  locked_for_sale = balances.locked_for_sale + EXCLUDED.locked_for_sale
`, token, member, ownedDelta, lockedDelta)
	return mapError(err)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return mapError(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func nullableTime(o *domain.TradeOrder) interface{} {
	if o.ExpiresAt.IsZero() {
		return nil
	}
	return o.ExpiresAt
}

func nullableJSON(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case *domain.NativeToken:
		if x == nil {
			return nil, nil
		}
	case *domain.StorageReturn:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
