package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/port"
)

var _ port.Repository = (*PgRepo)(nil)

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finished working with the database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func NewRepository(pool *pgxpool.Pool) *PgRepo {
	return &PgRepo{pool: pool}
}

func (p *PgRepo) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

const orderColumns = `id, token, owner_id, direction, requested_count, price, filled_count,
balance, funded_amount, status, created_on, expires_at, source_network, target_network, source_address`

func scanOrder(row pgx.Row) (*domain.TradeOrder, error) {
	var (
		o              domain.TradeOrder
		dir, status    string
		srcNet, tgtNet string
		price          decimal.Decimal
		expires        *time.Time
	)
	err := row.Scan(&o.ID, &o.Token, &o.Owner, &dir, &o.RequestedCount, &price, &o.FilledCount,
		&o.Balance, &o.FundedAmount, &status, &o.CreatedOn, &expires, &srcNet, &tgtNet, &o.SourceAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	o.Direction = domain.Direction(dir)
	o.Status = domain.OrderStatus(status)
	o.Price = price
	o.SourceNetwork = domain.Network(srcNet)
	o.TargetNetwork = domain.Network(tgtNet)
	if expires != nil {
		o.ExpiresAt = *expires
	}
	return &o, nil
}

func (p *PgRepo) GetOrder(ctx context.Context, orderID string) (*domain.TradeOrder, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM trade_orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// ListOpenOrders returns open orders for a token, FIFO by created_on.
func (p *PgRepo) ListOpenOrders(ctx context.Context, token string) ([]*domain.TradeOrder, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+orderColumns+`
FROM trade_orders
WHERE token = $1 AND status IN ('ACTIVE', 'PARTIALLY_FILLED')
ORDER BY created_on ASC
`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.TradeOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (p *PgRepo) ListExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id
FROM trade_orders
WHERE status IN ('ACTIVE', 'PARTIALLY_FILLED') AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2
`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PgRepo) ListPurchasesForOrder(ctx context.Context, orderID string) ([]*domain.Purchase, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, token, sell_order, buy_order, count, price, source_network, target_network, created_on
FROM purchases
WHERE sell_order = $1 OR buy_order = $1
ORDER BY created_on ASC
`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Purchase
	for rows.Next() {
		var (
			pu             domain.Purchase
			srcNet, tgtNet string
		)
		if err := rows.Scan(&pu.ID, &pu.Token, &pu.Sell, &pu.Buy, &pu.Count, &pu.Price, &srcNet, &tgtNet, &pu.CreatedOn); err != nil {
			return nil, err
		}
		pu.SourceNetwork = domain.Network(srcNet)
		pu.TargetNetwork = domain.Network(tgtNet)
		res = append(res, &pu)
	}
	return res, rows.Err()
}

func (p *PgRepo) GetBalance(ctx context.Context, token, member string) (*domain.BalanceEntry, error) {
	b := &domain.BalanceEntry{Token: token, Member: member}
	err := p.pool.QueryRow(ctx, `
SELECT token_owned, locked_for_sale FROM balances WHERE token = $1 AND member = $2
`, token, member).Scan(&b.TokenOwned, &b.LockedForSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, nil
		}
		return nil, err
	}
	return b, nil
}

func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

// mapError translates row-lock and constraint failures into the engine's
// error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization, deadlock, lock not available
			return fmt.Errorf("%v: %w", pgErr.Message, domain.ErrConflictRetry)
		case "23514": // check violation: a balance or fill invariant
			return fmt.Errorf("%v: %w", pgErr.Message, domain.ErrInsufficientBalance)
		}
	}
	return err
}
