package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tanglemarket/trade-engine/internal/domain"
)

// BalanceDelta is a relative mutation of one (token, member) balance entry.
type BalanceDelta struct {
	Token       string
	Member      string
	OwnedDelta  int64
	LockedDelta int64
}

// Settlement is everything one match produces: the purchase record, the
// payments to hand to the wallet layer, the mutated order copies and the
// balance-ledger deltas. The caller persists all of it in one atomic unit.
type Settlement struct {
	Purchase      *domain.Purchase
	Payments      []*domain.Payment
	Buy           *domain.TradeOrder
	Sell          *domain.TradeOrder
	BuyerCost     uint64
	GrossProceeds uint64
	Royalty       RoyaltySplit
	Deposit       uint64
	BalanceDeltas []BalanceDelta
}

// SettlementBuilder computes the money and token movements for one match.
// It reads only the two orders and static fee configuration and performs no
// I/O; conflict handling belongs to the caller.
type SettlementBuilder struct {
	Royalties       *RoyaltyConfig
	Rent            RentStructure
	ExchangeAddress string
}

func NewSettlementBuilder(royalties *RoyaltyConfig, rent RentStructure, exchangeAddress string) *SettlementBuilder {
	return &SettlementBuilder{
		Royalties:       royalties,
		Rent:            rent,
		ExchangeAddress: exchangeAddress,
	}
}

// Settle computes the settlement of fillQty tokens between taker and maker
// at tradePrice (the maker's quote). Amount arithmetic: the seller-side
// gross rounds down, the buyer-side cost rounds up, so the house never
// under-collects. The input orders are not mutated; updated copies are
// returned.
func (b *SettlementBuilder) Settle(taker, maker *domain.TradeOrder, fillQty uint64, tradePrice decimal.Decimal) (*Settlement, error) {
	if taker.Token != maker.Token {
		return nil, fmt.Errorf("settle %v against %v: token mismatch", taker.ID, maker.ID)
	}
	if taker.Direction == maker.Direction {
		return nil, fmt.Errorf("settle %v against %v: same direction %v", taker.ID, maker.ID, taker.Direction)
	}
	if fillQty == 0 || fillQty > taker.Remaining() || fillQty > maker.Remaining() {
		return nil, fmt.Errorf("settle %v against %v: fill %d exceeds remaining: %w",
			taker.ID, maker.ID, fillQty, domain.ErrInvalidOrderState)
	}

	buyOrd, sellOrd := taker, maker
	if taker.Direction == domain.Sell {
		buyOrd, sellOrd = maker, taker
	}
	buy, sell := *buyOrd, *sellOrd

	qty := decimal.NewFromUint64(fillQty)
	gross := uint64(tradePrice.Mul(qty).Floor().IntPart())
	buyerCost := uint64(tradePrice.Mul(qty).Ceil().IntPart())
	if buy.Balance < buyerCost {
		return nil, fmt.Errorf("settle buy %v: cost %d exceeds locked balance %d: %w",
			buy.ID, buyerCost, buy.Balance, domain.ErrInvalidOrderState)
	}

	royalty := b.Royalties.Fees(gross, buy.Token, nil)

	// The buyer's native-token output must carry the protocol minimum
	// deposit. The deposit comes out of the gross when that leaves the
	// seller a broadcastable proceeds output; otherwise the exchange
	// fronts it and attaches a storage return so the deposit is
	// reclaimable. Only a trade unsatisfiable under both arrangements is
	// rejected.
	var (
		deposit       uint64
		storageReturn *domain.StorageReturn
		sellerNet     uint64
	)
	selfFunded := b.Rent.TokenOutputDeposit(false)
	minOutput := b.Rent.MinDeposit(OutputSpec{})
	if net := gross - royalty.Total; gross >= royalty.Total+selfFunded &&
		(net-selfFunded == 0 || net-selfFunded >= minOutput) {
		deposit = selfFunded
		sellerNet = net - selfFunded
	} else {
		deposit = b.Rent.TokenOutputDeposit(true)
		storageReturn = &domain.StorageReturn{Address: b.ExchangeAddress, Amount: deposit}
		sellerNet = net
		if sellerNet > 0 && sellerNet < minOutput {
			return nil, fmt.Errorf("settle sell %v: net proceeds %d below minimum output: %w",
				sell.ID, sellerNet, domain.ErrStorageDepositUnsatisfiable)
		}
	}

	now := time.Now().UTC()
	purchase := &domain.Purchase{
		ID:            uuid.NewString(),
		Token:         buy.Token,
		Sell:          sell.ID,
		Buy:           buy.ID,
		Count:         fillQty,
		Price:         tradePrice,
		SourceNetwork: buy.SourceNetwork,
		TargetNetwork: buy.TargetNetwork,
		CreatedOn:     now,
	}

	var payments []*domain.Payment
	if sellerNet > 0 {
		payments = append(payments, &domain.Payment{
			ID:            uuid.NewString(),
			Kind:          domain.BillPayment,
			Member:        sell.Owner,
			Amount:        sellerNet,
			SourceAddress: buy.SourceAddress,
			TargetAddress: sell.SourceAddress,
			Network:       buy.SourceNetwork,
			CreatedOn:     now,
		})
	}
	for _, space := range []struct {
		address string
		amount  uint64
	}{
		{b.Royalties.SpaceOneAddress, royalty.SpaceOne},
		{b.Royalties.SpaceTwoAddress, royalty.SpaceTwo},
	} {
		if space.amount == 0 {
			continue
		}
		payments = append(payments, &domain.Payment{
			ID:            uuid.NewString(),
			Kind:          domain.BillPayment,
			Member:        space.address,
			Amount:        space.amount,
			SourceAddress: buy.SourceAddress,
			TargetAddress: space.address,
			Network:       buy.SourceNetwork,
			CreatedOn:     now,
		})
	}
	payments = append(payments, &domain.Payment{
		ID:            uuid.NewString(),
		Kind:          domain.BillPayment,
		Member:        buy.Owner,
		Amount:        deposit,
		NativeToken:   &domain.NativeToken{TokenID: buy.Token, Amount: fillQty},
		SourceAddress: b.ExchangeAddress,
		TargetAddress: buy.SourceAddress,
		StorageReturn: storageReturn,
		Network:       buy.TargetNetwork,
		CreatedOn:     now,
	})

	buy.FilledCount += fillQty
	buy.Balance -= buyerCost
	sell.FilledCount += fillQty
	setFillStatus(&buy)
	setFillStatus(&sell)

	// A fully filled BUY order returns any unused locked balance (rounding
	// dust and price improvement against its own limit) to its owner.
	if buy.Status == domain.Settled && buy.Balance > 0 {
		payments = append(payments, &domain.Payment{
			ID:            uuid.NewString(),
			Kind:          domain.Credit,
			Member:        buy.Owner,
			Amount:        buy.Balance,
			SourceAddress: b.ExchangeAddress,
			TargetAddress: buy.SourceAddress,
			Network:       buy.SourceNetwork,
			CreatedOn:     now,
		})
		buy.Balance = 0
	}

	deltas := []BalanceDelta{
		{Token: sell.Token, Member: sell.Owner, OwnedDelta: -int64(fillQty), LockedDelta: -int64(fillQty)},
		{Token: buy.Token, Member: buy.Owner, OwnedDelta: int64(fillQty)},
	}

	return &Settlement{
		Purchase:      purchase,
		Payments:      payments,
		Buy:           &buy,
		Sell:          &sell,
		BuyerCost:     buyerCost,
		GrossProceeds: gross,
		Royalty:       royalty,
		Deposit:       deposit,
		BalanceDeltas: deltas,
	}, nil
}

// Release is the credit path shared by cancellation and expiry: it moves an
// open order to the given terminal status, returns any locked BUY funds as a
// CREDIT payment and frees a SELL order's remaining token lock. Releasing an
// already-terminal order yields no changes.
type Release struct {
	Order         *domain.TradeOrder
	Credit        *domain.Payment
	BalanceDeltas []BalanceDelta
}

func (b *SettlementBuilder) Release(ord *domain.TradeOrder, status domain.OrderStatus) (*Release, error) {
	if status != domain.Cancelled && status != domain.Expired {
		return nil, fmt.Errorf("release %v: status %v is not a release status", ord.ID, status)
	}
	if ord.Terminal() {
		return &Release{Order: ord}, nil
	}
	o := *ord
	o.Status = status

	rel := &Release{Order: &o}
	switch o.Direction {
	case domain.Buy:
		if o.Balance > 0 {
			rel.Credit = &domain.Payment{
				ID:            uuid.NewString(),
				Kind:          domain.Credit,
				Member:        o.Owner,
				Amount:        o.Balance,
				SourceAddress: b.ExchangeAddress,
				TargetAddress: o.SourceAddress,
				Network:       o.SourceNetwork,
				CreatedOn:     time.Now().UTC(),
			}
			o.Balance = 0
		}
	case domain.Sell:
		if rem := o.Remaining(); rem > 0 {
			rel.BalanceDeltas = append(rel.BalanceDeltas, BalanceDelta{
				Token:       o.Token,
				Member:      o.Owner,
				LockedDelta: -int64(rem),
			})
		}
	}
	return rel, nil
}

func setFillStatus(o *domain.TradeOrder) {
	switch {
	case o.FilledCount >= o.RequestedCount:
		o.Status = domain.Settled
	case o.FilledCount > 0:
		o.Status = domain.PartiallyFilled
	}
}
