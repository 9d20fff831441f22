package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string
type OrderStatus string
type Network string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"

	Active          OrderStatus = "ACTIVE"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Settled         OrderStatus = "SETTLED"
	Cancelled       OrderStatus = "CANCELLED"
	Expired         OrderStatus = "EXPIRED"

	NetworkIota    Network = "iota"
	NetworkShimmer Network = "smr"
)

// PriceScale is the maximum number of decimal places a quote may carry,
// denominated in base units per token.
const PriceScale = 6

// TradeOrder is one resting or historical order. Balance is the locked
// base-coin funds still unspent on a BUY order; SELL orders lock token
// quantity in the balance ledger instead. FundedAmount is the cumulative
// confirmed funding reported by the payment reconciler, kept so redelivered
// confirmations apply exactly once.
type TradeOrder struct {
	ID             string          `json:"id"`
	Token          string          `json:"token"`
	Owner          string          `json:"owner"`
	Direction      Direction       `json:"direction"`
	RequestedCount uint64          `json:"requested_count"`
	Price          decimal.Decimal `json:"price"`
	FilledCount    uint64          `json:"filled_count"`
	Balance        uint64          `json:"balance"`
	FundedAmount   uint64          `json:"funded_amount"`
	Status         OrderStatus     `json:"status"`
	CreatedOn      time.Time       `json:"created_on"`
	ExpiresAt      time.Time       `json:"expires_at"`
	SourceNetwork  Network         `json:"source_network"`
	TargetNetwork  Network         `json:"target_network"`
	SourceAddress  string          `json:"source_address"`
	Version        int64           `json:"-"`
}

// Remaining is the unfilled token quantity.
func (o *TradeOrder) Remaining() uint64 {
	if o.FilledCount >= o.RequestedCount {
		return 0
	}
	return o.RequestedCount - o.FilledCount
}

// Terminal reports whether the order may never be mutated again.
func (o *TradeOrder) Terminal() bool {
	switch o.Status {
	case Settled, Cancelled, Expired:
		return true
	}
	return false
}

// Matchable reports whether the order may participate in a match. A BUY
// order additionally needs confirmed funds to spend.
func (o *TradeOrder) Matchable() bool {
	if o.Terminal() || o.Remaining() == 0 {
		return false
	}
	if o.Direction == Buy {
		return o.Balance > 0
	}
	return true
}

// FundingTarget is the total base-coin amount a BUY order must receive
// before it is considered fully funded: ceil(requestedCount x price).
func (o *TradeOrder) FundingTarget() uint64 {
	return uint64(o.Price.Mul(decimal.NewFromUint64(o.RequestedCount)).Ceil().IntPart())
}
