package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is the immutable record of one match between a BUY and a SELL
// order. Created exactly once per match, never mutated.
type Purchase struct {
	ID            string          `json:"id"`
	Token         string          `json:"token"`
	Sell          string          `json:"sell"`
	Buy           string          `json:"buy"`
	Count         uint64          `json:"count"`
	Price         decimal.Decimal `json:"price"`
	SourceNetwork Network         `json:"source_network"`
	TargetNetwork Network         `json:"target_network"`
	CreatedOn     time.Time       `json:"created_on"`
}
