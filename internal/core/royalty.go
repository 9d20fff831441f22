package core

import (
	"github.com/shopspring/decimal"
)

// RoyaltyConfig holds the marketplace fee schedule. Percentages are
// fractions (0.025 = 2.5%). Resolution order for the percentage applied to
// a trade: explicit per-call override, then the per-token percentage, then
// the global default.
type RoyaltyConfig struct {
	DefaultPercentage  decimal.Decimal
	TokenPercentages   map[string]decimal.Decimal
	SpaceOnePercentage decimal.Decimal
	SpaceOneAddress    string
	SpaceTwoAddress    string
}

// RoyaltySplit is the fee taken from one trade amount, split across the two
// configured royalty spaces. SpaceOne + SpaceTwo == Total always.
type RoyaltySplit struct {
	Total    uint64
	SpaceOne uint64
	SpaceTwo uint64
}

func (c *RoyaltyConfig) percentageFor(token string, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	if pct, ok := c.TokenPercentages[token]; ok {
		return pct
	}
	return c.DefaultPercentage
}

// Fees computes the royalty split for a gross trade amount. The total and
// the first space's share round up; the second space's share is the
// remainder by subtraction, never rounded independently, so the shares sum
// exactly to the total.
func (c *RoyaltyConfig) Fees(amount uint64, token string, override *decimal.Decimal) RoyaltySplit {
	pct := c.percentageFor(token, override)
	if amount == 0 || !pct.IsPositive() {
		return RoyaltySplit{}
	}
	amt := decimal.NewFromUint64(amount)
	total := uint64(amt.Mul(pct).Ceil().IntPart())
	one := uint64(decimal.NewFromUint64(total).Mul(c.SpaceOnePercentage).Ceil().IntPart())
	if one > total {
		one = total
	}
	return RoyaltySplit{
		Total:    total,
		SpaceOne: one,
		SpaceTwo: total - one,
	}
}
