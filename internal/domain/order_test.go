package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRemaining(t *testing.T) {
	o := &TradeOrder{RequestedCount: 10, FilledCount: 3}
	if got := o.Remaining(); got != 7 {
		t.Errorf("Remaining() = %d, want 7", got)
	}
	o.FilledCount = 12
	if got := o.Remaining(); got != 0 {
		t.Errorf("overfilled Remaining() = %d, want 0", got)
	}
}

func TestMatchable(t *testing.T) {
	tests := []struct {
		name  string
		order TradeOrder
		want  bool
	}{
		{"funded buy", TradeOrder{Direction: Buy, RequestedCount: 10, Balance: 100, Status: Active}, true},
		{"unfunded buy", TradeOrder{Direction: Buy, RequestedCount: 10, Status: Active}, false},
		{"sell", TradeOrder{Direction: Sell, RequestedCount: 10, Status: Active}, true},
		{"partially filled sell", TradeOrder{Direction: Sell, RequestedCount: 10, FilledCount: 4, Status: PartiallyFilled}, true},
		{"fully filled", TradeOrder{Direction: Sell, RequestedCount: 10, FilledCount: 10, Status: Active}, false},
		{"cancelled", TradeOrder{Direction: Sell, RequestedCount: 10, Status: Cancelled}, false},
		{"expired", TradeOrder{Direction: Buy, RequestedCount: 10, Balance: 100, Status: Expired}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.Matchable(); got != tt.want {
				t.Errorf("Matchable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFundingTarget(t *testing.T) {
	o := &TradeOrder{RequestedCount: 3, Price: decimal.RequireFromString("100.3")}
	// 3 x 100.3 = 300.9 rounds up so a full fill is always affordable.
	if got := o.FundingTarget(); got != 301 {
		t.Errorf("FundingTarget() = %d, want 301", got)
	}
}
