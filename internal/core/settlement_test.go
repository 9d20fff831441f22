package core

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tanglemarket/trade-engine/internal/domain"
)

func testBuilder() *SettlementBuilder {
	return NewSettlementBuilder(testRoyalties(), DefaultRent(), "exchange-addr")
}

func newBuy(token string, count uint64, price string, balance uint64) *domain.TradeOrder {
	return &domain.TradeOrder{
		ID:             uuid.NewString(),
		Token:          token,
		Owner:          "buyer",
		Direction:      domain.Buy,
		RequestedCount: count,
		Price:          dec(price),
		Balance:        balance,
		FundedAmount:   balance,
		Status:         domain.Active,
		CreatedOn:      time.Now().UTC(),
		SourceNetwork:  domain.NetworkIota,
		TargetNetwork:  domain.NetworkIota,
		SourceAddress:  "buyer-addr",
	}
}

func newSell(token string, count uint64, price string) *domain.TradeOrder {
	return &domain.TradeOrder{
		ID:             uuid.NewString(),
		Token:          token,
		Owner:          "seller",
		Direction:      domain.Sell,
		RequestedCount: count,
		Price:          dec(price),
		Status:         domain.Active,
		CreatedOn:      time.Now().UTC(),
		SourceNetwork:  domain.NetworkIota,
		TargetNetwork:  domain.NetworkIota,
		SourceAddress:  "seller-addr",
	}
}

func paymentTo(t *testing.T, payments []*domain.Payment, member string) *domain.Payment {
	t.Helper()
	for _, p := range payments {
		if p.Member == member {
			return p
		}
	}
	t.Fatalf("no payment to %q", member)
	return nil
}

func TestSettleFullFill(t *testing.T) {
	b := testBuilder()
	buy := newBuy("tok", 10, "100000", 1000000)
	sell := newSell("tok", 10, "100000")

	s, err := b.Settle(buy, sell, 10, sell.Price)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if s.GrossProceeds != 1000000 || s.BuyerCost != 1000000 {
		t.Errorf("gross = %d, cost = %d, want 1000000 each", s.GrossProceeds, s.BuyerCost)
	}
	if s.Royalty.Total != 25000 {
		t.Errorf("royalty = %d, want 25000", s.Royalty.Total)
	}
	if s.Deposit != 42400 {
		t.Errorf("deposit = %d, want self-funded 42400", s.Deposit)
	}

	sellerPay := paymentTo(t, s.Payments, "seller")
	if sellerPay.Amount != 1000000-25000-42400 {
		t.Errorf("seller net = %d, want %d", sellerPay.Amount, 1000000-25000-42400)
	}
	if sellerPay.Kind != domain.BillPayment {
		t.Errorf("seller payment kind = %v", sellerPay.Kind)
	}

	buyerPay := paymentTo(t, s.Payments, "buyer")
	if buyerPay.NativeToken == nil || buyerPay.NativeToken.Amount != 10 || buyerPay.NativeToken.TokenID != "tok" {
		t.Errorf("buyer native token = %+v, want 10 tok", buyerPay.NativeToken)
	}
	if buyerPay.Amount != 42400 {
		t.Errorf("buyer output deposit = %d, want 42400", buyerPay.Amount)
	}
	if buyerPay.StorageReturn != nil {
		t.Error("self-funded deposit must not carry a storage return")
	}

	one := paymentTo(t, s.Payments, "space-one-addr")
	two := paymentTo(t, s.Payments, "space-two-addr")
	if one.Amount+two.Amount != s.Royalty.Total {
		t.Errorf("royalty payments %d + %d != total %d", one.Amount, two.Amount, s.Royalty.Total)
	}

	if s.Buy.Status != domain.Settled || s.Sell.Status != domain.Settled {
		t.Errorf("statuses = %v/%v, want SETTLED/SETTLED", s.Buy.Status, s.Sell.Status)
	}
	if s.Buy.Balance != 0 {
		t.Errorf("settled buy balance = %d, want 0", s.Buy.Balance)
	}
	if s.Purchase.Count != 10 || !s.Purchase.Price.Equal(sell.Price) {
		t.Errorf("purchase = %+v", s.Purchase)
	}

	// Inputs are untouched.
	if buy.FilledCount != 0 || sell.FilledCount != 0 {
		t.Error("Settle mutated its inputs")
	}
}

func TestSettleRoundingDustCredited(t *testing.T) {
	b := testBuilder()
	// 3 x 100000.3 = 300000.9: seller side floors, buyer side ceils; a
	// balance of exactly the ceil cost leaves nothing to credit.
	buy := newBuy("tok", 3, "100000.3", 300001)
	sell := newSell("tok", 3, "100000.3")

	s, err := b.Settle(buy, sell, 3, sell.Price)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if s.GrossProceeds != 300000 {
		t.Errorf("gross = %d, want floor 300000", s.GrossProceeds)
	}
	if s.BuyerCost != 300001 {
		t.Errorf("buyer cost = %d, want ceil 300001", s.BuyerCost)
	}
	if s.Buy.Balance != 0 {
		t.Errorf("settled buy balance = %d, want 0", s.Buy.Balance)
	}
	// Balance was exactly the ceil cost, so no credit is due.
	for _, p := range s.Payments {
		if p.Kind == domain.Credit {
			t.Errorf("unexpected credit of %d", p.Amount)
		}
	}
}

func TestSettlePriceImprovementCredit(t *testing.T) {
	b := testBuilder()
	// Buyer locked funds at its own limit 120000 but fills at the resting
	// quote 100000; the surplus comes back as a credit on full fill.
	buy := newBuy("tok", 10, "120000", 1200000)
	sell := newSell("tok", 10, "100000")

	s, err := b.Settle(buy, sell, 10, sell.Price)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	var credit *domain.Payment
	for _, p := range s.Payments {
		if p.Kind == domain.Credit {
			credit = p
		}
	}
	if credit == nil {
		t.Fatal("expected a credit payment for the unused locked balance")
	}
	if credit.Amount != 200000 {
		t.Errorf("credit = %d, want 200000", credit.Amount)
	}
	if credit.Member != "buyer" {
		t.Errorf("credit member = %q, want buyer", credit.Member)
	}
}

func TestSettleFrontedStorageDeposit(t *testing.T) {
	b := testBuilder()
	// gross 40000 cannot cover royalty + the token output's own deposit,
	// so the exchange fronts the deposit with a storage return attached.
	buy := newBuy("tok", 10, "4000", 40000)
	sell := newSell("tok", 10, "4000")

	s, err := b.Settle(buy, sell, 10, sell.Price)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	fronted := DefaultRent().TokenOutputDeposit(true)
	if s.Deposit != fronted {
		t.Errorf("deposit = %d, want fronted %d", s.Deposit, fronted)
	}
	buyerPay := paymentTo(t, s.Payments, "buyer")
	if buyerPay.StorageReturn == nil {
		t.Fatal("fronted deposit must carry a storage return")
	}
	if buyerPay.StorageReturn.Amount != fronted {
		t.Errorf("storage return = %d, want %d", buyerPay.StorageReturn.Amount, fronted)
	}
	if buyerPay.StorageReturn.Address != "exchange-addr" {
		t.Errorf("storage return address = %q, want the fronting exchange", buyerPay.StorageReturn.Address)
	}
	// The deposit never comes out of the seller's proceeds here.
	sellerPay := paymentTo(t, s.Payments, "seller")
	if sellerPay.Amount != 40000-s.Royalty.Total {
		t.Errorf("seller net = %d, want %d", sellerPay.Amount, 40000-s.Royalty.Total)
	}
}

func TestSettleFrontsWhenSelfFundedNetTooSmall(t *testing.T) {
	b := testBuilder()
	// gross 70000 could fund the deposit itself, but the residual 25850
	// would sit below the plain-output minimum. Fronting keeps the full
	// 68250 net broadcastable, so the trade must settle, not fail.
	buy := newBuy("tok", 10, "7000", 70000)
	sell := newSell("tok", 10, "7000")

	s, err := b.Settle(buy, sell, 10, sell.Price)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	fronted := DefaultRent().TokenOutputDeposit(true)
	if s.Deposit != fronted {
		t.Errorf("deposit = %d, want fronted %d", s.Deposit, fronted)
	}
	buyerPay := paymentTo(t, s.Payments, "buyer")
	if buyerPay.StorageReturn == nil || buyerPay.StorageReturn.Amount != fronted {
		t.Fatalf("storage return = %+v, want fronted %d", buyerPay.StorageReturn, fronted)
	}
	sellerPay := paymentTo(t, s.Payments, "seller")
	if sellerPay.Amount != 70000-s.Royalty.Total {
		t.Errorf("seller net = %d, want %d", sellerPay.Amount, 70000-s.Royalty.Total)
	}
	if sellerPay.Amount < DefaultRent().MinDeposit(OutputSpec{}) {
		t.Errorf("seller net %d not broadcastable", sellerPay.Amount)
	}
}

func TestSettleStorageDepositUnsatisfiable(t *testing.T) {
	b := testBuilder()
	// Net proceeds land below the minimum a plain output may carry.
	buy := newBuy("tok", 10, "3000", 30000)
	sell := newSell("tok", 10, "3000")

	_, err := b.Settle(buy, sell, 10, sell.Price)
	if !errors.Is(err, domain.ErrStorageDepositUnsatisfiable) {
		t.Fatalf("err = %v, want ErrStorageDepositUnsatisfiable", err)
	}
}

func TestSettlePartialFill(t *testing.T) {
	b := testBuilder()
	buy := newBuy("tok", 10, "100000", 1000000)
	sell := newSell("tok", 25, "100000")

	s, err := b.Settle(buy, sell, 10, sell.Price)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if s.Buy.Status != domain.Settled {
		t.Errorf("buy status = %v, want SETTLED", s.Buy.Status)
	}
	if s.Sell.Status != domain.PartiallyFilled {
		t.Errorf("sell status = %v, want PARTIALLY_FILLED", s.Sell.Status)
	}
	if s.Sell.Remaining() != 15 {
		t.Errorf("sell remaining = %d, want 15", s.Sell.Remaining())
	}
}

func TestSettleBalanceDeltas(t *testing.T) {
	b := testBuilder()
	buy := newBuy("tok", 10, "100000", 1000000)
	sell := newSell("tok", 10, "100000")

	s, err := b.Settle(buy, sell, 10, sell.Price)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	var sellerDelta, buyerDelta *BalanceDelta
	for i := range s.BalanceDeltas {
		d := &s.BalanceDeltas[i]
		switch d.Member {
		case "seller":
			sellerDelta = d
		case "buyer":
			buyerDelta = d
		}
	}
	if sellerDelta == nil || sellerDelta.OwnedDelta != -10 || sellerDelta.LockedDelta != -10 {
		t.Errorf("seller delta = %+v, want owned -10 locked -10", sellerDelta)
	}
	if buyerDelta == nil || buyerDelta.OwnedDelta != 10 || buyerDelta.LockedDelta != 0 {
		t.Errorf("buyer delta = %+v, want owned +10 locked 0", buyerDelta)
	}
}

func TestSettleRejects(t *testing.T) {
	b := testBuilder()
	tests := []struct {
		name    string
		taker   *domain.TradeOrder
		maker   *domain.TradeOrder
		fill    uint64
		wantErr error
	}{
		{"token mismatch", newBuy("a", 10, "100000", 1000000), newSell("b", 10, "100000"), 10, nil},
		{"same direction", newBuy("tok", 10, "100000", 1000000), newBuy("tok", 10, "100000", 1000000), 10, nil},
		{"zero fill", newBuy("tok", 10, "100000", 1000000), newSell("tok", 10, "100000"), 0, domain.ErrInvalidOrderState},
		{"overfill", newBuy("tok", 10, "100000", 1000000), newSell("tok", 5, "100000"), 10, domain.ErrInvalidOrderState},
		{"underfunded buyer", newBuy("tok", 10, "100000", 5), newSell("tok", 10, "100000"), 10, domain.ErrInvalidOrderState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Settle(tt.taker, tt.maker, tt.fill, tt.maker.Price)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReleaseBuyCredit(t *testing.T) {
	b := testBuilder()
	buy := newBuy("tok", 10, "100000", 750000)

	rel, err := b.Release(buy, domain.Expired)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rel.Order.Status != domain.Expired {
		t.Errorf("status = %v, want EXPIRED", rel.Order.Status)
	}
	if rel.Order.Balance != 0 {
		t.Errorf("balance = %d, want 0", rel.Order.Balance)
	}
	if rel.Credit == nil || rel.Credit.Amount != 750000 {
		t.Fatalf("credit = %+v, want amount 750000", rel.Credit)
	}
	if rel.Credit.Kind != domain.Credit {
		t.Errorf("credit kind = %v", rel.Credit.Kind)
	}
}

func TestReleaseSellUnlocks(t *testing.T) {
	b := testBuilder()
	sell := newSell("tok", 10, "100000")
	sell.FilledCount = 4

	rel, err := b.Release(sell, domain.Cancelled)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rel.Credit != nil {
		t.Errorf("unexpected credit %+v for a sell release", rel.Credit)
	}
	if len(rel.BalanceDeltas) != 1 {
		t.Fatalf("deltas = %+v, want one unlock", rel.BalanceDeltas)
	}
	if d := rel.BalanceDeltas[0]; d.LockedDelta != -6 || d.OwnedDelta != 0 {
		t.Errorf("unlock delta = %+v, want locked -6", d)
	}
}

func TestReleaseTerminalNoOp(t *testing.T) {
	b := testBuilder()
	buy := newBuy("tok", 10, "100000", 0)
	buy.Status = domain.Settled

	rel, err := b.Release(buy, domain.Expired)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rel.Credit != nil || len(rel.BalanceDeltas) != 0 {
		t.Errorf("terminal release produced changes: %+v", rel)
	}
}

func TestReleaseRejectsNonReleaseStatus(t *testing.T) {
	b := testBuilder()
	if _, err := b.Release(newBuy("tok", 1, "100000", 0), domain.Settled); err == nil {
		t.Fatal("expected an error for a non-release status")
	}
}
