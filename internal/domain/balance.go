package domain

// BalanceEntry is the per (token, member) aggregate of owned and
// sale-locked token quantity. LockedForSale never exceeds TokenOwned.
type BalanceEntry struct {
	Token         string `json:"token"`
	Member        string `json:"member"`
	TokenOwned    uint64 `json:"token_owned"`
	LockedForSale uint64 `json:"locked_for_sale"`
}

// Available is the quantity free to be locked by a new SELL order.
func (b *BalanceEntry) Available() uint64 {
	if b.LockedForSale >= b.TokenOwned {
		return 0
	}
	return b.TokenOwned - b.LockedForSale
}
