package domain

// BookSnapshot is a point-in-time view of a token's open orders, cached per
// token and rebuilt after every committed mutation.
type BookSnapshot struct {
	Token string       `json:"token"`
	Bids  []TradeOrder `json:"bids"`
	Asks  []TradeOrder `json:"asks"`
}

func (s *BookSnapshot) DeepCopy() *BookSnapshot {
	cp := &BookSnapshot{
		Token: s.Token,
		Bids:  make([]TradeOrder, len(s.Bids)),
		Asks:  make([]TradeOrder, len(s.Asks)),
	}
	copy(cp.Bids, s.Bids)
	copy(cp.Asks, s.Asks)
	return cp
}
