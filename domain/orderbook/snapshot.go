package orderbook

import "github.com/shopspring/decimal"

// Entry is a value copy of one resting order.
type Entry struct {
	ID    uint64
	Side  Side
	Price decimal.Decimal
	Qty   int64
}

// Snapshot is a detached copy of the book. Bids run from the highest
// price down, asks from the lowest price up; orders sharing a price
// appear in submission order.
type Snapshot struct {
	Bids   []Entry
	Asks   []Entry
	Volume int64
}

// Crossed reports whether the best bid reaches the best ask. It never
// holds for a snapshot taken between submissions.
func (s Snapshot) Crossed() bool {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return false
	}
	return s.Bids[0].Price.GreaterThanOrEqual(s.Asks[0].Price)
}

// RestingQty sums the quantity of every order on one side, capped at
// math.MaxInt64.
func (s Snapshot) RestingQty(side Side) int64 {
	entries := s.Bids
	if side == Sell {
		entries = s.Asks
	}
	var n int64
	for _, e := range entries {
		n = addQty(n, e.Qty)
	}
	return n
}

func (b *OrderBook) Snapshot() Snapshot {
	s := Snapshot{
		Bids:   make([]Entry, 0, len(b.orders)),
		Asks:   make([]Entry, 0, len(b.orders)),
		Volume: b.volume,
	}
	collect := func(dst *[]Entry) func(*PriceLevel) bool {
		return func(lvl *PriceLevel) bool {
			for o := lvl.Head(); o != nil; o = o.Next() {
				*dst = append(*dst, Entry{ID: o.ID, Side: o.Side, Price: lvl.Price, Qty: o.Qty})
			}
			return true
		}
	}
	b.bids.ForEachDescending(collect(&s.Bids))
	b.asks.ForEachAscending(collect(&s.Asks))
	return s
}
