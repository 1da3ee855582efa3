package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Trade is one execution between an incoming (taker) order and a
// resting (maker) order. Price is always the maker's price.
type Trade struct {
	ID           uint64
	Price        decimal.Decimal
	Quantity     int64
	MakerOrderID uint64
	TakerOrderID uint64
	TakerSide    Side
}

func (t Trade) String() string {
	return fmt.Sprintf("%d@%s", t.Quantity, t.Price.StringFixed(1))
}

// Placement is the outcome of one accepted submission.
type Placement struct {
	// OrderID is the id assigned to the submission.
	OrderID uint64
	Trades  []Trade
	// Resting is the quantity left in the book after matching.
	Resting int64
	// RestingID is the book order holding Resting; it differs from
	// OrderID when the residual was absorbed. Zero when fully filled.
	RestingID uint64
	Absorbed  bool
}

// Traded is the total quantity executed by the submission.
func (p Placement) Traded() int64 {
	var n int64
	for _, t := range p.Trades {
		n += t.Quantity
	}
	return n
}
