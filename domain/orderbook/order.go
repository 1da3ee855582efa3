package orderbook

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(tok string) (Side, error) {
	switch strings.ToLower(tok) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, errors.Wrapf(ErrInvalidOrder, "unknown side %q", tok)
}

// ParsePrice parses a decimal price and rejects anything not above zero.
func ParsePrice(tok string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(tok)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidOrder, "price %q is not a number", tok)
	}
	if !p.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidOrder, "price %s must be positive", p)
	}
	return p, nil
}

// MustPrice is ParsePrice for literals; it panics on bad input.
func MustPrice(tok string) decimal.Decimal {
	p, err := ParsePrice(tok)
	if err != nil {
		panic(err)
	}
	return p
}

// Order is a resting limit order.
//
// ID is the submission sequence number and never changes; a lower ID
// was accepted earlier. Qty is the remaining quantity: matching shrinks
// it and aggregation grows it. An order with Qty == 0 is never resting.
type Order struct {
	ID    uint64
	Side  Side
	Price decimal.Decimal
	Qty   int64

	level *PriceLevel
	next  *Order
	prev  *Order
}

// Read-only traversal helper
func (o *Order) Next() *Order {
	return o.next
}

// Reset clears the order before it goes back to a pool.
func (o *Order) Reset() { *o = Order{} }
