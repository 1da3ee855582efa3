package orderbook

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PriceLevel is a FIFO queue of orders sharing one side and one price.
type PriceLevel struct {
	Price decimal.Decimal

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price}
}

func (p *PriceLevel) Enqueue(o *Order) {
	o.level = p
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.TotalQty += o.Qty
	p.OrderCount++
}

// Remove unlinks o from the queue wherever it sits.
func (p *PriceLevel) Remove(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	o.level = nil

	p.TotalQty -= o.Qty
	p.OrderCount--
}

// Fill takes qty off o, which must belong to this level.
func (p *PriceLevel) Fill(o *Order, qty int64) {
	o.Qty -= qty
	p.TotalQty -= qty
}

// Grow adds qty to o, which must belong to this level. The caller keeps
// TotalQty+qty within int64; see OrderBook.Place.
func (p *PriceLevel) Grow(o *Order, qty int64) {
	o.Qty += qty
	p.TotalQty += qty
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Read-only helpers
func (p *PriceLevel) Head() *Order {
	return p.head
}

func (p *PriceLevel) String() string {
	return fmt.Sprintf("PriceLevel{price=%s, qty=%d, orders=%d}", p.Price, p.TotalQty, p.OrderCount)
}

// addQty sums non-negative quantities, saturating at math.MaxInt64.
func addQty(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
