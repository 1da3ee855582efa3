package orderbook

import (
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderBook is single-writer and deterministic.
type OrderBook struct {
	bids *RBTree
	asks *RBTree

	// resting orders by id, for cancellation
	orders map[uint64]*Order

	seq    Sequencer
	alloc  Allocator
	policy AggregationPolicy

	cancelDisabled bool
	volume         int64
}

func NewOrderBook(opts Options) *OrderBook {
	b := &OrderBook{
		bids:           NewRBTree(),
		asks:           NewRBTree(),
		orders:         make(map[uint64]*Order),
		seq:            opts.Sequencer,
		alloc:          opts.Allocator,
		policy:         opts.Aggregation,
		cancelDisabled: opts.DisableCancel,
	}
	if b.seq == nil {
		b.seq = &counter{}
	}
	if b.alloc == nil {
		b.alloc = heapAllocator{}
	}
	return b
}

// Submit places a limit order and returns the trades it produced.
func (b *OrderBook) Submit(side Side, price decimal.Decimal, qty int64) ([]Trade, error) {
	p, err := b.Place(side, price, qty)
	if err != nil {
		return nil, err
	}
	return p.Trades, nil
}

// Place validates, matches and rests one limit order. On error the book
// is unchanged.
func (b *OrderBook) Place(side Side, price decimal.Decimal, qty int64) (Placement, error) {
	if err := validate(side, price, qty); err != nil {
		return Placement{}, err
	}
	// A same-side level at price means nothing on the other side crosses
	// it, so the whole quantity would land on that level.
	if lvl := b.tree(side).FindLevel(price); lvl != nil && qty > math.MaxInt64-lvl.TotalQty {
		return Placement{}, errors.Wrapf(ErrInvalidOrder,
			"quantity %d would overflow the %s level at %s (resting %d)", qty, side, price, lvl.TotalQty)
	}

	p := Placement{OrderID: b.seq.Next()}

	if b.policy == AggregateBeforeMatch {
		if o := b.sameLevel(side, price); o != nil {
			o.level.Grow(o, qty)
			p.Resting, p.RestingID, p.Absorbed = qty, o.ID, true
			return p, nil
		}
	}

	remaining := b.match(&p, side, price, qty)
	if remaining == 0 {
		return p, nil
	}
	p.Resting = remaining

	if b.policy == AggregateOnRest {
		if o := b.sameLevel(side, price); o != nil {
			o.level.Grow(o, remaining)
			p.RestingID, p.Absorbed = o.ID, true
			return p, nil
		}
	}

	b.rest(p.OrderID, side, price, remaining)
	p.RestingID = p.OrderID
	return p, nil
}

// Cancel removes a resting order. It reports false when no order with
// that id is resting (never existed, filled, cancelled or absorbed).
func (b *OrderBook) Cancel(id uint64) (bool, error) {
	if b.cancelDisabled {
		return false, errors.Wrap(ErrUnsupportedOperation, "cancel")
	}
	o, ok := b.orders[id]
	if !ok {
		return false, nil
	}
	b.remove(o)
	return true, nil
}

// TotalVolume is the sum of all traded quantities, counted once per trade.
func (b *OrderBook) TotalVolume() int64 {
	return b.volume
}

// ---- queries ----

func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	return bestPrice(b.bids.MaxLevel())
}

func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	return bestPrice(b.asks.MinLevel())
}

// Len is the number of resting orders on both sides.
func (b *OrderBook) Len() int {
	return len(b.orders)
}

// Levels is the number of distinct prices resting on one side.
func (b *OrderBook) Levels(side Side) int {
	return b.tree(side).Size()
}

// Depth is the resting quantity on one side, capped at math.MaxInt64.
func (b *OrderBook) Depth(side Side) int64 {
	var n int64
	b.tree(side).ForEachAscending(func(lvl *PriceLevel) bool {
		n = addQty(n, lvl.TotalQty)
		return true
	})
	return n
}

func (b *OrderBook) Policy() AggregationPolicy {
	return b.policy
}

// ---- matching ----

func (b *OrderBook) match(p *Placement, side Side, price decimal.Decimal, qty int64) int64 {
	for qty > 0 {
		best := b.best(side.Opposite())
		if best == nil || !crosses(side, price, best.Price) {
			break
		}

		maker := best.Head()
		traded := min(qty, maker.Qty)

		qty -= traded
		best.Fill(maker, traded)
		b.volume = addQty(b.volume, traded)

		p.Trades = append(p.Trades, Trade{
			ID:           b.seq.Next(),
			Price:        maker.Price,
			Quantity:     traded,
			MakerOrderID: maker.ID,
			TakerOrderID: p.OrderID,
			TakerSide:    side,
		})

		if maker.Qty == 0 {
			b.remove(maker)
		}
	}
	return qty
}

func crosses(side Side, price, opposite decimal.Decimal) bool {
	if side == Buy {
		return price.GreaterThanOrEqual(opposite)
	}
	return price.LessThanOrEqual(opposite)
}

func (b *OrderBook) rest(id uint64, side Side, price decimal.Decimal, qty int64) {
	o := b.alloc.Get()
	*o = Order{ID: id, Side: side, Price: price, Qty: qty}
	b.tree(side).UpsertLevel(price).Enqueue(o)
	b.orders[id] = o
}

func (b *OrderBook) remove(o *Order) {
	lvl := o.level
	lvl.Remove(o)
	if lvl.Empty() {
		b.tree(o.Side).DeleteLevel(lvl.Price)
	}
	delete(b.orders, o.ID)
	o.Reset()
	b.alloc.Put(o)
}

// sameLevel returns the earliest order resting at exactly price on side.
func (b *OrderBook) sameLevel(side Side, price decimal.Decimal) *Order {
	lvl := b.tree(side).FindLevel(price)
	if lvl == nil {
		return nil
	}
	return lvl.Head()
}

func (b *OrderBook) best(side Side) *PriceLevel {
	if side == Buy {
		return b.bids.MaxLevel()
	}
	return b.asks.MinLevel()
}

func (b *OrderBook) tree(side Side) *RBTree {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

func bestPrice(lvl *PriceLevel) (decimal.Decimal, bool) {
	if lvl == nil {
		return decimal.Zero, false
	}
	return lvl.Price, true
}

func validate(side Side, price decimal.Decimal, qty int64) error {
	if !side.valid() {
		return errors.Wrapf(ErrInvalidOrder, "unknown side %d", int(side))
	}
	if !price.IsPositive() {
		return errors.Wrapf(ErrInvalidOrder, "price %s must be positive", price)
	}
	if qty <= 0 {
		return errors.Wrapf(ErrInvalidOrder, "quantity %d must be positive", qty)
	}
	return nil
}
