package orderbook

import (
	"strings"

	"github.com/pkg/errors"
)

// AggregationPolicy decides when a submission is merged into an order
// already resting on the same side at the same price.
type AggregationPolicy int

const (
	// AggregateOnRest matches first, then merges any residual into the
	// same-price resting order instead of queueing a second entry.
	AggregateOnRest AggregationPolicy = iota
	// AggregateNone keeps every residual as its own FIFO entry.
	AggregateNone
	// AggregateBeforeMatch merges into a same-price resting order
	// before matching is attempted; the absorbed quantity never trades
	// on arrival, even if it would have crossed.
	AggregateBeforeMatch
)

func (p AggregationPolicy) String() string {
	switch p {
	case AggregateOnRest:
		return "on-rest"
	case AggregateNone:
		return "none"
	case AggregateBeforeMatch:
		return "before-match"
	default:
		return "unknown"
	}
}

func ParseAggregationPolicy(s string) (AggregationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "on-rest":
		return AggregateOnRest, nil
	case "none":
		return AggregateNone, nil
	case "before-match":
		return AggregateBeforeMatch, nil
	}
	return 0, errors.Errorf("unknown aggregation policy %q", s)
}

// Sequencer hands out strictly increasing ids. Order ids and trade ids
// share one sequence.
type Sequencer interface {
	Next() uint64
}

// Allocator recycles orders removed from the book.
type Allocator interface {
	Get() *Order
	Put(*Order)
}

type Options struct {
	Aggregation   AggregationPolicy
	DisableCancel bool
	Sequencer     Sequencer
	Allocator     Allocator
}

type counter struct{ n uint64 }

func (c *counter) Next() uint64 {
	c.n++
	return c.n
}

type heapAllocator struct{}

func (heapAllocator) Get() *Order { return new(Order) }
func (heapAllocator) Put(*Order)  {}
