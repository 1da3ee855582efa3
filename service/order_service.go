package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"matchbook/domain/orderbook"
	"matchbook/infra/logging"
	"matchbook/infra/metrics"
	"matchbook/infra/outbox"
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("order service stopped")

// TradeSink receives every executed trade. *outbox.Outbox satisfies it.
type TradeSink interface {
	Put(ev outbox.TradeEvent) error
}

type Options struct {
	Sink      TradeSink
	Metrics   *metrics.Collector
	Log       *logrus.Entry
	QueueSize int
	Clock     func() time.Time
}

type command struct {
	apply func()
	done  chan struct{}
}

// OrderService is the only writer of its book.
type OrderService struct {
	book    *orderbook.OrderBook
	sink    TradeSink
	metrics *metrics.Collector
	log     *logrus.Entry
	now     func() time.Time

	cmds    chan command
	stopped chan struct{}
}

func NewOrderService(book *orderbook.OrderBook, opts Options) *OrderService {
	s := &OrderService{
		book:    book,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		log:     opts.Log,
		now:     opts.Clock,
		cmds:    make(chan command, opts.QueueSize),
		stopped: make(chan struct{}),
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run applies commands until ctx is done. Commands still queued when it
// returns are answered with ErrStopped.
func (s *OrderService) Run(ctx context.Context) error {
	defer close(s.stopped)

	s.log.WithField("aggregation", s.book.Policy()).Info("order service started")
	for {
		select {
		case <-ctx.Done():
			s.log.WithField("volume", s.book.TotalVolume()).Info("order service stopped")
			return nil
		case cmd := <-s.cmds:
			cmd.apply()
			close(cmd.done)
		}
	}
}

// do hands fn to the loop and waits for it to run. Once the loop has
// taken a command it runs to completion even if ctx is cancelled.
func (s *OrderService) do(ctx context.Context, fn func()) error {
	cmd := command{apply: fn, done: make(chan struct{})}

	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}

	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.done:
		return nil
	case <-s.stopped:
		// the loop may have finished fn just before exiting
		select {
		case <-cmd.done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit places a limit order. Validation failures come back as
// orderbook.ErrInvalidOrder and leave the book unchanged.
func (s *OrderService) Submit(ctx context.Context, side orderbook.Side, price decimal.Decimal, qty int64) (orderbook.Placement, error) {
	var (
		p   orderbook.Placement
		err error
	)
	if e := s.do(ctx, func() { p, err = s.place(side, price, qty) }); e != nil {
		return orderbook.Placement{}, e
	}
	return p, err
}

func (s *OrderService) place(side orderbook.Side, price decimal.Decimal, qty int64) (orderbook.Placement, error) {
	p, err := s.book.Place(side, price, qty)
	if err != nil {
		s.metrics.OrderRejected("invalid_order")
		s.log.WithError(err).WithFields(logrus.Fields{
			"side":  side,
			"price": price.String(),
			"qty":   qty,
		}).Warn("order rejected")
		return p, err
	}
	s.metrics.OrderSubmitted(side.String())

	at := s.now()
	for _, t := range p.Trades {
		s.metrics.Traded(t.Quantity)
		if s.sink == nil {
			continue
		}
		if err := s.sink.Put(outbox.EventFromTrade(t, at)); err != nil {
			s.log.WithError(err).WithField("trade_id", t.ID).Error("outbox write failed")
		}
	}
	s.refreshDepth()

	s.log.WithFields(logrus.Fields{
		"order_id": p.OrderID,
		"side":     side,
		"price":    price.String(),
		"qty":      qty,
		"trades":   len(p.Trades),
		"resting":  p.Resting,
		"absorbed": p.Absorbed,
	}).Debug("order placed")
	return p, nil
}

// Cancel removes a resting order. It reports false when id is not
// resting and orderbook.ErrUnsupportedOperation when the book was built
// without cancellation.
func (s *OrderService) Cancel(ctx context.Context, id uint64) (bool, error) {
	var (
		ok  bool
		err error
	)
	e := s.do(ctx, func() {
		ok, err = s.book.Cancel(id)
		if ok {
			s.metrics.OrderCancelled()
			s.refreshDepth()
			s.log.WithField("order_id", id).Debug("order cancelled")
		}
	})
	if e != nil {
		return false, e
	}
	return ok, err
}

func (s *OrderService) Snapshot(ctx context.Context) (orderbook.Snapshot, error) {
	var snap orderbook.Snapshot
	if err := s.do(ctx, func() { snap = s.book.Snapshot() }); err != nil {
		return orderbook.Snapshot{}, err
	}
	return snap, nil
}

func (s *OrderService) TotalVolume(ctx context.Context) (int64, error) {
	var v int64
	if err := s.do(ctx, func() { v = s.book.TotalVolume() }); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *OrderService) refreshDepth() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetResting(orderbook.Buy.String(), s.book.Depth(orderbook.Buy))
	s.metrics.SetResting(orderbook.Sell.String(), s.book.Depth(orderbook.Sell))
}
