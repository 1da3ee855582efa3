package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbook/domain/orderbook"
	"matchbook/infra/metrics"
	"matchbook/infra/outbox"
)

func px(s string) decimal.Decimal { return orderbook.MustPrice(s) }

// start runs svc until the test ends.
func start(t *testing.T, svc *OrderService) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestSubmitRecordsTradesInOutbox(t *testing.T) {
	box, err := outbox.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = box.Close() })

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{}), Options{
		Sink:  box,
		Clock: func() time.Time { return at },
	})
	start(t, svc)
	ctx := context.Background()

	_, err = svc.Submit(ctx, orderbook.Sell, px("9"), 4)
	require.NoError(t, err)
	p, err := svc.Submit(ctx, orderbook.Buy, px("10"), 5)
	require.NoError(t, err)
	require.Len(t, p.Trades, 1)

	rec, err := box.Get(p.Trades[0].ID)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateNew, rec.State)

	ev, err := outbox.UnmarshalTradeEvent(rec.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(4), ev.Quantity)
	assert.True(t, ev.Price.Equal(px("9")))
	assert.Equal(t, p.OrderID, ev.TakerOrderID)
	assert.True(t, at.Equal(ev.ExecutedAt))

	vol, err := svc.TotalVolume(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), vol)
}

func TestSubmitRejectsInvalidOrder(t *testing.T) {
	m := metrics.New()
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{}), Options{Metrics: m})
	start(t, svc)

	_, err := svc.Submit(context.Background(), orderbook.Buy, px("10"), 0)
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)

	count, err := testutil.GatherAndCount(m.Registry(), "matchd_orders_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCancelThroughService(t *testing.T) {
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{}), Options{})
	start(t, svc)
	ctx := context.Background()

	p, err := svc.Submit(ctx, orderbook.Buy, px("10"), 3)
	require.NoError(t, err)

	ok, err := svc.Cancel(ctx, p.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Cancel(ctx, p.OrderID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelDisabled(t *testing.T) {
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{DisableCancel: true}), Options{})
	start(t, svc)

	_, err := svc.Cancel(context.Background(), 1)
	assert.ErrorIs(t, err, orderbook.ErrUnsupportedOperation)
}

func TestConcurrentProducersAreSerialised(t *testing.T) {
	m := metrics.New()
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{}), Options{Metrics: m, QueueSize: 16})
	start(t, svc)
	ctx := context.Background()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		side := orderbook.Buy
		if i%2 == 1 {
			side = orderbook.Sell
		}
		wg.Add(1)
		go func(side orderbook.Side) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_, err := svc.Submit(ctx, side, px("100"), 1)
				assert.NoError(t, err)
			}
		}(side)
	}
	wg.Wait()

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Crossed())

	submitted := int64(producers * perProducer)
	resting := snap.RestingQty(orderbook.Buy) + snap.RestingQty(orderbook.Sell)
	assert.Equal(t, submitted, resting+2*snap.Volume)
	// equal buy and sell flow at one price always fully crosses
	assert.Equal(t, submitted/2, snap.Volume)
	expected := fmt.Sprintf(`# HELP matchd_traded_volume_total Sum of executed trade quantities.
# TYPE matchd_traded_volume_total counter
matchd_traded_volume_total %d
`, snap.Volume)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "matchd_traded_volume_total"))
}

func TestCallsAfterStopReturnErrStopped(t *testing.T) {
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{}), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	_, err := svc.Submit(context.Background(), orderbook.Buy, px("1"), 1)
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)

	_, err = svc.Submit(context.Background(), orderbook.Buy, px("1"), 1)
	assert.ErrorIs(t, err, ErrStopped)
	_, err = svc.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = svc.TotalVolume(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = svc.Cancel(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSubmitHonoursCallerContext(t *testing.T) {
	// no Run loop: nothing drains the unbuffered queue
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{}), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Submit(ctx, orderbook.Buy, px("1"), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingSink struct{ calls int }

func (f *failingSink) Put(outbox.TradeEvent) error {
	f.calls++
	return assert.AnError
}

func TestOutboxFailureDoesNotFailSubmission(t *testing.T) {
	sink := &failingSink{}
	svc := NewOrderService(orderbook.NewOrderBook(orderbook.Options{}), Options{Sink: sink})
	start(t, svc)
	ctx := context.Background()

	_, err := svc.Submit(ctx, orderbook.Sell, px("5"), 1)
	require.NoError(t, err)
	p, err := svc.Submit(ctx, orderbook.Buy, px("5"), 1)
	require.NoError(t, err)
	assert.Len(t, p.Trades, 1)

	// Snapshot is a barrier: the submission above has been fully applied.
	_, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.calls)
}
