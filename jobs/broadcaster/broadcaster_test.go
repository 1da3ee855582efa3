package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbook/domain/orderbook"
	"matchbook/infra/kafka"
	"matchbook/infra/metrics"
	"matchbook/infra/outbox"
)

type message struct {
	key, value []byte
}

type fakePublisher struct {
	mu      sync.Mutex
	sent    []message
	failFor map[string]int // key -> remaining failures
	closed  bool
}

func (f *fakePublisher) Send(_ context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[string(key)] > 0 {
		f.failFor[string(key)]--
		return assert.AnError
	}
	f.sent = append(f.sent, message{key: key, value: value})
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func (f *fakePublisher) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, string(m.key))
	}
	return out
}

func newOutbox(t *testing.T, ids ...uint64) *outbox.Outbox {
	t.Helper()
	ob, err := outbox.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ob.Close() })

	for _, id := range ids {
		require.NoError(t, ob.Put(outbox.EventFromTrade(orderbook.Trade{
			ID:        id,
			Price:     orderbook.MustPrice("10"),
			Quantity:  int64(id),
			TakerSide: orderbook.Buy,
		}, time.Unix(0, 0))))
	}
	return ob
}

func TestDrainOncePublishesAndCollects(t *testing.T) {
	ob := newOutbox(t, 1, 2, 3)
	pub := &fakePublisher{}
	b := New(ob, pub, Options{MaxRetries: 3})

	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"1", "2", "3"}, pub.keys())

	ev, err := outbox.UnmarshalTradeEvent(pub.sent[1].value)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Quantity)

	for _, s := range []outbox.State{outbox.StateNew, outbox.StateSent, outbox.StateAcked, outbox.StateFailed} {
		c, err := ob.Count(s)
		require.NoError(t, err)
		assert.Zero(t, c, s.String())
	}
}

func TestDrainOnceRetriesFailedUpToLimit(t *testing.T) {
	ob := newOutbox(t, 7)
	pub := &fakePublisher{failFor: map[string]int{"7": 5}}
	m := metrics.New()
	b := New(ob, pub, Options{MaxRetries: 2, Metrics: m})

	for i := 0; i < 4; i++ {
		n, err := b.DrainOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	rec, err := ob.Get(7)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateFailed, rec.State)
	assert.Equal(t, uint32(2), rec.Retries, "no attempts past the retry limit")
	assert.Empty(t, pub.keys())
}

func TestDrainOnceRecoversAfterTransientFailure(t *testing.T) {
	ob := newOutbox(t, 4, 5)
	pub := &fakePublisher{failFor: map[string]int{"4": 1}}
	b := New(ob, pub, Options{MaxRetries: 3})

	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"5", "4"}, pub.keys())
}

func TestDrainOnceResendsInFlightRecords(t *testing.T) {
	ob := newOutbox(t, 9)
	require.NoError(t, ob.MarkSent(9))

	pub := &fakePublisher{}
	n, err := New(ob, pub, Options{}).DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	ob := newOutbox(t, 1, 2)
	pub := &fakePublisher{}
	b := New(ob, pub, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(pub.keys()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.NoError(t, b.Close())
	assert.True(t, pub.closed)
}

func TestBroadcasterWithSaramaProducer(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	var pub kafka.Publisher = kafka.WrapSyncProducer(mock, "trades")
	ob := newOutbox(t, 1, 2)
	b := New(ob, pub, Options{MaxRetries: 1})

	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := ob.Get(2)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateFailed, rec.State)
	require.NoError(t, b.Close())
}
