package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"matchbook/infra/kafka"
	"matchbook/infra/logging"
	"matchbook/infra/metrics"
	"matchbook/infra/outbox"
)

type Options struct {
	Interval   time.Duration
	MaxRetries uint32 // failed records are dropped from the retry set after this many attempts
	Metrics    *metrics.Collector
	Log        *logrus.Entry
}

// Broadcaster drains the trade outbox into a Publisher. Delivery is at
// least once: a record left in Sent by a crash is sent again.
type Broadcaster struct {
	outbox    *outbox.Outbox
	publisher kafka.Publisher
	opts      Options
	log       *logrus.Entry
}

func New(ob *outbox.Outbox, pub kafka.Publisher, opts Options) *Broadcaster {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Broadcaster{outbox: ob, publisher: pub, opts: opts, log: log}
}

// Run drains on every tick until ctx is done, then makes one last pass
// with a fresh context bounded by the interval.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.WithField("interval", b.opts.Interval).Info("broadcaster started")

	t := time.NewTicker(b.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), b.opts.Interval)
			if _, err := b.DrainOnce(final); err != nil {
				b.log.WithError(err).Warn("final drain incomplete")
			}
			cancel()
			b.log.Info("broadcaster stopped")
			return nil
		case <-t.C:
			if _, err := b.DrainOnce(ctx); err != nil {
				b.log.WithError(err).Error("drain failed")
			}
		}
	}
}

// DrainOnce publishes every pending record and returns how many were
// delivered. Publish failures are recorded on the record, not returned.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	// each record is attempted at most once per pass
	var pending []outbox.Record
	for _, state := range []outbox.State{outbox.StateSent, outbox.StateNew, outbox.StateFailed} {
		err := b.outbox.ScanByState(state, func(rec outbox.Record) error {
			if rec.State == outbox.StateFailed && rec.Retries >= b.opts.MaxRetries {
				return nil
			}
			pending = append(pending, rec)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	sent := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		ok, err := b.publish(ctx, rec)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, b.collect()
}

func (b *Broadcaster) publish(ctx context.Context, rec outbox.Record) (bool, error) {
	if err := b.outbox.MarkSent(rec.TradeID); err != nil {
		return false, err
	}

	key := []byte(strconv.FormatUint(rec.TradeID, 10))
	if err := b.publisher.Send(ctx, key, rec.Payload); err != nil {
		b.opts.Metrics.PublishFailed()
		b.log.WithError(err).WithFields(logrus.Fields{
			"trade_id": rec.TradeID,
			"retries":  rec.Retries,
		}).Warn("publish failed")
		return false, b.outbox.MarkFailed(rec.TradeID)
	}

	b.opts.Metrics.Published()
	return true, b.outbox.MarkAcked(rec.TradeID)
}

// collect removes acknowledged records.
func (b *Broadcaster) collect() error {
	return b.outbox.ScanByState(outbox.StateAcked, func(rec outbox.Record) error {
		return b.outbox.Delete(rec.TradeID)
	})
}

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}
