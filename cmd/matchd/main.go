package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"matchbook/api/textproto"
	"matchbook/domain/orderbook"
	"matchbook/infra/config"
	"matchbook/infra/kafka"
	"matchbook/infra/logging"
	"matchbook/infra/memory"
	"matchbook/infra/metrics"
	"matchbook/infra/outbox"
	"matchbook/infra/sequence"
	"matchbook/jobs/broadcaster"
	"matchbook/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		JSON:       cfg.Log.JSON,
	}, os.Stderr)
	if err != nil {
		logrus.WithError(err).Fatal("logger")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("matchd exited")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Domain ----------------

	policy, err := orderbook.ParseAggregationPolicy(cfg.Engine.Aggregation)
	if err != nil {
		return err
	}
	pool := memory.NewPool(func() *orderbook.Order { return &orderbook.Order{} })
	book := orderbook.NewOrderBook(orderbook.Options{
		Aggregation:   policy,
		DisableCancel: cfg.Engine.DisableCancel,
		Sequencer:     sequence.New(0),
		Allocator:     pool,
	})

	var collector *metrics.Collector
	if cfg.Metrics.Addr != "" {
		collector = metrics.New()
	}

	// ---------------- Outbox ----------------

	var box *outbox.Outbox
	if cfg.Outbox.Enabled || cfg.Kafka.Enabled() {
		if cfg.Outbox.Dir != "" {
			box, err = outbox.Open(cfg.Outbox.Dir)
		} else {
			box, err = outbox.OpenInMemory()
		}
		if err != nil {
			return err
		}
		defer box.Close()
	}

	opts := service.Options{
		Metrics:   collector,
		Log:       logging.Component(logger, "engine"),
		QueueSize: cfg.Engine.QueueSize,
	}
	if box != nil {
		opts.Sink = box
	}
	svc := service.NewOrderService(book, opts)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })

	// ---------------- Broadcaster ----------------

	if cfg.Kafka.Enabled() {
		pub, err := kafka.NewPublisher(cfg.Kafka.Driver, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		bc := broadcaster.New(box, pub, broadcaster.Options{
			Interval:   cfg.Kafka.Interval,
			MaxRetries: cfg.Kafka.MaxRetries,
			Metrics:    collector,
			Log:        logging.Component(logger, "broadcaster"),
		})
		defer bc.Close()
		g.Go(func() error { return bc.Run(ctx) })
	}

	// ---------------- Metrics ----------------

	if collector != nil {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: collector.Handler()}
		g.Go(func() error {
			logger.WithField("addr", cfg.Metrics.Addr).Info("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	// ---------------- Session ----------------

	// A blocked stdin read cannot be interrupted, so the session runs
	// outside the group and a signal does not wait for it.
	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- textproto.NewSession(svc, os.Stdout, logging.Component(logger, "session")).Serve(ctx, os.Stdin)
	}()
	g.Go(func() error {
		select {
		case err := <-sessionErr:
			stop()
			return err
		case <-ctx.Done():
			return nil
		}
	})

	return g.Wait()
}
