package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/adapter/coinbase"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/bridge"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/feed"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/firehose"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/gap"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/infrastructure/candlecache"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/reconcile"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/config"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

var cfg *config.Config
var log *logger.Logger

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		panic(err)
	}

	log, err = logger.NewLogger(logger.WithLoggingLevel(logger.Level(cfg.App.LogLevel)))
	if err != nil {
		panic(err)
	}
}

func main() {
	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize Redis client
	rclient := redis.NewClient(log, &cfg.Redis)
	if err := rclient.Connect(ctx); err != nil {
		log.Error(err, logger.Field{
			Key:   "action",
			Value: "connect_redis",
		})
		return
	}
	defer func() { _ = rclient.Disconnect(context.Background()) }()

	scope := candle.Scope{
		OwnerID:    cfg.App.OwnerID,
		ExchangeID: cfg.App.ExchangeID,
	}

	// Initialize components
	store := candlecache.NewRepository(rclient, scope, log)
	eventFeed := feed.New(rclient, scope, log)
	history := coinbase.NewHistoryClient(cfg.Coinbase, log)

	reconciler, err := reconcile.New(cfg.Reconcile, store, history, eventFeed, log)
	if err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "init_reconciler"})
		return
	}

	adapter := coinbase.New(cfg.Coinbase, scope, coinbase.Handlers{
		OnCandleClosed: func(c candle.Candle) {
			writeCtx, writeCancel := context.WithTimeout(ctx, cfg.Coinbase.WriteTimeout)
			defer writeCancel()
			if _, err := store.Write(writeCtx, c); err != nil {
				log.Error(err,
					logger.Field{Key: "symbol", Value: c.Symbol},
					logger.Field{Key: "timestamp", Value: c.Timestamp},
				)
			}
		},
		OnDisconnected: func(reason string) {
			log.Warn("exchange connection lost", logger.Field{Key: "reason", Value: reason})
		},
		OnError: func(err error) {
			log.Error(err, logger.Field{Key: "action", Value: "adapter"})
		},
	}, rclient, log)

	bridgeServer := bridge.NewServer(cfg.Bridge, scope, eventFeed, rclient, log)

	// Startup diagnostics: report holes in the cached push-timeframe series
	reportGaps(ctx, store, scope)

	// Backfill recent history before going live so clients see continuous
	// series from the first candle on
	if err := reconciler.Backfill(ctx); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "backfill"})
		return
	}

	if err := adapter.Subscribe(cfg.Reconcile.Symbols, cfg.Coinbase.PushTimeframe); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "subscribe"})
		return
	}
	if err := adapter.Connect(ctx); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "connect_exchange"})
		return
	}

	go func() {
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error(err, logger.Field{Key: "action", Value: "reconcile"})
			cancel()
		}
	}()

	if cfg.Firehose.Enabled {
		publisher := firehose.NewPublisher(cfg.Firehose, eventFeed, log)
		go func() {
			if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error(err, logger.Field{Key: "action", Value: "firehose"})
			}
		}()
	}

	go func() {
		if err := bridgeServer.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error(err, logger.Field{Key: "action", Value: "bridge"})
			cancel()
		}
	}()

	log.Info("livermore started",
		logger.Field{Key: "symbols", Value: cfg.Reconcile.Symbols},
		logger.Field{Key: "owner_id", Value: scope.OwnerID},
	)

	select {
	case sig := <-sigChan:
		log.Info("shutting down", logger.Field{Key: "signal", Value: sig.String()})
	case <-ctx.Done():
	}

	cancel()
	if err := adapter.Disconnect(); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "disconnect_exchange"})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	bridgeServer.Stop(shutdownCtx)

	_ = log.Sync()
}

// reportGaps logs missing ranges in the push-timeframe series over the
// backfill window. Diagnostics only; repair is the reconciler's job.
func reportGaps(ctx context.Context, store candle.Store, scope candle.Scope) {
	tf, err := timeframe.Parse(cfg.Coinbase.PushTimeframe)
	if err != nil {
		return
	}

	to := tf.Align(time.Now().UnixMilli())
	from := to - int64(cfg.Reconcile.BackfillDepth)*tf.DurationMs()

	for _, symbol := range cfg.Reconcile.Symbols {
		key := candle.NewKey(scope, symbol, tf.Name)
		ranges, err := gap.Scan(ctx, store, key, from, to)
		if err != nil {
			log.Warn("gap scan failed",
				logger.Field{Key: "symbol", Value: symbol},
				logger.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		if len(ranges) == 0 {
			continue
		}

		var missing int64
		for _, r := range ranges {
			missing += r.Count
		}
		log.Info("cached series has gaps",
			logger.Field{Key: "symbol", Value: symbol},
			logger.Field{Key: "ranges", Value: len(ranges)},
			logger.Field{Key: "missing", Value: missing},
		)
	}
}
