package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"td9scan/config"
	"td9scan/internal/bus"
	"td9scan/internal/engine"
	"td9scan/internal/ledger"
	"td9scan/internal/logger"
	"td9scan/internal/marketdata"
	"td9scan/internal/metrics"
	"td9scan/internal/notification"
	"td9scan/internal/scan"
	"td9scan/internal/symbols"
	"td9scan/internal/web"
)

func main() {
	logger.Init("td9scan", slog.LevelInfo)
	slog.Info("starting...")

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is an optional bar cache: a missing server only costs
	// repeat exchange fetches.
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, bar cache disabled", "addr", cfg.RedisAddr, "err", err)
			rdb = nil
		} else {
			slog.Info("redis connected", "addr", cfg.RedisAddr)
		}
	}

	binance, err := marketdata.NewBinance(marketdata.BinanceConfig{
		BaseURL: cfg.BinanceBaseURL,
	})
	if err != nil {
		slog.Error("exchange connection failed", "err", err)
		os.Exit(1)
	}
	src := marketdata.NewCached(binance, rdb, 0)

	met := metrics.NewMetrics(nil)
	binance.ObserveRequest = met.ExchangeReqDur.Observe
	src.OnHit = met.BarCacheHits.Inc
	src.OnMiss = met.BarCacheMisses.Inc
	health := metrics.NewHealthStatus()
	health.SetExchangeConnected(true)
	if rdb != nil {
		health.CheckRedis(ctx, rdb)
		health.StartLivenessChecker(ctx, rdb, 30*time.Second)
	}

	b := bus.New(256)
	b.OnDrop = met.SubscriberDrops.Inc

	led := ledger.New(ledger.Config{
		InitialBalance: cfg.InitialBalance,
		Notional:       cfg.TradeNotional,
	})
	eval := scan.NewEvaluator(src)
	eval.SetThresholds(cfg.WRThreshPct, cfg.DistMaxPct)
	catalog := symbols.NewCatalog(binance, cfg.ParseSymbols())

	var backends []notification.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	alerts := notification.NewMulti(backends...)

	eng := engine.New(engine.Config{
		ScanInterval:     cfg.ScanInterval,
		WorkerPool:       cfg.WorkerPoolSize,
		MaxOpenPositions: cfg.MaxOpenPositions,
		MaxNewPerScan:    cfg.MaxNewPerScan,
	}, engine.Deps{
		Source:    src,
		Evaluator: eval,
		Ledger:    led,
		Catalog:   catalog,
		Bus:       b,
		Metrics:   met,
		Health:    health,
		Alerts:    alerts,
	})

	srv := web.NewServer(cfg.ListenAddr, eng, b, met, health)
	srv.Start()

	if ok, msg := eng.Start(); !ok {
		slog.Error("engine start failed", "msg", msg)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down...")

	eng.Stop()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	slog.Info("bye")
}
