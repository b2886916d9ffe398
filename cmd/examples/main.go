package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/volatiq/exchange-core/pkg/breaker"
	"github.com/volatiq/exchange-core/pkg/config"
	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/ratelimit"
	"github.com/volatiq/exchange-core/pkg/rest"
	"github.com/volatiq/exchange-core/pkg/snapshot"
	"github.com/volatiq/exchange-core/pkg/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	symbol := flag.String("symbol", "BTCUSDT", "trading symbol to snapshot")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logOpts := []logging.ZapOption{
		logging.WithLogLevel(logging.ParseLevel(cfg.App.LogLevel)),
	}
	if cfg.App.LogFile != "" {
		logOpts = append(logOpts, logging.WithRotatingFile(cfg.App.LogFile, cfg.App.LogMaxSizeMB, 5, 14))
	}
	logger := logging.NewZapLogger(logOpts...)

	apiKey, apiSecret := config.Credentials()

	restCfg := cfg.RESTClientConfig(apiKey, apiSecret)
	restCfg.Logger = logger

	windowCfg := cfg.WindowConfig()
	windowCfg.Logger = logger
	limiter := ratelimit.NewSlidingWindow(windowCfg)

	// Feed the exchange's advertised remaining quota back into the limiter.
	restCfg.OnHeaders = limiter.UpdateFromHeaders
	restClient := rest.NewClient(restCfg)
	defer restClient.Close()

	brkCfg := cfg.BreakerSettings()
	brkCfg.Logger = logger
	brk := breaker.New(brkCfg)

	agg := snapshot.New(restClient, limiter, brk, cfg.SnapshotOptions(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snap := agg.FetchSnapshot(ctx, *symbol)
	logger.Info("snapshot fetched",
		logging.String("symbol", snap.Symbol),
		logging.Float64("last_price", snap.Ticker.LastPrice),
		logging.Float64("long_pct", snap.Sentiment.LongShortRatio.Long),
		logging.Float64("volatility", snap.Sentiment.Volatility.Value),
		logging.Bool("ticker_ok", snap.Meta.Ticker),
		logging.Bool("orderbook_ok", snap.Meta.OrderBook),
	)

	streamCfg := cfg.StreamSettings()
	streamCfg.Logger = logger
	conn := stream.NewConn(streamCfg)
	if err := conn.Connect(ctx); err != nil {
		logger.Error("stream connect failed", logging.Error(err))
		os.Exit(1)
	}
	defer conn.Close()

	topic := "liquidation." + *symbol
	err = conn.Subscribe(topic, func(message []byte) {
		logger.Debug("liquidation frame", logging.Int("bytes", len(message)))
	})
	if err != nil {
		logger.Error("subscribe failed", logging.String("topic", topic), logging.Error(err))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down",
		logging.Int("liquidations_buffered", len(conn.Liquidations(*symbol))),
	)
}
