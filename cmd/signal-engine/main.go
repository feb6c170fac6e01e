package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalstack/signal-engine/internal/api"
	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/correlate"
	"github.com/signalstack/signal-engine/internal/ingest"
	"github.com/signalstack/signal-engine/internal/metrics"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/predict"
	"github.com/signalstack/signal-engine/internal/query"
	"github.com/signalstack/signal-engine/internal/rules"
	"github.com/signalstack/signal-engine/internal/stats"
	"github.com/signalstack/signal-engine/internal/store"
	"github.com/signalstack/signal-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting signal-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	timeSeries := store.New(cfg.Store.Retention, cfg.Store.Shards)
	aggregator := stats.New(cfg.Stats, logger)
	for _, seed := range cfg.Signals {
		aggregator.Register(seed.ID, seed.Name, seed.Source, models.Category(seed.Category))
	}

	ingestor := ingest.New(cfg.Ingest, timeSeries, aggregator, logger)
	ingestor.Start()

	correlator := correlate.New(cfg.Correlation, timeSeries, logger)
	scorer := predict.New(cfg.Prediction, aggregator, correlator, timeSeries, logger)

	ruleEngine := rules.New(cfg.Rules, aggregator, scorer, logger)
	if err := ruleEngine.LoadPack(cfg.Rules.Path); err != nil {
		logger.Error("failed to load workflow pack", slog.Any("error", err))
		os.Exit(1)
	}

	queries := query.New(aggregator, correlator, scorer, ruleEngine, timeSeries, logger)
	handler := api.NewHandler(ingestor, queries, ruleEngine, logger)

	server, err := api.NewServer(cfg.Server, handler.Router())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var natsSource *ingest.NATSSource
	if cfg.NATS.Enabled {
		natsSource, err = ingest.NewNATSSource(cfg.NATS, ingestor, logger)
		if err != nil {
			// HTTP ingest keeps working without the connector.
			logger.Warn("nats source unavailable", slog.Any("error", err))
		}
	}
	if natsSource != nil {
		defer natsSource.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go correlator.Run(ctx)
	go scorer.Run(ctx)
	go ruleEngine.Run(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if err := ingestor.Stop(shutdownCtx); err != nil {
		logger.Warn("ingest drain incomplete", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("signal-engine stopped")
}
