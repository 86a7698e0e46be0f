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

	"github.com/workpulse/risk-monitor/internal/api"
	"github.com/workpulse/risk-monitor/internal/config"
	"github.com/workpulse/risk-monitor/internal/hub"
	"github.com/workpulse/risk-monitor/internal/metrics"
	"github.com/workpulse/risk-monitor/internal/monitor"
	"github.com/workpulse/risk-monitor/internal/rules"
	"github.com/workpulse/risk-monitor/internal/sink"
	"github.com/workpulse/risk-monitor/internal/store"
	"github.com/workpulse/risk-monitor/internal/trigger"
	"github.com/workpulse/risk-monitor/internal/utils"
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
	logger.Info("starting risk-monitor", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var snapshotStore store.Store
	switch cfg.Store.Backend {
	case "valkey":
		valkeyStore, err := store.NewValkeyStore(store.ValkeyConfig{
			Addr:         cfg.Store.Addr,
			Username:     cfg.Store.Username,
			Password:     cfg.Store.Password,
			DB:           cfg.Store.DB,
			DialTimeout:  cfg.Store.DialTimeout,
			ReadTimeout:  cfg.Store.ReadTimeout,
			WriteTimeout: cfg.Store.WriteTimeout,
			MaxRetries:   cfg.Store.MaxRetries,
			TLS:          cfg.Store.TLS,
			KeyPrefix:    cfg.Store.KeyPrefix,
		})
		if err != nil {
			logger.Error("snapshot store unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		snapshotStore = valkeyStore
	default:
		snapshotStore = store.NewMemoryStore()
	}
	defer snapshotStore.Close()
	logger.Info("snapshot store ready", slog.String("backend", cfg.Store.Backend))

	ruleSet, err := rules.Load(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	riskMonitor := monitor.New(logger, snapshotStore, ruleSet)

	observerHub := hub.New(logger, hub.Options{
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PongWait:     cfg.WebSocket.PongWait,
		PingInterval: cfg.WebSocket.PingInterval,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	})

	sinks := []sink.Sink{observerHub}
	if cfg.Kafka.Enabled {
		kafkaSink, err := sink.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Error("failed to configure kafka sink", slog.Any("error", err))
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	syncTrigger := trigger.New(logger, riskMonitor, sinks, 0)

	router := api.NewRouter(logger, snapshotStore, syncTrigger, riskMonitor, observerHub)
	server, err := api.NewServer(cfg.Server, router)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go syncTrigger.Run(ctx)

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

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("risk-monitor stopped")
}
