package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phusd/services/keeper"
)

func main() {
	configFile := flag.String("config", "./keeper.yaml", "Path to the keeper configuration file")
	metricsAddr := flag.String("metrics", ":9190", "Listen address for metrics and health endpoints")
	flag.Parse()

	cfg, err := keeper.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := keeper.NewLogger(cfg.Log)

	node := strings.TrimSpace(cfg.Node)
	if node == "" {
		logger.Error("node URL required in configuration")
		os.Exit(1)
	}

	store, err := keeper.OpenStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("open settlement store", slog.Any("error", err))
		os.Exit(1)
	}

	k, err := keeper.New(cfg, keeper.NewClient(node), store, logger)
	if err != nil {
		logger.Error("build keeper", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: router}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.Any("error", err))
			stop()
		}
	}()

	if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("keeper loop", slog.Any("error", err))
	}
	_ = metricsServer.Close()
	logger.Info("phkeeperd stopped")
}
