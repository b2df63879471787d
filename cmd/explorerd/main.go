package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"substratescope/internal/api"
	"substratescope/internal/chain"
	"substratescope/internal/config"
	"substratescope/internal/connection"
	"substratescope/internal/endpoints"
	"substratescope/internal/logger"
	"substratescope/internal/metrics"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	catalog, err := endpoints.NewCatalog(cfg.Chain.Endpoints)
	if err != nil {
		zlog.Fatal("endpoint catalog invalid", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	prefix := cfg.Chain.SS58Prefix
	dialer := func(ctx context.Context, url string) (chain.Client, error) {
		return chain.Dial(ctx, url, prefix)
	}
	manager := connection.NewManager(dialer,
		time.Duration(cfg.Chain.ConnectTimeoutSeconds)*time.Second, zlog)
	manager.Subscribe(func(connected bool, err error) {
		if connected {
			m.Connected.Set(1)
			return
		}
		m.Connected.Set(0)
		if err != nil {
			zlog.Warn("connection state", zap.Error(err))
		}
	})

	ctx := context.Background()
	selected, err := catalog.Selected()
	if err != nil {
		zlog.Fatal("no endpoints configured", zap.Error(err))
	}
	if err := manager.Connect(ctx, selected); err != nil {
		// The API can still connect later via POST /connect.
		m.ConnectTotal.WithLabelValues("failure").Inc()
		zlog.Warn("initial connect failed", zap.String("endpoint", selected.ID), zap.Error(err))
	} else {
		m.ConnectTotal.WithLabelValues("success").Inc()
	}

	handler := &api.Handler{
		Manager:        manager,
		Catalog:        catalog,
		Metrics:        m,
		Log:            zlog,
		MaxBlocks:      cfg.Scan.MaxBlocks,
		TopAccountsCap: cfg.Aggregate.TopAccounts,
		ValidatorsCap:  cfg.Aggregate.Validators,
		ScanRate:       cfg.Scan.RateLimitPerSec,
	}
	srv := api.NewServer(handler, registry)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		zlog.Info("explorer api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	manager.Disconnect()
}
