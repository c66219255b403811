package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/listener"
	"custodial-wallet-go/internal/server"

	"go.uber.org/zap"
)

func main() {
	withListener := flag.Bool("listener", true, "Run the custody listener alongside the HTTP API")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting custodial wallet server")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var l *listener.Listener
	if *withListener {
		l, err = listener.New(listener.Config{
			Service:           services.ApiService,
			LookbackWindow:    cfg.Listener.LookbackWindow,
			PollingInterval:   cfg.Listener.PollingInterval,
			CleanupInterval:   cfg.Listener.CleanupInterval,
			StuckOrderAge:     cfg.Listener.StuckOrderAge,
			ReconcileInterval: cfg.Listener.ReconcileInterval,
		})
		if err != nil {
			zap.L().Fatal("Failed to create listener", zap.Error(err))
		}
		if err := l.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start listener", zap.Error(err))
		}
	}

	srv := server.New(services.ApiService, services.Hub, services.Cache, cfg.HTTP)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			zap.L().Error("HTTP server stopped", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	services.Hub.Close()

	if l != nil {
		done := make(chan struct{})
		go func() {
			l.Stop()
			close(done)
		}()
		select {
		case <-done:
			zap.L().Info("Listener stopped gracefully")
		case <-shutdownCtx.Done():
			zap.L().Warn("Forced shutdown after timeout")
		}
	}
}
