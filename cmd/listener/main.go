/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/listener"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting custody listener")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	l, err := listener.New(listener.Config{
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

	zap.L().Info("Listener running",
		zap.String("custodian", services.Custodian.Name()),
		zap.Duration("polling_interval", cfg.Listener.PollingInterval))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping listener...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

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
