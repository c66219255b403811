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

package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/models"

	"go.uber.org/zap"
)

// Service is the part of the ledger service the listener drives.
type Service interface {
	Custodian() custody.Custodian
	HandleCustodyTransaction(ctx context.Context, tx models.CustodyTransaction) error
	StaleOfframps(ctx context.Context, statuses []models.OfframpStatus, olderThan time.Duration, limit int) ([]models.OfframpOrder, error)
	ResumeOfframp(ctx context.Context, id string) (*models.OfframpOrder, error)
	RefreshOfframpStatus(ctx context.Context, id string) (*models.OfframpOrder, error)
	StaleWithdrawals(ctx context.Context, olderThan time.Duration, limit int) ([]models.WithdrawalRecord, error)
	ResumeWithdrawal(ctx context.Context, id string) (*models.WithdrawalRecord, error)
	ReconcileCustody(ctx context.Context) ([]models.ReconciliationReport, error)
}

// Config contains configuration for the Listener
type Config struct {
	Service           Service
	LookbackWindow    time.Duration
	PollingInterval   time.Duration
	CleanupInterval   time.Duration
	StuckOrderAge     time.Duration
	ReconcileInterval time.Duration
	// BatchSize bounds how many orders one maintenance pass touches.
	BatchSize int
}

// Listener polls the custodian for transactions it may have missed as
// webhooks, pushes stuck off-ramp orders forward and periodically reconciles
// the ledger against custody balances.
type Listener struct {
	svc Service

	// State management for processed transactions
	processedTxIds  map[string]time.Time
	mutex           sync.RWMutex
	lookbackWindow  time.Duration
	pollingInterval time.Duration
	cleanupInterval time.Duration

	stuckOrderAge     time.Duration
	reconcileInterval time.Duration
	batchSize         int

	// Control channels
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new listener
func New(cfg Config) (*Listener, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("listener requires a service")
	}
	if cfg.PollingInterval <= 0 {
		return nil, fmt.Errorf("polling interval must be positive")
	}

	l := &Listener{
		svc:               cfg.Service,
		processedTxIds:    make(map[string]time.Time),
		lookbackWindow:    cfg.LookbackWindow,
		pollingInterval:   cfg.PollingInterval,
		cleanupInterval:   cfg.CleanupInterval,
		stuckOrderAge:     cfg.StuckOrderAge,
		reconcileInterval: cfg.ReconcileInterval,
		batchSize:         cfg.BatchSize,
		stopChan:          make(chan struct{}),
	}
	if l.lookbackWindow <= 0 {
		l.lookbackWindow = 6 * time.Hour
	}
	if l.cleanupInterval <= 0 {
		l.cleanupInterval = 15 * time.Minute
	}
	if l.stuckOrderAge <= 0 {
		l.stuckOrderAge = 2 * time.Minute
	}
	if l.batchSize <= 0 {
		l.batchSize = 50
	}
	return l, nil
}

// Start performs startup recovery and launches the background loops.
func (l *Listener) Start(ctx context.Context) error {
	zap.L().Info("Starting listener",
		zap.String("custodian", l.svc.Custodian().Name()))

	// Perform startup recovery to catch any missed transactions
	recovered, err := l.pollCustodian(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("startup recovery canceled: %w", ctx.Err())
		}
		zap.L().Warn("Startup recovery failed, continuing with polling", zap.Error(err))
	} else {
		zap.L().Info("Startup recovery completed",
			zap.Int("transactions_recovered", recovered),
			zap.Duration("lookback_window", l.lookbackWindow))
	}

	l.run(ctx, l.pollingInterval, l.poll)
	l.run(ctx, l.cleanupInterval, func(context.Context) { l.cleanupProcessedTransactions() })
	l.run(ctx, l.pollingInterval, l.maintainOrders)
	if l.reconcileInterval > 0 {
		l.run(ctx, l.reconcileInterval, l.reconcile)
	}

	zap.L().Info("Listener started successfully",
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Duration("lookback_window", l.lookbackWindow),
		zap.Duration("reconcile_interval", l.reconcileInterval))

	return nil
}

// Stop signals the loops to exit and waits for them. It is safe to call
// more than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		zap.L().Info("Stopping listener")
		close(l.stopChan)
	})
	l.wg.Wait()
	zap.L().Info("Listener stopped")
}

// run calls fn every interval until Stop or ctx cancellation.
func (l *Listener) run(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-l.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *Listener) poll(ctx context.Context) {
	if _, err := l.pollCustodian(ctx); err != nil {
		zap.L().Error("Failed to poll custodian", zap.Error(err))
	}
}
