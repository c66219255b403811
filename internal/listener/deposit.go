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
	"time"

	"custodial-wallet-go/internal/metrics"
	"custodial-wallet-go/internal/models"

	"go.uber.org/zap"
)

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// pollCustodian fetches custodian transactions inside the lookback window
// and applies the ones not yet processed. It returns how many were applied.
func (l *Listener) pollCustodian(ctx context.Context) (int, error) {
	since := time.Now().UTC().Add(-l.lookbackWindow)

	fmt.Printf("\n%s[%s] Polling %s (lookback: %s)%s\n",
		colorCyan, time.Now().Format("15:04:05"), l.svc.Custodian().Name(), l.lookbackWindow, colorReset)

	transactions, err := l.svc.Custodian().ListTransactions(ctx, since)
	metrics.ListenerPoll(err)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	applied := 0
	for _, tx := range transactions {
		key := processedKey(tx)
		if l.isTransactionProcessed(key) {
			continue
		}

		txIdShort := tx.Id
		if len(txIdShort) > 12 {
			txIdShort = txIdShort[:12] + "..."
		}

		if err := l.svc.HandleCustodyTransaction(ctx, tx); err != nil {
			fmt.Printf("  %s✗ %s %s %s %s | %s %s | %s%s\n",
				colorRed, tx.Asset, tx.Type, tx.Status, tx.Amount,
				txIdShort, tx.Network, err, colorReset)
			zap.L().Error("Failed to process transaction",
				zap.String("transaction_id", tx.Id),
				zap.String("type", tx.Type),
				zap.String("status", tx.Status),
				zap.Error(err))
			continue
		}

		l.markTransactionProcessed(key)
		applied++

		color, symbol := colorGreen, "✓"
		if tx.Status == models.CustodyStatusPending {
			color, symbol = colorYellow, "~"
		}
		fmt.Printf("  %s%s %s %s %s %s | %s %s%s\n",
			color, symbol, tx.Asset, tx.Type, tx.Status, tx.Amount,
			txIdShort, tx.Network, colorReset)
	}

	if applied == 0 && len(transactions) > 0 {
		zap.L().Debug("All transactions already processed",
			zap.Int("total", len(transactions)))
	}
	return applied, nil
}

// processedKey includes the status so a withdrawal seen as pending is
// applied again once it settles.
func processedKey(tx models.CustodyTransaction) string {
	return tx.Id + ":" + tx.Status
}
