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
	"time"

	"go.uber.org/zap"
)

// isTransactionProcessed checks if we've already processed this transaction
func (l *Listener) isTransactionProcessed(key string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	_, exists := l.processedTxIds[key]
	return exists
}

// markTransactionProcessed marks a transaction as processed
func (l *Listener) markTransactionProcessed(key string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.processedTxIds[key] = time.Now().UTC()
}

// cleanupProcessedTransactions removes entries older than the lookback
// window; the poll no longer returns those transactions.
func (l *Listener) cleanupProcessedTransactions() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := time.Now().UTC().Add(-l.lookbackWindow)
	cleaned := 0

	for key, processedTime := range l.processedTxIds {
		if processedTime.Before(cutoff) {
			delete(l.processedTxIds, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up old processed transactions",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(l.processedTxIds)))
	}
}
