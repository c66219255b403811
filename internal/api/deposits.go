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

package api

import (
	"context"
	"errors"
	"time"

	"custodial-wallet-go/internal/metrics"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

const addressLockTTL = 30 * time.Second

func storeAddressParams(userId, asset, network string, deposit *models.DepositAddress, sealedKey string) store.StoreAddressParams {
	return store.StoreAddressParams{
		UserId:               userId,
		Asset:                asset,
		Network:              network,
		Address:              deposit.Address,
		WalletId:             deposit.WalletId,
		AccountIdentifier:    deposit.Id,
		EncryptedKeyMaterial: sealedKey,
	}
}

// ProcessDeposit credits a confirmed custodian deposit to the owner of the
// receiving address. Replays of the same custodian transaction are reported
// as unsuccessful without an error.
func (s *LedgerService) ProcessDeposit(ctx context.Context, tx models.CustodyTransaction) (*models.LedgerResult, error) {
	zap.L().Info("Processing deposit from custodian",
		zap.String("custodian", s.custodian.Name()),
		zap.String("address", tx.Address),
		zap.String("asset", tx.Asset),
		zap.String("amount", tx.Amount.String()),
		zap.String("external_tx_id", tx.Id))

	if tx.Address == "" || tx.Asset == "" || !tx.Amount.IsPositive() || tx.Id == "" {
		zap.L().Error("Invalid deposit parameters",
			zap.String("address", tx.Address),
			zap.String("asset", tx.Asset),
			zap.String("amount", tx.Amount.String()),
			zap.String("external_tx_id", tx.Id))
		return &models.LedgerResult{
			Success: false,
			Error:   "invalid deposit parameters",
		}, nil
	}

	ctx = models.WithDepositContext(ctx, &models.DepositContext{
		Custodian:       s.custodian.Name(),
		CustodyTxId:     tx.Id,
		TxHash:          tx.TxHash,
		Network:         tx.Network,
		WalletId:        tx.WalletId,
		TransactionTime: tx.CreatedAt,
	})

	recorded, err := s.ledger.ProcessDeposit(ctx, tx.Address, tx.Asset, tx.Amount, tx.Id)
	metrics.LedgerOperation("deposit", err)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateTransaction):
			zap.L().Info("Duplicate deposit detected",
				zap.String("address", tx.Address),
				zap.String("external_tx_id", tx.Id))
		case errors.Is(err, store.ErrUserNotFound):
			zap.L().Warn("Deposit to unrecognized address",
				zap.String("address", tx.Address),
				zap.String("asset", tx.Asset),
				zap.String("amount", tx.Amount.String()),
				zap.String("external_tx_id", tx.Id))
		default:
			zap.L().Error("Deposit processing failed",
				zap.String("address", tx.Address),
				zap.String("asset", tx.Asset),
				zap.String("amount", tx.Amount.String()),
				zap.Error(err))
			return nil, err
		}

		return &models.LedgerResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	zap.L().Info("Deposit processed successfully",
		zap.String("user_id", recorded.UserId),
		zap.String("asset", recorded.Asset),
		zap.String("amount", recorded.Amount.String()),
		zap.String("new_balance", recorded.BalanceAfter.String()))

	s.notify(ctx, recorded.UserId, notify.Event{
		Type:  notify.EventDeposit,
		Title: "Deposit received",
		Body:  recorded.Amount.String() + " " + recorded.Asset + " has arrived in your wallet",
		Data: map[string]string{
			"asset":   recorded.Asset,
			"amount":  recorded.Amount.String(),
			"tx_hash": tx.TxHash,
		},
	})

	return &models.LedgerResult{
		Success:    true,
		UserId:     recorded.UserId,
		Asset:      recorded.Asset,
		Amount:     recorded.Amount,
		NewBalance: recorded.BalanceAfter,
	}, nil
}

// HandleCustodyTransaction applies one custodian transaction, from a webhook
// or the listener poll, to the ledger and the local withdrawal records.
func (s *LedgerService) HandleCustodyTransaction(ctx context.Context, tx models.CustodyTransaction) error {
	switch {
	case tx.Type == models.CustodyTxDeposit && tx.Status == models.CustodyStatusSuccess:
		_, err := s.ProcessDeposit(ctx, tx)
		return err
	case tx.Type == models.CustodyTxWithdrawal && tx.Status == models.CustodyStatusFailed:
		return s.CreditBackFailedWithdrawal(ctx, tx)
	case tx.Type == models.CustodyTxWithdrawal && tx.Status == models.CustodyStatusSuccess:
		return s.CompleteWithdrawal(ctx, tx)
	default:
		zap.L().Debug("Ignoring custody transaction",
			zap.String("id", tx.Id),
			zap.String("type", tx.Type),
			zap.String("status", tx.Status))
		return nil
	}
}
