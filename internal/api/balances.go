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
	"fmt"
	"strings"

	"custodial-wallet-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetUserBalance returns the current balance for a user and specific asset
func (s *LedgerService) GetUserBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	if userId == "" || asset == "" {
		return decimal.Zero, fmt.Errorf("%w: user_id and asset are required", ErrValidation)
	}

	balance, err := s.ledger.GetUserBalance(ctx, userId, strings.ToUpper(asset))
	if err != nil {
		zap.L().Error("Failed to get user balance",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to retrieve balance: %w", err)
	}

	return balance, nil
}

// Balances returns all non-zero balances for a user
func (s *LedgerService) Balances(ctx context.Context, userId string) ([]models.UserBalance, error) {
	balances, err := s.ledger.GetAllUserBalances(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balances", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balances: %w", err)
	}

	result := make([]models.UserBalance, 0, len(balances))
	for _, balance := range balances {
		if balance.Balance.IsZero() {
			continue
		}
		result = append(result, models.UserBalance{
			Asset:   balance.Asset,
			Balance: balance.Balance,
		})
	}

	return result, nil
}

// History returns paginated transaction history for a user. An empty asset
// returns every asset.
func (s *LedgerService) History(ctx context.Context, userId, asset string, limit, offset int) ([]models.TransactionRecord, error) {
	limit, offset = clampPage(limit, offset)

	transactions, err := s.ledger.GetTransactionHistory(ctx, userId, strings.ToUpper(asset), limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history: %w", err)
	}

	result := make([]models.TransactionRecord, len(transactions))
	for i, tx := range transactions {
		result[i] = models.TransactionRecord{
			Id:          tx.Id,
			Type:        tx.TransactionType,
			Asset:       tx.Asset,
			Amount:      tx.Amount,
			Address:     tx.Address,
			Reference:   tx.Reference,
			Status:      tx.Status,
			ProcessedAt: tx.ProcessedAt,
		}
	}

	return result, nil
}

type AddressRequest struct {
	Asset   string `json:"asset" validate:"required,max=16"`
	Network string `json:"network" validate:"required,max=32"`
}

// GetOrCreateAddress returns the user's deposit address for asset/network,
// asking the custodian for one only the first time.
func (s *LedgerService) GetOrCreateAddress(ctx context.Context, userId string, req AddressRequest) (*models.Address, error) {
	entry, err := s.lookupAsset(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetAddresses(ctx, userId, entry.Symbol, entry.Network)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}

	lockKey := userId + ":" + entry.Key()
	acquired, err := s.cache.SetNX(ctx, "address-lock", lockKey, "1", addressLockTTL)
	if err != nil {
		zap.L().Warn("Address lock unavailable, continuing", zap.Error(err))
	} else if !acquired {
		return nil, fmt.Errorf("%w: address for %s", ErrInProgress, entry.Key())
	} else {
		defer func() {
			if err := s.cache.Delete(context.WithoutCancel(ctx), "address-lock", lockKey); err != nil {
				zap.L().Warn("Failed to release address lock", zap.Error(err))
			}
		}()
	}

	var deposit *models.DepositAddress
	err = s.call(ctx, "custody.create_address", func(ctx context.Context) error {
		var callErr error
		deposit, callErr = s.custodian.CreateDepositAddress(ctx, userId, entry.Symbol, entry.Network)
		return callErr
	})
	if err != nil {
		zap.L().Error("Failed to create deposit address",
			zap.String("user_id", userId),
			zap.String("asset", entry.Symbol),
			zap.String("network", entry.Network),
			zap.Error(err))
		return nil, fmt.Errorf("unable to create deposit address: %w", err)
	}

	sealed := ""
	if deposit.KeyMaterial != "" {
		if sealed, err = s.encrypt(deposit.KeyMaterial); err != nil {
			return nil, fmt.Errorf("unable to encrypt key material: %w", err)
		}
	}

	return s.store.StoreAddress(ctx, storeAddressParams(userId, entry.Symbol, entry.Network, deposit, sealed))
}

func (s *LedgerService) ListAddresses(ctx context.Context, userId string) ([]models.Address, error) {
	return s.store.GetAllUserAddresses(ctx, userId)
}
