package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalance returns current balance for user/asset (O(1) lookup)
func (s *SubledgerService) GetBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId), zap.String("asset", asset))

	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, userId, asset).Scan(&balanceStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.String("asset", asset), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		zap.L().Error("Failed to parse balance", zap.String("balance_str", balanceStr), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}

	return balance, nil
}

// GetAllBalances returns all non-zero balances for a user
func (s *SubledgerService) GetAllBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	zap.L().Debug("Getting all balances", zap.String("user_id", userId))

	rows, err := s.db.QueryContext(ctx, queryGetAllUserBalances, userId)
	if err != nil {
		zap.L().Error("Failed to get all balances", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var balances []models.AccountBalance
	for rows.Next() {
		var balance models.AccountBalance
		var balanceStr string
		err := rows.Scan(&balance.Id, &balance.UserId, &balance.Asset, &balanceStr,
			&balance.LastTransactionId, &balance.Version, &balance.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}

		balance.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}

		balances = append(balances, balance)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	return balances, nil
}

// ReconcileBalance verifies that current balance matches sum of all transactions
func (s *SubledgerService) ReconcileBalance(ctx context.Context, userId, asset string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId), zap.String("asset", asset))

	currentBalance, err := s.GetBalance(ctx, userId, asset)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	calculatedBalance, err := s.sumConfirmedTransactions(ctx, userId, asset)
	if err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}

	if !currentBalance.Equal(calculatedBalance) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.String("current_balance", currentBalance.String()),
			zap.String("calculated_balance", calculatedBalance.String()),
			zap.String("difference", currentBalance.Sub(calculatedBalance).String()))
		return fmt.Errorf("balance mismatch: current=%s, calculated=%s", currentBalance.String(), calculatedBalance.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.String("balance", currentBalance.String()))
	return nil
}

// sumConfirmedTransactions adds amounts in decimal; SQL SUM would coerce the text column to float.
func (s *SubledgerService) sumConfirmedTransactions(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, queryReconcileBalance, userId, asset)
	if err != nil {
		return decimal.Zero, err
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	sum := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

// GetAssetTotals returns the total of all user balances per asset.
func (s *SubledgerService) GetAssetTotals(ctx context.Context) ([]store.AssetTotal, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllBalancesForTotals)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var asset, balanceStr string
		if err := rows.Scan(&asset, &balanceStr); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balance, err := decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		totals[asset] = totals[asset].Add(balance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	result := make([]store.AssetTotal, 0, len(totals))
	for asset, total := range totals {
		result = append(result, store.AssetTotal{Asset: asset, Total: total})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result, nil
}
