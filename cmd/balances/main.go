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
	"flag"
	"fmt"
	"strings"

	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

const timeLayout = "2006-01-02 15:04:05"

type balanceReport struct {
	usersQueried      int
	usersWithBalances int
	balanceRows       int
}

func printBalance(balance models.AccountBalance, isLast bool) {
	prefix := common.BoxPrefix(isLast)
	updated := balance.UpdatedAt.Format(timeLayout)

	// Formance balances are derived from postings and carry no version
	if balance.Version == 0 && balance.LastTransactionId == "" {
		fmt.Printf("%s %-10s %24s  updated %s\n", prefix, balance.Asset, balance.Balance.String(), updated)
		return
	}
	fmt.Printf("%s %-10s %24s  v%-4d last_tx %-11s updated %s\n",
		prefix,
		balance.Asset,
		balance.Balance.String(),
		balance.Version,
		common.ShortId(balance.LastTransactionId),
		updated)
}

// userBalances returns the user's balances, narrowed to asset when set.
func userBalances(ctx context.Context, ledger store.Ledger, userId, asset string) ([]models.AccountBalance, error) {
	balances, err := ledger.GetAllUserBalances(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	if asset == "" {
		return balances, nil
	}
	filtered := balances[:0]
	for _, b := range balances {
		if strings.EqualFold(b.Asset, asset) {
			filtered = append(filtered, b)
		}
	}
	return filtered, nil
}

func reportUsers(ctx context.Context, users []common.UserInfo, ledger store.Ledger, asset string, logger *zap.Logger) balanceReport {
	var report balanceReport

	for _, user := range users {
		report.usersQueried++

		balances, err := userBalances(ctx, ledger, user.Id, asset)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
			continue
		}
		if len(balances) == 0 {
			continue
		}

		fmt.Printf("\n┌─ %s <%s>  [%s, %s]\n", user.Name, user.Email, user.Role, user.Status)
		fmt.Printf("│  id %s\n", user.Id)
		common.PrintBoxSeparator(78)
		for i, b := range balances {
			printBalance(b, i == len(balances)-1)
		}

		report.usersWithBalances++
		report.balanceRows += len(balances)
	}

	return report
}

func printTotals(ctx context.Context, ledger store.Ledger, logger *zap.Logger) {
	totals, err := ledger.GetAssetTotals(ctx)
	if err != nil {
		logger.Warn("Failed to compute asset totals", zap.Error(err))
		return
	}
	common.PrintHeader("LEDGER TOTALS (owed to users)", common.DefaultWidth)
	for _, t := range totals {
		common.PrintField(t.Asset, t.Total.String())
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Only this user (optional)")
	assetFlag := flag.String("asset", "", "Only this asset symbol (optional)")
	totalsFlag := flag.Bool("totals", true, "Print per-asset ledger totals")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting balance query",
		zap.String("path", cfg.Database.Path),
		zap.String("backend", cfg.Ledger.Backend))
	services, err := common.InitializeLedgerOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer services.Close()

	users, err := common.InitializeUsers(ctx, services.DbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)
	report := reportUsers(ctx, users, services.Ledger, *assetFlag, logger)

	if *totalsFlag && *emailFlag == "" {
		printTotals(ctx, services.Ledger, logger)
	}

	common.PrintFooter(fmt.Sprintf("SUMMARY: %d of %d users hold a balance (%d rows)",
		report.usersWithBalances, report.usersQueried, report.balanceRows), common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", report.usersQueried),
		zap.Int("users_with_balances", report.usersWithBalances),
		zap.Int("balance_rows", report.balanceRows))
}
