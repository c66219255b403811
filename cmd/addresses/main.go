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

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

type addressReport struct {
	usersQueried       int
	usersWithAddresses int
	addresses          int
	generated          int
	failed             int
}

func printAddress(addr models.Address, isLast bool) {
	fmt.Printf("%s %-24s %s\n", common.BoxPrefix(isLast), addr.Asset+"-"+addr.Network, addr.Address)

	detail := common.BoxDetailPrefix(isLast)
	if addr.AccountIdentifier != "" && addr.AccountIdentifier != addr.Address {
		fmt.Printf("%s   custodian id: %s\n", detail, addr.AccountIdentifier)
	}
	if addr.EncryptedKeyMaterial != "" {
		fmt.Printf("%s   key material: sealed\n", detail)
	}
}

// ensureAddresses asks the custodian for every registry asset the user has
// no address for yet, counting results into report.
func ensureAddresses(ctx context.Context, svc *api.LedgerService, addresses store.AddressStore, user common.UserInfo, report *addressReport, logger *zap.Logger) {
	before, err := addresses.GetAllUserAddresses(ctx, user.Id)
	if err != nil {
		logger.Error("Failed to get addresses", zap.String("user_id", user.Id), zap.Error(err))
		return
	}
	have := make(map[string]bool, len(before))
	for _, a := range before {
		have[a.Asset+"-"+a.Network] = true
	}

	for _, asset := range svc.Registry().All() {
		if have[asset.Key()] {
			continue
		}
		if _, err := svc.GetOrCreateAddress(ctx, user.Id, api.AddressRequest{Asset: asset.Symbol, Network: asset.Network}); err != nil {
			report.failed++
			logger.Error("Failed to create deposit address",
				zap.String("user_id", user.Id),
				zap.String("asset", asset.Key()),
				zap.Error(err))
			continue
		}
		report.generated++
	}
}

func reportUsers(ctx context.Context, users []common.UserInfo, addresses store.AddressStore, svc *api.LedgerService, logger *zap.Logger) addressReport {
	var report addressReport

	for _, user := range users {
		report.usersQueried++

		if svc != nil && user.Status == models.UserStatusActive {
			ensureAddresses(ctx, svc, addresses, user, &report, logger)
		}

		list, err := addresses.GetAllUserAddresses(ctx, user.Id)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
			continue
		}
		if len(list) == 0 {
			continue
		}

		fmt.Printf("\n┌─ %s <%s>\n", user.Name, user.Email)
		fmt.Printf("│  id %s, %d addresses\n", user.Id, len(list))
		common.PrintBoxSeparator(98)
		for i, addr := range list {
			printAddress(addr, i == len(list)-1)
		}

		report.usersWithAddresses++
		report.addresses += len(list)
	}

	return report
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Only this user (optional)")
	generateFlag := flag.Bool("generate", false, "Create missing deposit addresses for every configured asset")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// The custodian is only contacted when generating
	var services *common.Services
	if *generateFlag {
		services, err = common.InitializeServices(ctx, cfg)
	} else {
		services, err = common.InitializeLedgerOnly(ctx, cfg)
	}
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	users, err := common.InitializeUsers(ctx, services.DbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("DEPOSIT ADDRESSES REPORT", common.WideWidth)
	report := reportUsers(ctx, users, services.DbService, services.ApiService, logger)

	summary := fmt.Sprintf("SUMMARY: %d of %d users have addresses (%d total)",
		report.usersWithAddresses, report.usersQueried, report.addresses)
	if *generateFlag {
		summary += fmt.Sprintf("\nGENERATED: %d new, %d failed", report.generated, report.failed)
	}
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Address query completed",
		zap.Int("users_queried", report.usersQueried),
		zap.Int("users_with_addresses", report.usersWithAddresses),
		zap.Int("total_addresses", report.addresses),
		zap.Int("generated", report.generated))
}
