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
	"errors"
	"flag"
	"fmt"
	"strings"

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type withdrawalRequest struct {
	email       string
	symbol      string
	network     string
	amount      decimal.Decimal
	destination string
}

func parseAndValidateFlags() (*withdrawalRequest, error) {
	emailFlag := flag.String("email", "", "User email (required)")
	assetFlag := flag.String("asset", "", "Asset as SYMBOL-network, e.g. USDC-base (required)")
	amountFlag := flag.String("amount", "", "Amount to withdraw (required)")
	destinationFlag := flag.String("destination", "", "Destination address (required)")
	flag.Parse()

	if *emailFlag == "" || *assetFlag == "" || *amountFlag == "" || *destinationFlag == "" {
		return nil, fmt.Errorf("all flags are required: --email, --asset, --amount, --destination")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	symbol, network, err := parseAsset(*assetFlag)
	if err != nil {
		return nil, err
	}

	return &withdrawalRequest{
		email:       *emailFlag,
		symbol:      symbol,
		network:     network,
		amount:      amount,
		destination: *destinationFlag,
	}, nil
}

func parseAsset(assetStr string) (string, string, error) {
	parts := strings.SplitN(assetStr, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid asset format %q, expected SYMBOL-network (e.g. USDC-base)", assetStr)
	}
	return strings.ToUpper(parts[0]), strings.ToLower(parts[1]), nil
}

func printWithdrawalSummary(user *models.User, req *withdrawalRequest, currentBalance decimal.Decimal) {
	common.PrintHeader("WITHDRAWAL REQUEST", common.DefaultWidth)
	fmt.Printf("User:              %s (%s)\n", user.Name, user.Email)
	fmt.Printf("Asset:             %s on %s\n", req.symbol, req.network)
	fmt.Printf("Current Balance:   %s %s\n", currentBalance.String(), req.symbol)
	fmt.Printf("Withdrawal Amount: %s %s\n", req.amount.String(), req.symbol)
	fmt.Printf("Remaining Balance: %s %s\n", currentBalance.Sub(req.amount).String(), req.symbol)
	fmt.Printf("Destination:       %s\n", req.destination)
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}

func printFailure(lines ...string) {
	common.PrintHeader("WITHDRAWAL FAILED", common.DefaultWidth)
	for _, line := range lines {
		fmt.Println(line)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Starting withdrawal process",
		zap.String("email", req.email),
		zap.String("asset", req.symbol),
		zap.String("network", req.network),
		zap.String("amount", req.amount.String()),
		zap.String("destination", req.destination))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	targetUser, err := services.DbService.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.email)))
	if err != nil {
		printFailure(fmt.Sprintf("Error: User not found for email %s", req.email))
		zap.L().Fatal("User not found", zap.String("email", req.email), zap.Error(err))
	}

	currentBalance, err := services.ApiService.GetUserBalance(ctx, targetUser.Id, req.symbol)
	if err != nil {
		zap.L().Fatal("Failed to read balance", zap.Error(err))
	}
	printWithdrawalSummary(targetUser, req, currentBalance)

	fmt.Println("🔄 Debiting balance and sending via custodian...")
	record, err := services.ApiService.Withdraw(ctx, targetUser.Id, api.WithdrawRequest{
		Asset:   req.symbol,
		Network: req.network,
		Amount:  req.amount.String(),
		Address: req.destination,
	})
	if err != nil && record != nil {
		// Custodian outcome unknown; the hold stays until the listener settles it
		fmt.Printf("⏳ Withdrawal %s pending confirmation: %v\n", record.Id, err)
		zap.L().Warn("Withdrawal outcome unknown", zap.String("withdrawal_id", record.Id), zap.Error(err))
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			printFailure(
				fmt.Sprintf("Balance:           %s %s", currentBalance.String(), req.symbol),
				fmt.Sprintf("Requested Amount:  %s %s", req.amount.String(), req.symbol),
				fmt.Sprintf("Shortfall:         %s %s", req.amount.Sub(currentBalance).String(), req.symbol),
				"\n❌ Insufficient balance")
		case errors.Is(err, api.ErrInvalidAddress):
			printFailure(fmt.Sprintf("Error: %s is not a valid %s address", req.destination, req.network))
		default:
			printFailure(fmt.Sprintf("Error: %v", err), "Any hold on the balance has been released")
		}
		zap.L().Fatal("Withdrawal failed", zap.Error(err))
	}

	fmt.Printf("✅ Withdrawal %s submitted (status: %s)\n", record.Id, record.Status)
	if record.CustodyWithdrawalId != "" {
		fmt.Printf("   Custodian reference: %s\n", record.CustodyWithdrawalId)
	}
	fmt.Println("   The listener confirms or reverses it once the custodian settles.")

	zap.L().Info("Withdrawal submitted",
		zap.String("withdrawal_id", record.Id),
		zap.String("user_id", targetUser.Id),
		zap.String("asset", req.symbol),
		zap.String("amount", req.amount.String()))
}
