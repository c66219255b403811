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
	"regexp"

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type generationStats struct {
	successCount int
	failedAssets []string
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func validateRole(role string) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return fmt.Errorf("role must be %q or %q", models.RoleUser, models.RoleAdmin)
	}
	return nil
}

func processAsset(ctx context.Context, services *common.Services, userId string, asset custody.Asset) bool {
	zap.L().Info("Processing asset",
		zap.String("asset", asset.Symbol),
		zap.String("network", asset.Network))

	address, err := services.ApiService.GetOrCreateAddress(ctx, userId, api.AddressRequest{
		Asset:   asset.Symbol,
		Network: asset.Network,
	})
	if err != nil {
		zap.L().Error("Failed to create deposit address",
			zap.String("asset", asset.Symbol),
			zap.String("network", asset.Network),
			zap.Error(err))
		fmt.Printf("✗ %s-%s: Failed to create address\n", asset.Symbol, asset.Network)
		return false
	}

	fmt.Printf("✓ %s-%s: %s\n", asset.Symbol, asset.Network, address.Address)
	return true
}

func generateAddressesForUser(ctx context.Context, services *common.Services, userId string, assets []custody.Asset) generationStats {
	fmt.Printf("Generating deposit addresses for %d assets...\n\n", len(assets))

	stats := generationStats{
		failedAssets: []string{},
	}

	for _, asset := range assets {
		if processAsset(ctx, services, userId, asset) {
			stats.successCount++
		} else {
			stats.failedAssets = append(stats.failedAssets, asset.Key())
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	passwordFlag := flag.String("password", "", "Initial password, at least 8 characters (required)")
	roleFlag := flag.String("role", models.RoleUser, "Role: user or admin")
	addressesFlag := flag.Bool("addresses", true, "Generate deposit addresses for every configured asset")
	flag.Parse()

	if *nameFlag == "" || *emailFlag == "" || *passwordFlag == "" {
		zap.L().Fatal("Flags --name, --email and --password are required")
	}
	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}
	if err := validateRole(*roleFlag); err != nil {
		zap.L().Fatal("Invalid role", zap.Error(err))
	}

	zap.L().Info("Starting user creation process",
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag),
		zap.String("role", *roleFlag))

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

	user, err := services.ApiService.CreateUser(ctx, api.RegisterRequest{
		Name:     *nameFlag,
		Email:    *emailFlag,
		Password: *passwordFlag,
	}, *roleFlag)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			zap.L().Fatal("User already exists with this email", zap.String("email", *emailFlag))
		}
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("USER CREATED", common.DefaultWidth)
	fmt.Printf("ID:    %s\n", user.Id)
	fmt.Printf("Name:  %s\n", user.Name)
	fmt.Printf("Email: %s\n", user.Email)
	fmt.Printf("Role:  %s\n", user.Role)
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User created successfully", zap.String("id", user.Id))

	if !*addressesFlag {
		return
	}

	assets := services.Registry.All()
	if len(assets) == 0 {
		fmt.Println("No assets configured in the assets file")
		fmt.Println("User created but no deposit addresses generated")
		return
	}

	stats := generateAddressesForUser(ctx, services, user.Id, assets)

	fmt.Println()
	common.PrintHeader("ADDRESS GENERATION SUMMARY", common.DefaultWidth)
	fmt.Printf("Total Assets:      %d\n", len(assets))
	fmt.Printf("Successful:        %d\n", stats.successCount)
	fmt.Printf("Failed:            %d\n", len(stats.failedAssets))
	if len(stats.failedAssets) > 0 {
		fmt.Printf("Failed Assets:     %v\n", stats.failedAssets)
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}
