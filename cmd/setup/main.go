package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/common"
	"custodial-wallet-go/internal/config"
	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

// processUserAsset makes sure the user has a deposit address for one asset
func processUserAsset(ctx context.Context, services *common.Services, user models.User, asset custody.Asset) error {
	zap.L().Info("Processing asset",
		zap.String("user_id", user.Id),
		zap.String("asset", asset.Symbol),
		zap.String("network", asset.Network))

	address, err := services.ApiService.GetOrCreateAddress(ctx, user.Id, api.AddressRequest{
		Asset:   asset.Symbol,
		Network: asset.Network,
	})
	if err != nil {
		zap.L().Error("Error creating deposit address",
			zap.String("asset", asset.Symbol),
			zap.String("network", asset.Network),
			zap.Error(err))
		return err
	}

	addressOutput, err := json.MarshalIndent(address, "", "  ")
	if err != nil {
		zap.L().Error("Error marshaling address to JSON", zap.Error(err))
	} else {
		zap.L().Debug("Address details", zap.String("json", string(addressOutput)))
	}
	return nil
}

func generateAddresses(ctx context.Context, services *common.Services) {
	assets := services.Registry.All()
	zap.L().Info("Asset registry loaded", zap.Int("count", len(assets)))

	users, err := services.DbService.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	var totalAddresses, failedAddresses int
	var failedAssets []string

	for _, user := range users {
		if !user.IsActive() {
			continue
		}
		zap.L().Info("Processing user",
			zap.String("id", user.Id),
			zap.String("name", user.Name),
			zap.String("email", user.Email))

		for _, asset := range assets {
			if err := processUserAsset(ctx, services, user, asset); err != nil {
				failedAddresses++
				failedAssets = append(failedAssets, fmt.Sprintf("%s/%s", user.Name, asset.Key()))
			} else {
				totalAddresses++
			}
		}
	}

	if failedAddresses > 0 {
		zap.L().Warn("Address generation completed with some failures",
			zap.Int("addresses_ready", totalAddresses),
			zap.Int("failed_addresses", failedAddresses),
			zap.Strings("failed_user_assets", failedAssets))
	} else {
		zap.L().Info("Address generation completed successfully",
			zap.Int("addresses_ready", totalAddresses))
	}
}

// bootstrapAdmin creates the first operator account from ADMIN_EMAIL and
// ADMIN_PASSWORD. An existing account with that email is left alone.
func bootstrapAdmin(ctx context.Context, services *common.Services) {
	email, password := os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		zap.L().Info("ADMIN_EMAIL/ADMIN_PASSWORD not set, skipping admin bootstrap")
		return
	}

	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = "Administrator"
	}
	user, err := services.ApiService.CreateUser(ctx, api.RegisterRequest{
		Name:     name,
		Email:    email,
		Password: password,
	}, models.RoleAdmin)
	if errors.Is(err, store.ErrEmailTaken) {
		zap.L().Info("Admin account already exists", zap.String("email", email))
		return
	}
	if err != nil {
		zap.L().Fatal("Failed to create admin account", zap.Error(err))
	}
	zap.L().Info("Admin account created", zap.String("id", user.Id), zap.String("email", user.Email))
}

func runInit(ctx context.Context, services *common.Services) {
	zap.L().Info("Initializing database and generating addresses")

	// Schema and optional dummy users are created when the store opens
	zap.L().Info("SQLite schema ready")

	bootstrapAdmin(ctx, services)

	zap.L().Info("Generating addresses")
	generateAddresses(ctx, services)

	zap.L().Info("Initialization complete")
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	initFlag := flag.Bool("init", false, "Initialize the database and bootstrap the admin account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *initFlag {
		runInit(ctx, services)
		return
	}

	generateAddresses(ctx, services)
}
