package common

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"custodial-wallet-go/internal/alchemypay"
	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/blockradar"
	"custodial-wallet-go/internal/cache"
	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/database"
	"custodial-wallet-go/internal/formance"
	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/paycrest"
	"custodial-wallet-go/internal/paystack"
	"custodial-wallet-go/internal/prime"
	"custodial-wallet-go/internal/retry"
	"custodial-wallet-go/internal/security"
	"custodial-wallet-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService  *database.Service
	Ledger     store.Ledger
	Registry   *custody.Registry
	Custodian  custody.Custodian
	Cache      cache.Cache
	Hub        *notify.Hub
	ApiService *api.LedgerService
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the store, the ledger backend, the custodian,
// the fiat providers and the notifiers into one LedgerService.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	registry, err := custody.LoadAssets(cfg.Listener.AssetsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset registry: %w", err)
	}

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	svcs := &Services{DbService: dbService, Registry: registry}

	httpClient, err := httpclient.New()
	if err != nil {
		svcs.Close()
		return nil, err
	}

	svcs.Custodian, err = newCustodian(ctx, cfg, httpClient, registry)
	if err != nil {
		svcs.Close()
		return nil, err
	}

	svcs.Ledger, err = newLedger(ctx, cfg, svcs.Custodian.Name(), dbService)
	if err != nil {
		svcs.Close()
		return nil, err
	}

	tokens, err := security.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTTTL)
	if err != nil {
		svcs.Close()
		return nil, fmt.Errorf("invalid auth configuration: %w", err)
	}
	var encryptor *security.Encryptor
	if cfg.Auth.EncryptionKey != "" {
		if encryptor, err = security.NewEncryptor(cfg.Auth.EncryptionKey); err != nil {
			svcs.Close()
			return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
	}

	svcs.Cache = cache.New(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword)
	svcs.Hub = notify.NewHub(cfg.HTTP.AllowedOrigins)
	notifiers := notify.Multi{svcs.Hub}
	if cfg.Notify.ExpoURL != "" {
		notifiers = append(notifiers, notify.NewExpoPusher(httpClient, cfg.Notify.ExpoURL, cfg.Notify.ExpoAccessToken, dbService))
	}

	apiCfg := api.Config{
		Store:      dbService,
		Ledger:     svcs.Ledger,
		Custodian:  svcs.Custodian,
		Registry:   registry,
		Tokens:     tokens,
		Encryptor:  encryptor,
		Cache:      svcs.Cache,
		Notifier:   notifiers,
		QuoteTTL:   cfg.Cache.QuoteTTL,
		TOTPIssuer: cfg.Auth.TOTPIssuer,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Multiplier:  2.0,
			Jitter:      true,
		},
	}

	if cfg.Paycrest.APIKey != "" {
		client, err := paycrest.NewClient(httpClient, cfg.Paycrest.BaseURL, cfg.Paycrest.APIKey, cfg.Paycrest.ClientSecret)
		if err != nil {
			svcs.Close()
			return nil, err
		}
		apiCfg.Paycrest = client
	} else {
		zap.L().Warn("PAYCREST_API_KEY not set, off-ramp disabled")
	}
	if cfg.Paystack.SecretKey != "" {
		client, err := paystack.NewClient(httpClient, cfg.Paystack.BaseURL, cfg.Paystack.SecretKey)
		if err != nil {
			svcs.Close()
			return nil, err
		}
		apiCfg.Paystack = client
	} else {
		zap.L().Warn("PAYSTACK_SECRET_KEY not set, bank verification disabled")
	}
	if cfg.AlchemyPay.AppId != "" {
		client, err := alchemypay.NewClient(cfg.AlchemyPay.BaseURL, cfg.AlchemyPay.AppId, cfg.AlchemyPay.AppSecret, cfg.AlchemyPay.CallbackURL, cfg.AlchemyPay.RedirectURL)
		if err != nil {
			svcs.Close()
			return nil, err
		}
		apiCfg.AlchemyPay = client
	} else {
		zap.L().Warn("ALCHEMYPAY_APP_ID not set, on-ramp disabled")
	}

	svcs.ApiService, err = api.NewLedgerService(apiCfg)
	if err != nil {
		svcs.Close()
		return nil, err
	}

	zap.L().Info("Services initialized",
		zap.String("custodian", svcs.Custodian.Name()),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.Int("assets", len(registry.All())))
	return svcs, nil
}

func newCustodian(ctx context.Context, cfg *models.Config, httpClient *http.Client, registry *custody.Registry) (custody.Custodian, error) {
	switch cfg.Custody.Provider {
	case "prime":
		zap.L().Info("Loading Prime API credentials")
		creds, err := loadPrimeCredentials(cfg.Prime)
		if err != nil {
			return nil, err
		}
		svc, err := prime.NewService(ctx, creds, httpClient, cfg.Prime.Portfolio, registry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize prime custodian: %w", err)
		}
		return svc, nil
	default:
		client, err := blockradar.NewClient(httpClient, cfg.BlockRadar.BaseURL, cfg.BlockRadar.APIKey, registry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize blockradar custodian: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			zap.L().Warn("BlockRadar wallet check failed", zap.Error(err))
		}
		return client, nil
	}
}

func newLedger(ctx context.Context, cfg *models.Config, custodian string, db *database.Service) (store.Ledger, error) {
	if cfg.Ledger.Backend != "formance" {
		return db, nil
	}
	ledger, err := formance.NewService(ctx, cfg.Ledger, custodian, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize formance ledger: %w", err)
	}
	return ledger, nil
}

// InitializeDatabaseOnly initializes just the database service without any
// provider. Useful for read-only operations like querying balances.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

// InitializeLedgerOnly opens the database and the configured ledger backend
// without contacting the custodian. Used by the reporting commands.
func InitializeLedgerOnly(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	svcs := &Services{DbService: dbService}
	if svcs.Ledger, err = newLedger(ctx, cfg, cfg.Custody.Provider, dbService); err != nil {
		svcs.Close()
		return nil, err
	}
	return svcs, nil
}

func (cs *Services) Close() {
	if cs.Cache != nil {
		if err := cs.Cache.Close(); err != nil {
			zap.L().Warn("Failed to close cache", zap.Error(err))
		}
	}
	if cs.Ledger != nil && cs.Ledger != store.Ledger(cs.DbService) {
		cs.Ledger.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func loadPrimeCredentials(cfg models.PrimeConfig) (*credentials.Credentials, error) {
	if cfg.AccessKey == "" || cfg.Passphrase == "" || cfg.SigningKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
