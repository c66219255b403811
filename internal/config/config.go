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


package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"custodial-wallet-go/internal/models"
)

func Load() (*models.Config, error) {
	lookbackWindow, err := getEnvDuration("LISTENER_LOOKBACK_WINDOW", 6*time.Hour)
	if err != nil {
		return nil, err
	}
	pollingInterval, err := getEnvDuration("LISTENER_POLLING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cleanupInterval, err := getEnvDuration("LISTENER_CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	stuckOrderAge, err := getEnvDuration("LISTENER_STUCK_ORDER_AGE", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	reconcileInterval, err := getEnvDuration("LISTENER_RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	readTimeout, err := getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	jwtTTL, err := getEnvDuration("JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	quoteTTL, err := getEnvDuration("QUOTE_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	retryBase, err := getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	retryMax, err := getEnvDuration("RETRY_MAX_DELAY", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:             getEnvString("DATABASE_PATH", "wallet.db"),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  connMaxLifetime,
			ConnMaxIdleTime:  connMaxIdleTime,
			PingTimeout:      pingTimeout,
			CreateDummyUsers: getEnvBool("CREATE_DUMMY_USERS", false),
		},
		Listener: models.ListenerConfig{
			LookbackWindow:    lookbackWindow,
			PollingInterval:   pollingInterval,
			CleanupInterval:   cleanupInterval,
			StuckOrderAge:     stuckOrderAge,
			ReconcileInterval: reconcileInterval,
			AssetsFile:        getEnvString("ASSETS_FILE", "assets.yaml"),
		},
		HTTP: models.HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8080"),
			AllowedOrigins:     getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
		},
		Auth: models.AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			JWTIssuer:     getEnvString("JWT_ISSUER", "custodial-wallet"),
			JWTTTL:        jwtTTL,
			EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
			TOTPIssuer:    getEnvString("TOTP_ISSUER", "Custodial Wallet"),
		},
		Custody: models.CustodyConfig{
			Provider: getEnvString("CUSTODIAN", "blockradar"),
		},
		BlockRadar: models.BlockRadarConfig{
			BaseURL: getEnvString("BLOCKRADAR_BASE_URL", "https://api.blockradar.co/v1"),
			APIKey:  os.Getenv("BLOCKRADAR_API_KEY"),
		},
		Prime: models.PrimeConfig{
			AccessKey:  os.Getenv("PRIME_ACCESS_KEY"),
			Passphrase: os.Getenv("PRIME_PASSPHRASE"),
			SigningKey: os.Getenv("PRIME_SIGNING_KEY"),
			Portfolio:  getEnvString("PRIME_PORTFOLIO", "Default Portfolio"),
		},
		Paycrest: models.PaycrestConfig{
			BaseURL:      getEnvString("PAYCREST_BASE_URL", "https://api.paycrest.io/v1"),
			APIKey:       os.Getenv("PAYCREST_API_KEY"),
			ClientSecret: os.Getenv("PAYCREST_CLIENT_SECRET"),
		},
		Paystack: models.PaystackConfig{
			BaseURL:   getEnvString("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			SecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
		},
		AlchemyPay: models.AlchemyPayConfig{
			BaseURL:     getEnvString("ALCHEMYPAY_BASE_URL", "https://ramp.alchemypay.org"),
			AppId:       os.Getenv("ALCHEMYPAY_APP_ID"),
			AppSecret:   os.Getenv("ALCHEMYPAY_APP_SECRET"),
			CallbackURL: os.Getenv("ALCHEMYPAY_CALLBACK_URL"),
			RedirectURL: os.Getenv("ALCHEMYPAY_REDIRECT_URL"),
		},
		Ledger: models.LedgerConfig{
			Backend:            getEnvString("LEDGER_BACKEND", "sqlite"),
			FormanceURL:        os.Getenv("FORMANCE_URL"),
			FormanceClientId:   os.Getenv("FORMANCE_CLIENT_ID"),
			FormanceSecret:     os.Getenv("FORMANCE_CLIENT_SECRET"),
			FormanceLedgerName: getEnvString("FORMANCE_LEDGER", "custodial-wallet"),
		},
		Cache: models.CacheConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			QuoteTTL:      quoteTTL,
		},
		Retry: models.RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 4),
			BaseDelay:   retryBase,
			MaxDelay:    retryMax,
		},
		Notify: models.NotifyConfig{
			ExpoURL:         getEnvString("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
			ExpoAccessToken: os.Getenv("EXPO_ACCESS_TOKEN"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	switch cfg.Custody.Provider {
	case "blockradar", "prime":
	default:
		return fmt.Errorf("invalid CUSTODIAN %q: expected blockradar or prime", cfg.Custody.Provider)
	}
	switch cfg.Ledger.Backend {
	case "sqlite", "formance":
	default:
		return fmt.Errorf("invalid LEDGER_BACKEND %q: expected sqlite or formance", cfg.Ledger.Backend)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.Retry.MaxAttempts)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
