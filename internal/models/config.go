package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Listener   ListenerConfig
	HTTP       HTTPConfig
	Auth       AuthConfig
	Custody    CustodyConfig
	BlockRadar BlockRadarConfig
	Prime      PrimeConfig
	Paycrest   PaycrestConfig
	Paystack   PaystackConfig
	AlchemyPay AlchemyPayConfig
	Ledger     LedgerConfig
	Cache      CacheConfig
	Retry      RetryConfig
	Notify     NotifyConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path             string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	PingTimeout      time.Duration
	CreateDummyUsers bool
}

// ListenerConfig holds background poller settings
type ListenerConfig struct {
	LookbackWindow    time.Duration
	PollingInterval   time.Duration
	CleanupInterval   time.Duration
	StuckOrderAge     time.Duration
	ReconcileInterval time.Duration
	AssetsFile        string
}

type HTTPConfig struct {
	Addr               string
	AllowedOrigins     []string
	RateLimitPerMinute int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	JWTTTL        time.Duration
	EncryptionKey string
	TOTPIssuer    string
}

type CustodyConfig struct {
	Provider string // blockradar | prime
}

type BlockRadarConfig struct {
	BaseURL string
	APIKey  string
}

type PrimeConfig struct {
	AccessKey  string
	Passphrase string
	SigningKey string
	Portfolio  string
}

type PaycrestConfig struct {
	BaseURL      string
	APIKey       string
	ClientSecret string
}

type PaystackConfig struct {
	BaseURL   string
	SecretKey string
}

type AlchemyPayConfig struct {
	BaseURL     string
	AppId       string
	AppSecret   string
	CallbackURL string
	RedirectURL string
}

type LedgerConfig struct {
	Backend            string // sqlite | formance
	FormanceURL        string
	FormanceClientId   string
	FormanceSecret     string
	FormanceLedgerName string
}

type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	QuoteTTL      time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type NotifyConfig struct {
	ExpoURL         string
	ExpoAccessToken string
}
