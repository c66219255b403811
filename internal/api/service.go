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
	"errors"
	"fmt"
	"time"

	"custodial-wallet-go/internal/alchemypay"
	"custodial-wallet-go/internal/cache"
	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/paycrest"
	"custodial-wallet-go/internal/paystack"
	"custodial-wallet-go/internal/retry"
	"custodial-wallet-go/internal/security"
	"custodial-wallet-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrUnsupportedAsset   = errors.New("unsupported asset")
	ErrInvalidAddress     = errors.New("invalid destination address")
	ErrBankVerification   = errors.New("bank account verification failed")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrTOTPRequired       = errors.New("totp code required")
	ErrUnavailable        = errors.New("provider not configured")
	ErrInProgress         = errors.New("request already in progress")
)

// RateProvider quotes and executes off-ramp payouts (Paycrest).
type RateProvider interface {
	GetRate(ctx context.Context, token string, amount decimal.Decimal, fiat, network string) (decimal.Decimal, error)
	ListInstitutions(ctx context.Context, currency string) ([]paycrest.Institution, error)
	VerifyAccount(ctx context.Context, institution, accountIdentifier string) (string, error)
	CreateOrder(ctx context.Context, req paycrest.OrderRequest) (*paycrest.Order, error)
	GetOrder(ctx context.Context, id string) (*paycrest.Order, error)
	VerifyWebhook(body []byte, signature string) error
}

// BankResolver verifies payout bank accounts (Paystack).
type BankResolver interface {
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystack.Account, error)
	ListBanks(ctx context.Context, country string) ([]paystack.Bank, error)
}

// RampProvider builds hosted fiat ramp sessions (AlchemyPay).
type RampProvider interface {
	BuildRampURL(req alchemypay.RampRequest) (string, error)
	VerifyCallback(body []byte, sign string) error
}

// Config wires the service to its stores and providers. Paycrest, Paystack
// and AlchemyPay are optional; operations needing a missing one return ErrUnavailable.
type Config struct {
	Store      store.Store
	Ledger     store.Ledger
	Custodian  custody.Custodian
	Registry   *custody.Registry
	Paycrest   RateProvider
	Paystack   BankResolver
	AlchemyPay RampProvider
	Tokens     *security.TokenManager
	Encryptor  *security.Encryptor
	Cache      cache.Cache
	Notifier   notify.Notifier
	Retry      retry.Policy
	QuoteTTL   time.Duration
	TOTPIssuer string
}

// LedgerService is the application layer shared by the HTTP server, the
// listener and the operator commands.
type LedgerService struct {
	store      store.Store
	ledger     store.Ledger
	custodian  custody.Custodian
	registry   *custody.Registry
	paycrest   RateProvider
	paystack   BankResolver
	alchemyPay RampProvider
	tokens     *security.TokenManager
	encryptor  *security.Encryptor
	cache      cache.Cache
	notifier   notify.Notifier
	retry      retry.Policy
	quoteTTL   time.Duration
	totpIssuer string
}

func NewLedgerService(cfg Config) (*LedgerService, error) {
	if cfg.Store == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("store and ledger are required")
	}
	if cfg.Custodian == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("custodian and asset registry are required")
	}

	s := &LedgerService{
		store:      cfg.Store,
		ledger:     cfg.Ledger,
		custodian:  cfg.Custodian,
		registry:   cfg.Registry,
		paycrest:   cfg.Paycrest,
		paystack:   cfg.Paystack,
		alchemyPay: cfg.AlchemyPay,
		tokens:     cfg.Tokens,
		encryptor:  cfg.Encryptor,
		cache:      cfg.Cache,
		notifier:   cfg.Notifier,
		retry:      cfg.Retry,
		quoteTTL:   cfg.QuoteTTL,
		totpIssuer: cfg.TOTPIssuer,
	}
	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = retry.DefaultPolicy()
	}
	if s.retry.Retryable == nil {
		s.retry.Retryable = transient
	}
	if s.quoteTTL == 0 {
		s.quoteTTL = time.Minute
	}
	if s.totpIssuer == "" {
		s.totpIssuer = "custodial-wallet"
	}
	return s, nil
}

func (s *LedgerService) Custodian() custody.Custodian { return s.custodian }

func (s *LedgerService) Registry() *custody.Registry { return s.registry }

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// call runs a provider request under the retry policy.
func (s *LedgerService) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.retry, op, fn)
}

func (s *LedgerService) lookupAsset(asset, network string) (custody.Asset, error) {
	entry, err := s.registry.Lookup(asset, network)
	if err != nil {
		return custody.Asset{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedAsset, asset, network)
	}
	return entry, nil
}

func (s *LedgerService) notify(ctx context.Context, userId string, event notify.Event) {
	if err := s.notifier.Notify(ctx, userId, event); err != nil {
		zap.L().Warn("Notification failed",
			zap.String("user_id", userId),
			zap.String("event", event.Type),
			zap.Error(err))
	}
}

// transient reports whether a provider failure may clear up on its own.
// Configuration and input errors never do.
func transient(err error) bool {
	switch {
	case errors.Is(err, custody.ErrUnknownAsset),
		errors.Is(err, custody.ErrUnsupportedNetwork),
		errors.Is(err, custody.ErrInvalidAddress),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnsupportedAsset),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrBankVerification),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, store.ErrInsufficientFunds):
		return false
	}
	return httpclient.IsRetryable(err)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not a number", ErrValidation, raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return amount, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
