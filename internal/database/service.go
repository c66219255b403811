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


package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	_ store.Store  = (*Service)(nil)
	_ store.Ledger = (*Service)(nil)
)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service, err := newServiceWithDB(db, cfg.CreateDummyUsers)
	if err != nil {
		closeQuietly(db)
		return nil, err
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newServiceWithDB(db *sql.DB, createDummyUsers bool) (*Service, error) {
	subledger := NewSubledgerService(db)
	service := &Service{db: db, subledger: subledger}
	if err := service.initSchema(createDummyUsers); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	if err := subledger.InitSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}
	return service, nil
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Close() {
	closeQuietly(s.db)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) initSchema(createDummyUsers bool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		status TEXT NOT NULL DEFAULT 'active',
		totp_secret TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

	-- Deposit addresses issued by the custodian
	CREATE TABLE IF NOT EXISTS addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		asset TEXT NOT NULL,
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		account_identifier TEXT NOT NULL DEFAULT '',
		encrypted_key_material TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_addresses_user_asset ON addresses(user_id, asset, network);
	CREATE INDEX IF NOT EXISTS idx_addresses_address ON addresses(address);

	CREATE TABLE IF NOT EXISTS offramp_orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		idempotency_key TEXT NOT NULL,
		asset TEXT NOT NULL,
		network TEXT NOT NULL,
		amount TEXT NOT NULL,
		fiat TEXT NOT NULL,
		rate TEXT NOT NULL DEFAULT '0',
		fiat_amount TEXT NOT NULL DEFAULT '0',
		bank_code TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		institution TEXT NOT NULL DEFAULT '',
		provider_order_id TEXT NOT NULL DEFAULT '',
		receive_address TEXT NOT NULL DEFAULT '',
		provider_amount TEXT NOT NULL DEFAULT '0',
		custody_withdrawal_id TEXT NOT NULL DEFAULT '',
		custody_tx_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_offramp_status ON offramp_orders(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_offramp_provider_order ON offramp_orders(provider_order_id);

	CREATE TABLE IF NOT EXISTS onramp_orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		side TEXT NOT NULL,
		asset TEXT NOT NULL,
		network TEXT NOT NULL,
		fiat TEXT NOT NULL,
		fiat_amount TEXT NOT NULL DEFAULT '0',
		crypto_amount TEXT NOT NULL DEFAULT '0',
		address TEXT NOT NULL,
		provider_order_id TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		asset TEXT NOT NULL,
		network TEXT NOT NULL,
		amount TEXT NOT NULL,
		destination TEXT NOT NULL,
		custody_withdrawal_id TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at);

	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token TEXT NOT NULL UNIQUE,
		platform TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(provider, event_id)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if !createDummyUsers {
		zap.L().Info("Skipping dummy user creation (CREATE_DUMMY_USERS=false)")
		return nil
	}

	users := []struct {
		name  string
		email string
	}{
		{"Alice Johnson", "alice.johnson@example.com"},
		{"Bob Smith", "bob.smith@example.com"},
		{"Carol Williams", "carol.williams@example.com"},
	}
	for _, user := range users {
		id := uuid.New().String()
		if _, err := s.db.Exec(queryInsertUser, id, user.name, user.email, "", models.RoleUser); err != nil {
			zap.L().Error("Failed to insert dummy user", zap.String("name", user.name), zap.Error(err))
			continue
		}
		zap.L().Info("Dummy user created", zap.String("id", id), zap.String("name", user.name))
	}
	return nil
}

// Ledger methods backed by the subledger

func (s *Service) GetUserBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	return s.subledger.GetBalance(ctx, userId, asset)
}

func (s *Service) GetAllUserBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	return s.subledger.GetAllBalances(ctx, userId)
}

// ProcessDeposit credits the owner of address. The asset recorded is the
// canonical symbol from the address table, not the custodian's label.
func (s *Service) ProcessDeposit(ctx context.Context, address, asset string, amount decimal.Decimal, externalTxId string) (*models.Transaction, error) {
	user, addr, err := s.FindUserByAddress(ctx, address)
	if err != nil {
		zap.L().Warn("Deposit to unknown address", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("error finding user by address: %w", err)
	}

	canonicalSymbol := addr.Asset
	if canonicalSymbol != asset {
		zap.L().Info("Using canonical symbol from address table",
			zap.String("address", address),
			zap.String("custodian_symbol", asset),
			zap.String("canonical_symbol", canonicalSymbol),
			zap.String("network", addr.Network))
	}

	tx, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:          user.Id,
		Asset:           canonicalSymbol,
		TransactionType: models.TxTypeDeposit,
		Amount:          amount,
		ExternalTxId:    externalTxId,
		Address:         address,
	})
	if err != nil {
		return nil, fmt.Errorf("error processing deposit transaction: %w", err)
	}

	zap.L().Info("Deposit processed successfully",
		zap.String("user_id", user.Id),
		zap.String("canonical_symbol", canonicalSymbol),
		zap.String("network", addr.Network),
		zap.String("amount", amount.String()))
	return tx, nil
}

func (s *Service) CreditUser(ctx context.Context, params store.CreditParams) (*models.Transaction, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", params.Amount.String())
	}
	txType := params.TransactionType
	if txType == "" {
		txType = models.TxTypeDeposit
	}
	return s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:          params.UserId,
		Asset:           params.Asset,
		TransactionType: txType,
		Amount:          params.Amount,
		ExternalTxId:    params.ExternalTxId,
		Address:         params.Address,
		Reference:       params.Reference,
	})
}

// DebitUser records a balance-checked debit keyed by reference, so the same
// hold can never be applied twice.
func (s *Service) DebitUser(ctx context.Context, params store.DebitParams) (*models.Transaction, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive, got %s", params.Amount.String())
	}
	if params.Reference == "" {
		return nil, fmt.Errorf("debit reference cannot be empty")
	}
	txType := params.TransactionType
	if txType == "" {
		txType = models.TxTypeWithdrawal
	}
	return s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:          params.UserId,
		Asset:           params.Asset,
		TransactionType: txType,
		Amount:          params.Amount.Neg(),
		ExternalTxId:    params.Reference,
		Address:         params.Address,
		Reference:       params.Reference,
		RequireFunds:    true,
	})
}

// ReverseDebit credits back a debit that will not complete.
func (s *Service) ReverseDebit(ctx context.Context, userId, asset string, amount decimal.Decimal, reference string) (*models.Transaction, error) {
	reversalTxId := reference + "-reversal"

	zap.L().Info("Reversing debit",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("original_ref", reference),
		zap.String("reversal_ref", reversalTxId))

	tx, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:          userId,
		Asset:           asset,
		TransactionType: models.TxTypeReversal,
		Amount:          amount.Abs(),
		ExternalTxId:    reversalTxId,
		Reference:       reference,
	})
	if err != nil {
		return nil, fmt.Errorf("error reversing debit: %w", err)
	}
	return tx, nil
}

func (s *Service) GetTransactionHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.Transaction, error) {
	return s.subledger.GetTransactionHistory(ctx, userId, asset, limit, offset)
}

func (s *Service) ReconcileUserBalance(ctx context.Context, userId, asset string) error {
	return s.subledger.ReconcileBalance(ctx, userId, asset)
}

func (s *Service) GetMostRecentTransactionTime(ctx context.Context) (time.Time, error) {
	return s.subledger.GetMostRecentTransactionTime(ctx)
}

func (s *Service) GetAssetTotals(ctx context.Context) ([]store.AssetTotal, error) {
	return s.subledger.GetAssetTotals(ctx)
}
