package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProcessTransactionParams contains the parameters for processing a transaction
type ProcessTransactionParams struct {
	UserId          string
	Asset           string
	TransactionType string
	Amount          decimal.Decimal
	ExternalTxId    string
	Address         string
	Reference       string
	// RequireFunds rejects the transaction if it would take the balance below zero.
	RequireFunds bool
}

// ProcessTransaction atomically updates balance and records transaction
func (s *SubledgerService) ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*models.Transaction, error) {
	zap.L().Info("Processing transaction",
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset),
		zap.String("type", params.TransactionType),
		zap.String("amount", params.Amount.String()),
		zap.String("external_tx_id", params.ExternalTxId))

	if params.ExternalTxId != "" {
		var existingTxId string
		err := s.db.QueryRowContext(ctx, queryCheckDuplicateTransaction, params.ExternalTxId).Scan(&existingTxId)
		if err == nil {
			zap.L().Warn("Duplicate external transaction Id detected, skipping",
				zap.String("external_tx_id", params.ExternalTxId),
				zap.String("existing_internal_tx_id", existingTxId))
			return nil, fmt.Errorf("%w: external_transaction_id %s already exists", ErrDuplicateTransaction, params.ExternalTxId)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentBalanceStr string
	var accountId string
	var version int64

	err = tx.QueryRowContext(ctx, queryGetAccountBalance, params.UserId, params.Asset).Scan(&accountId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if errors.Is(err, sql.ErrNoRows) {
		accountId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1

		_, err = tx.ExecContext(ctx, queryInsertAccountBalance, accountId, params.UserId, params.Asset, "0", 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
		}
	}

	newBalance := currentBalance.Add(params.Amount)
	if params.RequireFunds && newBalance.IsNegative() {
		zap.L().Warn("Rejecting debit beyond available balance",
			zap.String("user_id", params.UserId),
			zap.String("asset", params.Asset),
			zap.String("balance", currentBalance.String()),
			zap.String("amount", params.Amount.String()))
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, currentBalance.String(), params.Amount.Neg().String())
	}

	transactionId := uuid.New().String()
	now := time.Now().UTC()
	transaction := &models.Transaction{}

	var amountStr, balanceBeforeStr, balanceAfterStr string
	err = tx.QueryRowContext(ctx, queryInsertTransaction,
		transactionId, params.UserId, params.Asset, params.TransactionType,
		params.Amount.String(), currentBalance.String(), newBalance.String(),
		params.ExternalTxId, params.Address, params.Reference, models.TxStatusConfirmed, now, now).
		Scan(&transaction.Id, &transaction.UserId, &transaction.Asset, &transaction.TransactionType,
			&amountStr, &balanceBeforeStr, &balanceAfterStr,
			&transaction.ExternalTransactionId, &transaction.Address, &transaction.Reference,
			&transaction.Status, &transaction.CreatedAt, &transaction.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: external_transaction_id %s already exists", ErrDuplicateTransaction, params.ExternalTxId)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if transaction.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse returned amount: %w", err)
	}
	if transaction.BalanceBefore, err = decimal.NewFromString(balanceBeforeStr); err != nil {
		return nil, fmt.Errorf("failed to parse returned balance_before: %w", err)
	}
	if transaction.BalanceAfter, err = decimal.NewFromString(balanceAfterStr); err != nil {
		return nil, fmt.Errorf("failed to parse returned balance_after: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance.String(), transactionId, params.UserId, params.Asset, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", ErrConcurrentModification)
	}

	if err := s.addJournalEntries(ctx, tx, transaction); err != nil {
		return nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Transaction processed successfully",
		zap.String("transaction_id", transactionId),
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset),
		zap.String("old_balance", currentBalance.String()),
		zap.String("new_balance", newBalance.String()))

	return transaction, nil
}

type journalEntry struct {
	accountType  string
	accountId    string
	debitAmount  decimal.Decimal
	creditAmount decimal.Decimal
}

// addJournalEntries creates double-entry bookkeeping entries.
// Credits to a user raise both the user asset and the platform liability;
// debits lower both.
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, transaction *models.Transaction) error {
	userAccount := fmt.Sprintf("%s_%s", transaction.UserId, transaction.Asset)
	liabilityAccount := fmt.Sprintf("user_deposits_%s", transaction.Asset)
	amount := transaction.Amount.Abs()

	var entries []journalEntry
	if transaction.Amount.IsPositive() {
		entries = []journalEntry{
			{"user_asset", userAccount, amount, decimal.Zero},
			{"system_liability", liabilityAccount, decimal.Zero, amount},
		}
	} else if transaction.Amount.IsNegative() {
		entries = []journalEntry{
			{"user_asset", userAccount, decimal.Zero, amount},
			{"system_liability", liabilityAccount, amount, decimal.Zero},
		}
	}

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), transaction.Id, entry.accountType, entry.accountId,
			entry.debitAmount.String(), entry.creditAmount.String())
		if err != nil {
			return err
		}
	}

	return nil
}

// GetTransactionHistory returns paginated transaction history for a user.
// An empty asset returns all assets.
func (s *SubledgerService) GetTransactionHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, asset, asset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var amountStr, balanceBeforeStr, balanceAfterStr string
		err := rows.Scan(&tx.Id, &tx.UserId, &tx.Asset, &tx.TransactionType,
			&amountStr, &balanceBeforeStr, &balanceAfterStr,
			&tx.ExternalTransactionId, &tx.Address, &tx.Reference,
			&tx.Status, &tx.CreatedAt, &tx.ProcessedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if tx.BalanceBefore, err = decimal.NewFromString(balanceBeforeStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance before '%s': %w", balanceBeforeStr, err)
		}
		if tx.BalanceAfter, err = decimal.NewFromString(balanceAfterStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance after '%s': %w", balanceAfterStr, err)
		}

		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

// GetMostRecentTransactionTime returns the most recent transaction timestamp for recovery
func (s *SubledgerService) GetMostRecentTransactionTime(ctx context.Context) (time.Time, error) {
	var timestampStr sql.NullString
	err := s.db.QueryRowContext(ctx, queryGetMostRecentTransactionTime).Scan(&timestampStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get most recent transaction time: %w", err)
	}

	if !timestampStr.Valid || timestampStr.String == "" {
		// Nothing recorded yet
		return time.Now().Add(-2 * time.Hour), nil
	}

	return parseSQLiteTime(timestampStr.String)
}

// parseSQLiteTime parses the timestamp layouts SQLite and go-sqlite3 write.
func parseSQLiteTime(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
		time.RFC3339,
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", value)
}
