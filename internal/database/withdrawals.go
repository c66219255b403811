package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

func scanWithdrawal(row rowScanner, w *models.WithdrawalRecord) error {
	var amount, status string
	err := row.Scan(&w.Id, &w.UserId, &w.Asset, &w.Network, &amount, &w.Destination, &w.CustodyWithdrawalId,
		&w.TxHash, &status, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return err
	}
	w.Status = models.WithdrawalStatus(status)
	return parseDecimals(decimalField{amount, &w.Amount})
}

func (s *Service) CreateWithdrawal(ctx context.Context, w *models.WithdrawalRecord) error {
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.Status == "" {
		w.Status = models.WithdrawalPending
	}

	_, err := s.db.ExecContext(ctx, queryInsertWithdrawal,
		w.Id, w.UserId, w.Asset, w.Network, w.Amount.String(), w.Destination, w.CustodyWithdrawalId,
		w.TxHash, string(w.Status), w.FailureReason, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		zap.L().Error("Failed to insert withdrawal", zap.String("withdrawal_id", w.Id), zap.Error(err))
		return fmt.Errorf("unable to insert withdrawal: %w", err)
	}
	return nil
}

func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRecord, error) {
	var w models.WithdrawalRecord
	if err := scanWithdrawal(s.db.QueryRowContext(ctx, queryGetWithdrawal, id), &w); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("unable to query withdrawal: %w", err)
	}
	return &w, nil
}

func (s *Service) UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRecord, from models.WithdrawalStatus) error {
	if w.Status != from && !from.CanTransition(w.Status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, from, w.Status)
	}

	w.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, queryUpdateWithdrawal,
		string(w.Status), w.CustodyWithdrawalId, w.TxHash, w.FailureReason, w.UpdatedAt, w.Id, string(from))
	if err != nil {
		return fmt.Errorf("unable to update withdrawal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: withdrawal %s is no longer %s", store.ErrInvalidTransition, w.Id, from)
	}
	return nil
}

func (s *Service) ListWithdrawalsByUser(ctx context.Context, userId string, limit, offset int) ([]models.WithdrawalRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListWithdrawalsByUser, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("unable to list withdrawals: %w", err)
	}
	return collectWithdrawals(rows)
}

// ListWithdrawalsByStatus returns withdrawals in status not updated since updatedBefore, oldest first.
func (s *Service) ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, updatedBefore time.Time, limit int) ([]models.WithdrawalRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListWithdrawalsByStatus, string(status), updatedBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("unable to list withdrawals by status: %w", err)
	}
	return collectWithdrawals(rows)
}

func collectWithdrawals(rows *sql.Rows) ([]models.WithdrawalRecord, error) {
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var withdrawals []models.WithdrawalRecord
	for rows.Next() {
		var w models.WithdrawalRecord
		if err := scanWithdrawal(rows, &w); err != nil {
			return nil, fmt.Errorf("unable to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}
