package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanOfframp(row rowScanner, o *models.OfframpOrder) error {
	var amount, rate, fiatAmount, providerAmount, status string
	err := row.Scan(&o.Id, &o.UserId, &o.IdempotencyKey, &o.Asset, &o.Network, &amount, &o.Fiat, &rate, &fiatAmount,
		&o.BankCode, &o.AccountNumber, &o.AccountName, &o.Institution, &o.ProviderOrderId, &o.ReceiveAddress,
		&providerAmount, &o.CustodyWithdrawalId, &o.CustodyTxHash, &status, &o.FailureReason, &o.Attempts,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}
	o.Status = models.OfframpStatus(status)
	return parseDecimals(
		decimalField{amount, &o.Amount},
		decimalField{rate, &o.Rate},
		decimalField{fiatAmount, &o.FiatAmount},
		decimalField{providerAmount, &o.ProviderAmount},
	)
}

type decimalField struct {
	raw    string
	target *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		parsed, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("failed to parse decimal %q: %w", f.raw, err)
		}
		*f.target = parsed
	}
	return nil
}

func (s *Service) CreateOfframp(ctx context.Context, o *models.OfframpOrder) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = models.OfframpCreated
	}

	_, err := s.db.ExecContext(ctx, queryInsertOfframp,
		o.Id, o.UserId, o.IdempotencyKey, o.Asset, o.Network, o.Amount.String(), o.Fiat, o.Rate.String(),
		o.FiatAmount.String(), o.BankCode, o.AccountNumber, o.AccountName, o.Institution, o.ProviderOrderId,
		o.ReceiveAddress, o.ProviderAmount.String(), o.CustodyWithdrawalId, o.CustodyTxHash, string(o.Status),
		o.FailureReason, o.Attempts, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: offramp idempotency key %s", store.ErrDuplicateTransaction, o.IdempotencyKey)
		}
		zap.L().Error("Failed to insert offramp order", zap.String("order_id", o.Id), zap.Error(err))
		return fmt.Errorf("unable to insert offramp order: %w", err)
	}

	zap.L().Info("Offramp order created",
		zap.String("order_id", o.Id),
		zap.String("user_id", o.UserId),
		zap.String("asset", o.Asset),
		zap.String("amount", o.Amount.String()))
	return nil
}

func (s *Service) getOfframp(ctx context.Context, query string, args ...any) (*models.OfframpOrder, error) {
	var order models.OfframpOrder
	if err := scanOfframp(s.db.QueryRowContext(ctx, query, args...), &order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: offramp order", store.ErrNotFound)
		}
		return nil, fmt.Errorf("unable to query offramp order: %w", err)
	}
	return &order, nil
}

func (s *Service) GetOfframp(ctx context.Context, id string) (*models.OfframpOrder, error) {
	return s.getOfframp(ctx, queryGetOfframp, id)
}

func (s *Service) GetOfframpByIdempotencyKey(ctx context.Context, userId, key string) (*models.OfframpOrder, error) {
	return s.getOfframp(ctx, queryGetOfframpByIdempotencyKey, userId, key)
}

func (s *Service) GetOfframpByProviderOrderId(ctx context.Context, providerOrderId string) (*models.OfframpOrder, error) {
	return s.getOfframp(ctx, queryGetOfframpByProviderOrderId, providerOrderId)
}

// TransitionOfframp is a compare-and-set on status; the caller sets o.Status to the target.
func (s *Service) TransitionOfframp(ctx context.Context, o *models.OfframpOrder, from models.OfframpStatus) error {
	if !from.CanTransition(o.Status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, from, o.Status)
	}

	o.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, queryTransitionOfframp,
		string(o.Status), o.Rate.String(), o.FiatAmount.String(), o.AccountName, o.ProviderOrderId,
		o.ReceiveAddress, o.ProviderAmount.String(), o.CustodyWithdrawalId, o.CustodyTxHash,
		o.FailureReason, o.UpdatedAt, o.Id, string(from))
	if err != nil {
		return fmt.Errorf("unable to update offramp order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: order %s is no longer %s", store.ErrInvalidTransition, o.Id, from)
	}

	zap.L().Info("Offramp order transitioned",
		zap.String("order_id", o.Id),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)))
	return nil
}

func (s *Service) RecordOfframpAttempt(ctx context.Context, id, failureReason string) error {
	_, err := s.db.ExecContext(ctx, queryRecordOfframpAttempt, failureReason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("unable to record offramp attempt: %w", err)
	}
	return nil
}

func (s *Service) ListOfframpsByUser(ctx context.Context, userId string, limit, offset int) ([]models.OfframpOrder, error) {
	rows, err := s.db.QueryContext(ctx, queryListOfframpsByUser, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("unable to list offramp orders: %w", err)
	}
	return collectOfframps(rows)
}

func (s *Service) ListOfframpsByStatus(ctx context.Context, statuses []models.OfframpStatus, updatedBefore time.Time, limit int) ([]models.OfframpOrder, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := queryListOfframpsByStatusPrefix + placeholders + `) ORDER BY updated_at LIMIT ?`

	args := make([]any, 0, len(statuses)+2)
	args = append(args, updatedBefore.UTC())
	for _, status := range statuses {
		args = append(args, string(status))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to list offramp orders by status: %w", err)
	}
	return collectOfframps(rows)
}

func collectOfframps(rows *sql.Rows) ([]models.OfframpOrder, error) {
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var orders []models.OfframpOrder
	for rows.Next() {
		var order models.OfframpOrder
		if err := scanOfframp(rows, &order); err != nil {
			return nil, fmt.Errorf("unable to scan offramp order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offramp rows: %w", err)
	}
	return orders, nil
}

func (s *Service) CreateOnramp(ctx context.Context, o *models.OnrampOrder) error {
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = models.OnrampPending
	}

	_, err := s.db.ExecContext(ctx, queryInsertOnramp,
		o.Id, o.UserId, o.Side, o.Asset, o.Network, o.Fiat, o.FiatAmount.String(), o.CryptoAmount.String(),
		o.Address, o.ProviderOrderId, o.TxHash, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		zap.L().Error("Failed to insert onramp order", zap.String("order_id", o.Id), zap.Error(err))
		return fmt.Errorf("unable to insert onramp order: %w", err)
	}
	return nil
}

func (s *Service) GetOnramp(ctx context.Context, id string) (*models.OnrampOrder, error) {
	var o models.OnrampOrder
	var fiatAmount, cryptoAmount, status string
	err := s.db.QueryRowContext(ctx, queryGetOnramp, id).Scan(&o.Id, &o.UserId, &o.Side, &o.Asset, &o.Network,
		&o.Fiat, &fiatAmount, &cryptoAmount, &o.Address, &o.ProviderOrderId, &o.TxHash, &status,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: onramp order %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("unable to query onramp order: %w", err)
	}
	o.Status = models.OnrampStatus(status)
	if o.FiatAmount, err = decimal.NewFromString(fiatAmount); err != nil {
		return nil, fmt.Errorf("failed to parse fiat amount: %w", err)
	}
	if o.CryptoAmount, err = decimal.NewFromString(cryptoAmount); err != nil {
		return nil, fmt.Errorf("failed to parse crypto amount: %w", err)
	}
	return &o, nil
}

func (s *Service) UpdateOnrampStatus(ctx context.Context, id string, status models.OnrampStatus, providerOrderId, txHash string, cryptoAmount decimal.Decimal) error {
	amount := cryptoAmount.String()
	result, err := s.db.ExecContext(ctx, queryUpdateOnrampStatus, string(status),
		providerOrderId, providerOrderId, txHash, txHash, amount, amount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("unable to update onramp order: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: onramp order %s", store.ErrNotFound, id)
	}
	return nil
}
