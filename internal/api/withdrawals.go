package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/metrics"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const reasonCustodianFailed = "custodian reported failure"

type WithdrawRequest struct {
	Asset   string `json:"asset" validate:"required,max=16"`
	Network string `json:"network" validate:"required,max=32"`
	Amount  string `json:"amount" validate:"required,numeric"`
	Address string `json:"address" validate:"required,max=128"`
}

// Withdraw sends funds to an external address. The user is debited first and
// the hold is reversed if the custodian rejects the send.
func (s *LedgerService) Withdraw(ctx context.Context, userId string, req WithdrawRequest) (*models.WithdrawalRecord, error) {
	entry, err := s.lookupAsset(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := custody.ValidateAddress(entry.Network, req.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	record := &models.WithdrawalRecord{
		Id:          uuid.New().String(),
		UserId:      userId,
		Asset:       entry.Symbol,
		Network:     entry.Network,
		Amount:      amount,
		Destination: req.Address,
	}
	if err := s.store.CreateWithdrawal(ctx, record); err != nil {
		return nil, err
	}

	_, err = s.ledger.DebitUser(ctx, store.DebitParams{
		UserId:          userId,
		Asset:           entry.Symbol,
		Amount:          amount,
		TransactionType: models.TxTypeWithdrawal,
		Reference:       record.HoldReference(),
		Address:         req.Address,
	})
	metrics.LedgerOperation("debit", err)
	if err != nil {
		s.markWithdrawalFailed(ctx, record, err.Error())
		return nil, err
	}

	return s.submitWithdrawal(ctx, record)
}

// submitWithdrawal hands a PENDING record whose hold is in place to the
// custodian. The record id is the custodian reference, so a resubmission
// cannot send twice.
func (s *LedgerService) submitWithdrawal(ctx context.Context, record *models.WithdrawalRecord) (*models.WithdrawalRecord, error) {
	var sent *models.Withdrawal
	err := s.call(ctx, "custody.withdraw", func(ctx context.Context) error {
		var callErr error
		sent, callErr = s.custodian.Withdraw(ctx, models.WithdrawalRequest{
			Asset:              record.Asset,
			Network:            record.Network,
			Amount:             record.Amount,
			DestinationAddress: record.Destination,
			Reference:          record.Id,
			Metadata:           map[string]string{"userId": record.UserId, "withdrawalId": record.Id},
		})
		return callErr
	})
	if err != nil {
		if transient(err) {
			// Outcome unknown: keep the hold. The custodian dedupes on the
			// reference and the listener settles or resubmits the record.
			record.FailureReason = err.Error()
			if updateErr := s.store.UpdateWithdrawal(ctx, record, models.WithdrawalPending); updateErr != nil {
				zap.L().Warn("Failed to record withdrawal error", zap.String("withdrawal_id", record.Id), zap.Error(updateErr))
			}
			return record, fmt.Errorf("withdrawal %s pending confirmation: %w", record.Id, err)
		}

		if _, revErr := s.reverseHold(ctx, record.UserId, record.Asset, record.Amount, record.HoldReference()); revErr != nil {
			return nil, fmt.Errorf("withdrawal failed (%v) and hold reversal failed: %w", err, revErr)
		}
		s.markWithdrawalFailed(ctx, record, err.Error())
		return nil, fmt.Errorf("custodian rejected withdrawal: %w", err)
	}

	record.Status = models.WithdrawalSubmitted
	record.CustodyWithdrawalId = sent.Id
	record.TxHash = sent.TxHash
	record.FailureReason = ""
	if err := s.store.UpdateWithdrawal(ctx, record, models.WithdrawalPending); err != nil {
		zap.L().Error("Failed to mark withdrawal submitted", zap.String("withdrawal_id", record.Id), zap.Error(err))
	}

	zap.L().Info("Withdrawal submitted",
		zap.String("withdrawal_id", record.Id),
		zap.String("user_id", record.UserId),
		zap.String("asset", record.Asset),
		zap.String("amount", record.Amount.String()),
		zap.String("custody_id", sent.Id))

	s.notify(ctx, record.UserId, notify.Event{
		Type:  notify.EventWithdrawalSent,
		Title: "Withdrawal sent",
		Body:  record.Amount.String() + " " + record.Asset + " is on its way",
		Data:  map[string]string{"withdrawal_id": record.Id, "tx_hash": sent.TxHash},
	})
	return record, nil
}

// StaleWithdrawals lists PENDING withdrawals not touched since olderThan.
func (s *LedgerService) StaleWithdrawals(ctx context.Context, olderThan time.Duration, limit int) ([]models.WithdrawalRecord, error) {
	return s.store.ListWithdrawalsByStatus(ctx, models.WithdrawalPending, time.Now().UTC().Add(-olderThan), limit)
}

// ResumeWithdrawal resubmits a withdrawal left PENDING by a transient
// custodian error. Records in any other state are returned unchanged.
func (s *LedgerService) ResumeWithdrawal(ctx context.Context, id string) (*models.WithdrawalRecord, error) {
	record, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.WithdrawalPending {
		return record, nil
	}
	if record.FailureReason == "" {
		// no submission error recorded, so the hold may never have been placed
		return nil, fmt.Errorf("%w: withdrawal %s has no recorded submission attempt", store.ErrInvalidTransition, id)
	}

	zap.L().Info("Resubmitting withdrawal",
		zap.String("withdrawal_id", record.Id),
		zap.String("last_error", record.FailureReason))
	return s.submitWithdrawal(ctx, record)
}

func (s *LedgerService) ListWithdrawals(ctx context.Context, userId string, limit, offset int) ([]models.WithdrawalRecord, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListWithdrawalsByUser(ctx, userId, limit, offset)
}

func (s *LedgerService) markWithdrawalFailed(ctx context.Context, record *models.WithdrawalRecord, reason string) {
	from := record.Status
	record.Status = models.WithdrawalFailed
	record.FailureReason = reason
	if err := s.store.UpdateWithdrawal(ctx, record, from); err != nil {
		zap.L().Error("Failed to mark withdrawal failed", zap.String("withdrawal_id", record.Id), zap.Error(err))
	}
}

// reverseHold credits back a debit. A reversal that already happened is not an error.
func (s *LedgerService) reverseHold(ctx context.Context, userId, asset string, amount decimal.Decimal, reference string) (bool, error) {
	_, err := s.ledger.ReverseDebit(ctx, userId, asset, amount, reference)
	metrics.LedgerOperation("reversal", err)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Hold already reversed", zap.String("reference", reference))
			return false, nil
		}
		zap.L().Error("Failed to reverse hold",
			zap.String("user_id", userId),
			zap.String("reference", reference),
			zap.Error(err))
		return false, err
	}
	return true, nil
}

// CreditBackFailedWithdrawal reverses the hold behind a send the custodian
// reports as failed. Off-ramp sends are left to the payout provider, which
// expires the unfunded order.
func (s *LedgerService) CreditBackFailedWithdrawal(ctx context.Context, tx models.CustodyTransaction) error {
	if tx.Reference == "" {
		zap.L().Warn("Failed withdrawal without reference", zap.String("custody_tx_id", tx.Id))
		return nil
	}

	record, err := s.store.GetWithdrawal(ctx, tx.Reference)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if order, orderErr := s.store.GetOfframp(ctx, tx.Reference); orderErr == nil {
			zap.L().Warn("Custodian reports off-ramp send failed",
				zap.String("order_id", order.Id),
				zap.String("custody_tx_id", tx.Id))
			return s.store.RecordOfframpAttempt(ctx, order.Id, "custody withdrawal failed")
		}
		zap.L().Warn("Failed withdrawal with unknown reference",
			zap.String("reference", tx.Reference),
			zap.String("custody_tx_id", tx.Id))
		return nil
	}
	switch {
	case record.Status == models.WithdrawalPending || record.Status == models.WithdrawalSubmitted:
		// claim the record before touching the ledger so a concurrent
		// completion cannot be credited back
		from := record.Status
		record.Status = models.WithdrawalFailed
		record.FailureReason = reasonCustodianFailed
		if err := s.store.UpdateWithdrawal(ctx, record, from); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				zap.L().Info("Withdrawal settled concurrently", zap.String("withdrawal_id", record.Id))
				return nil
			}
			return err
		}
	case record.Status == models.WithdrawalFailed && record.FailureReason == reasonCustodianFailed:
		// marked failed by an earlier attempt whose reversal may not have landed
	default:
		zap.L().Warn("Ignoring failure report for settled withdrawal",
			zap.String("withdrawal_id", record.Id),
			zap.String("status", string(record.Status)),
			zap.String("custody_tx_id", tx.Id))
		return nil
	}

	zap.L().Info("Crediting back failed withdrawal",
		zap.String("withdrawal_id", record.Id),
		zap.String("user_id", record.UserId),
		zap.String("asset", record.Asset),
		zap.String("amount", record.Amount.String()))

	reversed, err := s.reverseHold(ctx, record.UserId, record.Asset, record.Amount, record.HoldReference())
	if err != nil {
		return err
	}

	if reversed {
		s.notify(ctx, record.UserId, notify.Event{
			Type:  notify.EventWithdrawalFail,
			Title: "Withdrawal failed",
			Body:  record.Amount.String() + " " + record.Asset + " has been returned to your balance",
			Data:  map[string]string{"withdrawal_id": record.Id},
		})
	}
	return nil
}

func (s *LedgerService) CompleteWithdrawal(ctx context.Context, tx models.CustodyTransaction) error {
	if tx.Reference == "" {
		return nil
	}
	record, err := s.store.GetWithdrawal(ctx, tx.Reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if record.Status != models.WithdrawalPending && record.Status != models.WithdrawalSubmitted {
		return nil
	}

	from := record.Status
	record.Status = models.WithdrawalCompleted
	record.FailureReason = ""
	if tx.TxHash != "" {
		record.TxHash = tx.TxHash
	}
	if record.CustodyWithdrawalId == "" {
		record.CustodyWithdrawalId = tx.Id
	}
	if from == models.WithdrawalPending {
		// submission response was lost; record it before completing
		submitted := *record
		submitted.Status = models.WithdrawalSubmitted
		if err := s.store.UpdateWithdrawal(ctx, &submitted, models.WithdrawalPending); err != nil {
			return err
		}
		from = models.WithdrawalSubmitted
	}
	return s.store.UpdateWithdrawal(ctx, record, from)
}
