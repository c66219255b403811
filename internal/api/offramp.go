package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/metrics"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/paycrest"
	"custodial-wallet-go/internal/store"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const offrampLockTTL = 2 * time.Minute

// PendingOfframpStatuses are the states the workflow advances on its own.
var PendingOfframpStatuses = []models.OfframpStatus{
	models.OfframpCreated,
	models.OfframpQuoted,
	models.OfframpBankVerified,
	models.OfframpOrderCreated,
	models.OfframpFundsHeld,
}

type QuoteRequest struct {
	Asset   string `json:"asset" validate:"required,max=16"`
	Network string `json:"network" validate:"required,max=32"`
	Amount  string `json:"amount" validate:"required,numeric"`
	Fiat    string `json:"fiat" validate:"required,len=3,alpha"`
}

type VerifyAccountRequest struct {
	BankCode      string `json:"bank_code" validate:"required,numeric,max=10"`
	AccountNumber string `json:"account_number" validate:"required,numeric,len=10"`
}

type OfframpRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=64"`
	Asset          string `json:"asset" validate:"required,max=16"`
	Network        string `json:"network" validate:"required,max=32"`
	Amount         string `json:"amount" validate:"required,numeric"`
	Fiat           string `json:"fiat" validate:"required,len=3,alpha"`
	BankCode       string `json:"bank_code" validate:"required,numeric,max=10"`
	AccountNumber  string `json:"account_number" validate:"required,numeric,len=10"`
	Institution    string `json:"institution" validate:"required,max=32"`
}

// orderFailure ends an order in FAILED instead of leaving it for a retry.
type orderFailure struct {
	err error
}

func (f *orderFailure) Error() string { return f.err.Error() }
func (f *orderFailure) Unwrap() error { return f.err }

func fail(err error) error {
	return &orderFailure{err: err}
}

// providerError keeps transient provider errors retryable and fails the order on the rest.
func providerError(err error) error {
	if transient(err) {
		return err
	}
	return fail(err)
}

func newReference() string {
	return ulid.Make().String()
}

// holdAmount is what the user pays: the order amount plus provider fees once known.
func holdAmount(o *models.OfframpOrder) decimal.Decimal {
	if o.ProviderAmount.IsPositive() {
		return o.ProviderAmount
	}
	return o.Amount
}

func (s *LedgerService) QuoteOfframp(ctx context.Context, req QuoteRequest) (*models.RateQuote, error) {
	entry, err := s.lookupAsset(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, entry, amount, strings.ToUpper(req.Fiat))
}

func (s *LedgerService) quote(ctx context.Context, entry custody.Asset, amount decimal.Decimal, fiat string) (*models.RateQuote, error) {
	if s.paycrest == nil {
		return nil, fmt.Errorf("%w: paycrest", ErrUnavailable)
	}
	if entry.PaycrestNetwork == "" {
		return nil, fmt.Errorf("%w: %s has no off-ramp network", ErrUnsupportedAsset, entry.Key())
	}

	key := entry.Key() + ":" + amount.String() + ":" + fiat
	if cached, err := s.cache.Get(ctx, "quote", key); err == nil {
		var q models.RateQuote
		if json.Unmarshal([]byte(cached), &q) == nil {
			return &q, nil
		}
	}

	var rate decimal.Decimal
	err := s.call(ctx, "paycrest.rate", func(ctx context.Context) error {
		var callErr error
		rate, callErr = s.paycrest.GetRate(ctx, entry.Symbol, amount, fiat, entry.PaycrestNetwork)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	q := &models.RateQuote{
		Asset:      entry.Symbol,
		Network:    entry.Network,
		Amount:     amount,
		Fiat:       fiat,
		Rate:       rate,
		FiatAmount: amount.Mul(rate).Round(2),
		QuotedAt:   time.Now().UTC(),
	}
	if encoded, err := json.Marshal(q); err == nil {
		if err := s.cache.Set(ctx, "quote", key, string(encoded), s.quoteTTL); err != nil {
			zap.L().Warn("Failed to cache quote", zap.Error(err))
		}
	}
	return q, nil
}

func (s *LedgerService) VerifyBankAccount(ctx context.Context, req VerifyAccountRequest) (*models.BankAccount, error) {
	if s.paystack == nil {
		return nil, fmt.Errorf("%w: paystack", ErrUnavailable)
	}

	var name string
	err := s.call(ctx, "paystack.resolve", func(ctx context.Context) error {
		account, callErr := s.paystack.ResolveAccount(ctx, req.AccountNumber, req.BankCode)
		if callErr != nil {
			return callErr
		}
		name = account.AccountName
		return nil
	})
	if err != nil {
		if transient(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBankVerification, err)
	}

	return &models.BankAccount{
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   name,
	}, nil
}

func (s *LedgerService) ListInstitutions(ctx context.Context, currency string) ([]models.Institution, error) {
	if s.paycrest == nil {
		return nil, fmt.Errorf("%w: paycrest", ErrUnavailable)
	}
	var institutions []paycrest.Institution
	err := s.call(ctx, "paycrest.institutions", func(ctx context.Context) error {
		var callErr error
		institutions, callErr = s.paycrest.ListInstitutions(ctx, currency)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := make([]models.Institution, len(institutions))
	for i, inst := range institutions {
		result[i] = models.Institution{Name: inst.Name, Code: inst.Code, Type: inst.Type}
	}
	return result, nil
}

func (s *LedgerService) ListBanks(ctx context.Context, country string) ([]models.Bank, error) {
	if s.paystack == nil {
		return nil, fmt.Errorf("%w: paystack", ErrUnavailable)
	}
	cacheKey := strings.ToLower(country)
	if cached, err := s.cache.Get(ctx, "banks", cacheKey); err == nil {
		var banks []models.Bank
		if json.Unmarshal([]byte(cached), &banks) == nil {
			return banks, nil
		}
	}

	var banks []models.Bank
	err := s.call(ctx, "paystack.banks", func(ctx context.Context) error {
		list, callErr := s.paystack.ListBanks(ctx, country)
		if callErr != nil {
			return callErr
		}
		banks = banks[:0]
		for _, bank := range list {
			if bank.Active {
				banks = append(banks, models.Bank{Name: bank.Name, Code: bank.Code, Slug: bank.Slug})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(banks); err == nil {
		_ = s.cache.Set(ctx, "banks", cacheKey, string(encoded), time.Hour)
	}
	return banks, nil
}

// CreateOfframp starts a payout. Replaying an idempotency key returns the
// order it created. The order is persisted before any provider is called and
// is driven as far as it can go; whatever remains is resumed by the listener.
func (s *LedgerService) CreateOfframp(ctx context.Context, userId string, req OfframpRequest) (*models.OfframpOrder, error) {
	entry, err := s.lookupAsset(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if s.paycrest == nil || s.paystack == nil {
		return nil, fmt.Errorf("%w: off-ramp providers", ErrUnavailable)
	}
	if entry.PaycrestNetwork == "" {
		return nil, fmt.Errorf("%w: %s has no off-ramp network", ErrUnsupportedAsset, entry.Key())
	}

	existing, err := s.store.GetOfframpByIdempotencyKey(ctx, userId, req.IdempotencyKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	lockKey := userId + ":" + req.IdempotencyKey
	acquired, err := s.cache.SetNX(ctx, "offramp-lock", lockKey, "1", offrampLockTTL)
	if err != nil {
		zap.L().Warn("Off-ramp lock unavailable, relying on idempotency key", zap.Error(err))
	} else if !acquired {
		return nil, fmt.Errorf("%w: off-ramp %s", ErrInProgress, req.IdempotencyKey)
	} else {
		defer func() {
			if err := s.cache.Delete(context.WithoutCancel(ctx), "offramp-lock", lockKey); err != nil {
				zap.L().Warn("Failed to release off-ramp lock", zap.Error(err))
			}
		}()
	}

	balance, err := s.ledger.GetUserBalance(ctx, userId, entry.Symbol)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: balance %s, requested %s", store.ErrInsufficientFunds, balance, amount)
	}

	order := &models.OfframpOrder{
		Id:             newReference(),
		UserId:         userId,
		IdempotencyKey: req.IdempotencyKey,
		Asset:          entry.Symbol,
		Network:        entry.Network,
		Amount:         amount,
		Fiat:           strings.ToUpper(req.Fiat),
		BankCode:       req.BankCode,
		AccountNumber:  req.AccountNumber,
		Institution:    req.Institution,
	}
	if err := s.store.CreateOfframp(ctx, order); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			return s.store.GetOfframpByIdempotencyKey(ctx, userId, req.IdempotencyKey)
		}
		return nil, err
	}
	metrics.OfframpTransition(string(order.Status))

	if err := s.advanceOfframp(ctx, order); err != nil {
		zap.L().Warn("Off-ramp paused, will resume in background",
			zap.String("order_id", order.Id),
			zap.String("status", string(order.Status)),
			zap.Error(err))
	}
	return order, nil
}

// ResumeOfframp continues an order from its persisted state.
func (s *LedgerService) ResumeOfframp(ctx context.Context, id string) (*models.OfframpOrder, error) {
	order, err := s.store.GetOfframp(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() || order.Status == models.OfframpCryptoSent {
		return order, nil
	}
	return order, s.advanceOfframp(ctx, order)
}

// advanceOfframp runs each pending step, persisting the new state before the
// next external call. Transient errors leave the order where it is.
func (s *LedgerService) advanceOfframp(ctx context.Context, order *models.OfframpOrder) error {
	for {
		var err error
		switch order.Status {
		case models.OfframpCreated:
			err = s.quoteStep(ctx, order)
		case models.OfframpQuoted:
			err = s.verifyStep(ctx, order)
		case models.OfframpBankVerified:
			err = s.orderStep(ctx, order)
		case models.OfframpOrderCreated:
			err = s.holdStep(ctx, order)
		case models.OfframpFundsHeld:
			err = s.sendStep(ctx, order)
		default:
			return nil
		}
		if err == nil {
			continue
		}

		if errors.Is(err, store.ErrInvalidTransition) {
			zap.L().Info("Off-ramp advanced elsewhere", zap.String("order_id", order.Id))
			if fresh, getErr := s.store.GetOfframp(ctx, order.Id); getErr == nil {
				*order = *fresh
			}
			return nil
		}

		var failure *orderFailure
		if errors.As(err, &failure) {
			return s.failOfframp(ctx, order, failure.Error())
		}

		order.Attempts++
		order.FailureReason = err.Error()
		if recErr := s.store.RecordOfframpAttempt(ctx, order.Id, err.Error()); recErr != nil {
			zap.L().Error("Failed to record off-ramp attempt", zap.String("order_id", order.Id), zap.Error(recErr))
		}
		return err
	}
}

func (s *LedgerService) transition(ctx context.Context, order *models.OfframpOrder, to models.OfframpStatus) error {
	from := order.Status
	order.Status = to
	if err := s.store.TransitionOfframp(ctx, order, from); err != nil {
		order.Status = from
		return err
	}
	metrics.OfframpTransition(string(to))
	return nil
}

func (s *LedgerService) quoteStep(ctx context.Context, order *models.OfframpOrder) error {
	entry, err := s.lookupAsset(order.Asset, order.Network)
	if err != nil {
		return fail(err)
	}
	q, err := s.quote(ctx, entry, order.Amount, order.Fiat)
	if err != nil {
		return providerError(err)
	}
	order.Rate = q.Rate
	order.FiatAmount = q.FiatAmount
	return s.transition(ctx, order, models.OfframpQuoted)
}

func (s *LedgerService) verifyStep(ctx context.Context, order *models.OfframpOrder) error {
	account, err := s.VerifyBankAccount(ctx, VerifyAccountRequest{BankCode: order.BankCode, AccountNumber: order.AccountNumber})
	if err != nil {
		return providerError(err)
	}
	order.AccountName = account.AccountName
	return s.transition(ctx, order, models.OfframpBankVerified)
}

func (s *LedgerService) orderStep(ctx context.Context, order *models.OfframpOrder) error {
	entry, err := s.lookupAsset(order.Asset, order.Network)
	if err != nil {
		return fail(err)
	}

	var created *paycrest.Order
	err = s.call(ctx, "paycrest.create_order", func(ctx context.Context) error {
		var callErr error
		created, callErr = s.paycrest.CreateOrder(ctx, paycrest.OrderRequest{
			Amount:  order.Amount,
			Token:   entry.Symbol,
			Network: entry.PaycrestNetwork,
			Rate:    order.Rate,
			Recipient: paycrest.Recipient{
				Institution:       order.Institution,
				AccountIdentifier: order.AccountNumber,
				AccountName:       order.AccountName,
				Memo:              "Payout " + order.Id,
			},
			Reference:     order.Id,
			ReturnAddress: entry.ReturnAddress,
		})
		return callErr
	})
	if err != nil {
		return providerError(err)
	}
	if err := custody.ValidateAddress(entry.Network, created.ReceiveAddress); err != nil {
		return fail(fmt.Errorf("provider receive address rejected: %w", err))
	}

	order.ProviderOrderId = created.Id
	order.ReceiveAddress = created.ReceiveAddress
	order.ProviderAmount = created.TotalDue()
	return s.transition(ctx, order, models.OfframpOrderCreated)
}

func (s *LedgerService) holdStep(ctx context.Context, order *models.OfframpOrder) error {
	_, err := s.ledger.DebitUser(ctx, store.DebitParams{
		UserId:          order.UserId,
		Asset:           order.Asset,
		Amount:          holdAmount(order),
		TransactionType: models.TxTypeOfframp,
		Reference:       order.HoldReference(),
		Address:         order.ReceiveAddress,
	})
	metrics.LedgerOperation("debit", err)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateTransaction):
			zap.L().Info("Off-ramp hold already placed", zap.String("order_id", order.Id))
		case errors.Is(err, store.ErrInsufficientFunds):
			return fail(err)
		default:
			return err
		}
	}
	return s.transition(ctx, order, models.OfframpFundsHeld)
}

func (s *LedgerService) sendStep(ctx context.Context, order *models.OfframpOrder) error {
	var sent *models.Withdrawal
	err := s.call(ctx, "custody.withdraw", func(ctx context.Context) error {
		var callErr error
		sent, callErr = s.custodian.Withdraw(ctx, models.WithdrawalRequest{
			Asset:              order.Asset,
			Network:            order.Network,
			Amount:             holdAmount(order),
			DestinationAddress: order.ReceiveAddress,
			Reference:          order.Id,
			Metadata:           map[string]string{"offrampId": order.Id, "userId": order.UserId},
		})
		return callErr
	})
	if err != nil {
		return providerError(err)
	}

	order.CustodyWithdrawalId = sent.Id
	order.CustodyTxHash = sent.TxHash
	if err := s.transition(ctx, order, models.OfframpCryptoSent); err != nil {
		return err
	}

	s.notify(ctx, order.UserId, notify.Event{
		Type:  notify.EventOfframpUpdate,
		Title: "Payout in progress",
		Body:  fmt.Sprintf("%s %s sent for your %s payout", holdAmount(order), order.Asset, order.Fiat),
		Data:  map[string]string{"order_id": order.Id, "status": string(order.Status)},
	})
	return nil
}

// failOfframp reverses any hold and ends the order in FAILED.
func (s *LedgerService) failOfframp(ctx context.Context, order *models.OfframpOrder, reason string) error {
	if order.Status.HoldsFunds() {
		if _, err := s.reverseHold(ctx, order.UserId, order.Asset, holdAmount(order), order.HoldReference()); err != nil {
			return err
		}
	}

	order.FailureReason = reason
	if err := s.transition(ctx, order, models.OfframpFailed); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			zap.L().Info("Off-ramp already moved on", zap.String("order_id", order.Id), zap.Error(err))
			return nil
		}
		return err
	}

	zap.L().Warn("Off-ramp failed", zap.String("order_id", order.Id), zap.String("reason", reason))
	s.notify(ctx, order.UserId, notify.Event{
		Type:  notify.EventOfframpFailed,
		Title: "Payout failed",
		Body:  "Your " + order.Fiat + " payout could not be completed",
		Data:  map[string]string{"order_id": order.Id, "reason": reason},
	})
	return nil
}

// HandlePaycrestEvent applies a payment_order webhook to the matching order.
func (s *LedgerService) HandlePaycrestEvent(ctx context.Context, event *paycrest.Event) error {
	order, err := s.store.GetOfframpByProviderOrderId(ctx, event.Order.Id)
	if errors.Is(err, store.ErrNotFound) && event.Order.Reference != "" {
		order, err = s.store.GetOfframp(ctx, event.Order.Reference)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("Paycrest event for unknown order",
				zap.String("event", event.Name),
				zap.String("provider_order_id", event.Order.Id))
			return nil
		}
		return err
	}

	if event.Order.TxHash != "" && order.CustodyTxHash == "" {
		order.CustodyTxHash = event.Order.TxHash
	}
	return s.applyProviderStatus(ctx, order, event.Status())
}

func (s *LedgerService) applyProviderStatus(ctx context.Context, order *models.OfframpOrder, status string) error {
	zap.L().Info("Applying provider status",
		zap.String("order_id", order.Id),
		zap.String("order_status", string(order.Status)),
		zap.String("provider_status", status))

	switch status {
	case paycrest.StatusSettled:
		if order.Status == models.OfframpFundsHeld {
			// funds arrived before the send was recorded
			if err := s.transition(ctx, order, models.OfframpCryptoSent); err != nil {
				return ignoreLostRace(err)
			}
		}
		if order.Status != models.OfframpCryptoSent {
			return nil
		}
		if err := s.transition(ctx, order, models.OfframpSettled); err != nil {
			return ignoreLostRace(err)
		}
		s.notify(ctx, order.UserId, notify.Event{
			Type:  notify.EventOfframpSettled,
			Title: "Payout complete",
			Body:  fmt.Sprintf("%s %s has been paid to %s", order.FiatAmount.StringFixed(2), order.Fiat, order.AccountName),
			Data:  map[string]string{"order_id": order.Id},
		})
		return nil

	case paycrest.StatusRefunded, paycrest.StatusExpired:
		switch order.Status {
		case models.OfframpCryptoSent:
			to := models.OfframpRefunded
			if status == paycrest.StatusExpired {
				to = models.OfframpExpired
			}
			// the provider returns the crypto to the platform return address
			if _, err := s.reverseHold(ctx, order.UserId, order.Asset, holdAmount(order), order.HoldReference()); err != nil {
				return err
			}
			order.FailureReason = "provider order " + status
			if err := s.transition(ctx, order, to); err != nil {
				return ignoreLostRace(err)
			}
			s.notify(ctx, order.UserId, notify.Event{
				Type:  notify.EventOfframpRefunded,
				Title: "Payout refunded",
				Body:  holdAmount(order).String() + " " + order.Asset + " has been returned to your balance",
				Data:  map[string]string{"order_id": order.Id},
			})
		case models.OfframpOrderCreated:
			order.FailureReason = "provider order " + status
			if err := s.transition(ctx, order, models.OfframpExpired); err != nil {
				return ignoreLostRace(err)
			}
		case models.OfframpFundsHeld:
			return s.failOfframp(ctx, order, "provider order "+status)
		}
		return nil

	default:
		return nil
	}
}

func ignoreLostRace(err error) error {
	if errors.Is(err, store.ErrInvalidTransition) {
		zap.L().Info("Ignoring stale provider update", zap.Error(err))
		return nil
	}
	return err
}

// RefreshOfframpStatus polls the provider for an order's status.
func (s *LedgerService) RefreshOfframpStatus(ctx context.Context, id string) (*models.OfframpOrder, error) {
	order, err := s.store.GetOfframp(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.ProviderOrderId == "" || order.Status.IsTerminal() {
		return order, nil
	}
	if s.paycrest == nil {
		return nil, fmt.Errorf("%w: paycrest", ErrUnavailable)
	}

	var remote *paycrest.Order
	err = s.call(ctx, "paycrest.get_order", func(ctx context.Context) error {
		var callErr error
		remote, callErr = s.paycrest.GetOrder(ctx, order.ProviderOrderId)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if err := s.applyProviderStatus(ctx, order, strings.ToLower(remote.Status)); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOfframp returns the order only to its owner.
func (s *LedgerService) GetOfframp(ctx context.Context, userId, id string) (*models.OfframpOrder, error) {
	order, err := s.store.GetOfframp(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserId != userId {
		return nil, fmt.Errorf("%w: offramp order", store.ErrNotFound)
	}
	return order, nil
}

func (s *LedgerService) ListOfframps(ctx context.Context, userId string, limit, offset int) ([]models.OfframpOrder, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListOfframpsByUser(ctx, userId, limit, offset)
}

// StaleOfframps lists orders in the given states not touched since olderThan.
func (s *LedgerService) StaleOfframps(ctx context.Context, statuses []models.OfframpStatus, olderThan time.Duration, limit int) ([]models.OfframpOrder, error) {
	return s.store.ListOfframpsByStatus(ctx, statuses, time.Now().UTC().Add(-olderThan), limit)
}
