package api

import (
	"context"
	"errors"
	"fmt"

	"custodial-wallet-go/internal/alchemypay"
	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/metrics"
	"custodial-wallet-go/internal/paycrest"
	"custodial-wallet-go/internal/store"

	"go.uber.org/zap"
)

const (
	webhookAccepted  = "accepted"
	webhookDuplicate = "duplicate"
	webhookRejected  = "rejected"
	webhookFailed    = "failed"
)

// recordEvent stores the event id. It returns false when the event was
// already handled and should be acknowledged without reprocessing.
func (s *LedgerService) recordEvent(ctx context.Context, provider, eventId, eventType string, body []byte) (bool, error) {
	err := s.store.RecordWebhookEvent(ctx, provider, eventId, eventType, body)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrDuplicateEvent) {
		zap.L().Info("Duplicate webhook ignored", zap.String("provider", provider), zap.String("event_id", eventId))
		metrics.WebhookEvent(provider, webhookDuplicate)
		return false, nil
	}
	return false, err
}

// dispatchFailed forgets the event so the provider's redelivery is processed.
func (s *LedgerService) dispatchFailed(ctx context.Context, provider, eventId string, err error) error {
	metrics.WebhookEvent(provider, webhookFailed)
	zap.L().Error("Webhook processing failed",
		zap.String("provider", provider),
		zap.String("event_id", eventId),
		zap.Error(err))
	if forgetErr := s.store.ForgetWebhookEvent(context.WithoutCancel(ctx), provider, eventId); forgetErr != nil {
		zap.L().Error("Failed to release webhook event", zap.String("event_id", eventId), zap.Error(forgetErr))
	}
	return err
}

// CustodySignatureHeader names the header carrying the custodian's webhook signature.
func (s *LedgerService) CustodySignatureHeader() string {
	return s.custodian.SignatureHeader()
}

func (s *LedgerService) HandleCustodyWebhook(ctx context.Context, body []byte, signature string) error {
	provider := s.custodian.Name()
	if err := s.custodian.VerifyWebhook(body, signature); err != nil {
		metrics.WebhookEvent(provider, webhookRejected)
		if errors.Is(err, custody.ErrWebhooksUnsupported) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := s.custodian.ParseWebhook(body)
	if err != nil {
		metrics.WebhookEvent(provider, webhookRejected)
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fresh, err := s.recordEvent(ctx, provider, event.Id, event.Type, body)
	if err != nil || !fresh {
		return err
	}

	if err := s.HandleCustodyTransaction(ctx, event.Transaction); err != nil {
		return s.dispatchFailed(ctx, provider, event.Id, err)
	}
	metrics.WebhookEvent(provider, webhookAccepted)
	return nil
}

func (s *LedgerService) HandlePaycrestWebhook(ctx context.Context, body []byte, signature string) error {
	const provider = "paycrest"
	if s.paycrest == nil {
		return fmt.Errorf("%w: paycrest", ErrUnavailable)
	}
	if err := s.paycrest.VerifyWebhook(body, signature); err != nil {
		metrics.WebhookEvent(provider, webhookRejected)
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := paycrest.ParseWebhook(body)
	if err != nil {
		metrics.WebhookEvent(provider, webhookRejected)
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fresh, err := s.recordEvent(ctx, provider, event.Id(), event.Name, body)
	if err != nil || !fresh {
		return err
	}

	if err := s.HandlePaycrestEvent(ctx, event); err != nil {
		return s.dispatchFailed(ctx, provider, event.Id(), err)
	}
	metrics.WebhookEvent(provider, webhookAccepted)
	return nil
}

func (s *LedgerService) HandleAlchemyPayWebhook(ctx context.Context, body []byte, signature string) error {
	const provider = "alchemypay"
	if s.alchemyPay == nil {
		return fmt.Errorf("%w: alchemypay", ErrUnavailable)
	}
	if err := s.alchemyPay.VerifyCallback(body, signature); err != nil {
		metrics.WebhookEvent(provider, webhookRejected)
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	cb, err := alchemypay.ParseCallback(body)
	if err != nil {
		metrics.WebhookEvent(provider, webhookRejected)
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fresh, err := s.recordEvent(ctx, provider, cb.Id(), cb.Status, body)
	if err != nil || !fresh {
		return err
	}

	if err := s.HandleAlchemyPayEvent(ctx, cb); err != nil {
		return s.dispatchFailed(ctx, provider, cb.Id(), err)
	}
	metrics.WebhookEvent(provider, webhookAccepted)
	return nil
}
