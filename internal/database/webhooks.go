package database

import (
	"context"
	"fmt"

	"custodial-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordWebhookEvent stores a provider event once. Replays return store.ErrDuplicateEvent.
func (s *Service) RecordWebhookEvent(ctx context.Context, provider, eventId, eventType string, payload []byte) error {
	result, err := s.db.ExecContext(ctx, queryInsertWebhookEvent, uuid.New().String(), provider, eventId, eventType, string(payload))
	if err != nil {
		zap.L().Error("Failed to record webhook event",
			zap.String("provider", provider),
			zap.String("event_id", eventId),
			zap.Error(err))
		return fmt.Errorf("unable to record webhook event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", store.ErrDuplicateEvent, provider, eventId)
	}
	return nil
}

// ForgetWebhookEvent removes a recorded event so a redelivery is processed again.
func (s *Service) ForgetWebhookEvent(ctx context.Context, provider, eventId string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteWebhookEvent, provider, eventId); err != nil {
		return fmt.Errorf("unable to delete webhook event: %w", err)
	}
	return nil
}
