// Package notify delivers user-facing events over websockets and mobile push.
package notify

import (
	"context"

	"go.uber.org/zap"
)

const (
	EventDeposit         = "deposit.received"
	EventWithdrawalSent  = "withdrawal.sent"
	EventWithdrawalFail  = "withdrawal.failed"
	EventOfframpUpdate   = "offramp.updated"
	EventOfframpSettled  = "offramp.settled"
	EventOfframpFailed   = "offramp.failed"
	EventOfframpRefunded = "offramp.refunded"
	EventOnrampUpdate    = "onramp.updated"
)

type Event struct {
	Type  string            `json:"type"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, userID string, event Event) error
}

// Multi fans an event out to every notifier. Failures are logged, never returned.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID string, event Event) error {
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, userID, event); err != nil {
			zap.L().Warn("Notification delivery failed",
				zap.String("user_id", userID),
				zap.String("event", event.Type),
				zap.Error(err))
		}
	}
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, string, Event) error { return nil }
