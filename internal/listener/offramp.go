package listener

import (
	"context"
	"time"

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/models"

	"go.uber.org/zap"
)

// maintainOrders pushes stalled off-ramp orders forward, refreshes
// CRYPTO_SENT orders from the provider in case a webhook was lost and
// resubmits withdrawals a custodian outage left PENDING.
func (l *Listener) maintainOrders(ctx context.Context) {
	l.resumeStuckOrders(ctx)
	l.refreshSentOrders(ctx)
	l.resumeStuckWithdrawals(ctx)
}

func (l *Listener) resumeStuckOrders(ctx context.Context) int {
	orders, err := l.svc.StaleOfframps(ctx, api.PendingOfframpStatuses, l.stuckOrderAge, l.batchSize)
	if err != nil {
		zap.L().Error("Failed to load stuck off-ramp orders", zap.Error(err))
		return 0
	}

	resumed := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return resumed
		}
		updated, err := l.svc.ResumeOfframp(ctx, order.Id)
		if err != nil {
			zap.L().Warn("Off-ramp order still stuck",
				zap.String("order_id", order.Id),
				zap.String("status", string(order.Status)),
				zap.Int("attempts", order.Attempts),
				zap.Error(err))
			continue
		}
		resumed++
		if updated != nil && updated.Status != order.Status {
			zap.L().Info("Resumed off-ramp order",
				zap.String("order_id", order.Id),
				zap.String("from", string(order.Status)),
				zap.String("to", string(updated.Status)))
		}
	}
	return resumed
}

func (l *Listener) refreshSentOrders(ctx context.Context) int {
	orders, err := l.svc.StaleOfframps(ctx, []models.OfframpStatus{models.OfframpCryptoSent}, l.stuckOrderAge, l.batchSize)
	if err != nil {
		zap.L().Error("Failed to load sent off-ramp orders", zap.Error(err))
		return 0
	}

	refreshed := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return refreshed
		}
		updated, err := l.svc.RefreshOfframpStatus(ctx, order.Id)
		if err != nil {
			zap.L().Warn("Failed to refresh off-ramp order",
				zap.String("order_id", order.Id),
				zap.Error(err))
			continue
		}
		refreshed++
		if updated != nil && updated.Status != order.Status {
			zap.L().Info("Off-ramp order settled by refresh",
				zap.String("order_id", order.Id),
				zap.String("status", string(updated.Status)))
		}
	}
	return refreshed
}

func (l *Listener) resumeStuckWithdrawals(ctx context.Context) int {
	withdrawals, err := l.svc.StaleWithdrawals(ctx, l.stuckOrderAge, l.batchSize)
	if err != nil {
		zap.L().Error("Failed to load stuck withdrawals", zap.Error(err))
		return 0
	}

	resumed := 0
	for _, w := range withdrawals {
		if ctx.Err() != nil {
			return resumed
		}
		updated, err := l.svc.ResumeWithdrawal(ctx, w.Id)
		if err != nil {
			zap.L().Warn("Withdrawal still pending",
				zap.String("withdrawal_id", w.Id),
				zap.String("user_id", w.UserId),
				zap.Error(err))
			continue
		}
		resumed++
		if updated != nil && updated.Status != w.Status {
			zap.L().Info("Resubmitted withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.String("status", string(updated.Status)))
		}
	}
	return resumed
}

func (l *Listener) reconcile(ctx context.Context) {
	start := time.Now()
	reports, err := l.svc.ReconcileCustody(ctx)
	if err != nil {
		zap.L().Error("Custody reconciliation failed", zap.Error(err))
		return
	}

	mismatched := 0
	for _, report := range reports {
		if !report.Matched {
			mismatched++
		}
	}
	zap.L().Info("Custody reconciliation completed",
		zap.Int("assets", len(reports)),
		zap.Int("mismatched", mismatched),
		zap.Duration("elapsed", time.Since(start)))
}
