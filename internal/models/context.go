package models

import (
	"context"
	"time"
)

type depositContextKey struct{}

// DepositContext carries custodian metadata for a deposit through context
// so ledger backends can store it without widening the Ledger interface.
type DepositContext struct {
	Custodian       string
	CustodyTxId     string
	TxHash          string
	Network         string
	WalletId        string
	TransactionTime time.Time
}

// WithDepositContext attaches custodian deposit data to a context.
func WithDepositContext(ctx context.Context, dc *DepositContext) context.Context {
	return context.WithValue(ctx, depositContextKey{}, dc)
}

// GetDepositContext retrieves custodian deposit data from context, or nil if absent.
func GetDepositContext(ctx context.Context) *DepositContext {
	dc, _ := ctx.Value(depositContextKey{}).(*DepositContext)
	return dc
}
