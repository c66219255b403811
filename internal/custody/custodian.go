// Package custody defines the contract every custodial wallet provider
// implements, plus the asset registry and address validation they share.
package custody

import (
	"context"
	"errors"
	"time"

	"custodial-wallet-go/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrWebhooksUnsupported = errors.New("custodian does not deliver webhooks")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnknownAsset        = errors.New("asset not configured for network")
	ErrUnsupportedNetwork  = errors.New("unsupported network")
	ErrInvalidAddress      = errors.New("invalid address")
)

// Custodian holds user funds. Keys never leave the custodian; this service
// only orchestrates addresses, withdrawals and transaction history.
type Custodian interface {
	Name() string
	CreateDepositAddress(ctx context.Context, userID, asset, network string) (*models.DepositAddress, error)
	// Withdraw is safe to repeat with the same Reference.
	Withdraw(ctx context.Context, req models.WithdrawalRequest) (*models.Withdrawal, error)
	GetBalance(ctx context.Context, asset, network string) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, since time.Time) ([]models.CustodyTransaction, error)

	SignatureHeader() string
	VerifyWebhook(body []byte, signature string) error
	ParseWebhook(body []byte) (*models.CustodyEvent, error)
}
