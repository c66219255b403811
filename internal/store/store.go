package store

import (
	"context"
	"errors"
	"time"

	"custodial-wallet-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUserNotFound           = errors.New("no user found for address")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrEmailTaken             = errors.New("email already registered")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrDuplicateEvent         = errors.New("webhook event already processed")
)

// StoreAddressParams contains the parameters for storing a deposit address.
type StoreAddressParams struct {
	UserId               string
	Asset                string
	Network              string
	Address              string
	WalletId             string
	AccountIdentifier    string
	EncryptedKeyMaterial string
}

// CreateUserParams contains the parameters for registering a user.
type CreateUserParams struct {
	Id           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
}

// CreditParams credits a user's balance from an external or internal source.
type CreditParams struct {
	UserId          string
	Asset           string
	Amount          decimal.Decimal
	TransactionType string
	ExternalTxId    string
	Address         string
	Reference       string
}

// DebitParams debits a user's balance. The debit fails with ErrInsufficientFunds
// unless the balance covers Amount.
type DebitParams struct {
	UserId          string
	Asset           string
	Amount          decimal.Decimal
	TransactionType string
	Reference       string
	Address         string
}

// AssetTotal is the sum of all user balances for one asset.
type AssetTotal struct {
	Asset string
	Total decimal.Decimal
}

type UserStore interface {
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	UpdateUserRole(ctx context.Context, userId, role string) error
	UpdateUserStatus(ctx context.Context, userId, status string) error
	SetTotpSecret(ctx context.Context, userId, secret string) error
}

type AddressStore interface {
	StoreAddress(ctx context.Context, params StoreAddressParams) (*models.Address, error)
	GetAddresses(ctx context.Context, userId, asset, network string) ([]models.Address, error)
	GetAllUserAddresses(ctx context.Context, userId string) ([]models.Address, error)
	FindUserByAddress(ctx context.Context, address string) (*models.User, *models.Address, error)
}

// Ledger is the local balance mirror of custodial funds. Every backend
// (SQLite, Formance, ...) must satisfy it.
type Ledger interface {
	ProcessDeposit(ctx context.Context, address, asset string, amount decimal.Decimal, externalTxId string) (*models.Transaction, error)
	CreditUser(ctx context.Context, params CreditParams) (*models.Transaction, error)
	DebitUser(ctx context.Context, params DebitParams) (*models.Transaction, error)
	ReverseDebit(ctx context.Context, userId, asset string, amount decimal.Decimal, reference string) (*models.Transaction, error)
	GetUserBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error)
	GetAllUserBalances(ctx context.Context, userId string) ([]models.AccountBalance, error)
	GetTransactionHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.Transaction, error)
	GetMostRecentTransactionTime(ctx context.Context) (time.Time, error)
	ReconcileUserBalance(ctx context.Context, userId, asset string) error
	GetAssetTotals(ctx context.Context) ([]AssetTotal, error)
	Close()
}

type OrderStore interface {
	CreateOfframp(ctx context.Context, order *models.OfframpOrder) error
	GetOfframp(ctx context.Context, id string) (*models.OfframpOrder, error)
	GetOfframpByIdempotencyKey(ctx context.Context, userId, key string) (*models.OfframpOrder, error)
	GetOfframpByProviderOrderId(ctx context.Context, providerOrderId string) (*models.OfframpOrder, error)
	// TransitionOfframp persists order fields and moves it from one status to
	// another. It returns ErrInvalidTransition if the stored status is not from.
	TransitionOfframp(ctx context.Context, order *models.OfframpOrder, from models.OfframpStatus) error
	RecordOfframpAttempt(ctx context.Context, id, failureReason string) error
	ListOfframpsByUser(ctx context.Context, userId string, limit, offset int) ([]models.OfframpOrder, error)
	ListOfframpsByStatus(ctx context.Context, statuses []models.OfframpStatus, updatedBefore time.Time, limit int) ([]models.OfframpOrder, error)

	CreateOnramp(ctx context.Context, order *models.OnrampOrder) error
	GetOnramp(ctx context.Context, id string) (*models.OnrampOrder, error)
	UpdateOnrampStatus(ctx context.Context, id string, status models.OnrampStatus, providerOrderId, txHash string, cryptoAmount decimal.Decimal) error
}

type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *models.WithdrawalRecord) error
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRecord, error)
	// UpdateWithdrawal is compare-and-set on status like TransitionOfframp.
	UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRecord, from models.WithdrawalStatus) error
	ListWithdrawalsByUser(ctx context.Context, userId string, limit, offset int) ([]models.WithdrawalRecord, error)
	ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, updatedBefore time.Time, limit int) ([]models.WithdrawalRecord, error)
}

type DeviceStore interface {
	UpsertDevice(ctx context.Context, userId, token, platform string) (*models.Device, error)
	GetUserDevices(ctx context.Context, userId string) ([]models.Device, error)
	DeleteDevice(ctx context.Context, token string) error
}

type WebhookStore interface {
	// RecordWebhookEvent returns ErrDuplicateEvent if provider/eventId was seen before.
	RecordWebhookEvent(ctx context.Context, provider, eventId, eventType string, payload []byte) error
	// ForgetWebhookEvent undoes RecordWebhookEvent after processing failed.
	ForgetWebhookEvent(ctx context.Context, provider, eventId string) error
}

// Store is the relational state the service layer depends on.
type Store interface {
	UserStore
	AddressStore
	OrderStore
	WithdrawalStore
	DeviceStore
	WebhookStore
	Ping(ctx context.Context) error
}
