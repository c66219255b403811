package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// User represents an account holder or operator
type User struct {
	Id           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	Status       string    `db:"status" json:"status"`
	TotpSecret   string    `db:"totp_secret" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

func (u *User) IsActive() bool { return u.Status == UserStatusActive }

// Address represents a user's custodial deposit address
type Address struct {
	Id                   string    `db:"id" json:"id"`
	UserId               string    `db:"user_id" json:"user_id"`
	Asset                string    `db:"asset" json:"asset"`
	Network              string    `db:"network" json:"network"`
	Address              string    `db:"address" json:"address"`
	WalletId             string    `db:"wallet_id" json:"wallet_id"`
	AccountIdentifier    string    `db:"account_identifier" json:"-"`
	EncryptedKeyMaterial string    `db:"encrypted_key_material" json:"-"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// AccountBalance represents current balance state (hot data)
type AccountBalance struct {
	Id                string          `db:"id" json:"-"`
	UserId            string          `db:"user_id" json:"user_id"`
	Asset             string          `db:"asset" json:"asset"`
	Balance           decimal.Decimal `db:"balance" json:"balance"`
	LastTransactionId string          `db:"last_transaction_id" json:"-"`
	Version           int64           `db:"version" json:"version"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction represents immutable ledger history (cold data)
type Transaction struct {
	Id                    string          `db:"id" json:"id"`
	UserId                string          `db:"user_id" json:"user_id"`
	Asset                 string          `db:"asset" json:"asset"`
	TransactionType       string          `db:"transaction_type" json:"type"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore         decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter          decimal.Decimal `db:"balance_after" json:"balance_after"`
	ExternalTransactionId string          `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
	Address               string          `db:"address" json:"address,omitempty"`
	Reference             string          `db:"reference" json:"reference,omitempty"`
	Status                string          `db:"status" json:"status"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt           time.Time       `db:"processed_at" json:"processed_at"`
}

// Ledger transaction types
const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
	TxTypeOfframp    = "offramp"
	TxTypeReversal   = "reversal"
	TxTypeAdjustment = "adjustment"
)

// Ledger transaction statuses
const (
	TxStatusConfirmed = "confirmed"
	TxStatusReversed  = "reversed"
)

// Device is a push notification target registered by a mobile client
type Device struct {
	Id        string    `db:"id" json:"id"`
	UserId    string    `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"token"`
	Platform  string    `db:"platform" json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WebhookEvent records an inbound provider event so replays are ignored
type WebhookEvent struct {
	Id         string    `db:"id"`
	Provider   string    `db:"provider"`
	EventId    string    `db:"event_id"`
	EventType  string    `db:"event_type"`
	Payload    string    `db:"payload"`
	ReceivedAt time.Time `db:"received_at"`
}
