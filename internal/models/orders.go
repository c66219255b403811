package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfframpStatus is a persisted step of the crypto-to-fiat payout workflow.
type OfframpStatus string

const (
	OfframpCreated      OfframpStatus = "CREATED"
	OfframpQuoted       OfframpStatus = "QUOTED"
	OfframpBankVerified OfframpStatus = "BANK_VERIFIED"
	OfframpOrderCreated OfframpStatus = "ORDER_CREATED"
	OfframpFundsHeld    OfframpStatus = "FUNDS_HELD"
	OfframpCryptoSent   OfframpStatus = "CRYPTO_SENT"
	OfframpSettled      OfframpStatus = "SETTLED"
	OfframpRefunded     OfframpStatus = "REFUNDED"
	OfframpExpired      OfframpStatus = "EXPIRED"
	OfframpFailed       OfframpStatus = "FAILED"
)

var offrampTransitions = map[OfframpStatus][]OfframpStatus{
	OfframpCreated:      {OfframpQuoted, OfframpFailed},
	OfframpQuoted:       {OfframpBankVerified, OfframpFailed},
	OfframpBankVerified: {OfframpOrderCreated, OfframpFailed},
	OfframpOrderCreated: {OfframpFundsHeld, OfframpFailed, OfframpExpired},
	OfframpFundsHeld:    {OfframpCryptoSent, OfframpFailed},
	OfframpCryptoSent:   {OfframpSettled, OfframpRefunded, OfframpExpired},
}

// CanTransition reports whether the workflow allows moving from s to next.
func (s OfframpStatus) CanTransition(next OfframpStatus) bool {
	for _, allowed := range offrampTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OfframpStatus) IsTerminal() bool {
	_, ok := offrampTransitions[s]
	return !ok
}

// HoldsFunds reports whether the user's ledger balance is debited in this state.
func (s OfframpStatus) HoldsFunds() bool {
	return s == OfframpFundsHeld || s == OfframpCryptoSent
}

// OfframpOrder tracks one crypto-to-bank payout across custody and payout providers
type OfframpOrder struct {
	Id                  string          `db:"id" json:"id"`
	UserId              string          `db:"user_id" json:"user_id"`
	IdempotencyKey      string          `db:"idempotency_key" json:"idempotency_key"`
	Asset               string          `db:"asset" json:"asset"`
	Network             string          `db:"network" json:"network"`
	Amount              decimal.Decimal `db:"amount" json:"amount"`
	Fiat                string          `db:"fiat" json:"fiat"`
	Rate                decimal.Decimal `db:"rate" json:"rate"`
	FiatAmount          decimal.Decimal `db:"fiat_amount" json:"fiat_amount"`
	BankCode            string          `db:"bank_code" json:"bank_code"`
	AccountNumber       string          `db:"account_number" json:"account_number"`
	AccountName         string          `db:"account_name" json:"account_name,omitempty"`
	Institution         string          `db:"institution" json:"institution"`
	ProviderOrderId     string          `db:"provider_order_id" json:"provider_order_id,omitempty"`
	ReceiveAddress      string          `db:"receive_address" json:"receive_address,omitempty"`
	ProviderAmount      decimal.Decimal `db:"provider_amount" json:"provider_amount"`
	CustodyWithdrawalId string          `db:"custody_withdrawal_id" json:"custody_withdrawal_id,omitempty"`
	CustodyTxHash       string          `db:"custody_tx_hash" json:"custody_tx_hash,omitempty"`
	Status              OfframpStatus   `db:"status" json:"status"`
	FailureReason       string          `db:"failure_reason" json:"failure_reason,omitempty"`
	Attempts            int             `db:"attempts" json:"attempts"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// HoldReference is the ledger reference used when debiting the user for this order.
func (o *OfframpOrder) HoldReference() string {
	return "offramp:" + o.Id
}

// OnrampStatus tracks an AlchemyPay ramp order
type OnrampStatus string

const (
	OnrampPending   OnrampStatus = "PENDING"
	OnrampPaid      OnrampStatus = "PAID"
	OnrampCompleted OnrampStatus = "COMPLETED"
	OnrampFailed    OnrampStatus = "FAILED"
	OnrampCancelled OnrampStatus = "CANCELLED"
)

const (
	RampSideBuy  = "buy"
	RampSideSell = "sell"
)

// OnrampOrder records a fiat ramp session handed off to AlchemyPay
type OnrampOrder struct {
	Id              string          `db:"id" json:"id"`
	UserId          string          `db:"user_id" json:"user_id"`
	Side            string          `db:"side" json:"side"`
	Asset           string          `db:"asset" json:"asset"`
	Network         string          `db:"network" json:"network"`
	Fiat            string          `db:"fiat" json:"fiat"`
	FiatAmount      decimal.Decimal `db:"fiat_amount" json:"fiat_amount"`
	CryptoAmount    decimal.Decimal `db:"crypto_amount" json:"crypto_amount"`
	Address         string          `db:"address" json:"address"`
	ProviderOrderId string          `db:"provider_order_id" json:"provider_order_id,omitempty"`
	TxHash          string          `db:"tx_hash" json:"tx_hash,omitempty"`
	Status          OnrampStatus    `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// WithdrawalStatus tracks a user-initiated on-chain send
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalSubmitted WithdrawalStatus = "SUBMITTED"
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalFailed    WithdrawalStatus = "FAILED"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:   {WithdrawalSubmitted, WithdrawalFailed},
	WithdrawalSubmitted: {WithdrawalCompleted, WithdrawalFailed},
}

func (s WithdrawalStatus) CanTransition(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WithdrawalRecord is the local record of a send to an external address.
// Its Id is the reference handed to the custodian.
type WithdrawalRecord struct {
	Id                  string           `db:"id" json:"id"`
	UserId              string           `db:"user_id" json:"user_id"`
	Asset               string           `db:"asset" json:"asset"`
	Network             string           `db:"network" json:"network"`
	Amount              decimal.Decimal  `db:"amount" json:"amount"`
	Destination         string           `db:"destination" json:"destination"`
	CustodyWithdrawalId string           `db:"custody_withdrawal_id" json:"custody_withdrawal_id,omitempty"`
	TxHash              string           `db:"tx_hash" json:"tx_hash,omitempty"`
	Status              WithdrawalStatus `db:"status" json:"status"`
	FailureReason       string           `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// HoldReference is the ledger reference used when debiting the user for this send.
func (w *WithdrawalRecord) HoldReference() string {
	return "withdrawal:" + w.Id
}
