/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance represents a user's balance for a specific asset
type UserBalance struct {
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// TransactionRecord represents a ledger entry in the user's history
type TransactionRecord struct {
	Id          string          `json:"id"`
	Type        string          `json:"type"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Address     string          `json:"address,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Status      string          `json:"status"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// LedgerResult represents the result of applying a custody movement to the ledger
type LedgerResult struct {
	Success    bool            `json:"success"`
	UserId     string          `json:"user_id,omitempty"`
	Asset      string          `json:"asset,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	NewBalance decimal.Decimal `json:"new_balance,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// AuthResult is returned by login and registration
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// RateQuote is a payout rate for converting a crypto amount into fiat
type RateQuote struct {
	Asset      string          `json:"asset"`
	Network    string          `json:"network"`
	Amount     decimal.Decimal `json:"amount"`
	Fiat       string          `json:"fiat"`
	Rate       decimal.Decimal `json:"rate"`
	FiatAmount decimal.Decimal `json:"fiat_amount"`
	QuotedAt   time.Time       `json:"quoted_at"`
}

// BankAccount is a resolved payout destination
type BankAccount struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// Bank is a payout bank known to the bank verification provider
type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Slug string `json:"slug,omitempty"`
}

// Institution is a payout institution supported by the off-ramp provider
type Institution struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
}

// ReconciliationReport compares the ledger mirror with the custodian for one asset
type ReconciliationReport struct {
	Asset            string          `json:"asset"`
	Network          string          `json:"network"`
	LedgerTotal      decimal.Decimal `json:"ledger_total"`
	CustodianBalance decimal.Decimal `json:"custodian_balance"`
	Difference       decimal.Decimal `json:"difference"`
	Matched          bool            `json:"matched"`
	Error            string          `json:"error,omitempty"`
}

// RampSession is a signed hosted-checkout link for a fiat ramp
type RampSession struct {
	Order *OnrampOrder `json:"order"`
	URL   string       `json:"url"`
}
