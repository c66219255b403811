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

// Custody transaction types and statuses, normalized across custodians
const (
	CustodyTxDeposit    = "DEPOSIT"
	CustodyTxWithdrawal = "WITHDRAWAL"

	CustodyStatusPending = "PENDING"
	CustodyStatusSuccess = "SUCCESS"
	CustodyStatusFailed  = "FAILED"
)

// DepositAddress is an address issued by the custodian
type DepositAddress struct {
	Id          string
	WalletId    string
	Address     string
	Network     string
	Asset       string
	KeyMaterial string
}

// WithdrawalRequest asks the custodian to move funds on-chain.
// Reference is reused on retries so the custodian can dedupe.
type WithdrawalRequest struct {
	Asset              string
	Network            string
	Amount             decimal.Decimal
	DestinationAddress string
	Reference          string
	Metadata           map[string]string
}

// Withdrawal represents a custodian withdrawal
type Withdrawal struct {
	Id          string
	Asset       string
	Network     string
	Amount      decimal.Decimal
	Destination string
	Reference   string
	TxHash      string
	Status      string
}

// CustodyTransaction represents a transaction reported by the custodian
type CustodyTransaction struct {
	Id          string
	WalletId    string
	Type        string
	Status      string
	Asset       string
	Network     string
	Amount      decimal.Decimal
	Address     string
	Reference   string
	TxHash      string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// CustodyEvent is a parsed custodian webhook
type CustodyEvent struct {
	Id          string
	Type        string // deposit.success, withdraw.success, withdraw.failed
	Transaction CustodyTransaction
}
