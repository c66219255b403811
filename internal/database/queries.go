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


package database

const (
	// User queries
	userColumns = `id, name, email, password_hash, role, status, totp_secret, created_at, updated_at`

	queryGetUsers = `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, password_hash, role, status)
		VALUES (?, ?, ?, ?, ?, 'active')`

	queryGetUserById = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = ?`

	queryGetUserByEmail = `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = ?`

	queryUpdateUserRole = `
		UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	queryUpdateUserStatus = `
		UPDATE users SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	queryUpdateTotpSecret = `
		UPDATE users SET totp_secret = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	// Address queries
	addressColumns = `id, user_id, asset, network, address, wallet_id, account_identifier, encrypted_key_material, created_at`

	queryInsertAddress = `
		INSERT INTO addresses (id, user_id, asset, network, address, wallet_id, account_identifier, encrypted_key_material)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + addressColumns

	queryGetUserAddresses = `
		SELECT ` + addressColumns + `
		FROM addresses
		WHERE user_id = ? AND asset = ? AND network = ?
		ORDER BY created_at DESC`

	queryGetAllUserAddresses = `
		SELECT ` + addressColumns + `
		FROM addresses
		WHERE user_id = ?
		ORDER BY asset, created_at DESC`

	queryFindUserByAddress = `
		SELECT u.id, u.name, u.email, u.password_hash, u.role, u.status, u.totp_secret, u.created_at, u.updated_at,
		       a.id, a.user_id, a.asset, a.network, a.address, a.wallet_id, a.account_identifier, a.encrypted_key_material, a.created_at
		FROM users u
		JOIN addresses a ON u.id = a.user_id
		WHERE LOWER(a.address) = LOWER(?) OR (a.account_identifier != '' AND a.account_identifier = ?)
		LIMIT 1`

	// Balance queries
	queryGetBalance = `
		SELECT balance
		FROM account_balances
		WHERE user_id = ? AND asset = ?`

	queryGetAllUserBalances = `
		SELECT id, user_id, asset, balance, last_transaction_id, version, updated_at
		FROM account_balances
		WHERE user_id = ? AND balance != '0'
		ORDER BY asset`

	queryGetAllBalancesForTotals = `
		SELECT asset, balance
		FROM account_balances`

	queryReconcileBalance = `
		SELECT amount
		FROM transactions
		WHERE user_id = ? AND asset = ? AND status = 'confirmed'`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM transactions WHERE external_transaction_id = ? LIMIT 1`

	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE user_id = ? AND asset = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, user_id, asset, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, user_id, asset, transaction_type, amount, balance_before, balance_after,
			external_transaction_id, address, reference, status, created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, user_id, asset, transaction_type, amount, balance_before, balance_after,
		          external_transaction_id, address, reference, status, created_at, processed_at`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND asset = ? AND version = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, user_id, asset, transaction_type, amount, balance_before, balance_after,
		       external_transaction_id, address, reference, status, created_at, processed_at
		FROM transactions
		WHERE user_id = ? AND (? = '' OR asset = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryGetMostRecentTransactionTime = `
		SELECT MAX(created_at)
		FROM transactions
		WHERE external_transaction_id IS NOT NULL AND external_transaction_id != ''`

	// Off-ramp queries
	offrampColumns = `id, user_id, idempotency_key, asset, network, amount, fiat, rate, fiat_amount,
		bank_code, account_number, account_name, institution, provider_order_id, receive_address,
		provider_amount, custody_withdrawal_id, custody_tx_hash, status, failure_reason, attempts,
		created_at, updated_at`

	queryInsertOfframp = `
		INSERT INTO offramp_orders (` + offrampColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetOfframp = `
		SELECT ` + offrampColumns + `
		FROM offramp_orders
		WHERE id = ?`

	queryGetOfframpByIdempotencyKey = `
		SELECT ` + offrampColumns + `
		FROM offramp_orders
		WHERE user_id = ? AND idempotency_key = ?`

	queryGetOfframpByProviderOrderId = `
		SELECT ` + offrampColumns + `
		FROM offramp_orders
		WHERE provider_order_id = ?`

	queryTransitionOfframp = `
		UPDATE offramp_orders
		SET status = ?, rate = ?, fiat_amount = ?, account_name = ?, provider_order_id = ?,
		    receive_address = ?, provider_amount = ?, custody_withdrawal_id = ?, custody_tx_hash = ?,
		    failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	queryRecordOfframpAttempt = `
		UPDATE offramp_orders
		SET attempts = attempts + 1, failure_reason = ?, updated_at = ?
		WHERE id = ?`

	queryListOfframpsByUser = `
		SELECT ` + offrampColumns + `
		FROM offramp_orders
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	// Status filters are expanded at call time.
	queryListOfframpsByStatusPrefix = `
		SELECT ` + offrampColumns + `
		FROM offramp_orders
		WHERE updated_at <= ? AND status IN (`

	// On-ramp queries
	onrampColumns = `id, user_id, side, asset, network, fiat, fiat_amount, crypto_amount, address,
		provider_order_id, tx_hash, status, created_at, updated_at`

	queryInsertOnramp = `
		INSERT INTO onramp_orders (` + onrampColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetOnramp = `
		SELECT ` + onrampColumns + `
		FROM onramp_orders
		WHERE id = ?`

	queryUpdateOnrampStatus = `
		UPDATE onramp_orders
		SET status = ?,
		    provider_order_id = CASE WHEN ? != '' THEN ? ELSE provider_order_id END,
		    tx_hash = CASE WHEN ? != '' THEN ? ELSE tx_hash END,
		    crypto_amount = CASE WHEN ? != '0' THEN ? ELSE crypto_amount END,
		    updated_at = ?
		WHERE id = ?`

	// Withdrawal queries
	withdrawalColumns = `id, user_id, asset, network, amount, destination, custody_withdrawal_id, tx_hash,
		status, failure_reason, created_at, updated_at`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (` + withdrawalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetWithdrawal = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE id = ?`

	queryUpdateWithdrawal = `
		UPDATE withdrawals
		SET status = ?, custody_withdrawal_id = ?, tx_hash = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	queryListWithdrawalsByUser = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryListWithdrawalsByStatus = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = ? AND updated_at <= ?
		ORDER BY updated_at
		LIMIT ?`

	// Device queries
	queryUpsertDevice = `
		INSERT INTO devices (id, user_id, token, platform)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id, platform = excluded.platform
		RETURNING id, user_id, token, platform, created_at`

	queryGetUserDevices = `
		SELECT id, user_id, token, platform, created_at
		FROM devices
		WHERE user_id = ?
		ORDER BY created_at`

	queryDeleteDevice = `
		DELETE FROM devices WHERE token = ?`

	// Webhook queries
	queryInsertWebhookEvent = `
		INSERT OR IGNORE INTO webhook_events (id, provider, event_id, event_type, payload)
		VALUES (?, ?, ?, ?, ?)`

	queryDeleteWebhookEvent = `DELETE FROM webhook_events WHERE provider = ? AND event_id = ?`
)
