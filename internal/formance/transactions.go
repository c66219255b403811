package formance

import (
	"context"
	"fmt"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Numscript templates. All metadata is set inside the script via
// set_tx_meta() so the Formance transaction is self-describing.

// numscriptCredit moves funds into a user account from a source that may
// overdraw: the custody wallet, the holds account or a platform account.
const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $source
  account $user
  string $transaction_type
  string $external_tx_id
  string $asset_symbol
  string $amount_human
  string $address
  string $reference
}

send [$asset $amount] (
  source = $source allowing unbounded overdraft
  destination = $user
)

set_tx_meta("transaction_type", $transaction_type)
set_tx_meta("external_tx_id", $external_tx_id)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("amount_human", $amount_human)
set_tx_meta("address", $address)
set_tx_meta("reference", $reference)
`

// numscriptDebit moves funds from a user account to the holds account. The
// user account cannot overdraw, so Formance rejects it with INSUFFICIENT_FUND.
const numscriptDebit = `vars {
  asset $asset
  number $amount
  account $user
  account $holds
  string $transaction_type
  string $asset_symbol
  string $amount_human
  string $address
  string $reference
}

send [$asset $amount] (
  source = $user
  destination = $holds
)

set_tx_meta("transaction_type", $transaction_type)
set_tx_meta("external_tx_id", $reference)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("amount_human", $amount_human)
set_tx_meta("address", $address)
set_tx_meta("reference", $reference)
`

// ProcessDeposit credits the owner of address from the custody wallet.
func (s *Service) ProcessDeposit(ctx context.Context, address, asset string, amount decimal.Decimal, externalTxId string) (*models.Transaction, error) {
	user, addr, err := s.addresses.FindUserByAddress(ctx, address)
	if err != nil {
		zap.L().Warn("Deposit to unknown address", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("error finding user by address: %w", err)
	}
	if user == nil || addr == nil {
		return nil, fmt.Errorf("error finding user by address: %w", store.ErrUserNotFound)
	}

	canonicalSymbol := addr.Asset
	if canonicalSymbol != asset {
		zap.L().Info("Using canonical symbol from address table",
			zap.String("address", address),
			zap.String("custodian_symbol", asset),
			zap.String("canonical_symbol", canonicalSymbol))
	}

	tx, err := s.credit(ctx, s.walletAccount(), store.CreditParams{
		UserId:          user.Id,
		Asset:           canonicalSymbol,
		Amount:          amount,
		TransactionType: models.TxTypeDeposit,
		ExternalTxId:    externalTxId,
		Address:         address,
	})
	if err != nil {
		return nil, fmt.Errorf("error processing deposit transaction: %w", err)
	}

	zap.L().Info("Deposit processed in Formance",
		zap.String("user_id", user.Id),
		zap.String("asset", canonicalSymbol),
		zap.String("network", addr.Network),
		zap.String("amount", amount.String()))
	return tx, nil
}

// CreditUser credits a user from a platform account named after the
// transaction type.
func (s *Service) CreditUser(ctx context.Context, params store.CreditParams) (*models.Transaction, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", params.Amount.String())
	}
	if params.TransactionType == "" {
		params.TransactionType = models.TxTypeDeposit
	}
	source := "platform:" + params.TransactionType
	if params.TransactionType == models.TxTypeDeposit {
		source = s.walletAccount()
	}
	return s.credit(ctx, source, params)
}

// DebitUser moves funds into the holds account keyed by reference, so the
// same hold can never be applied twice.
func (s *Service) DebitUser(ctx context.Context, params store.DebitParams) (*models.Transaction, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive, got %s", params.Amount.String())
	}
	if params.Reference == "" {
		return nil, fmt.Errorf("debit reference cannot be empty")
	}
	txType := params.TransactionType
	if txType == "" {
		txType = models.TxTypeWithdrawal
	}

	err := s.post(ctx, params.Reference, numscriptDebit, map[string]string{
		"asset":            formanceAsset(params.Asset),
		"amount":           smallestUnit(params.Amount, params.Asset),
		"user":             userAccount(params.UserId),
		"holds":            s.holdsAccount(),
		"transaction_type": txType,
		"asset_symbol":     params.Asset,
		"amount_human":     params.Amount.String(),
		"address":          params.Address,
		"reference":        params.Reference,
	})
	if err != nil {
		return nil, err
	}
	return s.result(ctx, params.UserId, params.Asset, txType, params.Amount.Neg(), params.Reference, params.Address, params.Reference), nil
}

// ReverseDebit returns a hold to the user.
func (s *Service) ReverseDebit(ctx context.Context, userId, asset string, amount decimal.Decimal, reference string) (*models.Transaction, error) {
	reversalTxId := reference + "-reversal"

	zap.L().Info("Reversing debit",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("original_ref", reference),
		zap.String("reversal_ref", reversalTxId))

	tx, err := s.credit(ctx, s.holdsAccount(), store.CreditParams{
		UserId:          userId,
		Asset:           asset,
		Amount:          amount.Abs(),
		TransactionType: models.TxTypeReversal,
		ExternalTxId:    reversalTxId,
		Reference:       reference,
	})
	if err != nil {
		return nil, fmt.Errorf("error reversing debit: %w", err)
	}
	return tx, nil
}

func (s *Service) credit(ctx context.Context, source string, params store.CreditParams) (*models.Transaction, error) {
	if params.ExternalTxId == "" {
		return nil, fmt.Errorf("credit requires an external transaction id")
	}
	err := s.post(ctx, params.ExternalTxId, numscriptCredit, map[string]string{
		"asset":            formanceAsset(params.Asset),
		"amount":           smallestUnit(params.Amount, params.Asset),
		"source":           source,
		"user":             userAccount(params.UserId),
		"transaction_type": params.TransactionType,
		"external_tx_id":   params.ExternalTxId,
		"asset_symbol":     params.Asset,
		"amount_human":     params.Amount.String(),
		"address":          params.Address,
		"reference":        params.Reference,
	})
	if err != nil {
		return nil, err
	}
	return s.result(ctx, params.UserId, params.Asset, params.TransactionType, params.Amount, params.ExternalTxId, params.Address, params.Reference), nil
}

// post creates a transaction under a unique Formance reference.
// Deposits are backdated to the custodian's transaction time and tagged with
// its identifiers.
func (s *Service) post(ctx context.Context, reference, script string, vars map[string]string) error {
	postTx := shared.V2PostTransaction{
		Reference: v3.Pointer(reference),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
	}
	if dc := models.GetDepositContext(ctx); dc != nil {
		postTx.Metadata = depositMetadata(dc)
		if !dc.TransactionTime.IsZero() {
			postTx.Timestamp = &dc.TransactionTime
		}
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	switch {
	case err == nil:
		return nil
	case isConflictError(err):
		return fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference)
	case isInsufficientFundsError(err):
		return fmt.Errorf("%w: %s", store.ErrInsufficientFunds, reference)
	default:
		return fmt.Errorf("formance transaction %s failed: %w", reference, err)
	}
}

func depositMetadata(dc *models.DepositContext) map[string]string {
	meta := map[string]string{"custodian": dc.Custodian}
	for k, v := range map[string]string{
		"custody_tx_id": dc.CustodyTxId,
		"tx_hash":       dc.TxHash,
		"network":       dc.Network,
		"wallet_id":     dc.WalletId,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}

// result builds the ledger record for a posted transaction. Formance keeps
// no running balance per posting, so the balance is read back.
func (s *Service) result(ctx context.Context, userId, asset, txType string, signed decimal.Decimal, externalTxId, address, reference string) *models.Transaction {
	now := time.Now().UTC()
	tx := &models.Transaction{
		Id:                    externalTxId,
		UserId:                userId,
		Asset:                 asset,
		TransactionType:       txType,
		Amount:                signed,
		ExternalTransactionId: externalTxId,
		Address:               address,
		Reference:             reference,
		Status:                models.TxStatusConfirmed,
		CreatedAt:             now,
		ProcessedAt:           now,
	}
	balance, err := s.GetUserBalance(ctx, userId, asset)
	if err != nil {
		zap.L().Warn("Posted transaction but could not read balance back",
			zap.String("user_id", userId),
			zap.String("reference", externalTxId),
			zap.Error(err))
		return tx
	}
	tx.BalanceAfter = balance
	tx.BalanceBefore = balance.Sub(signed)
	return tx
}

// GetTransactionHistory returns paginated transaction history for a user,
// optionally filtered by asset.
func (s *Service) GetTransactionHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.Transaction, error) {
	addr := userAccount(userId)
	pageSize := int64(limit + offset)

	match := []any{
		map[string]any{"$or": []any{
			map[string]any{"$match": map[string]any{"source": addr}},
			map[string]any{"$match": map[string]any{"destination": addr}},
		}},
	}
	if asset != "" {
		match = append(match, map[string]any{"$match": map[string]any{"metadata[asset_symbol]": asset}})
	}

	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:      s.ledger,
		PageSize:    &pageSize,
		RequestBody: map[string]any{"$and": match},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var result []models.Transaction
	skipped := 0
	for _, tx := range resp.V2TransactionsCursorResponse.Cursor.Data {
		if skipped < offset {
			skipped++
			continue
		}

		symbol := tx.Metadata["asset_symbol"]
		amt := decimal.Zero
		for _, p := range tx.Postings {
			pSymbol := assetSymbol(p.Asset)
			if symbol != "" && pSymbol != symbol {
				continue
			}
			symbol = pSymbol
			pAmt := bigIntToDecimal(p.Amount, pSymbol)
			if p.Source == addr {
				amt = amt.Sub(pAmt)
			} else if p.Destination == addr {
				amt = amt.Add(pAmt)
			}
		}

		id := tx.Metadata["external_tx_id"]
		if tx.Reference != nil {
			id = *tx.Reference
		}
		status := models.TxStatusConfirmed
		if tx.Reverted {
			status = models.TxStatusReversed
		}

		result = append(result, models.Transaction{
			Id:                    id,
			UserId:                userId,
			Asset:                 symbol,
			TransactionType:       tx.Metadata["transaction_type"],
			Amount:                amt,
			ExternalTransactionId: tx.Metadata["external_tx_id"],
			Address:               tx.Metadata["address"],
			Reference:             tx.Metadata["reference"],
			Status:                status,
			CreatedAt:             tx.Timestamp,
			ProcessedAt:           tx.Timestamp,
		})

		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// GetMostRecentTransactionTime returns the timestamp of the most recent transaction.
func (s *Service) GetMostRecentTransactionTime(ctx context.Context) (time.Time, error) {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get recent transaction: %w", err)
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return time.Time{}, nil
	}
	return resp.V2TransactionsCursorResponse.Cursor.Data[0].Timestamp, nil
}

// ReconcileUserBalance is a no-op: Formance balances are derived from
// postings and cannot drift.
func (s *Service) ReconcileUserBalance(ctx context.Context, userId, asset string) error {
	zap.L().Debug("Reconciliation is a no-op in Formance",
		zap.String("user_id", userId), zap.String("asset", asset))
	return nil
}
