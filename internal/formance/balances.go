package formance

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const accountsPageSize = int64(100)

// GetUserBalance returns the current balance for a user and asset.
func (s *Service) GetUserBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	acct, err := s.getAccount(ctx, userAccount(userId))
	if err != nil {
		return decimal.Zero, err
	}
	if acct == nil {
		return decimal.Zero, nil
	}
	if bal := volumeBalance(acct.Volumes, formanceAsset(asset)); bal != nil {
		return bigIntToDecimal(bal, asset), nil
	}
	return decimal.Zero, nil
}

// GetAllUserBalances returns all non-zero balances for a user.
func (s *Service) GetAllUserBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	addr := userAccount(userId)
	acct, err := s.getAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, nil
	}

	updatedAt := time.Now().UTC()
	if acct.UpdatedAt != nil {
		updatedAt = *acct.UpdatedAt
	}

	var balances []models.AccountBalance
	for fAsset := range acct.Volumes {
		bal := volumeBalance(acct.Volumes, fAsset)
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		symbol := assetSymbol(fAsset)
		balances = append(balances, models.AccountBalance{
			Id:        addr,
			UserId:    userId,
			Asset:     symbol,
			Balance:   bigIntToDecimal(bal, symbol),
			UpdatedAt: updatedAt,
		})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Asset < balances[j].Asset })
	return balances, nil
}

// GetAssetTotals sums every users: account per asset.
func (s *Service) GetAssetTotals(ctx context.Context) ([]store.AssetTotal, error) {
	totals := make(map[string]*big.Int)

	var cursor *string
	for {
		resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
			Ledger:   s.ledger,
			PageSize: v3.Pointer(accountsPageSize),
			Cursor:   cursor,
			Expand:   v3.Pointer("volumes"),
			RequestBody: map[string]any{
				"$match": map[string]any{"address": "users:"},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list user accounts: %w", err)
		}

		page := resp.V2AccountsCursorResponse.Cursor
		for _, acct := range page.Data {
			if !strings.HasPrefix(acct.Address, "users:") {
				continue
			}
			for fAsset := range acct.Volumes {
				bal := volumeBalance(acct.Volumes, fAsset)
				if bal == nil {
					continue
				}
				if totals[fAsset] == nil {
					totals[fAsset] = new(big.Int)
				}
				totals[fAsset].Add(totals[fAsset], bal)
			}
		}

		if !page.HasMore || page.Next == nil {
			break
		}
		cursor = page.Next
	}

	result := make([]store.AssetTotal, 0, len(totals))
	for fAsset, total := range totals {
		symbol := assetSymbol(fAsset)
		result = append(result, store.AssetTotal{Asset: symbol, Total: bigIntToDecimal(total, symbol)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result, nil
}

// getAccount returns nil without error for accounts that were never used.
func (s *Service) getAccount(ctx context.Context, address string) (*shared.V2Account, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		zap.L().Warn("Failed to get account", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return &resp.V2AccountResponse.Data, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, symbol string) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precisionFor(symbol)))
}

// smallestUnit converts a decimal amount to the integer string Numscript expects.
func smallestUnit(amount decimal.Decimal, symbol string) string {
	return amount.Shift(int32(precisionFor(symbol))).BigInt().String()
}

// assetSymbol extracts the symbol from a Formance asset like "USDC/6".
func assetSymbol(fAsset string) string {
	if i := strings.IndexByte(fAsset, '/'); i >= 0 {
		return fAsset[:i]
	}
	return fAsset
}
