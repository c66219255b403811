// Package formance implements store.Ledger on a Formance Stack ledger.
// Users, addresses and orders stay in the relational store; only balances
// and their journal live in Formance.
package formance

import (
	"context"
	"errors"
	"fmt"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

var _ store.Ledger = (*Service)(nil)

// assetPrecision maps canonical asset symbols to their decimal precision.
var assetPrecision = map[string]int{
	"USD":  2,
	"NGN":  2,
	"USDC": 6,
	"USDT": 6,
	"BTC":  8,
	"ETH":  18,
	"SOL":  9,
}

// AddressLookup resolves the owner of a deposit address.
type AddressLookup interface {
	FindUserByAddress(ctx context.Context, address string) (*models.User, *models.Address, error)
}

// Service implements store.Ledger backed by a Formance Stack ledger.
//
// Accounts:
//
//	users:<id>                     user balances
//	custody:<custodian>:wallet     custodial omnibus wallet, may overdraw
//	custody:<custodian>:holds      funds debited for pending withdrawals and off-ramps
//	platform:<type>                source of manual credits and adjustments
type Service struct {
	client    *v3.Formance
	ledger    string
	custodian string
	addresses AddressLookup
}

// NewService connects to the stack and creates the ledger if it does not
// already exist.
func NewService(ctx context.Context, cfg models.LedgerConfig, custodian string, addresses AddressLookup) (*Service, error) {
	if cfg.FormanceURL == "" || cfg.FormanceClientId == "" || cfg.FormanceSecret == "" {
		return nil, fmt.Errorf("formance ledger requires FORMANCE_URL, FORMANCE_CLIENT_ID and FORMANCE_CLIENT_SECRET")
	}
	if addresses == nil {
		return nil, fmt.Errorf("formance ledger requires an address lookup")
	}
	if cfg.FormanceLedgerName == "" {
		cfg.FormanceLedgerName = "custodial-wallet"
	}
	if custodian == "" {
		custodian = "default"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.FormanceURL),
		zap.String("ledger", cfg.FormanceLedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.FormanceURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.FormanceClientId),
			ClientSecret: v3.Pointer(cfg.FormanceSecret),
		}),
	)

	svc := &Service{
		client:    client,
		ledger:    cfg.FormanceLedgerName,
		custodian: custodian,
		addresses: addresses,
	}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance ledger initialized", zap.String("ledger", cfg.FormanceLedgerName))
	return svc, nil
}

func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "custodial-wallet",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// Close is a no-op; the HTTP client needs no teardown.
func (s *Service) Close() {}

func (s *Service) walletAccount() string { return "custody:" + s.custodian + ":wallet" }

func (s *Service) holdsAccount() string { return "custody:" + s.custodian + ":holds" }

func userAccount(userId string) string { return "users:" + userId }

// formanceAsset returns the Formance UMN notation, e.g. "USDC/6".
func formanceAsset(symbol string) string {
	return fmt.Sprintf("%s/%d", symbol, precisionFor(symbol))
}

func precisionFor(symbol string) int {
	if p, ok := assetPrecision[symbol]; ok {
		return p
	}
	return 6
}

func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func isInsufficientFundsError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

func isNotFoundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound
}
