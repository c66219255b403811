package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"custodial-wallet-go/internal/metrics"
	"custodial-wallet-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended"`
}

func (s *LedgerService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.GetUsers(ctx)
}

func (s *LedgerService) SetRole(ctx context.Context, userId string, req RoleRequest) error {
	if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, req.Role)
	}
	if err := s.store.UpdateUserRole(ctx, userId, req.Role); err != nil {
		return err
	}
	zap.L().Info("User role changed", zap.String("user_id", userId), zap.String("role", req.Role))
	return nil
}

func (s *LedgerService) SetStatus(ctx context.Context, userId string, req StatusRequest) error {
	if req.Status != models.UserStatusActive && req.Status != models.UserStatusSuspended {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, req.Status)
	}
	if err := s.store.UpdateUserStatus(ctx, userId, req.Status); err != nil {
		return err
	}
	zap.L().Info("User status changed", zap.String("user_id", userId), zap.String("status", req.Status))
	return nil
}

// AdminListOfframps lists orders in one status, or every non-terminal order
// when status is empty.
func (s *LedgerService) AdminListOfframps(ctx context.Context, status string, limit int) ([]models.OfframpOrder, error) {
	limit, _ = clampPage(limit, 0)

	statuses := append([]models.OfframpStatus{}, PendingOfframpStatuses...)
	statuses = append(statuses, models.OfframpCryptoSent)
	if status != "" {
		wanted := models.OfframpStatus(strings.ToUpper(status))
		if !knownOfframpStatus(wanted) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
		statuses = []models.OfframpStatus{wanted}
	}
	return s.store.ListOfframpsByStatus(ctx, statuses, time.Now().UTC().Add(time.Minute), limit)
}

func knownOfframpStatus(status models.OfframpStatus) bool {
	switch status {
	case models.OfframpCreated, models.OfframpQuoted, models.OfframpBankVerified,
		models.OfframpOrderCreated, models.OfframpFundsHeld, models.OfframpCryptoSent,
		models.OfframpSettled, models.OfframpRefunded, models.OfframpExpired, models.OfframpFailed:
		return true
	}
	return false
}

// RetryOfframp pushes an order forward on operator request: pending orders
// resume, sent orders are refreshed from the provider.
func (s *LedgerService) RetryOfframp(ctx context.Context, id string) (*models.OfframpOrder, error) {
	order, err := s.store.GetOfframp(ctx, id)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Operator retrying off-ramp", zap.String("order_id", id), zap.String("status", string(order.Status)))

	switch {
	case order.Status.IsTerminal():
		return order, fmt.Errorf("%w: order is %s", ErrValidation, order.Status)
	case order.Status == models.OfframpCryptoSent:
		return s.RefreshOfframpStatus(ctx, id)
	default:
		return s.ResumeOfframp(ctx, id)
	}
}

// ReconcileUser rebuilds each of the user's balances from the journal.
func (s *LedgerService) ReconcileUser(ctx context.Context, userId string) ([]models.UserBalance, error) {
	if _, err := s.store.GetUserById(ctx, userId); err != nil {
		return nil, err
	}
	balances, err := s.ledger.GetAllUserBalances(ctx, userId)
	if err != nil {
		return nil, err
	}

	result := make([]models.UserBalance, 0, len(balances))
	for _, balance := range balances {
		if err := s.ledger.ReconcileUserBalance(ctx, userId, balance.Asset); err != nil {
			zap.L().Error("Balance reconciliation failed",
				zap.String("user_id", userId),
				zap.String("asset", balance.Asset),
				zap.Error(err))
			return nil, err
		}
		current, err := s.ledger.GetUserBalance(ctx, userId, balance.Asset)
		if err != nil {
			return nil, err
		}
		result = append(result, models.UserBalance{Asset: balance.Asset, Balance: current})
	}
	return result, nil
}

// ReconcileCustody compares what the ledger owes users with what the
// custodian holds, per asset across all of its networks.
func (s *LedgerService) ReconcileCustody(ctx context.Context) ([]models.ReconciliationReport, error) {
	totals, err := s.ledger.GetAssetTotals(ctx)
	if err != nil {
		return nil, err
	}
	owed := make(map[string]decimal.Decimal, len(totals))
	for _, t := range totals {
		owed[t.Asset] = t.Total
	}

	bySymbol := make(map[string][]string)
	for _, entry := range s.registry.All() {
		bySymbol[entry.Symbol] = append(bySymbol[entry.Symbol], entry.Network)
	}
	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	reports := make([]models.ReconciliationReport, 0, len(symbols))
	for _, symbol := range symbols {
		networks := bySymbol[symbol]
		report := models.ReconciliationReport{
			Asset:       symbol,
			Network:     strings.Join(networks, ","),
			LedgerTotal: owed[symbol],
		}

		held := decimal.Zero
		for _, network := range networks {
			var balance decimal.Decimal
			err := s.call(ctx, "custody.balance", func(ctx context.Context) error {
				var callErr error
				balance, callErr = s.custodian.GetBalance(ctx, symbol, network)
				return callErr
			})
			if err != nil {
				report.Error = fmt.Sprintf("%s: %v", network, err)
				break
			}
			held = held.Add(balance)
		}

		if report.Error == "" {
			report.CustodianBalance = held
			report.Difference = held.Sub(report.LedgerTotal)
			report.Matched = report.Difference.IsZero()
			if !report.Matched {
				metrics.ReconciliationMismatch()
				zap.L().Warn("Custody balance mismatch",
					zap.String("asset", symbol),
					zap.String("ledger_total", report.LedgerTotal.String()),
					zap.String("custodian_balance", held.String()),
					zap.String("difference", report.Difference.String()))
			}
		} else {
			zap.L().Error("Custody reconciliation incomplete", zap.String("asset", symbol), zap.String("error", report.Error))
		}
		reports = append(reports, report)
	}
	return reports, nil
}
