package prime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/balances"
	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	providerName         = "prime"
	defaultPortfolioName = "Default Portfolio"
	walletTypeTrading    = "TRADING"
)

var _ custody.Custodian = (*Service)(nil)

// Service is a custodian backed by Coinbase Prime trading wallets. Prime has
// no webhooks, so deposits are discovered by polling ListTransactions.
type Service struct {
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService
	balancesSvc     balances.BalancesService
	registry        *custody.Registry

	portfolioId string

	mu      sync.Mutex
	wallets map[string]string // symbol -> wallet id
}

// NewService connects to Prime and resolves the portfolio. portfolio may be a
// portfolio id or name; empty selects the default portfolio.
func NewService(ctx context.Context, creds *credentials.Credentials, httpClient *http.Client, portfolio string, registry *custody.Registry) (*Service, error) {
	if creds == nil {
		return nil, fmt.Errorf("prime credentials cannot be nil")
	}

	restClient := client.NewRestClient(creds, *httpClient)
	s := &Service{
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		balancesSvc:     balances.NewBalancesService(restClient),
		registry:        registry,
		wallets:         make(map[string]string),
	}

	portfolioId, err := s.resolvePortfolio(ctx, portfolio)
	if err != nil {
		return nil, err
	}
	s.portfolioId = portfolioId

	zap.L().Info("Prime custodian ready", zap.String("portfolio_id", portfolioId))
	return s, nil
}

func (s *Service) Name() string { return providerName }

func (s *Service) SignatureHeader() string { return "" }

func (s *Service) resolvePortfolio(ctx context.Context, portfolio string) (string, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", fmt.Errorf("unable to list portfolios: %w", err)
	}

	want := portfolio
	if want == "" {
		want = defaultPortfolioName
	}
	for _, p := range response.Portfolios {
		if p.Id == want || p.Name == want {
			return p.Id, nil
		}
	}
	return "", fmt.Errorf("portfolio %q not found", want)
}

// tradingWallet returns the portfolio's trading wallet for symbol, caching the lookup.
func (s *Service) tradingWallet(ctx context.Context, symbol string) (string, error) {
	s.mu.Lock()
	walletId, ok := s.wallets[symbol]
	s.mu.Unlock()
	if ok {
		return walletId, nil
	}

	response, err := s.walletsSvc.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: s.portfolioId,
		Type:        walletTypeTrading,
		Symbols:     []string{symbol},
	})
	if err != nil {
		return "", fmt.Errorf("unable to list wallets: %w", err)
	}
	if len(response.Wallets) == 0 {
		return "", fmt.Errorf("no %s trading wallet in portfolio %s", symbol, s.portfolioId)
	}

	walletId = response.Wallets[0].Id
	s.mu.Lock()
	s.wallets[symbol] = walletId
	s.mu.Unlock()
	return walletId, nil
}

func (s *Service) CreateDepositAddress(ctx context.Context, userID, asset, network string) (*models.DepositAddress, error) {
	entry, err := s.registry.Lookup(asset, network)
	if err != nil {
		return nil, err
	}
	walletId, err := s.tradingWallet(ctx, entry.Symbol)
	if err != nil {
		return nil, err
	}

	response, err := s.walletsSvc.CreateWalletAddress(ctx, &wallets.CreateWalletAddressRequest{
		PortfolioId: s.portfolioId,
		WalletId:    walletId,
		NetworkId:   entry.PrimeNetworkId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create wallet address: %w", err)
	}

	zap.L().Info("Prime deposit address created",
		zap.String("user_id", userID),
		zap.String("asset", entry.Symbol),
		zap.String("network", entry.Network),
		zap.String("wallet_id", walletId))

	return &models.DepositAddress{
		Id:       response.AccountIdentifier,
		WalletId: walletId,
		Address:  response.Address,
		Network:  entry.Network,
		Asset:    entry.Symbol,
	}, nil
}

// idempotencyKey maps a reference onto the UUID Prime requires, stable across retries.
func idempotencyKey(reference string) string {
	if _, err := uuid.Parse(reference); err == nil {
		return reference
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(reference)).String()
}

func (s *Service) Withdraw(ctx context.Context, req models.WithdrawalRequest) (*models.Withdrawal, error) {
	entry, err := s.registry.Lookup(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}
	if req.Reference == "" {
		return nil, fmt.Errorf("withdrawal reference cannot be empty")
	}
	walletId, err := s.tradingWallet(ctx, entry.Symbol)
	if err != nil {
		return nil, err
	}

	request := &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:     s.portfolioId,
		SourceWalletId:  walletId,
		Amount:          req.Amount.String(),
		IdempotencyKey:  idempotencyKey(req.Reference),
		Symbol:          entry.Symbol,
		DestinationType: "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: &model.BlockchainAddress{
			Address: req.DestinationAddress,
			Network: &model.NetworkDetails{
				Id:   entry.PrimeNetworkId,
				Type: entry.PrimeNetworkType,
			},
		},
	}

	zap.L().Info("Creating withdrawal via Prime API",
		zap.String("wallet_id", walletId),
		zap.String("asset", entry.Symbol),
		zap.String("network", entry.Network),
		zap.String("amount", request.Amount),
		zap.String("reference", req.Reference))

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", walletId),
			zap.String("reference", req.Reference),
			zap.Error(err))
		return nil, fmt.Errorf("unable to create withdrawal: %w", err)
	}

	return &models.Withdrawal{
		Id:          response.ActivityId,
		Asset:       entry.Symbol,
		Network:     entry.Network,
		Amount:      req.Amount,
		Destination: req.DestinationAddress,
		Reference:   req.Reference,
		Status:      models.CustodyStatusPending,
	}, nil
}

func (s *Service) GetBalance(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	entry, err := s.registry.Lookup(asset, network)
	if err != nil {
		return decimal.Zero, err
	}
	walletId, err := s.tradingWallet(ctx, entry.Symbol)
	if err != nil {
		return decimal.Zero, err
	}

	response, err := s.balancesSvc.GetWalletBalance(ctx, &balances.GetWalletBalanceRequest{
		PortfolioId: s.portfolioId,
		Id:          walletId,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to get wallet balance: %w", err)
	}
	if response.Balance == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(response.Balance.Amount)
}

// ListTransactions returns deposits and withdrawals on every configured
// symbol's trading wallet since the given time.
func (s *Service) ListTransactions(ctx context.Context, since time.Time) ([]models.CustodyTransaction, error) {
	var result []models.CustodyTransaction
	for _, symbol := range s.registry.Symbols() {
		walletId, err := s.tradingWallet(ctx, symbol)
		if err != nil {
			zap.L().Warn("Skipping symbol without trading wallet", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		response, err := s.transactionsSvc.ListWalletTransactions(ctx, &transactions.ListWalletTransactionsRequest{
			PortfolioId: s.portfolioId,
			WalletId:    walletId,
			Start:       since,
			Types:       []string{"DEPOSIT", "WITHDRAWAL"},
			Pagination: &model.PaginationParams{
				Limit: 500,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
		}

		zap.L().Debug("Prime API response received",
			zap.String("wallet_id", walletId),
			zap.Int("count", len(response.Transactions)))

		for _, tx := range response.Transactions {
			converted, err := s.toCustodyTransaction(tx)
			if err != nil {
				zap.L().Warn("Skipping unparseable Prime transaction", zap.String("transaction_id", tx.Id), zap.Error(err))
				continue
			}
			result = append(result, converted)
		}
	}
	return result, nil
}

func (s *Service) toCustodyTransaction(tx *model.Transaction) (models.CustodyTransaction, error) {
	amount, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return models.CustodyTransaction{}, fmt.Errorf("invalid amount %q: %w", tx.Amount, err)
	}

	ct := models.CustodyTransaction{
		Id:          tx.Id,
		WalletId:    tx.WalletId,
		Status:      normalizeStatus(tx.Status),
		Asset:       strings.ToUpper(tx.Symbol),
		Network:     s.networkFor(tx.Symbol, tx.Network),
		Amount:      amount.Abs(),
		Reference:   tx.IdempotencyKey,
		CreatedAt:   tx.Created,
		CompletedAt: tx.Completed,
	}
	if len(tx.BlockchainIds) > 0 {
		ct.TxHash = tx.BlockchainIds[0]
	}

	switch tx.Type {
	case "DEPOSIT":
		ct.Type = models.CustodyTxDeposit
		if tx.TransferTo != nil {
			ct.Address = tx.TransferTo.AccountIdentifier
			if ct.Address == "" {
				ct.Address = tx.TransferTo.Address
			}
		}
	case "WITHDRAWAL":
		ct.Type = models.CustodyTxWithdrawal
		if tx.TransferTo != nil {
			ct.Address = tx.TransferTo.Address
		}
	default:
		return models.CustodyTransaction{}, fmt.Errorf("unexpected transaction type %q", tx.Type)
	}
	return ct, nil
}

// networkFor maps a Prime network id back onto the registry's network name.
func (s *Service) networkFor(symbol, primeNetwork string) string {
	var fallback string
	for _, asset := range s.registry.All() {
		if asset.Symbol != strings.ToUpper(symbol) {
			continue
		}
		if primeNetwork != "" && strings.HasPrefix(primeNetwork, asset.PrimeNetworkId) {
			return asset.Network
		}
		if fallback == "" {
			fallback = asset.Network
		}
	}
	return fallback
}

func normalizeStatus(status string) string {
	switch status {
	case "TRANSACTION_IMPORTED", "TRANSACTION_DONE":
		return models.CustodyStatusSuccess
	case "TRANSACTION_FAILED", "TRANSACTION_CANCELLED", "TRANSACTION_REJECTED", "TRANSACTION_EXPIRED":
		return models.CustodyStatusFailed
	default:
		return models.CustodyStatusPending
	}
}

func (s *Service) VerifyWebhook([]byte, string) error {
	return custody.ErrWebhooksUnsupported
}

func (s *Service) ParseWebhook([]byte) (*models.CustodyEvent, error) {
	return nil, custody.ErrWebhooksUnsupported
}
