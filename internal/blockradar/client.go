// Package blockradar implements custody.Custodian on the BlockRadar wallet API.
package blockradar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/security"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "https://api.blockradar.co/v1"
	SignatureHeader = "x-blockradar-signature"
	providerName    = "blockradar"
	pageSize        = 100
)

var _ custody.Custodian = (*Client)(nil)

type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	registry *custody.Registry
}

func NewClient(httpClient *http.Client, baseURL, apiKey string, registry *custody.Registry) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("blockradar api key cannot be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		registry: registry,
	}, nil
}

func (c *Client) Name() string { return providerName }

func (c *Client) SignatureHeader() string { return SignatureHeader }

type envelope[T any] struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       T      `json:"data"`
	Meta       *struct {
		CurrentPage int `json:"currentPage"`
		TotalPages  int `json:"totalPages"`
	} `json:"meta,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return httpclient.DoJSON(ctx, c.http, httpclient.Request{
		Provider: providerName,
		Method:   method,
		URL:      c.baseURL + path,
		Headers:  map[string]string{"x-api-key": c.apiKey},
		Body:     body,
	}, out)
}

type addressData struct {
	Id         string `json:"id"`
	Address    string `json:"address"`
	Name       string `json:"name"`
	Network    string `json:"network"`
	PrivateKey string `json:"privateKey,omitempty"`
}

func (c *Client) CreateDepositAddress(ctx context.Context, userID, asset, network string) (*models.DepositAddress, error) {
	entry, err := c.registry.Lookup(asset, network)
	if err != nil {
		return nil, err
	}

	request := map[string]any{
		"name":     "user-" + userID,
		"metadata": map[string]string{"userId": userID, "asset": entry.Symbol},
	}

	var resp envelope[addressData]
	if err := c.do(ctx, http.MethodPost, "/wallets/"+url.PathEscape(entry.WalletId)+"/addresses", request, &resp); err != nil {
		return nil, fmt.Errorf("unable to create blockradar address: %w", err)
	}
	if resp.Data.Address == "" {
		return nil, fmt.Errorf("blockradar returned no address: %s", resp.Message)
	}

	zap.L().Info("BlockRadar address created",
		zap.String("user_id", userID),
		zap.String("asset", entry.Symbol),
		zap.String("network", entry.Network),
		zap.String("address_id", resp.Data.Id))

	return &models.DepositAddress{
		Id:          resp.Data.Id,
		WalletId:    entry.WalletId,
		Address:     resp.Data.Address,
		Network:     entry.Network,
		Asset:       entry.Symbol,
		KeyMaterial: resp.Data.PrivateKey,
	}, nil
}

type withdrawData struct {
	Id        string `json:"id"`
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

func (c *Client) Withdraw(ctx context.Context, req models.WithdrawalRequest) (*models.Withdrawal, error) {
	entry, err := c.registry.Lookup(req.Asset, req.Network)
	if err != nil {
		return nil, err
	}

	request := map[string]any{
		"address":   req.DestinationAddress,
		"amount":    req.Amount.String(),
		"assetId":   entry.AssetId,
		"reference": req.Reference,
		"metadata":  req.Metadata,
	}

	zap.L().Info("Creating withdrawal via BlockRadar",
		zap.String("wallet_id", entry.WalletId),
		zap.String("asset", entry.Symbol),
		zap.String("network", entry.Network),
		zap.String("amount", req.Amount.String()),
		zap.String("destination", req.DestinationAddress),
		zap.String("reference", req.Reference))

	var resp envelope[withdrawData]
	if err := c.do(ctx, http.MethodPost, "/wallets/"+url.PathEscape(entry.WalletId)+"/withdraw", request, &resp); err != nil {
		return nil, fmt.Errorf("unable to create blockradar withdrawal: %w", err)
	}

	return &models.Withdrawal{
		Id:          resp.Data.Id,
		Asset:       entry.Symbol,
		Network:     entry.Network,
		Amount:      req.Amount,
		Destination: req.DestinationAddress,
		Reference:   req.Reference,
		TxHash:      resp.Data.Hash,
		Status:      normalizeStatus(resp.Data.Status),
	}, nil
}

type balanceData struct {
	Balance string `json:"balance"`
}

func (c *Client) GetBalance(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	entry, err := c.registry.Lookup(asset, network)
	if err != nil {
		return decimal.Zero, err
	}

	path := "/wallets/" + url.PathEscape(entry.WalletId) + "/balance?assetId=" + url.QueryEscape(entry.AssetId)
	var resp envelope[balanceData]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("unable to get blockradar balance: %w", err)
	}

	balance, err := decimal.NewFromString(resp.Data.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse blockradar balance %q: %w", resp.Data.Balance, err)
	}
	return balance, nil
}

type transactionData struct {
	Id               string    `json:"id"`
	Reference        string    `json:"reference"`
	SenderAddress    string    `json:"senderAddress"`
	RecipientAddress string    `json:"recipientAddress"`
	Amount           string    `json:"amount"`
	Hash             string    `json:"hash"`
	Status           string    `json:"status"`
	Type             string    `json:"type"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Asset            struct {
		Id     string `json:"id"`
		Symbol string `json:"symbol"`
	} `json:"asset"`
	Blockchain struct {
		Slug string `json:"slug"`
	} `json:"blockchain"`
	Wallet struct {
		Id string `json:"id"`
	} `json:"wallet"`
}

// ListTransactions pages through every configured master wallet, newest first,
// and stops once it passes since.
func (c *Client) ListTransactions(ctx context.Context, since time.Time) ([]models.CustodyTransaction, error) {
	var result []models.CustodyTransaction
	for _, walletId := range c.walletIds() {
		for page := 1; ; page++ {
			path := fmt.Sprintf("/wallets/%s/transactions?page=%d&limit=%d", url.PathEscape(walletId), page, pageSize)
			var resp envelope[[]transactionData]
			if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
				return nil, fmt.Errorf("unable to list blockradar transactions: %w", err)
			}

			reachedEnd := len(resp.Data) < pageSize
			for _, data := range resp.Data {
				if data.CreatedAt.Before(since) {
					reachedEnd = true
					continue
				}
				tx, err := c.toCustodyTransaction(data)
				if err != nil {
					zap.L().Warn("Skipping unparseable BlockRadar transaction", zap.String("id", data.Id), zap.Error(err))
					continue
				}
				tx.WalletId = walletId
				result = append(result, tx)
			}

			if resp.Meta != nil && resp.Meta.CurrentPage >= resp.Meta.TotalPages {
				reachedEnd = true
			}
			if reachedEnd {
				break
			}
		}
	}

	zap.L().Debug("BlockRadar transactions fetched", zap.Int("count", len(result)), zap.Time("since", since))
	return result, nil
}

func (c *Client) walletIds() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, asset := range c.registry.All() {
		if asset.WalletId == "" {
			continue
		}
		if _, ok := seen[asset.WalletId]; ok {
			continue
		}
		seen[asset.WalletId] = struct{}{}
		ids = append(ids, asset.WalletId)
	}
	return ids
}

func (c *Client) toCustodyTransaction(data transactionData) (models.CustodyTransaction, error) {
	amount, err := decimal.NewFromString(data.Amount)
	if err != nil {
		return models.CustodyTransaction{}, fmt.Errorf("failed to parse amount %q: %w", data.Amount, err)
	}

	symbol, network := data.Asset.Symbol, data.Blockchain.Slug
	if entry, ok := c.registry.FindByAssetId(data.Asset.Id); ok {
		symbol, network = entry.Symbol, entry.Network
	}

	tx := models.CustodyTransaction{
		Id:        data.Id,
		WalletId:  data.Wallet.Id,
		Status:    normalizeStatus(data.Status),
		Asset:     strings.ToUpper(symbol),
		Network:   strings.ToLower(network),
		Amount:    amount,
		Reference: data.Reference,
		TxHash:    data.Hash,
		CreatedAt: data.CreatedAt,
	}

	switch strings.ToUpper(data.Type) {
	case "DEPOSIT":
		tx.Type = models.CustodyTxDeposit
		tx.Address = data.RecipientAddress
	case "WITHDRAW", "WITHDRAWAL":
		tx.Type = models.CustodyTxWithdrawal
		tx.Address = data.RecipientAddress
	default:
		tx.Type = strings.ToUpper(data.Type)
	}

	if tx.Status == models.CustodyStatusSuccess {
		tx.CompletedAt = data.UpdatedAt
	}
	return tx, nil
}

func normalizeStatus(status string) string {
	switch strings.ToUpper(status) {
	case "SUCCESS", "CONFIRMED", "COMPLETED":
		return models.CustodyStatusSuccess
	case "FAILED", "CANCELLED", "REJECTED":
		return models.CustodyStatusFailed
	default:
		return models.CustodyStatusPending
	}
}

// VerifyWebhook checks the HMAC-SHA512 of the raw body, keyed by the API key.
func (c *Client) VerifyWebhook(body []byte, signature string) error {
	if !security.VerifyHMACSHA512Hex(c.apiKey, body, signature) {
		return custody.ErrInvalidSignature
	}
	return nil
}

type webhookPayload struct {
	Event string          `json:"event"`
	Data  transactionData `json:"data"`
}

func (c *Client) ParseWebhook(body []byte) (*models.CustodyEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unable to decode blockradar webhook: %w", err)
	}
	if payload.Event == "" || payload.Data.Id == "" {
		return nil, fmt.Errorf("blockradar webhook missing event or transaction id")
	}

	tx, err := c.toCustodyTransaction(payload.Data)
	if err != nil {
		return nil, err
	}

	return &models.CustodyEvent{
		Id:          payload.Event + ":" + payload.Data.Id,
		Type:        payload.Event,
		Transaction: tx,
	}, nil
}

// Ping is a cheap authenticated call used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	ids := c.walletIds()
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodGet, "/wallets/"+url.PathEscape(ids[0]), nil, nil)
}
