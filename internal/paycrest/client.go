// Package paycrest is the client for the Paycrest off-ramp API: rates,
// institutions, account verification and sender payment orders.
package paycrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/security"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "https://api.paycrest.io/v1"
	SignatureHeader = "X-Paycrest-Signature"
	providerName    = "paycrest"
)

// Order statuses reported by GetOrder and webhooks.
const (
	StatusInitiated = "initiated"
	StatusPending   = "pending"
	StatusValidated = "validated"
	StatusSettled   = "settled"
	StatusRefunded  = "refunded"
	StatusExpired   = "expired"
)

var ErrInvalidSignature = errors.New("invalid paycrest signature")

type Client struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	clientSecret string
}

func NewClient(httpClient *http.Client, baseURL, apiKey, clientSecret string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("paycrest api key cannot be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		clientSecret: clientSecret,
	}, nil
}

type response[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return httpclient.DoJSON(ctx, c.http, httpclient.Request{
		Provider: providerName,
		Method:   method,
		URL:      c.baseURL + path,
		Headers:  map[string]string{"API-Key": c.apiKey},
		Body:     body,
	}, out)
}

// GetRate returns the fiat amount one unit of token buys for an order of amount.
func (c *Client) GetRate(ctx context.Context, token string, amount decimal.Decimal, fiat, network string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/rates/%s/%s/%s", url.PathEscape(strings.ToUpper(token)), amount.String(), url.PathEscape(strings.ToUpper(fiat)))
	if network != "" {
		path += "?network=" + url.QueryEscape(network)
	}

	var resp response[string]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("unable to get paycrest rate: %w", err)
	}

	rate, err := decimal.NewFromString(resp.Data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse paycrest rate %q: %w", resp.Data, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("paycrest returned non-positive rate %s", rate)
	}
	return rate, nil
}

type Institution struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
}

func (c *Client) ListInstitutions(ctx context.Context, currency string) ([]Institution, error) {
	var resp response[[]Institution]
	if err := c.do(ctx, http.MethodGet, "/institutions/"+url.PathEscape(strings.ToUpper(currency)), nil, &resp); err != nil {
		return nil, fmt.Errorf("unable to list paycrest institutions: %w", err)
	}
	return resp.Data, nil
}

// VerifyAccount returns the account holder name Paycrest resolves for the account.
func (c *Client) VerifyAccount(ctx context.Context, institution, accountIdentifier string) (string, error) {
	request := map[string]string{
		"institution":       institution,
		"accountIdentifier": accountIdentifier,
	}

	var resp response[string]
	if err := c.do(ctx, http.MethodPost, "/verify-account", request, &resp); err != nil {
		return "", fmt.Errorf("unable to verify account with paycrest: %w", err)
	}
	return resp.Data, nil
}

type Recipient struct {
	Institution       string `json:"institution"`
	AccountIdentifier string `json:"accountIdentifier"`
	AccountName       string `json:"accountName"`
	Memo              string `json:"memo"`
}

type OrderRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Token         string          `json:"token"`
	Network       string          `json:"network"`
	Rate          decimal.Decimal `json:"rate"`
	Recipient     Recipient       `json:"recipient"`
	Reference     string          `json:"reference"`
	ReturnAddress string          `json:"returnAddress"`
}

// Order is a Paycrest sender payment order. The sender funds it by sending
// Amount plus fees of Token to ReceiveAddress before ValidUntil.
type Order struct {
	Id             string          `json:"id"`
	Amount         decimal.Decimal `json:"amount"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	AmountReturned decimal.Decimal `json:"amountReturned"`
	Token          string          `json:"token"`
	Network        string          `json:"network"`
	Rate           decimal.Decimal `json:"rate"`
	SenderFee      decimal.Decimal `json:"senderFee"`
	TransactionFee decimal.Decimal `json:"transactionFee"`
	ReceiveAddress string          `json:"receiveAddress"`
	ReturnAddress  string          `json:"returnAddress"`
	Reference      string          `json:"reference"`
	TxHash         string          `json:"txHash"`
	Status         string          `json:"status"`
	ValidUntil     time.Time       `json:"validUntil"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TotalDue is the token amount the sender must transfer to fund the order.
func (o *Order) TotalDue() decimal.Decimal {
	return o.Amount.Add(o.SenderFee).Add(o.TransactionFee)
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	zap.L().Info("Creating Paycrest order",
		zap.String("reference", req.Reference),
		zap.String("token", req.Token),
		zap.String("network", req.Network),
		zap.String("amount", req.Amount.String()),
		zap.String("institution", req.Recipient.Institution))

	var resp response[Order]
	if err := c.do(ctx, http.MethodPost, "/sender/orders", req, &resp); err != nil {
		return nil, fmt.Errorf("unable to create paycrest order: %w", err)
	}
	if resp.Data.Id == "" || resp.Data.ReceiveAddress == "" {
		return nil, fmt.Errorf("paycrest order response incomplete: %s", resp.Message)
	}
	return &resp.Data, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var resp response[Order]
	if err := c.do(ctx, http.MethodGet, "/sender/orders/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("unable to get paycrest order: %w", err)
	}
	return &resp.Data, nil
}

// Event is a parsed payment_order webhook.
type Event struct {
	Name  string
	Order Order
}

// Status is the order status the event reports, e.g. "settled" for payment_order.settled.
func (e *Event) Status() string {
	if e.Order.Status != "" {
		return strings.ToLower(e.Order.Status)
	}
	return strings.TrimPrefix(e.Name, "payment_order.")
}

// Id identifies the delivery for replay detection.
func (e *Event) Id() string {
	return e.Name + ":" + e.Order.Id
}

// VerifyWebhook checks the hex HMAC-SHA256 of the raw body, keyed by the client secret.
func (c *Client) VerifyWebhook(body []byte, signature string) error {
	if c.clientSecret == "" || !security.VerifyHMACSHA256Hex(c.clientSecret, body, signature) {
		return ErrInvalidSignature
	}
	return nil
}

func ParseWebhook(body []byte) (*Event, error) {
	var payload struct {
		Event string `json:"event"`
		Data  Order  `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unable to decode paycrest webhook: %w", err)
	}
	if !strings.HasPrefix(payload.Event, "payment_order.") || payload.Data.Id == "" {
		return nil, fmt.Errorf("unexpected paycrest webhook %q", payload.Event)
	}
	return &Event{Name: payload.Event, Order: payload.Data}, nil
}
