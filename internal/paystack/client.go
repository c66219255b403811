// Package paystack resolves Nigerian bank accounts before payouts.
package paystack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"custodial-wallet-go/internal/httpclient"
)

const (
	DefaultBaseURL = "https://api.paystack.co"
	providerName   = "paystack"
)

type Client struct {
	http      *http.Client
	baseURL   string
	secretKey string
}

func NewClient(httpClient *http.Client, baseURL, secretKey string) (*Client, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("paystack secret key cannot be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:      httpClient,
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
	}, nil
}

type response[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var resp response[T]
	err := httpclient.DoJSON(ctx, c.http, httpclient.Request{
		Provider: providerName,
		Method:   http.MethodGet,
		URL:      c.baseURL + path,
		Headers:  map[string]string{"Authorization": "Bearer " + c.secretKey},
	}, &resp)
	if err != nil {
		return resp.Data, err
	}
	if !resp.Status {
		return resp.Data, fmt.Errorf("paystack request failed: %s", resp.Message)
	}
	return resp.Data, nil
}

type Account struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankId        int    `json:"bank_id"`
}

func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*Account, error) {
	query := url.Values{}
	query.Set("account_number", accountNumber)
	query.Set("bank_code", bankCode)

	account, err := get[Account](ctx, c, "/bank/resolve?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("unable to resolve account: %w", err)
	}
	if account.AccountName == "" {
		return nil, fmt.Errorf("paystack returned no account name for %s", accountNumber)
	}
	return &account, nil
}

type Bank struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Slug     string `json:"slug"`
	Currency string `json:"currency"`
	Active   bool   `json:"active"`
}

func (c *Client) ListBanks(ctx context.Context, country string) ([]Bank, error) {
	if country == "" {
		country = "nigeria"
	}
	banks, err := get[[]Bank](ctx, c, "/bank?country="+url.QueryEscape(strings.ToLower(country)))
	if err != nil {
		return nil, fmt.Errorf("unable to list banks: %w", err)
	}
	return banks, nil
}
