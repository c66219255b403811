// Package alchemypay builds signed AlchemyPay ramp URLs and verifies the
// order callbacks AlchemyPay posts back.
package alchemypay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/security"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL  = "https://ramp.alchemypay.org"
	SignatureHeader = "sign"
)

// Callback statuses
const (
	StatusPaySuccess = "PAY_SUCCESS"
	StatusFinished   = "FINISHED"
	StatusPayFail    = "PAY_FAIL"
	StatusCancel     = "CANCEL"
)

var ErrInvalidSignature = errors.New("invalid alchemypay signature")

type Client struct {
	baseURL     string
	appId       string
	appSecret   string
	callbackURL string
	redirectURL string
	now         func() time.Time
}

func NewClient(baseURL, appId, appSecret, callbackURL, redirectURL string) (*Client, error) {
	if appId == "" || appSecret == "" {
		return nil, fmt.Errorf("alchemypay app id and secret are required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		appId:       appId,
		appSecret:   appSecret,
		callbackURL: callbackURL,
		redirectURL: redirectURL,
		now:         time.Now,
	}, nil
}

// RampRequest describes a buy (fiat in, crypto to Address) or a sell
// (crypto from the user, fiat out) session.
type RampRequest struct {
	Side            string
	Crypto          string
	Network         string
	Fiat            string
	FiatAmount      decimal.Decimal
	CryptoAmount    decimal.Decimal
	Address         string
	MerchantOrderNo string
}

// BuildRampURL returns the hosted ramp URL with the signature appended.
func (c *Client) BuildRampURL(req RampRequest) (string, error) {
	if req.MerchantOrderNo == "" || req.Crypto == "" || req.Network == "" || req.Fiat == "" {
		return "", fmt.Errorf("ramp request missing order number, crypto, network or fiat")
	}

	params := map[string]string{
		"appId":           c.appId,
		"crypto":          strings.ToUpper(req.Crypto),
		"network":         req.Network,
		"fiat":            strings.ToUpper(req.Fiat),
		"merchantOrderNo": req.MerchantOrderNo,
		"timestamp":       strconv.FormatInt(c.now().UnixMilli(), 10),
	}

	switch req.Side {
	case models.RampSideBuy:
		if req.Address == "" {
			return "", fmt.Errorf("buy ramp requires a destination address")
		}
		params["type"] = "buy"
		params["address"] = req.Address
		if req.FiatAmount.IsPositive() {
			params["fiatAmount"] = req.FiatAmount.String()
		}
	case models.RampSideSell:
		if !req.CryptoAmount.IsPositive() {
			return "", fmt.Errorf("sell ramp requires a crypto amount")
		}
		params["type"] = "sell"
		params["cryptoAmount"] = req.CryptoAmount.String()
	default:
		return "", fmt.Errorf("unknown ramp side %q", req.Side)
	}

	if c.callbackURL != "" {
		params["callbackUrl"] = c.callbackURL
	}
	if c.redirectURL != "" {
		params["redirectUrl"] = c.redirectURL
	}

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("sign", c.sign(params))
	return c.baseURL + "/?" + query.Encode(), nil
}

// sign is the base64 HMAC-SHA256 of the params sorted by key and joined as k=v&k=v.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	return security.SignHMACSHA256Base64(c.appSecret, []byte(strings.Join(pairs, "&")))
}

// VerifyCallback checks the base64 HMAC-SHA256 of the raw callback body.
func (c *Client) VerifyCallback(body []byte, sign string) error {
	if !security.VerifyHMACSHA256Base64(c.appSecret, body, sign) {
		return ErrInvalidSignature
	}
	return nil
}

type Callback struct {
	OrderNo         string          `json:"orderNo"`
	MerchantOrderNo string          `json:"merchantOrderNo"`
	Status          string          `json:"status"`
	Side            string          `json:"side"`
	Crypto          string          `json:"crypto"`
	Network         string          `json:"network"`
	CryptoAmount    decimal.Decimal `json:"cryptoAmount"`
	Fiat            string          `json:"fiat"`
	FiatAmount      decimal.Decimal `json:"fiatAmount"`
	Address         string          `json:"address"`
	TxHash          string          `json:"txHash"`
}

// Id identifies the delivery for replay detection.
func (cb *Callback) Id() string {
	return cb.OrderNo + ":" + cb.Status
}

// OnrampStatus maps the callback status onto the local order status.
func (cb *Callback) OnrampStatus() models.OnrampStatus {
	switch strings.ToUpper(cb.Status) {
	case StatusPaySuccess:
		return models.OnrampPaid
	case StatusFinished:
		return models.OnrampCompleted
	case StatusPayFail:
		return models.OnrampFailed
	case StatusCancel:
		return models.OnrampCancelled
	default:
		return models.OnrampPending
	}
}

func ParseCallback(body []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("unable to decode alchemypay callback: %w", err)
	}
	if cb.MerchantOrderNo == "" || cb.Status == "" {
		return nil, fmt.Errorf("alchemypay callback missing merchantOrderNo or status")
	}
	return &cb, nil
}
