package alchemypay

import (
	"net/url"
	"testing"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/security"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	c, err := NewClient("https://ramp.example", "app-1", "app-secret", "https://api.example/webhooks/alchemypay", "")
	require.NoError(t, err)
	c.now = func() time.Time { return time.UnixMilli(1717243200000) }
	return c
}

func TestBuildRampURLBuy(t *testing.T) {
	c := testClient(t)

	raw, err := c.BuildRampURL(RampRequest{
		Side:            models.RampSideBuy,
		Crypto:          "usdc",
		Network:         "BASE",
		Fiat:            "ngn",
		FiatAmount:      decimal.NewFromInt(20000),
		Address:         "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		MerchantOrderNo: "01HZX",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "ramp.example", u.Host)
	assert.Equal(t, "app-1", q.Get("appId"))
	assert.Equal(t, "USDC", q.Get("crypto"))
	assert.Equal(t, "NGN", q.Get("fiat"))
	assert.Equal(t, "20000", q.Get("fiatAmount"))
	assert.Equal(t, "1717243200000", q.Get("timestamp"))
	assert.Equal(t, "buy", q.Get("type"))

	payload := "address=0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed&appId=app-1" +
		"&callbackUrl=https://api.example/webhooks/alchemypay&crypto=USDC&fiat=NGN&fiatAmount=20000" +
		"&merchantOrderNo=01HZX&network=BASE&timestamp=1717243200000&type=buy"
	assert.Equal(t, security.SignHMACSHA256Base64("app-secret", []byte(payload)), q.Get("sign"))
}

func TestBuildRampURLSell(t *testing.T) {
	c := testClient(t)

	raw, err := c.BuildRampURL(RampRequest{
		Side:            models.RampSideSell,
		Crypto:          "USDC",
		Network:         "BASE",
		Fiat:            "NGN",
		CryptoAmount:    decimal.RequireFromString("15.5"),
		MerchantOrderNo: "01HZY",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "sell", u.Query().Get("type"))
	assert.Equal(t, "15.5", u.Query().Get("cryptoAmount"))
	assert.Empty(t, u.Query().Get("address"))
}

func TestBuildRampURLValidation(t *testing.T) {
	c := testClient(t)

	tests := []struct {
		name string
		req  RampRequest
	}{
		{"missing order", RampRequest{Side: models.RampSideBuy, Crypto: "USDC", Network: "BASE", Fiat: "NGN", Address: "0x1"}},
		{"buy without address", RampRequest{Side: models.RampSideBuy, Crypto: "USDC", Network: "BASE", Fiat: "NGN", MerchantOrderNo: "o"}},
		{"sell without amount", RampRequest{Side: models.RampSideSell, Crypto: "USDC", Network: "BASE", Fiat: "NGN", MerchantOrderNo: "o"}},
		{"unknown side", RampRequest{Side: "swap", Crypto: "USDC", Network: "BASE", Fiat: "NGN", MerchantOrderNo: "o"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.BuildRampURL(tt.req)
			assert.Error(t, err)
		})
	}
}

func TestCallback(t *testing.T) {
	c := testClient(t)
	body := []byte(`{"orderNo":"ach-9","merchantOrderNo":"01HZX","status":"FINISHED","crypto":"USDC","network":"BASE","cryptoAmount":"12.3","txHash":"0xabc"}`)
	sign := security.SignHMACSHA256Base64("app-secret", body)

	require.NoError(t, c.VerifyCallback(body, sign))
	assert.ErrorIs(t, c.VerifyCallback(body, "bad"), ErrInvalidSignature)

	cb, err := ParseCallback(body)
	require.NoError(t, err)
	assert.Equal(t, models.OnrampCompleted, cb.OnrampStatus())
	assert.Equal(t, "ach-9:FINISHED", cb.Id())
	assert.True(t, cb.CryptoAmount.Equal(decimal.RequireFromString("12.3")))

	_, err = ParseCallback([]byte(`{"orderNo":"x"}`))
	assert.Error(t, err)
}

func TestOnrampStatusMapping(t *testing.T) {
	cases := map[string]models.OnrampStatus{
		StatusPaySuccess: models.OnrampPaid,
		StatusFinished:   models.OnrampCompleted,
		StatusPayFail:    models.OnrampFailed,
		StatusCancel:     models.OnrampCancelled,
		"PROCESSING":     models.OnrampPending,
	}
	for status, want := range cases {
		cb := Callback{Status: status}
		assert.Equal(t, want, cb.OnrampStatus(), status)
	}
}
