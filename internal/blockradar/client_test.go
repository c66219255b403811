package blockradar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/security"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *custody.Registry {
	r, err := custody.NewRegistry([]custody.Asset{
		{Symbol: "USDC", Network: "base", Decimals: 6, WalletId: "w-base", AssetId: "a-usdc-base"},
	})
	require.NoError(t, err)
	return r
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.Client(), srv.URL, "test-key", testRegistry(t))
	require.NoError(t, err)
	return c
}

func TestCreateDepositAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets/w-base/addresses", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-u1", body["name"])

		fmt.Fprint(w, `{"statusCode":200,"message":"Address generated","data":{"id":"addr-1","address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","network":"mainnet"}}`)
	})

	addr, err := c.CreateDepositAddress(context.Background(), "u1", "usdc", "BASE")
	require.NoError(t, err)
	assert.Equal(t, "addr-1", addr.Id)
	assert.Equal(t, "w-base", addr.WalletId)
	assert.Equal(t, "USDC", addr.Asset)
	assert.Equal(t, "base", addr.Network)
	assert.Empty(t, addr.KeyMaterial)

	_, err = c.CreateDepositAddress(context.Background(), "u1", "USDT", "base")
	assert.ErrorIs(t, err, custody.ErrUnknownAsset)
}

func TestWithdrawSendsReference(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets/w-base/withdraw", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a-usdc-base", body["assetId"])
		assert.Equal(t, "12.5", body["amount"])
		assert.Equal(t, "offramp:o1", body["reference"])

		fmt.Fprint(w, `{"statusCode":200,"data":{"id":"wd-1","hash":"0xabc","status":"PENDING"}}`)
	})

	wd, err := c.Withdraw(context.Background(), models.WithdrawalRequest{
		Asset:              "USDC",
		Network:            "base",
		Amount:             decimal.RequireFromString("12.5"),
		DestinationAddress: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Reference:          "offramp:o1",
	})
	require.NoError(t, err)
	assert.Equal(t, "wd-1", wd.Id)
	assert.Equal(t, "0xabc", wd.TxHash)
	assert.Equal(t, models.CustodyStatusPending, wd.Status)
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets/w-base/balance", r.URL.Path)
		assert.Equal(t, "a-usdc-base", r.URL.Query().Get("assetId"))
		fmt.Fprint(w, `{"statusCode":200,"data":{"balance":"1042.25"}}`)
	})

	balance, err := c.GetBalance(context.Background(), "USDC", "base")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("1042.25")))
}

func TestListTransactionsStopsAtSince(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/wallets/w-base/transactions", r.URL.Path)
		fmt.Fprintf(w, `{"statusCode":200,"data":[
			{"id":"t1","type":"DEPOSIT","status":"SUCCESS","amount":"5","hash":"0x1","recipientAddress":"0xuser","createdAt":%q,"updatedAt":%q,"asset":{"id":"a-usdc-base","symbol":"USDC"}},
			{"id":"t2","type":"WITHDRAW","status":"FAILED","amount":"2","reference":"withdrawal:1","createdAt":%q,"asset":{"id":"a-usdc-base","symbol":"USDC"}},
			{"id":"t3","type":"DEPOSIT","status":"SUCCESS","amount":"9","createdAt":%q,"asset":{"id":"a-usdc-base","symbol":"USDC"}}
		],"meta":{"currentPage":1,"totalPages":3}}`,
			now.Format(time.RFC3339), now.Format(time.RFC3339),
			now.Add(-time.Minute).Format(time.RFC3339),
			now.Add(-2*time.Hour).Format(time.RFC3339))
	})

	txs, err := c.ListTransactions(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, 1, calls, "older entries end pagination")

	assert.Equal(t, models.CustodyTxDeposit, txs[0].Type)
	assert.Equal(t, models.CustodyStatusSuccess, txs[0].Status)
	assert.Equal(t, "base", txs[0].Network)
	assert.Equal(t, "0xuser", txs[0].Address)
	assert.Equal(t, models.CustodyTxWithdrawal, txs[1].Type)
	assert.Equal(t, models.CustodyStatusFailed, txs[1].Status)
	assert.Equal(t, "withdrawal:1", txs[1].Reference)
}

func TestWebhookVerifyAndParse(t *testing.T) {
	c, err := NewClient(http.DefaultClient, "", "test-key", testRegistry(t))
	require.NoError(t, err)

	body := []byte(`{"event":"deposit.success","data":{"id":"t9","type":"DEPOSIT","status":"SUCCESS","amount":"100","hash":"0xdead","recipientAddress":"0xuser","createdAt":"2025-01-01T00:00:00Z","asset":{"id":"a-usdc-base","symbol":"USDC"}}}`)
	sig := security.SignHMACSHA512Hex("test-key", body)

	require.NoError(t, c.VerifyWebhook(body, sig))
	assert.ErrorIs(t, c.VerifyWebhook(body, security.SignHMACSHA512Hex("other", body)), custody.ErrInvalidSignature)
	assert.ErrorIs(t, c.VerifyWebhook(body, ""), custody.ErrInvalidSignature)

	event, err := c.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "deposit.success", event.Type)
	assert.Equal(t, "deposit.success:t9", event.Id)
	assert.Equal(t, "USDC", event.Transaction.Asset)
	assert.True(t, event.Transaction.Amount.Equal(decimal.NewFromInt(100)))

	_, err = c.ParseWebhook([]byte(`{"event":""}`))
	assert.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(http.DefaultClient, "", "", testRegistry(t))
	assert.Error(t, err)
}
