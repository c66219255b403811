package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/cache"
	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/database"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/security"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCustodian struct{}

func (stubCustodian) Name() string { return "stub" }

func (stubCustodian) CreateDepositAddress(_ context.Context, _, asset, network string) (*models.DepositAddress, error) {
	return &models.DepositAddress{Id: "addr-1", Address: "0x00000000000000000000000000000000000000a1", Asset: asset, Network: network}, nil
}

func (stubCustodian) Withdraw(_ context.Context, req models.WithdrawalRequest) (*models.Withdrawal, error) {
	return &models.Withdrawal{Id: "wd-" + req.Reference, Reference: req.Reference, Status: models.CustodyStatusPending}, nil
}

func (stubCustodian) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (stubCustodian) ListTransactions(context.Context, time.Time) ([]models.CustodyTransaction, error) {
	return nil, nil
}

func (stubCustodian) SignatureHeader() string { return "x-stub-signature" }

func (stubCustodian) VerifyWebhook([]byte, string) error { return custody.ErrInvalidSignature }

func (stubCustodian) ParseWebhook([]byte) (*models.CustodyEvent, error) { return nil, nil }

type testEnv struct {
	handler http.Handler
	svc     *api.LedgerService
	db      *database.Service
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "server.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	registry, err := custody.NewRegistry([]custody.Asset{{Symbol: "USDC", Network: "base", Decimals: 6}})
	require.NoError(t, err)
	tokens, err := security.NewTokenManager("0123456789abcdef0123456789abcdef", "wallet-test", time.Hour)
	require.NoError(t, err)

	svc, err := api.NewLedgerService(api.Config{
		Store:     db,
		Ledger:    db,
		Custodian: stubCustodian{},
		Registry:  registry,
		Tokens:    tokens,
	})
	require.NoError(t, err)

	srv := New(svc, nil, cache.NewMemory(), models.HTTPConfig{RateLimitPerMinute: rateLimit})
	return &testEnv{handler: srv.Routes(), svc: svc, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	rec, env := e.do(t, http.MethodPost, "/api/auth/register", "", api.RegisterRequest{
		Name: "Ada Obi", Email: email, Password: "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := env.Data.(map[string]any)
	return data["token"].(string)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)

	rec, body := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, 0)

	rec, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ada", "email": "not-an-email", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body.Status)
	assert.Contains(t, body.Message, "email failed email")
	assert.Contains(t, body.Message, "password failed min")
}

func TestAuthenticatedRoutes(t *testing.T) {
	env := newTestEnv(t, 0)

	rec, _ := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.register(t, "ada@example.com")

	rec, _ = env.do(t, http.MethodPost, "/api/auth/login", "", api.LoginRequest{Email: "ada@example.com", Password: "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/auth/login", "", api.LoginRequest{Email: "ADA@example.com", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := body.Data.(map[string]any)["token"].(string)
	require.NotEmpty(t, token)

	rec, body = env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", body.Data.(map[string]any)["email"])

	rec, body = env.do(t, http.MethodPost, "/api/wallet/addresses", token, api.AddressRequest{Asset: "USDC", Network: "base"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", body.Data.(map[string]any)["address"])

	rec, _ = env.do(t, http.MethodPost, "/api/wallet/withdraw", token, api.WithdrawRequest{
		Asset: "USDC", Network: "base", Amount: "5", Address: "0x00000000000000000000000000000000000000b2",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/offramp/orders/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/offramp/quote?asset=USDC&network=base&amount=10&fiat=NGN", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	token := env.register(t, "ada@example.com")
	rec, _ := env.do(t, http.MethodGet, "/api/admin/users", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	user, err := env.db.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, env.db.UpdateUserRole(ctx, user.Id, models.RoleAdmin))

	// role is read from the database, so the same token is now an admin token
	rec, body := env.do(t, http.MethodGet, "/api/admin/users", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Data.([]any), 1)

	rec, _ = env.do(t, http.MethodPatch, "/api/admin/users/"+user.Id+"/status", token, api.StatusRequest{Status: "frozen"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSignatureRejected(t *testing.T) {
	env := newTestEnv(t, 0)

	rec, _ := env.do(t, http.MethodPost, "/webhooks/blockradar", "", map[string]string{"event": "deposit.success"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/webhooks/paycrest", "", map[string]string{"event": "payment_order.settled"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t, 0)
	oversized := strings.Repeat("a", maxBodyBytes+1)

	rec, resp := env.do(t, http.MethodPost, "/webhooks/blockradar", "", oversized)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, resp.Message, "too large")

	rec, _ = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": oversized})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		rec, _ := env.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestClassify(t *testing.T) {
	status, _ := classify(api.ErrInProgress)
	assert.Equal(t, http.StatusConflict, status)

	status, msg := classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", msg)
}
