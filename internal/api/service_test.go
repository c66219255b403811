package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"custodial-wallet-go/internal/alchemypay"
	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/database"
	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/paycrest"
	"custodial-wallet-go/internal/paystack"
	"custodial-wallet-go/internal/retry"
	"custodial-wallet-go/internal/security"
	"custodial-wallet-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testReceiveAddress = "0x1111111111111111111111111111111111111111"
	testReturnAddress  = "0x2222222222222222222222222222222222222222"
	testDestination    = "0x3333333333333333333333333333333333333333"
)

type fakeCustodian struct {
	mu          sync.Mutex
	created     int
	withdrawals []models.WithdrawalRequest
	withdrawErr error
	balances    map[string]decimal.Decimal
}

func (f *fakeCustodian) Name() string { return "fake" }

func (f *fakeCustodian) CreateDepositAddress(_ context.Context, _, asset, network string) (*models.DepositAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &models.DepositAddress{
		Id:       fmt.Sprintf("addr-%d", f.created),
		WalletId: "wallet-1",
		Address:  fmt.Sprintf("0x%040d", f.created),
		Asset:    asset,
		Network:  network,
	}, nil
}

func (f *fakeCustodian) Withdraw(_ context.Context, req models.WithdrawalRequest) (*models.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, req)
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	return &models.Withdrawal{
		Id:          "wd-" + req.Reference,
		Asset:       req.Asset,
		Network:     req.Network,
		Amount:      req.Amount,
		Destination: req.DestinationAddress,
		Reference:   req.Reference,
		TxHash:      "0xhash",
		Status:      models.CustodyStatusPending,
	}, nil
}

func (f *fakeCustodian) sent() []models.WithdrawalRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.WithdrawalRequest(nil), f.withdrawals...)
}

func (f *fakeCustodian) GetBalance(_ context.Context, asset, network string) (decimal.Decimal, error) {
	return f.balances[asset+"-"+network], nil
}

func (f *fakeCustodian) ListTransactions(context.Context, time.Time) ([]models.CustodyTransaction, error) {
	return nil, nil
}

func (f *fakeCustodian) SignatureHeader() string { return "x-fake-signature" }

func (f *fakeCustodian) VerifyWebhook(_ []byte, signature string) error {
	if signature != "valid" {
		return custody.ErrInvalidSignature
	}
	return nil
}

func (f *fakeCustodian) ParseWebhook(body []byte) (*models.CustodyEvent, error) {
	var event models.CustodyEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

type fakePaycrest struct {
	mu        sync.Mutex
	rate      decimal.Decimal
	rateErr   error
	createErr error
	orders    map[string]*paycrest.Order
	created   int
}

func newFakePaycrest() *fakePaycrest {
	return &fakePaycrest{rate: decimal.NewFromInt(1500), orders: make(map[string]*paycrest.Order)}
}

func (f *fakePaycrest) GetRate(context.Context, string, decimal.Decimal, string, string) (decimal.Decimal, error) {
	return f.rate, f.rateErr
}

func (f *fakePaycrest) ListInstitutions(context.Context, string) ([]paycrest.Institution, error) {
	return []paycrest.Institution{{Name: "GTBank", Code: "GTBINGLA", Type: "bank"}}, nil
}

func (f *fakePaycrest) VerifyAccount(context.Context, string, string) (string, error) {
	return "Ada Obi", nil
}

func (f *fakePaycrest) CreateOrder(_ context.Context, req paycrest.OrderRequest) (*paycrest.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	order := &paycrest.Order{
		Id:             "pc-" + req.Reference,
		Amount:         req.Amount,
		SenderFee:      decimal.RequireFromString("0.5"),
		TransactionFee: decimal.Zero,
		Token:          req.Token,
		Network:        req.Network,
		Rate:           req.Rate,
		ReceiveAddress: testReceiveAddress,
		ReturnAddress:  req.ReturnAddress,
		Reference:      req.Reference,
		Status:         paycrest.StatusInitiated,
	}
	f.orders[order.Id] = order
	return order, nil
}

func (f *fakePaycrest) GetOrder(_ context.Context, id string) (*paycrest.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, &httpclient.APIError{Provider: "paycrest", StatusCode: 404}
	}
	return order, nil
}

func (f *fakePaycrest) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[id].Status = status
}

func (f *fakePaycrest) VerifyWebhook(_ []byte, signature string) error {
	if signature != "valid" {
		return paycrest.ErrInvalidSignature
	}
	return nil
}

type fakePaystack struct {
	name       string
	resolveErr error
}

func (f *fakePaystack) ResolveAccount(_ context.Context, accountNumber, _ string) (*paystack.Account, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &paystack.Account{AccountNumber: accountNumber, AccountName: f.name}, nil
}

func (f *fakePaystack) ListBanks(context.Context, string) ([]paystack.Bank, error) {
	return []paystack.Bank{
		{Name: "Guaranty Trust Bank", Code: "058", Slug: "guaranty-trust-bank", Active: true},
		{Name: "Closed Bank", Code: "999", Active: false},
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, _ string, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

type fixture struct {
	svc       *LedgerService
	db        *database.Service
	custodian *fakeCustodian
	paycrest  *fakePaycrest
	paystack  *fakePaystack
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "wallet.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	registry, err := custody.NewRegistry([]custody.Asset{
		{Symbol: "USDC", Network: "base", Decimals: 6, PaycrestNetwork: "base", AlchemyPayNetwork: "BASE", ReturnAddress: testReturnAddress},
		{Symbol: "USDC", Network: "ethereum", Decimals: 6},
	})
	require.NoError(t, err)

	tokens, err := security.NewTokenManager("0123456789abcdef0123456789abcdef", "wallet-test", time.Hour)
	require.NoError(t, err)
	encryptor, err := security.NewEncryptor("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	ramp, err := alchemypay.NewClient("", "app-id", "app-secret", "", "")
	require.NoError(t, err)

	f := &fixture{
		db:        db,
		custodian: &fakeCustodian{balances: map[string]decimal.Decimal{}},
		paycrest:  newFakePaycrest(),
		paystack:  &fakePaystack{name: "ADA OBI"},
		notifier:  &recordingNotifier{},
	}
	f.svc, err = NewLedgerService(Config{
		Store:      db,
		Ledger:     db,
		Custodian:  f.custodian,
		Registry:   registry,
		Paycrest:   f.paycrest,
		Paystack:   f.paystack,
		AlchemyPay: ramp,
		Tokens:     tokens,
		Encryptor:  encryptor,
		Notifier:   f.notifier,
		Retry: retry.Policy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Multiplier:  1,
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) user(t *testing.T, role string) *models.User {
	t.Helper()
	user, err := f.svc.CreateUser(context.Background(), RegisterRequest{
		Name:     "Ada Obi",
		Email:    uuid.NewString() + "@example.com",
		Password: "correct-horse",
	}, role)
	require.NoError(t, err)
	return user
}

func (f *fixture) fund(t *testing.T, userId string, amount string) {
	t.Helper()
	_, err := f.db.CreditUser(context.Background(), store.CreditParams{
		UserId:          userId,
		Asset:           "USDC",
		Amount:          decimal.RequireFromString(amount),
		TransactionType: models.TxTypeDeposit,
		ExternalTxId:    "seed-" + uuid.NewString(),
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userId string) decimal.Decimal {
	t.Helper()
	balance, err := f.db.GetUserBalance(context.Background(), userId, "USDC")
	require.NoError(t, err)
	return balance
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func TestNewLedgerService_RequiresDependencies(t *testing.T) {
	_, err := NewLedgerService(Config{})
	assert.Error(t, err)
}

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &httpclient.APIError{StatusCode: 502}, true},
		{"rate limited", &httpclient.APIError{StatusCode: 429}, true},
		{"bad request", &httpclient.APIError{StatusCode: 400}, false},
		{"transport", errors.New("connection reset"), true},
		{"invalid address", fmt.Errorf("wrap: %w", custody.ErrInvalidAddress), false},
		{"bank verification", fmt.Errorf("%w: nope", ErrBankVerification), false},
		{"insufficient funds", store.ErrInsufficientFunds, false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transient(tc.err))
		})
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := parseAmount("12.5")
	require.NoError(t, err)
	assertDecimal(t, "12.5", amount)

	_, err = parseAmount("-1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = parseAmount("abc")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetOrCreateAddress_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)

	first, err := f.svc.GetOrCreateAddress(ctx, user.Id, AddressRequest{Asset: "usdc", Network: "base"})
	require.NoError(t, err)
	second, err := f.svc.GetOrCreateAddress(ctx, user.Id, AddressRequest{Asset: "USDC", Network: "base"})
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, f.custodian.created)

	_, err = f.svc.GetOrCreateAddress(ctx, user.Id, AddressRequest{Asset: "BTC", Network: "bitcoin"})
	assert.ErrorIs(t, err, ErrUnsupportedAsset)
}

func TestProcessDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)

	address, err := f.svc.GetOrCreateAddress(ctx, user.Id, AddressRequest{Asset: "USDC", Network: "base"})
	require.NoError(t, err)

	tx := models.CustodyTransaction{
		Id:      "custody-tx-1",
		Type:    models.CustodyTxDeposit,
		Status:  models.CustodyStatusSuccess,
		Asset:   "USDC",
		Network: "base",
		Amount:  decimal.NewFromInt(25),
		Address: address.Address,
		TxHash:  "0xabc",
	}

	result, err := f.svc.ProcessDeposit(ctx, tx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assertDecimal(t, "25", result.NewBalance)

	replay, err := f.svc.ProcessDeposit(ctx, tx)
	require.NoError(t, err)
	assert.False(t, replay.Success)
	assertDecimal(t, "25", f.balance(t, user.Id))

	tx.Id = "custody-tx-2"
	tx.Address = "0x9999999999999999999999999999999999999999"
	unknown, err := f.svc.ProcessDeposit(ctx, tx)
	require.NoError(t, err)
	assert.False(t, unknown.Success)

	assert.Equal(t, []string{notify.EventDeposit}, f.notifier.types())
}
