package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupBalanceTestDB(t *testing.T) (*Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	service, err := newServiceWithDB(db, false)
	if err != nil {
		t.Fatalf("Failed to initialize service: %v", err)
	}

	ctx := context.Background()
	if _, err := service.CreateUser(ctx, store.CreateUserParams{
		Id:    "user1",
		Name:  "Test User",
		Email: "test@example.com",
	}); err != nil {
		t.Fatalf("Failed to insert test user: %v", err)
	}

	if _, err := service.StoreAddress(ctx, store.StoreAddressParams{
		UserId:   "user1",
		Asset:    "USDC",
		Network:  "base",
		Address:  "0xAbC0000000000000000000000000000000000001",
		WalletId: "wallet-1",
	}); err != nil {
		t.Fatalf("Failed to insert test address: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return service, cleanup
}

func TestGetUserBalance_NoBalance(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	balance, err := service.GetUserBalance(context.Background(), "user1", "USDC")
	if err != nil {
		t.Fatalf("GetUserBalance failed: %v", err)
	}

	if !balance.Equal(decimal.Zero) {
		t.Errorf("Expected balance 0, got %s", balance.String())
	}
}

func TestProcessDeposit_UsesCanonicalSymbol(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// Custodian reports a lower-case address and its own asset label
	tx, err := service.ProcessDeposit(ctx, "0xabc0000000000000000000000000000000000001", "usdc-base", decimal.NewFromInt(25), "chain-tx-1")
	if err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}
	if tx.Asset != "USDC" {
		t.Errorf("Expected canonical asset USDC, got %s", tx.Asset)
	}

	balance, err := service.GetUserBalance(ctx, "user1", "USDC")
	if err != nil {
		t.Fatalf("GetUserBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected balance 25, got %s", balance.String())
	}

	_, err = service.ProcessDeposit(ctx, "0xabc0000000000000000000000000000000000001", "USDC", decimal.NewFromInt(25), "chain-tx-1")
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate error on replay, got %v", err)
	}
}

func TestProcessDeposit_UnknownAddress(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	_, err := service.ProcessDeposit(context.Background(), "0xdead", "USDC", decimal.NewFromInt(1), "chain-tx-2")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Expected user not found, got %v", err)
	}
}

func TestDebitUser_HoldAndReverse(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.CreditUser(ctx, store.CreditParams{
		UserId:       "user1",
		Asset:        "USDC",
		Amount:       decimal.NewFromInt(100),
		ExternalTxId: "seed",
	}); err != nil {
		t.Fatalf("CreditUser failed: %v", err)
	}

	debit := store.DebitParams{
		UserId:          "user1",
		Asset:           "USDC",
		Amount:          decimal.RequireFromString("40.5"),
		TransactionType: models.TxTypeOfframp,
		Reference:       "offramp:order-1",
	}
	if _, err := service.DebitUser(ctx, debit); err != nil {
		t.Fatalf("DebitUser failed: %v", err)
	}

	// The same hold reference can only be applied once
	if _, err := service.DebitUser(ctx, debit); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate hold to fail, got %v", err)
	}

	balance, _ := service.GetUserBalance(ctx, "user1", "USDC")
	if !balance.Equal(decimal.RequireFromString("59.5")) {
		t.Errorf("Expected balance 59.5 after hold, got %s", balance.String())
	}

	if _, err := service.ReverseDebit(ctx, "user1", "USDC", debit.Amount, debit.Reference); err != nil {
		t.Fatalf("ReverseDebit failed: %v", err)
	}
	if _, err := service.ReverseDebit(ctx, "user1", "USDC", debit.Amount, debit.Reference); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected second reversal to be rejected as duplicate, got %v", err)
	}

	balance, _ = service.GetUserBalance(ctx, "user1", "USDC")
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected balance 100 after reversal, got %s", balance.String())
	}

	if err := service.ReconcileUserBalance(ctx, "user1", "USDC"); err != nil {
		t.Errorf("Expected reconciliation to pass, got %v", err)
	}
}

func TestDebitUser_InsufficientFunds(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	_, err := service.DebitUser(context.Background(), store.DebitParams{
		UserId:    "user1",
		Asset:     "USDC",
		Amount:    decimal.NewFromInt(1),
		Reference: "withdrawal:1",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("Expected insufficient funds, got %v", err)
	}
}

func TestDebitUser_RejectsInvalidInput(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.DebitUser(ctx, store.DebitParams{UserId: "user1", Asset: "USDC", Amount: decimal.Zero, Reference: "r"}); err == nil {
		t.Errorf("Expected zero debit to fail")
	}
	if _, err := service.DebitUser(ctx, store.DebitParams{UserId: "user1", Asset: "USDC", Amount: decimal.NewFromInt(1)}); err == nil {
		t.Errorf("Expected debit without reference to fail")
	}
}

func TestGetAllUserBalancesAndTotals(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.CreateUser(ctx, store.CreateUserParams{Id: "user2", Name: "Other", Email: "other@example.com"}); err != nil {
		t.Fatalf("Failed to create second user: %v", err)
	}

	credits := []store.CreditParams{
		{UserId: "user1", Asset: "USDC", Amount: decimal.NewFromInt(1), ExternalTxId: "tx1"},
		{UserId: "user1", Asset: "USDT", Amount: decimal.NewFromInt(10), ExternalTxId: "tx2"},
		{UserId: "user2", Asset: "USDC", Amount: decimal.RequireFromString("2.5"), ExternalTxId: "tx3"},
	}
	for _, credit := range credits {
		if _, err := service.CreditUser(ctx, credit); err != nil {
			t.Fatalf("CreditUser failed: %v", err)
		}
	}

	balances, err := service.GetAllUserBalances(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAllUserBalances failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("Expected 2 balances, got %d", len(balances))
	}

	found := make(map[string]decimal.Decimal)
	for _, balance := range balances {
		found[balance.Asset] = balance.Balance
	}
	if !found["USDC"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected USDC balance 1, got %s", found["USDC"].String())
	}
	if !found["USDT"].Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected USDT balance 10, got %s", found["USDT"].String())
	}

	totals, err := service.GetAssetTotals(ctx)
	if err != nil {
		t.Fatalf("GetAssetTotals failed: %v", err)
	}
	if len(totals) != 2 || totals[0].Asset != "USDC" || !totals[0].Total.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("Unexpected asset totals: %+v", totals)
	}
}
