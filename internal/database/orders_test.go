package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/store"

	"github.com/shopspring/decimal"
)

func newTestOfframp(id, key string) *models.OfframpOrder {
	return &models.OfframpOrder{
		Id:             id,
		UserId:         "user1",
		IdempotencyKey: key,
		Asset:          "USDC",
		Network:        "base",
		Amount:         decimal.NewFromInt(50),
		Fiat:           "NGN",
		BankCode:       "058",
		AccountNumber:  "0123456789",
		Institution:    "GTBINGLA",
	}
}

func TestCreateOfframp_IdempotencyKeyUnique(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := service.CreateOfframp(ctx, newTestOfframp("order-1", "key-1")); err != nil {
		t.Fatalf("CreateOfframp failed: %v", err)
	}

	err := service.CreateOfframp(ctx, newTestOfframp("order-2", "key-1"))
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Expected duplicate error for reused key, got %v", err)
	}

	order, err := service.GetOfframpByIdempotencyKey(ctx, "user1", "key-1")
	if err != nil {
		t.Fatalf("GetOfframpByIdempotencyKey failed: %v", err)
	}
	if order.Id != "order-1" || order.Status != models.OfframpCreated {
		t.Errorf("Unexpected order: %+v", order)
	}
	if !order.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected amount 50, got %s", order.Amount.String())
	}
}

func TestTransitionOfframp_CompareAndSet(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := newTestOfframp("order-1", "key-1")
	if err := service.CreateOfframp(ctx, order); err != nil {
		t.Fatalf("CreateOfframp failed: %v", err)
	}

	order.Status = models.OfframpQuoted
	order.Rate = decimal.RequireFromString("1530.25")
	order.FiatAmount = order.Amount.Mul(order.Rate)
	if err := service.TransitionOfframp(ctx, order, models.OfframpCreated); err != nil {
		t.Fatalf("TransitionOfframp failed: %v", err)
	}

	// A second writer still holding the CREATED copy loses
	stale := newTestOfframp("order-1", "key-1")
	stale.Status = models.OfframpFailed
	if err := service.TransitionOfframp(ctx, stale, models.OfframpCreated); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected lost race to return invalid transition, got %v", err)
	}

	// Skipping states is rejected before touching the database
	order.Status = models.OfframpSettled
	if err := service.TransitionOfframp(ctx, order, models.OfframpQuoted); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition, got %v", err)
	}

	stored, err := service.GetOfframp(ctx, "order-1")
	if err != nil {
		t.Fatalf("GetOfframp failed: %v", err)
	}
	if stored.Status != models.OfframpQuoted {
		t.Errorf("Expected status QUOTED, got %s", stored.Status)
	}
	if !stored.Rate.Equal(decimal.RequireFromString("1530.25")) {
		t.Errorf("Expected rate 1530.25, got %s", stored.Rate.String())
	}
}

func TestListOfframpsByStatus(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for _, id := range []string{"order-1", "order-2"} {
		if err := service.CreateOfframp(ctx, newTestOfframp(id, "key-"+id)); err != nil {
			t.Fatalf("CreateOfframp failed: %v", err)
		}
	}

	order, err := service.GetOfframp(ctx, "order-2")
	if err != nil {
		t.Fatalf("GetOfframp failed: %v", err)
	}
	order.Status = models.OfframpFailed
	order.FailureReason = "quote unavailable"
	if err := service.TransitionOfframp(ctx, order, models.OfframpCreated); err != nil {
		t.Fatalf("TransitionOfframp failed: %v", err)
	}

	future := time.Now().Add(time.Minute)
	pending, err := service.ListOfframpsByStatus(ctx, []models.OfframpStatus{models.OfframpCreated, models.OfframpQuoted}, future, 10)
	if err != nil {
		t.Fatalf("ListOfframpsByStatus failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Id != "order-1" {
		t.Errorf("Expected only order-1, got %+v", pending)
	}

	past := time.Now().Add(-time.Hour)
	pending, err = service.ListOfframpsByStatus(ctx, []models.OfframpStatus{models.OfframpCreated}, past, 10)
	if err != nil {
		t.Fatalf("ListOfframpsByStatus failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no orders older than an hour, got %d", len(pending))
	}

	if err := service.RecordOfframpAttempt(ctx, "order-1", "paycrest timeout"); err != nil {
		t.Fatalf("RecordOfframpAttempt failed: %v", err)
	}
	stored, _ := service.GetOfframp(ctx, "order-1")
	if stored.Attempts != 1 || stored.FailureReason != "paycrest timeout" {
		t.Errorf("Expected one recorded attempt, got %+v", stored)
	}
}

func TestGetOfframp_NotFound(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	if _, err := service.GetOfframpByProviderOrderId(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestOnrampStatusUpdate(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := &models.OnrampOrder{
		Id:         "ramp-1",
		UserId:     "user1",
		Side:       models.RampSideBuy,
		Asset:      "USDC",
		Network:    "base",
		Fiat:       "USD",
		FiatAmount: decimal.NewFromInt(100),
		Address:    "0xAbC0000000000000000000000000000000000001",
	}
	if err := service.CreateOnramp(ctx, order); err != nil {
		t.Fatalf("CreateOnramp failed: %v", err)
	}

	if err := service.UpdateOnrampStatus(ctx, "ramp-1", models.OnrampPaid, "ach-1", "", decimal.Zero); err != nil {
		t.Fatalf("UpdateOnrampStatus failed: %v", err)
	}
	if err := service.UpdateOnrampStatus(ctx, "ramp-1", models.OnrampCompleted, "", "0xhash", decimal.RequireFromString("99.1")); err != nil {
		t.Fatalf("UpdateOnrampStatus failed: %v", err)
	}

	stored, err := service.GetOnramp(ctx, "ramp-1")
	if err != nil {
		t.Fatalf("GetOnramp failed: %v", err)
	}
	if stored.Status != models.OnrampCompleted || stored.ProviderOrderId != "ach-1" || stored.TxHash != "0xhash" {
		t.Errorf("Unexpected onramp order: %+v", stored)
	}
	if !stored.CryptoAmount.Equal(decimal.RequireFromString("99.1")) {
		t.Errorf("Expected crypto amount 99.1, got %s", stored.CryptoAmount.String())
	}

	if err := service.UpdateOnrampStatus(ctx, "missing", models.OnrampFailed, "", "", decimal.Zero); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestUsersDevicesAndWebhooks(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()

	_, err := service.CreateUser(ctx, store.CreateUserParams{Id: "dup", Name: "Dup", Email: "test@example.com"})
	if !errors.Is(err, store.ErrEmailTaken) {
		t.Errorf("Expected email taken, got %v", err)
	}

	if err := service.UpdateUserRole(ctx, "user1", models.RoleAdmin); err != nil {
		t.Fatalf("UpdateUserRole failed: %v", err)
	}
	if err := service.UpdateUserStatus(ctx, "missing", models.UserStatusSuspended); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found for unknown user, got %v", err)
	}
	user, err := service.GetUserById(ctx, "user1")
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if !user.IsAdmin() || !user.IsActive() {
		t.Errorf("Expected active admin, got %+v", user)
	}

	if _, err := service.UpsertDevice(ctx, "user1", "ExponentPushToken[abc]", "ios"); err != nil {
		t.Fatalf("UpsertDevice failed: %v", err)
	}
	if _, err := service.UpsertDevice(ctx, "user1", "ExponentPushToken[abc]", "android"); err != nil {
		t.Fatalf("UpsertDevice repeat failed: %v", err)
	}
	devices, err := service.GetUserDevices(ctx, "user1")
	if err != nil {
		t.Fatalf("GetUserDevices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].Platform != "android" {
		t.Errorf("Expected one android device, got %+v", devices)
	}

	if err := service.RecordWebhookEvent(ctx, "paycrest", "evt-1", "payment_order.settled", []byte(`{}`)); err != nil {
		t.Fatalf("RecordWebhookEvent failed: %v", err)
	}
	err = service.RecordWebhookEvent(ctx, "paycrest", "evt-1", "payment_order.settled", []byte(`{}`))
	if !errors.Is(err, store.ErrDuplicateEvent) {
		t.Errorf("Expected duplicate event, got %v", err)
	}
	if err := service.RecordWebhookEvent(ctx, "blockradar", "evt-1", "deposit.success", []byte(`{}`)); err != nil {
		t.Errorf("Same event id from another provider should be accepted, got %v", err)
	}

	if err := service.ForgetWebhookEvent(ctx, "paycrest", "evt-1"); err != nil {
		t.Fatalf("ForgetWebhookEvent failed: %v", err)
	}
	if err := service.RecordWebhookEvent(ctx, "paycrest", "evt-1", "payment_order.settled", []byte(`{}`)); err != nil {
		t.Errorf("Forgotten event should be recorded again, got %v", err)
	}
}

func TestWithdrawalLifecycle(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := &models.WithdrawalRecord{
		Id:          "6f1c1f5e-8a4b-4f62-9a39-0d6cf3f5d001",
		UserId:      "user1",
		Asset:       "USDC",
		Network:     "base",
		Amount:      decimal.RequireFromString("12.5"),
		Destination: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	}
	if err := service.CreateWithdrawal(ctx, w); err != nil {
		t.Fatalf("CreateWithdrawal failed: %v", err)
	}
	if w.Status != models.WithdrawalPending {
		t.Errorf("Expected PENDING, got %s", w.Status)
	}

	w.Status = models.WithdrawalSubmitted
	w.CustodyWithdrawalId = "cw-1"
	if err := service.UpdateWithdrawal(ctx, w, models.WithdrawalPending); err != nil {
		t.Fatalf("UpdateWithdrawal failed: %v", err)
	}

	stale := *w
	stale.Status = models.WithdrawalFailed
	if err := service.UpdateWithdrawal(ctx, &stale, models.WithdrawalPending); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected stale update to lose, got %v", err)
	}

	got, err := service.GetWithdrawal(ctx, w.Id)
	if err != nil {
		t.Fatalf("GetWithdrawal failed: %v", err)
	}
	if got.Status != models.WithdrawalSubmitted || got.CustodyWithdrawalId != "cw-1" {
		t.Errorf("Unexpected withdrawal %+v", got)
	}
	if !got.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Expected amount 12.5, got %s", got.Amount)
	}

	list, err := service.ListWithdrawalsByUser(ctx, "user1", 10, 0)
	if err != nil {
		t.Fatalf("ListWithdrawalsByUser failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 withdrawal, got %d", len(list))
	}

	if _, err := service.GetWithdrawal(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListWithdrawalsByStatus(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for _, id := range []string{"wd-pending", "wd-sent"} {
		w := &models.WithdrawalRecord{
			Id:          id,
			UserId:      "user1",
			Asset:       "USDC",
			Network:     "base",
			Amount:      decimal.RequireFromString("5"),
			Destination: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		}
		if err := service.CreateWithdrawal(ctx, w); err != nil {
			t.Fatalf("CreateWithdrawal failed: %v", err)
		}
	}

	sent, err := service.GetWithdrawal(ctx, "wd-sent")
	if err != nil {
		t.Fatalf("GetWithdrawal failed: %v", err)
	}
	sent.Status = models.WithdrawalSubmitted
	if err := service.UpdateWithdrawal(ctx, sent, models.WithdrawalPending); err != nil {
		t.Fatalf("UpdateWithdrawal failed: %v", err)
	}

	pending, err := service.ListWithdrawalsByStatus(ctx, models.WithdrawalPending, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListWithdrawalsByStatus failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Id != "wd-pending" {
		t.Errorf("Expected only wd-pending, got %+v", pending)
	}

	pending, err = service.ListWithdrawalsByStatus(ctx, models.WithdrawalPending, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListWithdrawalsByStatus failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no withdrawals older than an hour, got %d", len(pending))
	}
}
