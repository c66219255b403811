package api

import (
	"context"
	"fmt"
	"testing"

	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/paycrest"
	"custodial-wallet-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offrampRequest(key, amount string) OfframpRequest {
	return OfframpRequest{
		IdempotencyKey: key,
		Asset:          "USDC",
		Network:        "base",
		Amount:         amount,
		Fiat:           "ngn",
		BankCode:       "058",
		AccountNumber:  "0123456789",
		Institution:    "GTBINGLA",
	}
}

func TestCreateOfframp_RunsToCryptoSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)

	assert.Equal(t, models.OfframpCryptoSent, order.Status)
	assert.Equal(t, "NGN", order.Fiat)
	assert.Equal(t, "ADA OBI", order.AccountName)
	assert.Equal(t, "pc-"+order.Id, order.ProviderOrderId)
	assertDecimal(t, "75000", order.FiatAmount)
	assertDecimal(t, "50.5", order.ProviderAmount)
	assertDecimal(t, "49.5", f.balance(t, user.Id))

	sent := f.custodian.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testReceiveAddress, sent[0].DestinationAddress)
	assert.Equal(t, order.Id, sent[0].Reference)
	assertDecimal(t, "50.5", sent[0].Amount)

	stored, err := f.db.GetOfframp(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpCryptoSent, stored.Status)
	assert.Equal(t, "wd-"+order.Id, stored.CustodyWithdrawalId)
}

func TestCreateOfframp_ReplayReturnsExistingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	first, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)
	second, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)
	assert.Len(t, f.custodian.sent(), 1)
	assert.Equal(t, 1, f.paycrest.created)
	assertDecimal(t, "49.5", f.balance(t, user.Id))
}

func TestCreateOfframp_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "10")

	_, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.Empty(t, f.custodian.sent())
}

func TestCreateOfframp_FeesExceedBalanceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "50")

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)

	assert.Equal(t, models.OfframpFailed, order.Status)
	assert.Contains(t, order.FailureReason, "insufficient funds")
	assertDecimal(t, "50", f.balance(t, user.Id))
	assert.Empty(t, f.custodian.sent())
	assert.Contains(t, f.notifier.types(), notify.EventOfframpFailed)
}

func TestCreateOfframp_BankVerificationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.paystack.resolveErr = &httpclient.APIError{Provider: "paystack", StatusCode: 422, Body: "could not resolve"}

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)

	assert.Equal(t, models.OfframpFailed, order.Status)
	assert.Contains(t, order.FailureReason, ErrBankVerification.Error())
	assert.Equal(t, 0, f.paycrest.created)
	assertDecimal(t, "100", f.balance(t, user.Id))
}

func TestCreateOfframp_TransientFailureLeavesOrderInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.paycrest.rateErr = &httpclient.APIError{Provider: "paycrest", StatusCode: 503}

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)
	assert.Equal(t, models.OfframpCreated, order.Status)

	stored, err := f.db.GetOfframp(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotEmpty(t, stored.FailureReason)

	f.paycrest.rateErr = nil
	resumed, err := f.svc.ResumeOfframp(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpCryptoSent, resumed.Status)
}

func TestResumeOfframp_CustodyOutageKeepsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 503}

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)
	assert.Equal(t, models.OfframpFundsHeld, order.Status)
	assertDecimal(t, "49.5", f.balance(t, user.Id))

	f.custodian.withdrawErr = nil
	resumed, err := f.svc.ResumeOfframp(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpCryptoSent, resumed.Status)
	assertDecimal(t, "49.5", f.balance(t, user.Id))

	for _, req := range f.custodian.sent() {
		assert.Equal(t, order.Id, req.Reference)
	}
}

func TestResumeOfframp_CustodyRejectionReversesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 400, Body: "insufficient wallet balance"}

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)

	assert.Equal(t, models.OfframpFailed, order.Status)
	assertDecimal(t, "100", f.balance(t, user.Id))
}

func TestHandlePaycrestEvent_Settled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)

	err = f.svc.HandlePaycrestEvent(ctx, &paycrest.Event{
		Name:  "payment_order.settled",
		Order: paycrest.Order{Id: order.ProviderOrderId, Status: paycrest.StatusSettled},
	})
	require.NoError(t, err)

	stored, err := f.db.GetOfframp(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpSettled, stored.Status)
	assertDecimal(t, "49.5", f.balance(t, user.Id))
	assert.Contains(t, f.notifier.types(), notify.EventOfframpSettled)

	// a late refund after settlement changes nothing
	err = f.svc.HandlePaycrestEvent(ctx, &paycrest.Event{
		Name:  "payment_order.refunded",
		Order: paycrest.Order{Id: order.ProviderOrderId, Status: paycrest.StatusRefunded},
	})
	require.NoError(t, err)
	assertDecimal(t, "49.5", f.balance(t, user.Id))
}

func TestRefreshOfframpStatus_RefundReversesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)
	f.paycrest.setStatus(order.ProviderOrderId, "REFUNDED")

	refreshed, err := f.svc.RefreshOfframpStatus(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpRefunded, refreshed.Status)
	assertDecimal(t, "100", f.balance(t, user.Id))

	again, err := f.svc.RefreshOfframpStatus(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpRefunded, again.Status)
	assertDecimal(t, "100", f.balance(t, user.Id))
	assert.Contains(t, f.notifier.types(), notify.EventOfframpRefunded)
}

func TestHandlePaycrestWebhook_ExpiryBeforeSendFailsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 503}

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)
	require.Equal(t, models.OfframpFundsHeld, order.Status)

	body := []byte(fmt.Sprintf(`{"event":"payment_order.expired","data":{"id":%q,"reference":%q,"status":"expired"}}`,
		order.ProviderOrderId, order.Id))

	err = f.svc.HandlePaycrestWebhook(ctx, body, "forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	require.NoError(t, f.svc.HandlePaycrestWebhook(ctx, body, "valid"))
	require.NoError(t, f.svc.HandlePaycrestWebhook(ctx, body, "valid"))

	stored, err := f.db.GetOfframp(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpFailed, stored.Status)
	assertDecimal(t, "100", f.balance(t, user.Id))
}

func TestQuoteOfframp_Cached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := QuoteRequest{Asset: "USDC", Network: "base", Amount: "10", Fiat: "NGN"}

	first, err := f.svc.QuoteOfframp(ctx, req)
	require.NoError(t, err)
	assertDecimal(t, "15000", first.FiatAmount)

	f.paycrest.rate = decimal.NewFromInt(1600)
	second, err := f.svc.QuoteOfframp(ctx, req)
	require.NoError(t, err)
	assertDecimal(t, "1500", second.Rate)

	_, err = f.svc.QuoteOfframp(ctx, QuoteRequest{Asset: "USDC", Network: "ethereum", Amount: "10", Fiat: "NGN"})
	assert.ErrorIs(t, err, ErrUnsupportedAsset)
}

func TestGetOfframp_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, models.RoleUser)
	other := f.user(t, models.RoleUser)
	f.fund(t, owner.Id, "100")

	order, err := f.svc.CreateOfframp(ctx, owner.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)

	_, err = f.svc.GetOfframp(ctx, other.Id, order.Id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := f.svc.GetOfframp(ctx, owner.Id, order.Id)
	require.NoError(t, err)
	assert.Equal(t, order.Id, found.Id)

	orders, err := f.svc.ListOfframps(ctx, owner.Id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestListBanks_ActiveOnly(t *testing.T) {
	f := newFixture(t)

	banks, err := f.svc.ListBanks(context.Background(), "nigeria")
	require.NoError(t, err)
	require.Len(t, banks, 1)
	assert.Equal(t, "058", banks[0].Code)
}
