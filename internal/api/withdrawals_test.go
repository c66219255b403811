package api

import (
	"context"
	"testing"

	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"
	"custodial-wallet-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withdrawRequest(amount string) WithdrawRequest {
	return WithdrawRequest{Asset: "USDC", Network: "base", Amount: amount, Address: testDestination}
}

func TestWithdraw_Submitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	record, err := f.svc.Withdraw(ctx, user.Id, withdrawRequest("40"))
	require.NoError(t, err)

	assert.Equal(t, models.WithdrawalSubmitted, record.Status)
	assert.Equal(t, "wd-"+record.Id, record.CustodyWithdrawalId)
	assertDecimal(t, "60", f.balance(t, user.Id))

	sent := f.custodian.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, record.Id, sent[0].Reference)
	assert.Equal(t, []string{notify.EventWithdrawalSent}, f.notifier.types())

	listed, err := f.svc.ListWithdrawals(ctx, user.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, record.Id, listed[0].Id)
}

func TestWithdraw_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "10")

	_, err := f.svc.Withdraw(ctx, user.Id, WithdrawRequest{Asset: "USDC", Network: "base", Amount: "1", Address: "not-an-address"})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = f.svc.Withdraw(ctx, user.Id, withdrawRequest("0"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Withdraw(ctx, user.Id, withdrawRequest("11"))
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	assert.Empty(t, f.custodian.sent())
	assertDecimal(t, "10", f.balance(t, user.Id))
}

func TestWithdraw_RejectedReversesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 400, Body: "bad request"}

	_, err := f.svc.Withdraw(ctx, user.Id, withdrawRequest("40"))
	require.Error(t, err)
	assertDecimal(t, "100", f.balance(t, user.Id))

	listed, err := f.svc.ListWithdrawals(ctx, user.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.WithdrawalFailed, listed[0].Status)
}

func TestWithdraw_TimeoutKeepsHoldUntilCustodianReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 504}

	record, err := f.svc.Withdraw(ctx, user.Id, withdrawRequest("40"))
	require.Error(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.WithdrawalPending, record.Status)
	assertDecimal(t, "60", f.balance(t, user.Id))

	failed := models.CustodyTransaction{
		Id:        "custody-wd-1",
		Type:      models.CustodyTxWithdrawal,
		Status:    models.CustodyStatusFailed,
		Asset:     "USDC",
		Network:   "base",
		Amount:    decimal.NewFromInt(40),
		Reference: record.Id,
	}
	require.NoError(t, f.svc.HandleCustodyTransaction(ctx, failed))
	require.NoError(t, f.svc.HandleCustodyTransaction(ctx, failed))

	assertDecimal(t, "100", f.balance(t, user.Id))
	stored, err := f.db.GetWithdrawal(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, stored.Status)
	assert.Contains(t, f.notifier.types(), notify.EventWithdrawalFail)
}

func TestCompleteWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	record, err := f.svc.Withdraw(ctx, user.Id, withdrawRequest("40"))
	require.NoError(t, err)

	err = f.svc.HandleCustodyTransaction(ctx, models.CustodyTransaction{
		Id:        "custody-wd-1",
		Type:      models.CustodyTxWithdrawal,
		Status:    models.CustodyStatusSuccess,
		Reference: record.Id,
		TxHash:    "0xfinal",
	})
	require.NoError(t, err)

	stored, err := f.db.GetWithdrawal(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, stored.Status)
	assert.Equal(t, "0xfinal", stored.TxHash)
	assertDecimal(t, "60", f.balance(t, user.Id))
}

func TestCreditBackFailedWithdrawal_OfframpOnlyRecordsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	order, err := f.svc.CreateOfframp(ctx, user.Id, offrampRequest("key-1", "50"))
	require.NoError(t, err)
	require.Equal(t, models.OfframpCryptoSent, order.Status)

	err = f.svc.HandleCustodyTransaction(ctx, models.CustodyTransaction{
		Id:        "custody-wd-2",
		Type:      models.CustodyTxWithdrawal,
		Status:    models.CustodyStatusFailed,
		Reference: order.Id,
	})
	require.NoError(t, err)

	stored, err := f.db.GetOfframp(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfframpCryptoSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assertDecimal(t, "49.5", f.balance(t, user.Id))
}

func TestCreditBackFailedWithdrawal_IgnoresCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")

	record, err := f.svc.Withdraw(ctx, user.Id, withdrawRequest("40"))
	require.NoError(t, err)

	tx := models.CustodyTransaction{
		Id:        "custody-wd-3",
		Type:      models.CustodyTxWithdrawal,
		Status:    models.CustodyStatusSuccess,
		Asset:     "USDC",
		Network:   "base",
		Amount:    decimal.NewFromInt(40),
		Reference: record.Id,
	}
	require.NoError(t, f.svc.HandleCustodyTransaction(ctx, tx))

	tx.Status = models.CustodyStatusFailed
	require.NoError(t, f.svc.HandleCustodyTransaction(ctx, tx))

	stored, err := f.db.GetWithdrawal(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, stored.Status)
	assertDecimal(t, "60", f.balance(t, user.Id))
	assert.Len(t, f.custodian.sent(), 1)
	assert.NotContains(t, f.notifier.types(), notify.EventWithdrawalFail)
}

func TestResumeWithdrawal_ResubmitsWithSameReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 503}

	record, err := f.svc.Withdraw(ctx, user.Id, withdrawRequest("40"))
	require.Error(t, err)
	require.NotNil(t, record)

	stale, err := f.svc.StaleWithdrawals(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, record.Id, stale[0].Id)

	f.custodian.withdrawErr = nil
	resumed, err := f.svc.ResumeWithdrawal(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalSubmitted, resumed.Status)
	assert.Equal(t, "wd-"+record.Id, resumed.CustodyWithdrawalId)
	assert.Empty(t, resumed.FailureReason)
	assertDecimal(t, "60", f.balance(t, user.Id))

	for _, req := range f.custodian.sent() {
		assert.Equal(t, record.Id, req.Reference)
	}

	stale, err = f.svc.StaleWithdrawals(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	again, err := f.svc.ResumeWithdrawal(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalSubmitted, again.Status)
}

func TestResumeWithdrawal_RejectionReversesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, models.RoleUser)
	f.fund(t, user.Id, "100")
	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 504}

	record, err := f.svc.Withdraw(ctx, user.Id, withdrawRequest("40"))
	require.Error(t, err)
	assertDecimal(t, "60", f.balance(t, user.Id))

	f.custodian.withdrawErr = &httpclient.APIError{Provider: "fake", StatusCode: 422, Body: "insufficient custody balance"}
	_, err = f.svc.ResumeWithdrawal(ctx, record.Id)
	require.Error(t, err)

	assertDecimal(t, "100", f.balance(t, user.Id))
	stored, err := f.db.GetWithdrawal(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, stored.Status)
}
