package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custodial-wallet-go/internal/custody"
	"custodial-wallet-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCustodian struct {
	mu   sync.Mutex
	txs  []models.CustodyTransaction
	err  error
	seen []time.Time
}

func (f *fakeCustodian) Name() string { return "fake" }

func (f *fakeCustodian) CreateDepositAddress(context.Context, string, string, string) (*models.DepositAddress, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCustodian) Withdraw(context.Context, models.WithdrawalRequest) (*models.Withdrawal, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCustodian) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeCustodian) ListTransactions(_ context.Context, since time.Time) ([]models.CustodyTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, since)
	return append([]models.CustodyTransaction(nil), f.txs...), f.err
}

func (f *fakeCustodian) SignatureHeader() string { return "" }

func (f *fakeCustodian) VerifyWebhook([]byte, string) error { return custody.ErrWebhooksUnsupported }

func (f *fakeCustodian) ParseWebhook([]byte) (*models.CustodyEvent, error) {
	return nil, custody.ErrWebhooksUnsupported
}

type fakeService struct {
	mu        sync.Mutex
	custodian *fakeCustodian
	handled   []string
	failOn    map[string]error

	stale     map[models.OfframpStatus][]models.OfframpOrder
	resumed   []string
	refreshed []string
	resumeErr error
	reconciled int

	staleWithdrawals   []models.WithdrawalRecord
	resumedWithdrawals []string
	withdrawalErr      map[string]error
}

func newFakeService() *fakeService {
	return &fakeService{
		custodian: &fakeCustodian{},
		failOn:    map[string]error{},
		stale:     map[models.OfframpStatus][]models.OfframpOrder{},

		withdrawalErr: map[string]error{},
	}
}

func (f *fakeService) Custodian() custody.Custodian { return f.custodian }

func (f *fakeService) HandleCustodyTransaction(_ context.Context, tx models.CustodyTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[tx.Id]; err != nil {
		return err
	}
	f.handled = append(f.handled, processedKey(tx))
	return nil
}

func (f *fakeService) StaleOfframps(_ context.Context, statuses []models.OfframpStatus, _ time.Duration, _ int) ([]models.OfframpOrder, error) {
	var out []models.OfframpOrder
	for _, status := range statuses {
		out = append(out, f.stale[status]...)
	}
	return out, nil
}

func (f *fakeService) ResumeOfframp(_ context.Context, id string) (*models.OfframpOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	f.resumed = append(f.resumed, id)
	return &models.OfframpOrder{Id: id, Status: models.OfframpCryptoSent}, nil
}

func (f *fakeService) RefreshOfframpStatus(_ context.Context, id string) (*models.OfframpOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, id)
	return &models.OfframpOrder{Id: id, Status: models.OfframpSettled}, nil
}

func (f *fakeService) StaleWithdrawals(context.Context, time.Duration, int) ([]models.WithdrawalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.WithdrawalRecord(nil), f.staleWithdrawals...), nil
}

func (f *fakeService) ResumeWithdrawal(_ context.Context, id string) (*models.WithdrawalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.withdrawalErr[id]; err != nil {
		return nil, err
	}
	f.resumedWithdrawals = append(f.resumedWithdrawals, id)
	return &models.WithdrawalRecord{Id: id, Status: models.WithdrawalSubmitted}, nil
}

func (f *fakeService) ReconcileCustody(context.Context) ([]models.ReconciliationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled++
	return []models.ReconciliationReport{{Asset: "USDC", Matched: false}}, nil
}

func (f *fakeService) handledKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.handled...)
}

func newTestListener(t *testing.T, svc *fakeService) *Listener {
	t.Helper()
	l, err := New(Config{
		Service:         svc,
		LookbackWindow:  time.Hour,
		PollingInterval: time.Hour,
	})
	require.NoError(t, err)
	return l
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{PollingInterval: time.Second})
	assert.Error(t, err)

	_, err = New(Config{Service: newFakeService()})
	assert.Error(t, err)
}

func TestPollCustodian_SkipsProcessed(t *testing.T) {
	svc := newFakeService()
	svc.custodian.txs = []models.CustodyTransaction{
		{Id: "tx-1", Type: models.CustodyTxDeposit, Status: models.CustodyStatusSuccess, Asset: "USDC", Amount: decimal.NewFromInt(10)},
		{Id: "tx-2", Type: models.CustodyTxWithdrawal, Status: models.CustodyStatusPending, Asset: "USDC", Amount: decimal.NewFromInt(3)},
	}
	l := newTestListener(t, svc)
	ctx := context.Background()

	applied, err := l.pollCustodian(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	applied, err = l.pollCustodian(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	// the withdrawal settles and is applied again under its new status
	svc.custodian.txs[1].Status = models.CustodyStatusSuccess
	applied, err = l.pollCustodian(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	assert.Equal(t, []string{"tx-1:SUCCESS", "tx-2:PENDING", "tx-2:SUCCESS"}, svc.handledKeys())
}

func TestPollCustodian_RetriesFailures(t *testing.T) {
	svc := newFakeService()
	svc.custodian.txs = []models.CustodyTransaction{
		{Id: "tx-1", Type: models.CustodyTxDeposit, Status: models.CustodyStatusSuccess, Asset: "USDC"},
	}
	svc.failOn["tx-1"] = errors.New("database locked")
	l := newTestListener(t, svc)
	ctx := context.Background()

	applied, err := l.pollCustodian(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.False(t, l.isTransactionProcessed("tx-1:SUCCESS"))

	delete(svc.failOn, "tx-1")
	applied, err = l.pollCustodian(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

func TestPollCustodian_FetchError(t *testing.T) {
	svc := newFakeService()
	svc.custodian.err = errors.New("custodian down")
	l := newTestListener(t, svc)

	_, err := l.pollCustodian(context.Background())
	assert.ErrorContains(t, err, "custodian down")
}

func TestCleanupProcessedTransactions(t *testing.T) {
	l := newTestListener(t, newFakeService())

	l.processedTxIds["old:SUCCESS"] = time.Now().UTC().Add(-2 * time.Hour)
	l.markTransactionProcessed("new:SUCCESS")

	l.cleanupProcessedTransactions()
	assert.False(t, l.isTransactionProcessed("old:SUCCESS"))
	assert.True(t, l.isTransactionProcessed("new:SUCCESS"))
}

func TestMaintainOrders(t *testing.T) {
	svc := newFakeService()
	svc.stale[models.OfframpFundsHeld] = []models.OfframpOrder{{Id: "order-1", Status: models.OfframpFundsHeld}}
	svc.stale[models.OfframpQuoted] = []models.OfframpOrder{{Id: "order-2", Status: models.OfframpQuoted}}
	svc.stale[models.OfframpCryptoSent] = []models.OfframpOrder{{Id: "order-3", Status: models.OfframpCryptoSent}}
	l := newTestListener(t, svc)

	l.maintainOrders(context.Background())

	assert.ElementsMatch(t, []string{"order-1", "order-2"}, svc.resumed)
	assert.Equal(t, []string{"order-3"}, svc.refreshed)
}

func TestResumeStuckOrders_ErrorsDoNotStop(t *testing.T) {
	svc := newFakeService()
	svc.stale[models.OfframpCreated] = []models.OfframpOrder{{Id: "a"}, {Id: "b"}}
	svc.resumeErr = errors.New("paycrest unavailable")
	l := newTestListener(t, svc)

	assert.Equal(t, 0, l.resumeStuckOrders(context.Background()))
}

func TestResumeStuckWithdrawals(t *testing.T) {
	svc := newFakeService()
	svc.staleWithdrawals = []models.WithdrawalRecord{
		{Id: "wd-1", Status: models.WithdrawalPending},
		{Id: "wd-2", Status: models.WithdrawalPending},
		{Id: "wd-3", Status: models.WithdrawalPending},
	}
	svc.withdrawalErr["wd-2"] = errors.New("custodian unavailable")
	l := newTestListener(t, svc)

	assert.Equal(t, 2, l.resumeStuckWithdrawals(context.Background()))
	assert.Equal(t, []string{"wd-1", "wd-3"}, svc.resumedWithdrawals)
}

func TestMaintainOrders_ResubmitsPendingWithdrawals(t *testing.T) {
	svc := newFakeService()
	svc.staleWithdrawals = []models.WithdrawalRecord{{Id: "wd-1", Status: models.WithdrawalPending}}
	l := newTestListener(t, svc)

	l.maintainOrders(context.Background())

	assert.Equal(t, []string{"wd-1"}, svc.resumedWithdrawals)
}

func TestStartStop(t *testing.T) {
	svc := newFakeService()
	svc.custodian.txs = []models.CustodyTransaction{
		{Id: "tx-1", Type: models.CustodyTxDeposit, Status: models.CustodyStatusSuccess},
	}
	l, err := New(Config{
		Service:           svc,
		LookbackWindow:    time.Hour,
		PollingInterval:   10 * time.Millisecond,
		ReconcileInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, []string{"tx-1:SUCCESS"}, svc.handledKeys())

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.reconciled > 0
	}, time.Second, 5*time.Millisecond)

	l.Stop()
	l.Stop()
}

func TestStart_RecoveryFailureIsNotFatal(t *testing.T) {
	svc := newFakeService()
	svc.custodian.err = errors.New("timeout")
	l := newTestListener(t, svc)

	require.NoError(t, l.Start(context.Background()))
	l.Stop()
}
