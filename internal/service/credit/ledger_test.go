package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"copydrive-service/internal/domain/credit"
	"copydrive-service/internal/metrics"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ========== FAKES ==========

type fakeRepo struct {
	mu       sync.Mutex
	balances map[uuid.UUID]credit.WorkspaceCredits
	txs      []credit.CreditTransaction
	clock    time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		balances: make(map[uuid.UUID]credit.WorkspaceCredits),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *fakeRepo) seed(id uuid.UUID, balance string) {
	b := decimal.RequireFromString(balance)
	r.balances[id] = credit.WorkspaceCredits{WorkspaceID: id, Balance: b, TotalAdded: b}
}

func (r *fakeRepo) LockWithTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*credit.WorkspaceCredits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wc, ok := r.balances[id]
	if !ok {
		wc = credit.WorkspaceCredits{WorkspaceID: id}
		r.balances[id] = wc
	}
	return &wc, nil
}

func (r *fakeRepo) UpdateBalanceWithTx(_ context.Context, _ pgx.Tx, wc *credit.WorkspaceCredits) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[wc.WorkspaceID] = *wc
	return nil
}

func (r *fakeRepo) CreateTransactionWithTx(_ context.Context, _ pgx.Tx, t *credit.CreditTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = r.clock.Add(time.Second)
	t.ID = uuid.New()
	t.CreatedAt = r.clock
	r.txs = append(r.txs, *t)
	return nil
}

func (r *fakeRepo) FindDebitByGenerationWithTx(_ context.Context, _ pgx.Tx, id uuid.UUID, gen string) (*credit.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.txs {
		if t.WorkspaceID == id && t.GenerationID != nil && *t.GenerationID == gen {
			found := t
			return &found, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (r *fakeRepo) FindByWorkspace(_ context.Context, id uuid.UUID) (*credit.WorkspaceCredits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wc, ok := r.balances[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &wc, nil
}

func (r *fakeRepo) ListTransactions(_ context.Context, id uuid.UUID, _ *credit.TransactionListFilters) ([]credit.CreditTransaction, int64, error) {
	txs, _ := r.ListTransactionsChronological(context.Background(), id)
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs, int64(len(txs)), nil
}

func (r *fakeRepo) ListTransactionsChronological(_ context.Context, id uuid.UUID) ([]credit.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []credit.CreditTransaction{}
	for _, t := range r.txs {
		if t.WorkspaceID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

// serialTx runs one transaction at a time, standing in for the row lock.
type serialTx struct{ mu sync.Mutex }

func (s *serialTx) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(nil)
}

type recordedBalance struct {
	balance, delta decimal.Decimal
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedBalance
}

func (n *fakeNotifier) BalanceChanged(_ context.Context, _ uuid.UUID, balance, delta decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedBalance{balance, delta})
}

func newLedger(repo *fakeRepo) (*Ledger, *fakeNotifier) {
	n := &fakeNotifier{}
	return NewLedger(repo, &serialTx{}, n, zap.NewNop()), n
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ========== TESTS ==========

func TestAddCreditsPositive(t *testing.T) {
	repo := newFakeRepo()
	ledger, notifier := newLedger(repo)
	ws := uuid.New()

	res, err := ledger.AddCredits(context.Background(), &credit.AddCreditsRequest{
		WorkspaceID: ws, Amount: dec("150.5"), Description: "bonus",
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, dec("150.5").Equal(*res.Balance))
	require.NotNil(t, res.TransactionID)

	require.Len(t, repo.txs, 1)
	tx := repo.txs[0]
	assert.Equal(t, credit.TransactionCredit, tx.TransactionType)
	assert.True(t, tx.BalanceBefore.IsZero())
	assert.True(t, dec("150.5").Equal(tx.BalanceAfter))
	require.Len(t, notifier.events, 1)
}

func TestAddCreditsNegativeCountsAsUsage(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "100")

	res, err := ledger.AddCredits(context.Background(), &credit.AddCreditsRequest{
		WorkspaceID: ws, Amount: dec("-40"),
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	wc := repo.balances[ws]
	assert.True(t, dec("60").Equal(wc.Balance))
	assert.True(t, dec("40").Equal(wc.TotalUsed))
	assert.True(t, wc.Consistent())
	assert.Equal(t, credit.TransactionDebit, repo.txs[0].TransactionType)
	assert.True(t, dec("40").Equal(repo.txs[0].Amount))
}

func TestAddCreditsRemovalBeyondBalance(t *testing.T) {
	repo := newFakeRepo()
	ledger, notifier := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "10")

	res, err := ledger.AddCredits(context.Background(), &credit.AddCreditsRequest{
		WorkspaceID: ws, Amount: dec("-10.0001"),
	}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeInsufficientCredits, res.Error)
	assert.Empty(t, repo.txs)
	assert.Empty(t, notifier.events)
}

func TestAddCreditsZeroIsNoop(t *testing.T) {
	repo := newFakeRepo()
	ledger, notifier := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "5")

	res, err := ledger.AddCredits(context.Background(), &credit.AddCreditsRequest{WorkspaceID: ws}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, dec("5").Equal(*res.Balance))
	assert.Empty(t, repo.txs)
	assert.Empty(t, notifier.events)
}

func TestAddCreditsRejectsExcessPrecision(t *testing.T) {
	ledger, _ := newLedger(newFakeRepo())

	res, err := ledger.AddCredits(context.Background(), &credit.AddCreditsRequest{
		WorkspaceID: uuid.New(), Amount: dec("1.00001"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, xerrors.CodeInvalidAmount, res.Error)
}

func TestSetCreditsComputesDeltaServerSide(t *testing.T) {
	repo := newFakeRepo()
	ledger, notifier := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "80")
	admin := uuid.New()

	res, err := ledger.SetCredits(context.Background(), ws, &credit.SetCreditsRequest{TargetBalance: dec("50")}, &admin)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, dec("50").Equal(*res.Balance))

	require.Len(t, repo.txs, 1)
	assert.Equal(t, credit.TransactionDebit, repo.txs[0].TransactionType)
	assert.True(t, dec("30").Equal(repo.txs[0].Amount))
	assert.Equal(t, &admin, repo.txs[0].UserID)
	require.Len(t, notifier.events, 1)
	assert.True(t, dec("-30").Equal(notifier.events[0].delta))
}

func TestSetCreditsRejectsNegativeTarget(t *testing.T) {
	ledger, _ := newLedger(newFakeRepo())

	res, err := ledger.SetCredits(context.Background(), uuid.New(), &credit.SetCreditsRequest{TargetBalance: dec("-1")}, nil)
	require.NoError(t, err)
	assert.Equal(t, xerrors.CodeInvalidAmount, res.Error)
}

func TestConcurrentSetCreditsConverge(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "100")

	var wg sync.WaitGroup
	for _, target := range []string{"10", "20", "30", "40"} {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			_, err := ledger.SetCredits(context.Background(), ws, &credit.SetCreditsRequest{TargetBalance: dec(target)}, nil)
			assert.NoError(t, err)
		}(target)
	}
	wg.Wait()

	report, err := ledger.VerifyLedger(context.Background(), ws)
	require.NoError(t, err)
	// the seed balance has no ledger row, so only the totals and chain deltas are compared
	assert.True(t, report.TotalsConsistent)
	assert.Equal(t, 4, report.TransactionCount)
}

func TestDebitCreditsConvertsTokens(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "10")

	res, err := ledger.DebitCredits(context.Background(), &credit.DebitCreditsRequest{
		WorkspaceID: ws, ModelName: "gpt-4o-mini", TokensUsed: 12345, GenerationID: "gen-1",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, dec("1.2345").Equal(*res.CreditsCharged))
	assert.True(t, dec("8.7655").Equal(*res.Balance))

	tx := repo.txs[0]
	assert.Equal(t, "gpt-4o-mini", *tx.ModelName)
	assert.Equal(t, int64(12345), *tx.TokensUsed)
	assert.Equal(t, "gen-1", *tx.GenerationID)
}

func TestDebitCreditsUnknownModelsShareMetricSeries(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "1000")
	before := testutil.ToFloat64(metrics.CreditsDebited.WithLabelValues("unknown"))

	for i := 0; i < 50; i++ {
		res, err := ledger.DebitCredits(context.Background(), &credit.DebitCreditsRequest{
			WorkspaceID: ws, ModelName: fmt.Sprintf("custom-model-%d", i), TokensUsed: 100, GenerationID: fmt.Sprintf("gen-%d", i),
		})
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	assert.InDelta(t, 5.0, testutil.ToFloat64(metrics.CreditsDebited.WithLabelValues("unknown"))-before, 1e-9)
	assert.Zero(t, testutil.ToFloat64(metrics.CreditsDebited.WithLabelValues("custom-model-0")))
}

func TestDebitCreditsSumsInputAndOutput(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "10")

	res, err := ledger.DebitCredits(context.Background(), &credit.DebitCreditsRequest{
		WorkspaceID: ws, ModelName: "gpt-4o", InputTokens: 700, OutputTokens: 800,
	})
	require.NoError(t, err)
	assert.True(t, dec("1.5").Equal(*res.CreditsCharged))
}

func TestDebitCreditsInsufficientLeavesBalance(t *testing.T) {
	repo := newFakeRepo()
	ledger, notifier := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "1")

	res, err := ledger.DebitCredits(context.Background(), &credit.DebitCreditsRequest{
		WorkspaceID: ws, ModelName: "gpt-4o", TokensUsed: 1001,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeInsufficientCredits, res.Error)
	assert.True(t, dec("1").Equal(repo.balances[ws].Balance))
	assert.Empty(t, repo.txs)
	assert.Empty(t, notifier.events)
}

func TestDebitCreditsReplayedGeneration(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "10")
	req := &credit.DebitCreditsRequest{WorkspaceID: ws, ModelName: "gpt-4o", TokensUsed: 2000, GenerationID: "gen-7"}

	first, err := ledger.DebitCredits(context.Background(), req)
	require.NoError(t, err)
	second, err := ledger.DebitCredits(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, *first.TransactionID, *second.TransactionID)
	assert.Len(t, repo.txs, 1)
	assert.True(t, dec("8").Equal(repo.balances[ws].Balance))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.DebitCredits(context.Background(), &credit.DebitCreditsRequest{
				WorkspaceID: ws, ModelName: "gpt-4o", TokensUsed: 1000,
			})
			if !assert.NoError(t, err) {
				return
			}
			if res.Success {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.True(t, repo.balances[ws].Balance.IsZero())
	assert.Equal(t, 10, repo.count())
}

func TestCheckCredits(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	repo.seed(ws, "2")

	ok, err := ledger.CheckCredits(context.Background(), &credit.CheckCreditsRequest{WorkspaceID: ws, EstimatedTokens: 2000, ModelName: "gpt-4o"})
	require.NoError(t, err)
	assert.True(t, ok.HasSufficientCredits)

	short, err := ledger.CheckCredits(context.Background(), &credit.CheckCreditsRequest{WorkspaceID: ws, EstimatedTokens: 2001, ModelName: "gpt-4o"})
	require.NoError(t, err)
	assert.False(t, short.HasSufficientCredits)
	assert.True(t, dec("2.001").Equal(short.EstimatedCredits))

	empty, err := ledger.CheckCredits(context.Background(), &credit.CheckCreditsRequest{WorkspaceID: uuid.New(), EstimatedTokens: 1, ModelName: "gpt-4o"})
	require.NoError(t, err)
	assert.False(t, empty.HasSufficientCredits)
	assert.True(t, empty.Balance.IsZero())
}

func TestVerifyLedgerReplaysToBalance(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, &credit.AddCreditsRequest{WorkspaceID: ws, Amount: dec("100")}, nil)
	require.NoError(t, err)
	_, err = ledger.DebitCredits(ctx, &credit.DebitCreditsRequest{WorkspaceID: ws, ModelName: "gemini-1.5-pro", TokensUsed: 1000})
	require.NoError(t, err)
	_, err = ledger.AddCredits(ctx, &credit.AddCreditsRequest{WorkspaceID: ws, Amount: dec("-9.3333")}, nil)
	require.NoError(t, err)

	report, err := ledger.VerifyLedger(ctx, ws)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 3, report.TransactionCount)
	assert.True(t, dec("90").Equal(report.ReplayedBalance))
	assert.Nil(t, report.FirstBrokenLink)
}

func TestVerifyLedgerDetectsTampering(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()
	ctx := context.Background()

	_, err := ledger.AddCredits(ctx, &credit.AddCreditsRequest{WorkspaceID: ws, Amount: dec("10")}, nil)
	require.NoError(t, err)
	_, err = ledger.AddCredits(ctx, &credit.AddCreditsRequest{WorkspaceID: ws, Amount: dec("5")}, nil)
	require.NoError(t, err)

	repo.txs[1].BalanceBefore = dec("11")

	report, err := ledger.VerifyLedger(ctx, ws)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.False(t, report.ChainConsistent)
	require.NotNil(t, report.FirstBrokenLink)
	assert.Equal(t, repo.txs[1].ID, *report.FirstBrokenLink)
}

func TestListTransactionsPages(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	ws := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := ledger.AddCredits(context.Background(), &credit.AddCreditsRequest{WorkspaceID: ws, Amount: dec("1")}, nil)
		require.NoError(t, err)
	}

	resp, err := ledger.ListTransactions(context.Background(), ws, &credit.TransactionListFilters{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	assert.Equal(t, 1, resp.Page)
}

// ========== METERED ==========

func TestMeteredRefusesGenerationWhenInsufficient(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	metered := NewMetered(ledger, zap.NewNop())
	ws := uuid.New()
	repo.seed(ws, "0.5")

	called := false
	res, err := metered.Run(context.Background(), MeteredRequest{
		WorkspaceID: ws, ModelName: "gpt-4o", EstimatedTokens: 1000,
	}, func(ctx context.Context) (*Usage, error) {
		called = true
		return &Usage{InputTokens: 1000}, nil
	})

	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInsufficientCredits, xerrors.CodeOf(err))
	assert.True(t, res.Denied)
	assert.False(t, called)
	assert.Empty(t, repo.txs)
}

func TestMeteredDebitsActualUsage(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	metered := NewMetered(ledger, zap.NewNop())
	ws := uuid.New()
	repo.seed(ws, "5")

	res, err := metered.Run(context.Background(), MeteredRequest{
		WorkspaceID: ws, ModelName: "gpt-4o", EstimatedTokens: 1000,
	}, func(ctx context.Context) (*Usage, error) {
		return &Usage{InputTokens: 400, OutputTokens: 1100, GenerationID: "g-1"}, nil
	})

	require.NoError(t, err)
	require.True(t, res.Debit.Success)
	assert.True(t, dec("1.5").Equal(*res.Debit.CreditsCharged))
	assert.True(t, dec("3.5").Equal(repo.balances[ws].Balance))
}

func TestMeteredGenerationFailureDoesNotDebit(t *testing.T) {
	repo := newFakeRepo()
	ledger, _ := newLedger(repo)
	metered := NewMetered(ledger, zap.NewNop())
	ws := uuid.New()
	repo.seed(ws, "5")

	_, err := metered.Run(context.Background(), MeteredRequest{
		WorkspaceID: ws, ModelName: "gpt-4o", EstimatedTokens: 10,
	}, func(ctx context.Context) (*Usage, error) {
		return nil, errors.New("provider timeout")
	})

	require.Error(t, err)
	assert.Empty(t, repo.txs)
}
