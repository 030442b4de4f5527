package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/impairment-engine/internal/application/dto"
	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/port"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockLoanSource struct {
	fetchPageFunc func(ctx context.Context, portfolioID, afterID int64, limit int) ([]model.LoanSnapshot, error)
}

func (m *mockLoanSource) FetchPage(ctx context.Context, portfolioID, afterID int64, limit int) ([]model.LoanSnapshot, error) {
	return m.fetchPageFunc(ctx, portfolioID, afterID, limit)
}

// pagedSource serves loans in ascending id order the way the postgres source does.
func pagedSource(loans []model.LoanSnapshot) *mockLoanSource {
	return &mockLoanSource{
		fetchPageFunc: func(_ context.Context, _ int64, afterID int64, limit int) ([]model.LoanSnapshot, error) {
			var page []model.LoanSnapshot
			for _, l := range loans {
				if l.ID > afterID && len(page) < limit {
					page = append(page, l)
				}
			}
			return page, nil
		},
	}
}

type mockConfigSource struct {
	fetchStagingConfigFunc func(ctx context.Context, portfolioID int64, regime valueobject.Regime) (model.RawStagingConfig, error)
}

func (m *mockConfigSource) FetchStagingConfig(ctx context.Context, portfolioID int64, regime valueobject.Regime) (model.RawStagingConfig, error) {
	return m.fetchStagingConfigFunc(ctx, portfolioID, regime)
}

func staticConfigs() *mockConfigSource {
	return &mockConfigSource{
		fetchStagingConfigFunc: func(_ context.Context, _ int64, regime valueobject.Regime) (model.RawStagingConfig, error) {
			if regime == valueobject.RegimeECL {
				return model.RawStagingConfig{
					"stage_1": {DaysRange: "0-30"},
					"stage_2": {DaysRange: "30-90"},
					"stage_3": {DaysRange: "90+"},
				}, nil
			}
			return nil, port.ErrNotFound
		},
	}
}

// memoryStore keeps committed pages and discards rolled back ones.
type memoryStore struct {
	mu          sync.Mutex
	committed   map[int64]model.LoanCalculationResult
	writes      map[int64]int
	checkpoints []model.Checkpoint
	summaries   []model.CalculationSummary
	rollbacks   int

	applyErr  func(result model.LoanCalculationResult) error
	commitErr func(cp model.Checkpoint) error
	loadFunc  func(runID string) (model.Checkpoint, error)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		committed: make(map[int64]model.LoanCalculationResult),
		writes:    make(map[int64]int),
	}
}

func (s *memoryStore) BeginPage(context.Context) (port.PageWriter, error) {
	return &memoryPage{store: s}, nil
}

func (s *memoryStore) LoadCheckpoint(_ context.Context, runID string) (model.Checkpoint, error) {
	if s.loadFunc != nil {
		return s.loadFunc(runID)
	}
	return model.Checkpoint{}, port.ErrNotFound
}

func (s *memoryStore) SaveSummary(_ context.Context, summary model.CalculationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

type memoryPage struct {
	store   *memoryStore
	pending []model.LoanCalculationResult
}

func (p *memoryPage) ApplyResult(_ context.Context, r model.LoanCalculationResult) error {
	if p.store.applyErr != nil {
		if err := p.store.applyErr(r); err != nil {
			return err
		}
	}
	p.pending = append(p.pending, r)
	return nil
}

func (p *memoryPage) Commit(_ context.Context, cp model.Checkpoint) error {
	if p.store.commitErr != nil {
		if err := p.store.commitErr(cp); err != nil {
			return err
		}
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, r := range p.pending {
		p.store.committed[r.LoanID] = r
		p.store.writes[r.LoanID]++
	}
	p.store.checkpoints = append(p.store.checkpoints, cp)
	return nil
}

func (p *memoryPage) Rollback(context.Context) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	p.store.rollbacks++
	p.pending = nil
	return nil
}

type mockNotifier struct {
	mu              sync.Mutex
	started         []port.RunNotice
	succeeded       []port.RunNotice
	failed          []port.RunNotice
	notifyStartFunc func(ctx context.Context, n port.RunNotice) error
}

func (m *mockNotifier) NotifyStarted(ctx context.Context, n port.RunNotice) error {
	m.mu.Lock()
	m.started = append(m.started, n)
	m.mu.Unlock()
	if m.notifyStartFunc != nil {
		return m.notifyStartFunc(ctx, n)
	}
	return nil
}

func (m *mockNotifier) NotifySucceeded(_ context.Context, n port.RunNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded = append(m.succeeded, n)
	return nil
}

func (m *mockNotifier) NotifyFailed(_ context.Context, n port.RunNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, n)
	return nil
}

type mockProgress struct {
	reports []model.RunProgress
}

func (m *mockProgress) ReportProgress(_ context.Context, p model.RunProgress) error {
	m.reports = append(m.reports, p)
	return nil
}

type fixedPD float64

func (p fixedPD) Score(*int) float64 { return float64(p) }

// panickyPD panics for one birth year.
type panickyPD struct{ year int }

func (p panickyPD) Score(birthYear *int) float64 {
	if birthYear != nil && *birthYear == p.year {
		panic("pd model exploded")
	}
	return 0.05
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var reportingDate = time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)

func activeLoan(id int64) model.LoanSnapshot {
	return model.LoanSnapshot{
		ID:                 id,
		PortfolioID:        7,
		Principal:          decimal.NewFromInt(10000),
		AdministrativeFees: decimal.NewFromInt(100),
		MonthlyInstallment: decimal.NewFromInt(900),
		TermMonths:         12,
		IssueDate:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func portfolio(n int) []model.LoanSnapshot {
	out := make([]model.LoanSnapshot, n)
	for i := range out {
		// Sparse ids exercise keyset paging.
		out[i] = activeLoan(int64(i*3 + 10))
	}
	return out
}

func newUseCase(loans port.LoanSource, store port.ResultStore, notifier port.Notifier, progress port.ProgressReporter, pd port.PDScorer) *RunCalculationUseCase {
	return NewRunCalculationUseCase(loans, staticConfigs(), store, notifier, progress, pd, nil, nil, Options{Workers: 3})
}

func request(kind valueobject.RunKind, pageSize int) dto.RunCalculationRequest {
	return dto.RunCalculationRequest{
		PortfolioID:   7,
		RunKind:       kind.String(),
		ReportingDate: reportingDate,
		PageSize:      pageSize,
		Recipient:     "risk@bank.example",
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunCalculation_EveryLoanExactlyOnce(t *testing.T) {
	tests := []struct {
		name     string
		kind     valueobject.RunKind
		loans    int
		pageSize int
		pages    int
		undated  bool
	}{
		{name: "empty portfolio", kind: valueobject.RunKindLocalImpairment, loans: 0, pageSize: 10, pages: 0},
		{name: "single page", kind: valueobject.RunKindLocalImpairment, loans: 5, pageSize: 10, pages: 1},
		{name: "exact multiple", kind: valueobject.RunKindLocalImpairment, loans: 20, pageSize: 10, pages: 2},
		{name: "partial last page", kind: valueobject.RunKindLocalImpairment, loans: 23, pageSize: 10, pages: 3},
		{name: "page size one", kind: valueobject.RunKindLocalImpairment, loans: 4, pageSize: 1, pages: 4},
		{name: "ECL with an undated loan", kind: valueobject.RunKindECL, loans: 6, pageSize: 4, pages: 2, undated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loans := portfolio(tt.loans)
			if tt.undated {
				loans[2].IssueDate = time.Time{}
			}
			store := newMemoryStore()
			progress := &mockProgress{}
			uc := newUseCase(pagedSource(loans), store, nil, progress, fixedPD(0.05))

			resp, err := uc.Execute(context.Background(), request(tt.kind, tt.pageSize))
			require.NoError(t, err)

			assert.Equal(t, "SUCCEEDED", resp.Status)
			assert.Equal(t, tt.loans, resp.LoanCount)
			assert.Zero(t, resp.SkippedCount)
			assert.Len(t, store.committed, tt.loans)
			for _, l := range loans {
				assert.Equal(t, 1, store.writes[l.ID], "loan %d", l.ID)
			}
			if tt.undated {
				undated := store.committed[loans[2].ID]
				assert.True(t, undated.EAD.IsZero())
				assert.True(t, undated.FinalECL.IsZero())
			}
			assert.Len(t, store.checkpoints, tt.pages)
			assert.Len(t, progress.reports, tt.pages)
			require.Len(t, store.summaries, 1)
			assert.Equal(t, tt.loans, store.summaries[0].LoanCount)
		})
	}
}

func TestRunCalculation_TotalsMatchResults(t *testing.T) {
	loans := portfolio(7)
	loans[2].NDIA = intPtr(45)  // olem
	loans[4].NDIA = intPtr(200) // loss

	store := newMemoryStore()
	uc := newUseCase(pagedSource(loans), store, nil, nil, nil)

	resp, err := uc.Execute(context.Background(), request(valueobject.RunKindLocalImpairment, 3))
	require.NoError(t, err)

	ead, provision := decimal.Zero, decimal.Zero
	for _, r := range store.committed {
		ead = ead.Add(r.EAD)
		provision = provision.Add(r.Provision)
	}
	assert.True(t, ead.Equal(resp.TotalEAD), "ead %s vs %s", ead, resp.TotalEAD)
	assert.True(t, provision.Equal(resp.TotalProvision))
	assert.Equal(t, 5, resp.Buckets["current"].Count)
	assert.Equal(t, 1, resp.Buckets["olem"].Count)
	assert.Equal(t, 1, resp.Buckets["loss"].Count)
	assert.True(t, resp.Buckets["loss"].EAD.Equal(resp.Buckets["loss"].Provision))
	assert.NotEmpty(t, resp.StagingEcho)
	assert.NotEmpty(t, resp.RunID)
}

func TestRunCalculation_LoanFailuresAreSkipped(t *testing.T) {
	loans := portfolio(6)
	// Matured before the reporting month: no schedule row to anchor on.
	loans[1].IssueDate = time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)
	loans[3].BirthYear = intPtr(1970)

	store := newMemoryStore()
	uc := newUseCase(pagedSource(loans), store, nil, nil, panickyPD{year: 1970})

	resp, err := uc.Execute(context.Background(), request(valueobject.RunKindECL, 4))
	require.NoError(t, err)

	assert.Equal(t, "SUCCEEDED", resp.Status)
	assert.Equal(t, 4, resp.LoanCount)
	assert.Equal(t, 2, resp.SkippedCount)
	require.Len(t, resp.SkippedLoans, 2)
	assert.Equal(t, loans[1].ID, resp.SkippedLoans[0].LoanID)
	assert.Contains(t, resp.SkippedLoans[0].Reason, "reporting month")
	assert.Equal(t, loans[3].ID, resp.SkippedLoans[1].LoanID)
	assert.Contains(t, resp.SkippedLoans[1].Reason, "panic")

	assert.NotContains(t, store.committed, loans[1].ID)
	assert.NotContains(t, store.committed, loans[3].ID)
	assert.Len(t, store.committed, 4)
}

func TestRunCalculation_InfrastructureFailure(t *testing.T) {
	loans := portfolio(9)
	store := newMemoryStore()
	store.commitErr = func(cp model.Checkpoint) error {
		if cp.PagesCommitted == 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	notifier := &mockNotifier{}
	uc := newUseCase(pagedSource(loans), store, notifier, nil, nil)

	resp, err := uc.Execute(context.Background(), request(valueobject.RunKindLocalStaging, 3))
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StagePersist, runErr.Stage)
	assert.Equal(t, 1, runErr.PagesCommitted)
	assert.ErrorContains(t, err, "connection reset")

	assert.Equal(t, "FAILED", resp.Status)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 3, resp.LoanCount)

	assert.Len(t, store.committed, 3)
	assert.Equal(t, 1, store.rollbacks)
	assert.Empty(t, store.summaries)

	require.Len(t, notifier.failed, 1)
	assert.Empty(t, notifier.succeeded)
	assert.Equal(t, runErr.RunID, notifier.failed[0].RunID)
	assert.Equal(t, "risk@bank.example", notifier.failed[0].Recipient)
}

func TestRunCalculation_FetchFailure(t *testing.T) {
	source := &mockLoanSource{
		fetchPageFunc: func(context.Context, int64, int64, int) ([]model.LoanSnapshot, error) {
			return nil, errors.New("db down")
		},
	}
	uc := newUseCase(source, newMemoryStore(), nil, nil, nil)

	_, err := uc.Execute(context.Background(), request(valueobject.RunKindLocalImpairment, 10))

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageFetch, runErr.Stage)
}

func TestRunCalculation_MissingECLConfigFails(t *testing.T) {
	configs := &mockConfigSource{
		fetchStagingConfigFunc: func(context.Context, int64, valueobject.Regime) (model.RawStagingConfig, error) {
			return model.RawStagingConfig{"stage_1": {DaysRange: "0-30"}}, nil
		},
	}
	loansCalled := false
	source := &mockLoanSource{
		fetchPageFunc: func(context.Context, int64, int64, int) ([]model.LoanSnapshot, error) {
			loansCalled = true
			return nil, nil
		},
	}
	uc := NewRunCalculationUseCase(source, configs, newMemoryStore(), nil, nil, fixedPD(0.05), nil, nil, Options{})

	_, err := uc.Execute(context.Background(), request(valueobject.RunKindECL, 10))

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageConfigure, runErr.Stage)
	assert.ErrorIs(t, err, model.ErrInvalidStagingConfig)
	assert.False(t, loansCalled)
}

func TestRunCalculation_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  dto.RunCalculationRequest
	}{
		{name: "unknown kind", req: dto.RunCalculationRequest{PortfolioID: 1, RunKind: "IFRS17", ReportingDate: reportingDate}},
		{name: "missing portfolio", req: dto.RunCalculationRequest{RunKind: "ECL", ReportingDate: reportingDate}},
		{name: "missing date", req: dto.RunCalculationRequest{PortfolioID: 1, RunKind: "ECL"}},
		{name: "negative page size", req: dto.RunCalculationRequest{PortfolioID: 1, RunKind: "ECL", ReportingDate: reportingDate, PageSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := newUseCase(pagedSource(nil), newMemoryStore(), nil, nil, nil)

			resp, err := uc.Execute(context.Background(), tt.req)

			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, "FAILED", resp.Status)
		})
	}
}

func TestRunCalculation_NotifierErrorDoesNotFailRun(t *testing.T) {
	notifier := &mockNotifier{
		notifyStartFunc: func(context.Context, port.RunNotice) error {
			return errors.New("broker unavailable")
		},
	}
	uc := newUseCase(pagedSource(portfolio(3)), newMemoryStore(), notifier, nil, nil)

	resp, err := uc.Execute(context.Background(), request(valueobject.RunKindLocalImpairment, 10))
	require.NoError(t, err)

	assert.Equal(t, "SUCCEEDED", resp.Status)
	require.Len(t, notifier.succeeded, 1)
	require.NotNil(t, notifier.succeeded[0].Summary)
	assert.Equal(t, 3, notifier.succeeded[0].Summary.LoanCount)
}

func TestRunCalculation_ResumeFromCheckpoint(t *testing.T) {
	loans := portfolio(10)

	// First attempt dies after two pages.
	first := newMemoryStore()
	first.commitErr = func(cp model.Checkpoint) error {
		if cp.PagesCommitted == 3 {
			return errors.New("killed")
		}
		return nil
	}
	uc := newUseCase(pagedSource(loans), first, nil, nil, nil)
	_, err := uc.Execute(context.Background(), request(valueobject.RunKindLocalImpairment, 3))
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, first.checkpoints, 2)

	// The resumed run only sees loans after the checkpoint cursor.
	second := newMemoryStore()
	second.loadFunc = func(runID string) (model.Checkpoint, error) {
		assert.Equal(t, runErr.RunID, runID)
		return first.checkpoints[1], nil
	}
	uc = newUseCase(pagedSource(loans), second, nil, nil, nil)
	req := request(valueobject.RunKindLocalImpairment, 3)
	req.ResumeRunID = runErr.RunID

	resp, err := uc.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, runErr.RunID, resp.RunID)
	assert.Len(t, second.committed, 4)
	for id := range second.committed {
		assert.NotContains(t, first.committed, id)
	}
	assert.Equal(t, 10, resp.LoanCount)

	// A run that never failed produces the same totals.
	fresh := newMemoryStore()
	uc = newUseCase(pagedSource(loans), fresh, nil, nil, nil)
	full, err := uc.Execute(context.Background(), request(valueobject.RunKindLocalImpairment, 3))
	require.NoError(t, err)
	assert.True(t, full.TotalEAD.Equal(resp.TotalEAD))
	assert.True(t, full.TotalProvision.Equal(resp.TotalProvision))
}

func TestRunCalculation_ResumeRejectsForeignCheckpoint(t *testing.T) {
	tests := []struct {
		name   string
		totals func(runID string) model.CalculationSummary
	}{
		{
			name: "other portfolio",
			totals: func(runID string) model.CalculationSummary {
				return model.NewCalculationSummary(runID, 99, valueobject.RunKindLocalImpairment, reportingDate, time.Now())
			},
		},
		{
			name: "other run kind",
			totals: func(runID string) model.CalculationSummary {
				return model.NewCalculationSummary(runID, 7, valueobject.RunKindECL, reportingDate, time.Now())
			},
		},
		{
			name: "other reporting date",
			totals: func(runID string) model.CalculationSummary {
				return model.NewCalculationSummary(runID, 7, valueobject.RunKindLocalImpairment, reportingDate.AddDate(0, -1, 0), time.Now())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			store.loadFunc = func(runID string) (model.Checkpoint, error) {
				return model.Checkpoint{RunID: runID, Cursor: 10, PagesCommitted: 1, Totals: tt.totals(runID)}, nil
			}
			uc := newUseCase(pagedSource(portfolio(2)), store, nil, nil, nil)
			req := request(valueobject.RunKindLocalImpairment, 3)
			req.ResumeRunID = "run-1"

			_, err := uc.Execute(context.Background(), req)

			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, StageResume, runErr.Stage)
			assert.Empty(t, store.checkpoints)
		})
	}
}

func TestRunCalculation_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := pagedSource(portfolio(10))
	inner := source.fetchPageFunc
	source.fetchPageFunc = func(ctx context.Context, p, after int64, limit int) ([]model.LoanSnapshot, error) {
		if after > 0 {
			cancel()
		}
		return inner(ctx, p, after, limit)
	}
	notifier := &mockNotifier{}
	store := newMemoryStore()
	uc := newUseCase(source, store, notifier, nil, nil)

	_, err := uc.Execute(ctx, request(valueobject.RunKindLocalImpairment, 4))

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, store.checkpoints)
	assert.Len(t, notifier.failed, 1)
}

func TestRunCalculation_ProgressReported(t *testing.T) {
	progress := &mockProgress{}
	uc := newUseCase(pagedSource(portfolio(5)), newMemoryStore(), nil, progress, nil)

	_, err := uc.Execute(context.Background(), request(valueobject.RunKindLocalImpairment, 2))
	require.NoError(t, err)

	require.Len(t, progress.reports, 3)
	assert.Equal(t, 1, progress.reports[0].PagesCommitted)
	assert.Equal(t, 2, progress.reports[0].LoansProcessed)
	assert.Equal(t, 5, progress.reports[2].LoansProcessed)
}

func intPtr(v int) *int { return &v }
