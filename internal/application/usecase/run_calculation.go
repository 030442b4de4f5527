package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bibbank/impairment-engine/internal/application/dto"
	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/port"
	"github.com/bibbank/impairment-engine/internal/domain/service"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

const instrumentationName = "github.com/bibbank/impairment-engine/internal/application/usecase"

// Options tunes a RunCalculationUseCase. Zero values select the defaults.
type Options struct {
	Workers       int           // default max(1, GOMAXPROCS-1)
	PageSize      int           // default dto.DefaultPageSize
	NotifyTimeout time.Duration // default 5s
}

// DefaultWorkers returns max(1, GOMAXPROCS-1).
func DefaultWorkers() int {
	return max(1, runtime.GOMAXPROCS(0)-1)
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = DefaultWorkers()
	}
	if o.PageSize < 1 {
		o.PageSize = dto.DefaultPageSize
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 5 * time.Second
	}
	return o
}

type runMetrics struct {
	processed    metric.Int64Counter
	skipped      metric.Int64Counter
	pageDuration metric.Float64Histogram
	runs         metric.Int64Counter
}

func newRunMetrics() runMetrics {
	meter := otel.Meter(instrumentationName)
	// Instrument creation only fails for invalid names; the no-op fallbacks keep recording safe.
	processed, _ := meter.Int64Counter("impairment_loans_processed",
		metric.WithDescription("Loans whose results were committed"))
	skipped, _ := meter.Int64Counter("impairment_loans_skipped",
		metric.WithDescription("Loans excluded from a run after a calculation failure"))
	pageDuration, _ := meter.Float64Histogram("impairment_page_duration_seconds",
		metric.WithDescription("Wall time to compute and commit one page"), metric.WithUnit("s"))
	runs, _ := meter.Int64Counter("impairment_runs",
		metric.WithDescription("Completed calculation runs by status"))
	return runMetrics{processed: processed, skipped: skipped, pageDuration: pageDuration, runs: runs}
}

// RunCalculationUseCase drives one portfolio run: fetch a page, compute it on
// the worker pool, commit it with a checkpoint, and finally save the summary.
type RunCalculationUseCase struct {
	loans    port.LoanSource
	configs  port.StagingConfigSource
	store    port.ResultStore
	notifier port.Notifier
	progress port.ProgressReporter
	pd       port.PDScorer
	lgd      port.LGDSource
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  runMetrics
	opts     Options
	now      func() time.Time
}

// NewRunCalculationUseCase wires dependencies. notifier and progress may be
// nil; a nil lgd means every loan is treated as unsecured.
func NewRunCalculationUseCase(
	loans port.LoanSource,
	configs port.StagingConfigSource,
	store port.ResultStore,
	notifier port.Notifier,
	progress port.ProgressReporter,
	pd port.PDScorer,
	lgd port.LGDSource,
	logger *slog.Logger,
	opts Options,
) *RunCalculationUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if lgd == nil {
		lgd = service.UnsecuredLGD{}
	}
	return &RunCalculationUseCase{
		loans:    loans,
		configs:  configs,
		store:    store,
		notifier: notifier,
		progress: progress,
		pd:       pd,
		lgd:      lgd,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		metrics:  newRunMetrics(),
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// run is the mutable state of one Execute call.
type run struct {
	summary    model.CalculationSummary
	notice     port.RunNotice
	logger     *slog.Logger
	cursor     int64
	pages      int
	pageSize   int
	calculator *service.LoanCalculator
}

// Execute runs the calculation to completion. On failure it returns a
// response with status FAILED together with a *RunError.
func (uc *RunCalculationUseCase) Execute(
	ctx context.Context,
	req dto.RunCalculationRequest,
) (dto.RunCalculationResponse, error) {
	kind, err := uc.validate(req)
	if err != nil {
		return dto.RunCalculationResponse{
			RunID:       req.ResumeRunID,
			RunKind:     req.RunKind,
			PortfolioID: req.PortfolioID,
			Status:      string(valueobject.RunStatusFailed),
			Error:       err.Error(),
		}, &RunError{RunID: req.ResumeRunID, PortfolioID: req.PortfolioID, Stage: StageValidate, Err: err}
	}

	runID := req.ResumeRunID
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx, span := uc.tracer.Start(ctx, "impairment.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.kind", kind.String()),
		attribute.Int64("portfolio.id", req.PortfolioID),
	))
	defer span.End()

	r := &run{
		summary: model.NewCalculationSummary(runID, req.PortfolioID, kind, req.ReportingDate, uc.now()),
		notice: port.RunNotice{
			RunID:         runID,
			PortfolioID:   req.PortfolioID,
			RunKind:       kind,
			Recipient:     req.Recipient,
			ReportingDate: req.ReportingDate,
		},
		logger:   uc.logger.With("run_id", runID, "portfolio_id", req.PortfolioID, "run_kind", kind.String()),
		pageSize: req.PageSize,
	}
	if r.pageSize < 1 {
		r.pageSize = uc.opts.PageSize
	}

	resp, err := uc.execute(ctx, r, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		uc.metrics.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(valueobject.RunStatusFailed))))
		return resp, err
	}
	uc.metrics.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(valueobject.RunStatusSucceeded))))
	return resp, nil
}

func (uc *RunCalculationUseCase) execute(ctx context.Context, r *run, req dto.RunCalculationRequest) (dto.RunCalculationResponse, error) {
	// 1. Resolve the staging config and the per-loan calculator.
	cfg, err := uc.stagingConfig(ctx, r.summary.PortfolioID, r.summary.RunKind, r.logger)
	if err != nil {
		return uc.fail(ctx, r, StageConfigure, err)
	}
	r.calculator, err = service.NewLoanCalculator(r.summary.RunKind, cfg, req.ReportingDate, uc.pd, uc.lgd)
	if err != nil {
		return uc.fail(ctx, r, StageConfigure, err)
	}
	r.summary.StagingEcho = cfg.Echo()

	// 2. Restore a checkpoint when resuming.
	if req.ResumeRunID != "" {
		if err := uc.resume(ctx, r); err != nil {
			return uc.fail(ctx, r, StageResume, err)
		}
	}

	uc.notify(ctx, r, uc.notifierStarted)
	r.logger.Info("calculation run started",
		"reporting_date", req.ReportingDate.Format(time.DateOnly),
		"page_size", r.pageSize,
		"workers", uc.opts.Workers,
		"resume_cursor", r.cursor,
	)

	// 3. Page through the portfolio.
	pool := newWorkerPool(uc.opts.Workers, r.pageSize, r.calculator.Calculate)
	defer pool.close()

	for {
		if err := ctx.Err(); err != nil {
			return uc.fail(ctx, r, StageFetch, err)
		}

		done, stage, err := uc.processPage(ctx, r, pool)
		if err != nil {
			return uc.fail(ctx, r, stage, err)
		}
		if done {
			break
		}
	}

	// 4. Summarize.
	r.summary.CompletedAt = uc.now()
	if err := uc.store.SaveSummary(ctx, r.summary); err != nil {
		return uc.fail(ctx, r, StageSummarize, fmt.Errorf("save summary: %w", err))
	}

	summary := r.summary.Clone()
	r.notice.Summary = &summary
	uc.notify(ctx, r, uc.notifierSucceeded)

	r.logger.Info("calculation run completed",
		"loans", r.summary.LoanCount,
		"skipped", r.summary.SkippedCount(),
		"pages", r.pages,
		"total_ead", r.summary.TotalEAD.String(),
		"total_provision", r.summary.TotalProvision.String(),
		"duration", r.summary.Duration(),
	)

	resp := dto.FromSummary(r.summary)
	resp.Status = string(valueobject.RunStatusSucceeded)
	return resp, nil
}

// processPage fetches, computes and commits one page. done is true once the
// portfolio is exhausted.
func (uc *RunCalculationUseCase) processPage(ctx context.Context, r *run, pool *workerPool) (done bool, stage RunStage, err error) {
	ctx, span := uc.tracer.Start(ctx, "impairment.page", trace.WithAttributes(
		attribute.Int("page.number", r.pages+1),
		attribute.Int64("page.cursor", r.cursor),
	))
	defer span.End()

	start := time.Now()

	loans, err := uc.loans.FetchPage(ctx, r.summary.PortfolioID, r.cursor, r.pageSize)
	if err != nil {
		return false, StageFetch, fmt.Errorf("fetch page after loan %d: %w", r.cursor, err)
	}
	if len(loans) == 0 {
		return true, "", nil
	}
	span.SetAttributes(attribute.Int("page.loans", len(loans)))

	outcomes := pool.runPage(loans)

	// Results are applied in key order so the page's writes are deterministic.
	ids := make([]int64, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	next := r.summary.Clone()
	writer, err := uc.store.BeginPage(ctx)
	if err != nil {
		return false, StagePersist, fmt.Errorf("begin page: %w", err)
	}

	applied, skipped := 0, 0
	for _, id := range ids {
		o := outcomes[id]
		if o.err != nil {
			skipped++
			next.Skip(id, o.err.Error())
			r.logger.Warn("loan skipped", "loan_id", id, "error", o.err)
			continue
		}
		if err := writer.ApplyResult(ctx, o.result); err != nil {
			uc.rollback(ctx, r, writer)
			return false, StagePersist, fmt.Errorf("apply result for loan %d: %w", id, err)
		}
		next.Add(o.result)
		applied++
	}

	checkpoint := model.Checkpoint{
		RunID:          r.summary.RunID,
		Cursor:         loans[len(loans)-1].ID,
		PagesCommitted: r.pages + 1,
		Totals:         next,
	}
	if err := writer.Commit(ctx, checkpoint); err != nil {
		uc.rollback(ctx, r, writer)
		return false, StagePersist, fmt.Errorf("commit page %d: %w", checkpoint.PagesCommitted, err)
	}

	r.summary = next
	r.cursor = checkpoint.Cursor
	r.pages = checkpoint.PagesCommitted

	uc.metrics.processed.Add(ctx, int64(applied))
	uc.metrics.skipped.Add(ctx, int64(skipped))
	uc.metrics.pageDuration.Record(ctx, time.Since(start).Seconds())

	r.logger.Debug("page committed",
		"page", r.pages,
		"cursor", r.cursor,
		"applied", applied,
		"skipped", skipped,
	)
	uc.reportProgress(ctx, r)

	return false, "", nil
}

func (uc *RunCalculationUseCase) validate(req dto.RunCalculationRequest) (valueobject.RunKind, error) {
	kind, err := valueobject.NewRunKind(req.RunKind)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.PortfolioID <= 0 {
		return "", fmt.Errorf("%w: portfolio id is required", ErrInvalidRequest)
	}
	if req.ReportingDate.IsZero() {
		return "", fmt.Errorf("%w: reporting date is required", ErrInvalidRequest)
	}
	if req.PageSize < 0 {
		return "", fmt.Errorf("%w: page size must be positive", ErrInvalidRequest)
	}
	return kind, nil
}

func (uc *RunCalculationUseCase) stagingConfig(
	ctx context.Context,
	portfolioID int64,
	kind valueobject.RunKind,
	logger *slog.Logger,
) (model.StagingConfig, error) {
	raw, err := uc.configs.FetchStagingConfig(ctx, portfolioID, kind.Regime())
	if err != nil && !(errors.Is(err, port.ErrNotFound) && kind.Regime() == valueobject.RegimeLocal) {
		return model.StagingConfig{}, fmt.Errorf("fetch %s staging config: %w", kind.Regime(), err)
	}

	if kind.Regime() == valueobject.RegimeLocal {
		return service.NewRegulatoryStagingConfig(raw, logger)
	}
	return service.NewECLStagingConfig(raw)
}

func (uc *RunCalculationUseCase) resume(ctx context.Context, r *run) error {
	cp, err := uc.store.LoadCheckpoint(ctx, r.summary.RunID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			r.logger.Info("no checkpoint for run, starting from the beginning")
			return nil
		}
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Totals.PortfolioID != r.summary.PortfolioID || cp.Totals.RunKind != r.summary.RunKind {
		return fmt.Errorf("checkpoint belongs to portfolio %d run kind %s",
			cp.Totals.PortfolioID, cp.Totals.RunKind)
	}
	if !cp.Totals.ReportingDate.Equal(r.summary.ReportingDate) {
		return fmt.Errorf("checkpoint reporting date %s does not match %s",
			cp.Totals.ReportingDate.Format(time.DateOnly), r.summary.ReportingDate.Format(time.DateOnly))
	}

	echo := r.summary.StagingEcho
	r.summary = cp.Totals.Clone()
	r.summary.StagingEcho = echo
	if r.summary.Buckets == nil {
		r.summary.Buckets = make(map[string]model.BucketTotals)
	}
	r.cursor = cp.Cursor
	r.pages = cp.PagesCommitted

	r.logger.Info("resuming calculation run", "cursor", r.cursor, "pages_committed", r.pages)
	return nil
}

func (uc *RunCalculationUseCase) fail(ctx context.Context, r *run, stage RunStage, err error) (dto.RunCalculationResponse, error) {
	runErr := &RunError{
		RunID:          r.summary.RunID,
		PortfolioID:    r.summary.PortfolioID,
		Stage:          stage,
		PagesCommitted: r.pages,
		Err:            err,
	}
	r.logger.Error("calculation run failed", "stage", stage, "pages_committed", r.pages, "error", err)

	r.notice.Error = runErr.Error()
	// The run context may already be canceled; notifications get their own deadline.
	uc.notify(context.WithoutCancel(ctx), r, uc.notifierFailed)

	resp := dto.FromSummary(r.summary)
	resp.Status = string(valueobject.RunStatusFailed)
	resp.Error = runErr.Error()
	return resp, runErr
}

func (uc *RunCalculationUseCase) rollback(ctx context.Context, r *run, w port.PageWriter) {
	if err := w.Rollback(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("page rollback failed", "error", err)
	}
}

type notifyFunc func(ctx context.Context, notice port.RunNotice) error

func (uc *RunCalculationUseCase) notifierStarted(ctx context.Context, n port.RunNotice) error {
	return uc.notifier.NotifyStarted(ctx, n)
}

func (uc *RunCalculationUseCase) notifierSucceeded(ctx context.Context, n port.RunNotice) error {
	return uc.notifier.NotifySucceeded(ctx, n)
}

func (uc *RunCalculationUseCase) notifierFailed(ctx context.Context, n port.RunNotice) error {
	return uc.notifier.NotifyFailed(ctx, n)
}

// notify delivers a notification with its own timeout. Errors are logged and dropped.
func (uc *RunCalculationUseCase) notify(ctx context.Context, r *run, fn notifyFunc) {
	if uc.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, uc.opts.NotifyTimeout)
	defer cancel()

	if err := fn(nctx, r.notice); err != nil {
		r.logger.Warn("notification failed", "error", err)
	}
}

func (uc *RunCalculationUseCase) reportProgress(ctx context.Context, r *run) {
	if uc.progress == nil {
		return
	}
	err := uc.progress.ReportProgress(ctx, model.RunProgress{
		RunID:          r.summary.RunID,
		PortfolioID:    r.summary.PortfolioID,
		PagesCommitted: r.pages,
		LoansProcessed: r.summary.LoanCount,
		LoansSkipped:   r.summary.SkippedCount(),
	})
	if err != nil {
		r.logger.Warn("progress report failed", "error", err)
	}
}
