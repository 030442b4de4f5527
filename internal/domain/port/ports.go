package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// ErrNotFound is returned by adapters when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ---------------------------------------------------------------------------
// Calculation collaborators
// ---------------------------------------------------------------------------

// PDScorer maps a borrower birth year to a default probability in [0, 1].
// Implementations must be safe for concurrent use.
type PDScorer interface {
	Score(birthYear *int) float64
}

// LGDSource returns a loan's loss given default as a proportion in [0, 1].
type LGDSource interface {
	LossGivenDefault(loan model.LoanSnapshot) decimal.Decimal
}

// ---------------------------------------------------------------------------
// Repository ports (driven/secondary adapters)
// ---------------------------------------------------------------------------

// LoanSource pages through a portfolio in ascending loan id order. An empty
// page signals the end of the portfolio.
type LoanSource interface {
	FetchPage(ctx context.Context, portfolioID, afterID int64, limit int) ([]model.LoanSnapshot, error)
}

// StagingConfigSource loads the raw staging config of a portfolio for one regime.
type StagingConfigSource interface {
	FetchStagingConfig(ctx context.Context, portfolioID int64, regime valueobject.Regime) (model.RawStagingConfig, error)
}

// ResultStore persists results one page at a time.
type ResultStore interface {
	// BeginPage opens the unit of durability for one page.
	BeginPage(ctx context.Context) (PageWriter, error)
	// LoadCheckpoint returns the last committed checkpoint of a run.
	LoadCheckpoint(ctx context.Context, runID string) (model.Checkpoint, error)
	// SaveSummary stores the final summary, superseding earlier runs of the
	// same portfolio and run kind.
	SaveSummary(ctx context.Context, summary model.CalculationSummary) error
}

// PageWriter buffers one page of results. Nothing is visible until Commit.
type PageWriter interface {
	ApplyResult(ctx context.Context, result model.LoanCalculationResult) error
	Commit(ctx context.Context, checkpoint model.Checkpoint) error
	Rollback(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Outbound notifications
// ---------------------------------------------------------------------------

// RunNotice describes a run for notification purposes.
type RunNotice struct {
	ReportingDate time.Time
	Summary       *model.CalculationSummary // set on success
	RunID         string
	RunKind       valueobject.RunKind
	Recipient     string
	Error         string // set on failure
	PortfolioID   int64
}

// Notifier delivers run lifecycle notifications. Failures are not fatal.
type Notifier interface {
	NotifyStarted(ctx context.Context, notice RunNotice) error
	NotifySucceeded(ctx context.Context, notice RunNotice) error
	NotifyFailed(ctx context.Context, notice RunNotice) error
}

// ProgressReporter receives progress after each committed page.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, progress model.RunProgress) error
}
