package event

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/pkg/events"
)

// DomainEvent is an alias for the shared pkg/events.DomainEvent interface.
type DomainEvent = events.DomainEvent

const aggregateCalculationRun = "CalculationRun"

// Event types published for calculation runs.
const (
	TypeCalculationStarted   = "impairment.calculation.started"
	TypeCalculationProgress  = "impairment.calculation.progress"
	TypeCalculationSucceeded = "impairment.calculation.succeeded"
	TypeCalculationFailed    = "impairment.calculation.failed"
)

// CalculationStarted is raised when a run begins paging.
type CalculationStarted struct {
	events.BaseEvent
	ReportingDate time.Time `json:"reporting_date"`
	RunKind       string    `json:"run_kind"`
	Recipient     string    `json:"recipient,omitempty"`
	PortfolioID   int64     `json:"portfolio_id"`
}

func NewCalculationStarted(runID string, portfolioID int64, runKind, recipient string, reportingDate time.Time) CalculationStarted {
	return CalculationStarted{
		BaseEvent:     events.NewBaseEvent(TypeCalculationStarted, runID, aggregateCalculationRun),
		PortfolioID:   portfolioID,
		RunKind:       runKind,
		Recipient:     recipient,
		ReportingDate: reportingDate,
	}
}

// CalculationProgressed is raised after each committed page.
type CalculationProgressed struct {
	events.BaseEvent
	PortfolioID    int64 `json:"portfolio_id"`
	PagesCommitted int   `json:"pages_committed"`
	LoansProcessed int   `json:"loans_processed"`
	LoansSkipped   int   `json:"loans_skipped"`
}

func NewCalculationProgressed(runID string, portfolioID int64, pages, processed, skipped int) CalculationProgressed {
	return CalculationProgressed{
		BaseEvent:      events.NewBaseEvent(TypeCalculationProgress, runID, aggregateCalculationRun),
		PortfolioID:    portfolioID,
		PagesCommitted: pages,
		LoansProcessed: processed,
		LoansSkipped:   skipped,
	}
}

// CalculationSucceeded is raised once the summary has been saved.
type CalculationSucceeded struct {
	events.BaseEvent
	TotalEAD       decimal.Decimal `json:"total_ead"`
	TotalProvision decimal.Decimal `json:"total_provision"`
	RunKind        string          `json:"run_kind"`
	Recipient      string          `json:"recipient,omitempty"`
	PortfolioID    int64           `json:"portfolio_id"`
	LoanCount      int             `json:"loan_count"`
	SkippedCount   int             `json:"skipped_count"`
}

func NewCalculationSucceeded(
	runID string, portfolioID int64, runKind, recipient string,
	loanCount, skipped int, totalEAD, totalProvision decimal.Decimal,
) CalculationSucceeded {
	return CalculationSucceeded{
		BaseEvent:      events.NewBaseEvent(TypeCalculationSucceeded, runID, aggregateCalculationRun),
		PortfolioID:    portfolioID,
		RunKind:        runKind,
		Recipient:      recipient,
		LoanCount:      loanCount,
		SkippedCount:   skipped,
		TotalEAD:       totalEAD,
		TotalProvision: totalProvision,
	}
}

// CalculationFailed is raised when a run aborts.
type CalculationFailed struct {
	events.BaseEvent
	RunKind     string `json:"run_kind"`
	Recipient   string `json:"recipient,omitempty"`
	Reason      string `json:"reason"`
	PortfolioID int64  `json:"portfolio_id"`
}

func NewCalculationFailed(runID string, portfolioID int64, runKind, recipient, reason string) CalculationFailed {
	return CalculationFailed{
		BaseEvent:   events.NewBaseEvent(TypeCalculationFailed, runID, aggregateCalculationRun),
		PortfolioID: portfolioID,
		RunKind:     runKind,
		Recipient:   recipient,
		Reason:      reason,
	}
}
