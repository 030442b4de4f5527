package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// BucketTotals aggregates the loans that fell into one bucket.
type BucketTotals struct {
	EAD       decimal.Decimal `json:"ead"`
	Provision decimal.Decimal `json:"provision"`
	Count     int             `json:"count"`
}

// ProvisionRate returns provision / EAD, or zero for an empty bucket.
func (b BucketTotals) ProvisionRate() decimal.Decimal {
	if b.EAD.IsZero() {
		return decimal.Zero
	}
	return b.Provision.Div(b.EAD)
}

// SkippedLoan records a loan whose calculation failed and was excluded from totals.
type SkippedLoan struct {
	Reason string `json:"reason"`
	LoanID int64  `json:"loan_id"`
}

// CalculationSummary aggregates one portfolio run. Running totals are carried
// in checkpoints; the final value is saved once and superseded by the next run.
type CalculationSummary struct {
	ReportingDate time.Time `json:"reporting_date"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`

	TotalEAD                 decimal.Decimal `json:"total_ead"`
	TotalLGDWeightedExposure decimal.Decimal `json:"total_lgd_weighted_exposure"`
	TotalProvision           decimal.Decimal `json:"total_provision"`

	Buckets      map[string]BucketTotals `json:"buckets"`
	StagingEcho  map[string]string       `json:"staging_config,omitempty"`
	SkippedLoans []SkippedLoan           `json:"skipped_loans,omitempty"`

	RunID       string              `json:"run_id"`
	RunKind     valueobject.RunKind `json:"run_kind"`
	PortfolioID int64               `json:"portfolio_id"`
	LoanCount   int                 `json:"loan_count"`
}

// NewCalculationSummary starts an empty summary for a run.
func NewCalculationSummary(runID string, portfolioID int64, kind valueobject.RunKind, reportingDate, startedAt time.Time) CalculationSummary {
	return CalculationSummary{
		RunID:         runID,
		PortfolioID:   portfolioID,
		RunKind:       kind,
		ReportingDate: reportingDate,
		StartedAt:     startedAt,
		Buckets:       make(map[string]BucketTotals),
	}
}

// Add folds one successful loan result into the totals.
func (s *CalculationSummary) Add(r LoanCalculationResult) {
	if s.Buckets == nil {
		s.Buckets = make(map[string]BucketTotals)
	}
	loss := r.Loss()

	s.LoanCount++
	s.TotalEAD = s.TotalEAD.Add(r.EAD)
	s.TotalLGDWeightedExposure = s.TotalLGDWeightedExposure.Add(r.LGDWeightedExposure())
	s.TotalProvision = s.TotalProvision.Add(loss)

	name := r.Bucket()
	b := s.Buckets[name]
	b.Count++
	b.EAD = b.EAD.Add(r.EAD)
	b.Provision = b.Provision.Add(loss)
	s.Buckets[name] = b
}

// Skip records a failed loan.
func (s *CalculationSummary) Skip(loanID int64, reason string) {
	s.SkippedLoans = append(s.SkippedLoans, SkippedLoan{LoanID: loanID, Reason: reason})
}

// SkippedCount returns the number of loans excluded from the totals.
func (s CalculationSummary) SkippedCount() int {
	return len(s.SkippedLoans)
}

// Duration returns the wall time of a completed run.
func (s CalculationSummary) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Clone returns a deep copy so checkpoints never alias live totals.
func (s CalculationSummary) Clone() CalculationSummary {
	out := s
	out.Buckets = make(map[string]BucketTotals, len(s.Buckets))
	for k, v := range s.Buckets {
		out.Buckets[k] = v
	}
	if s.StagingEcho != nil {
		out.StagingEcho = make(map[string]string, len(s.StagingEcho))
		for k, v := range s.StagingEcho {
			out.StagingEcho[k] = v
		}
	}
	out.SkippedLoans = append([]SkippedLoan(nil), s.SkippedLoans...)
	return out
}
