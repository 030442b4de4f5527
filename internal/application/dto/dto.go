package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/model"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// DefaultPageSize is used when a request does not set one.
const DefaultPageSize = 500

// RunCalculationRequest starts (or resumes) a calculation over one portfolio.
type RunCalculationRequest struct {
	ReportingDate time.Time `json:"reporting_date"`
	RunKind       string    `json:"run_kind"`
	Recipient     string    `json:"recipient,omitempty"`
	// ResumeRunID continues an interrupted run from its last committed page.
	ResumeRunID string `json:"resume_run_id,omitempty"`
	PortfolioID int64  `json:"portfolio_id"`
	PageSize    int    `json:"page_size,omitempty"`
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// BucketResponse is the external representation of one bucket's totals.
type BucketResponse struct {
	EAD           decimal.Decimal `json:"ead"`
	Provision     decimal.Decimal `json:"provision"`
	ProvisionRate decimal.Decimal `json:"provision_rate"`
	Count         int             `json:"count"`
}

// SkippedLoanResponse names a loan excluded from the totals.
type SkippedLoanResponse struct {
	Reason string `json:"reason"`
	LoanID int64  `json:"loan_id"`
}

// RunCalculationResponse is the outcome of a run.
type RunCalculationResponse struct {
	ReportingDate time.Time `json:"reporting_date"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`

	TotalEAD                 decimal.Decimal `json:"total_ead"`
	TotalLGDWeightedExposure decimal.Decimal `json:"total_lgd_weighted_exposure"`
	TotalProvision           decimal.Decimal `json:"total_provision"`

	Buckets      map[string]BucketResponse `json:"buckets,omitempty"`
	StagingEcho  map[string]string         `json:"staging_config,omitempty"`
	SkippedLoans []SkippedLoanResponse     `json:"skipped_loans,omitempty"`

	RunID        string `json:"run_id"`
	RunKind      string `json:"run_kind"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	PortfolioID  int64  `json:"portfolio_id"`
	LoanCount    int    `json:"loan_count"`
	SkippedCount int    `json:"skipped_count"`
	DurationMS   int64  `json:"duration_ms"`
}

// FromSummary maps a summary into a response. Status and Error are left to the caller.
func FromSummary(s model.CalculationSummary) RunCalculationResponse {
	resp := RunCalculationResponse{
		RunID:                    s.RunID,
		RunKind:                  s.RunKind.String(),
		PortfolioID:              s.PortfolioID,
		ReportingDate:            s.ReportingDate,
		StartedAt:                s.StartedAt,
		CompletedAt:              s.CompletedAt,
		TotalEAD:                 s.TotalEAD,
		TotalLGDWeightedExposure: s.TotalLGDWeightedExposure,
		TotalProvision:           s.TotalProvision,
		LoanCount:                s.LoanCount,
		SkippedCount:             s.SkippedCount(),
		DurationMS:               s.Duration().Milliseconds(),
		StagingEcho:              s.StagingEcho,
		Buckets:                  make(map[string]BucketResponse, len(s.Buckets)),
	}
	for name, b := range s.Buckets {
		resp.Buckets[name] = BucketResponse{
			Count:         b.Count,
			EAD:           b.EAD,
			Provision:     b.Provision,
			ProvisionRate: b.ProvisionRate(),
		}
	}
	for _, sk := range s.SkippedLoans {
		resp.SkippedLoans = append(resp.SkippedLoans, SkippedLoanResponse{LoanID: sk.LoanID, Reason: sk.Reason})
	}
	return resp
}
