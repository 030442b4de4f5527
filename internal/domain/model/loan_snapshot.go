package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// daysPerMonth converts months of arrears into an approximate day count.
const daysPerMonth = 30

// SecurityKind distinguishes cash collateral from pledged assets.
type SecurityKind string

const (
	SecurityCash    SecurityKind = "cash"
	SecurityNonCash SecurityKind = "non-cash"
)

// Security is a collateral record pledged against a borrower's loans.
type Security struct {
	ID              int64
	Kind            SecurityKind
	CollateralValue decimal.Decimal
	ForcedSaleValue decimal.Decimal
}

// LoanSnapshot is the immutable input to one calculation pass. Optional source
// columns are pointers or zero values and are resolved by the accessor methods
// below, never by calculation code.
type LoanSnapshot struct {
	IssueDate          time.Time
	FirstDeductionDate time.Time
	SubmissionDate     time.Time
	MaturityDate       time.Time // zero means IssueDate + TermMonths

	Principal          decimal.Decimal
	AdministrativeFees decimal.Decimal
	MonthlyInstallment decimal.Decimal
	AccumulatedArrears decimal.Decimal
	OutstandingBalance *decimal.Decimal // nil when not reported

	NDIA      *int // explicit days past due
	BirthYear *int

	ECLStage           *valueobject.Stage    // nil until a staging pass tagged the loan
	ImpairmentCategory *valueobject.Category // nil until a staging pass tagged the loan

	LoanNo     string
	BorrowerID string
	Securities []Security

	ID          int64
	PortfolioID int64
	TermMonths  int
}

// HasExposure reports whether the loan carries a positive principal.
func (l LoanSnapshot) HasExposure() bool {
	return l.Principal.IsPositive()
}

// IsDated reports whether the origination date is known.
func (l LoanSnapshot) IsDated() bool {
	return !l.IssueDate.IsZero()
}

// EffectiveMaturity returns the maturity date, deriving it from the issue date
// and term when it was not supplied. Returns the zero time for undated loans.
func (l LoanSnapshot) EffectiveMaturity() time.Time {
	if !l.MaturityDate.IsZero() {
		return l.MaturityDate
	}
	if !l.IsDated() {
		return time.Time{}
	}
	return valueobject.AddMonths(l.IssueDate, l.TermMonths)
}

// DaysPastDue returns the explicit NDIA when present, otherwise the arrears
// expressed as whole months of installments times 30, otherwise 0.
func (l LoanSnapshot) DaysPastDue() int {
	if l.NDIA != nil {
		if *l.NDIA < 0 {
			return 0
		}
		return *l.NDIA
	}
	if l.AccumulatedArrears.IsPositive() && l.MonthlyInstallment.IsPositive() {
		months := l.AccumulatedArrears.Div(l.MonthlyInstallment)
		return int(months.Mul(decimal.NewFromInt(daysPerMonth)).IntPart())
	}
	return 0
}

// PositiveArrears returns the accumulated arrears, or zero when negative.
func (l LoanSnapshot) PositiveArrears() decimal.Decimal {
	if l.AccumulatedArrears.IsPositive() {
		return l.AccumulatedArrears
	}
	return decimal.Zero
}
