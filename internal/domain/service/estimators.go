package service

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/port"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultCollateralLGD applies when a secured loan has no reported balance.
	DefaultCollateralLGD = decimal.RequireFromString("0.65")
)

// Exposure is the exposure at default of one loan.
type Exposure struct {
	Value              decimal.Decimal // theoretical balance plus arrears
	Percentage         decimal.Decimal // Value / principal x 100
	TheoreticalBalance decimal.Decimal
}

// ExposureAtDefault computes Bt = P((1+r)^n - (1+r)^t) / ((1+r)^n - 1) with t
// the whole months from issue to reporting date clamped to [0, n], then adds
// positive arrears. A non-positive rate gives a theoretical balance of zero.
// Loans without principal or an issue date carry no exposure.
func ExposureAtDefault(loan model.LoanSnapshot, reportingDate time.Time, monthlyRate float64) Exposure {
	if !loan.HasExposure() || !loan.IsDated() {
		return Exposure{Value: decimal.Zero, Percentage: decimal.Zero, TheoreticalBalance: decimal.Zero}
	}

	n := loan.TermMonths
	t := valueobject.MonthsBetween(loan.IssueDate, reportingDate)
	if t < 0 {
		t = 0
	}
	if t > n {
		t = n
	}

	theoretical := decimal.Zero
	if monthlyRate > 0 && n > 0 {
		growthN := math.Pow(1+monthlyRate, float64(n))
		growthT := math.Pow(1+monthlyRate, float64(t))
		factor := (growthN - growthT) / (growthN - 1)
		if isFinite(factor) {
			theoretical = loan.Principal.Mul(decimal.NewFromFloat(factor)).Round(2)
		}
	}

	value := theoretical.Add(loan.PositiveArrears()).Round(2)
	return Exposure{
		Value:              value,
		Percentage:         value.Div(loan.Principal).Mul(hundred).Round(4),
		TheoreticalBalance: theoretical,
	}
}

// MarginalECL returns EAD x PD x LGD with PD and LGD given as percentages.
func MarginalECL(ead, pdPercent, lgdPercent decimal.Decimal) decimal.Decimal {
	return ead.Mul(pdPercent.Div(hundred)).Mul(lgdPercent.Div(hundred))
}

// UnsecuredLGD treats every loan as fully unsecured.
type UnsecuredLGD struct{}

// LossGivenDefault always returns 1.
func (UnsecuredLGD) LossGivenDefault(model.LoanSnapshot) decimal.Decimal {
	return decimal.NewFromInt(1)
}

// CollateralLGD nets the borrower's securities off the outstanding balance:
// cash securities at collateral value first, then the rest at forced-sale value.
type CollateralLGD struct {
	// Default is returned when the outstanding balance is unknown. Zero uses DefaultCollateralLGD.
	Default decimal.Decimal
}

// LossGivenDefault returns the unrecovered share of the outstanding balance in [0, 1].
func (c CollateralLGD) LossGivenDefault(loan model.LoanSnapshot) decimal.Decimal {
	if loan.OutstandingBalance == nil || loan.OutstandingBalance.IsZero() {
		if c.Default.IsZero() {
			return DefaultCollateralLGD
		}
		return c.Default
	}
	outstanding := *loan.OutstandingBalance
	if outstanding.IsNegative() {
		return decimal.Zero
	}

	cash, nonCash := decimal.Zero, decimal.Zero
	for _, s := range loan.Securities {
		if s.Kind == model.SecurityCash {
			cash = cash.Add(s.CollateralValue)
		} else {
			nonCash = nonCash.Add(s.ForcedSaleValue)
		}
	}

	remaining := outstanding.Sub(cash)
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	remaining = remaining.Sub(nonCash)
	if !remaining.IsPositive() {
		return decimal.Zero
	}

	lgd := remaining.Div(outstanding)
	if lgd.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return lgd
}

// LGDForPolicy returns the LGD source named by policy: "unsecured" or "collateral".
func LGDForPolicy(policy string) (port.LGDSource, error) {
	switch policy {
	case "", "unsecured":
		return UnsecuredLGD{}, nil
	case "collateral":
		return CollateralLGD{}, nil
	default:
		return nil, fmt.Errorf("unknown LGD policy %q", policy)
	}
}
