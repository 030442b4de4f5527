package model

import (
	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// LoanCalculationResult is everything one run derives for one loan. Rates and
// probabilities are percentages (0-100); amounts are currency units.
type LoanCalculationResult struct {
	EffectiveInterestRate decimal.Decimal // annual, percent
	PD                    decimal.Decimal // percent
	LGD                   decimal.Decimal // percent

	EAD                decimal.Decimal
	EADPercentage      decimal.Decimal
	TheoreticalBalance decimal.Decimal

	MarginalECL decimal.Decimal
	ECL12Month  decimal.Decimal
	ECLLifetime decimal.Decimal
	FinalECL    decimal.Decimal

	ProvisionRate decimal.Decimal // proportion
	Provision     decimal.Decimal

	Stage    valueobject.Stage    // zero when the run does not stage under ECL
	Category valueobject.Category // empty when the run does not stage under local rules

	RunKind     valueobject.RunKind
	LoanID      int64
	DaysPastDue int
}

// Bucket returns the bucket name the result is aggregated under.
func (r LoanCalculationResult) Bucket() string {
	if r.Stage.Valid() {
		return r.Stage.BucketName()
	}
	return r.Category.String()
}

// Loss returns the amount the run charges for this loan: the stage-selected
// ECL under the ECL regime, the provision under local rules.
func (r LoanCalculationResult) Loss() decimal.Decimal {
	switch r.RunKind {
	case valueobject.RunKindECL:
		return r.FinalECL
	case valueobject.RunKindLocalImpairment:
		return r.Provision
	default:
		return decimal.Zero
	}
}

// LGDWeightedExposure returns EAD x LGD as a currency amount.
func (r LoanCalculationResult) LGDWeightedExposure() decimal.Decimal {
	return r.EAD.Mul(r.LGD).Div(decimal.NewFromInt(100))
}
