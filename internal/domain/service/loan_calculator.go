package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/port"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// LoanCalculator computes one run kind for a single loan. It holds only
// read-only state and is shared by all workers of a run.
type LoanCalculator struct {
	eclStaging    *ECLClassifier
	regulatory    *RegulatoryClassifier
	pd            port.PDScorer
	lgd           port.LGDSource
	reportingDate time.Time
	kind          valueobject.RunKind
}

// NewLoanCalculator builds the calculator for a run. cfg must belong to the
// regime of kind; pd and lgd are only consulted by ECL runs.
func NewLoanCalculator(
	kind valueobject.RunKind,
	cfg model.StagingConfig,
	reportingDate time.Time,
	pd port.PDScorer,
	lgd port.LGDSource,
) (*LoanCalculator, error) {
	c := &LoanCalculator{
		kind:          kind,
		reportingDate: reportingDate,
		pd:            pd,
		lgd:           lgd,
	}

	var err error
	switch kind.Regime() {
	case valueobject.RegimeECL:
		c.eclStaging, err = NewECLClassifier(cfg)
	default:
		c.regulatory, err = NewRegulatoryClassifier(cfg)
	}
	if err != nil {
		return nil, err
	}

	if kind == valueobject.RunKindECL && (pd == nil || lgd == nil) {
		return nil, fmt.Errorf("ECL run requires a PD scorer and an LGD source")
	}
	if c.lgd == nil {
		c.lgd = UnsecuredLGD{}
	}
	return c, nil
}

// Calculate derives the result for one loan. An error means the loan must be
// skipped; it never indicates an infrastructure problem.
func (c *LoanCalculator) Calculate(loan model.LoanSnapshot) (model.LoanCalculationResult, error) {
	switch c.kind {
	case valueobject.RunKindECLStaging:
		return c.stageECL(loan), nil
	case valueobject.RunKindLocalStaging:
		return c.stageLocal(loan), nil
	case valueobject.RunKindECL:
		return c.expectedCreditLoss(loan)
	case valueobject.RunKindLocalImpairment:
		return c.localImpairment(loan), nil
	default:
		return model.LoanCalculationResult{}, fmt.Errorf("unsupported run kind %q", c.kind)
	}
}

func (c *LoanCalculator) base(loan model.LoanSnapshot) (model.LoanCalculationResult, float64) {
	monthly := EffectiveMonthlyRate(loan, c.reportingDate)
	exposure := ExposureAtDefault(loan, c.reportingDate, monthly)

	return model.LoanCalculationResult{
		LoanID:                loan.ID,
		RunKind:               c.kind,
		DaysPastDue:           loan.DaysPastDue(),
		EffectiveInterestRate: decimal.NewFromFloat(monthly * 12 * 100).Round(4),
		EAD:                   exposure.Value,
		EADPercentage:         exposure.Percentage,
		TheoreticalBalance:    exposure.TheoreticalBalance,
		LGD:                   c.lgd.LossGivenDefault(loan).Mul(hundred),
	}, monthly
}

func (c *LoanCalculator) stageECL(loan model.LoanSnapshot) model.LoanCalculationResult {
	r, _ := c.base(loan)
	r.Stage = c.eclStaging.Classify(r.DaysPastDue)
	return r
}

func (c *LoanCalculator) stageLocal(loan model.LoanSnapshot) model.LoanCalculationResult {
	r, _ := c.base(loan)
	r.Category = c.regulatory.Classify(r.DaysPastDue)
	r.ProvisionRate = c.regulatory.Rate(r.Category)
	return r
}

func (c *LoanCalculator) expectedCreditLoss(loan model.LoanSnapshot) (model.LoanCalculationResult, error) {
	r, monthly := c.base(loan)

	if loan.ECLStage != nil && loan.ECLStage.Valid() {
		r.Stage = *loan.ECLStage
	} else {
		r.Stage = c.eclStaging.Classify(r.DaysPastDue)
	}

	pd := c.pd.Score(loan.BirthYear)
	r.PD = decimal.NewFromFloat(pd).Mul(hundred).Round(4)
	r.MarginalECL = MarginalECL(r.EAD, r.PD, r.LGD).Round(2)

	// Undated or zero-principal loans keep zero ECL rather than failing the schedule.
	if !loan.HasExposure() || !loan.IsDated() {
		return r, nil
	}

	schedule, err := BuildSchedule(ScheduleInput{
		Principal:          loan.Principal,
		TermMonths:         loan.TermMonths,
		AnnualRate:         monthly * 12,
		MonthlyInstallment: loan.MonthlyInstallment,
		StartDate:          loan.IssueDate,
		ReportingDate:      c.reportingDate,
		PD:                 pd,
	})
	if err != nil {
		return model.LoanCalculationResult{}, fmt.Errorf("loan %d schedule: %w", loan.ID, err)
	}

	r.ECL12Month = schedule.ECL12Month
	r.ECLLifetime = schedule.ECLLifetime
	r.FinalECL = ECLForStage(r.Stage, schedule.ECL12Month, schedule.ECLLifetime)
	return r, nil
}

func (c *LoanCalculator) localImpairment(loan model.LoanSnapshot) model.LoanCalculationResult {
	r, _ := c.base(loan)

	if loan.ImpairmentCategory != nil && loan.ImpairmentCategory.Severity() >= 0 {
		r.Category = *loan.ImpairmentCategory
	} else {
		r.Category = c.regulatory.Classify(r.DaysPastDue)
	}
	r.ProvisionRate = c.regulatory.Rate(r.Category)
	r.Provision = r.EAD.Mul(r.ProvisionRate)
	return r
}
