package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// maxScheduleMonths bounds schedule generation for corrupt terms.
const maxScheduleMonths = 1200

var (
	// ErrReportingMonthNotInSchedule means the reporting month falls outside the
	// loan's schedule. It is never defaulted to zero.
	ErrReportingMonthNotInSchedule = errors.New("reporting month not found in schedule")

	// ErrInvalidScheduleInput is returned for non-finite amounts or an unusable term.
	ErrInvalidScheduleInput = errors.New("invalid schedule input")
)

// ScheduleInput is everything needed to amortize one loan.
type ScheduleInput struct {
	StartDate          time.Time
	ReportingDate      time.Time
	Principal          decimal.Decimal
	MonthlyInstallment decimal.Decimal
	AnnualRate         float64 // proportion, e.g. 0.16 for 16%
	PD                 float64 // proportion
	TermMonths         int
}

// ScheduleRow is one month of the schedule. Month 0 is origination.
type ScheduleRow struct {
	Date           time.Time
	ClosingBalance decimal.Decimal
	Principal      decimal.Decimal
	Interest       decimal.Decimal
	ExpectedLoss   decimal.Decimal
	PVLoss         decimal.Decimal // ExpectedLoss discounted to month 0
	Month          int
}

// Schedule is the amortization table plus the ECL figures measured from the
// reporting month.
type Schedule struct {
	ECL12Month     decimal.Decimal
	ECLLifetime    decimal.Decimal
	Rows           []ScheduleRow
	ReportingIndex int
}

// BuildSchedule amortizes the loan month by month:
//
//	interest  = balance * r
//	principal = max(0, min(installment, balance + interest) - interest)
//	balance   = max(0, balance - principal)
//
// with r = AnnualRate / 12. Each row's expected loss is balance x PD. The
// 12-month and lifetime ECL are sums of loss_k / (1+r)^k over the rows that
// follow the reporting month, k starting at 1.
//
// Discount factors are computed with float64 for the power term; all
// monetary amounts stay in decimal.
func BuildSchedule(in ScheduleInput) (Schedule, error) {
	if !isFinite(in.AnnualRate) || !isFinite(in.PD) {
		return Schedule{}, fmt.Errorf("%w: non-finite rate or PD", ErrInvalidScheduleInput)
	}
	if in.TermMonths < 0 || in.TermMonths > maxScheduleMonths {
		return Schedule{}, fmt.Errorf("%w: term %d months", ErrInvalidScheduleInput, in.TermMonths)
	}
	if in.StartDate.IsZero() || in.ReportingDate.IsZero() {
		return Schedule{}, fmt.Errorf("%w: missing date", ErrInvalidScheduleInput)
	}

	rate := in.AnnualRate / 12
	// (1+r)^k is monotonic in k, so checking the final month bounds every factor.
	if last := math.Pow(1+rate, float64(in.TermMonths)); rate <= -1 || !isFinite(last) || last <= 0 {
		return Schedule{}, fmt.Errorf("%w: monthly rate %f", ErrInvalidScheduleInput, rate)
	}

	rateDec := decimal.NewFromFloat(rate)
	pd := decimal.NewFromFloat(in.PD)
	balance := in.Principal

	rows := make([]ScheduleRow, 0, in.TermMonths+1)
	rows = append(rows, ScheduleRow{
		Month:          0,
		Date:           in.StartDate,
		ClosingBalance: balance,
		Principal:      decimal.Zero,
		Interest:       decimal.Zero,
		ExpectedLoss:   balance.Mul(pd),
		PVLoss:         balance.Mul(pd),
	})

	for month := 1; month <= in.TermMonths; month++ {
		interest := balance.Mul(rateDec)
		due := decimal.Min(in.MonthlyInstallment, balance.Add(interest))
		principal := decimal.Max(decimal.Zero, due.Sub(interest))
		balance = decimal.Max(decimal.Zero, balance.Sub(principal))
		loss := balance.Mul(pd)

		rows = append(rows, ScheduleRow{
			Month:          month,
			Date:           valueobject.AddMonths(in.StartDate, month),
			ClosingBalance: balance,
			Principal:      principal,
			Interest:       interest,
			ExpectedLoss:   loss,
			PVLoss:         loss.Div(discountFactor(rate, month)),
		})
	}

	idx, err := reportingIndex(rows, in.ReportingDate)
	if err != nil {
		return Schedule{}, err
	}

	return Schedule{
		Rows:           rows,
		ReportingIndex: idx,
		ECL12Month:     discountedLoss(rows[idx+1:], rate, 12),
		ECLLifetime:    discountedLoss(rows[idx+1:], rate, 0),
	}, nil
}

func discountFactor(rate float64, months int) decimal.Decimal {
	return decimal.NewFromFloat(math.Pow(1+rate, float64(months)))
}

// ReportingAnchor returns the first day of the month the reporting date is
// measured from: the same month when the date is the last day of its month,
// otherwise the previous month.
func ReportingAnchor(reportingDate time.Time) time.Time {
	first := time.Date(reportingDate.Year(), reportingDate.Month(), 1, 0, 0, 0, 0, reportingDate.Location())
	if valueobject.IsMonthEnd(reportingDate) {
		return first
	}
	return first.AddDate(0, -1, 0)
}

func reportingIndex(rows []ScheduleRow, reportingDate time.Time) (int, error) {
	anchor := ReportingAnchor(reportingDate)
	for i, row := range rows {
		if valueobject.SameMonth(row.Date, anchor) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrReportingMonthNotInSchedule, anchor.Format("01/2006"))
}

// discountedLoss sums loss/(1+rate)^k over the first horizon rows (all rows
// when horizon is 0), rounded to cents.
func discountedLoss(future []ScheduleRow, rate float64, horizon int) decimal.Decimal {
	if horizon > 0 && len(future) > horizon {
		future = future[:horizon]
	}
	total := decimal.Zero
	for k, row := range future {
		total = total.Add(row.ExpectedLoss.Div(discountFactor(rate, k+1)))
	}
	return total.Round(2)
}

// ECLForStage selects 12-month ECL for Stage 1 and lifetime ECL otherwise.
func ECLForStage(stage valueobject.Stage, ecl12Month, eclLifetime decimal.Decimal) decimal.Decimal {
	if stage == valueobject.Stage1 {
		return ecl12Month
	}
	return eclLifetime
}
