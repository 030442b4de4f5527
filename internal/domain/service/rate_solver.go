package service

import (
	"math"
	"time"

	"github.com/bibbank/impairment-engine/internal/domain/model"
)

const (
	solverInitialGuess = 0.10
	solverMaxIter      = 100
	solverTolerance    = 1e-6
)

// SolveEffectiveRate finds the periodic rate r for which the cash flows
// [-(principal-fees), payment x term] have zero net present value, using
// Newton-Raphson with an analytic derivative. ok is false for non-finite
// inputs, a degenerate derivative, a diverging iterate or when the iteration
// budget is exhausted; callers should then use a rate of zero.
func SolveEffectiveRate(principal, fees float64, term int, payment float64) (rate float64, ok bool) {
	if !isFinite(principal) || !isFinite(fees) || !isFinite(payment) || term < 1 {
		return 0, false
	}

	net := -(principal - fees)
	rate = solverInitialGuess

	for i := 0; i < solverMaxIter; i++ {
		npv, derivative := npvWithDerivative(net, payment, term, rate)
		if !isFinite(npv) || !isFinite(derivative) {
			return 0, false
		}
		if math.Abs(npv) < solverTolerance {
			return rate, true
		}
		if derivative == 0 {
			return 0, false
		}

		rate -= npv / derivative
		if !isFinite(rate) || rate <= -1 {
			return 0, false
		}
	}

	return 0, false
}

// NPV evaluates the net present value of [-(principal-fees), payment x term] at rate.
func NPV(principal, fees float64, term int, payment, rate float64) float64 {
	npv, _ := npvWithDerivative(-(principal - fees), payment, term, rate)
	return npv
}

func npvWithDerivative(net, payment float64, term int, rate float64) (npv, derivative float64) {
	base := 1 + rate
	npv = net
	discount := 1.0
	for i := 1; i <= term; i++ {
		discount /= base
		npv += payment * discount
		derivative += -float64(i) * payment * discount / base
	}
	return npv, derivative
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// LoanTiming classifies a loan relative to the reporting date.
type LoanTiming int

const (
	TimingActive LoanTiming = iota
	TimingMatured
	TimingNotStarted
	TimingUndated
)

// String returns a readable name for logs.
func (t LoanTiming) String() string {
	switch t {
	case TimingMatured:
		return "matured"
	case TimingNotStarted:
		return "not_started"
	case TimingUndated:
		return "undated"
	default:
		return "active"
	}
}

// TemporalStatus reports whether the loan matured before the reporting date,
// starts after it, lacks an origination date, or is active.
func TemporalStatus(loan model.LoanSnapshot, reportingDate time.Time) LoanTiming {
	if !loan.IsDated() {
		return TimingUndated
	}
	if loan.IssueDate.After(reportingDate) {
		return TimingNotStarted
	}
	if loan.EffectiveMaturity().Before(reportingDate) {
		return TimingMatured
	}
	return TimingActive
}

// EffectiveMonthlyRate returns the solver rate for active loans and zero for
// every other timing or when the solver gives no answer.
func EffectiveMonthlyRate(loan model.LoanSnapshot, reportingDate time.Time) float64 {
	if TemporalStatus(loan, reportingDate) != TimingActive {
		return 0
	}
	rate, ok := SolveEffectiveRate(
		loan.Principal.InexactFloat64(),
		loan.AdministrativeFees.InexactFloat64(),
		loan.TermMonths,
		loan.MonthlyInstallment.InexactFloat64(),
	)
	if !ok {
		return 0
	}
	return rate
}
