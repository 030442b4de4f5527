package model_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bibbank/impairment-engine/internal/domain/model"
)

func intPtr(v int) *int { return &v }

func TestLoanSnapshot_DaysPastDue(t *testing.T) {
	tests := []struct {
		name string
		loan model.LoanSnapshot
		want int
	}{
		{
			name: "explicit ndia wins over arrears",
			loan: model.LoanSnapshot{
				NDIA:               intPtr(45),
				AccumulatedArrears: decimal.NewFromInt(900),
				MonthlyInstallment: decimal.NewFromInt(900),
			},
			want: 45,
		},
		{
			name: "inferred from arrears at 30 days per installment",
			loan: model.LoanSnapshot{
				AccumulatedArrears: decimal.NewFromInt(1350),
				MonthlyInstallment: decimal.NewFromInt(900),
			},
			want: 45,
		},
		{
			name: "inferred value is truncated",
			loan: model.LoanSnapshot{
				AccumulatedArrears: decimal.NewFromInt(100),
				MonthlyInstallment: decimal.NewFromInt(900),
			},
			want: 3,
		},
		{
			name: "no installment means zero",
			loan: model.LoanSnapshot{AccumulatedArrears: decimal.NewFromInt(100)},
			want: 0,
		},
		{
			name: "negative ndia is clamped",
			loan: model.LoanSnapshot{NDIA: intPtr(-3)},
			want: 0,
		},
		{
			name: "nothing known",
			loan: model.LoanSnapshot{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.loan.DaysPastDue())
		})
	}
}

func TestLoanSnapshot_EffectiveMaturity(t *testing.T) {
	issue := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	t.Run("derived from issue date and term", func(t *testing.T) {
		loan := model.LoanSnapshot{IssueDate: issue, TermMonths: 1}
		assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), loan.EffectiveMaturity())
	})

	t.Run("explicit maturity is kept", func(t *testing.T) {
		maturity := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
		loan := model.LoanSnapshot{IssueDate: issue, TermMonths: 12, MaturityDate: maturity}
		assert.Equal(t, maturity, loan.EffectiveMaturity())
	})

	t.Run("undated loan has no maturity", func(t *testing.T) {
		assert.True(t, model.LoanSnapshot{TermMonths: 12}.EffectiveMaturity().IsZero())
	})
}

func TestLoanSnapshot_PositiveArrears(t *testing.T) {
	assert.True(t, model.LoanSnapshot{AccumulatedArrears: decimal.NewFromInt(-5)}.PositiveArrears().IsZero())
	assert.True(t, decimal.NewFromInt(5).Equal(model.LoanSnapshot{AccumulatedArrears: decimal.NewFromInt(5)}.PositiveArrears()))
}
