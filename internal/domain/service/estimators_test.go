package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/service"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func scenarioLoan() model.LoanSnapshot {
	return model.LoanSnapshot{
		ID:                 1,
		PortfolioID:        1,
		Principal:          decimal.NewFromInt(10000),
		AdministrativeFees: decimal.NewFromInt(100),
		MonthlyInstallment: decimal.NewFromInt(900),
		TermMonths:         12,
		IssueDate:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestExposureAtDefault(t *testing.T) {
	reporting := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)

	t.Run("closed form balance at month six", func(t *testing.T) {
		exp := service.ExposureAtDefault(scenarioLoan(), reporting, 0.0136470306775757)
		assert.True(t, dec("5203.21").Equal(exp.Value), exp.Value.String())
		assert.True(t, exp.Value.Equal(exp.TheoreticalBalance))
		assert.True(t, dec("52.0321").Equal(exp.Percentage), exp.Percentage.String())
	})

	t.Run("arrears are added", func(t *testing.T) {
		loan := scenarioLoan()
		loan.AccumulatedArrears = decimal.NewFromInt(450)
		exp := service.ExposureAtDefault(loan, reporting, 0.0136470306775757)
		assert.True(t, dec("5653.21").Equal(exp.Value), exp.Value.String())
		assert.True(t, dec("5203.21").Equal(exp.TheoreticalBalance))
	})

	t.Run("negative arrears are ignored", func(t *testing.T) {
		loan := scenarioLoan()
		loan.AccumulatedArrears = decimal.NewFromInt(-450)
		exp := service.ExposureAtDefault(loan, reporting, 0.0136470306775757)
		assert.True(t, dec("5203.21").Equal(exp.Value))
	})

	t.Run("zero rate leaves only arrears", func(t *testing.T) {
		loan := scenarioLoan()
		loan.AccumulatedArrears = decimal.NewFromInt(300)
		exp := service.ExposureAtDefault(loan, reporting, 0)
		assert.True(t, decimal.NewFromInt(300).Equal(exp.Value))
		assert.True(t, exp.TheoreticalBalance.IsZero())
	})

	t.Run("month count is clamped at origination", func(t *testing.T) {
		exp := service.ExposureAtDefault(scenarioLoan(), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 0.01)
		assert.True(t, decimal.NewFromInt(10000).Equal(exp.Value), exp.Value.String())
	})

	t.Run("month count is clamped at maturity", func(t *testing.T) {
		exp := service.ExposureAtDefault(scenarioLoan(), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 0.01)
		assert.True(t, exp.Value.IsZero(), exp.Value.String())
	})

	t.Run("no principal means no exposure", func(t *testing.T) {
		loan := scenarioLoan()
		loan.Principal = decimal.Zero
		loan.AccumulatedArrears = decimal.NewFromInt(300)
		assert.True(t, service.ExposureAtDefault(loan, reporting, 0.01).Value.IsZero())
	})

	t.Run("undated loan has no exposure", func(t *testing.T) {
		loan := scenarioLoan()
		loan.IssueDate = time.Time{}
		assert.True(t, service.ExposureAtDefault(loan, reporting, 0.01).Value.IsZero())
	})
}

func TestMarginalECL(t *testing.T) {
	assert.True(t, dec("50").Equal(service.MarginalECL(dec("1000"), dec("5"), dec("100"))))
	assert.True(t, dec("12.5").Equal(service.MarginalECL(dec("250"), dec("10"), dec("50"))))
	assert.True(t, service.MarginalECL(dec("1000"), dec("0"), dec("100")).IsZero())
}

func TestMarginalECL_Monotonic(t *testing.T) {
	values := []decimal.Decimal{dec("0"), dec("0.01"), dec("1"), dec("12.5"), dec("50"), dec("99.99"), dec("100")}
	amounts := []decimal.Decimal{dec("0"), dec("1"), dec("1000"), dec("5203.21"), dec("1000000")}

	for _, pd := range values {
		for _, lgd := range values {
			prev := service.MarginalECL(amounts[0], pd, lgd)
			for _, ead := range amounts[1:] {
				cur := service.MarginalECL(ead, pd, lgd)
				assert.True(t, cur.GreaterThanOrEqual(prev), "ead %s pd %s lgd %s", ead, pd, lgd)
				prev = cur
			}
		}
	}

	for _, ead := range amounts {
		for _, fixed := range values {
			prevPD := service.MarginalECL(ead, values[0], fixed)
			prevLGD := service.MarginalECL(ead, fixed, values[0])
			for _, v := range values[1:] {
				curPD := service.MarginalECL(ead, v, fixed)
				curLGD := service.MarginalECL(ead, fixed, v)
				assert.True(t, curPD.GreaterThanOrEqual(prevPD))
				assert.True(t, curLGD.GreaterThanOrEqual(prevLGD))
				prevPD, prevLGD = curPD, curLGD
			}
		}
	}
}

func TestUnsecuredLGD(t *testing.T) {
	assert.True(t, decimal.NewFromInt(1).Equal(service.UnsecuredLGD{}.LossGivenDefault(scenarioLoan())))
}

func TestCollateralLGD(t *testing.T) {
	tests := []struct {
		name        string
		outstanding *decimal.Decimal
		securities  []model.Security
		lgd         service.CollateralLGD
		want        string
	}{
		{name: "unknown balance uses default", want: "0.65"},
		{name: "zero balance uses default", outstanding: decPtr("0"), want: "0.65"},
		{name: "custom default", lgd: service.CollateralLGD{Default: dec("0.45")}, want: "0.45"},
		{name: "negative balance has no loss", outstanding: decPtr("-10"), want: "0"},
		{name: "unsecured", outstanding: decPtr("1000"), want: "1"},
		{
			name:        "cash covers everything",
			outstanding: decPtr("1000"),
			securities:  []model.Security{{Kind: model.SecurityCash, CollateralValue: dec("1200"), ForcedSaleValue: dec("0")}},
			want:        "0",
		},
		{
			name:        "cash then forced sale",
			outstanding: decPtr("1000"),
			securities: []model.Security{
				{Kind: model.SecurityCash, CollateralValue: dec("200")},
				{Kind: model.SecurityNonCash, CollateralValue: dec("900"), ForcedSaleValue: dec("300")},
			},
			want: "0.5",
		},
		{
			name:        "non-cash uses forced sale value only",
			outstanding: decPtr("1000"),
			securities:  []model.Security{{Kind: model.SecurityNonCash, CollateralValue: dec("5000"), ForcedSaleValue: dec("250")}},
			want:        "0.75",
		},
		{
			name:        "combined securities cover the balance",
			outstanding: decPtr("1000"),
			securities: []model.Security{
				{Kind: model.SecurityCash, CollateralValue: dec("600")},
				{Kind: model.SecurityNonCash, ForcedSaleValue: dec("600")},
			},
			want: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan := scenarioLoan()
			loan.OutstandingBalance = tt.outstanding
			loan.Securities = tt.securities
			got := tt.lgd.LossGivenDefault(loan)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestLGDForPolicy(t *testing.T) {
	lgd, err := service.LGDForPolicy("")
	require.NoError(t, err)
	assert.Equal(t, service.UnsecuredLGD{}, lgd)

	lgd, err = service.LGDForPolicy("collateral")
	require.NoError(t, err)
	assert.Equal(t, service.CollateralLGD{}, lgd)

	_, err = service.LGDForPolicy("basel-irb")
	assert.Error(t, err)
}
