package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Fixed identifiers for deterministic testing
var (
	TestRunID1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TestRunID2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

const (
	TestPortfolioID int64 = 10
	TestBorrowerID        = "BRW-0001"
)

// TestReportingDate is the mid-month reporting date used across fixtures.
var TestReportingDate = time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)

// LoanRow is the minimal set of columns needed to seed a loan.
type LoanRow struct {
	IssueDate          time.Time
	Principal          decimal.Decimal
	AdministrativeFees decimal.Decimal
	MonthlyInstallment decimal.Decimal
	AccumulatedArrears decimal.Decimal
	NDIA               *int
	BirthYear          *int
	LoanNo             string
	BorrowerID         string
	PortfolioID        int64
	TermMonths         int
}

// StandardLoan is a twelve-month 10,000 loan issued in January 2024.
func StandardLoan(loanNo string) LoanRow {
	return LoanRow{
		PortfolioID:        TestPortfolioID,
		LoanNo:             loanNo,
		BorrowerID:         TestBorrowerID,
		IssueDate:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Principal:          decimal.NewFromInt(10000),
		AdministrativeFees: decimal.NewFromInt(100),
		MonthlyInstallment: decimal.NewFromInt(900),
		TermMonths:         12,
	}
}

// SeedLoan inserts a loan and returns its generated id.
func SeedLoan(ctx context.Context, t *testing.T, pool *pgxpool.Pool, l LoanRow) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO loans (
			portfolio_id, loan_no, borrower_id, issue_date,
			principal, administrative_fees, monthly_installment, accumulated_arrears,
			term_months, ndia, birth_year
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, l.PortfolioID, l.LoanNo, l.BorrowerID, l.IssueDate,
		l.Principal, l.AdministrativeFees, l.MonthlyInstallment, l.AccumulatedArrears,
		l.TermMonths, l.NDIA, l.BirthYear,
	).Scan(&id)
	require.NoError(t, err, "seed loan %s", l.LoanNo)
	return id
}

// SeedSecurity pledges collateral for a borrower.
func SeedSecurity(ctx context.Context, t *testing.T, pool *pgxpool.Pool, borrowerID, kind string, collateral, forcedSale decimal.Decimal) {
	t.Helper()

	_, err := pool.Exec(ctx, `
		INSERT INTO securities (borrower_id, kind, collateral_value, forced_sale_value)
		VALUES ($1, $2, $3, $4)
	`, borrowerID, kind, collateral, forcedSale)
	require.NoError(t, err, "seed security for %s", borrowerID)
}
