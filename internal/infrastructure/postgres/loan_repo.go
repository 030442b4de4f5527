package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// LoanRepo implements port.LoanSource.
type LoanRepo struct {
	db DB
}

// NewLoanRepo creates a new PostgreSQL-backed loan source.
func NewLoanRepo(db DB) *LoanRepo {
	return &LoanRepo{db: db}
}

// FetchPage returns up to limit loans of a portfolio with id > afterID, in
// ascending id order, with the borrowers' securities attached.
func (r *LoanRepo) FetchPage(ctx context.Context, portfolioID, afterID int64, limit int) ([]model.LoanSnapshot, error) {
	query := `
		SELECT id, portfolio_id, loan_no, borrower_id,
		       issue_date, first_deduction_date, submission_date, maturity_date,
		       principal, administrative_fees, monthly_installment, accumulated_arrears,
		       outstanding_balance, term_months, ndia, birth_year,
		       ecl_stage, impairment_category
		FROM loans
		WHERE portfolio_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, portfolioID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	var loans []model.LoanSnapshot
	for rows.Next() {
		loan, err := scanLoanRow(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	if len(loans) == 0 {
		return nil, nil
	}

	if err := r.attachSecurities(ctx, loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// attachSecurities loads the securities of every borrower on the page in one query.
func (r *LoanRepo) attachSecurities(ctx context.Context, loans []model.LoanSnapshot) error {
	seen := make(map[string]struct{}, len(loans))
	borrowers := make([]string, 0, len(loans))
	for _, l := range loans {
		if l.BorrowerID == "" {
			continue
		}
		if _, ok := seen[l.BorrowerID]; !ok {
			seen[l.BorrowerID] = struct{}{}
			borrowers = append(borrowers, l.BorrowerID)
		}
	}
	if len(borrowers) == 0 {
		return nil
	}

	query := `
		SELECT id, borrower_id, kind, collateral_value, forced_sale_value
		FROM securities
		WHERE borrower_id = ANY($1)
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, borrowers)
	if err != nil {
		return fmt.Errorf("query securities: %w", err)
	}
	defer rows.Close()

	byBorrower := make(map[string][]model.Security)
	for rows.Next() {
		var (
			s          model.Security
			borrowerID string
			kind       string
		)
		if err := rows.Scan(&s.ID, &borrowerID, &kind, &s.CollateralValue, &s.ForcedSaleValue); err != nil {
			return fmt.Errorf("scan security: %w", err)
		}
		s.Kind = model.SecurityKind(kind)
		byBorrower[borrowerID] = append(byBorrower[borrowerID], s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate securities: %w", err)
	}

	for i := range loans {
		loans[i].Securities = byBorrower[loans[i].BorrowerID]
	}
	return nil
}

func scanLoanRow(s scannable) (model.LoanSnapshot, error) {
	var (
		loan                                        model.LoanSnapshot
		issue, firstDeduction, submission, maturity *time.Time
		outstanding                                 decimal.NullDecimal
		ndia, birthYear                             *int32
		eclStage                                    *int16
		category                                    *string
	)

	err := s.Scan(
		&loan.ID, &loan.PortfolioID, &loan.LoanNo, &loan.BorrowerID,
		&issue, &firstDeduction, &submission, &maturity,
		&loan.Principal, &loan.AdministrativeFees, &loan.MonthlyInstallment, &loan.AccumulatedArrears,
		&outstanding, &loan.TermMonths, &ndia, &birthYear,
		&eclStage, &category,
	)
	if err != nil {
		return model.LoanSnapshot{}, fmt.Errorf("scan loan: %w", err)
	}

	loan.IssueDate = derefTime(issue)
	loan.FirstDeductionDate = derefTime(firstDeduction)
	loan.SubmissionDate = derefTime(submission)
	loan.MaturityDate = derefTime(maturity)

	if outstanding.Valid {
		loan.OutstandingBalance = &outstanding.Decimal
	}
	loan.NDIA = intFrom32(ndia)
	loan.BirthYear = intFrom32(birthYear)

	if eclStage != nil {
		if stage := valueobject.Stage(*eclStage); stage.Valid() {
			loan.ECLStage = &stage
		}
	}
	if category != nil {
		if cat, err := valueobject.NewCategory(*category); err == nil {
			loan.ImpairmentCategory = &cat
		}
	}
	return loan, nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func intFrom32(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
