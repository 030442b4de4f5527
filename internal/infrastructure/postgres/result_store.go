package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/port"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
	pkgpostgres "github.com/bibbank/impairment-engine/pkg/postgres"
)

const upsertResultSQL = `
	INSERT INTO loan_results (
		run_id, loan_id, run_kind, days_past_due,
		effective_interest_rate, pd, lgd,
		ead, ead_percentage, theoretical_balance,
		marginal_ecl, ecl_12_month, ecl_lifetime, final_ecl,
		provision_rate, provision, stage, category, calculated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW())
	ON CONFLICT (run_id, loan_id) DO UPDATE SET
		days_past_due           = EXCLUDED.days_past_due,
		effective_interest_rate = EXCLUDED.effective_interest_rate,
		pd                      = EXCLUDED.pd,
		lgd                     = EXCLUDED.lgd,
		ead                     = EXCLUDED.ead,
		ead_percentage          = EXCLUDED.ead_percentage,
		theoretical_balance     = EXCLUDED.theoretical_balance,
		marginal_ecl            = EXCLUDED.marginal_ecl,
		ecl_12_month            = EXCLUDED.ecl_12_month,
		ecl_lifetime            = EXCLUDED.ecl_lifetime,
		final_ecl               = EXCLUDED.final_ecl,
		provision_rate          = EXCLUDED.provision_rate,
		provision               = EXCLUDED.provision,
		stage                   = EXCLUDED.stage,
		category                = EXCLUDED.category,
		calculated_at           = EXCLUDED.calculated_at
`

const upsertCheckpointSQL = `
	INSERT INTO calculation_runs (run_id, portfolio_id, run_kind, cursor_loan_id, pages_committed, totals, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (run_id) DO UPDATE SET
		cursor_loan_id  = EXCLUDED.cursor_loan_id,
		pages_committed = EXCLUDED.pages_committed,
		totals          = EXCLUDED.totals,
		updated_at      = EXCLUDED.updated_at
`

// ResultStore implements port.ResultStore. Each page is written in a single
// transaction together with its checkpoint.
type ResultStore struct {
	db DB
}

// NewResultStore creates a new PostgreSQL-backed result store.
func NewResultStore(db DB) *ResultStore {
	return &ResultStore{db: db}
}

// BeginPage starts buffering a page. The transaction is opened on Commit.
func (s *ResultStore) BeginPage(context.Context) (port.PageWriter, error) {
	return &pageWriter{db: s.db}, nil
}

// LoadCheckpoint returns the last committed checkpoint of a run.
func (s *ResultStore) LoadCheckpoint(ctx context.Context, runID string) (model.Checkpoint, error) {
	var (
		cp     model.Checkpoint
		totals []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT run_id::text, cursor_loan_id, pages_committed, totals FROM calculation_runs WHERE run_id = $1`,
		runID,
	).Scan(&cp.RunID, &cp.Cursor, &cp.PagesCommitted, &totals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", runID, port.ErrNotFound)
		}
		return model.Checkpoint{}, fmt.Errorf("query checkpoint: %w", err)
	}
	if err := json.Unmarshal(totals, &cp.Totals); err != nil {
		return model.Checkpoint{}, fmt.Errorf("decode checkpoint totals: %w", err)
	}
	return cp, nil
}

// SaveSummary stores the final summary of a run and supersedes the previous
// summary of the same portfolio and run kind.
func (s *ResultStore) SaveSummary(ctx context.Context, summary model.CalculationSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	return pkgpostgres.WithTransaction(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE calculation_summaries SET superseded = TRUE
			WHERE portfolio_id = $1 AND run_kind = $2 AND run_id <> $3 AND NOT superseded
		`, summary.PortfolioID, summary.RunKind.String(), summary.RunID)
		if err != nil {
			return fmt.Errorf("supersede summaries: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO calculation_summaries (run_id, portfolio_id, run_kind, reporting_date, summary, superseded, created_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
			ON CONFLICT (run_id) DO UPDATE SET
				summary    = EXCLUDED.summary,
				superseded = FALSE
		`, summary.RunID, summary.PortfolioID, summary.RunKind.String(), summary.ReportingDate, payload)
		if err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		return nil
	})
}

// LatestSummary returns the current (not superseded) summary of a portfolio and run kind.
func (s *ResultStore) LatestSummary(ctx context.Context, portfolioID int64, kind valueobject.RunKind) (model.CalculationSummary, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `
		SELECT summary FROM calculation_summaries
		WHERE portfolio_id = $1 AND run_kind = $2 AND NOT superseded
	`, portfolioID, kind.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CalculationSummary{}, port.ErrNotFound
		}
		return model.CalculationSummary{}, fmt.Errorf("query summary: %w", err)
	}

	var summary model.CalculationSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return model.CalculationSummary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}

// pageWriter buffers results in memory and flushes them with the checkpoint
// as one batch inside one transaction.
type pageWriter struct {
	db      DB
	pending []model.LoanCalculationResult
	closed  bool
}

func (w *pageWriter) ApplyResult(_ context.Context, result model.LoanCalculationResult) error {
	if w.closed {
		return errors.New("page already closed")
	}
	w.pending = append(w.pending, result)
	return nil
}

func (w *pageWriter) Commit(ctx context.Context, cp model.Checkpoint) error {
	if w.closed {
		return errors.New("page already closed")
	}
	w.closed = true

	totals, err := json.Marshal(cp.Totals)
	if err != nil {
		return fmt.Errorf("encode checkpoint totals: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range w.pending {
		queueResult(batch, cp.RunID, r)
	}
	batch.Queue(upsertCheckpointSQL,
		cp.RunID, cp.Totals.PortfolioID, cp.Totals.RunKind.String(),
		cp.Cursor, cp.PagesCommitted, totals,
	)

	return pkgpostgres.WithTransaction(ctx, w.db, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write page: %w", err)
		}
		return nil
	})
}

func (w *pageWriter) Rollback(context.Context) error {
	w.closed = true
	w.pending = nil
	return nil
}

func queueResult(batch *pgx.Batch, runID string, r model.LoanCalculationResult) {
	var (
		stage    *int16
		category *string
	)
	if r.Stage.Valid() {
		v := int16(r.Stage)
		stage = &v
	}
	if r.Category != "" {
		v := r.Category.String()
		category = &v
	}

	batch.Queue(upsertResultSQL,
		runID, r.LoanID, r.RunKind.String(), r.DaysPastDue,
		r.EffectiveInterestRate, r.PD, r.LGD,
		r.EAD, r.EADPercentage, r.TheoreticalBalance,
		r.MarginalECL, r.ECL12Month, r.ECLLifetime, r.FinalECL,
		r.ProvisionRate, r.Provision, stage, category,
	)

	// Staging passes tag the loan so the following calculation run reuses the bucket.
	switch r.RunKind {
	case valueobject.RunKindECLStaging:
		batch.Queue(`UPDATE loans SET ecl_stage = $2, updated_at = NOW() WHERE id = $1`, r.LoanID, stage)
	case valueobject.RunKindLocalStaging:
		batch.Queue(`UPDATE loans SET impairment_category = $2, updated_at = NOW() WHERE id = $1`, r.LoanID, category)
	}
}
