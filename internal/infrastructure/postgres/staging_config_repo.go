package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/port"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// storedBucket is the JSON shape of one bucket in staging_configs.buckets.
type storedBucket struct {
	DaysRange string           `json:"days_range"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
}

// StagingConfigRepo implements port.StagingConfigSource.
type StagingConfigRepo struct {
	db DB
}

// NewStagingConfigRepo creates a new PostgreSQL-backed staging config source.
func NewStagingConfigRepo(db DB) *StagingConfigRepo {
	return &StagingConfigRepo{db: db}
}

// FetchStagingConfig returns the raw buckets of a portfolio for one regime,
// or port.ErrNotFound when none are configured.
func (r *StagingConfigRepo) FetchStagingConfig(ctx context.Context, portfolioID int64, regime valueobject.Regime) (model.RawStagingConfig, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT buckets FROM staging_configs WHERE portfolio_id = $1 AND regime = $2`,
		portfolioID, string(regime),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("staging config %s for portfolio %d: %w", regime, portfolioID, port.ErrNotFound)
		}
		return nil, fmt.Errorf("query staging config: %w", err)
	}

	var stored map[string]storedBucket
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("%w: decode buckets: %w", model.ErrInvalidStagingConfig, err)
	}

	raw := make(model.RawStagingConfig, len(stored))
	for name, b := range stored {
		raw[name] = model.RawBucket{DaysRange: b.DaysRange, Rate: b.Rate}
	}
	return raw, nil
}

// SaveStagingConfig replaces the raw buckets of a portfolio for one regime.
func (r *StagingConfigRepo) SaveStagingConfig(ctx context.Context, portfolioID int64, regime valueobject.Regime, raw model.RawStagingConfig) error {
	stored := make(map[string]storedBucket, len(raw))
	for name, b := range raw {
		stored[name] = storedBucket{DaysRange: b.DaysRange, Rate: b.Rate}
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode buckets: %w", err)
	}

	query := `
		INSERT INTO staging_configs (portfolio_id, regime, buckets, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (portfolio_id, regime) DO UPDATE SET
			buckets    = EXCLUDED.buckets,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, portfolioID, string(regime), payload); err != nil {
		return fmt.Errorf("save staging config: %w", err)
	}
	return nil
}
