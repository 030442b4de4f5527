package service

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/model"
	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// DefaultRegulatoryRanges replace regulatory ranges that fail to parse.
var DefaultRegulatoryRanges = map[valueobject.Category]string{
	valueobject.CategoryCurrent:     "0-30",
	valueobject.CategoryOLEM:        "30-60",
	valueobject.CategorySubstandard: "60-90",
	valueobject.CategoryDoubtful:    "90-180",
	valueobject.CategoryLoss:        "180+",
}

// DefaultProvisionRates apply to regulatory buckets configured without a rate.
var DefaultProvisionRates = map[valueobject.Category]decimal.Decimal{
	valueobject.CategoryCurrent:     decimal.RequireFromString("0.01"),
	valueobject.CategoryOLEM:        decimal.RequireFromString("0.05"),
	valueobject.CategorySubstandard: decimal.RequireFromString("0.25"),
	valueobject.CategoryDoubtful:    decimal.RequireFromString("0.50"),
	valueobject.CategoryLoss:        decimal.NewFromInt(1),
}

// NewECLStagingConfig parses the three ECL stages. Any missing or malformed
// range fails the whole config.
func NewECLStagingConfig(raw model.RawStagingConfig) (model.StagingConfig, error) {
	cfg := model.StagingConfig{Regime: valueobject.RegimeECL}
	for _, stage := range valueobject.ECLStages {
		name := stage.BucketName()
		rb, ok := raw[name]
		if !ok {
			return model.StagingConfig{}, fmt.Errorf("%w: missing %s", model.ErrInvalidStagingConfig, name)
		}
		r, err := valueobject.ParseDaysRange(rb.DaysRange)
		if err != nil {
			return model.StagingConfig{}, fmt.Errorf("%w: %s: %w", model.ErrInvalidStagingConfig, name, err)
		}
		cfg.Buckets = append(cfg.Buckets, model.Bucket{Name: name, Range: r, Rate: decimal.Zero})
	}
	if err := cfg.Validate(); err != nil {
		return model.StagingConfig{}, err
	}
	return cfg, nil
}

// NewRegulatoryStagingConfig parses the five regulatory categories. A missing
// or unparseable range is replaced by its default and logged; the repaired
// ladder must still validate.
func NewRegulatoryStagingConfig(raw model.RawStagingConfig, logger *slog.Logger) (model.StagingConfig, error) {
	cfg := model.StagingConfig{Regime: valueobject.RegimeLocal}
	for _, cat := range valueobject.RegulatoryCategories {
		name := cat.String()
		rb := raw[name]

		r, err := valueobject.ParseDaysRange(rb.DaysRange)
		if err != nil {
			fallback := DefaultRegulatoryRanges[cat]
			if logger != nil {
				logger.Warn("replacing invalid regulatory days range",
					"category", name,
					"days_range", rb.DaysRange,
					"default", fallback,
				)
			}
			r = valueobject.MustDaysRange(fallback)
		}

		rate := DefaultProvisionRates[cat]
		if rb.Rate != nil {
			rate = *rb.Rate
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return model.StagingConfig{}, fmt.Errorf("%w: %s rate %s outside [0, 1]",
				model.ErrInvalidStagingConfig, name, rate)
		}

		cfg.Buckets = append(cfg.Buckets, model.Bucket{Name: name, Range: r, Rate: rate})
	}
	if err := cfg.Validate(); err != nil {
		return model.StagingConfig{}, err
	}
	return cfg, nil
}

// ECLClassifier assigns ECL stages, checking the least severe stage first.
type ECLClassifier struct {
	config model.StagingConfig
}

// NewECLClassifier wraps a validated ECL config.
func NewECLClassifier(cfg model.StagingConfig) (*ECLClassifier, error) {
	if cfg.Regime != valueobject.RegimeECL || len(cfg.Buckets) != len(valueobject.ECLStages) {
		return nil, fmt.Errorf("%w: not an ECL config", model.ErrInvalidStagingConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ECLClassifier{config: cfg}, nil
}

// Classify returns the stage whose range contains days. Stage 3 is terminal.
func (c *ECLClassifier) Classify(days int) valueobject.Stage {
	if days < 0 {
		days = 0
	}
	for i, b := range c.config.Buckets[:len(c.config.Buckets)-1] {
		if b.Range.Contains(days) {
			return valueobject.ECLStages[i]
		}
	}
	return valueobject.Stage3
}

// Config returns the classifier's config.
func (c *ECLClassifier) Config() model.StagingConfig { return c.config }

// RegulatoryClassifier assigns regulatory categories, checking the most
// severe category first.
type RegulatoryClassifier struct {
	config model.StagingConfig
}

// NewRegulatoryClassifier wraps a validated regulatory config.
func NewRegulatoryClassifier(cfg model.StagingConfig) (*RegulatoryClassifier, error) {
	if cfg.Regime != valueobject.RegimeLocal || len(cfg.Buckets) != len(valueobject.RegulatoryCategories) {
		return nil, fmt.Errorf("%w: not a regulatory config", model.ErrInvalidStagingConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RegulatoryClassifier{config: cfg}, nil
}

// Classify returns the category whose range contains days. Loss is terminal.
func (c *RegulatoryClassifier) Classify(days int) valueobject.Category {
	if days < 0 {
		days = 0
	}
	last := len(c.config.Buckets) - 1
	if days >= c.config.Buckets[last].Range.Min() {
		return valueobject.RegulatoryCategories[last]
	}
	for i := last - 1; i >= 0; i-- {
		if c.config.Buckets[i].Range.Contains(days) {
			return valueobject.RegulatoryCategories[i]
		}
	}
	return valueobject.CategoryCurrent
}

// Rate returns the provision rate of a category.
func (c *RegulatoryClassifier) Rate(cat valueobject.Category) decimal.Decimal {
	return c.config.RateFor(cat.String())
}

// Config returns the classifier's config.
func (c *RegulatoryClassifier) Config() model.StagingConfig { return c.config }
