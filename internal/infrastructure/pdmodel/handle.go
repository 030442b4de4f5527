package pdmodel

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultPD is used when the model is unavailable or the borrower's birth
// year is unknown.
const DefaultPD = 0.05

const loadTimeout = 30 * time.Second

// Handle is the process-wide PD model. The artifact is loaded on first use
// and never reloaded; a failed load degrades every score to DefaultPD.
// Handle implements port.PDScorer and is safe for concurrent use.
type Handle struct {
	loader Loader
	logger *slog.Logger

	once    sync.Once
	model   *LogisticModel
	loadErr error
}

// NewHandle creates a handle that loads lazily from loader.
func NewHandle(loader Loader, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{loader: loader, logger: logger}
}

// NewHandleFromModel wraps an already decoded model.
func NewHandleFromModel(m LogisticModel, logger *slog.Logger) *Handle {
	h := NewHandle(nil, logger)
	h.once.Do(func() { h.model = &m })
	return h
}

// Warm loads the model now instead of on the first score. It returns the
// load error for callers that want to report it; scoring still falls back.
func (h *Handle) Warm(ctx context.Context) error {
	h.load(ctx)
	return h.loadErr
}

// Loaded reports whether a model is available.
func (h *Handle) Loaded() bool {
	h.load(context.Background())
	return h.model != nil
}

// Score returns the default probability for a borrower born in birthYear.
func (h *Handle) Score(birthYear *int) float64 {
	h.load(context.Background())

	if birthYear == nil || h.model == nil {
		return DefaultPD
	}
	p := h.model.Probability(float64(*birthYear))
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return DefaultPD
	}
	return math.Min(1, math.Max(0, p))
}

func (h *Handle) load(ctx context.Context) {
	h.once.Do(func() {
		if h.loader == nil {
			h.loadErr = ErrInvalidModel
			h.logger.Warn("no PD model configured, using default probability", "default_pd", DefaultPD)
			return
		}

		ctx, cancel := context.WithTimeout(ctx, loadTimeout)
		defer cancel()

		data, name, err := h.loader.Load(ctx)
		if err == nil {
			var m LogisticModel
			if m, err = Decode(name, data); err == nil {
				h.model = &m
				h.logger.Info("PD model loaded", "artifact", name, "feature", m.Feature())
				return
			}
		}
		h.loadErr = err
		h.logger.Warn("PD model unavailable, using default probability",
			"error", err,
			"default_pd", DefaultPD,
		)
	})
}
