package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/bibbank/impairment-engine/internal/domain/event"
	"github.com/bibbank/impairment-engine/internal/domain/model"
)

// DefaultProgressInterval caps progress events at one per second per run.
const DefaultProgressInterval = time.Second

// ProgressReporter implements port.ProgressReporter with per-run throttling.
// The first page of a run is always reported.
type ProgressReporter struct {
	publisher   *EventPublisher
	minInterval time.Duration
	now         func() time.Time

	mu         sync.Mutex
	lastReport map[string]time.Time
}

// NewProgressReporter creates a throttled reporter. A non-positive interval
// disables throttling.
func NewProgressReporter(publisher *EventPublisher, minInterval time.Duration) *ProgressReporter {
	return &ProgressReporter{
		publisher:   publisher,
		minInterval: minInterval,
		now:         time.Now,
		lastReport:  make(map[string]time.Time),
	}
}

// ReportProgress publishes a progress event unless one was sent for the
// same run less than minInterval ago.
func (r *ProgressReporter) ReportProgress(ctx context.Context, p model.RunProgress) error {
	if !r.allow(p.RunID) {
		return nil
	}
	return r.publisher.Publish(ctx, event.NewCalculationProgressed(
		p.RunID, p.PortfolioID, p.PagesCommitted, p.LoansProcessed, p.LoansSkipped,
	))
}

// Forget drops the throttle state of a finished run.
func (r *ProgressReporter) Forget(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastReport, runID)
}

func (r *ProgressReporter) allow(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	last, seen := r.lastReport[runID]
	if seen && r.minInterval > 0 && now.Sub(last) < r.minInterval {
		return false
	}
	r.lastReport[runID] = now
	return true
}
