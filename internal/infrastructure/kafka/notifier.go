package kafka

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/event"
	"github.com/bibbank/impairment-engine/internal/domain/port"
)

// Notifier implements port.Notifier by publishing run lifecycle events.
// Downstream mailers subscribe to the topic and deliver to RunNotice.Recipient.
type Notifier struct {
	publisher *EventPublisher
	progress  *ProgressReporter
}

// NewNotifier creates a notifier on top of an event publisher. When progress
// is set, its throttle state for a run is dropped once the run finishes.
func NewNotifier(publisher *EventPublisher, progress *ProgressReporter) *Notifier {
	return &Notifier{publisher: publisher, progress: progress}
}

func (n *Notifier) NotifyStarted(ctx context.Context, notice port.RunNotice) error {
	return n.publisher.Publish(ctx, event.NewCalculationStarted(
		notice.RunID, notice.PortfolioID, notice.RunKind.String(), notice.Recipient, notice.ReportingDate,
	))
}

func (n *Notifier) NotifySucceeded(ctx context.Context, notice port.RunNotice) error {
	evt := event.NewCalculationSucceeded(
		notice.RunID, notice.PortfolioID, notice.RunKind.String(), notice.Recipient, 0, 0,
		decimal.Zero, decimal.Zero,
	)
	if s := notice.Summary; s != nil {
		evt.LoanCount = s.LoanCount
		evt.SkippedCount = s.SkippedCount()
		evt.TotalEAD = s.TotalEAD
		evt.TotalProvision = s.TotalProvision
	}
	n.forget(notice.RunID)
	return n.publisher.Publish(ctx, evt)
}

func (n *Notifier) NotifyFailed(ctx context.Context, notice port.RunNotice) error {
	n.forget(notice.RunID)
	return n.publisher.Publish(ctx, event.NewCalculationFailed(
		notice.RunID, notice.PortfolioID, notice.RunKind.String(), notice.Recipient, notice.Error,
	))
}

func (n *Notifier) forget(runID string) {
	if n.progress != nil {
		n.progress.Forget(runID)
	}
}
