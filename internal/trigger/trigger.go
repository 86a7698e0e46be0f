// Package trigger is the seam between the ingestion pipeline and the alert
// subsystem: sync completion drives a scan, and resulting alerts travel over
// an internal event channel to the sinks so slow delivery never blocks the
// pipeline's completion path.
package trigger

import (
	"context"
	"log/slog"

	"github.com/workpulse/risk-monitor/internal/models"
	"github.com/workpulse/risk-monitor/internal/sink"
)

// Scanner is the monitor operation the trigger depends on.
type Scanner interface {
	Scan(ctx context.Context, kind models.Kind) ([]models.Alert, error)
}

// Trigger runs scans on sync completion and dispatches alerts to the
// configured sinks from a dedicated goroutine.
type Trigger struct {
	logger  *slog.Logger
	scanner Scanner
	sinks   []sink.Sink
	events  chan models.Alert
}

// New constructs a Trigger. Run must be started for alerts to reach sinks.
func New(logger *slog.Logger, scanner Scanner, sinks []sink.Sink, buffer int) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Trigger{
		logger:  logger,
		scanner: scanner,
		sinks:   sinks,
		events:  make(chan models.Alert, buffer),
	}
}

// Run is the dispatcher loop. It forwards each queued alert to every sink,
// logging per-sink failures without affecting the others. Returns when ctx is
// cancelled.
func (t *Trigger) Run(ctx context.Context) {
	for {
		select {
		case alert := <-t.events:
			t.deliver(ctx, alert)
		case <-ctx.Done():
			return
		}
	}
}

// OnSyncComplete is called by the ingestion pipeline after it has durably
// written all snapshots for the kind. The scan runs synchronously; delivery
// is queued and best effort. Returns the number of alerts the scan produced.
func (t *Trigger) OnSyncComplete(ctx context.Context, kind models.Kind) (int, error) {
	alerts, err := t.scanner.Scan(ctx, kind)
	if err != nil {
		return 0, err
	}
	for _, alert := range alerts {
		select {
		case t.events <- alert:
		default:
			// Best-effort alerting: a saturated queue sheds rather than
			// stalling the sync path.
			t.logger.Warn("alert queue full, dropping alert",
				slog.String("type", string(alert.Type)))
		}
	}
	return len(alerts), nil
}

func (t *Trigger) deliver(ctx context.Context, alert models.Alert) {
	for _, s := range t.sinks {
		if err := s.Publish(ctx, alert); err != nil {
			t.logger.Warn("alert delivery failed",
				slog.String("sink", s.Name()),
				slog.String("type", string(alert.Type)),
				slog.Any("error", err))
		}
	}
}
