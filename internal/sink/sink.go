// Package sink defines where dispatched alerts go. The websocket hub is the
// primary sink; a Kafka topic can be enabled for downstream consumers.
package sink

import (
	"context"

	"github.com/workpulse/risk-monitor/internal/models"
)

// Sink delivers one alert to a destination. Implementations own their
// transport-level retries; the dispatcher only logs failures.
type Sink interface {
	Publish(ctx context.Context, alert models.Alert) error
	Name() string
}
