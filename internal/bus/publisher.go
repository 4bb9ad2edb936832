package bus

import (
	"context"

	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// MetricsPublisher forwards recorded metrics to scribe.metrics.<kind>.
type MetricsPublisher struct {
	client *Client
}

func NewMetricsPublisher(client *Client) *MetricsPublisher {
	return &MetricsPublisher{client: client}
}

// Record implements metrics.Sink.
func (p *MetricsPublisher) Record(_ context.Context, ev metrics.Event) error {
	if !p.client.Healthy() {
		return nil
	}
	return p.client.PublishJSON(protocol.MetricsSubject(string(ev.Kind)), protocol.MetricEvent{
		ID:        ev.ID(),
		Kind:      string(ev.Kind),
		Timestamp: ev.Timestamp(),
		Record:    ev.Payload(),
	})
}
