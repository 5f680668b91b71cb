package metrics

import (
	"time"

	"github.com/zeusync/vault/internal/core/events/bus"
)

var _ bus.EventBusObserver = (*BusObserver)(nil)

// BusObserver records event bus deliveries. Register it with
// bus.EventBus.AddObserver.
type BusObserver struct {
	m *Metrics
}

func (m *Metrics) BusObserver() *BusObserver {
	return &BusObserver{m: m}
}

func (o *BusObserver) OnPublish(string, bus.Event) {}

func (o *BusObserver) OnDelivered(eventType string, _ int, err error, took time.Duration) {
	if o == nil || o.m == nil {
		return
	}
	o.m.busEvents.WithLabelValues(eventType, result(err)).Inc()
	o.m.busLatency.WithLabelValues(eventType).Observe(took.Seconds())
}
