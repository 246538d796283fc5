package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"rwacredit/core/events"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwacredit",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events segmented by module and type.",
			}, []string{"module", "type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rwacredit",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped because a subscriber fell behind.",
			}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the registry can be attached to the hub
// as a sink.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	kind := evt.EventType()
	module, _, _ := strings.Cut(kind, ".")
	m.published.WithLabelValues(module, kind).Inc()
}

// RecordDrop increments the dropped event counter.
func (m *eventMetrics) RecordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
