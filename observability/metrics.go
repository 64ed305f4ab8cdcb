package observability

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver counts events into a Prometheus counter labelled by event
// type, source and severity text.
type MetricsObserver struct {
	events *prometheus.CounterVec
}

// NewMetricsObserver creates the counter and registers it with reg. When reg
// already holds an identical collector that collector is reused, so several
// observers in one process share a single series set.
func NewMetricsObserver(reg prometheus.Registerer, namespace string) (*MetricsObserver, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Observability events emitted by mesh components.",
		},
		[]string{"type", "source", "level"},
	)

	if reg != nil {
		if err := reg.Register(events); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			events = existing
		}
	}

	return &MetricsObserver{events: events}, nil
}

func (o *MetricsObserver) OnEvent(_ context.Context, event Event) {
	o.events.WithLabelValues(string(event.Type), event.Source, event.Level.String()).Inc()
}

// Collector exposes the underlying counter, mainly for tests.
func (o *MetricsObserver) Collector() *prometheus.CounterVec {
	return o.events
}
