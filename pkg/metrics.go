package calodigi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "calodigi"

type Metrics struct {
	EventsProcessed prometheus.Counter
	EventsDiscarded prometheus.Counter
	Deposits        prometheus.Counter
	Hits            *prometheus.CounterVec
	SaturatedHits   prometheus.Counter
	EventEnergy     prometheus.Histogram
	EventDuration   prometheus.Histogram
}

// NewMetrics registers the run metrics on reg. Every pipeline gets its own
// registry so that concurrent runs in one process do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_processed_total",
			Help:      "Events digitized and reconstructed",
		}),
		EventsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_discarded_total",
			Help:      "Events skipped after a processing error",
		}),
		Deposits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deposits_total",
			Help:      "Simulated deposits read",
		}),
		Hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hits_total",
			Help:      "Digitized hits by readout mode",
		}, []string{"mode"}),
		SaturatedHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "saturated_hits_total",
			Help:      "Hits whose TOT counter overflowed",
		}),
		EventEnergy: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "event_energy_mev",
			Help:      "Reconstructed total energy per event",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		EventDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent digitizing and reconstructing one event",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
	}
}

func (m *Metrics) observeHits(hits []DigitizedHit) {
	for _, hit := range hits {
		if hit.TOT > 0 {
			m.Hits.WithLabelValues("tot").Inc()
		} else {
			m.Hits.WithLabelValues("adc").Inc()
		}
		if hit.Saturated {
			m.SaturatedHits.Inc()
		}
	}
}

// WriteMetrics dumps the gathered metrics in the text exposition format.
func WriteMetrics(filename string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(filename, g)
}
