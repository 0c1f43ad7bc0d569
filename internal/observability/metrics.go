package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/pkg/location"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors. Recording methods are
// no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	Acquisitions       *prometheus.CounterVec
	AcquisitionLatency *prometheus.HistogramVec
	FixAccuracy        *prometheus.HistogramVec
	KnocksLogged       *prometheus.CounterVec
	Confirmations      prometheus.Counter
	GeocodeFailures    prometheus.Counter
	FeedPublishErrors  prometheus.Counter
	LivePublished      prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Acquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knock_agent_acquisitions_total",
			Help: "Position acquisitions by mode and result",
		}, []string{"mode", "result"}),
		AcquisitionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "knock_agent_acquisition_seconds",
			Help:    "Time from request to settled acquisition",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"mode"}),
		FixAccuracy: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "knock_agent_fix_accuracy_meters",
			Help:    "Horizontal accuracy of returned fixes",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
		}, []string{"mode"}),
		KnocksLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knock_agent_knocks_logged_total",
			Help: "Knocks persisted by outcome",
		}, []string{"outcome"}),
		Confirmations: factory.NewCounter(prometheus.CounterOpts{
			Name: "knock_agent_low_accuracy_confirmations_total",
			Help: "Knocks held back pending low-accuracy confirmation",
		}),
		GeocodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "knock_agent_geocode_failures_total",
			Help: "Reverse geocoding lookups that returned no address",
		}),
		FeedPublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "knock_agent_feed_publish_errors_total",
			Help: "Knock events that failed to publish",
		}),
		LivePublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "knock_agent_live_locations_published_total",
			Help: "Live location messages published",
		}),
	}
}

// ObserveAcquisition implements location.Observer.
func (m *Metrics) ObserveAcquisition(mode string, pos location.Position, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(mode, acquisitionResult(err)).Inc()
	m.AcquisitionLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
	if err == nil {
		m.FixAccuracy.WithLabelValues(mode).Observe(pos.Accuracy)
	}
}

// KnockLogged counts a persisted knock.
func (m *Metrics) KnockLogged(outcome models.Outcome) {
	if m == nil {
		return
	}
	m.KnocksLogged.WithLabelValues(string(outcome)).Inc()
}

// ConfirmationRequested counts a knock held back for low accuracy.
func (m *Metrics) ConfirmationRequested() {
	if m == nil {
		return
	}
	m.Confirmations.Inc()
}

// GeocodeFailed counts a lookup that produced no address.
func (m *Metrics) GeocodeFailed() {
	if m == nil {
		return
	}
	m.GeocodeFailures.Inc()
}

// FeedPublishFailed counts a knock event that never reached the broker.
func (m *Metrics) FeedPublishFailed() {
	if m == nil {
		return
	}
	m.FeedPublishErrors.Inc()
}

// LiveLocationPublished counts one live location message.
func (m *Metrics) LiveLocationPublished() {
	if m == nil {
		return
	}
	m.LivePublished.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func acquisitionResult(err error) string {
	if err == nil {
		return "ok"
	}
	var locErr *location.LocationError
	if errors.As(err, &locErr) {
		switch locErr.Code {
		case location.CodeTimeout:
			return "timeout"
		case location.CodePermissionDenied:
			return "permission_denied"
		case location.CodeNotSupported:
			return "not_supported"
		}
	}
	return "unavailable"
}
