package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthapp/healthapp/internal/alerter"
)

const (
	metricPrefix = "healthapp_"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the alert processor collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	alertsNew     prometheus.Counter
	alertsOngoing prometheus.Counter
	alertsClosed  prometheus.Counter
	alertsFiring  prometheus.Gauge

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram

	notifications *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alertsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "alerts_new_total",
			Help: "Total alerts opened",
		}),
		alertsOngoing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "alerts_ongoing_total",
			Help: "Total still-firing alert observations across cycles",
		}),
		alertsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "alerts_closed_total",
			Help: "Total alerts closed",
		}),
		alertsFiring: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "alerts_firing",
			Help: "Alerts firing after the last successful cycle",
		}),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_cycles_total",
				Help: "Total reconciliation cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "reconcile_duration_seconds",
			Help:    "Reconciliation cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification deliveries by event, channel and result",
			},
			[]string{"event", "channel", "result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.alertsNew,
		m.alertsOngoing,
		m.alertsClosed,
		m.alertsFiring,
		m.cycles,
		m.cycleDuration,
		m.notifications,
	)
	return m
}

// ObserveCycle implements alerter.Recorder.
func (m *Metrics) ObserveCycle(res alerter.Result, err error) {
	m.cycleDuration.Observe(res.Duration.Seconds())
	m.alertsNew.Add(float64(res.New))
	m.alertsOngoing.Add(float64(res.Ongoing))
	m.alertsClosed.Add(float64(res.Closed))

	if err != nil {
		m.cycles.WithLabelValues(resultError).Inc()
		return
	}
	m.cycles.WithLabelValues(resultSuccess).Inc()
	m.alertsFiring.Set(float64(res.Firing()))
}

// ObserveNotification counts one delivery attempt on a channel.
func (m *Metrics) ObserveNotification(event, channel string, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	m.notifications.WithLabelValues(event, channel, result).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
