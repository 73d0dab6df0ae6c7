package api

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronLay10/SmokersTable/internal/events"
	"github.com/AaronLay10/SmokersTable/internal/simulation"
	"github.com/AaronLay10/SmokersTable/internal/version"
)

// Metrics holds the Prometheus collectors for one simulation. It is also a
// simulation.CycleObserver.
type Metrics struct {
	registry *prometheus.Registry

	cyclesStarted     *prometheus.CounterVec
	cyclesFinished    *prometheus.CounterVec
	cyclesInterrupted *prometheus.CounterVec
	smokeDuration     prometheus.Histogram
}

// NewMetrics registers the smokers collectors on a fresh registry and
// starts observing sim.
func NewMetrics(sim *simulation.Simulation) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	constLabels := prometheus.Labels{
		"simulation": sim.ID(),
		"instance":   host,
		"version":    version.Version,
	}

	m := &Metrics{
		registry: reg,
		cyclesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "smokers_cycles_started_total",
			Help:        "Smoking cycles started, by smoker",
			ConstLabels: constLabels,
		}, []string{"smoker"}),
		cyclesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "smokers_cycles_finished_total",
			Help:        "Smoking cycles completed, by smoker",
			ConstLabels: constLabels,
		}, []string{"smoker"}),
		cyclesInterrupted: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "smokers_cycles_interrupted_total",
			Help:        "Smoking cycles cut short by shutdown, by smoker",
			ConstLabels: constLabels,
		}, []string{"smoker"}),
		smokeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "smokers_smoke_duration_seconds",
			Help:        "Planned length of completed cigarettes",
			ConstLabels: constLabels,
			Buckets:     []float64{0.5, 1, 2, 3, 4, 5, 6, 7, 8, 10},
		}),
	}

	start := time.Now()
	table := sim.Table()
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "smokers_uptime_seconds",
		Help:        "Seconds since the simulation started",
		ConstLabels: constLabels,
	}, func() float64 { return time.Since(start).Seconds() })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "smokers_table_ingredients",
		Help:        "Ingredients currently on the table",
		ConstLabels: constLabels,
	}, func() float64 { return float64(len(table.Ingredients())) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "smokers_table_busy",
		Help:        "Whether a smoker holds the table (1) or not (0)",
		ConstLabels: constLabels,
	}, func() float64 { return boolFloat(table.IsBusy()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "smokers_ws_clients",
		Help:        "Number of active WebSocket client connections",
		ConstLabels: constLabels,
	}, func() float64 { return float64(events.SubscriberCount()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name:        "smokers_events_total",
		Help:        "Total number of events emitted since startup",
		ConstLabels: constLabels,
	}, func() float64 { return float64(events.TotalCount()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name:        "smokers_events_dropped_total",
		Help:        "Event deliveries skipped because a stream client fell behind",
		ConstLabels: constLabels,
	}, func() float64 { return float64(events.DroppedCount()) })

	sim.AddObserver(m)
	return m
}

// SmokingStarted implements simulation.CycleObserver.
func (m *Metrics) SmokingStarted(st simulation.Status) {
	m.cyclesStarted.WithLabelValues(st.ID).Inc()
}

// SmokingFinished implements simulation.CycleObserver.
func (m *Metrics) SmokingFinished(st simulation.Status, err error) {
	if err != nil {
		m.cyclesInterrupted.WithLabelValues(st.ID).Inc()
		return
	}
	m.cyclesFinished.WithLabelValues(st.ID).Inc()
	m.smokeDuration.Observe(time.Duration(st.DurationMs * int64(time.Millisecond)).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
