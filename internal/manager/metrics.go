package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imgcap",
		Subsystem: "manager",
		Name:      "loads_total",
		Help:      "Successful caption model loads",
	})

	loadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imgcap",
		Subsystem: "manager",
		Name:      "load_failures_total",
		Help:      "Failed caption model loads",
	})

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgcap",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Caption model evictions by reason",
		},
		[]string{"reason"},
	)

	loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imgcap",
		Subsystem: "manager",
		Name:      "load_duration_seconds",
		Help:      "Time to load the caption model",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	generateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imgcap",
		Subsystem: "manager",
		Name:      "generate_duration_seconds",
		Help:      "Time to caption a single image",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	generationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imgcap",
		Subsystem: "manager",
		Name:      "generation_failures_total",
		Help:      "Failed caption generations",
	})

	resourceLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imgcap",
		Subsystem: "manager",
		Name:      "resource_loaded",
		Help:      "1 while the caption model is resident, else 0",
	})
)

func init() {
	prometheus.MustRegister(loadsTotal, loadFailuresTotal, evictionsTotal, loadDuration,
		generateDuration, generationFailuresTotal, resourceLoaded)
}
