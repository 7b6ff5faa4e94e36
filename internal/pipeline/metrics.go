package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgcap",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Batch items by outcome",
		},
		[]string{"status", "kind"},
	)

	itemDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imgcap",
		Subsystem: "pipeline",
		Name:      "item_duration_seconds",
		Help:      "Time spent on one batch item",
		Buckets:   prometheus.DefBuckets,
	})

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgcap",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Batch runs by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(itemsTotal, itemDuration, runsTotal)
}
