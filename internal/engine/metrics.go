package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cyclesTotal counts completed engine cycles
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hswatch_cycles_total",
		Help: "Total engine cycles",
	})

	// cycleDuration tracks the wall time of one Tick
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hswatch_cycle_duration_seconds",
		Help:    "Engine cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	})

	// actionsTotal counts corrective actions by kind and result
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hswatch_actions_total",
		Help: "Total corrective actions by kind and result",
	}, []string{"kind", "result"})

	// reportsTotal counts reports by id
	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hswatch_reports_total",
		Help: "Total engine reports by id",
	}, []string{"id"})

	// cpuUtilization exposes utilization in configured units
	cpuUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hswatch_cpu_utilization",
		Help: "CPU utilization by statistic (current, average, peak)",
	}, []string{"stat"})

	// resetsPerformed mirrors the Reset Guard counter
	resetsPerformed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hswatch_resets_performed",
		Help: "Processor resets performed as recorded by the Reset Guard",
	})
)

func recordUtilization(s UtilizationSnapshot) {
	cpuUtilization.WithLabelValues("current").Set(float64(s.Current))
	cpuUtilization.WithLabelValues("average").Set(float64(s.Average))
	cpuUtilization.WithLabelValues("peak").Set(float64(s.Peak))
}
