package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wanprompt",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Backend loads by preset kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wanprompt",
			Subsystem: "manager",
			Name:      "load_duration_seconds",
			Help:      "Time from select to a ready backend.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wanprompt",
			Subsystem: "manager",
			Name:      "generations_total",
			Help:      "Generations by mode and terminal status.",
		},
		[]string{"mode", "status"},
	)
	fragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wanprompt",
			Subsystem: "manager",
			Name:      "fragments_total",
			Help:      "Text fragments delivered to streams.",
		},
	)
	queueRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wanprompt",
			Subsystem: "manager",
			Name:      "busy_rejections_total",
			Help:      "Submits rejected because the slot was busy.",
		},
	)
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wanprompt",
			Subsystem: "manager",
			Name:      "downloads_total",
			Help:      "Artifact downloads by outcome.",
		},
		[]string{"outcome"},
	)
	downloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wanprompt",
			Subsystem: "manager",
			Name:      "download_bytes_total",
			Help:      "Bytes of artifacts published to the store.",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, generationsTotal, fragmentsTotal, queueRejections, downloadsTotal, downloadBytes)
}

// outcomeOf labels an error by kind.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if k := kindOf(err); k != "" {
		return k
	}
	return "error"
}
