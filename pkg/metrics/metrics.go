package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	ActiveMinions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlord_active_minions",
			Help: "Number of currently active minions",
		},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlord_dispatches_total",
			Help: "Total dispatch attempts by result",
		},
		[]string{"result"},
	)

	// Reporter metrics
	ReportEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlord_report_events_total",
			Help: "Total minion report events by kind",
		},
		[]string{"event"},
	)

	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlord_completions_total",
			Help: "Total archived workers by terminal status",
		},
		[]string{"status"},
	)

	// Watchdog metrics
	WatchdogKillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "overlord_watchdog_kills_total",
			Help: "Total containers killed by the watchdog",
		},
	)

	ContainersCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "overlord_containers_cleaned_total",
			Help: "Total dead containers removed by the cleanup loop",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlord_queue_depth",
			Help: "Ready items in the last queue scan",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "overlord_sweep_duration_seconds",
			Help:    "Cron sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Chat metrics
	ChatCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlord_chat_commands_total",
			Help: "Total chat commands by kind",
		},
		[]string{"kind"},
	)

	QuestionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlord_questions_open",
			Help: "Pending minion questions awaiting an answer",
		},
	)
)

func init() {
	prometheus.MustRegister(ActiveMinions)
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(ReportEventsTotal)
	prometheus.MustRegister(CompletionsTotal)
	prometheus.MustRegister(WatchdogKillsTotal)
	prometheus.MustRegister(ContainersCleaned)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(ChatCommandsTotal)
	prometheus.MustRegister(QuestionsOpen)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
