package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/syncgraph/internal/comm"
)

const namespace = "syncgraph"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"rank", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rank", "method", "path", "status"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comm",
			Name:      "messages_total",
			Help:      "Point-to-point messages by direction.",
		},
		[]string{"rank", "direction"},
	)
	messageBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comm",
			Name:      "message_bytes_total",
			Help:      "Payload bytes by direction.",
		},
		[]string{"rank", "direction"},
	)
	mutexRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutex",
			Name:      "requests_total",
			Help:      "Mutex requests handled by the owner, by kind and outcome.",
		},
		[]string{"rank", "kind", "outcome"},
	)
	lockWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mutex",
			Name:      "wait_seconds",
			Help:      "Time a requester waited for a grant.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"rank", "kind", "remote"},
	)
	terminationRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "termination",
			Name:      "token_rounds_total",
			Help:      "Token rounds started by rank 0.",
		},
		[]string{"rank"},
	)
	terminationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "termination",
			Name:      "duration_seconds",
			Help:      "Time spent in termination detection per epoch.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rank"},
	)
	ghostSync = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ghost",
			Name:      "sync_duration_seconds",
			Help:      "Ghost data synchronize duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rank"},
	)
	ghostNodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ghost",
			Name:      "nodes_total",
			Help:      "Ghost nodes refreshed or dropped by synchronize.",
		},
		[]string{"rank", "result"},
	)
	migratedNodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "nodes_total",
			Help:      "Nodes exported or imported by migration.",
		},
		[]string{"rank", "direction"},
	)
	migrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "duration_seconds",
			Help:      "Distribute duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rank"},
	)
	simSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "steps_total",
			Help:      "Completed simulation steps.",
		},
		[]string{"rank"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			messages, messageBytes,
			mutexRequests, lockWait,
			terminationRounds, terminationDuration,
			ghostSync, ghostNodes,
			migratedNodes, migrationDuration,
			simSteps,
		)
	})
}

func rankLabel(rank int) string {
	return strconv.Itoa(rank)
}

func RecordHTTPRequest(rank int, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(rankLabel(rank), method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(rankLabel(rank), method, path, statusLabel).Observe(duration.Seconds())
}

// RecordMutexRequest counts one owner-side decision: granted, queued, moved
// or gone.
func RecordMutexRequest(rank int, kind, outcome string) {
	RegisterMetrics()
	mutexRequests.WithLabelValues(rankLabel(rank), kind, outcome).Inc()
}

func RecordLockWait(rank int, kind string, remote bool, wait time.Duration) {
	RegisterMetrics()
	lockWait.WithLabelValues(rankLabel(rank), kind, strconv.FormatBool(remote)).Observe(wait.Seconds())
}

func RecordTermination(rank int, rounds int, duration time.Duration) {
	RegisterMetrics()
	if rounds > 0 {
		terminationRounds.WithLabelValues(rankLabel(rank)).Add(float64(rounds))
	}
	terminationDuration.WithLabelValues(rankLabel(rank)).Observe(duration.Seconds())
}

func RecordGhostSync(rank int, refreshed, dropped int, duration time.Duration) {
	RegisterMetrics()
	ghostSync.WithLabelValues(rankLabel(rank)).Observe(duration.Seconds())
	ghostNodes.WithLabelValues(rankLabel(rank), "refreshed").Add(float64(refreshed))
	ghostNodes.WithLabelValues(rankLabel(rank), "dropped").Add(float64(dropped))
}

func RecordMigration(rank int, exported, imported int, duration time.Duration) {
	RegisterMetrics()
	migratedNodes.WithLabelValues(rankLabel(rank), "out").Add(float64(exported))
	migratedNodes.WithLabelValues(rankLabel(rank), "in").Add(float64(imported))
	migrationDuration.WithLabelValues(rankLabel(rank)).Observe(duration.Seconds())
}

func RecordSimStep(rank int) {
	RegisterMetrics()
	simSteps.WithLabelValues(rankLabel(rank)).Inc()
}

// TrafficObserver feeds communicator traffic into the comm metrics.
type TrafficObserver struct{}

var _ comm.Observer = TrafficObserver{}

func (TrafficObserver) Sent(rank, _ int, _ comm.Tag, bytes int) {
	RegisterMetrics()
	messages.WithLabelValues(rankLabel(rank), "sent").Inc()
	messageBytes.WithLabelValues(rankLabel(rank), "sent").Add(float64(bytes))
}

func (TrafficObserver) Received(rank, _ int, _ comm.Tag, bytes int) {
	RegisterMetrics()
	messages.WithLabelValues(rankLabel(rank), "received").Inc()
	messageBytes.WithLabelValues(rankLabel(rank), "received").Add(float64(bytes))
}
