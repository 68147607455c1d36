package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet Registry metrics
	ServersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_servers_total",
			Help: "Total number of registered servers by status",
		},
		[]string{"status"},
	)

	WorkspaceStatusTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workspace_status_total",
			Help: "Total number of workspaces by status",
		},
		[]string{"status"},
	)

	ServerCapacityReserved = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_server_capacity_reserved_ratio",
			Help: "Reserved fraction of capacity per server and resource dimension",
		},
		[]string{"server_id", "dimension"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_raft_is_leader",
			Help: "Whether this replica is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_raft_peers_total",
			Help: "Total number of Raft peers in the control-plane cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Public API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "Total number of public API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_api_request_duration_seconds",
			Help:    "Public API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Placement Engine metrics
	PlacementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "placement_duration_seconds",
			Help:    "Time taken to place a workspace, including reservation retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placement_total",
			Help: "Total number of placement attempts by outcome",
		},
		[]string{"outcome"},
	)

	PlacementRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "placement_reservation_retries_total",
			Help: "Total number of placement reservation races retried",
		},
	)

	// Heartbeat Service metrics
	HeartbeatCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartbeat_cycle_duration_seconds",
			Help:    "Time taken for one heartbeat cycle across the fleet",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_total",
			Help: "Total number of heartbeat probes by outcome",
		},
		[]string{"outcome"},
	)

	// File Sync Engine metrics
	FilesyncBackupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filesync_backup_duration_seconds",
			Help:    "Time taken for a workspace backup sync in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	FilesyncErrorRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filesync_error_rate",
			Help: "Fraction of failed object uploads/downloads in the last sync pass",
		},
		[]string{"workspace_id"},
	)

	// Local-Pod Bridge metrics
	BridgeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_calls_total",
			Help: "Total number of Local-Pod Bridge RPCs by method and status",
		},
		[]string{"method", "status"},
	)

	BridgeConnectedPods = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_connected_pods",
			Help: "Number of currently connected local pods",
		},
	)

	// Reverse Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total number of reverse-proxy requests by workspace and status",
		},
		[]string{"workspace_id", "status"},
	)

	ProxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Reverse-proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workspace_id"},
	)

	// Distributed Coordination metrics
	LeasesHeldTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordination_leases_held_total",
			Help: "Number of currently held distributed leases",
		},
	)
)

func init() {
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(WorkspaceStatusTotal)
	prometheus.MustRegister(ServerCapacityReserved)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(PlacementDuration)
	prometheus.MustRegister(PlacementsTotal)
	prometheus.MustRegister(PlacementRetries)

	prometheus.MustRegister(HeartbeatCycleDuration)
	prometheus.MustRegister(HeartbeatsTotal)

	prometheus.MustRegister(FilesyncBackupDuration)
	prometheus.MustRegister(FilesyncErrorRate)

	prometheus.MustRegister(BridgeCallsTotal)
	prometheus.MustRegister(BridgeConnectedPods)

	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ProxyRequestDuration)

	prometheus.MustRegister(LeasesHeldTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
