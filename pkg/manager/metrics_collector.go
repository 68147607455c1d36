package manager

import (
	"time"

	"github.com/cuemby/fleetd/pkg/metrics"
)

// MetricsCollector periodically samples control-plane state into the
// Prometheus series in pkg/metrics.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectServerMetrics()
	c.collectLeaseMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectServerMetrics() {
	servers, err := c.manager.ListServers()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, server := range servers {
		counts[string(server.Status)]++
	}

	for status, count := range counts {
		metrics.ServersTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *MetricsCollector) collectLeaseMetrics() {
	leases, err := c.manager.store.ListLeases()
	if err != nil {
		return
	}

	now := time.Now()
	held := 0
	for _, lease := range leases {
		if lease.Holder != "" && now.Before(lease.ExpiresAt) {
			held++
		}
	}
	metrics.LeasesHeldTotal.Set(float64(held))
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
