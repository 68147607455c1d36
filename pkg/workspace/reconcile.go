package workspace

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/types"
)

const (
	discoveryLeaseName = "workspace-discovery"
	meteringLeaseName  = "workspace-metering"
)

// MeteringSink receives a usage tick for a RUNNING workspace; the real
// implementation forwards it to the billing collaborator.
type MeteringSink interface {
	RecordUsage(ctx context.Context, userID, workspaceID, tier string, durationSeconds int64) error
}

// ReconcileConfig tunes the two reconciliation jobs (4.4.6).
type ReconcileConfig struct {
	DiscoveryInterval  time.Duration
	MeteringInterval   time.Duration
	BillingGranularity time.Duration
	StaleRecordTTL     time.Duration // 0 disables GC
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		DiscoveryInterval:  300 * time.Second,
		MeteringInterval:   60 * time.Second,
		BillingGranularity: 600 * time.Second,
	}
}

// Reconciler runs the Discovery and Metering jobs described in 4.4.6, each
// gated by its own Coordination lease so only one control-plane replica
// performs a given job per cycle.
type Reconciler struct {
	mgr    *Manager
	sink   MeteringSink
	cfg    ReconcileConfig
	stopCh chan struct{}
}

func NewReconciler(mgr *Manager, sink MeteringSink, cfg ReconcileConfig) *Reconciler {
	return &Reconciler{mgr: mgr, sink: sink, cfg: cfg, stopCh: make(chan struct{})}
}

func (r *Reconciler) Start() {
	go r.loop(r.cfg.DiscoveryInterval, discoveryLeaseName, r.discoveryTick)
	go r.loop(r.cfg.MeteringInterval, meteringLeaseName, r.meteringTick)
}

func (r *Reconciler) Stop() { close(r.stopCh) }

func (r *Reconciler) loop(interval time.Duration, leaseName string, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, acquired, err := r.mgr.fleet.AcquireLease(leaseName, r.mgr.fleet.NodeID(), interval)
			if err != nil || !acquired {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			tick(ctx)
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// discoveryTick enumerates labelled containers on every registered host,
// synthesizes Workspace Records for orphan containers, marks records whose
// RUNNING state has no backing container as STOPPED with
// metadata.stale_discovery=true, and deletes orphan workspace directories.
func (r *Reconciler) discoveryTick(ctx context.Context) {
	logger := log.WithComponent("workspace-discovery")

	servers, err := r.mgr.fleet.ListServers()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list servers for discovery")
		return
	}

	// One Runtime call per reconciled host would require a per-host runtime
	// client (the host-agent RPC layer, not yet built); until then a single
	// Runtime instance stands in for "the fleet's labelled containers" and
	// servers is only used below to pick a plausible owner for an orphan.
	known := make(map[string]bool)
	ids, err := r.mgr.runtime.ListByLabel(ctx, "workspace", "true")
	if err != nil {
		logger.Debug().Err(err).Msg("failed to list labelled containers for discovery")
		return
	}
	for _, containerID := range ids {
		known[containerID] = true
		if _, err := r.mgr.store.Get(containerID); err == nil {
			continue
		}

		var serverID string
		if len(servers) > 0 {
			serverID = servers[0].ID
		}
		// Orphan container: no Workspace Record. Synthesize one so the
		// fleet's view of reality converges instead of leaking reservation.
		record := &types.WorkspaceRecord{
			ID:        containerID,
			Status:    types.WorkspaceRunning,
			Assigned:  types.WorkspaceAssignment{ServerID: serverID, ContainerID: containerID},
			Metadata:  map[string]string{types.MetaStaleDiscovery: "true"},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := r.mgr.store.Save(record); err != nil {
			logger.Error().Err(err).Str("container_id", containerID).Msg("failed to synthesize discovered workspace record")
		}
	}

	running, err := r.mgr.store.ListRunning()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list running workspaces for discovery")
		return
	}
	for _, record := range running {
		if known[record.Assigned.ContainerID] {
			continue
		}
		record.Status = types.WorkspaceStopped
		record.Metadata[types.MetaStaleDiscovery] = "true"
		record.UpdatedAt = time.Now()
		if err := r.mgr.store.Save(record); err != nil {
			logger.Error().Err(err).Str("workspace_id", record.ID).Msg("failed to mark stale-discovered workspace stopped")
			continue
		}
		r.mgr.fleet.PublishEvent(&events.Event{
			Type:        events.EventWorkspaceStatusChange,
			Timestamp:   time.Now(),
			WorkspaceID: record.ID,
			Message:     "RUNNING -> STOPPED (stale_discovery)",
		})
	}

	r.reapOrphanDirectories(known)
	if r.cfg.StaleRecordTTL > 0 {
		r.reapStaleRecords()
	}
}

func (r *Reconciler) reapOrphanDirectories(known map[string]bool) {
	entries, err := os.ReadDir(r.mgr.cfg.PathBase)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := r.mgr.store.Get(entry.Name()); err == nil {
			continue
		}
		_ = os.RemoveAll(filepath.Join(r.mgr.cfg.PathBase, entry.Name()))
	}
}

// reapStaleRecords deletes STOPPED+stale_discovery records older than
// StaleRecordTTL, an operator opt-in; the default TTL of 0 disables this.
func (r *Reconciler) reapStaleRecords() {
	all, err := r.mgr.store.ListAll()
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-r.cfg.StaleRecordTTL)
	for _, record := range all {
		if record.Status != types.WorkspaceStopped {
			continue
		}
		if record.Metadata[types.MetaStaleDiscovery] != "true" {
			continue
		}
		if record.UpdatedAt.After(cutoff) {
			continue
		}
		_ = r.mgr.store.Delete(record.ID)
	}
}

// meteringTick emits a usage tick for every RUNNING workspace whose last
// tick is at least BillingGranularity old. A failed tick rolls back
// last_metering_ts so it is re-attempted next cycle instead of silently
// losing billed time.
func (r *Reconciler) meteringTick(ctx context.Context) {
	if r.sink == nil {
		return
	}
	logger := log.WithComponent("workspace-metering")

	running, err := r.mgr.store.ListRunning()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list running workspaces for metering")
		return
	}

	now := time.Now()
	for _, record := range running {
		lastTS := record.CreatedAt
		if raw, ok := record.Metadata[types.MetaLastMeteringTS]; ok {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				lastTS = parsed
			}
		}
		elapsed := now.Sub(lastTS)
		if elapsed < r.cfg.BillingGranularity {
			continue
		}

		if err := r.sink.RecordUsage(ctx, record.Owner.UserID, record.ID, record.Tier, int64(elapsed.Seconds())); err != nil {
			logger.Error().Err(err).Str("workspace_id", record.ID).Msg("usage tick failed, leaving last_metering_ts unchanged")
			continue
		}

		record.Metadata[types.MetaLastMeteringTS] = now.Format(time.RFC3339)
		if err := r.mgr.store.Save(record); err != nil {
			logger.Error().Err(err).Str("workspace_id", record.ID).Msg("failed to persist metering timestamp")
		}
	}
}
