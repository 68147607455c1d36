// Package workspace implements the Workspace Lifecycle Manager (C4): the
// central state machine that takes a workspace from CREATING through
// RUNNING, STOPPED, and DELETING, serialising every operation on a given
// workspace_id and keeping the Fleet Registry's capacity reservation in
// lockstep with the Workspace Record's status.
package workspace

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/placement"
	"github.com/cuemby/fleetd/pkg/store"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// CreateRequest is the contract for workspace creation (SPEC_FULL.md 4.4.2).
type CreateRequest struct {
	UserID         string
	SessionID      string
	WorkspaceID    string // optional, generated if empty
	Tier           string
	RequiredRegion string
}

// Config tunes the lifecycle manager.
type Config struct {
	PathBase              string
	DefaultImageByVariant map[string]string
	ContainerStopTimeout  time.Duration
	HealthExecTimeout     time.Duration
}

// DefaultConfig mirrors pkg/config's defaults for this component.
func DefaultConfig() Config {
	return Config{
		PathBase:             "/var/lib/fleetd/workspaces",
		ContainerStopTimeout: 10 * time.Second,
		HealthExecTimeout:    5 * time.Second,
	}
}

// Placer is the subset of placement.Engine the lifecycle manager needs; an
// interface so tests can drive the state machine without a live Raft
// cluster backing a real placement.Engine.
type Placer interface {
	Place(req placement.Request) (string, error)
	PlaceSameServer(currentServerID string, current, newReqs types.WorkspaceRequirements) error
	Release(serverID string, amounts types.ResourceAmounts) error
}

// Fleet is the subset of manager.Manager the lifecycle manager needs: Fleet
// Registry lookups, event publication, and the lease primitive Reconciler
// uses to single-thread discovery/metering across replicas.
type Fleet interface {
	GetServer(id string) (*types.ServerRecord, error)
	ListServers() ([]*types.ServerRecord, error)
	PublishEvent(event *events.Event)
	AcquireLease(name, holder string, ttl time.Duration) (*types.LeaseRecord, bool, error)
	NodeID() string
}

// Manager drives the workspace state machine.
type Manager struct {
	fleet     Fleet
	store     store.WorkspaceStore
	placer    Placer
	runtime   Runtime
	catalogue HardwareCatalogue
	filesync  FileSync
	cfg       Config
	logger    zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager builds a Workspace Lifecycle Manager. filesync may be nil, in
// which case file sync becomes a no-op (useful for tests of the state
// machine alone).
func NewManager(fleet Fleet, ws store.WorkspaceStore, placer Placer, runtime Runtime, catalogue HardwareCatalogue, filesync FileSync, cfg Config) *Manager {
	if filesync == nil {
		filesync = noopFileSync{}
	}
	if catalogue == nil {
		catalogue = DefaultCatalogue()
	}
	return &Manager{
		fleet:     fleet,
		store:     ws,
		placer:    placer,
		runtime:   runtime,
		catalogue: catalogue,
		filesync:  filesync,
		cfg:       cfg,
		logger:    log.WithComponent("workspace"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor serialises every operation on one workspace_id, mirroring
// pkg/manager's per-server_id lock.
func (m *Manager) lockFor(workspaceID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[workspaceID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[workspaceID] = l
	}
	return l
}

func (m *Manager) hostPath(workspaceID string) string {
	return filepath.Join(m.cfg.PathBase, workspaceID)
}

func containerTarget() string { return "/home/dev/workspace" }

// Create implements 4.4.2: reserve capacity, allocate a host directory,
// launch the container, restore files, and transition to RUNNING. Any
// failure after the reservation is taken rolls the reservation back and
// leaves the record in ERROR.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*types.WorkspaceRecord, error) {
	workspaceID := req.WorkspaceID
	if workspaceID == "" {
		workspaceID = uuid.New().String()
	}

	spec, err := m.catalogue.Resolve(req.Tier)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidState, "unknown hardware tier", err)
	}
	requirements := requirementsFromSpec(spec)

	record := &types.WorkspaceRecord{
		ID:               workspaceID,
		Owner:            types.WorkspaceOwner{UserID: req.UserID, SessionID: req.SessionID},
		Tier:             req.Tier,
		Requirements:     requirements,
		Status:           types.WorkspaceCreating,
		RegionPreference: req.RequiredRegion,
		Metadata:         map[string]string{},
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if err := m.store.Save(record); err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to persist workspace record", err)
	}

	serverID, err := m.placer.Place(placement.Request{
		Requirements:     requirements,
		RegionPreference: req.RequiredRegion,
	})
	if err != nil {
		m.failCreate(record, err)
		return record, err
	}
	record.Assigned.ServerID = serverID

	hostPath := m.hostPath(workspaceID)
	quota := m.quotaApplier()
	if err := quota.Apply(hostPath, requirements.DiskGB); err != nil {
		m.releaseAndFail(record, requirements, err)
		return record, errs.Wrap(errs.Internal, "failed to apply disk quota", err)
	}

	server, err := m.fleet.GetServer(serverID)
	if err != nil {
		m.releaseAndFail(record, requirements, err)
		return record, errs.Wrap(errs.Internal, "placed server vanished", err)
	}
	image := imageForVariant(server, m.cfg.DefaultImageByVariant, requirements)

	containerSpec := ContainerSpec{
		ID:       workspaceID,
		Image:    image,
		Mounts:   []Mount{{Source: hostPath, Target: containerTarget(), ReadOnly: false}},
		CPUCores: requirements.CPUCores,
		MemoryMB: requirements.MemoryMB,
		Labels:   map[string]string{"workspace": "true", "workspace_id": workspaceID},
	}

	if err := m.runtime.PullImage(ctx, image); err != nil {
		m.releaseAndFail(record, requirements, err)
		return record, errs.Wrap(errs.Internal, "failed to pull workspace image", err)
	}
	containerID, err := m.runtime.CreateContainer(ctx, containerSpec)
	if err != nil {
		m.releaseAndFail(record, requirements, err)
		return record, errs.Wrap(errs.Internal, "failed to create workspace container", err)
	}
	record.Assigned.ContainerID = containerID
	if err := m.runtime.StartContainer(ctx, containerID); err != nil {
		m.releaseAndFail(record, requirements, err)
		return record, errs.Wrap(errs.Internal, "failed to start workspace container", err)
	}

	if err := m.filesync.Restore(ctx, workspaceID, hostPath); err != nil {
		record.Metadata[types.MetaRestorePartial] = "true"
		m.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("file sync restore degraded")
	}
	m.filesync.StartBackground(workspaceID, hostPath, 300)

	record.Status = types.WorkspaceRunning
	record.UpdatedAt = time.Now()
	if err := m.store.Save(record); err != nil {
		m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("failed to persist running workspace")
	}

	metrics.WorkspaceStatusTotal.WithLabelValues(string(types.WorkspaceRunning)).Inc()
	m.fleet.PublishEvent(&events.Event{
		Type:        events.EventWorkspaceCreated,
		Timestamp:   time.Now(),
		ServerID:    serverID,
		WorkspaceID: workspaceID,
	})

	return record, nil
}

func (m *Manager) quotaApplier() QuotaApplier { return logOnlyQuota{} }

func imageForVariant(server *types.ServerRecord, defaults map[string]string, req types.WorkspaceRequirements) string {
	variant := server.Topology.Architecture
	if req.RequiresGPU {
		variant = "gpu"
	}
	if server.ImageByVariant != nil {
		if img, ok := server.ImageByVariant[variant]; ok {
			return img
		}
	}
	if defaults != nil {
		if img, ok := defaults[variant]; ok {
			return img
		}
	}
	return "fleetd/workspace:" + variant
}

func (m *Manager) failCreate(record *types.WorkspaceRecord, cause error) {
	record.Status = types.WorkspaceError
	record.Metadata["error"] = cause.Error()
	record.UpdatedAt = time.Now()
	_ = m.store.Save(record)
	metrics.WorkspaceStatusTotal.WithLabelValues(string(types.WorkspaceError)).Inc()
}

func (m *Manager) releaseAndFail(record *types.WorkspaceRecord, amounts types.WorkspaceRequirements, cause error) {
	if record.Assigned.ServerID != "" {
		if err := m.placer.Release(record.Assigned.ServerID, amounts.Amounts()); err != nil {
			m.logger.Error().Err(err).Str("workspace_id", record.ID).Msg("failed to release reservation after create failure")
		}
	}
	m.failCreate(record, cause)
}

// Stop flushes a final backup, stops the container, releases the
// reservation, and transitions to STOPPED. Idempotent.
func (m *Manager) Stop(ctx context.Context, workspaceID string) error {
	lock := m.lockFor(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(workspaceID)
	if err != nil {
		return errs.Wrap(errs.NotFound, "workspace not found", err)
	}
	if record.Status == types.WorkspaceStopped {
		return nil
	}
	if record.Status != types.WorkspaceRunning && record.Status != types.WorkspaceError {
		return errs.New(errs.InvalidState, "workspace is not running")
	}

	m.filesync.StopBackground(workspaceID)
	hostPath := m.hostPath(workspaceID)
	if err := m.filesync.Backup(ctx, workspaceID, hostPath, false); err != nil {
		m.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("final backup before stop failed")
	}

	if record.Assigned.ContainerID != "" {
		if err := m.runtime.StopContainer(ctx, record.Assigned.ContainerID, m.cfg.ContainerStopTimeout); err != nil {
			return errs.Wrap(errs.Internal, "failed to stop workspace container", err)
		}
	}

	if record.Assigned.ServerID != "" {
		if err := m.placer.Release(record.Assigned.ServerID, record.Requirements.Amounts()); err != nil {
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("failed to release reservation on stop")
		}
	}

	oldStatus := record.Status
	record.Status = types.WorkspaceStopped
	record.UpdatedAt = time.Now()
	if err := m.store.Save(record); err != nil {
		return errs.Wrap(errs.Internal, "failed to persist stopped workspace", err)
	}

	metrics.WorkspaceStatusTotal.WithLabelValues(string(oldStatus)).Dec()
	metrics.WorkspaceStatusTotal.WithLabelValues(string(types.WorkspaceStopped)).Inc()
	return nil
}

// Restart re-places a STOPPED workspace (the host may differ) and re-launches
// its container against the same workspace directory if it survived on the
// newly chosen host, else restores from the object store first.
func (m *Manager) Restart(ctx context.Context, workspaceID string) error {
	lock := m.lockFor(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(workspaceID)
	if err != nil {
		return errs.Wrap(errs.NotFound, "workspace not found", err)
	}
	if record.Status != types.WorkspaceStopped && record.Status != types.WorkspaceError {
		return errs.New(errs.InvalidState, "workspace is not stopped")
	}

	serverID, err := m.placer.Place(placement.Request{
		Requirements:     record.Requirements,
		RegionPreference: record.RegionPreference,
	})
	if err != nil {
		return err
	}
	sameHost := serverID == record.Assigned.ServerID
	record.Assigned.ServerID = serverID

	server, err := m.fleet.GetServer(serverID)
	if err != nil {
		_ = m.placer.Release(serverID, record.Requirements.Amounts())
		return errs.Wrap(errs.Internal, "placed server vanished", err)
	}
	image := imageForVariant(server, m.cfg.DefaultImageByVariant, record.Requirements)
	hostPath := m.hostPath(workspaceID)

	if !sameHost {
		if err := m.filesync.Restore(ctx, workspaceID, hostPath); err != nil {
			m.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("restore on restart degraded")
			record.Metadata[types.MetaRestorePartial] = "true"
		}
	}

	containerSpec := ContainerSpec{
		ID:       workspaceID,
		Image:    image,
		Mounts:   []Mount{{Source: hostPath, Target: containerTarget()}},
		CPUCores: record.Requirements.CPUCores,
		MemoryMB: record.Requirements.MemoryMB,
		Labels:   map[string]string{"workspace": "true", "workspace_id": workspaceID},
	}
	if err := m.runtime.PullImage(ctx, image); err != nil {
		_ = m.placer.Release(serverID, record.Requirements.Amounts())
		return errs.Wrap(errs.Internal, "failed to pull workspace image", err)
	}
	containerID, err := m.runtime.CreateContainer(ctx, containerSpec)
	if err != nil {
		_ = m.placer.Release(serverID, record.Requirements.Amounts())
		return errs.Wrap(errs.Internal, "failed to create workspace container", err)
	}
	if err := m.runtime.StartContainer(ctx, containerID); err != nil {
		_ = m.placer.Release(serverID, record.Requirements.Amounts())
		return errs.Wrap(errs.Internal, "failed to start workspace container", err)
	}
	record.Assigned.ContainerID = containerID

	m.filesync.StartBackground(workspaceID, hostPath, 300)

	record.Status = types.WorkspaceRunning
	record.UpdatedAt = time.Now()
	if err := m.store.Save(record); err != nil {
		return errs.Wrap(errs.Internal, "failed to persist restarted workspace", err)
	}
	metrics.WorkspaceStatusTotal.WithLabelValues(string(types.WorkspaceStopped)).Dec()
	metrics.WorkspaceStatusTotal.WithLabelValues(string(types.WorkspaceRunning)).Inc()
	return nil
}

// Delete implements 4.4.4. The background sync loop is stopped before the
// object-store subtree is removed, so a last periodic backup can't
// resurrect files after deletion.
func (m *Manager) Delete(ctx context.Context, workspaceID string, preserveFiles bool) error {
	lock := m.lockFor(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(workspaceID)
	if err != nil {
		return errs.Wrap(errs.NotFound, "workspace not found", err)
	}

	record.Status = types.WorkspaceDeleting
	record.UpdatedAt = time.Now()
	_ = m.store.Save(record)

	m.filesync.StopBackground(workspaceID)

	hostPath := m.hostPath(workspaceID)
	if preserveFiles {
		if err := m.filesync.Backup(ctx, workspaceID, hostPath, false); err != nil {
			m.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("final backup before delete failed")
		}
	} else {
		if err := m.filesync.DeleteWorkspaceFiles(ctx, workspaceID); err != nil {
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("failed to delete workspace object-store files")
		}
	}

	if record.Assigned.ContainerID != "" {
		if err := m.runtime.DeleteContainer(ctx, record.Assigned.ContainerID); err != nil {
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("failed to delete workspace container")
		}
	}

	if record.Assigned.ServerID != "" {
		if err := m.placer.Release(record.Assigned.ServerID, record.Requirements.Amounts()); err != nil {
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("failed to release reservation on delete")
		}
	}

	if err := m.store.Delete(workspaceID); err != nil {
		return errs.Wrap(errs.Internal, "failed to remove workspace record", err)
	}

	metrics.WorkspaceStatusTotal.WithLabelValues(string(record.Status)).Dec()
	m.fleet.PublishEvent(&events.Event{
		Type:        events.EventWorkspaceDeleted,
		Timestamp:   time.Now(),
		ServerID:    record.Assigned.ServerID,
		WorkspaceID: workspaceID,
	})
	return nil
}

// Scale implements 4.4.5: same-server-only live scaling with no restart.
func (m *Manager) Scale(ctx context.Context, workspaceID, newTier string) error {
	lock := m.lockFor(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(workspaceID)
	if err != nil {
		return errs.Wrap(errs.NotFound, "workspace not found", err)
	}
	if record.Status != types.WorkspaceRunning {
		return errs.New(errs.InvalidState, "workspace must be running to scale")
	}

	spec, err := m.catalogue.Resolve(newTier)
	if err != nil {
		return errs.Wrap(errs.InvalidState, "unknown hardware tier", err)
	}
	newReqs := requirementsFromSpec(spec)
	if newReqs == record.Requirements {
		return nil
	}

	if err := m.placer.PlaceSameServer(record.Assigned.ServerID, record.Requirements, newReqs); err != nil {
		return err
	}

	if record.Assigned.ContainerID != "" {
		if err := m.runtime.UpdateResources(ctx, record.Assigned.ContainerID, newReqs.CPUCores, newReqs.MemoryMB); err != nil {
			// reverse the reservation delta we just applied
			_ = m.placer.PlaceSameServer(record.Assigned.ServerID, newReqs, record.Requirements)
			return errs.Wrap(errs.Internal, "failed to apply live resource update", err)
		}
	}

	if err := m.quotaApplier().Apply(m.hostPath(workspaceID), newReqs.DiskGB); err != nil {
		m.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("failed to reapply disk quota after scale")
	}

	record.Tier = newTier
	record.Requirements = newReqs
	record.UpdatedAt = time.Now()
	return m.store.Save(record)
}

// CheckHealth implements 4.4.7: the container must be running and a trivial
// exec must succeed within HealthExecTimeout.
func (m *Manager) CheckHealth(ctx context.Context, workspaceID string) (bool, error) {
	record, err := m.store.Get(workspaceID)
	if err != nil {
		return false, errs.Wrap(errs.NotFound, "workspace not found", err)
	}
	if record.Assigned.ContainerID == "" {
		return false, nil
	}

	state, err := m.runtime.GetState(ctx, record.Assigned.ContainerID)
	if err != nil || state != "running" {
		return false, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthExecTimeout)
	defer cancel()
	exitCode, err := m.runtime.Exec(execCtx, record.Assigned.ContainerID, []string{"true"})
	if err != nil {
		return false, nil
	}
	return exitCode == 0, nil
}
