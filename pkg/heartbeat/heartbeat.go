// Package heartbeat implements the Heartbeat Service (C2): a single
// cooperative periodic loop, gated by the Distributed Coordination lease so
// only one control-plane replica polls the fleet per cycle, that probes
// every registered server's container runtime, derives 5-state health
// samples, and periodically reconciles Workspace Record status against
// observed container state.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/health"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/store"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// RuntimeProbe pings a server's container-runtime endpoint and, on success,
// scrapes its current resource usage.
type RuntimeProbe interface {
	Ping(ctx context.Context, server *types.ServerRecord) (types.HeartbeatMetrics, error)
}

// ContainerObservation is one workspace container's runtime state, used to
// reconcile Workspace Record status during the workspace-sync sub-cycle.
type ContainerObservation struct {
	WorkspaceID string
	State       string // "running" | "exited" | "stopped" | "dead" | "removing" | "paused" | "created"
}

// ContainerLister enumerates workspace containers on a server by label
// selector so the heartbeat cycle can reconcile Workspace Record status.
type ContainerLister interface {
	ListWorkspaceContainers(ctx context.Context, server *types.ServerRecord) ([]ContainerObservation, error)
}

// Config tunes the heartbeat cycle; zero-value fields fall back to
// DefaultConfig's values where sensible, but callers should generally
// construct this from pkg/config.HeartbeatConfig.
type Config struct {
	Interval                  time.Duration
	PingTimeout               time.Duration
	FailureThreshold          int
	StaleThreshold            time.Duration
	WorkerPoolSize            int
	WorkspaceSyncEveryNCycles int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		Interval:                  30 * time.Second,
		PingTimeout:               10 * time.Second,
		FailureThreshold:          3,
		StaleThreshold:            120 * time.Second,
		WorkerPoolSize:            32,
		WorkspaceSyncEveryNCycles: 2,
	}
}

// StatusChangeFunc is invoked whenever a server's health sample transitions.
type StatusChangeFunc func(serverID string, old, new types.HealthState)

// leaseName is the Distributed Coordination lease that single-threads the
// heartbeat cycle across control-plane replicas.
const leaseName = "heartbeat"

// Service runs the periodic heartbeat cycle.
type Service struct {
	mgr     *manager.Manager
	wsStore store.WorkspaceStore
	probe   RuntimeProbe
	lister  ContainerLister
	cfg     Config
	logger  zerolog.Logger

	mu         sync.Mutex
	trackers   map[string]*health.ServerHealthTracker
	lastStatus map[string]types.HealthState
	cycle      int

	callbacksMu sync.RWMutex
	callbacks   []StatusChangeFunc

	stopCh chan struct{}
}

// NewService creates a heartbeat service. lister may be nil if workspace
// status reconciliation isn't wired (e.g. in tests).
func NewService(mgr *manager.Manager, wsStore store.WorkspaceStore, probe RuntimeProbe, lister ContainerLister, cfg Config) *Service {
	return &Service{
		mgr:        mgr,
		wsStore:    wsStore,
		probe:      probe,
		lister:     lister,
		cfg:        cfg,
		logger:     log.WithComponent("heartbeat"),
		trackers:   make(map[string]*health.ServerHealthTracker),
		lastStatus: make(map[string]types.HealthState),
		stopCh:     make(chan struct{}),
	}
}

// OnStatusChange registers a callback invoked on every server health
// transition, in addition to the event broker publish.
func (s *Service) OnStatusChange(fn StatusChangeFunc) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Start begins the heartbeat loop.
func (s *Service) Start() {
	go s.run()
}

// Stop cancels the loop. No sample is written mid-cycle; Stop only prevents
// the next tick from starting.
func (s *Service) Stop() {
	close(s.stopCh)
}

func (s *Service) run() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("heartbeat service started")

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			s.logger.Info().Msg("heartbeat service stopped")
			return
		}
	}
}

func (s *Service) tick() {
	_, acquired, err := s.mgr.AcquireLease(leaseName, s.mgr.NodeID(), s.cfg.Interval)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to acquire heartbeat lease")
		return
	}
	if !acquired {
		return // another replica owns this cycle
	}

	timer := metrics.NewTimer()
	s.runCycle()
	timer.ObserveDuration(metrics.HeartbeatCycleDuration)
	s.cycle++
}

func (s *Service) runCycle() {
	servers, err := s.mgr.ListServers()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list servers")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()

	poolSize := s.cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	for _, server := range servers {
		server := server
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.probeOne(ctx, server)
		}()
	}
	wg.Wait()

	if s.lister != nil && s.cfg.WorkspaceSyncEveryNCycles > 0 && s.cycle%s.cfg.WorkspaceSyncEveryNCycles == 0 {
		s.syncWorkspaceStatuses(ctx, servers)
	}
}

func (s *Service) probeOne(ctx context.Context, server *types.ServerRecord) {
	tracker := s.trackerFor(server.ID)

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()

	now := time.Now()
	usage, err := s.probe.Ping(pingCtx, server)
	if err != nil {
		tracker.RecordFailure(now, err.Error())
		metrics.HeartbeatsTotal.WithLabelValues("failure").Inc()
	} else {
		tracker.RecordSuccess(now, usage)
		metrics.HeartbeatsTotal.WithLabelValues("success").Inc()

		server.LastHeartbeatTS = now
		server.ConsecutiveHeartbeatFailures = 0
		server.ActiveWorkspaces = usage.ActiveWorkspaces
		if err := s.mgr.UpdateServerRecord(server); err != nil {
			s.logger.Error().Err(err).Str("server_id", server.ID).Msg("failed to persist heartbeat sample")
		}
	}

	sample := tracker.Sample(s.cfg.FailureThreshold, s.cfg.StaleThreshold, time.Now())
	s.publishIfChanged(server.ID, sample.Status)
}

func (s *Service) trackerFor(serverID string) *health.ServerHealthTracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracker, ok := s.trackers[serverID]
	if !ok {
		tracker = health.NewServerHealthTracker(serverID)
		s.trackers[serverID] = tracker
	}
	return tracker
}

func (s *Service) publishIfChanged(serverID string, status types.HealthState) {
	s.mu.Lock()
	prev, seen := s.lastStatus[serverID]
	s.lastStatus[serverID] = status
	s.mu.Unlock()

	if seen && prev == status {
		return
	}

	s.logger.Info().
		Str("server_id", serverID).
		Str("from", string(prev)).
		Str("to", string(status)).
		Msg("server health changed")

	s.mgr.PublishEvent(&events.Event{
		Type:      events.EventServerHealthChanged,
		Timestamp: time.Now(),
		ServerID:  serverID,
		Message:   string(status),
	})

	s.callbacksMu.RLock()
	defer s.callbacksMu.RUnlock()
	for _, cb := range s.callbacks {
		cb(serverID, prev, status)
	}
}

// containerStateToWorkspaceStatus maps observed runtime container state to
// the Workspace Record status it implies.
func containerStateToWorkspaceStatus(state string) (types.WorkspaceStatus, bool) {
	switch state {
	case "running":
		return types.WorkspaceRunning, true
	case "exited", "stopped":
		return types.WorkspaceStopped, true
	case "dead", "removing", "paused":
		return types.WorkspaceError, true
	case "created":
		return types.WorkspaceCreating, true
	default:
		return "", false
	}
}

func (s *Service) syncWorkspaceStatuses(ctx context.Context, servers []*types.ServerRecord) {
	for _, server := range servers {
		observations, err := s.lister.ListWorkspaceContainers(ctx, server)
		if err != nil {
			s.logger.Debug().Err(err).Str("server_id", server.ID).Msg("failed to list workspace containers")
			continue
		}

		for _, obs := range observations {
			newStatus, ok := containerStateToWorkspaceStatus(obs.State)
			if !ok {
				continue
			}

			ws, err := s.wsStore.Get(obs.WorkspaceID)
			if err != nil {
				continue
			}
			if ws.Status == newStatus {
				continue
			}

			oldStatus := ws.Status
			ws.Status = newStatus
			ws.UpdatedAt = time.Now()
			if err := s.wsStore.Save(ws); err != nil {
				s.logger.Error().Err(err).Str("workspace_id", ws.ID).Msg("failed to sync workspace status")
				continue
			}

			s.mgr.PublishEvent(&events.Event{
				Type:        events.EventWorkspaceStatusChange,
				Timestamp:   time.Now(),
				ServerID:    server.ID,
				WorkspaceID: ws.ID,
				Message:     string(oldStatus) + " -> " + string(newStatus),
			})
		}
	}
}
