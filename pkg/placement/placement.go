// Package placement implements the Placement Engine (C3): a pure
// filter+tie-break function over a Fleet Registry snapshot, wrapped by a
// bounded-retry reservation loop that resolves races against concurrent
// placements for the same server.
package placement

import (
	"sort"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/types"
)

// Request is what the Workspace Lifecycle Manager asks the engine to place.
type Request struct {
	Requirements     types.WorkspaceRequirements
	RegionPreference string
	LabelsRequired   map[string]string
}

// Config tunes the reservation retry loop.
type Config struct {
	MaxRetries int
}

// DefaultConfig returns the spec's stated default.
func DefaultConfig() Config {
	return Config{MaxRetries: 3}
}

// Engine places workspaces onto servers.
type Engine struct {
	mgr *manager.Manager
	cfg Config
}

// NewEngine creates a placement engine backed by the given Manager (the
// Fleet Registry's authority).
func NewEngine(mgr *manager.Manager, cfg Config) *Engine {
	return &Engine{mgr: mgr, cfg: cfg}
}

// Place selects a server for req and atomically reserves its capacity,
// retrying on a lost reservation race up to cfg.MaxRetries times.
func (e *Engine) Place(req Request) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementDuration)

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		servers, err := e.mgr.ListServers()
		if err != nil {
			metrics.PlacementsTotal.WithLabelValues("error").Inc()
			return "", errs.Wrap(errs.Internal, "failed to list servers", err)
		}

		serverID, kind, filterErr := filterAndChoose(servers, req)
		if filterErr != nil {
			metrics.PlacementsTotal.WithLabelValues(string(kind)).Inc()
			return "", filterErr
		}

		reserved, raceErr := e.tryReserve(serverID, req.Requirements)
		if raceErr != nil {
			metrics.PlacementsTotal.WithLabelValues("error").Inc()
			return "", raceErr
		}
		if reserved {
			metrics.PlacementsTotal.WithLabelValues("placed").Inc()
			return serverID, nil
		}

		metrics.PlacementRetries.Inc()
		log.WithComponent("placement").Warn().
			Str("server_id", serverID).
			Int("attempt", attempt).
			Msg("reservation race lost, retrying placement")
	}

	metrics.PlacementsTotal.WithLabelValues(string(errs.CapacityUnsatisfiable)).Inc()
	return "", errs.New(errs.CapacityUnsatisfiable, "no server could be reserved after exhausting retries")
}

// PlaceSameServer accepts a live-scale delta only if the current host can
// still fit the new total after the delta, never crossing servers.
func (e *Engine) PlaceSameServer(currentServerID string, current, newReqs types.WorkspaceRequirements) error {
	delta := types.ResourceAmounts{
		CPUCores:      newReqs.Amounts().CPUCores - current.Amounts().CPUCores,
		MemoryMB:      newReqs.Amounts().MemoryMB - current.Amounts().MemoryMB,
		DiskGB:        newReqs.Amounts().DiskGB - current.Amounts().DiskGB,
		BandwidthMbps: newReqs.Amounts().BandwidthMbps - current.Amounts().BandwidthMbps,
	}

	return e.mgr.WithServerLock(currentServerID, func() error {
		server, err := e.mgr.GetServer(currentServerID)
		if err != nil {
			return errs.Wrap(errs.NotFound, "server not found", err)
		}

		if !fitsDelta(server, delta) {
			return errs.New(errs.SameServerCapacity, "current server cannot fit the scaled requirements")
		}

		server.Reserved.CPUCores += delta.CPUCores
		server.Reserved.MemoryMB += delta.MemoryMB
		server.Reserved.DiskGB += delta.DiskGB
		server.Reserved.BandwidthMbps += delta.BandwidthMbps
		return e.mgr.UpdateServerRecord(server)
	})
}

// Release returns reserved capacity to a server, never driving any
// dimension below zero.
func (e *Engine) Release(serverID string, amounts types.ResourceAmounts) error {
	return e.mgr.WithServerLock(serverID, func() error {
		server, err := e.mgr.GetServer(serverID)
		if err != nil {
			return errs.Wrap(errs.NotFound, "server not found", err)
		}

		server.Reserved.CPUCores = clampNonNegative(server.Reserved.CPUCores - amounts.CPUCores)
		server.Reserved.MemoryMB = clampNonNegativeInt(server.Reserved.MemoryMB - amounts.MemoryMB)
		server.Reserved.DiskGB = clampNonNegativeInt(server.Reserved.DiskGB - amounts.DiskGB)
		server.Reserved.BandwidthMbps = clampNonNegativeInt(server.Reserved.BandwidthMbps - amounts.BandwidthMbps)
		if server.ActiveWorkspaces > 0 {
			server.ActiveWorkspaces--
		}
		return e.mgr.UpdateServerRecord(server)
	})
}

// tryReserve attempts to reserve req on serverID under that server's lock,
// re-checking availability since the snapshot that chose it may be stale.
func (e *Engine) tryReserve(serverID string, req types.WorkspaceRequirements) (bool, error) {
	reserved := false
	err := e.mgr.WithServerLock(serverID, func() error {
		server, err := e.mgr.GetServer(serverID)
		if err != nil {
			return errs.Wrap(errs.NotFound, "server not found", err)
		}

		if !fits(server, req.Amounts()) {
			return nil // caller sees reserved == false, retries
		}

		server.Reserved.CPUCores += req.CPUCores
		server.Reserved.MemoryMB += req.MemoryMB
		server.Reserved.DiskGB += req.DiskGB
		server.Reserved.BandwidthMbps += req.BandwidthMbps
		server.ActiveWorkspaces++
		if err := e.mgr.UpdateServerRecord(server); err != nil {
			return err
		}
		reserved = true
		return nil
	})
	return reserved, err
}

// filterAndChoose implements steps 1-6 of the spec's placement algorithm
// over an immutable snapshot. It never mutates the Registry.
func filterAndChoose(servers []*types.ServerRecord, req Request) (string, errs.Kind, error) {
	candidates := filterByStatus(servers, types.ServerActive)
	if len(candidates) == 0 {
		return "", errs.CapacityUnsatisfiable, errs.New(errs.CapacityUnsatisfiable, "no active servers")
	}

	if req.RegionPreference != "" {
		candidates = filterByRegion(candidates, req.RegionPreference)
		if len(candidates) == 0 {
			return "", errs.RegionUnsatisfiable, errs.New(errs.RegionUnsatisfiable, "no active server in preferred region")
		}
	}

	candidates = filterByArchitecture(candidates, req.Requirements.Architecture)
	if req.Requirements.RequiresGPU {
		candidates = filterByGPU(candidates, req.Requirements.GPUKind)
	}
	candidates = filterByLabels(candidates, req.LabelsRequired)
	candidates = filterByCapacity(candidates, req.Requirements.Amounts())

	if len(candidates) == 0 {
		return "", errs.CapacityUnsatisfiable, errs.New(errs.CapacityUnsatisfiable, "no server satisfies requirements")
	}

	best := chooseBest(candidates)
	return best.ID, "", nil
}

func filterByStatus(servers []*types.ServerRecord, status types.ServerStatus) []*types.ServerRecord {
	var out []*types.ServerRecord
	for _, s := range servers {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

func filterByRegion(servers []*types.ServerRecord, region string) []*types.ServerRecord {
	var out []*types.ServerRecord
	for _, s := range servers {
		if s.Topology.Region == region {
			out = append(out, s)
		}
	}
	return out
}

func filterByArchitecture(servers []*types.ServerRecord, arch string) []*types.ServerRecord {
	if arch == "" {
		return servers
	}
	var out []*types.ServerRecord
	for _, s := range servers {
		if s.Topology.Architecture == arch {
			out = append(out, s)
		}
	}
	return out
}

func filterByGPU(servers []*types.ServerRecord, gpuKind string) []*types.ServerRecord {
	var out []*types.ServerRecord
	for _, s := range servers {
		if !s.Topology.HasGPU {
			continue
		}
		if gpuKind != "" && s.Topology.GPUKind != gpuKind {
			continue
		}
		out = append(out, s)
	}
	return out
}

func filterByLabels(servers []*types.ServerRecord, required map[string]string) []*types.ServerRecord {
	if len(required) == 0 {
		return servers
	}
	var out []*types.ServerRecord
	for _, s := range servers {
		match := true
		for k, v := range required {
			if s.Topology.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, s)
		}
	}
	return out
}

func filterByCapacity(servers []*types.ServerRecord, need types.ResourceAmounts) []*types.ServerRecord {
	var out []*types.ServerRecord
	for _, s := range servers {
		if fits(s, need) {
			out = append(out, s)
		}
	}
	return out
}

func fits(s *types.ServerRecord, need types.ResourceAmounts) bool {
	avail := availability(s)
	return avail.CPUCores >= need.CPUCores &&
		avail.MemoryMB >= need.MemoryMB &&
		avail.DiskGB >= need.DiskGB &&
		avail.BandwidthMbps >= need.BandwidthMbps
}

func fitsDelta(s *types.ServerRecord, delta types.ResourceAmounts) bool {
	avail := availability(s)
	return avail.CPUCores >= delta.CPUCores &&
		avail.MemoryMB >= delta.MemoryMB &&
		avail.DiskGB >= delta.DiskGB &&
		avail.BandwidthMbps >= delta.BandwidthMbps
}

func availability(s *types.ServerRecord) types.ResourceAmounts {
	return types.ResourceAmounts{
		CPUCores:      s.Capacity.CPUCores - s.Reserved.CPUCores,
		MemoryMB:      s.Capacity.MemoryMB - s.Reserved.MemoryMB,
		DiskGB:        s.Capacity.DiskGB - s.Reserved.DiskGB,
		BandwidthMbps: s.Capacity.BandwidthMbps - s.Reserved.BandwidthMbps,
	}
}

// utilisation returns the maximum fractional utilisation across dimensions
// after a hypothetical placement of need.
func utilisation(s *types.ServerRecord, need types.ResourceAmounts) float64 {
	max := 0.0
	dims := []struct{ used, total float64 }{
		{s.Reserved.CPUCores + need.CPUCores, s.Capacity.CPUCores},
		{float64(s.Reserved.MemoryMB + need.MemoryMB), float64(s.Capacity.MemoryMB)},
		{float64(s.Reserved.DiskGB + need.DiskGB), float64(s.Capacity.DiskGB)},
		{float64(s.Reserved.BandwidthMbps + need.BandwidthMbps), float64(s.Capacity.BandwidthMbps)},
	}
	for _, d := range dims {
		if d.total <= 0 {
			continue
		}
		u := d.used / d.total
		if u > max {
			max = u
		}
	}
	return max
}

// chooseBest applies the spec's deterministic tie-break: lowest
// post-placement utilisation, then fewest active workspaces, then
// lexicographically smallest server_id.
func chooseBest(candidates []*types.ServerRecord) *types.ServerRecord {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		ua := utilisation(a, types.ResourceAmounts{})
		ub := utilisation(b, types.ResourceAmounts{})
		if ua != ub {
			return ua < ub
		}
		if a.ActiveWorkspaces != b.ActiveWorkspaces {
			return a.ActiveWorkspaces < b.ActiveWorkspaces
		}
		return a.ID < b.ID
	})
	return candidates[0]
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampNonNegativeInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
