package httpapi

import (
	"net/http"
	"time"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/types"
)

type heartbeatRequest struct {
	UsedCPU           float64 `json:"used_cpu"`
	UsedMemoryMB      int64   `json:"used_memory_mb"`
	UsedDiskGB        int64   `json:"used_disk_gb"`
	UsedBandwidthMbps int64   `json:"used_bandwidth_mbps"`
	ActiveWorkspaces  int     `json:"active_workspaces"`
}

// handleServerHeartbeat is idempotent: re-applying the same sample just
// overwrites the server's reserved/active-workspace snapshot.
func (s *Server) handleServerHeartbeat(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("server_id")
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "decoding heartbeat body", err))
		return
	}

	record, err := s.cluster.GetServer(serverID)
	if err != nil {
		writeError(w, errs.Wrap(errs.NotFound, "server not found", err))
		return
	}
	record.Reserved = types.ResourceAmounts{
		CPUCores:      req.UsedCPU,
		MemoryMB:      req.UsedMemoryMB,
		DiskGB:        req.UsedDiskGB,
		BandwidthMbps: req.UsedBandwidthMbps,
	}
	record.ActiveWorkspaces = req.ActiveWorkspaces
	record.LastHeartbeatTS = time.Now()
	record.ConsecutiveHeartbeatFailures = 0
	if err := s.cluster.UpdateServerRecord(record); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "recording heartbeat", err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type syncStatusRequest struct {
	Status types.WorkspaceStatus `json:"status"`
}

func (s *Server) handleWorkspaceSyncStatus(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspace_id")
	var req syncStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "decoding sync-status body", err))
		return
	}

	record, err := s.store.Get(workspaceID)
	if err != nil {
		writeError(w, errs.Wrap(errs.NotFound, "workspace not found", err))
		return
	}
	record.Status = req.Status
	record.UpdatedAt = time.Now()
	if err := s.store.Save(record); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "saving workspace status", err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type usageComputeRequest struct {
	UserID          string            `json:"user_id"`
	WorkspaceID     string            `json:"workspace_id"`
	SessionID       string            `json:"session_id,omitempty"`
	Tier            string            `json:"tier"`
	DurationSeconds int64             `json:"duration_seconds"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// handleUsageCompute only validates and records the quantity the core sends;
// pricing is computed downstream by the billing collaborator.
func (s *Server) handleUsageCompute(w http.ResponseWriter, r *http.Request) {
	var req usageComputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "decoding usage body", err))
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.DurationSeconds < 0 {
		writeError(w, errs.New(errs.Internal, "usage compute requires user_id, workspace_id and a non-negative duration"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type hardwareSpec struct {
	Tier          string  `json:"tier"`
	CPU           float64 `json:"cpu"`
	MemoryMB      int64   `json:"memory_mb"`
	DiskGB        int64   `json:"disk_gb"`
	BandwidthMbps int64   `json:"bandwidth_mbps"`
	Architecture  string  `json:"architecture,omitempty"`
	IsGPU         bool    `json:"is_gpu"`
	GPUKind       string  `json:"gpu_kind,omitempty"`
}

// handleHardwareSpecs serves the catalogue the Admin collaborator refreshes
// on startup and hourly; it reflects the tiers this control-plane replica
// was configured with.
func (s *Server) handleHardwareSpecs(w http.ResponseWriter, r *http.Request) {
	specs := make([]hardwareSpec, 0, len(s.catalogue))
	for tier, req := range s.catalogue {
		specs = append(specs, hardwareSpec{
			Tier:          tier,
			CPU:           req.CPUCores,
			MemoryMB:      req.MemoryMB,
			DiskGB:        req.DiskGB,
			BandwidthMbps: req.BandwidthMbps,
			Architecture:  req.Architecture,
			IsGPU:         req.RequiresGPU,
			GPUKind:       req.GPUKind,
		})
	}
	writeJSON(w, http.StatusOK, specs)
}
