package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/types"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.cluster.ListServers()
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "listing servers", err))
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

type registerServerRequest struct {
	Hostname       string                `json:"hostname"`
	Address        string                `json:"address"`
	ManagementPort int                   `json:"management_port"`
	Capacity       types.ResourceAmounts `json:"capacity"`
	Topology       types.ServerTopology  `json:"topology"`
	ImageByVariant map[string]string     `json:"image_by_variant,omitempty"`
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "decoding request body", err))
		return
	}

	now := time.Now()
	record := &types.ServerRecord{
		ID:             uuid.NewString(),
		Hostname:       req.Hostname,
		Address:        req.Address,
		ManagementPort: req.ManagementPort,
		Status:         types.ServerActive,
		Capacity:       req.Capacity,
		Topology:       req.Topology,
		ImageByVariant: req.ImageByVariant,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.cluster.RegisterServer(record); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "registering server", err))
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.cluster.GetServer(id)
	if err != nil {
		writeError(w, errs.Wrap(errs.NotFound, "server not found", err))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type patchServerRequest struct {
	Status   *types.ServerStatus   `json:"status,omitempty"`
	Topology *types.ServerTopology `json:"topology,omitempty"`
	Image    map[string]string     `json:"image_by_variant,omitempty"`
}

func (s *Server) handlePatchServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req patchServerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "decoding request body", err))
		return
	}

	record, err := s.cluster.GetServer(id)
	if err != nil {
		writeError(w, errs.Wrap(errs.NotFound, "server not found", err))
		return
	}
	if req.Status != nil {
		record.Status = *req.Status
	}
	if req.Topology != nil {
		record.Topology = *req.Topology
	}
	if req.Image != nil {
		record.ImageByVariant = req.Image
	}
	record.UpdatedAt = time.Now()
	if err := s.cluster.UpdateServerRecord(record); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "updating server", err))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	force := parseBoolQuery(r, "force")
	if !force {
		active, err := s.store.ListByServer(id)
		if err != nil {
			writeError(w, errs.Wrap(errs.Internal, "checking active workspaces", err))
			return
		}
		if len(active) > 0 {
			writeError(w, errs.New(errs.HasActiveWorkspaces, "server has active workspaces, pass force=true"))
			return
		}
	}
	if err := s.cluster.DeregisterServer(id); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "deregistering server", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrainServer(w http.ResponseWriter, r *http.Request) {
	s.setServerStatus(w, r, types.ServerDraining)
}

func (s *Server) handleActivateServer(w http.ResponseWriter, r *http.Request) {
	s.setServerStatus(w, r, types.ServerActive)
}

func (s *Server) setServerStatus(w http.ResponseWriter, r *http.Request, status types.ServerStatus) {
	id := mux.Vars(r)["id"]
	record, err := s.cluster.GetServer(id)
	if err != nil {
		writeError(w, errs.Wrap(errs.NotFound, "server not found", err))
		return
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	if err := s.cluster.UpdateServerRecord(record); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "updating server", err))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleServerHealth(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.cluster.GetServer(id)
	if err != nil {
		writeError(w, errs.Wrap(errs.NotFound, "server not found", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server_id":            record.ID,
		"status":               record.Status,
		"consecutive_failures": record.ConsecutiveHeartbeatFailures,
		"last_heartbeat_ts":    record.LastHeartbeatTS,
	})
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	servers, err := s.cluster.GetClusterServers()
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "reading cluster servers", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_leader":   s.cluster.IsLeader(),
		"leader_addr": s.cluster.LeaderAddr(),
		"servers":     servers,
		"stats":       s.cluster.GetRaftStats(),
	})
}

func (s *Server) handleServerCapacity(w http.ResponseWriter, r *http.Request) {
	region := mux.Vars(r)["region"]
	servers, err := s.cluster.ListServers()
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "listing servers", err))
		return
	}

	type slot struct {
		Tier      string `json:"tier"`
		Available int    `json:"available"`
	}
	counts := map[string]int{}
	for _, srv := range servers {
		if srv.Topology.Region != region || srv.Status != types.ServerActive {
			continue
		}
		for variant := range srv.ImageByVariant {
			counts[variant]++
		}
	}
	slots := make([]slot, 0, len(counts))
	for tier, n := range counts {
		slots = append(slots, slot{Tier: tier, Available: n})
	}
	writeJSON(w, http.StatusOK, slots)
}

func (s *Server) handleServerWorkspaces(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	workspaces, err := s.store.ListByServer(id)
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "listing server workspaces", err))
		return
	}
	writeJSON(w, http.StatusOK, workspaces)
}
