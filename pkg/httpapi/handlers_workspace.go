package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/workspace"
)

type createWorkspaceRequest struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	WorkspaceID    string `json:"workspace_id,omitempty"`
	Tier           string `json:"tier"`
	RequiredRegion string `json:"required_region,omitempty"`
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "decoding request body", err))
		return
	}

	record, err := s.workspaces.Create(r.Context(), workspace.CreateRequest{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		WorkspaceID:    req.WorkspaceID,
		Tier:           req.Tier,
		RequiredRegion: req.RequiredRegion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.store.Get(id)
	if err != nil {
		writeError(w, errs.Wrap(errs.NotFound, "workspace not found", err))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	preserveFiles := parseBoolQuery(r, "preserve_files")
	if err := s.workspaces.Delete(r.Context(), id, preserveFiles); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopWorkspace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.workspaces.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRestartWorkspace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.workspaces.Restart(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type scaleWorkspaceRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleScaleWorkspace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req scaleWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errs.Wrap(errs.Internal, "decoding request body", err))
		return
	}
	if err := s.workspaces.Scale(r.Context(), id, req.Tier); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWorkspaceHealth(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	healthy, err := s.workspaces.CheckHealth(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": healthy})
}

// handleExecCommand and handleExecCommandStream are stubs: the exec path
// is driven by the container runtime's Exec, already exercised by
// pkg/filesync's pod-template application and pkg/heartbeat's exec probe;
// wiring a user-facing exec endpoint needs a terminal/pty transport this
// package does not own.
func (s *Server) handleExecCommand(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

func (s *Server) handleExecCommandStream(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

func parseBoolQuery(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
