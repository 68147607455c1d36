// Package httpapi implements the control plane's public HTTP surface
// (SPEC_FULL.md §6.1, §6.2): server and workspace CRUD for the API
// collaborator, the small fixed internal endpoints the Admin/Billing
// collaborators call, the reverse-proxy mount, and the ambient
// /health, /ready, /metrics endpoints.
//
// Path-parameterised routes ({id}, {*path}) are registered on a
// gorilla/mux router; the fixed internal endpoints and the ambient
// endpoints stay on a plain net/http.ServeMux using Go's built-in
// {param} route patterns, matching how the teacher keeps its lighter
// health server separate from its richer gRPC API surface.
package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/proxy"
	"github.com/cuemby/fleetd/pkg/store"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/workspace"
)

// Server wires the Fleet (cluster) Manager, the Workspace Lifecycle
// Manager, the Workspace Store, and the Reverse Proxy behind one public
// HTTP handler.
type Server struct {
	cluster       *manager.Manager
	workspaces    *workspace.Manager
	store         store.WorkspaceStore
	proxy         *proxy.Proxy
	internalToken string
	catalogue     map[string]types.WorkspaceRequirements
}

// NewServer builds a Server. internalToken authenticates the §6.1 internal
// endpoints via a constant-time comparison; catalogue backs the
// /internal/hardware-specs tier listing.
func NewServer(cluster *manager.Manager, workspaces *workspace.Manager, ws store.WorkspaceStore, rp *proxy.Proxy, internalToken string, catalogue map[string]types.WorkspaceRequirements) *Server {
	return &Server{
		cluster:       cluster,
		workspaces:    workspaces,
		store:         ws,
		proxy:         rp,
		internalToken: internalToken,
		catalogue:     catalogue,
	}
}

// Handler returns the composed root handler: ambient and internal routes
// on a plain ServeMux, falling through to the gorilla/mux router for
// everything under /servers, /workspaces.
func (s *Server) Handler() http.Handler {
	root := http.NewServeMux()

	root.HandleFunc("GET /health", metrics.HealthHandler())
	root.HandleFunc("GET /ready", metrics.ReadyHandler())
	root.Handle("GET /metrics", metrics.Handler())

	root.HandleFunc("POST /internal/servers/{server_id}/heartbeat", s.authInternal(s.handleServerHeartbeat))
	root.HandleFunc("POST /internal/workspaces/{workspace_id}/sync-status", s.authInternal(s.handleWorkspaceSyncStatus))
	root.HandleFunc("POST /internal/usage/compute", s.authInternal(s.handleUsageCompute))
	root.HandleFunc("GET /internal/hardware-specs", s.authInternal(s.handleHardwareSpecs))

	root.Handle("/", s.muxRouter())
	return root
}

func (s *Server) authInternal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.internalToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) muxRouter() *mux.Router {
	r := mux.NewRouter()

	servers := r.PathPrefix("/servers").Subrouter()
	servers.HandleFunc("", s.handleListServers).Methods(http.MethodGet)
	servers.HandleFunc("", s.handleRegisterServer).Methods(http.MethodPost)
	servers.HandleFunc("/cluster/status", s.handleClusterStatus).Methods(http.MethodGet)
	servers.HandleFunc("/capacity/{region}", s.handleServerCapacity).Methods(http.MethodGet)
	servers.HandleFunc("/{id}", s.handleGetServer).Methods(http.MethodGet)
	servers.HandleFunc("/{id}", s.handlePatchServer).Methods(http.MethodPatch)
	servers.HandleFunc("/{id}", s.handleDeleteServer).Methods(http.MethodDelete)
	servers.HandleFunc("/{id}/drain", s.handleDrainServer).Methods(http.MethodPost)
	servers.HandleFunc("/{id}/activate", s.handleActivateServer).Methods(http.MethodPost)
	servers.HandleFunc("/{id}/health", s.handleServerHealth).Methods(http.MethodGet)
	servers.HandleFunc("/{id}/workspaces", s.handleServerWorkspaces).Methods(http.MethodGet)

	workspaces := r.PathPrefix("/workspaces").Subrouter()
	workspaces.HandleFunc("", s.handleCreateWorkspace).Methods(http.MethodPost)
	workspaces.HandleFunc("/{id}", s.handleGetWorkspace).Methods(http.MethodGet)
	workspaces.HandleFunc("/{id}", s.handleDeleteWorkspace).Methods(http.MethodDelete)
	workspaces.HandleFunc("/{id}/stop", s.handleStopWorkspace).Methods(http.MethodPost)
	workspaces.HandleFunc("/{id}/restart", s.handleRestartWorkspace).Methods(http.MethodPost)
	workspaces.HandleFunc("/{id}/scale", s.handleScaleWorkspace).Methods(http.MethodPost)
	workspaces.HandleFunc("/{id}/health", s.handleWorkspaceHealth).Methods(http.MethodGet)
	workspaces.HandleFunc("/{id}/exec", s.handleExecCommand).Methods(http.MethodPost)
	workspaces.HandleFunc("/{id}/exec-stream", s.handleExecCommandStream).Methods(http.MethodPost)

	if s.proxy != nil {
		r.PathPrefix("/workspaces/{workspace_id}/proxy/{port}/").Handler(s.proxy)
	}

	return r
}
