package proxy

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/mux"

	"github.com/cuemby/fleetd/pkg/types"
)

type fakeResolver struct {
	records map[string]*types.WorkspaceRecord
}

func (f *fakeResolver) Get(workspaceID string) (*types.WorkspaceRecord, error) {
	r, ok := f.records[workspaceID]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func TestServeHTTP_ForwardsToAssignedHost(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from workspace"))
	}))
	defer backend.Close()

	backendURL, _ := url.Parse(backend.URL)
	host, port, _ := net.SplitHostPort(backendURL.Host)

	resolver := &fakeResolver{records: map[string]*types.WorkspaceRecord{
		"ws-1": {
			ID:     "ws-1",
			Status: types.WorkspaceRunning,
			Assigned: types.WorkspaceAssignment{
				HostAddress: host,
			},
		},
	}}

	p := NewProxy(resolver, DefaultConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/proxy/ws-1/"+port+"/index.html", nil)
	req = mux.SetURLVars(req, map[string]string{"workspace_id": "ws-1", "port": port})
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "hello from workspace" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestServeHTTP_NotRunningFailsFast(t *testing.T) {
	resolver := &fakeResolver{records: map[string]*types.WorkspaceRecord{
		"ws-1": {ID: "ws-1", Status: types.WorkspaceStopped},
	}}
	p := NewProxy(resolver, DefaultConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/ws-1/8080/", nil)
	req = mux.SetURLVars(req, map[string]string{"workspace_id": "ws-1", "port": "8080"})
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-running workspace, got %d", rec.Code)
	}
}

func TestIsHopByHop(t *testing.T) {
	if !isHopByHop("Connection") {
		t.Error("expected Connection to be hop-by-hop")
	}
	if isHopByHop("Content-Type") {
		t.Error("did not expect Content-Type to be hop-by-hop")
	}
}

func TestIsHTML(t *testing.T) {
	if !isHTML("text/html; charset=utf-8") {
		t.Error("expected text/html to match")
	}
	if isHTML("application/json") {
		t.Error("did not expect application/json to match")
	}
}
