package integration

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/placement"
	"github.com/cuemby/fleetd/pkg/runtime"
	"github.com/cuemby/fleetd/pkg/store"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/workspace"
)

// fakeFleet satisfies workspace.Fleet with a single always-available server,
// standing in for a real Fleet Registry backed by Raft.
type fakeFleet struct{ serverID string }

func (f *fakeFleet) GetServer(id string) (*types.ServerRecord, error) {
	return &types.ServerRecord{ID: f.serverID, Status: types.ServerActive}, nil
}
func (f *fakeFleet) ListServers() ([]*types.ServerRecord, error) {
	return []*types.ServerRecord{{ID: f.serverID, Status: types.ServerActive}}, nil
}
func (f *fakeFleet) PublishEvent(event *events.Event) {}
func (f *fakeFleet) AcquireLease(name, holder string, ttl time.Duration) (*types.LeaseRecord, bool, error) {
	return &types.LeaseRecord{Name: name, Holder: holder}, true, nil
}
func (f *fakeFleet) NodeID() string { return "integration-test" }

// fakePlacer always places onto the one fake server.
type fakePlacer struct{ serverID string }

func (p *fakePlacer) Place(req placement.Request) (string, error) { return p.serverID, nil }
func (p *fakePlacer) PlaceSameServer(currentServerID string, current, newReqs types.WorkspaceRequirements) error {
	return nil
}
func (p *fakePlacer) Release(serverID string, amounts types.ResourceAmounts) error { return nil }

// TestWorkspaceHealthCheck drives a real containerd runtime through the
// Workspace Lifecycle Manager: create, observe healthy, delete. It skips
// when containerd isn't reachable rather than failing CI/dev boxes without
// one.
func TestWorkspaceHealthCheck(t *testing.T) {
	rt, err := runtime.NewContainerdRuntime("")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer rt.Close()

	ws, err := store.NewBoltWorkspaceStore(t.TempDir())
	if err != nil {
		t.Fatalf("open workspace store: %v", err)
	}
	defer ws.Close()

	mgr := workspace.NewManager(
		&fakeFleet{serverID: "srv-1"},
		ws,
		&fakePlacer{serverID: "srv-1"},
		rt,
		workspace.DefaultCatalogue(),
		nil,
		workspace.DefaultConfig(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	record, err := mgr.Create(ctx, workspace.CreateRequest{
		UserID:    "integration-user",
		SessionID: "integration-session",
		Tier:      "small",
	})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	defer func() {
		if err := mgr.Delete(context.Background(), record.ID, false); err != nil {
			t.Logf("cleanup: delete workspace: %v", err)
		}
	}()

	// Give the container a moment to reach running before polling health.
	time.Sleep(2 * time.Second)

	healthy, err := mgr.CheckHealth(ctx, record.ID)
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if !healthy {
		t.Error("expected freshly created workspace to report healthy")
	}
}
