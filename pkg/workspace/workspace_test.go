package workspace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/placement"
	"github.com/cuemby/fleetd/pkg/types"
)

type fakeFleet struct {
	servers map[string]*types.ServerRecord
	events  []*events.Event
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{servers: map[string]*types.ServerRecord{
		"srv-1": {ID: "srv-1", Topology: types.ServerTopology{Architecture: "amd64"}},
	}}
}

func (f *fakeFleet) GetServer(id string) (*types.ServerRecord, error) {
	s, ok := f.servers[id]
	if !ok {
		return nil, fmt.Errorf("no such server %s", id)
	}
	return s, nil
}
func (f *fakeFleet) ListServers() ([]*types.ServerRecord, error) {
	var out []*types.ServerRecord
	for _, s := range f.servers {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeFleet) PublishEvent(e *events.Event) { f.events = append(f.events, e) }
func (f *fakeFleet) NodeID() string               { return "node-1" }
func (f *fakeFleet) AcquireLease(name, holder string, ttl time.Duration) (*types.LeaseRecord, bool, error) {
	return &types.LeaseRecord{Name: name, Holder: holder}, true, nil
}

type fakePlacer struct {
	placeServerID string
	placeErr      error
	releases      []string
}

func (p *fakePlacer) Place(req placement.Request) (string, error) {
	if p.placeErr != nil {
		return "", p.placeErr
	}
	return p.placeServerID, nil
}
func (p *fakePlacer) PlaceSameServer(serverID string, current, newReqs types.WorkspaceRequirements) error {
	return nil
}
func (p *fakePlacer) Release(serverID string, amounts types.ResourceAmounts) error {
	p.releases = append(p.releases, serverID)
	return nil
}

type fakeRuntime struct {
	failCreate bool
	state      string
}

func (r *fakeRuntime) PullImage(ctx context.Context, imageRef string) error { return nil }
func (r *fakeRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if r.failCreate {
		return "", fmt.Errorf("boom")
	}
	return spec.ID + "-ctr", nil
}
func (r *fakeRuntime) StartContainer(ctx context.Context, id string) error { return nil }
func (r *fakeRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return nil
}
func (r *fakeRuntime) DeleteContainer(ctx context.Context, id string) error { return nil }
func (r *fakeRuntime) UpdateResources(ctx context.Context, id string, cpuCores float64, memoryMB int64) error {
	return nil
}
func (r *fakeRuntime) GetState(ctx context.Context, id string) (string, error) {
	if r.state == "" {
		return "running", nil
	}
	return r.state, nil
}
func (r *fakeRuntime) Exec(ctx context.Context, id string, cmd []string) (int, error) { return 0, nil }
func (r *fakeRuntime) ListByLabel(ctx context.Context, key, value string) ([]string, error) {
	return nil, nil
}

type memStore struct {
	records map[string]*types.WorkspaceRecord
}

func newMemStore() *memStore { return &memStore{records: map[string]*types.WorkspaceRecord{}} }

func (s *memStore) Get(id string) (*types.WorkspaceRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *r
	return &cp, nil
}
func (s *memStore) Save(r *types.WorkspaceRecord) error {
	cp := *r
	s.records[r.ID] = &cp
	return nil
}
func (s *memStore) Delete(id string) error { delete(s.records, id); return nil }
func (s *memStore) ListAll() ([]*types.WorkspaceRecord, error) {
	var out []*types.WorkspaceRecord
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}
func (s *memStore) ListRunning() ([]*types.WorkspaceRecord, error) {
	var out []*types.WorkspaceRecord
	for _, r := range s.records {
		if r.Status == types.WorkspaceRunning {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *memStore) ListByUser(userID string) ([]*types.WorkspaceRecord, error)       { return nil, nil }
func (s *memStore) ListBySession(sessionID string) ([]*types.WorkspaceRecord, error) { return nil, nil }
func (s *memStore) ListByServer(serverID string) ([]*types.WorkspaceRecord, error)   { return nil, nil }
func (s *memStore) RebuildIndexes() error                                            { return nil }
func (s *memStore) Close() error                                                     { return nil }

func newTestManager() (*Manager, *fakePlacer, *fakeRuntime) {
	fleet := newFakeFleet()
	st := newMemStore()
	placer := &fakePlacer{placeServerID: "srv-1"}
	rt := &fakeRuntime{}
	mgr := NewManager(fleet, st, placer, rt, DefaultCatalogue(), nil, DefaultConfig())
	return mgr, placer, rt
}

func TestCreate_Success(t *testing.T) {
	mgr, _, _ := newTestManager()
	record, err := mgr.Create(context.Background(), CreateRequest{UserID: "u1", SessionID: "s1", Tier: "small"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != types.WorkspaceRunning {
		t.Errorf("expected RUNNING, got %s", record.Status)
	}
	if record.Assigned.ServerID != "srv-1" {
		t.Errorf("expected assignment to srv-1, got %s", record.Assigned.ServerID)
	}
}

func TestCreate_PlacementFailureSetsError(t *testing.T) {
	mgr, _, _ := newTestManager()
	placer := mgr.placer.(*fakePlacer)
	placer.placeErr = fmt.Errorf("no capacity")

	record, err := mgr.Create(context.Background(), CreateRequest{UserID: "u1", Tier: "small"})
	if err == nil {
		t.Fatal("expected error")
	}
	if record.Status != types.WorkspaceError {
		t.Errorf("expected ERROR, got %s", record.Status)
	}
}

func TestCreate_ContainerFailureReleasesReservation(t *testing.T) {
	mgr, placer, rt := newTestManager()
	rt.failCreate = true

	record, err := mgr.Create(context.Background(), CreateRequest{UserID: "u1", Tier: "small"})
	if err == nil {
		t.Fatal("expected error")
	}
	if record.Status != types.WorkspaceError {
		t.Errorf("expected ERROR, got %s", record.Status)
	}
	if len(placer.releases) != 1 || placer.releases[0] != "srv-1" {
		t.Errorf("expected reservation released on srv-1, got %v", placer.releases)
	}
}

func TestStop_Idempotent(t *testing.T) {
	mgr, _, _ := newTestManager()
	record, err := mgr.Create(context.Background(), CreateRequest{UserID: "u1", Tier: "small"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := mgr.Stop(context.Background(), record.ID); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := mgr.Stop(context.Background(), record.ID); err != nil {
		t.Fatalf("second stop should be a no-op, got: %v", err)
	}

	got, _ := mgr.store.Get(record.ID)
	if got.Status != types.WorkspaceStopped {
		t.Errorf("expected STOPPED, got %s", got.Status)
	}
}

func TestScale_NoopOnSameTier(t *testing.T) {
	mgr, _, _ := newTestManager()
	record, err := mgr.Create(context.Background(), CreateRequest{UserID: "u1", Tier: "small"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := mgr.Scale(context.Background(), record.ID, "small"); err != nil {
		t.Fatalf("expected no-op scale to succeed, got: %v", err)
	}
}

func TestDelete_RemovesRecord(t *testing.T) {
	mgr, _, _ := newTestManager()
	record, err := mgr.Create(context.Background(), CreateRequest{UserID: "u1", Tier: "small"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := mgr.Delete(context.Background(), record.ID, false); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := mgr.store.Get(record.ID); err == nil {
		t.Error("expected record to be gone after delete")
	}
}

func TestCheckHealth_TrueWhenRunningAndExecSucceeds(t *testing.T) {
	mgr, _, _ := newTestManager()
	record, err := mgr.Create(context.Background(), CreateRequest{UserID: "u1", Tier: "small"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	healthy, err := mgr.CheckHealth(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !healthy {
		t.Error("expected workspace to be healthy")
	}
}
