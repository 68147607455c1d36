package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fleetd/pkg/runtime"
	"github.com/cuemby/fleetd/pkg/workspace"
)

// TestContainerdBasicWorkflow exercises pull → create → start → inspect →
// stop → delete against a real containerd socket. It skips rather than
// fails when containerd isn't reachable, since CI and dev boxes often
// don't have one.
func TestContainerdBasicWorkflow(t *testing.T) {
	rt, err := runtime.NewContainerdRuntime("")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	spec := workspace.ContainerSpec{
		ID:       uuid.New().String(),
		Image:    "docker.io/library/nginx:alpine",
		Env:      []string{"TEST=integration"},
		CPUCores: 0.5,
		MemoryMB: 256,
	}

	t.Log("pulling image")
	if err := rt.PullImage(ctx, spec.Image); err != nil {
		t.Fatalf("pull image: %v", err)
	}

	t.Log("creating container")
	id, err := rt.CreateContainer(ctx, spec)
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	defer func() {
		if err := rt.DeleteContainer(ctx, id); err != nil {
			t.Logf("cleanup: delete container: %v", err)
		}
	}()

	t.Log("starting container")
	if err := rt.StartContainer(ctx, id); err != nil {
		t.Fatalf("start container: %v", err)
	}

	time.Sleep(2 * time.Second)

	state, err := rt.GetState(ctx, id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != "running" {
		t.Errorf("expected running, got %s", state)
	}

	ip, err := rt.ContainerIP(ctx, id)
	if err != nil {
		t.Errorf("container ip: %v", err)
	} else {
		t.Logf("container ip: %s", ip)
	}

	t.Log("stopping container")
	if err := rt.StopContainer(ctx, id, 10*time.Second); err != nil {
		t.Fatalf("stop container: %v", err)
	}

	state, err = rt.GetState(ctx, id)
	if err != nil {
		t.Fatalf("get state after stop: %v", err)
	}
	if state == "running" {
		t.Error("expected container to be stopped")
	}
}

// TestContainerdListByLabel tests label-scoped listing, the mechanism the
// workspace reconciler uses to discover orphaned containers on a server.
func TestContainerdListByLabel(t *testing.T) {
	rt, err := runtime.NewContainerdRuntime("")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	ids, err := rt.ListByLabel(ctx, "workspace", "true")
	if err != nil {
		t.Fatalf("list by label: %v", err)
	}
	t.Logf("found %d workspace containers", len(ids))
}

// TestContainerdPullMultipleImages exercises pulling several images in
// sequence.
func TestContainerdPullMultipleImages(t *testing.T) {
	rt, err := runtime.NewContainerdRuntime("")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	images := []string{
		"docker.io/library/nginx:alpine",
		"docker.io/library/redis:alpine",
	}
	for _, img := range images {
		if err := rt.PullImage(ctx, img); err != nil {
			t.Errorf("pull %s: %v", img, err)
		}
	}
}
