package workspace

import (
	"context"
	"time"
)

// Mount is a single bind mount into a workspace container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec is everything the Runtime needs to launch a workspace
// container; it deliberately knows nothing about Workspace Records.
type ContainerSpec struct {
	ID       string // container id, set equal to workspace_id
	Image    string
	Env      []string
	Mounts   []Mount
	CPUCores float64
	MemoryMB int64
	Labels   map[string]string
}

// Runtime is the host-side container driver the Workspace Lifecycle Manager
// drives. It is an interface so the manager can be tested without a real
// containerd socket and so the eventual host-agent RPC client can satisfy it
// without this package knowing about gRPC.
type Runtime interface {
	PullImage(ctx context.Context, imageRef string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	DeleteContainer(ctx context.Context, id string) error
	UpdateResources(ctx context.Context, id string, cpuCores float64, memoryMB int64) error
	// GetState returns one of: running, exited, stopped, dead, removing,
	// paused, created - the vocabulary pkg/heartbeat's
	// containerStateToWorkspaceStatus understands.
	GetState(ctx context.Context, id string) (string, error)
	// Exec runs cmd inside the container and returns its exit code.
	Exec(ctx context.Context, id string, cmd []string) (int, error)
	// ListByLabel enumerates container ids carrying label key=value.
	ListByLabel(ctx context.Context, key, value string) ([]string, error)
}
