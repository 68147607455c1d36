package runtime

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/workspace"
)

const (
	// DefaultNamespace is the containerd namespace workspace containers run in.
	DefaultNamespace = "fleetd"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements workspace.Runtime against a local containerd
// daemon. It is the host-agent's container driver.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime creates a new containerd runtime client.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// CreateContainer creates a container from spec, applying CPU/memory limits
// and bind mounts, and tagging it with spec.Labels so discovery and the
// health-sample worker pool can find it later.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, spec workspace.ContainerSpec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", fmt.Errorf("failed to get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}

	if spec.CPUCores > 0 {
		shares := uint64(spec.CPUCores * 1024)
		quota := int64(spec.CPUCores * 100000)
		period := uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares))
		opts = append(opts, oci.WithCPUCFS(quota, period))
	}
	if spec.MemoryMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryMB)*1024*1024))
	}

	var mounts []specs.Mount
	for _, m := range spec.Mounts {
		opts := []string{"rbind"}
		if m.ReadOnly {
			opts = append(opts, "ro")
		}
		mounts = append(mounts, specs.Mount{
			Source:      m.Source,
			Destination: m.Target,
			Type:        "bind",
			Options:     opts,
		})
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	containerOpts := []containerd.NewContainerOpts{
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	}
	if len(spec.Labels) > 0 {
		containerOpts = append(containerOpts, containerd.WithContainerLabels(spec.Labels))
	}

	ctrdContainer, err := r.client.NewContainer(ctx, spec.ID, containerOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return ctrdContainer.ID(), nil
}

func (r *ContainerdRuntime) StartContainer(ctx context.Context, id string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

func (r *ContainerdRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // no task means already stopped
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (r *ContainerdRuntime) DeleteContainer(ctx context.Context, id string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil // already gone
	}

	if err := r.StopContainer(ctx, id, 10*time.Second); err != nil {
		log.WithComponent("runtime").Warn().Err(err).Str("container_id", id).Msg("failed to stop container before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// UpdateResources applies new CPU/memory limits to a running container's
// task without a restart, backing live scaling (SPEC_FULL.md 4.4.5).
func (r *ContainerdRuntime) UpdateResources(ctx context.Context, id string, cpuCores float64, memoryMB int64) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", id, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	shares := uint64(cpuCores * 1024)
	quota := int64(cpuCores * 100000)
	period := uint64(100000)
	memLimit := uint64(memoryMB) * 1024 * 1024

	spec := &specs.LinuxResources{
		CPU: &specs.LinuxCPU{
			Shares: &shares,
			Quota:  &quota,
			Period: &period,
		},
		Memory: &specs.LinuxMemory{
			Limit: int64Ptr(int64(memLimit)),
		},
	}
	if err := task.Update(ctx, containerd.WithResources(spec)); err != nil {
		return fmt.Errorf("failed to update task resources: %w", err)
	}
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

// GetState returns one of running/exited/stopped/dead/removing/paused/created,
// the vocabulary pkg/heartbeat's containerStateToWorkspaceStatus maps.
func (r *ContainerdRuntime) GetState(ctx context.Context, id string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return "created", nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running:
		return "running", nil
	case containerd.Stopped:
		return "exited", nil
	case containerd.Paused:
		return "paused", nil
	case containerd.Pausing:
		return "paused", nil
	default:
		return "created", nil
	}
}

// Exec runs cmd inside the container and returns its exit code, backing the
// trivial-exec health probe (SPEC_FULL.md 4.4.7).
func (r *ContainerdRuntime) Exec(ctx context.Context, id string, cmd []string) (int, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return -1, fmt.Errorf("failed to load container %s: %w", id, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return -1, fmt.Errorf("container has no running task: %w", err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return -1, fmt.Errorf("failed to load container spec: %w", err)
	}
	procSpec := spec.Process
	procSpec.Args = cmd

	execID := fmt.Sprintf("healthcheck-%d", time.Now().UnixNano())
	process, err := task.Exec(ctx, execID, procSpec, cio.NullIO)
	if err != nil {
		return -1, fmt.Errorf("failed to exec in container: %w", err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return -1, fmt.Errorf("failed to wait for exec: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return -1, fmt.Errorf("failed to start exec: %w", err)
	}

	status := <-statusC
	return int(status.ExitCode()), nil
}

// ListByLabel enumerates container ids carrying label key=value.
func (r *ContainerdRuntime) ListByLabel(ctx context.Context, key, value string) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	filter := fmt.Sprintf(`labels.%q==%q`, key, value)
	containers, err := r.client.Containers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

// ContainerIP returns the IP address of a container by entering its network
// namespace; used by the reverse proxy to resolve a backend address.
func (r *ContainerdRuntime) ContainerIP(ctx context.Context, id string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to load container %s: %w", id, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get task: %w", err)
	}
	status, err := task.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get task status: %w", err)
	}
	if status.Status != containerd.Running {
		return "", fmt.Errorf("container is not running")
	}

	pid := task.Pid()
	if pid == 0 {
		return "", fmt.Errorf("container task has no PID")
	}

	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to get container IP: %w (output: %s)", err, string(output))
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(parts[1])
		if err != nil {
			return "", fmt.Errorf("failed to parse IP address %s: %w", parts[1], err)
		}
		return ip.String(), nil
	}

	return "", fmt.Errorf("no IP address found for container")
}
