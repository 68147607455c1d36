package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
)

// HTTPProbe implements RuntimeProbe and ContainerLister by calling a
// server's own management port, the way pkg/health's HTTPChecker polls a
// container's health endpoint but scoped to a whole server instead of one
// container. Every control-plane-managed server runs a small agent on
// ManagementPort that answers these two routes.
type HTTPProbe struct {
	client *http.Client
}

// NewHTTPProbe builds an HTTPProbe whose requests are bounded by timeout.
func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{client: &http.Client{Timeout: timeout}}
}

// Ping calls GET /metrics on the server's management port and decodes its
// current resource usage.
func (p *HTTPProbe) Ping(ctx context.Context, server *types.ServerRecord) (types.HeartbeatMetrics, error) {
	url := fmt.Sprintf("http://%s:%d/metrics", server.Address, server.ManagementPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.HeartbeatMetrics{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.HeartbeatMetrics{}, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.HeartbeatMetrics{}, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}

	var metrics types.HeartbeatMetrics
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return types.HeartbeatMetrics{}, fmt.Errorf("decode metrics: %w", err)
	}
	return metrics, nil
}

// containerList is the wire shape of GET /containers.
type containerList struct {
	Containers []struct {
		WorkspaceID string `json:"workspace_id"`
		State       string `json:"state"`
	} `json:"containers"`
}

// ListWorkspaceContainers calls GET /containers on the server's management
// port and maps the response into ContainerObservations.
func (p *HTTPProbe) ListWorkspaceContainers(ctx context.Context, server *types.ServerRecord) ([]ContainerObservation, error) {
	url := fmt.Sprintf("http://%s:%d/containers", server.Address, server.ManagementPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}

	var list containerList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode container list: %w", err)
	}

	observations := make([]ContainerObservation, 0, len(list.Containers))
	for _, c := range list.Containers {
		observations = append(observations, ContainerObservation{WorkspaceID: c.WorkspaceID, State: c.State})
	}
	return observations, nil
}
