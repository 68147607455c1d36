package heartbeat

import (
	"testing"

	"github.com/cuemby/fleetd/pkg/types"
)

func TestContainerStateToWorkspaceStatus(t *testing.T) {
	tests := []struct {
		state  string
		want   types.WorkspaceStatus
		wantOK bool
	}{
		{"running", types.WorkspaceRunning, true},
		{"exited", types.WorkspaceStopped, true},
		{"stopped", types.WorkspaceStopped, true},
		{"dead", types.WorkspaceError, true},
		{"removing", types.WorkspaceError, true},
		{"paused", types.WorkspaceError, true},
		{"created", types.WorkspaceCreating, true},
		{"unknown-state", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got, ok := containerStateToWorkspaceStatus(tt.state)
			if ok != tt.wantOK {
				t.Fatalf("containerStateToWorkspaceStatus(%q) ok = %v, want %v", tt.state, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("containerStateToWorkspaceStatus(%q) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.FailureThreshold)
	}
	if cfg.WorkspaceSyncEveryNCycles != 2 {
		t.Errorf("WorkspaceSyncEveryNCycles = %d, want 2", cfg.WorkspaceSyncEveryNCycles)
	}
}
