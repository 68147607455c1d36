package placement

import (
	"testing"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/types"
)

func activeServer(id, region, arch string, cap types.ResourceAmounts) *types.ServerRecord {
	return &types.ServerRecord{
		ID:       id,
		Status:   types.ServerActive,
		Capacity: cap,
		Topology: types.ServerTopology{Region: region, Architecture: arch},
	}
}

func TestFilterAndChoose_PicksLowestUtilisation(t *testing.T) {
	servers := []*types.ServerRecord{
		activeServer("b", "us-east", "amd64", types.ResourceAmounts{CPUCores: 8, MemoryMB: 8192, DiskGB: 100, BandwidthMbps: 1000}),
		activeServer("a", "us-east", "amd64", types.ResourceAmounts{CPUCores: 16, MemoryMB: 16384, DiskGB: 200, BandwidthMbps: 1000}),
	}
	req := Request{Requirements: types.WorkspaceRequirements{CPUCores: 2, MemoryMB: 2048, DiskGB: 10, Architecture: "amd64"}}

	id, kind, err := filterAndChoose(servers, req)
	if err != nil {
		t.Fatalf("unexpected error: %v (kind %s)", err, kind)
	}
	if id != "a" {
		t.Errorf("expected server 'a' (lower utilisation), got %s", id)
	}
}

func TestFilterAndChoose_RegionUnsatisfiable(t *testing.T) {
	servers := []*types.ServerRecord{
		activeServer("a", "us-east", "amd64", types.ResourceAmounts{CPUCores: 8, MemoryMB: 8192, DiskGB: 100, BandwidthMbps: 1000}),
	}
	req := Request{
		Requirements:     types.WorkspaceRequirements{CPUCores: 1, MemoryMB: 512, Architecture: "amd64"},
		RegionPreference: "eu-west",
	}

	_, kind, err := filterAndChoose(servers, req)
	if err == nil {
		t.Fatal("expected error for unsatisfiable region")
	}
	if kind != errs.RegionUnsatisfiable {
		t.Errorf("expected RegionUnsatisfiable, got %s", kind)
	}
}

func TestFilterAndChoose_CapacityUnsatisfiable(t *testing.T) {
	servers := []*types.ServerRecord{
		activeServer("a", "us-east", "amd64", types.ResourceAmounts{CPUCores: 1, MemoryMB: 512, DiskGB: 10, BandwidthMbps: 100}),
	}
	req := Request{Requirements: types.WorkspaceRequirements{CPUCores: 8, MemoryMB: 8192, Architecture: "amd64"}}

	_, kind, err := filterAndChoose(servers, req)
	if err == nil {
		t.Fatal("expected error for unsatisfiable capacity")
	}
	if kind != errs.CapacityUnsatisfiable {
		t.Errorf("expected CapacityUnsatisfiable, got %s", kind)
	}
}

func TestFilterAndChoose_GPURequired(t *testing.T) {
	gpu := activeServer("gpu-1", "us-east", "amd64", types.ResourceAmounts{CPUCores: 8, MemoryMB: 8192, DiskGB: 100, BandwidthMbps: 1000})
	gpu.Topology.HasGPU = true
	gpu.Topology.GPUKind = "a100"
	plain := activeServer("plain-1", "us-east", "amd64", types.ResourceAmounts{CPUCores: 8, MemoryMB: 8192, DiskGB: 100, BandwidthMbps: 1000})

	req := Request{Requirements: types.WorkspaceRequirements{CPUCores: 1, MemoryMB: 512, Architecture: "amd64", RequiresGPU: true, GPUKind: "a100"}}

	id, _, err := filterAndChoose([]*types.ServerRecord{plain, gpu}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "gpu-1" {
		t.Errorf("expected gpu-1, got %s", id)
	}
}

func TestChooseBest_TieBreaksByActiveWorkspacesThenID(t *testing.T) {
	a := activeServer("zzz", "us-east", "amd64", types.ResourceAmounts{CPUCores: 8, MemoryMB: 8192, DiskGB: 100, BandwidthMbps: 1000})
	b := activeServer("aaa", "us-east", "amd64", types.ResourceAmounts{CPUCores: 8, MemoryMB: 8192, DiskGB: 100, BandwidthMbps: 1000})

	best := chooseBest([]*types.ServerRecord{a, b})
	if best.ID != "aaa" {
		t.Errorf("expected lexicographically smallest id 'aaa' on a tie, got %s", best.ID)
	}
}
