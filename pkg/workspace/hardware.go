package workspace

import (
	"fmt"

	"github.com/cuemby/fleetd/pkg/types"
)

// HardwareCatalogue resolves a tier name to its resource requirements. The
// real catalogue is externally owned and cached at the control-plane edge;
// this package only needs read access to it.
type HardwareCatalogue interface {
	Resolve(tier string) (types.HardwareSpec, error)
}

// StaticCatalogue is an in-memory HardwareCatalogue seeded with a fixed set
// of tiers, suitable for tests and for deployments that haven't wired an
// external catalogue source yet.
type StaticCatalogue struct {
	specs map[string]types.HardwareSpec
}

// NewStaticCatalogue builds a catalogue from the given tier rows.
func NewStaticCatalogue(specs []types.HardwareSpec) *StaticCatalogue {
	c := &StaticCatalogue{specs: make(map[string]types.HardwareSpec, len(specs))}
	for _, s := range specs {
		c.specs[s.Tier] = s
	}
	return c
}

// DefaultCatalogue returns the built-in tier table used when no external
// catalogue is configured.
func DefaultCatalogue() *StaticCatalogue {
	return NewStaticCatalogue([]types.HardwareSpec{
		{Tier: "small", CPU: 1, MemoryMB: 2048, DiskGB: 20, BandwidthMbps: 100, Architecture: "amd64"},
		{Tier: "medium", CPU: 2, MemoryMB: 4096, DiskGB: 50, BandwidthMbps: 250, Architecture: "amd64"},
		{Tier: "large", CPU: 4, MemoryMB: 8192, DiskGB: 100, BandwidthMbps: 500, Architecture: "amd64"},
		{Tier: "gpu-small", CPU: 4, MemoryMB: 16384, DiskGB: 100, BandwidthMbps: 1000, Architecture: "amd64", IsGPU: true, GPUKind: "a100"},
	})
}

func (c *StaticCatalogue) Resolve(tier string) (types.HardwareSpec, error) {
	spec, ok := c.specs[tier]
	if !ok {
		return types.HardwareSpec{}, fmt.Errorf("unknown hardware tier %q", tier)
	}
	return spec, nil
}

func requirementsFromSpec(spec types.HardwareSpec) types.WorkspaceRequirements {
	return types.WorkspaceRequirements{
		CPUCores:      spec.CPU,
		MemoryMB:      spec.MemoryMB,
		DiskGB:        spec.DiskGB,
		BandwidthMbps: spec.BandwidthMbps,
		Architecture:  spec.Architecture,
		RequiresGPU:   spec.IsGPU,
		GPUKind:       spec.GPUKind,
	}
}
