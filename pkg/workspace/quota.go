package workspace

import "github.com/cuemby/fleetd/pkg/log"

// QuotaApplier enforces a per-workspace disk quota on the host filesystem.
// The actual mechanism (xfs project quotas, a zfs dataset refquota, or
// equivalent) is host-specific and deliberately kept out of this package;
// Apply is re-invoked on every create and every scale so the quota always
// matches current requirements.
type QuotaApplier interface {
	Apply(path string, diskGB int64) error
}

// logOnlyQuota is the fallback QuotaApplier: it records the intended quota
// without enforcing it. No library in the retrieved corpus wraps xfs_quota
// or zfs project quotas, so a real enforcer has to shell out on the target
// host; that belongs to the host-agent deployment, not this package.
type logOnlyQuota struct{}

func (logOnlyQuota) Apply(path string, diskGB int64) error {
	log.WithComponent("workspace").Debug().
		Str("path", path).
		Int64("disk_gb", diskGB).
		Msg("quota enforcement not wired on this host, recording intent only")
	return nil
}
