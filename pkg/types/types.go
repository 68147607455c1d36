package types

import "time"

// ServerRecord is a registered worker host in the fleet.
type ServerRecord struct {
	ID                           string
	Hostname                     string
	Address                      string
	ManagementPort               int
	Status                       ServerStatus
	Capacity                     ResourceAmounts
	Reserved                     ResourceAmounts
	Topology                     ServerTopology
	ImageByVariant               map[string]string // e.g. "amd64" / "arm64" / "gpu" -> image ref
	LastHeartbeatTS              time.Time
	ConsecutiveHeartbeatFailures int
	ActiveWorkspaces             int
	CreatedAt                    time.Time
	UpdatedAt                    time.Time
}

// ServerStatus is the lifecycle status of a registered host.
type ServerStatus string

const (
	ServerActive      ServerStatus = "ACTIVE"
	ServerDraining    ServerStatus = "DRAINING"
	ServerMaintenance ServerStatus = "MAINTENANCE"
	ServerOffline     ServerStatus = "OFFLINE"
	ServerError       ServerStatus = "ERROR"
)

// ResourceAmounts is the four-dimensional resource vector the spec reasons about.
type ResourceAmounts struct {
	CPUCores      float64
	MemoryMB      int64
	DiskGB        int64
	BandwidthMbps int64
}

// ServerTopology is the immutable-at-registration shape of a host.
type ServerTopology struct {
	Architecture string // "amd64" | "arm64"
	Region       string
	Labels       map[string]string
	HasGPU       bool
	GPUKind      string
	GPUCount     int
}

// WorkspaceRequirements are the resolved resource requirements for a workspace.
type WorkspaceRequirements struct {
	CPUCores      float64
	MemoryMB      int64
	DiskGB        int64
	BandwidthMbps int64
	Architecture  string
	RequiresGPU   bool
	GPUKind       string
}

// Amounts projects requirements onto the ResourceAmounts vector they consume.
func (r WorkspaceRequirements) Amounts() ResourceAmounts {
	return ResourceAmounts{
		CPUCores:      r.CPUCores,
		MemoryMB:      r.MemoryMB,
		DiskGB:        r.DiskGB,
		BandwidthMbps: r.BandwidthMbps,
	}
}

// WorkspaceStatus is the workspace lifecycle state machine's states.
type WorkspaceStatus string

const (
	WorkspaceCreating WorkspaceStatus = "CREATING"
	WorkspaceRunning  WorkspaceStatus = "RUNNING"
	WorkspaceStopped  WorkspaceStatus = "STOPPED"
	WorkspaceError    WorkspaceStatus = "ERROR"
	WorkspaceDeleting WorkspaceStatus = "DELETING"
)

// WorkspaceAssignment records where a workspace landed after placement.
type WorkspaceAssignment struct {
	ServerID    string
	ContainerID string
	HostAddress string
}

// WorkspaceOwner identifies the caller that owns a workspace; the core never
// interprets these fields beyond using them as index keys.
type WorkspaceOwner struct {
	UserID    string
	SessionID string
}

// WorkspaceRecord is the durable record of a single workspace.
type WorkspaceRecord struct {
	ID               string
	Owner            WorkspaceOwner
	Tier             string
	Requirements     WorkspaceRequirements
	Assigned         WorkspaceAssignment
	Status           WorkspaceStatus
	RegionPreference string
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reserved metadata keys the core itself reads and writes. Collaborators may
// add others; the core ignores keys it does not recognise.
const (
	MetaLastMeteringTS    = "last_metering_ts"
	MetaStaleDiscovery    = "stale_discovery"
	MetaClaudeSessionID   = "claude_session_id"
	MetaClaudeProjectPath = "claude_project_path"
	MetaRestorePartial    = "restore_partial"
)

// HealthState is the five-state Server Health Sample classification.
type HealthState string

const (
	HealthHealthy     HealthState = "HEALTHY"
	HealthDegraded    HealthState = "DEGRADED"
	HealthUnhealthy   HealthState = "UNHEALTHY"
	HealthUnreachable HealthState = "UNREACHABLE"
	HealthUnknown     HealthState = "UNKNOWN"
)

// ServerHealthSample is the derived health view of one server.
type ServerHealthSample struct {
	ServerID            string
	Status              HealthState
	LastSuccessTS       time.Time
	ConsecutiveFailures int
	LastError           string
	Metrics             HeartbeatMetrics
}

// HeartbeatMetrics is what a successful heartbeat scrape returns.
type HeartbeatMetrics struct {
	UsedCPU           float64
	UsedMemoryMB      int64
	UsedDiskGB        int64
	ActiveWorkspaces  int
	BandwidthUsedMbps int64
}

// WatchedConversation is subscription intent mirrored into a Workspace
// Record's metadata so a laptop bridge can recover subscribers after restart.
type WatchedConversation struct {
	ConversationID      string `json:"conversation_id"`
	ProjectPath         string `json:"project_path"`
	SubscriberSessionID string `json:"subscriber_session_id"`
	SubscriberAgentID   string `json:"subscriber_agent_id"`
	LastSyncedEntryID   string `json:"last_synced_entry_id"`
}

// LocalPodStatus reflects bridge connection state, not placement.
type LocalPodStatus string

const (
	LocalPodOnline  LocalPodStatus = "online"
	LocalPodOffline LocalPodStatus = "offline"
)

// LocalPod is an end-user laptop bridged to the control plane.
type LocalPod struct {
	ID     string
	UserID string
	Status LocalPodStatus
}

// HardwareSpec is one row of the externally-owned Hardware Spec Catalogue.
type HardwareSpec struct {
	Tier          string
	CPU           float64
	MemoryMB      int64
	DiskGB        int64
	BandwidthMbps int64
	Architecture  string
	IsGPU         bool
	GPUKind       string
}

// LeaseRecord is a named, TTL-bounded mutual-exclusion token replicated
// through the control plane's Raft log.
type LeaseRecord struct {
	Name      string
	Holder    string
	ExpiresAt time.Time
}

// Event is a control-plane event surfaced on the internal event channel
// (fleet status changes, workspace lifecycle transitions, conversation sync).
type Event struct {
	Type        string
	Timestamp   time.Time
	ServerID    string
	WorkspaceID string
	Message     string
	Data        map[string]string
}
