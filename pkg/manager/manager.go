// Package manager implements the Raft-backed control-plane replica: the
// Fleet Registry (C1) reservation arithmetic, the Distributed Coordination
// lease primitive (C8), and the cluster-membership plumbing (bootstrap,
// join, voter management) that keeps every replica's Server Records and
// leases consistent.
package manager

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/security"
	"github.com/cuemby/fleetd/pkg/storage"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager is a single control-plane replica.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft           *raft.Raft
	fsm            *FleetFSM
	store          storage.Store
	tokenManager   *TokenManager
	secretsManager *security.SecretsManager
	ca             *security.CertAuthority
	eventBroker    *events.Broker

	// serverLocks scopes per-server reservation arithmetic: every Reserve/
	// Release acquires the lock for its server_id before read-modify-write,
	// per the workspace_id -> server_id -> named_lease ordering discipline.
	serverLocksMu sync.Mutex
	serverLocks   map[string]*sync.Mutex
}

// Config holds configuration for creating a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewFleetFSM(store)
	tokenManager := NewTokenManager()

	clusterKey := security.DeriveKeyFromClusterID(cfg.NodeID)
	secretsManager, err := security.NewSecretsManager(clusterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		return nil, fmt.Errorf("failed to set cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(store)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:         cfg.NodeID,
		bindAddr:       cfg.BindAddr,
		dataDir:        cfg.DataDir,
		fsm:            fsm,
		store:          store,
		secretsManager: secretsManager,
		ca:             ca,
		tokenManager:   tokenManager,
		eventBroker:    eventBroker,
		serverLocks:    make(map[string]*sync.Mutex),
	}

	return m, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Edge/LAN-tuned timeouts: the default WAN-safe values give failover
	// times well past SPEC_FULL.md's expectation that a replica failure is
	// invisible to in-flight placement/heartbeat work within a few seconds.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	return config
}

func (m *Manager) newRaft(config *raft.Config) (*raft.Raft, *raft.TCPTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStorePath := filepath.Join(m.dataDir, "raft-log.db")
	logStore, err := raftboltdb.NewBoltStore(logStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStorePath := filepath.Join(m.dataDir, "raft-stable.db")
	stableStore, err := raftboltdb.NewBoltStore(stableStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a new single-replica control-plane cluster.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft(m.raftConfig())
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: transport.LocalAddr()},
		},
	}
	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	if err := m.initializeCA(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}

	return nil
}

// joinRequest is the internal endpoint payload a joining replica POSTs to
// the current leader (§6 internal endpoints).
type joinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
	Token    string `json:"token"`
}

// Join adds this replica to an existing control-plane cluster. The leader's
// Raft snapshot/log replication (via FleetFSM.Restore) populates this
// replica's store once the voter add completes, so no separate state
// transfer is required.
func (m *Manager) Join(leaderAddr string, token string) error {
	r, _, err := m.newRaft(m.raftConfig())
	if err != nil {
		return err
	}
	m.raft = r

	body, err := json.Marshal(joinRequest{NodeID: m.nodeID, RaftAddr: m.bindAddr, Token: token})
	if err != nil {
		return fmt.Errorf("failed to build join request: %w", err)
	}

	resp, err := http.Post("https://"+leaderAddr+"/internal/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to contact leader at %s: %w", leaderAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leader rejected join request: status %d", resp.StatusCode)
	}

	log.Logger.Info().Str("leader", leaderAddr).Str("node_id", m.nodeID).Msg("joined control-plane cluster")
	return nil
}

// AddVoter adds a new control-plane replica to the Raft cluster.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a replica from the Raft cluster.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns the replicas in the Raft configuration.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this replica is the Raft leader.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns Raft statistics for the public API's cluster-info
// surface.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}

	if configFuture := m.raft.GetConfiguration(); configFuture.Error() == nil {
		stats["peers"] = uint64(len(configFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// GetEventBroker returns the event broker.
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers.
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command to the Raft log and waits for it to commit.
func (m *Manager) Apply(cmd Command) (interface{}, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}
	return resp, nil
}

// lockFor returns the per-server mutex used to serialize reservation
// arithmetic against a given server_id.
func (m *Manager) lockFor(serverID string) *sync.Mutex {
	m.serverLocksMu.Lock()
	defer m.serverLocksMu.Unlock()
	l, ok := m.serverLocks[serverID]
	if !ok {
		l = &sync.Mutex{}
		m.serverLocks[serverID] = l
	}
	return l
}

// RegisterServer adds a new Server Record to the Fleet Registry.
func (m *Manager) RegisterServer(server *types.ServerRecord) error {
	data, err := json.Marshal(server)
	if err != nil {
		return err
	}
	_, err = m.Apply(Command{Op: "create_server", Data: data})
	if err == nil {
		metrics.ServersTotal.WithLabelValues(string(server.Status)).Inc()
	}
	return err
}

// UpdateServerRecord replaces a Server Record in place (status changes,
// reservation changes, heartbeat bookkeeping).
func (m *Manager) UpdateServerRecord(server *types.ServerRecord) error {
	data, err := json.Marshal(server)
	if err != nil {
		return err
	}
	_, err = m.Apply(Command{Op: "update_server", Data: data})
	return err
}

// DeregisterServer removes a Server Record from the Fleet Registry.
func (m *Manager) DeregisterServer(serverID string) error {
	data, err := json.Marshal(serverID)
	if err != nil {
		return err
	}
	_, err = m.Apply(Command{Op: "delete_server", Data: data})
	return err
}

// GetServer reads a single Server Record. Reads are served locally rather
// than through Raft, mirroring the teacher's read path — only mutations
// need linearizability here.
func (m *Manager) GetServer(id string) (*types.ServerRecord, error) {
	return m.store.GetServer(id)
}

// ListServers lists every Server Record.
func (m *Manager) ListServers() ([]*types.ServerRecord, error) {
	return m.store.ListServers()
}

// WithServerLock runs fn while holding the named server's reservation lock,
// for callers (Placement Engine, Workspace Lifecycle Manager) doing a
// read-modify-write of Reserved against Capacity.
func (m *Manager) WithServerLock(serverID string, fn func() error) error {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// AcquireLease attempts to acquire the named distributed lease for holder,
// replicated through the Raft log so every control-plane replica agrees on
// who holds it (C8).
func (m *Manager) AcquireLease(name, holder string, ttl time.Duration) (*types.LeaseRecord, bool, error) {
	data, err := json.Marshal(AcquireLeaseCommand{Name: name, Holder: holder, TTL: ttl, Now: time.Now()})
	if err != nil {
		return nil, false, err
	}
	resp, err := m.Apply(Command{Op: "acquire_lease", Data: data})
	if err != nil {
		return nil, false, err
	}
	result, ok := resp.(AcquireLeaseResult)
	if !ok {
		return nil, false, fmt.Errorf("unexpected acquire_lease response type")
	}
	if result.Acquired {
		metrics.LeasesHeldTotal.Inc()
	}
	return result.Lease, result.Acquired, nil
}

// ReleaseLease releases the named lease if holder currently owns it.
func (m *Manager) ReleaseLease(name, holder string) error {
	data, err := json.Marshal(ReleaseLeaseCommand{Name: name, Holder: holder})
	if err != nil {
		return err
	}
	_, err = m.Apply(Command{Op: "release_lease", Data: data})
	if err == nil {
		metrics.LeasesHeldTotal.Dec()
	}
	return err
}

// GetLease reads the current state of a named lease.
func (m *Manager) GetLease(name string) (*types.LeaseRecord, error) {
	return m.store.GetLease(name)
}

// GenerateJoinToken issues a join token for a new control-plane replica.
func (m *Manager) GenerateJoinToken() (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("not the leader, tokens can only be generated by the leader")
	}
	return m.tokenManager.GenerateToken("replica", 24*time.Hour)
}

// ValidateJoinToken validates a join token.
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// Shutdown gracefully shuts down the manager.
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}

// initializeCA initializes the Certificate Authority for a new cluster.
func (m *Manager) initializeCA() error {
	if m.ca.IsInitialized() {
		return nil
	}

	if err := m.ca.LoadFromStore(); err == nil {
		return nil
	}

	if err := m.ca.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}
	if err := m.ca.SaveToStore(); err != nil {
		return fmt.Errorf("failed to save CA: %w", err)
	}

	return nil
}

// IssueCertificate issues an mTLS node certificate for serverID, used for
// manager<->worker-host and manager<->bridge channels.
func (m *Manager) IssueCertificate(serverID, role string) (*tls.Certificate, error) {
	return m.ca.IssueNodeCertificate(serverID, role, []string{serverID}, nil)
}

// GetCACertPEM returns the root CA certificate in PEM form.
func (m *Manager) GetCACertPEM() []byte {
	return m.ca.GetRootCACert()
}

// NodeID returns this replica's node ID.
func (m *Manager) NodeID() string {
	return m.nodeID
}
