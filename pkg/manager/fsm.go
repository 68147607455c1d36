package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/fleetd/pkg/storage"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/hashicorp/raft"
)

// FleetFSM implements the Raft finite state machine backing the Fleet
// Registry (C1) and the Distributed Coordination lease primitive (C8). Every
// mutation to a Server Record or a named lease goes through Apply so all
// control-plane replicas converge on the same state.
type FleetFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFleetFSM creates a new FSM instance.
func NewFleetFSM(store storage.Store) *FleetFSM {
	return &FleetFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// AcquireLeaseCommand is the payload for the "acquire_lease" op.
type AcquireLeaseCommand struct {
	Name   string        `json:"name"`
	Holder string        `json:"holder"`
	TTL    time.Duration `json:"ttl"`
	Now    time.Time     `json:"now"`
}

// ReleaseLeaseCommand is the payload for the "release_lease" op.
type ReleaseLeaseCommand struct {
	Name   string `json:"name"`
	Holder string `json:"holder"`
}

// AcquireLeaseResult is returned through raft.ApplyFuture.Response() for an
// "acquire_lease" command.
type AcquireLeaseResult struct {
	Acquired bool
	Lease    *types.LeaseRecord
}

// Apply applies a Raft log entry to the FSM. Called by Raft when a log entry
// is committed.
func (f *FleetFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_server":
		var server types.ServerRecord
		if err := json.Unmarshal(cmd.Data, &server); err != nil {
			return err
		}
		return f.store.CreateServer(&server)

	case "update_server":
		var server types.ServerRecord
		if err := json.Unmarshal(cmd.Data, &server); err != nil {
			return err
		}
		return f.store.UpdateServer(&server)

	case "delete_server":
		var serverID string
		if err := json.Unmarshal(cmd.Data, &serverID); err != nil {
			return err
		}
		return f.store.DeleteServer(serverID)

	case "acquire_lease":
		var acq AcquireLeaseCommand
		if err := json.Unmarshal(cmd.Data, &acq); err != nil {
			return err
		}
		return f.applyAcquireLease(acq)

	case "release_lease":
		var rel ReleaseLeaseCommand
		if err := json.Unmarshal(cmd.Data, &rel); err != nil {
			return err
		}
		return f.applyReleaseLease(rel)

	case "save_ca":
		var data []byte
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		return f.store.SaveCA(data)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// applyAcquireLease grants the lease to Holder unless it is currently held by
// someone else and not yet expired. Re-acquiring (or renewing) your own
// held lease is always allowed and refreshes its expiry.
func (f *FleetFSM) applyAcquireLease(cmd AcquireLeaseCommand) AcquireLeaseResult {
	existing, err := f.store.GetLease(cmd.Name)
	if err == nil && existing.Holder != "" && existing.Holder != cmd.Holder && cmd.Now.Before(existing.ExpiresAt) {
		return AcquireLeaseResult{Acquired: false, Lease: existing}
	}

	lease := &types.LeaseRecord{
		Name:      cmd.Name,
		Holder:    cmd.Holder,
		ExpiresAt: cmd.Now.Add(cmd.TTL),
	}
	if putErr := f.store.PutLease(lease); putErr != nil {
		return AcquireLeaseResult{Acquired: false}
	}
	return AcquireLeaseResult{Acquired: true, Lease: lease}
}

// applyReleaseLease releases the lease only if the caller is the current
// holder, so a holder that lost its lease to expiry can't clobber the next
// holder's lease by releasing late.
func (f *FleetFSM) applyReleaseLease(cmd ReleaseLeaseCommand) error {
	existing, err := f.store.GetLease(cmd.Name)
	if err != nil {
		return nil // already gone
	}
	if existing.Holder != cmd.Holder {
		return fmt.Errorf("lease %s is held by %s, not %s", cmd.Name, existing.Holder, cmd.Holder)
	}
	return f.store.DeleteLease(cmd.Name)
}

// Snapshot creates a point-in-time snapshot of the FSM. Called periodically
// by Raft to compact the log.
func (f *FleetFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	servers, err := f.store.ListServers()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %v", err)
	}

	leases, err := f.store.ListLeases()
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %v", err)
	}

	ca, err := f.store.GetCA()
	if err != nil {
		ca = nil // CA not yet provisioned is not a snapshot failure
	}

	snapshot := &FleetSnapshot{
		Servers: servers,
		Leases:  leases,
		CA:      ca,
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot. Called when a replica restarts
// or joins the cluster.
func (f *FleetFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot FleetSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, server := range snapshot.Servers {
		if err := f.store.CreateServer(server); err != nil {
			return fmt.Errorf("failed to restore server: %v", err)
		}
	}

	for _, lease := range snapshot.Leases {
		if err := f.store.PutLease(lease); err != nil {
			return fmt.Errorf("failed to restore lease: %v", err)
		}
	}

	if len(snapshot.CA) > 0 {
		if err := f.store.SaveCA(snapshot.CA); err != nil {
			return fmt.Errorf("failed to restore CA: %v", err)
		}
	}

	return nil
}

// FleetSnapshot represents a point-in-time snapshot of control-plane state.
type FleetSnapshot struct {
	Servers []*types.ServerRecord
	Leases  []*types.LeaseRecord
	CA      []byte
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *FleetSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources.
func (s *FleetSnapshot) Release() {}
