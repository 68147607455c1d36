package storage

import (
	"github.com/cuemby/fleetd/pkg/types"
)

// Store defines the interface for fleet control-plane state storage: the
// Fleet Registry's Server Records, the Distributed Coordination lease
// records, and the mTLS Certificate Authority material. It is implemented by
// BoltDB-backed storage and applied exclusively through the Raft FSM so
// every replica's copy stays consistent.
type Store interface {
	// Servers
	CreateServer(server *types.ServerRecord) error
	GetServer(id string) (*types.ServerRecord, error)
	GetServerByHostname(hostname string) (*types.ServerRecord, error)
	ListServers() ([]*types.ServerRecord, error)
	UpdateServer(server *types.ServerRecord) error
	DeleteServer(id string) error

	// Leases
	GetLease(name string) (*types.LeaseRecord, error)
	PutLease(lease *types.LeaseRecord) error
	DeleteLease(name string) error
	ListLeases() ([]*types.LeaseRecord, error)

	// Certificate Authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Utility
	Close() error
}
