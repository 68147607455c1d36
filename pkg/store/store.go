// Package store implements the Workspace Store (C9): a durable, crash-consistent
// index of Workspace Records keyed by workspace id, plus secondary indexes by
// user, session, status, and server that can always be rebuilt from the
// primary record set.
package store

import (
	"github.com/cuemby/fleetd/pkg/types"
)

// WorkspaceStore is the persistent index of Workspace Records.
type WorkspaceStore interface {
	Get(id string) (*types.WorkspaceRecord, error)
	// Save is an idempotent upsert. Implementations MUST update every
	// secondary index transactionally with the primary write.
	Save(record *types.WorkspaceRecord) error
	Delete(id string) error
	ListAll() ([]*types.WorkspaceRecord, error)
	ListRunning() ([]*types.WorkspaceRecord, error)
	ListByUser(userID string) ([]*types.WorkspaceRecord, error)
	ListBySession(sessionID string) ([]*types.WorkspaceRecord, error)
	ListByServer(serverID string) ([]*types.WorkspaceRecord, error)
	// RebuildIndexes reconstructs all secondary indexes from the primary
	// record set; callers use it after detecting index/primary divergence.
	RebuildIndexes() error
	Close() error
}
