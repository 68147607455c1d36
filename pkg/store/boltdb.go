package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/fleetd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkspaces = []byte("ws")
	bucketByUser     = []byte("ws_by_user")
	bucketBySession  = []byte("ws_by_session")
	bucketByServer   = []byte("ws_by_server")
	bucketByStatus   = []byte("ws_by_status")
)

const keySep = "\x00"

// BoltWorkspaceStore implements WorkspaceStore using BoltDB. Every Save/Delete
// mutates the primary bucket and all four secondary-index buckets inside a
// single transaction, so a crash never leaves an index pointing at a record
// that no longer exists (or missing one that does).
type BoltWorkspaceStore struct {
	db *bolt.DB
}

// NewBoltWorkspaceStore opens (creating if absent) the workspace store
// database under dataDir.
func NewBoltWorkspaceStore(dataDir string) (*BoltWorkspaceStore, error) {
	dbPath := filepath.Join(dataDir, "workspaces.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWorkspaces, bucketByUser, bucketBySession, bucketByServer, bucketByStatus} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltWorkspaceStore{db: db}, nil
}

func (s *BoltWorkspaceStore) Close() error {
	return s.db.Close()
}

func indexKey(value, id string) []byte {
	return []byte(value + keySep + id)
}

// removeIndexEntries drops id's entries from every secondary index, looked up
// via the previously-stored record (if any), so a Save that changes a
// workspace's user/session/server/status doesn't leave stale index rows.
func removeIndexEntries(tx *bolt.Tx, prev *types.WorkspaceRecord) error {
	if prev == nil {
		return nil
	}
	if err := tx.Bucket(bucketByUser).Delete(indexKey(prev.Owner.UserID, prev.ID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketBySession).Delete(indexKey(prev.Owner.SessionID, prev.ID)); err != nil {
		return err
	}
	if prev.Assigned.ServerID != "" {
		if err := tx.Bucket(bucketByServer).Delete(indexKey(prev.Assigned.ServerID, prev.ID)); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketByStatus).Delete(indexKey(string(prev.Status), prev.ID))
}

func addIndexEntries(tx *bolt.Tx, rec *types.WorkspaceRecord) error {
	if err := tx.Bucket(bucketByUser).Put(indexKey(rec.Owner.UserID, rec.ID), nil); err != nil {
		return err
	}
	if err := tx.Bucket(bucketBySession).Put(indexKey(rec.Owner.SessionID, rec.ID), nil); err != nil {
		return err
	}
	if rec.Assigned.ServerID != "" {
		if err := tx.Bucket(bucketByServer).Put(indexKey(rec.Assigned.ServerID, rec.ID), nil); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketByStatus).Put(indexKey(string(rec.Status), rec.ID), nil)
}

func getPrimary(tx *bolt.Tx, id string) (*types.WorkspaceRecord, error) {
	data := tx.Bucket(bucketWorkspaces).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var rec types.WorkspaceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltWorkspaceStore) Get(id string) (*types.WorkspaceRecord, error) {
	var rec *types.WorkspaceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		r, err := getPrimary(tx, id)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("workspace not found: %s", id)
	}
	return rec, nil
}

// Save is an idempotent upsert; durable before returning per §4.9.
func (s *BoltWorkspaceStore) Save(record *types.WorkspaceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		prev, err := getPrimary(tx, record.ID)
		if err != nil {
			return err
		}
		if err := removeIndexEntries(tx, prev); err != nil {
			return err
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketWorkspaces).Put([]byte(record.ID), data); err != nil {
			return err
		}
		return addIndexEntries(tx, record)
	})
}

func (s *BoltWorkspaceStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		prev, err := getPrimary(tx, id)
		if err != nil {
			return err
		}
		if err := removeIndexEntries(tx, prev); err != nil {
			return err
		}
		return tx.Bucket(bucketWorkspaces).Delete([]byte(id))
	})
}

func (s *BoltWorkspaceStore) ListAll() ([]*types.WorkspaceRecord, error) {
	var out []*types.WorkspaceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).ForEach(func(k, v []byte) error {
			var rec types.WorkspaceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	return out, err
}

func (s *BoltWorkspaceStore) ListRunning() ([]*types.WorkspaceRecord, error) {
	return s.listByIndex(bucketByStatus, string(types.WorkspaceRunning))
}

func (s *BoltWorkspaceStore) ListByUser(userID string) ([]*types.WorkspaceRecord, error) {
	return s.listByIndex(bucketByUser, userID)
}

func (s *BoltWorkspaceStore) ListBySession(sessionID string) ([]*types.WorkspaceRecord, error) {
	return s.listByIndex(bucketBySession, sessionID)
}

func (s *BoltWorkspaceStore) ListByServer(serverID string) ([]*types.WorkspaceRecord, error) {
	return s.listByIndex(bucketByServer, serverID)
}

// listByIndex walks the composite-key "<value>\x00<id>" range for value,
// then fetches each referenced record from the primary bucket.
func (s *BoltWorkspaceStore) listByIndex(bucket []byte, value string) ([]*types.WorkspaceRecord, error) {
	var out []*types.WorkspaceRecord
	prefix := []byte(value + keySep)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		wb := tx.Bucket(bucketWorkspaces)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			id := string(k[len(prefix):])
			data := wb.Get([]byte(id))
			if data == nil {
				// Index refers to a record no longer present; skip rather
				// than fail the whole listing, the caller can RebuildIndexes.
				continue
			}
			var rec types.WorkspaceRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// RebuildIndexes drops and regenerates every secondary index from the
// primary record set, satisfying §4.9's "no secondary index may go stale
// across a crash; callers must be able to rebuild indexes from the primary
// record set."
func (s *BoltWorkspaceStore) RebuildIndexes() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketByUser, bucketBySession, bucketByServer, bucketByStatus} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketWorkspaces).ForEach(func(k, v []byte) error {
			var rec types.WorkspaceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			return addIndexEntries(tx, &rec)
		})
	})
}
