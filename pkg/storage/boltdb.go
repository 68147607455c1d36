package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/fleetd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketServers = []byte("servers")
	bucketLeases  = []byte("leases")
	bucketCA      = []byte("ca")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store rooted at dataDir/fleetd.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketServers, bucketLeases, bucketCA}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Server operations

func (s *BoltStore) CreateServer(server *types.ServerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		data, err := json.Marshal(server)
		if err != nil {
			return err
		}
		return b.Put([]byte(server.ID), data)
	})
}

func (s *BoltStore) GetServer(id string) (*types.ServerRecord, error) {
	var server types.ServerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("server not found: %s", id)
		}
		return json.Unmarshal(data, &server)
	})
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) GetServerByHostname(hostname string) (*types.ServerRecord, error) {
	var found *types.ServerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.ForEach(func(k, v []byte) error {
			var server types.ServerRecord
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			if server.Hostname == hostname {
				found = &server
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("server not found: %s", hostname)
	}
	return found, nil
}

func (s *BoltStore) ListServers() ([]*types.ServerRecord, error) {
	var servers []*types.ServerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.ForEach(func(k, v []byte) error {
			var server types.ServerRecord
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	return servers, err
}

func (s *BoltStore) UpdateServer(server *types.ServerRecord) error {
	return s.CreateServer(server) // upsert
}

func (s *BoltStore) DeleteServer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.Delete([]byte(id))
	})
}

// Lease operations

func (s *BoltStore) GetLease(name string) (*types.LeaseRecord, error) {
	var lease types.LeaseRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("lease not found: %s", name)
		}
		return json.Unmarshal(data, &lease)
	})
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (s *BoltStore) PutLease(lease *types.LeaseRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		data, err := json.Marshal(lease)
		if err != nil {
			return err
		}
		return b.Put([]byte(lease.Name), data)
	})
}

func (s *BoltStore) DeleteLease(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		return b.Delete([]byte(name))
	})
}

func (s *BoltStore) ListLeases() ([]*types.LeaseRecord, error) {
	var leases []*types.LeaseRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		return b.ForEach(func(k, v []byte) error {
			var lease types.LeaseRecord
			if err := json.Unmarshal(v, &lease); err != nil {
				return err
			}
			leases = append(leases, &lease)
			return nil
		})
	})
	return leases, err
}

// Certificate Authority operations

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}
