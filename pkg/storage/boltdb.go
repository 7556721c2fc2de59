package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/hostfix/pkg/types"
	bolt "go.etcd.io/bbolt"
)

const (
	// DBFileName is the database file created inside the data directory
	DBFileName = "hostfix.db"

	checkpointKey = "checkpoint"
)

var (
	// Bucket names
	bucketAddresses = []byte("addresses")
	bucketBlacklist = []byte("blacklist")
	bucketFaults    = []byte("faults")
	bucketRepairs   = []byte("repairs")
	bucketState     = []byte("state")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	// A second hostfix process holding the lock must not hang this one
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketAddresses,
			bucketBlacklist,
			bucketFaults,
			bucketRepairs,
			bucketState,
		}

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

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Address operations
func (s *BoltStore) PutAddress(rec *types.AddressRecord) error {
	return s.put(bucketAddresses, rec.IP, rec)
}

func (s *BoltStore) GetAddress(ip string) (*types.AddressRecord, error) {
	var rec types.AddressRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAddresses).Get([]byte(ip))
		if data == nil {
			return fmt.Errorf("address %s: %w", ip, types.ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) ListAddresses() ([]*types.AddressRecord, error) {
	var records []*types.AddressRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).ForEach(func(k, v []byte) error {
			var rec types.AddressRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteAddress(ip string) error {
	return s.delete(bucketAddresses, ip)
}

// Blacklist operations
func (s *BoltStore) PutBlacklist(entry *types.BlacklistEntry) error {
	return s.put(bucketBlacklist, entry.IP, entry)
}

func (s *BoltStore) ListBlacklist() ([]*types.BlacklistEntry, error) {
	var entries []*types.BlacklistEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlacklist).ForEach(func(k, v []byte) error {
			var entry types.BlacklistEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) DeleteBlacklist(ip string) error {
	return s.delete(bucketBlacklist, ip)
}

func (s *BoltStore) ClearBlacklist() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketBlacklist); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketBlacklist)
		return err
	})
}

// --- Ledger Operations ---

// AppendFault appends a fault record keyed by the bucket sequence
func (s *BoltStore) AppendFault(rec *types.FaultRecord) error {
	return s.append(bucketFaults, rec)
}

// ListFaults returns every fault record in insertion order
func (s *BoltStore) ListFaults() ([]*types.FaultRecord, error) {
	var records []*types.FaultRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFaults).ForEach(func(k, v []byte) error {
			var rec types.FaultRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

// AppendRepair appends a repair record keyed by the bucket sequence
func (s *BoltStore) AppendRepair(rec *types.RepairRecord) error {
	return s.append(bucketRepairs, rec)
}

// ListRepairs returns every repair record in insertion order
func (s *BoltStore) ListRepairs() ([]*types.RepairRecord, error) {
	var records []*types.RepairRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepairs).ForEach(func(k, v []byte) error {
			var rec types.RepairRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

// Checkpoint operations
func (s *BoltStore) SaveCheckpoint(cp *types.Checkpoint) error {
	return s.put(bucketState, checkpointKey, cp)
}

func (s *BoltStore) GetCheckpoint() (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get([]byte(checkpointKey))
		if data == nil {
			return fmt.Errorf("checkpoint: %w", types.ErrNotFound)
		}
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (s *BoltStore) append(bucket []byte, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// itob encodes a sequence big-endian so ForEach walks in insertion order
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
