package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/hostfix/pkg/types"
)

// MemoryStore implements Store in process memory. It is the fallback when
// the database file cannot be opened; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	addresses  map[string]types.AddressRecord
	blacklist  map[string]types.BlacklistEntry
	faults     []types.FaultRecord
	repairs    []types.RepairRecord
	checkpoint *types.Checkpoint
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		addresses: make(map[string]types.AddressRecord),
		blacklist: make(map[string]types.BlacklistEntry),
	}
}

func (s *MemoryStore) PutAddress(rec *types.AddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[rec.IP] = *rec.Clone()
	return nil
}

func (s *MemoryStore) GetAddress(ip string) (*types.AddressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.addresses[ip]
	if !ok {
		return nil, fmt.Errorf("address %s: %w", ip, types.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) ListAddresses() ([]*types.AddressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*types.AddressRecord, 0, len(s.addresses))
	for _, rec := range s.addresses {
		records = append(records, rec.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].IP < records[j].IP })
	return records, nil
}

func (s *MemoryStore) DeleteAddress(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.addresses, ip)
	return nil
}

func (s *MemoryStore) PutBlacklist(entry *types.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[entry.IP] = *entry
	return nil
}

func (s *MemoryStore) ListBlacklist() ([]*types.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*types.BlacklistEntry, 0, len(s.blacklist))
	for _, e := range s.blacklist {
		e := e
		entries = append(entries, &e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].IP < entries[j].IP })
	return entries, nil
}

func (s *MemoryStore) DeleteBlacklist(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, ip)
	return nil
}

func (s *MemoryStore) ClearBlacklist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist = make(map[string]types.BlacklistEntry)
	return nil
}

func (s *MemoryStore) AppendFault(rec *types.FaultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, *rec)
	return nil
}

func (s *MemoryStore) ListFaults() ([]*types.FaultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.FaultRecord, len(s.faults))
	for i := range s.faults {
		rec := s.faults[i]
		out[i] = &rec
	}
	return out, nil
}

func (s *MemoryStore) AppendRepair(rec *types.RepairRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs = append(s.repairs, *rec)
	return nil
}

func (s *MemoryStore) ListRepairs() ([]*types.RepairRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.RepairRecord, len(s.repairs))
	for i := range s.repairs {
		rec := s.repairs[i]
		out[i] = &rec
	}
	return out, nil
}

func (s *MemoryStore) SaveCheckpoint(cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoint = &c
	return nil
}

func (s *MemoryStore) GetCheckpoint() (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return nil, fmt.Errorf("checkpoint: %w", types.ErrNotFound)
	}
	c := *s.checkpoint
	return &c, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
