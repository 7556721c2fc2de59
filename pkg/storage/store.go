package storage

import (
	"github.com/cuemby/hostfix/pkg/types"
)

// Store defines the interface for hostfix state storage.
// BoltStore persists to disk; MemoryStore is the in-process fallback used
// when the database cannot be opened.
type Store interface {
	// Address records
	PutAddress(rec *types.AddressRecord) error
	GetAddress(ip string) (*types.AddressRecord, error)
	ListAddresses() ([]*types.AddressRecord, error)
	DeleteAddress(ip string) error

	// Blacklist
	PutBlacklist(entry *types.BlacklistEntry) error
	ListBlacklist() ([]*types.BlacklistEntry, error)
	DeleteBlacklist(ip string) error
	ClearBlacklist() error

	// Ledger (append-only, read back in insertion order)
	AppendFault(rec *types.FaultRecord) error
	ListFaults() ([]*types.FaultRecord, error)
	AppendRepair(rec *types.RepairRecord) error
	ListRepairs() ([]*types.RepairRecord, error)

	// Orchestrator checkpoint
	SaveCheckpoint(cp *types.Checkpoint) error
	GetCheckpoint() (*types.Checkpoint, error)

	// Utility
	Close() error
}
