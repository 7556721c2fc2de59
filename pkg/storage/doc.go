/*
Package storage persists hostfix state: per-address quality records, the
blacklist, the fault/repair ledger and the orchestrator checkpoint.

# Architecture

BoltStore keeps everything in a single bbolt file with one bucket per kind:

	<dataDir>/hostfix.db
	  addresses   IP -> AddressRecord (JSON)
	  blacklist   IP -> BlacklistEntry (JSON)
	  faults      seq -> FaultRecord (JSON, append-only)
	  repairs     seq -> RepairRecord (JSON, append-only)
	  state       "checkpoint" -> Checkpoint (JSON)

Ledger keys come from Bucket.NextSequence encoded big-endian, so a cursor
walk returns records in the order they were appended.

MemoryStore implements the same interface without a file. The CLI falls
back to it when the database cannot be opened (read-only home directory,
lock held by another process) so a repair cycle can still run.

# Usage

	store, err := storage.NewBoltStore("/var/lib/hostfix")
	if err != nil {
		return err
	}
	defer store.Close()

	rec := types.NewAddressRecord("140.82.112.3")
	if err := store.PutAddress(rec); err != nil {
		return err
	}

	faults, _ := store.ListFaults()

# Concurrency

bbolt serializes writers internally; readers run concurrently. MemoryStore
guards its maps with a sync.RWMutex. Neither store coordinates updates to
the same record across callers: the quality package holds its own lock for
read-modify-write sequences.
*/
package storage
