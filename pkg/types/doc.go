/*
Package types defines the data structures shared by hostfix components.

# Core Types

Address quality:
  - AddressRecord: counters and recent samples for one candidate IP
  - Sample: one probe outcome (success flag, optional latency, time)
  - BlacklistEntry: an excluded IP with its BlacklistReason

Reachability:
  - Classification: good, warn or bad
  - Checkpoint: last check and last applied mapping, kept between runs

Ledger:
  - FaultRecord: a detected problem, typed by FaultType
  - RepairRecord: one repair attempt, typed by RepairScheme

# Invariants

An AddressRecord always satisfies SuccessCount <= TestCount and
LatencyCount <= TestCount. Counters only grow; a record is removed
only by retention pruning. Samples are capped by the quality store.

Ledger records are written once and never modified. IDs and timestamps
are assigned by the ledger when the record is appended.

# Errors

Sentinel errors (ErrPermission, ErrNetworkTimeout, ErrResolutionFailure,
ErrPersistence, ErrNoCandidates, ErrEncoding, ErrCycleInProgress,
ErrNotFound) are wrapped with %w by the components that return them.
Callers branch with errors.Is:

	res := writer.Apply(ctx, mapping, true)
	if errors.Is(res.Err, types.ErrPermission) {
		// ask the user to re-run with elevated privileges
	}

All types serialize to JSON for storage in bbolt.
*/
package types
