package types

import "errors"

// Sentinel errors shared by every hostfix component. Components wrap them
// with %w inside their result values; callers branch with errors.Is.
var (
	// ErrPermission is returned when the hosts file cannot be written
	// because the process lacks elevated privileges.
	ErrPermission = errors.New("hostfix: elevated privileges required")

	// ErrNetworkTimeout is returned when a measurement exceeds its budget.
	ErrNetworkTimeout = errors.New("hostfix: network timeout")

	// ErrResolutionFailure is returned when DNS yields no usable address.
	ErrResolutionFailure = errors.New("hostfix: name resolution failed")

	// ErrPersistence is returned when a store or ledger write fails.
	ErrPersistence = errors.New("hostfix: persistence failure")

	// ErrNoCandidates is returned when aggregation yields zero addresses.
	ErrNoCandidates = errors.New("hostfix: no candidate addresses")

	// ErrEncoding is returned when the hosts file content cannot be
	// re-encoded in its original encoding.
	ErrEncoding = errors.New("hostfix: hosts file encoding round-trip failed")

	// ErrCycleInProgress is returned when a repair cycle is already running.
	ErrCycleInProgress = errors.New("hostfix: repair cycle already in progress")

	// ErrNotFound is returned by stores when a key does not exist.
	ErrNotFound = errors.New("hostfix: not found")
)
