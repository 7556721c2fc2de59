package health

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/cuemby/hostfix/pkg/types"
)

// CheckType names a probe kind
type CheckType string

const (
	CheckTypeTCP CheckType = "tcp"
	CheckTypeTLS CheckType = "tls"
)

// Phase names the step of a probe that produced its result
type Phase string

const (
	PhaseLookup    Phase = "lookup"
	PhasePrefilter Phase = "prefilter"
	PhaseConnect   Phase = "connect"
	PhaseHandshake Phase = "handshake"
	PhaseRequest   Phase = "request"
	PhaseResponse  Phase = "response"
	PhaseDone      Phase = "done"
)

// Result is the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration

	// Phase is the last phase reached; on failure, the failing one
	Phase Phase

	// Err wraps a types sentinel when one applies
	Err error
}

// LatencyMs returns the duration in fractional milliseconds
func (r Result) LatencyMs() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

// FaultType maps a failed result to a ledger fault type
func (r Result) FaultType() types.FaultType {
	if r.Healthy {
		return ""
	}
	return FaultTypeOf(r.Phase, r.Err)
}

// Checker is a single probe against one address
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config drives periodic checking in watch mode
type Config struct {
	Interval time.Duration
	// Timeout bounds a single reachability check
	Timeout time.Duration
	// FailureThreshold is how many failed checks in a row flip Status to unhealthy
	FailureThreshold int
}

// DefaultConfig returns the watch-mode defaults
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Minute,
		Timeout:          8 * time.Second,
		FailureThreshold: 1,
	}
}

// Status folds successive check results into a healthy/unhealthy verdict
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus returns a Status that starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update applies result. One success restores health; failures flip it
// once cfg.FailureThreshold (at least 1) is reached.
func (s *Status) Update(result Result, cfg Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= max(cfg.FailureThreshold, 1) {
		s.Healthy = false
	}
}

// FaultTypeOf classifies a probe failure by the phase it failed in.
// Deadline errors are timeouts regardless of phase.
func FaultTypeOf(phase Phase, err error) types.FaultType {
	if isTimeout(err) {
		return types.FaultTimeout
	}
	switch phase {
	case PhaseLookup:
		return types.FaultDNSFailure
	case PhasePrefilter, PhaseConnect:
		return types.FaultTCPFailure
	case PhaseHandshake:
		return types.FaultTLSFailure
	case PhaseRequest, PhaseResponse:
		return types.FaultHTTPFailure
	default:
		return types.FaultOther
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrNetworkTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify wraps err with the sentinel matching its kind
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) && !errors.Is(err, types.ErrNetworkTimeout) {
		return errors.Join(types.ErrNetworkTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !errors.Is(err, types.ErrResolutionFailure) {
		return errors.Join(types.ErrResolutionFailure, err)
	}
	return err
}

func phaseOfDialError(err error) Phase {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return PhaseLookup
	}
	return PhaseConnect
}
