package quality

import (
	"fmt"

	"github.com/cuemby/hostfix/pkg/types"
	"github.com/montanaflynn/stats"
)

// Policy holds the blacklist thresholds evaluated against an address's
// recent sample history.
type Policy struct {
	// TimeoutCount is the number of trailing consecutive timed-out samples
	// that blacklist an address as repeated-timeout. Refused or rejected
	// failures end the streak.
	TimeoutCount int `yaml:"timeout_count"`

	// SlowLatencyMs is the latency above which a sample counts as slow.
	SlowLatencyMs float64 `yaml:"slow_latency_ms"`

	// SlowCount is the number of slow samples in the window that blacklist
	// an address as persistently-slow.
	SlowCount int `yaml:"slow_count"`

	// UnstableCount is the minimum number of latencies before variance is
	// considered.
	UnstableCount int `yaml:"unstable_count"`

	// UnstableVariance is the population variance (ms²) above which an
	// address is blacklisted as unstable-latency.
	UnstableVariance float64 `yaml:"unstable_variance"`

	// Window is how many of the most recent samples are examined.
	Window int `yaml:"window"`
}

// DefaultPolicy returns the stock blacklist thresholds
func DefaultPolicy() Policy {
	return Policy{
		TimeoutCount:     2,
		SlowLatencyMs:    500,
		SlowCount:        3,
		UnstableCount:    5,
		UnstableVariance: 100,
		Window:           10,
	}
}

// Verdict is the result of evaluating a policy against one record
type Verdict struct {
	Blacklist bool
	Reason    types.BlacklistReason
	Detail    string
}

// Evaluate checks rec's recent history against the policy. The first
// matching reason wins, in the order repeated-timeout, persistently-slow,
// unstable-latency.
func (p Policy) Evaluate(rec *types.AddressRecord) Verdict {
	window := rec.History
	if p.Window > 0 && len(window) > p.Window {
		window = window[len(window)-p.Window:]
	}

	timeouts := 0
	for i := len(window) - 1; i >= 0 && window[i].Timeout; i-- {
		timeouts++
	}
	if p.TimeoutCount > 0 && timeouts >= p.TimeoutCount {
		return Verdict{
			Blacklist: true,
			Reason:    types.ReasonRepeatedTimeout,
			Detail:    fmt.Sprintf("%d consecutive timeouts", timeouts),
		}
	}

	var latencies []float64
	for _, s := range window {
		if s.LatencyMs != nil {
			latencies = append(latencies, *s.LatencyMs)
		}
	}

	slow := 0
	for _, l := range latencies {
		if l > p.SlowLatencyMs {
			slow++
		}
	}
	if p.SlowCount > 0 && slow >= p.SlowCount {
		return Verdict{
			Blacklist: true,
			Reason:    types.ReasonPersistentlySlow,
			Detail:    fmt.Sprintf("%d samples slower than %.0fms", slow, p.SlowLatencyMs),
		}
	}

	if p.UnstableCount > 0 && len(latencies) >= p.UnstableCount {
		variance, err := stats.PopulationVariance(latencies)
		if err == nil && variance > p.UnstableVariance {
			return Verdict{
				Blacklist: true,
				Reason:    types.ReasonUnstableLatency,
				Detail:    fmt.Sprintf("latency variance %.1f", variance),
			}
		}
	}

	return Verdict{}
}
