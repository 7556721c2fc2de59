package types

import "time"

// ResultKind is the outcome of the most recent measurement of an address
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultFailure ResultKind = "failure"
	ResultUnknown ResultKind = "unknown"
)

// Sample is a single measurement kept in an address's recent history.
// LatencyMs is nil when the measurement failed before a latency was known.
// Timeout marks failures that ran out of time rather than being refused
// or rejected.
type Sample struct {
	At        time.Time `json:"at"`
	LatencyMs *float64  `json:"latency_ms,omitempty"`
	Success   bool      `json:"success"`
	Timeout   bool      `json:"timeout,omitempty"`
}

// AddressRecord holds the measurement statistics of one candidate IP
type AddressRecord struct {
	IP                 string     `json:"ip"`
	TestCount          int        `json:"test_count"`
	TotalLatencyMs     float64    `json:"total_latency_ms"`
	LatencyCount       int        `json:"latency_count"`
	SuccessCount       int        `json:"success_count"`
	ConsecutiveSuccess int        `json:"consecutive_success"`
	LastResult         ResultKind `json:"last_result"`
	LastUpdated        time.Time  `json:"last_updated"`
	History            []Sample   `json:"history,omitempty"`
}

// NewAddressRecord returns an empty record for ip
func NewAddressRecord(ip string) *AddressRecord {
	return &AddressRecord{
		IP:         ip,
		LastResult: ResultUnknown,
	}
}

// SuccessRate returns SuccessCount/TestCount, or 0 for an untested address
func (r *AddressRecord) SuccessRate() float64 {
	if r.TestCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.TestCount)
}

// AvgLatencyMs averages the accumulated latency over the tests that
// produced one. Tests that failed without a latency do not pull it down.
func (r *AddressRecord) AvgLatencyMs() float64 {
	if r.LatencyCount == 0 {
		return 0
	}
	return r.TotalLatencyMs / float64(r.LatencyCount)
}

// Latencies returns the latencies of the recorded samples that have one
func (r *AddressRecord) Latencies() []float64 {
	out := make([]float64, 0, len(r.History))
	for _, s := range r.History {
		if s.LatencyMs != nil {
			out = append(out, *s.LatencyMs)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand out of the quality store
func (r *AddressRecord) Clone() *AddressRecord {
	c := *r
	c.History = make([]Sample, len(r.History))
	for i, s := range r.History {
		c.History[i] = s
		if s.LatencyMs != nil {
			v := *s.LatencyMs
			c.History[i].LatencyMs = &v
		}
	}
	return &c
}

// BlacklistReason explains why an address was excluded from selection
type BlacklistReason string

const (
	ReasonRepeatedTimeout  BlacklistReason = "repeated-timeout"
	ReasonPersistentlySlow BlacklistReason = "persistently-slow"
	ReasonUnstableLatency  BlacklistReason = "unstable-latency"
	ReasonManual           BlacklistReason = "manual"
)

// BlacklistEntry marks an address as excluded from candidate selection
type BlacklistEntry struct {
	IP      string          `json:"ip"`
	Reason  BlacklistReason `json:"reason"`
	Detail  string          `json:"detail,omitempty"`
	AddedAt time.Time       `json:"added_at"`
}

// Classification is the verdict of a reachability check
type Classification string

const (
	ClassificationGood Classification = "good"
	ClassificationWarn Classification = "warn"
	ClassificationBad  Classification = "bad"
)

// Checkpoint is the orchestrator state carried between runs
type Checkpoint struct {
	LastCheckAt        time.Time         `json:"last_check_at"`
	LastClassification Classification    `json:"last_classification,omitempty"`
	LastLatencyMs      float64           `json:"last_latency_ms"`
	LastApplied        map[string]string `json:"last_applied,omitempty"`
	LastAppliedAt      time.Time         `json:"last_applied_at"`
}
