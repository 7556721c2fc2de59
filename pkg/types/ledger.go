package types

import "time"

// FaultType classifies a detected reachability problem
type FaultType string

const (
	FaultDNSFailure   FaultType = "dns_failure"
	FaultTCPFailure   FaultType = "tcp_failure"
	FaultTLSFailure   FaultType = "tls_failure"
	FaultHTTPFailure  FaultType = "http_failure"
	FaultTimeout      FaultType = "timeout"
	FaultSlow         FaultType = "slow"
	FaultNoCandidates FaultType = "no_candidates"
	FaultOther        FaultType = "other"
)

// RepairScheme names the strategy a repair attempt used
type RepairScheme string

const (
	SchemeHostsUpdate  RepairScheme = "hosts_update"
	SchemeIPSwitch     RepairScheme = "ip_switch"
	SchemeDeepFallback RepairScheme = "deep_fallback"
	SchemeManual       RepairScheme = "manual"
)

// FaultRecord is an immutable ledger entry for a detected fault
type FaultRecord struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	FaultType      FaultType         `json:"fault_type"`
	Classification Classification    `json:"classification,omitempty"`
	LatencyMs      float64           `json:"latency_ms,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
}

// RepairRecord is an immutable ledger entry for one repair attempt
type RepairRecord struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Scheme          RepairScheme      `json:"scheme"`
	FaultType       FaultType         `json:"fault_type,omitempty"`
	Success         bool              `json:"success"`
	AddressesTried  []string          `json:"addresses_tried,omitempty"`
	Mapping         map[string]string `json:"mapping,omitempty"`
	BeforeLatencyMs float64           `json:"before_latency_ms,omitempty"`
	AfterLatencyMs  float64           `json:"after_latency_ms,omitempty"`
	Details         map[string]string `json:"details,omitempty"`
}
