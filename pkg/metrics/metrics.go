package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repair cycle metrics
	RepairCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostfix_repair_cycles_total",
			Help: "Total number of repair cycles by final action",
		},
		[]string{"action"},
	)

	RepairCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostfix_repair_cycle_duration_seconds",
			Help:    "Wall-clock duration of a repair cycle in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostfix_stage_duration_seconds",
			Help:    "Duration of each repair stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Reachability metrics
	ReachabilityChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostfix_reachability_checks_total",
			Help: "Total number of reachability checks by classification",
		},
		[]string{"classification"},
	)

	ReachabilityLatency = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostfix_reachability_latency_ms",
			Help: "Mean target latency of the most recent reachability check in milliseconds",
		},
	)

	// Candidate metrics
	DNSQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostfix_dns_queries_total",
			Help: "Total number of DNS queries by result (answered, empty, error, cached)",
		},
		[]string{"result"},
	)

	CandidatesGathered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostfix_candidates_gathered",
			Help: "Candidate addresses contributed by each source in the last gather",
		},
		[]string{"source"},
	)

	// Measurement metrics
	AddressMeasurementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostfix_address_measurements_total",
			Help: "Total number of address measurements by phase and result",
		},
		[]string{"phase", "result"},
	)

	AddressLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostfix_address_latency_seconds",
			Help:    "Latency of successful full address measurements in seconds",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2, 3},
		},
	)

	// Quality store metrics
	AddressesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostfix_addresses_tracked",
			Help: "Number of addresses with quality records",
		},
	)

	AddressesBlacklisted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostfix_addresses_blacklisted",
			Help: "Number of blacklisted addresses by reason",
		},
		[]string{"reason"},
	)

	// Hosts file metrics
	HostsWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostfix_hosts_writes_total",
			Help: "Total number of hosts file write attempts by result",
		},
		[]string{"result"},
	)

	// Ledger metrics
	LedgerRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostfix_ledger_records_total",
			Help: "Total number of ledger records appended by kind and type",
		},
		[]string{"kind", "type"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RepairCyclesTotal)
	prometheus.MustRegister(RepairCycleDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(ReachabilityChecksTotal)
	prometheus.MustRegister(ReachabilityLatency)
	prometheus.MustRegister(DNSQueriesTotal)
	prometheus.MustRegister(CandidatesGathered)
	prometheus.MustRegister(AddressMeasurementsTotal)
	prometheus.MustRegister(AddressLatency)
	prometheus.MustRegister(AddressesTracked)
	prometheus.MustRegister(AddressesBlacklisted)
	prometheus.MustRegister(HostsWritesTotal)
	prometheus.MustRegister(LedgerRecordsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
