/*
Package metrics exposes hostfix Prometheus metrics and the /health and
/ready endpoints served by the watch command.

All collectors are package-level and registered on the default registry in
init. Components update them directly:

	timer := metrics.NewTimer()
	results := ranker.Rank(ctx, candidates, 443)
	timer.ObserveDurationVec(metrics.StageDuration, "rank")

# Metrics

	hostfix_repair_cycles_total{action}            skip, fixed, fail
	hostfix_repair_cycle_duration_seconds
	hostfix_stage_duration_seconds{stage}
	hostfix_reachability_checks_total{classification}
	hostfix_reachability_latency_ms
	hostfix_dns_queries_total{result}
	hostfix_candidates_gathered{source}
	hostfix_address_measurements_total{phase,result}
	hostfix_address_latency_seconds
	hostfix_addresses_tracked
	hostfix_addresses_blacklisted{reason}
	hostfix_hosts_writes_total{result}
	hostfix_ledger_records_total{kind,type}

The tracked and blacklisted gauges are sampled from the quality store by a
Collector every 15 seconds.

# Health

Components report through UpdateComponent. The store and the watch loop
are critical: readiness waits for both, and either one failing makes
/health answer 503. The monitored service being unreachable only marks the
process degraded.
*/
package metrics
