/*
Package health measures whether the monitored service is reachable.

# Checkers

Every probe implements Checker and returns a Result that never carries a
panic or a bare error: failures are folded into Healthy=false with the
Phase that failed and an Err wrapping a types sentinel where one applies.

	TCPChecker   connect only; used by the ranker's pre-filter
	TLSChecker   connect, TLS handshake (SNI = Host), GET, read response

TLSChecker separates the dial address from the server name, so a candidate
IP can be measured while still presenting and verifying github.com:

	c := health.NewTLSChecker("github.com").
		WithAddress("140.82.112.3:443").
		WithTimeout(3 * time.Second)
	res := c.Check(ctx)

# Reachability

Reachability probes an ordered list of Targets and classifies the service:

	good   every attempted target succeeded, mean latency < Threshold
	warn   every attempted target succeeded, mean latency >= Threshold
	bad    any attempted target failed

If the first target fails the remaining targets are not probed.

# Fault types

FaultTypeOf maps the failing phase to a ledger fault type: lookup is a DNS
failure, connect a TCP failure, handshake a TLS failure, request and
response HTTP failures. A deadline in any phase is a timeout.

# Status

Status counts consecutive successes and failures across periodic checks.
The watch loop only forces a repair once FailureThreshold consecutive
checks have failed.
*/
package health
