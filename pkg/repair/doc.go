/*
Package repair drives the auto-repair cycle for GitHub reachability.

An Orchestrator runs one cycle at a time:

	CHECK -> GATHER -> RANK -> PATCH -> VERIFY -> DEEP_FALLBACK -> DONE

CHECK classifies reachability, trusting a recent good checkpoint unless the
cycle is forced. A good result ends the cycle with ActionSkip. GATHER asks
the candidate aggregator for addresses and RANK measures them, re-ranking
the static known-good list once when nothing answers. PATCH writes the two
fastest addresses into the hosts file, VERIFY re-checks after a settle
interval, and DEEP_FALLBACK tries the static fallback addresses one at a
time.

Every fault and repair attempt is appended to the ledger. Progress is
reported through a ProgressFunc and mirrored on the event broker.

Cancellation is observed between stages. Component calls run on a
context detached from cancellation so a stage is never left half done.
*/
package repair
