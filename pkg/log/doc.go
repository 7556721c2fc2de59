/*
Package log provides structured logging for hostfix using zerolog.

A single package-level zerolog.Logger is configured once by Init and shared
by every component. Components derive child loggers that carry a
component field, so a repair cycle can be followed across the checker,
ranker, hosts writer and ledger.

# Architecture

	log.Init(Config{Level, JSONOutput, Output})
	        │
	        ▼
	  global Logger (stderr by default)
	        │
	        ├── WithComponent("repair")   component=repair
	        │       └── per cycle         cycle_id=...
	        ├── WithComponent("ranker")   component=ranker
	        └── WithComponent("hosts")    component=hosts

Logs go to stderr so stdout stays reserved for command output such as the
repair summary and table listings.

# Log Levels

  - debug: per-candidate probe results, DNS answers, stage transitions
  - info: cycle start and completion, hosts file updates
  - warn: faults, failed verifications, persistence fallbacks
  - error: terminal cycle failures

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false,
	})

	logger := log.WithComponent("ranker")
	logger.Info().
		Int("candidates", 12).
		Int("succeeded", 4).
		Msg("Candidates ranked")

Console output:

	2025-06-01T12:00:00Z INF Candidates ranked candidates=12 component=ranker succeeded=4

JSON output (--json-logs):

	{"level":"info","component":"ranker","candidates":12,"succeeded":4,"time":"2025-06-01T12:00:00Z","message":"Candidates ranked"}

# Thread Safety

zerolog loggers are safe for concurrent use. Init replaces the global
logger and is meant to be called once at startup before any component
logger is derived.
*/
package log
