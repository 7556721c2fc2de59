package health

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultThreshold is the mean latency at or above which a fully
	// reachable service is classified warn
	DefaultThreshold = 3 * time.Second

	// DefaultCheckTimeout bounds each target probe
	DefaultCheckTimeout = 8 * time.Second
)

// Target is one endpoint of the monitored service
type Target struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultTargets returns the GitHub homepage and API endpoints. The first
// target is the primary one; when it fails the rest are skipped.
func DefaultTargets() []Target {
	return []Target{
		{Name: "homepage", Host: "github.com", Port: 443},
		{Name: "api", Host: "api.github.com", Port: 443},
	}
}

// TargetResult is the outcome of probing one target
type TargetResult struct {
	Target    Target
	OK        bool
	LatencyMs float64
	Phase     Phase
	FaultType types.FaultType
	Err       error
	Message   string
}

// Report is the aggregate outcome of a reachability check
type Report struct {
	Classification types.Classification
	// LatencyMs is the mean latency of the attempted targets
	LatencyMs float64
	Results   []TargetResult
	CheckedAt time.Time
}

// FaultType returns the fault type of the first failed target, FaultSlow
// for a warn report, or empty for a good one.
func (r Report) FaultType() types.FaultType {
	for _, res := range r.Results {
		if !res.OK {
			return res.FaultType
		}
	}
	if r.Classification == types.ClassificationWarn {
		return types.FaultSlow
	}
	return ""
}

// Result converts the report into a Result for Status tracking
func (r Report) Result() Result {
	msg := string(r.Classification)
	for _, res := range r.Results {
		if !res.OK {
			msg = res.Message
			break
		}
	}
	return Result{
		Healthy:   r.Classification == types.ClassificationGood,
		Message:   msg,
		CheckedAt: r.CheckedAt,
		Duration:  time.Duration(r.LatencyMs * float64(time.Millisecond)),
	}
}

// Reachability probes a list of targets and classifies the service
type Reachability struct {
	// Targets and Timeout are used by Run
	Targets []Target
	Timeout time.Duration

	// Threshold separates good from warn
	Threshold time.Duration

	// TLSConfig is passed to the default checker
	TLSConfig *tls.Config

	// NewChecker builds the checker for one target. Defaults to a
	// TLSChecker dialing Host:Port.
	NewChecker func(target Target, timeout time.Duration) Checker

	logger zerolog.Logger
}

// NewReachability creates a checker for the default targets
func NewReachability() *Reachability {
	return &Reachability{
		Targets:   DefaultTargets(),
		Timeout:   DefaultCheckTimeout,
		Threshold: DefaultThreshold,
		logger:    log.WithComponent("reachability"),
	}
}

// Run checks the configured targets
func (r *Reachability) Run(ctx context.Context) Report {
	return r.Check(ctx, r.Targets, r.Timeout)
}

// Check probes targets in order. A failure of the first target skips the
// rest. Failures never surface as errors; the report always carries a
// classification.
func (r *Reachability) Check(ctx context.Context, targets []Target, timeout time.Duration) Report {
	report := Report{
		Classification: types.ClassificationGood,
		CheckedAt:      time.Now(),
	}

	var total float64
	for i, target := range targets {
		res := r.checker(target, timeout).Check(ctx)
		tr := TargetResult{
			Target:    target,
			OK:        res.Healthy,
			LatencyMs: res.LatencyMs(),
			Phase:     res.Phase,
			FaultType: res.FaultType(),
			Err:       res.Err,
			Message:   res.Message,
		}
		report.Results = append(report.Results, tr)
		total += tr.LatencyMs

		r.logger.Debug().
			Str("target", target.Name).
			Str("host", target.Host).
			Bool("ok", tr.OK).
			Float64("latency_ms", tr.LatencyMs).
			Msg("Probed target")

		if !tr.OK {
			report.Classification = types.ClassificationBad
			if i == 0 {
				break
			}
		}
	}

	if n := len(report.Results); n > 0 {
		report.LatencyMs = total / float64(n)
	}

	if report.Classification == types.ClassificationGood && r.Threshold > 0 &&
		report.LatencyMs >= float64(r.Threshold)/float64(time.Millisecond) {
		report.Classification = types.ClassificationWarn
	}

	return report
}

func (r *Reachability) checker(target Target, timeout time.Duration) Checker {
	if r.NewChecker != nil {
		return r.NewChecker(target, timeout)
	}
	c := NewTLSChecker(target.Host).WithTimeout(timeout).WithTLSConfig(r.TLSConfig)
	if target.Port != 0 {
		c.Port = target.Port
	}
	return c
}
