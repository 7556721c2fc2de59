// Package watch runs the periodic reachability guardian. Each tick checks
// reachability and starts a repair cycle once the service has been
// unhealthy for FailureThreshold consecutive checks.
package watch

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/health"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/repair"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/rs/zerolog"
)

// Checker classifies current reachability
type Checker interface {
	Run(ctx context.Context) health.Report
}

// Repairer runs one repair cycle
type Repairer interface {
	Run(ctx context.Context) (repair.Outcome, error)
}

// Watcher checks reachability on an interval and repairs on sustained failure
type Watcher struct {
	cfg      health.Config
	checker  Checker
	repairer Repairer
	clock    clock.Clock
	logger   zerolog.Logger

	onOutcome func(repair.Outcome)

	mu     sync.RWMutex
	status *health.Status

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Watcher
type Option func(*Watcher)

// WithClock sets the clock driving the ticker
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithOutcomeHandler is called after every repair cycle the watcher starts
func WithOutcomeHandler(fn func(repair.Outcome)) Option {
	return func(w *Watcher) {
		w.onOutcome = fn
	}
}

// New creates a watcher
func New(cfg health.Config, checker Checker, repairer Repairer, opts ...Option) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = health.DefaultConfig().Interval
	}
	w := &Watcher{
		cfg:      cfg,
		checker:  checker,
		repairer: repairer,
		clock:    clock.New(),
		logger:   log.WithComponent("watch"),
		status:   health.NewStatus(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the watch loop. The first check runs immediately.
func (w *Watcher) Start(ctx context.Context) {
	metrics.UpdateComponent(metrics.ComponentWatcher, true, "running")
	go w.run(ctx)
}

// Stop stops the loop and waits for the current tick to finish
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	metrics.UpdateComponent(metrics.ComponentWatcher, false, "stopped")
}

// Status returns a copy of the tracked service status
func (w *Watcher) Status() health.Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *w.status
}

// run is the main watch loop
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := w.clock.Ticker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.cfg.Interval).Msg("Watch loop started")
	w.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			w.Tick(ctx)
		case <-w.stopCh:
			w.logger.Info().Msg("Watch loop stopped")
			return
		case <-ctx.Done():
			w.logger.Info().Msg("Watch loop cancelled")
			return
		}
	}
}

// Tick performs one check and, when the service is unhealthy, one repair
// cycle. It reports whether a repair cycle ran.
func (w *Watcher) Tick(ctx context.Context) bool {
	report := w.checker.Run(ctx)
	result := report.Result()
	metrics.ReachabilityChecksTotal.WithLabelValues(string(report.Classification)).Inc()
	metrics.ReachabilityLatency.Set(report.LatencyMs)

	w.mu.Lock()
	w.status.Update(result, w.cfg)
	healthy := w.status.Healthy
	failures := w.status.ConsecutiveFailures
	w.mu.Unlock()

	metrics.UpdateComponent(metrics.ComponentService, result.Healthy, result.Message)

	if healthy {
		w.logger.Debug().
			Str("classification", string(report.Classification)).
			Int("consecutive_failures", failures).
			Msg("Reachability check passed threshold")
		return false
	}

	w.logger.Warn().
		Str("classification", string(report.Classification)).
		Int("consecutive_failures", failures).
		Msg("Service unhealthy, starting repair cycle")

	out, err := w.repairer.Run(ctx)
	if err != nil {
		if errors.Is(err, types.ErrCycleInProgress) {
			w.logger.Debug().Msg("Repair cycle already running")
			return false
		}
		w.logger.Error().Err(err).Msg("Repair cycle aborted")
	}

	if out.Action == repair.ActionFixed {
		w.mu.Lock()
		w.status = health.NewStatus()
		w.mu.Unlock()
		metrics.UpdateComponent(metrics.ComponentService, true, out.Message)
	}
	if w.onOutcome != nil {
		w.onOutcome(out)
	}
	return true
}
