package repair

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/candidates"
	"github.com/cuemby/hostfix/pkg/events"
	"github.com/cuemby/hostfix/pkg/health"
	"github.com/cuemby/hostfix/pkg/hosts"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/ranker"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stage is a step of the repair state machine
type Stage string

const (
	StageCheck        Stage = "check"
	StageGather       Stage = "gather"
	StageRank         Stage = "rank"
	StagePatch        Stage = "patch"
	StageVerify       Stage = "verify"
	StageDeepFallback Stage = "deep_fallback"
	StageDone         Stage = "done"
)

var stagePercent = map[Stage]int{
	StageCheck:        5,
	StageGather:       20,
	StageRank:         40,
	StagePatch:        60,
	StageVerify:       75,
	StageDeepFallback: 90,
	StageDone:         100,
}

// DefaultDeepFallback are applied one at a time when the ranked mapping
// does not restore reachability
var DefaultDeepFallback = []string{"140.82.113.5", "140.82.114.4"}

const (
	DefaultSettleInterval    = 2 * time.Second
	DefaultVerifyBackoff     = 2 * time.Second
	DefaultVerifyRetries     = 3
	DefaultDeepVerifyRetries = 1
	DefaultCheckCacheTTL     = 5 * time.Minute
	DefaultPort              = 443
)

// Checker classifies current reachability
type Checker interface {
	Run(ctx context.Context) health.Report
}

// Gatherer produces candidate addresses
type Gatherer interface {
	Gather(ctx context.Context) []string
}

// Ranker measures and orders candidate addresses
type Ranker interface {
	Rank(ctx context.Context, candidates []string, port int) []ranker.Measurement
}

// Writer applies hostname overrides
type Writer interface {
	Apply(ctx context.Context, mapping map[string]string, backup bool) hosts.Result
	Current() (map[string]string, error)
}

// Ledger records faults and repair attempts
type Ledger interface {
	RecordFault(rec types.FaultRecord) (types.FaultRecord, error)
	RecordRepair(rec types.RepairRecord) (types.RepairRecord, error)
}

// StateStore persists the checkpoint between cycles
type StateStore interface {
	GetCheckpoint() (*types.Checkpoint, error)
	SaveCheckpoint(cp *types.Checkpoint) error
}

// ProgressFunc is called at every stage transition
type ProgressFunc func(stage Stage, message string, percent int)

// Config configures the orchestrator
type Config struct {
	// Hostnames are the managed names, primary first
	Hostnames []string
	Port      int

	KnownGood    []string
	DeepFallback []string

	SettleInterval    time.Duration
	VerifyBackoff     time.Duration
	VerifyRetries     int
	DeepVerifyRetries int

	// CheckCacheTTL is how long a good check is trusted. Zero disables
	// the cache.
	CheckCacheTTL time.Duration

	// Force skips the check cache
	Force bool

	// Backup copies the hosts file before the first write of a cycle
	Backup bool
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		Hostnames:         []string{"github.com", "api.github.com"},
		Port:              DefaultPort,
		KnownGood:         slices.Clone(candidates.DefaultKnownGood),
		DeepFallback:      slices.Clone(DefaultDeepFallback),
		SettleInterval:    DefaultSettleInterval,
		VerifyBackoff:     DefaultVerifyBackoff,
		VerifyRetries:     DefaultVerifyRetries,
		DeepVerifyRetries: DefaultDeepVerifyRetries,
		CheckCacheTTL:     DefaultCheckCacheTTL,
		Backup:            true,
	}
}

// Orchestrator drives one repair cycle at a time through
// check, gather, rank, patch, verify and deep fallback
type Orchestrator struct {
	cfg      Config
	checker  Checker
	gatherer Gatherer
	ranker   Ranker
	writer   Writer
	ledger   Ledger
	state    StateStore
	broker   *events.Broker
	progress ProgressFunc
	clock    clock.Clock
	logger   zerolog.Logger

	mu sync.Mutex
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the clock used for waits and the check cache
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithStateStore enables the checkpoint
func WithStateStore(s StateStore) Option {
	return func(o *Orchestrator) {
		o.state = s
	}
}

// WithBroker mirrors progress as events
func WithBroker(b *events.Broker) Option {
	return func(o *Orchestrator) {
		o.broker = b
	}
}

// WithProgress sets the progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// New creates an orchestrator
func New(cfg Config, checker Checker, gatherer Gatherer, rnk Ranker, writer Writer, ledger Ledger, opts ...Option) *Orchestrator {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.VerifyRetries < 1 {
		cfg.VerifyRetries = 1
	}
	if cfg.DeepVerifyRetries < 1 {
		cfg.DeepVerifyRetries = 1
	}

	o := &Orchestrator{
		cfg:      cfg,
		checker:  checker,
		gatherer: gatherer,
		ranker:   rnk,
		writer:   writer,
		ledger:   ledger,
		clock:    clock.New(),
		logger:   log.WithComponent("repair"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one repair cycle. It returns ErrCycleInProgress when another
// cycle is running and the context error when cancelled between stages.
// Every other failure is reported through the Outcome.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	if !o.mu.TryLock() {
		return Outcome{}, types.ErrCycleInProgress
	}
	defer o.mu.Unlock()

	c := &cycle{
		o:     o,
		ctx:   ctx,
		work:  context.WithoutCancel(ctx),
		id:    uuid.New().String(),
		timer: metrics.NewTimer(),
	}
	c.logger = o.logger.With().Str("cycle_id", c.id).Logger()
	c.out.CycleID = c.id

	o.publish(&events.Event{
		Type:    events.EventCycleStarted,
		CycleID: c.id,
		Message: "repair cycle started",
	})
	c.logger.Info().Bool("force", o.cfg.Force).Msg("Repair cycle started")

	err := c.run()
	c.finishStage()
	if err != nil {
		c.out.Err = err
	}
	if err != nil && c.out.Action == "" {
		c.out.Action = ActionFail
		c.out.Message = fmt.Sprintf("cycle cancelled: %v", err)
	}

	c.timer.ObserveDuration(metrics.RepairCycleDuration)
	metrics.RepairCyclesTotal.WithLabelValues(string(c.out.Action)).Inc()

	c.report(StageDone, c.out.Message)
	o.publish(&events.Event{
		Type:    events.EventCycleCompleted,
		CycleID: c.id,
		Message: string(c.out.Action),
		Metadata: map[string]string{
			"action":         string(c.out.Action),
			"classification": string(c.out.Classification),
		},
	})
	c.logger.Info().
		Str("action", string(c.out.Action)).
		Str("classification", string(c.out.Classification)).
		Dur("duration", c.timer.Duration()).
		Msg("Repair cycle completed")

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return c.out, err
	}
	return c.out, nil
}

func (o *Orchestrator) publish(ev *events.Event) {
	if o.broker != nil {
		o.broker.Publish(ev)
	}
}

// cycle holds the state of one Run
type cycle struct {
	o *Orchestrator

	// ctx is checked between stages, work is passed to components
	ctx  context.Context
	work context.Context

	id     string
	out    Outcome
	logger zerolog.Logger

	timer      *metrics.Timer
	stage      Stage
	stageTimer *metrics.Timer

	fault   types.FaultType
	applied map[string]string
	scheme  types.RepairScheme
	before  float64
}

func (c *cycle) run() error {
	cfg := c.o.cfg

	// CHECK
	c.enter(StageCheck, "Checking reachability")
	if !cfg.Force && c.cachedGood() {
		c.out.Action = ActionSkip
		c.out.Message = "reachability was good at the last check, skipping"
		return nil
	}

	report := c.check()
	c.out.Classification = report.Classification
	c.out.LatencyMs = report.LatencyMs
	c.before = report.LatencyMs
	c.saveCheck(report)

	if report.Classification == types.ClassificationGood {
		c.out.Action = ActionSkip
		c.out.Message = "reachability is good, no repair needed"
		return nil
	}

	c.fault = report.FaultType()
	c.recordFault(c.fault, report, nil)

	if err := c.ctx.Err(); err != nil {
		return err
	}

	// GATHER
	c.enter(StageGather, "Gathering candidate addresses")
	cands := c.o.gatherer.Gather(c.work)
	if len(cands) == 0 {
		c.recordFault(types.FaultNoCandidates, report, map[string]string{"stage": string(StageGather)})
		return c.fail(types.ErrNoCandidates, "no candidate addresses found", cfg.KnownGood)
	}
	c.logger.Info().Int("candidates", len(cands)).Msg("Candidates gathered")

	if err := c.ctx.Err(); err != nil {
		return err
	}

	// RANK
	c.enter(StageRank, fmt.Sprintf("Measuring %d candidate addresses", len(cands)))
	ok := c.rank(cands)
	if len(ok) == 0 {
		if rest := c.unmeasured(cfg.KnownGood); len(rest) > 0 {
			c.logger.Warn().Int("addresses", len(rest)).Msg("No candidate answered, ranking known-good addresses")
			c.report(StageRank, fmt.Sprintf("Measuring %d known-good addresses", len(rest)))
			ok = c.rank(rest)
		}
	}
	if len(ok) == 0 {
		c.recordFault(types.FaultNoCandidates, report, map[string]string{"stage": string(StageRank)})
		return c.fail(types.ErrNoCandidates, "no candidate address is reachable", cfg.KnownGood)
	}

	if err := c.ctx.Err(); err != nil {
		return err
	}

	// PATCH
	c.enter(StagePatch, "Updating hosts file")
	mapping := BuildMapping(cfg.Hostnames, ok)
	if err := c.patch(mapping, ok[0]); err != nil {
		if errors.Is(err, types.ErrPermission) {
			return c.fail(err, "insufficient privileges to modify the hosts file", ok)
		}
		return c.fail(err, fmt.Sprintf("hosts file update failed: %v", err), ok)
	}

	if err := c.ctx.Err(); err != nil {
		return err
	}

	// VERIFY
	c.enter(StageVerify, "Verifying reachability")
	last, good := c.verify(cfg.VerifyRetries)
	if good {
		return c.fixed(last, "reachability restored")
	}

	if err := c.ctx.Err(); err != nil {
		return err
	}

	// DEEP_FALLBACK
	c.enter(StageDeepFallback, "Trying fallback addresses")
	for _, ip := range cfg.DeepFallback {
		if slices.Contains(mapValues(c.applied), ip) {
			continue
		}
		c.out.Tried = appendUnique(c.out.Tried, ip)
		c.report(StageDeepFallback, "Trying fallback address "+ip)

		fallback := make(map[string]string, len(cfg.Hostnames))
		for _, name := range cfg.Hostnames {
			fallback[name] = ip
		}
		res := c.o.writer.Apply(c.work, fallback, false)
		if !res.Success {
			if errors.Is(res.Err, types.ErrPermission) {
				return c.fail(res.Err, "insufficient privileges to modify the hosts file", cfg.DeepFallback)
			}
			c.logger.Warn().Err(res.Err).Str("ip", ip).Msg("Fallback write failed")
			continue
		}
		c.applied = fallback
		c.scheme = types.SchemeDeepFallback
		c.afterApply(fallback)

		report, good := c.verify(cfg.DeepVerifyRetries)
		if good {
			return c.fixed(report, "reachability restored with fallback address "+ip)
		}
		last = report
	}

	c.out.Classification = last.Classification
	c.out.LatencyMs = last.LatencyMs
	c.recordFault(last.FaultType(), last, map[string]string{"stage": string(StageDeepFallback)})
	c.recordRepair(false, last.LatencyMs, "deep fallback exhausted")
	c.out.Action = ActionFail
	c.out.Message = "reachability not restored after trying every fallback address"
	c.out.Guidance = guidance(cfg.Hostnames, suggestions(cfg))
	return nil
}

// enter moves the cycle to stage and reports progress
func (c *cycle) enter(stage Stage, message string) {
	c.finishStage()
	c.stage = stage
	c.stageTimer = metrics.NewTimer()
	c.report(stage, message)
	c.logger.Debug().Str("stage", string(stage)).Msg(message)
}

func (c *cycle) finishStage() {
	if c.stageTimer != nil {
		c.stageTimer.ObserveDurationVec(metrics.StageDuration, string(c.stage))
		c.stageTimer = nil
	}
}

func (c *cycle) report(stage Stage, message string) {
	percent := stagePercent[stage]
	if c.o.progress != nil {
		c.o.progress(stage, message, percent)
	}
	c.o.publish(&events.Event{
		Type:    events.EventStageChanged,
		CycleID: c.id,
		Stage:   string(stage),
		Percent: percent,
		Message: message,
	})
}

func (c *cycle) cachedGood() bool {
	ttl := c.o.cfg.CheckCacheTTL
	if c.o.state == nil || ttl <= 0 {
		return false
	}
	cp, err := c.o.state.GetCheckpoint()
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			c.logger.Warn().Err(err).Msg("Failed to load checkpoint")
		}
		return false
	}
	if cp.LastClassification != types.ClassificationGood || cp.LastCheckAt.IsZero() {
		return false
	}
	if c.o.clock.Since(cp.LastCheckAt) >= ttl {
		return false
	}
	c.out.Classification = cp.LastClassification
	c.out.LatencyMs = cp.LastLatencyMs
	return true
}

func (c *cycle) check() health.Report {
	report := c.o.checker.Run(c.work)
	metrics.ReachabilityChecksTotal.WithLabelValues(string(report.Classification)).Inc()
	metrics.ReachabilityLatency.Set(report.LatencyMs)
	c.logger.Info().
		Str("classification", string(report.Classification)).
		Float64("latency_ms", report.LatencyMs).
		Msg("Reachability checked")
	return report
}

func (c *cycle) rank(addrs []string) []string {
	results := c.o.ranker.Rank(c.work, addrs, c.o.cfg.Port)
	for _, m := range results {
		c.out.Tried = appendUnique(c.out.Tried, m.IP)
	}
	ok := ranker.Successes(results)
	for _, ip := range ok {
		c.out.Succeeded = appendUnique(c.out.Succeeded, ip)
	}
	c.logger.Info().
		Int("measured", len(results)).
		Int("succeeded", len(ok)).
		Msg("Candidates ranked")
	return ok
}

// unmeasured returns the addresses of ips not yet ranked this cycle
func (c *cycle) unmeasured(ips []string) []string {
	var out []string
	for _, ip := range ips {
		if !slices.Contains(c.out.Tried, ip) {
			out = append(out, ip)
		}
	}
	return out
}

// patch applies mapping unless the hosts file already holds it. A failed
// write other than a permission error is retried once with the primary
// hostname mapped to best.
func (c *cycle) patch(mapping map[string]string, best string) error {
	if current, err := c.o.writer.Current(); err == nil && maps.Equal(current, mapping) {
		c.logger.Info().Msg("Hosts file already holds the ranked mapping")
		c.applied = mapping
		c.scheme = types.SchemeHostsUpdate
		return nil
	}

	res := c.o.writer.Apply(c.work, mapping, c.o.cfg.Backup)
	if res.Success {
		c.applied = mapping
		c.scheme = types.SchemeHostsUpdate
		c.afterApply(mapping)
		return nil
	}
	if errors.Is(res.Err, types.ErrPermission) || len(c.o.cfg.Hostnames) == 0 {
		return res.Err
	}

	c.logger.Warn().Err(res.Err).Msg("Hosts update failed, retrying with primary hostname only")
	single := map[string]string{c.o.cfg.Hostnames[0]: best}
	res = c.o.writer.Apply(c.work, single, false)
	if !res.Success {
		return res.Err
	}
	c.applied = single
	c.scheme = types.SchemeIPSwitch
	c.afterApply(single)
	return nil
}

func (c *cycle) afterApply(mapping map[string]string) {
	c.out.IPs = mapping
	c.o.publish(&events.Event{
		Type:     events.EventHostsUpdated,
		CycleID:  c.id,
		Message:  "hosts file updated",
		Metadata: mapping,
	})
	if c.o.state == nil {
		return
	}
	cp := c.checkpoint()
	cp.LastApplied = mapping
	cp.LastAppliedAt = c.o.clock.Now()
	if err := c.o.state.SaveCheckpoint(cp); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to save checkpoint")
	}
}

// verify waits for the resolver to settle and checks up to attempts times
func (c *cycle) verify(attempts int) (health.Report, bool) {
	c.wait(c.o.cfg.SettleInterval)

	var report health.Report
	for i := 0; i < attempts; i++ {
		if i > 0 {
			c.wait(c.o.cfg.VerifyBackoff)
		}
		report = c.check()
		c.saveCheck(report)
		if report.Classification == types.ClassificationGood {
			return report, true
		}
		c.logger.Warn().
			Int("attempt", i+1).
			Int("attempts", attempts).
			Str("classification", string(report.Classification)).
			Msg("Verification failed")
	}
	return report, false
}

func (c *cycle) wait(d time.Duration) {
	if d <= 0 {
		return
	}
	c.o.clock.Sleep(d)
}

func (c *cycle) fixed(report health.Report, message string) error {
	c.out.Action = ActionFixed
	c.out.Classification = report.Classification
	c.out.LatencyMs = report.LatencyMs
	c.out.Message = message
	c.recordRepair(true, report.LatencyMs, "")
	return nil
}

// fail ends the cycle with manual guidance. err is kept on the outcome but
// is not returned from Run.
func (c *cycle) fail(err error, message string, suggested []string) error {
	c.out.Action = ActionFail
	c.out.Message = message
	c.out.Err = err
	if len(suggested) == 0 {
		suggested = suggestions(c.o.cfg)
	}
	c.out.Guidance = guidance(c.o.cfg.Hostnames, suggested)
	if c.applied != nil || errors.Is(err, types.ErrPermission) {
		c.recordRepair(false, 0, message)
	}
	c.logger.Error().Err(err).Msg(message)
	return nil
}

func (c *cycle) saveCheck(report health.Report) {
	if c.o.state == nil {
		return
	}
	cp := c.checkpoint()
	cp.LastCheckAt = c.o.clock.Now()
	cp.LastClassification = report.Classification
	cp.LastLatencyMs = report.LatencyMs
	if err := c.o.state.SaveCheckpoint(cp); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to save checkpoint")
	}
}

func (c *cycle) checkpoint() *types.Checkpoint {
	cp, err := c.o.state.GetCheckpoint()
	if err != nil || cp == nil {
		return &types.Checkpoint{}
	}
	return cp
}

func (c *cycle) recordFault(ft types.FaultType, report health.Report, details map[string]string) {
	if c.o.ledger == nil {
		return
	}
	if ft == "" {
		ft = types.FaultOther
	}
	if details == nil {
		details = make(map[string]string)
	}
	details["cycle_id"] = c.id
	for _, res := range report.Results {
		if !res.OK {
			details["target"] = res.Target.Name
			details["error"] = res.Message
			break
		}
	}
	if _, err := c.o.ledger.RecordFault(types.FaultRecord{
		FaultType:      ft,
		Classification: report.Classification,
		LatencyMs:      report.LatencyMs,
		Details:        details,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record fault")
	}
}

func (c *cycle) recordRepair(success bool, after float64, reason string) {
	if c.o.ledger == nil {
		return
	}
	scheme := c.scheme
	if scheme == "" {
		scheme = types.SchemeHostsUpdate
	}
	details := map[string]string{"cycle_id": c.id}
	if reason != "" {
		details["reason"] = reason
	}
	if _, err := c.o.ledger.RecordRepair(types.RepairRecord{
		Scheme:          scheme,
		FaultType:       c.fault,
		Success:         success,
		AddressesTried:  slices.Clone(c.out.Tried),
		Mapping:         c.applied,
		BeforeLatencyMs: c.before,
		AfterLatencyMs:  after,
		Details:         details,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record repair")
	}
}

// BuildMapping assigns the first two reachable addresses to hostnames in
// turn. A single address is shared by every hostname.
func BuildMapping(hostnames, reachable []string) map[string]string {
	mapping := make(map[string]string, len(hostnames))
	if len(reachable) == 0 {
		return mapping
	}
	top := reachable[:min(2, len(reachable))]
	for i, name := range hostnames {
		mapping[name] = top[i%len(top)]
	}
	return mapping
}

func suggestions(cfg Config) []string {
	if len(cfg.KnownGood) > 0 {
		return cfg.KnownGood
	}
	return cfg.DeepFallback
}

func mapValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}
