package repair

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/health"
	"github.com/cuemby/hostfix/pkg/hosts"
	"github.com/cuemby/hostfix/pkg/ledger"
	"github.com/cuemby/hostfix/pkg/ranker"
	"github.com/cuemby/hostfix/pkg/storage"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodReport() health.Report {
	return health.Report{Classification: types.ClassificationGood, LatencyMs: 120}
}

func badReport() health.Report {
	return health.Report{
		Classification: types.ClassificationBad,
		LatencyMs:      8000,
		Results: []health.TargetResult{{
			Target:    health.Target{Name: "homepage", Host: "github.com", Port: 443},
			FaultType: types.FaultTLSFailure,
			Phase:     health.PhaseHandshake,
			Message:   "tls handshake failed",
		}},
	}
}

// fakeChecker returns reports in order, repeating the last one
type fakeChecker struct {
	mu      sync.Mutex
	reports []health.Report
	calls   int
	hook    func(call int)
}

func (f *fakeChecker) Run(ctx context.Context) health.Report {
	f.mu.Lock()
	call := f.calls
	f.calls++
	hook := f.hook
	idx := min(call, len(f.reports)-1)
	report := f.reports[idx]
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return report
}

func (f *fakeChecker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGatherer struct {
	addrs []string
	calls int
}

func (f *fakeGatherer) Gather(ctx context.Context) []string {
	f.calls++
	return f.addrs
}

// fakeRanker answers for the addresses in latency, in the order given
type fakeRanker struct {
	latency map[string]float64
	calls   [][]string
}

func (f *fakeRanker) Rank(ctx context.Context, candidates []string, port int) []ranker.Measurement {
	f.calls = append(f.calls, candidates)
	var ok, failed []ranker.Measurement
	for _, ip := range candidates {
		if ms, found := f.latency[ip]; found {
			v := ms
			ok = append(ok, ranker.Measurement{IP: ip, LatencyMs: &v, OK: true})
		} else {
			failed = append(failed, ranker.Measurement{IP: ip, Err: types.ErrNetworkTimeout})
		}
	}
	return append(ok, failed...)
}

type fakeWriter struct {
	current map[string]string
	errs    []error
	applied []map[string]string
}

func (f *fakeWriter) Apply(ctx context.Context, mapping map[string]string, backup bool) hosts.Result {
	f.applied = append(f.applied, maps.Clone(mapping))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return hosts.Result{Err: err}
		}
	}
	f.current = maps.Clone(mapping)
	return hosts.Result{Success: true}
}

func (f *fakeWriter) Current() (map[string]string, error) {
	return maps.Clone(f.current), nil
}

type fixture struct {
	cfg      Config
	checker  *fakeChecker
	gatherer *fakeGatherer
	ranker   *fakeRanker
	writer   *fakeWriter
	store    *storage.MemoryStore
	ledger   *ledger.Ledger
	clock    *clock.Mock
}

func newFixture(reports ...health.Report) *fixture {
	cfg := DefaultConfig()
	cfg.SettleInterval = 0
	cfg.VerifyBackoff = 0
	cfg.KnownGood = []string{"9.9.9.1", "9.9.9.2"}
	cfg.DeepFallback = []string{"140.82.113.5", "140.82.114.4"}

	store := storage.NewMemoryStore()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	return &fixture{
		cfg:      cfg,
		checker:  &fakeChecker{reports: reports},
		gatherer: &fakeGatherer{},
		ranker:   &fakeRanker{latency: map[string]float64{}},
		writer:   &fakeWriter{},
		store:    store,
		ledger:   ledger.New(store, ledger.WithClock(mock)),
		clock:    mock,
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(f.clock), WithStateStore(f.store)}, opts...)
	return New(f.cfg, f.checker, f.gatherer, f.ranker, f.writer, f.ledger, opts...)
}

func TestRunGoodSkips(t *testing.T) {
	f := newFixture(goodReport())

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionSkip, out.Action)
	assert.Equal(t, types.ClassificationGood, out.Classification)
	assert.Equal(t, 0, f.gatherer.calls)
	assert.Empty(t, f.writer.applied)

	faults, err := f.store.ListFaults()
	require.NoError(t, err)
	assert.Empty(t, faults)
}

func TestRunRepairsWithTopTwo(t *testing.T) {
	f := newFixture(badReport(), goodReport())
	f.gatherer.addrs = []string{"3.3.3.3", "1.1.1.1", "2.2.2.2"}
	f.ranker.latency = map[string]float64{"1.1.1.1": 40, "2.2.2.2": 60}

	var stages []Stage
	o := f.orchestrator(WithProgress(func(stage Stage, message string, percent int) {
		stages = append(stages, stage)
	}))

	out, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionFixed, out.Action)
	assert.Equal(t, map[string]string{
		"github.com":     "1.1.1.1",
		"api.github.com": "2.2.2.2",
	}, out.IPs)
	assert.ElementsMatch(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, out.Tried)
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, out.Succeeded)
	assert.Equal(t, []Stage{StageCheck, StageGather, StageRank, StagePatch, StageVerify, StageDone}, stages)

	faults, err := f.store.ListFaults()
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.Equal(t, types.FaultTLSFailure, faults[0].FaultType)
	assert.Equal(t, "homepage", faults[0].Details["target"])

	repairs, err := f.store.ListRepairs()
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.True(t, repairs[0].Success)
	assert.Equal(t, types.SchemeHostsUpdate, repairs[0].Scheme)
	assert.Equal(t, out.IPs, repairs[0].Mapping)

	cp, err := f.store.GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, types.ClassificationGood, cp.LastClassification)
	assert.Equal(t, out.IPs, cp.LastApplied)
}

func TestRunSingleSuccessSharedByAllHostnames(t *testing.T) {
	f := newFixture(badReport(), goodReport())
	f.gatherer.addrs = []string{"1.1.1.1", "2.2.2.2"}
	f.ranker.latency = map[string]float64{"2.2.2.2": 30}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionFixed, out.Action)
	assert.Equal(t, map[string]string{
		"github.com":     "2.2.2.2",
		"api.github.com": "2.2.2.2",
	}, out.IPs)
}

func TestRunNoCandidatesFails(t *testing.T) {
	f := newFixture(badReport())

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionFail, out.Action)
	assert.ErrorIs(t, out.Err, types.ErrNoCandidates)
	assert.Contains(t, out.Guidance, "9.9.9.1\tgithub.com")
	assert.Empty(t, f.writer.applied)

	faults, err := f.store.ListFaults()
	require.NoError(t, err)
	require.Len(t, faults, 2)
	assert.Equal(t, types.FaultTLSFailure, faults[0].FaultType)
	assert.Equal(t, types.FaultNoCandidates, faults[1].FaultType)
}

func TestRunReranksKnownGood(t *testing.T) {
	f := newFixture(badReport(), goodReport())
	f.gatherer.addrs = []string{"1.1.1.1"}
	f.ranker.latency = map[string]float64{"9.9.9.2": 80}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.ranker.calls, 2)
	assert.Equal(t, f.cfg.KnownGood, f.ranker.calls[1])
	assert.Equal(t, ActionFixed, out.Action)
	assert.Equal(t, "9.9.9.2", out.IPs["github.com"])
}

func TestRunNothingReachableFails(t *testing.T) {
	f := newFixture(badReport())
	f.gatherer.addrs = []string{"1.1.1.1"}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionFail, out.Action)
	assert.NotEmpty(t, out.Guidance)
	assert.Len(t, f.ranker.calls, 2)
	assert.Empty(t, f.writer.applied)
}

func TestRunPermissionDenied(t *testing.T) {
	f := newFixture(badReport())
	f.gatherer.addrs = []string{"1.1.1.1"}
	f.ranker.latency = map[string]float64{"1.1.1.1": 10}
	f.writer.errs = []error{fmt.Errorf("open hosts: %w", types.ErrPermission)}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionFail, out.Action)
	assert.ErrorIs(t, out.Err, types.ErrPermission)
	assert.Len(t, f.writer.applied, 1)
	assert.Contains(t, out.Guidance, "Flush the resolver cache")

	repairs, err := f.store.ListRepairs()
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.False(t, repairs[0].Success)
}

func TestRunRetriesWithPrimaryHostname(t *testing.T) {
	f := newFixture(badReport(), goodReport())
	f.gatherer.addrs = []string{"1.1.1.1", "2.2.2.2"}
	f.ranker.latency = map[string]float64{"1.1.1.1": 10, "2.2.2.2": 20}
	f.writer.errs = []error{errors.New("disk full")}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.writer.applied, 2)
	assert.Equal(t, map[string]string{"github.com": "1.1.1.1"}, f.writer.applied[1])
	assert.Equal(t, ActionFixed, out.Action)

	repairs, err := f.store.ListRepairs()
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, types.SchemeIPSwitch, repairs[0].Scheme)
}

func TestRunSkipsWriteWhenMappingPresent(t *testing.T) {
	f := newFixture(badReport(), goodReport())
	f.gatherer.addrs = []string{"1.1.1.1", "2.2.2.2"}
	f.ranker.latency = map[string]float64{"1.1.1.1": 10, "2.2.2.2": 20}
	f.writer.current = map[string]string{"github.com": "1.1.1.1", "api.github.com": "2.2.2.2"}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.writer.applied)
	assert.Equal(t, ActionFixed, out.Action)
}

func TestRunDeepFallback(t *testing.T) {
	// check, three verify attempts, then one deep fallback verify
	f := newFixture(badReport(), badReport(), badReport(), badReport(), goodReport())
	f.gatherer.addrs = []string{"1.1.1.1"}
	f.ranker.latency = map[string]float64{"1.1.1.1": 10}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionFixed, out.Action)
	assert.Equal(t, map[string]string{
		"github.com":     "140.82.113.5",
		"api.github.com": "140.82.113.5",
	}, out.IPs)
	assert.Equal(t, 5, f.checker.Calls())

	repairs, err := f.store.ListRepairs()
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, types.SchemeDeepFallback, repairs[0].Scheme)
}

func TestRunDeepFallbackExhausted(t *testing.T) {
	f := newFixture(badReport())
	f.gatherer.addrs = []string{"1.1.1.1"}
	f.ranker.latency = map[string]float64{"1.1.1.1": 10}

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionFail, out.Action)
	assert.NotEmpty(t, out.Guidance)
	assert.Len(t, f.writer.applied, 3)
	assert.Equal(t, 1+3+2, f.checker.Calls())

	faults, err := f.store.ListFaults()
	require.NoError(t, err)
	assert.Len(t, faults, 2)

	repairs, err := f.store.ListRepairs()
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.False(t, repairs[0].Success)
}

func TestRunUsesCachedCheck(t *testing.T) {
	f := newFixture(badReport())
	require.NoError(t, f.store.SaveCheckpoint(&types.Checkpoint{
		LastCheckAt:        f.clock.Now().Add(-time.Minute),
		LastClassification: types.ClassificationGood,
		LastLatencyMs:      90,
	}))

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, out.Action)
	assert.Equal(t, 0, f.checker.Calls())

	// An expired cache runs the check
	f.clock.Add(10 * time.Minute)
	out, err = f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.checker.Calls())
	assert.Equal(t, ActionFail, out.Action)
}

func TestRunForceBypassesCache(t *testing.T) {
	f := newFixture(goodReport())
	require.NoError(t, f.store.SaveCheckpoint(&types.Checkpoint{
		LastCheckAt:        f.clock.Now(),
		LastClassification: types.ClassificationGood,
	}))
	f.cfg.Force = true

	out, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, out.Action)
	assert.Equal(t, 1, f.checker.Calls())
}

func TestRunConcurrentCycleRejected(t *testing.T) {
	f := newFixture(goodReport())
	entered := make(chan struct{})
	release := make(chan struct{})
	f.checker.hook = func(int) {
		close(entered)
		<-release
	}
	o := f.orchestrator()

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()

	<-entered
	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrCycleInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRunCancelledBetweenStages(t *testing.T) {
	f := newFixture(badReport())
	f.gatherer.addrs = []string{"1.1.1.1"}

	ctx, cancel := context.WithCancel(context.Background())
	f.checker.hook = func(int) { cancel() }

	out, err := f.orchestrator().Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ActionFail, out.Action)
	assert.Equal(t, 0, f.gatherer.calls)
}

func TestRunWaitsThroughClock(t *testing.T) {
	f := newFixture(badReport(), goodReport())
	f.cfg.SettleInterval = 2 * time.Second
	f.gatherer.addrs = []string{"1.1.1.1"}
	f.ranker.latency = map[string]float64{"1.1.1.1": 10}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				f.clock.Add(500 * time.Millisecond)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	out, err := f.orchestrator().Run(context.Background())
	close(done)
	require.NoError(t, err)
	assert.Equal(t, ActionFixed, out.Action)
}

func TestBuildMapping(t *testing.T) {
	names := []string{"github.com", "api.github.com", "gist.github.com"}

	assert.Empty(t, BuildMapping(names, nil))
	assert.Equal(t, map[string]string{
		"github.com":      "1.1.1.1",
		"api.github.com":  "2.2.2.2",
		"gist.github.com": "1.1.1.1",
	}, BuildMapping(names, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}))
}

func TestOutcomeSummary(t *testing.T) {
	out := Outcome{
		Action:         ActionFixed,
		Classification: types.ClassificationGood,
		LatencyMs:      150,
		IPs:            map[string]string{"github.com": "1.1.1.1"},
		Tried:          []string{"1.1.1.1", "2.2.2.2"},
		Succeeded:      []string{"1.1.1.1"},
		Message:        "reachability restored",
	}

	summary := out.Summary()
	assert.True(t, strings.HasPrefix(summary, "Result: fixed"))
	assert.Contains(t, summary, "Addresses tried: 2, succeeded: 1, failed: 1")
	assert.Contains(t, summary, "github.com -> 1.1.1.1")
}
