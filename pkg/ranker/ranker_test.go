package ranker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/hostfix/pkg/health"
	"github.com/cuemby/hostfix/pkg/quality"
	"github.com/cuemby/hostfix/pkg/storage"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticTransport answers every probe from fixed tables
type staticTransport struct {
	unreachable map[string]bool
	silent      map[string]bool
	latency     map[string]time.Duration
	failPhase   map[string]health.Phase
}

func (s staticTransport) prefilter(ctx context.Context, ip string, port int) health.Result {
	if s.silent[ip] {
		return health.Result{Healthy: false, Phase: health.PhaseConnect, Err: types.ErrNetworkTimeout}
	}
	if s.unreachable[ip] {
		return health.Result{Healthy: false, Phase: health.PhaseConnect, Message: "refused"}
	}
	return health.Result{Healthy: true, Phase: health.PhaseDone}
}

func (s staticTransport) measure(ctx context.Context, ip string, port int) health.Result {
	if phase, ok := s.failPhase[ip]; ok {
		return health.Result{Healthy: false, Phase: phase, Err: types.ErrNetworkTimeout}
	}
	return health.Result{Healthy: true, Phase: health.PhaseDone, Duration: s.latency[ip]}
}

func newStaticRanker(tr staticTransport, rec Recorder) *Ranker {
	return New(DefaultConfig(), rec, WithPrefilter(tr.prefilter), WithMeasure(tr.measure))
}

func ips(results []Measurement) []string {
	out := make([]string, len(results))
	for i, m := range results {
		out[i] = m.IP
	}
	return out
}

func TestRankOrdersByLatencyFailuresLast(t *testing.T) {
	tr := staticTransport{
		unreachable: map[string]bool{"5.5.5.5": true},
		latency: map[string]time.Duration{
			"1.1.1.1": 300 * time.Millisecond,
			"2.2.2.2": 100 * time.Millisecond,
			"3.3.3.3": 200 * time.Millisecond,
		},
		failPhase: map[string]health.Phase{"4.4.4.4": health.PhaseHandshake},
	}
	candidates := []string{"5.5.5.5", "1.1.1.1", "4.4.4.4", "2.2.2.2", "3.3.3.3"}

	results := newStaticRanker(tr, nil).Rank(context.Background(), candidates, 443)

	assert.Equal(t, []string{"2.2.2.2", "3.3.3.3", "1.1.1.1", "5.5.5.5", "4.4.4.4"}, ips(results))
	assert.Equal(t, []string{"2.2.2.2", "3.3.3.3", "1.1.1.1"}, Successes(results))

	require.NotNil(t, results[0].LatencyMs)
	assert.Equal(t, 100.0, *results[0].LatencyMs)

	assert.Equal(t, health.PhasePrefilter, results[3].Phase)
	assert.Nil(t, results[3].LatencyMs)
	assert.Equal(t, health.PhaseHandshake, results[4].Phase)
	assert.ErrorIs(t, results[4].Err, types.ErrNetworkTimeout)
}

func TestRankIsIdempotent(t *testing.T) {
	tr := staticTransport{
		latency: map[string]time.Duration{
			"1.1.1.1": 50 * time.Millisecond,
			"2.2.2.2": 50 * time.Millisecond,
			"3.3.3.3": 20 * time.Millisecond,
			"4.4.4.4": 90 * time.Millisecond,
		},
		unreachable: map[string]bool{"6.6.6.6": true, "7.7.7.7": true},
	}
	candidates := []string{"6.6.6.6", "1.1.1.1", "2.2.2.2", "7.7.7.7", "3.3.3.3", "4.4.4.4"}
	r := newStaticRanker(tr, nil)

	first := ips(r.Rank(context.Background(), candidates, 443))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ips(r.Rank(context.Background(), candidates, 443)))
	}
	// Ties keep candidate order
	assert.Equal(t, []string{"3.3.3.3", "1.1.1.1", "2.2.2.2", "4.4.4.4", "6.6.6.6", "7.7.7.7"}, first)
}

func TestRankRecordsEveryCandidate(t *testing.T) {
	store := quality.NewStore(storage.NewMemoryStore(), quality.DefaultConfig())
	tr := staticTransport{
		unreachable: map[string]bool{"9.9.9.9": true},
		silent:      map[string]bool{"8.8.4.4": true},
		latency:     map[string]time.Duration{"1.1.1.1": 40 * time.Millisecond},
	}
	r := newStaticRanker(tr, store)
	candidates := []string{"1.1.1.1", "9.9.9.9", "8.8.4.4"}

	r.Rank(context.Background(), candidates, 443)

	rec, ok := store.Get("1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.SuccessCount)
	rec, ok = store.Get("9.9.9.9")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TestCount)
	assert.Equal(t, 0, rec.SuccessCount)
	assert.False(t, rec.History[0].Timeout)
	rec, ok = store.Get("8.8.4.4")
	require.True(t, ok)
	assert.True(t, rec.History[0].Timeout)
	assert.False(t, store.IsBlacklisted("8.8.4.4"))

	// A second timeout trips repeated-timeout, refused connections never do
	r.Rank(context.Background(), candidates, 443)
	r.Rank(context.Background(), candidates, 443)
	assert.True(t, store.IsBlacklisted("8.8.4.4"))
	assert.False(t, store.IsBlacklisted("9.9.9.9"))
	assert.False(t, store.IsBlacklisted("1.1.1.1"))

	entries := store.BlacklistEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.ReasonRepeatedTimeout, entries[0].Reason)
}

func TestRankPersistentlySlowBlacklisted(t *testing.T) {
	store := quality.NewStore(storage.NewMemoryStore(), quality.DefaultConfig())
	tr := staticTransport{latency: map[string]time.Duration{"8.8.8.8": 900 * time.Millisecond}}
	r := newStaticRanker(tr, store)

	for i := 0; i < 3; i++ {
		r.Rank(context.Background(), []string{"8.8.8.8"}, 443)
	}

	entries := store.BlacklistEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.ReasonPersistentlySlow, entries[0].Reason)
}

func TestRankBoundsPrefilterConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	var mu sync.Mutex
	seen := map[string]bool{}

	prefilter := func(ctx context.Context, ip string, port int) health.Result {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)

		mu.Lock()
		seen[ip] = true
		mu.Unlock()
		return health.Result{Healthy: false, Phase: health.PhaseConnect}
	}

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	r := New(cfg, nil, WithPrefilter(prefilter))

	var candidates []string
	for i := 0; i < 12; i++ {
		candidates = append(candidates, "10.0.0."+string(rune('a'+i)))
	}
	results := r.Rank(context.Background(), candidates, 443)

	assert.Len(t, results, 12)
	assert.Len(t, seen, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Empty(t, Successes(results))
}

func TestRankRecoversPrefilterPanic(t *testing.T) {
	r := New(DefaultConfig(), nil, WithPrefilter(func(ctx context.Context, ip string, port int) health.Result {
		panic("boom")
	}))

	results := r.Rank(context.Background(), []string{"1.1.1.1"}, 443)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Error(t, results[0].Err)
}
