package quality

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/storage"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(v float64) *float64 { return &v }

// refused marks a failed sample that did not time out
var refused = ms(-1)

func newTestStore(t *testing.T) (*Store, *clock.Mock, storage.Store) {
	t.Helper()
	backend := storage.NewMemoryStore()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewStore(backend, DefaultConfig(), WithClock(mock)), mock, backend
}

func TestRecordKeepsSuccessCountBounded(t *testing.T) {
	s, _, _ := newTestStore(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		ip := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}[rng.Intn(3)]
		success := rng.Intn(2) == 0
		var latency *float64
		if success {
			latency = ms(float64(rng.Intn(900)))
		}
		require.NoError(t, s.Record(ip, latency, success))

		rec, ok := s.Get(ip)
		require.True(t, ok)
		assert.LessOrEqual(t, rec.SuccessCount, rec.TestCount)
		assert.LessOrEqual(t, len(rec.History), DefaultHistoryCap)
	}
}

func TestRecordCounters(t *testing.T) {
	s, _, backend := newTestStore(t)

	require.NoError(t, s.Record("1.1.1.1", ms(100), true))
	require.NoError(t, s.Record("1.1.1.1", ms(200), true))
	require.NoError(t, s.Record("1.1.1.1", nil, false))

	rec, ok := s.Get("1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, 3, rec.TestCount)
	assert.Equal(t, 2, rec.SuccessCount)
	assert.Equal(t, 0, rec.ConsecutiveSuccess)
	assert.Equal(t, types.ResultFailure, rec.LastResult)
	assert.Equal(t, 150.0, rec.AvgLatencyMs())

	// Written through
	stored, err := backend.GetAddress("1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.TestCount)

	require.NoError(t, s.Record("1.1.1.1", ms(90), true))
	rec, _ = s.Get("1.1.1.1")
	assert.Equal(t, 1, rec.ConsecutiveSuccess)
}

func TestStoreReloadsFromBackend(t *testing.T) {
	backend := storage.NewMemoryStore()
	s := NewStore(backend, DefaultConfig())
	require.NoError(t, s.Record("1.1.1.1", ms(50), true))
	require.NoError(t, s.Blacklist("9.9.9.9", types.ReasonManual, "operator"))

	reloaded := NewStore(backend, DefaultConfig())
	rec, ok := reloaded.Get("1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TestCount)
	assert.True(t, reloaded.IsBlacklisted("9.9.9.9"))
}

func TestScoreMonotonicity(t *testing.T) {
	w := DefaultWeights()

	t.Run("non-decreasing in success rate", func(t *testing.T) {
		prev := -1.0
		for _, rate := range []float64{0, 0.1, 0.5, 0.8, 1} {
			score := w.combine(rate, 200, 50)
			assert.GreaterOrEqual(t, score, prev)
			prev = score
		}
	})

	t.Run("non-increasing in latency", func(t *testing.T) {
		prev := 1e9
		for _, latency := range []float64{0, 50, 200, 999, 1000, 5000} {
			score := w.combine(0.9, latency, 50)
			assert.LessOrEqual(t, score, prev)
			prev = score
		}
	})

	t.Run("non-increasing in variance", func(t *testing.T) {
		prev := 1e9
		for _, v := range []float64{0, 10, 100, 10000} {
			score := w.combine(0.9, 200, v)
			assert.LessOrEqual(t, score, prev)
			prev = score
		}
	})
}

func TestScoreUnknownAndFailingAddresses(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.Equal(t, 0.0, s.Score("203.0.113.1"))

	require.NoError(t, s.Record("1.1.1.1", nil, false))
	require.NoError(t, s.Record("2.2.2.2", ms(100), true))
	assert.Less(t, s.Score("1.1.1.1"), s.Score("2.2.2.2"))
}

func TestGoodAddresses(t *testing.T) {
	s, _, _ := newTestStore(t)

	record := func(ip string, results ...float64) {
		for _, r := range results {
			if r < 0 {
				require.NoError(t, s.Record(ip, nil, false))
				continue
			}
			require.NoError(t, s.Record(ip, ms(r), true))
		}
	}

	record("10.0.0.1", 300, 300, 300)
	record("10.0.0.2", 100, 100, 100)
	record("10.0.0.3", 50, -1, 50)
	record("10.0.0.4", 10) // too few samples
	record("10.0.0.5", -1, -1, -1)

	good := s.GoodAddresses(0, 3)
	require.Len(t, good, 3)
	assert.Equal(t, "10.0.0.2", good[0].IP)
	assert.Equal(t, "10.0.0.1", good[1].IP)
	assert.Equal(t, "10.0.0.3", good[2].IP)

	good = s.GoodAddresses(0.9, 3)
	require.Len(t, good, 2)
}

func TestBestAddressSkipsBlacklisted(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, ok := s.BestAddress()
	assert.False(t, ok)

	require.NoError(t, s.Record("1.1.1.1", ms(20), true))
	require.NoError(t, s.Record("2.2.2.2", ms(400), true))

	best, ok := s.BestAddress()
	require.True(t, ok)
	assert.Equal(t, "1.1.1.1", best)

	require.NoError(t, s.Blacklist("1.1.1.1", types.ReasonManual, ""))
	best, ok = s.BestAddress()
	require.True(t, ok)
	assert.Equal(t, "2.2.2.2", best)
}

func TestEvaluatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		samples []*float64
		want    types.BlacklistReason
	}{
		{
			name:    "two consecutive timeouts",
			samples: []*float64{ms(80), nil, nil},
			want:    types.ReasonRepeatedTimeout,
		},
		{
			name:    "refused connections are not timeouts",
			samples: []*float64{refused, refused, refused},
			want:    "",
		},
		{
			name:    "timeout streak broken by refusal",
			samples: []*float64{nil, refused, nil},
			want:    "",
		},
		{
			name:    "three slow latencies",
			samples: []*float64{ms(600), ms(700), ms(800)},
			want:    types.ReasonPersistentlySlow,
		},
		{
			name:    "high variance",
			samples: []*float64{ms(10), ms(100), ms(10), ms(100), ms(10)},
			want:    types.ReasonUnstableLatency,
		},
		{
			name:    "timeout streak broken by success",
			samples: []*float64{nil, ms(50), nil},
			want:    "",
		},
		{
			name:    "steady and fast",
			samples: []*float64{ms(50), ms(52), ms(49), ms(51), ms(50)},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, backend := newTestStore(t)
			for _, l := range tt.samples {
				switch l {
				case nil:
					require.NoError(t, s.RecordTimeout("1.1.1.1", nil))
				case refused:
					require.NoError(t, s.Record("1.1.1.1", nil, false))
				default:
					require.NoError(t, s.Record("1.1.1.1", l, true))
				}
			}

			v, err := s.EvaluatePolicy("1.1.1.1")
			require.NoError(t, err)

			if tt.want == "" {
				assert.False(t, v.Blacklist)
				assert.False(t, s.IsBlacklisted("1.1.1.1"))
				return
			}
			assert.True(t, v.Blacklist)
			assert.Equal(t, tt.want, v.Reason)
			assert.True(t, s.IsBlacklisted("1.1.1.1"))

			entries, err := backend.ListBlacklist()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.want, entries[0].Reason)

			// Blacklisting does not stop measurement history
			require.NoError(t, s.Record("1.1.1.1", ms(40), true))
			rec, _ := s.Get("1.1.1.1")
			assert.Equal(t, len(tt.samples)+1, rec.TestCount)
		})
	}
}

func TestBlacklistOperations(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Blacklist("1.1.1.1", types.ReasonManual, "a"))
	require.NoError(t, s.Blacklist("2.2.2.2", types.ReasonManual, "b"))
	assert.Len(t, s.BlacklistEntries(), 2)

	removed, err := s.Unblacklist("1.1.1.1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Unblacklist("1.1.1.1")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, s.ClearBlacklist())
	assert.Empty(t, s.BlacklistEntries())
}

func TestPrune(t *testing.T) {
	s, mock, backend := newTestStore(t)

	require.NoError(t, s.Record("1.1.1.1", ms(20), true))
	mock.Add(40 * 24 * time.Hour)
	require.NoError(t, s.Record("2.2.2.2", ms(20), true))

	removed, err := s.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := s.Get("1.1.1.1")
	assert.False(t, ok)
	_, err = backend.GetAddress("1.1.1.1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, ok = s.Get("2.2.2.2")
	assert.True(t, ok)
}

type failingBackend struct {
	*storage.MemoryStore
}

func (failingBackend) PutAddress(*types.AddressRecord) error {
	return errors.New("disk full")
}

func TestRecordPersistenceFailureKeepsMemoryState(t *testing.T) {
	s := NewStore(failingBackend{storage.NewMemoryStore()}, DefaultConfig())

	err := s.Record("1.1.1.1", ms(30), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPersistence)

	rec, ok := s.Get("1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TestCount)
}

func TestHistoryCap(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), Config{Weights: DefaultWeights(), Policy: DefaultPolicy(), HistoryCap: 5})
	for i := 0; i < 12; i++ {
		require.NoError(t, s.Record("1.1.1.1", ms(float64(i)), true))
	}

	rec, _ := s.Get("1.1.1.1")
	require.Len(t, rec.History, 5)
	assert.Equal(t, 7.0, *rec.History[0].LatencyMs)
	assert.Equal(t, 11.0, *rec.History[4].LatencyMs)
}
