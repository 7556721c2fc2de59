package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleep := 50 * time.Millisecond
	time.Sleep(sleep)

	first := timer.Duration()
	if first < sleep {
		t.Errorf("Timer.Duration() = %v, want >= %v", first, sleep)
	}

	time.Sleep(10 * time.Millisecond)
	if second := timer.Duration(); second <= first {
		t.Errorf("Duration should keep increasing: first=%v, second=%v", first, second)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_stage_duration_seconds",
			Help:    "Test stage duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "rank")
	timer.ObserveDurationVec(vec, "rank")
	timer.ObserveDurationVec(vec, "patch")

	if got := testutil.CollectAndCount(vec); got != 2 {
		t.Errorf("expected 2 label series, got %d", got)
	}
}
