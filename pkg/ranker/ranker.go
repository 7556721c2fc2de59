package ranker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/hostfix/pkg/health"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/quality"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency      = 10
	DefaultPrefilterTimeout = time.Second
	DefaultMeasureTimeout   = 3 * time.Second
)

// Measurement is the ranking outcome for one candidate address
type Measurement struct {
	IP        string
	LatencyMs *float64
	OK        bool
	Err       error
	Phase     health.Phase
}

// Latency returns the latency for sorting, +Inf for failures
func (m Measurement) Latency() float64 {
	if !m.OK || m.LatencyMs == nil {
		return math.Inf(1)
	}
	return *m.LatencyMs
}

// TimedOut reports whether a failed measurement ran out of time
func (m Measurement) TimedOut() bool {
	return !m.OK && errors.Is(m.Err, types.ErrNetworkTimeout)
}

// ProbeFunc probes ip on port and reports the result
type ProbeFunc func(ctx context.Context, ip string, port int) health.Result

// Recorder receives every measurement and evaluates the blacklist policy
type Recorder interface {
	Record(ip string, latencyMs *float64, success bool) error
	RecordTimeout(ip string, latencyMs *float64) error
	EvaluatePolicy(ip string) (quality.Verdict, error)
}

// Config configures a Ranker
type Config struct {
	// Host is presented as SNI and Host header during full measurement
	Host string

	Concurrency      int
	PrefilterTimeout time.Duration
	MeasureTimeout   time.Duration

	// TLSConfig is used by the default full measurement probe
	TLSConfig *tls.Config
}

// DefaultConfig returns the stock ranker configuration
func DefaultConfig() Config {
	return Config{
		Host:             "github.com",
		Concurrency:      DefaultConcurrency,
		PrefilterTimeout: DefaultPrefilterTimeout,
		MeasureTimeout:   DefaultMeasureTimeout,
	}
}

// Ranker measures candidate addresses and orders them by latency
type Ranker struct {
	cfg       Config
	prefilter ProbeFunc
	measure   ProbeFunc
	recorder  Recorder
	logger    zerolog.Logger
}

// Option configures a Ranker
type Option func(*Ranker)

// WithPrefilter replaces the TCP connect pre-filter probe
func WithPrefilter(p ProbeFunc) Option {
	return func(r *Ranker) {
		r.prefilter = p
	}
}

// WithMeasure replaces the full TLS measurement probe
func WithMeasure(p ProbeFunc) Option {
	return func(r *Ranker) {
		r.measure = p
	}
}

// New creates a Ranker. recorder may be nil.
func New(cfg Config, recorder Recorder, opts ...Option) *Ranker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PrefilterTimeout <= 0 {
		cfg.PrefilterTimeout = DefaultPrefilterTimeout
	}
	if cfg.MeasureTimeout <= 0 {
		cfg.MeasureTimeout = DefaultMeasureTimeout
	}

	r := &Ranker{
		cfg:       cfg,
		prefilter: TCPProbe(cfg.PrefilterTimeout),
		measure:   TLSProbe(cfg.Host, cfg.MeasureTimeout, cfg.TLSConfig),
		recorder:  recorder,
		logger:    log.WithComponent("ranker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TCPProbe returns a connect-only probe
func TCPProbe(timeout time.Duration) ProbeFunc {
	return func(ctx context.Context, ip string, port int) health.Result {
		return health.NewTCPChecker(net.JoinHostPort(ip, strconv.Itoa(port))).
			WithTimeout(timeout).
			Check(ctx)
	}
}

// TLSProbe returns a probe that requests / from host through ip and
// reads the full response
func TLSProbe(host string, timeout time.Duration, tlsConfig *tls.Config) ProbeFunc {
	return func(ctx context.Context, ip string, port int) health.Result {
		return health.NewTLSChecker(host).
			WithAddress(net.JoinHostPort(ip, strconv.Itoa(port))).
			WithTimeout(timeout).
			WithTLSConfig(tlsConfig).
			WithReadBody(true).
			Check(ctx)
	}
}

// Rank pre-filters candidates with parallel TCP connects, measures the
// survivors one at a time and returns every candidate sorted by latency
// with failures last. Equal latencies keep candidate order.
func (r *Ranker) Rank(ctx context.Context, candidates []string, port int) []Measurement {
	results := make([]Measurement, len(candidates))
	alive := make([]bool, len(candidates))

	timer := metrics.NewTimer()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, ip := range candidates {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = Measurement{
						IP:    ip,
						Phase: health.PhasePrefilter,
						Err:   fmt.Errorf("prefilter panic: %v", rec),
					}
				}
			}()

			res := r.prefilter(gctx, ip, port)
			if res.Healthy {
				alive[i] = true
				return nil
			}
			results[i] = Measurement{
				IP:    ip,
				Phase: health.PhasePrefilter,
				Err:   resultErr(res),
			}
			return nil
		})
	}
	_ = g.Wait()
	timer.ObserveDurationVec(metrics.StageDuration, "prefilter")

	survivors := 0
	for i, ok := range alive {
		if !ok {
			metrics.AddressMeasurementsTotal.WithLabelValues(string(health.PhasePrefilter), "failure").Inc()
			r.record(results[i])
			continue
		}
		survivors++
		results[i] = r.measureOne(ctx, candidates[i], port)
		r.record(results[i])
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Latency() < results[j].Latency()
	})

	r.evaluate(results)

	ok := 0
	for _, m := range results {
		if m.OK {
			ok++
		}
	}
	r.logger.Info().
		Int("candidates", len(candidates)).
		Int("prefilter_passed", survivors).
		Int("succeeded", ok).
		Msg("Ranked candidates")

	return results
}

func (r *Ranker) measureOne(ctx context.Context, ip string, port int) Measurement {
	res := r.measure(ctx, ip, port)
	if !res.Healthy {
		metrics.AddressMeasurementsTotal.WithLabelValues(string(res.Phase), "failure").Inc()
		r.logger.Debug().Str("ip", ip).Str("phase", string(res.Phase)).Msg(res.Message)
		return Measurement{
			IP:    ip,
			Phase: res.Phase,
			Err:   resultErr(res),
		}
	}

	latency := res.LatencyMs()
	metrics.AddressMeasurementsTotal.WithLabelValues(string(health.PhaseDone), "success").Inc()
	metrics.AddressLatency.Observe(res.Duration.Seconds())
	r.logger.Debug().Str("ip", ip).Float64("latency_ms", latency).Msg("Measured address")

	return Measurement{
		IP:        ip,
		LatencyMs: &latency,
		OK:        true,
		Phase:     health.PhaseDone,
	}
}

func (r *Ranker) record(m Measurement) {
	if r.recorder == nil {
		return
	}
	var err error
	if m.TimedOut() {
		err = r.recorder.RecordTimeout(m.IP, m.LatencyMs)
	} else {
		err = r.recorder.Record(m.IP, m.LatencyMs, m.OK)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("ip", m.IP).Msg("Failed to record measurement")
	}
}

// evaluate runs the blacklist policy over the addresses measured this round
func (r *Ranker) evaluate(results []Measurement) {
	if r.recorder == nil {
		return
	}
	for _, m := range results {
		v, err := r.recorder.EvaluatePolicy(m.IP)
		if err != nil {
			r.logger.Warn().Err(err).Str("ip", m.IP).Msg("Failed to persist blacklist entry")
			continue
		}
		if v.Blacklist {
			r.logger.Warn().
				Str("ip", m.IP).
				Str("reason", string(v.Reason)).
				Msg("Address blacklisted")
		}
	}
}

// Successes returns the IPs of successful measurements in rank order
func Successes(results []Measurement) []string {
	var out []string
	for _, m := range results {
		if m.OK {
			out = append(out, m.IP)
		}
	}
	return out
}

func resultErr(res health.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("%s: %s", res.Phase, res.Message)
}
