package quality

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/storage"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// DefaultHistoryCap bounds the per-address sample history
const DefaultHistoryCap = 50

// Config configures a quality Store
type Config struct {
	Weights    Weights
	Policy     Policy
	HistoryCap int
}

// DefaultConfig returns the stock weights, policy and history cap
func DefaultConfig() Config {
	return Config{
		Weights:    DefaultWeights(),
		Policy:     DefaultPolicy(),
		HistoryCap: DefaultHistoryCap,
	}
}

// GoodAddress is one entry of GoodAddresses
type GoodAddress struct {
	IP           string
	AvgLatencyMs float64
	SuccessRate  float64
}

// Store tracks per-address measurement statistics and the blacklist.
//
// The in-memory maps are authoritative. Every mutation is written through
// to the backing storage.Store; a failed write is logged and returned
// wrapped in types.ErrPersistence but the mutation is kept.
type Store struct {
	mu        sync.Mutex
	backend   storage.Store
	cfg       Config
	clock     clock.Clock
	records   map[string]*types.AddressRecord
	blacklist map[string]*types.BlacklistEntry
	logger    zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for timestamps
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// NewStore loads every address record and blacklist entry from backend.
// Load failures are logged and leave the store empty.
func NewStore(backend storage.Store, cfg Config, opts ...Option) *Store {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}

	s := &Store{
		backend:   backend,
		cfg:       cfg,
		clock:     clock.New(),
		records:   make(map[string]*types.AddressRecord),
		blacklist: make(map[string]*types.BlacklistEntry),
		logger:    log.WithComponent("quality"),
	}
	for _, opt := range opts {
		opt(s)
	}

	records, err := backend.ListAddresses()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load address records")
	}
	for _, rec := range records {
		s.records[rec.IP] = rec
	}

	entries, err := backend.ListBlacklist()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load blacklist")
	}
	for _, e := range entries {
		s.blacklist[e.IP] = e
	}

	s.logger.Debug().
		Int("addresses", len(s.records)).
		Int("blacklisted", len(s.blacklist)).
		Msg("Quality store loaded")

	return s
}

// Record adds one measurement for ip. latencyMs is nil when the
// measurement failed before a latency was known. A failure recorded here
// is not a timeout; use RecordTimeout for those.
func (s *Store) Record(ip string, latencyMs *float64, success bool) error {
	return s.record(ip, latencyMs, success, false)
}

// RecordTimeout adds a failed measurement for ip that timed out
func (s *Store) RecordTimeout(ip string, latencyMs *float64) error {
	return s.record(ip, latencyMs, false, true)
}

func (s *Store) record(ip string, latencyMs *float64, success, timeout bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[ip]
	if !ok {
		rec = types.NewAddressRecord(ip)
		s.records[ip] = rec
	}

	now := s.clock.Now()
	rec.TestCount++
	if latencyMs != nil {
		rec.TotalLatencyMs += *latencyMs
		rec.LatencyCount++
	}
	if success {
		rec.SuccessCount++
		rec.ConsecutiveSuccess++
		rec.LastResult = types.ResultSuccess
	} else {
		rec.ConsecutiveSuccess = 0
		rec.LastResult = types.ResultFailure
	}
	rec.LastUpdated = now

	sample := types.Sample{At: now, Success: success, Timeout: timeout}
	if latencyMs != nil {
		v := *latencyMs
		sample.LatencyMs = &v
	}
	rec.History = append(rec.History, sample)
	if len(rec.History) > s.cfg.HistoryCap {
		rec.History = append([]types.Sample(nil), rec.History[len(rec.History)-s.cfg.HistoryCap:]...)
	}

	return s.persistRecord(rec)
}

// Get returns a copy of the record for ip
func (s *Store) Get(ip string) (*types.AddressRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[ip]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Records returns copies of every record sorted by IP
func (s *Store) Records() []*types.AddressRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.AddressRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Score returns the composite score of ip, zero when unknown
func (s *Store) Score(ip string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg.Weights.ComputeScore(s.records[ip])
}

// GoodAddresses returns addresses with at least minSamples tests and a
// success rate of at least minSuccessRate, sorted by descending success
// rate, then ascending average latency, then IP.
func (s *Store) GoodAddresses(minSuccessRate float64, minSamples int) []GoodAddress {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []GoodAddress
	for ip, rec := range s.records {
		if rec.TestCount < minSamples || rec.SuccessCount == 0 {
			continue
		}
		rate := rec.SuccessRate()
		if rate < minSuccessRate {
			continue
		}
		out = append(out, GoodAddress{
			IP:           ip,
			AvgLatencyMs: rec.AvgLatencyMs(),
			SuccessRate:  rate,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		if out[i].AvgLatencyMs != out[j].AvgLatencyMs {
			return out[i].AvgLatencyMs < out[j].AvgLatencyMs
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// BestAddress returns the highest scoring address that is not blacklisted
func (s *Store) BestAddress() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := ""
	bestScore := 0.0
	for ip, rec := range s.records {
		if _, banned := s.blacklist[ip]; banned || rec.TestCount == 0 {
			continue
		}
		score := s.cfg.Weights.ComputeScore(rec)
		if best == "" || score > bestScore || (score == bestScore && ip < best) {
			best = ip
			bestScore = score
		}
	}
	return best, best != ""
}

// EvaluatePolicy checks ip against the blacklist policy and blacklists it
// when a reason matches. Already blacklisted addresses are left alone.
func (s *Store) EvaluatePolicy(ip string) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, banned := s.blacklist[ip]; banned {
		return Verdict{}, nil
	}
	rec, ok := s.records[ip]
	if !ok {
		return Verdict{}, nil
	}

	v := s.cfg.Policy.Evaluate(rec)
	if !v.Blacklist {
		return v, nil
	}

	s.logger.Info().
		Str("ip", ip).
		Str("reason", string(v.Reason)).
		Str("detail", v.Detail).
		Msg("Blacklisting address")

	return v, s.addBlacklist(ip, v.Reason, v.Detail)
}

// Blacklist adds ip to the blacklist, replacing any existing entry
func (s *Store) Blacklist(ip string, reason types.BlacklistReason, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addBlacklist(ip, reason, detail)
}

// Unblacklist removes ip from the blacklist. It reports whether ip was
// blacklisted.
func (s *Store) Unblacklist(ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blacklist[ip]; !ok {
		return false, nil
	}
	delete(s.blacklist, ip)

	if err := s.backend.DeleteBlacklist(ip); err != nil {
		return true, s.persistErr("unblacklist", ip, err)
	}
	return true, nil
}

// ClearBlacklist removes every blacklist entry
func (s *Store) ClearBlacklist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist = make(map[string]*types.BlacklistEntry)
	if err := s.backend.ClearBlacklist(); err != nil {
		return s.persistErr("clear blacklist", "", err)
	}
	return nil
}

// IsBlacklisted reports whether ip is blacklisted
func (s *Store) IsBlacklisted(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blacklist[ip]
	return ok
}

// BlacklistEntries returns every blacklist entry sorted by IP
func (s *Store) BlacklistEntries() []types.BlacklistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.BlacklistEntry, 0, len(s.blacklist))
	for _, e := range s.blacklist {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Prune deletes records not updated within maxAge and returns how many
// were removed. Blacklist entries are kept.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	var errs error
	for ip, rec := range s.records {
		if !rec.LastUpdated.Before(cutoff) {
			continue
		}
		delete(s.records, ip)
		removed++
		if err := s.backend.DeleteAddress(ip); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Pruned stale address records")
	}
	if errs != nil {
		return removed, s.persistErr("prune", "", errs)
	}
	return removed, nil
}

func (s *Store) addBlacklist(ip string, reason types.BlacklistReason, detail string) error {
	entry := &types.BlacklistEntry{
		IP:      ip,
		Reason:  reason,
		Detail:  detail,
		AddedAt: s.clock.Now(),
	}
	s.blacklist[ip] = entry

	if err := s.backend.PutBlacklist(entry); err != nil {
		return s.persistErr("blacklist", ip, err)
	}
	return nil
}

func (s *Store) persistRecord(rec *types.AddressRecord) error {
	if err := s.backend.PutAddress(rec); err != nil {
		return s.persistErr("record", rec.IP, err)
	}
	return nil
}

func (s *Store) persistErr(op, ip string, err error) error {
	s.logger.Warn().Err(err).Str("op", op).Str("ip", ip).Msg("Failed to persist quality data")
	return fmt.Errorf("%s %s: %w: %v", op, ip, types.ErrPersistence, err)
}
