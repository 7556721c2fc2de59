// Package config loads the hostfix YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/cuemby/hostfix/pkg/candidates"
	"github.com/cuemby/hostfix/pkg/dns"
	"github.com/cuemby/hostfix/pkg/health"
	"github.com/cuemby/hostfix/pkg/hosts"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/quality"
	"github.com/cuemby/hostfix/pkg/ranker"
	"github.com/cuemby/hostfix/pkg/repair"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultRetentionDays is the age after which idle address records are pruned
const DefaultRetentionDays = 30

// Config is the complete hostfix configuration
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	DNS       DNSConfig       `yaml:"dns"`
	Addresses AddressesConfig `yaml:"addresses"`
	Ranker    RankerConfig    `yaml:"ranker"`
	Quality   QualityConfig   `yaml:"quality"`
	Repair    RepairConfig    `yaml:"repair"`
	Watch     WatchConfig     `yaml:"watch"`
	Paths     PathsConfig     `yaml:"paths"`
	Log       LogConfig       `yaml:"log"`
}

// ServiceConfig describes the monitored service
type ServiceConfig struct {
	// Hostnames are managed in the hosts file, primary first
	Hostnames      []string        `yaml:"hostnames"`
	Targets        []health.Target `yaml:"targets"`
	CleanupKeyword string          `yaml:"cleanup_keyword"`
	Port           int             `yaml:"port"`
}

// DNSConfig configures the resolvers queried for candidates
type DNSConfig struct {
	Servers        []string      `yaml:"servers"`
	Timeout        time.Duration `yaml:"timeout"`
	PerSourceLimit int           `yaml:"per_source_limit"`
	CacheSize      int           `yaml:"cache_size"`

	// CacheTTL keeps answers across watch ticks. Zero derives it from
	// watch.interval, see DNSCacheTTL.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// AddressesConfig holds the static candidate lists
type AddressesConfig struct {
	KnownGood              []string `yaml:"known_good"`
	DeepFallback           []string `yaml:"deep_fallback"`
	AlwaysIncludeKnownGood bool     `yaml:"always_include_known_good"`
}

// RankerConfig configures candidate measurement
type RankerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	PrefilterTimeout time.Duration `yaml:"prefilter_timeout"`
	MeasureTimeout   time.Duration `yaml:"measure_timeout"`
}

// QualityConfig configures scoring, blacklisting and history retention
type QualityConfig struct {
	Weights        quality.Weights `yaml:"weights"`
	Policy         quality.Policy  `yaml:"policy"`
	HistoryCap     int             `yaml:"history_cap"`
	RetentionDays  int             `yaml:"retention_days"`
	MinSuccessRate float64         `yaml:"min_success_rate"`
	MinSamples     int             `yaml:"min_samples"`
}

// RepairConfig configures the repair cycle and its reachability checks
type RepairConfig struct {
	SettleInterval    time.Duration `yaml:"settle_interval"`
	VerifyBackoff     time.Duration `yaml:"verify_backoff"`
	VerifyRetries     int           `yaml:"verify_retries"`
	DeepVerifyRetries int           `yaml:"deep_verify_retries"`
	CheckThreshold    time.Duration `yaml:"check_threshold"`
	CheckTimeout      time.Duration `yaml:"check_timeout"`
	CheckCacheTTL     time.Duration `yaml:"check_cache_ttl"`
	Backup            bool          `yaml:"backup"`
}

// WatchConfig configures the periodic repair loop
type WatchConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
	MetricsAddr      string        `yaml:"metrics_addr"`
}

// PathsConfig locates the hosts file and hostfix's own state
type PathsConfig struct {
	HostsFile string `yaml:"hosts_file"`
	DataDir   string `yaml:"data_dir"`

	// BackupDir defaults to <DataDir>/backups
	BackupDir string `yaml:"backup_dir"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	rk := ranker.DefaultConfig()
	rp := repair.DefaultConfig()
	hc := health.DefaultConfig()

	return &Config{
		Service: ServiceConfig{
			Hostnames:      slices.Clone(rp.Hostnames),
			Targets:        health.DefaultTargets(),
			CleanupKeyword: hosts.DefaultCleanupKeyword,
			Port:           rp.Port,
		},
		DNS: DNSConfig{
			Servers:        slices.Clone(dns.DefaultServers),
			Timeout:        dns.DefaultTimeout,
			PerSourceLimit: candidates.DefaultPerSourceLimit,
			CacheSize:      dns.DefaultCacheSize,
		},
		Addresses: AddressesConfig{
			KnownGood:    slices.Clone(rp.KnownGood),
			DeepFallback: slices.Clone(rp.DeepFallback),
		},
		Ranker: RankerConfig{
			Concurrency:      rk.Concurrency,
			PrefilterTimeout: rk.PrefilterTimeout,
			MeasureTimeout:   rk.MeasureTimeout,
		},
		Quality: QualityConfig{
			Weights:        quality.DefaultWeights(),
			Policy:         quality.DefaultPolicy(),
			HistoryCap:     quality.DefaultHistoryCap,
			RetentionDays:  DefaultRetentionDays,
			MinSuccessRate: 0.5,
			MinSamples:     2,
		},
		Repair: RepairConfig{
			SettleInterval:    rp.SettleInterval,
			VerifyBackoff:     rp.VerifyBackoff,
			VerifyRetries:     rp.VerifyRetries,
			DeepVerifyRetries: rp.DeepVerifyRetries,
			CheckThreshold:    health.DefaultThreshold,
			CheckTimeout:      health.DefaultCheckTimeout,
			CheckCacheTTL:     rp.CheckCacheTTL,
			Backup:            rp.Backup,
		},
		Watch: WatchConfig{
			Interval:         hc.Interval,
			FailureThreshold: hc.FailureThreshold,
		},
		Paths: PathsConfig{
			HostsFile: hosts.DefaultPath(),
			DataDir:   defaultDataDir(),
		},
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hostfix"
	}
	return filepath.Join(home, ".hostfix")
}

// Load reads path and merges it over Default. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf(format, args...))
		}
	}

	check(len(c.Service.Hostnames) > 0, "service.hostnames must not be empty")
	check(len(c.Service.Targets) > 0, "service.targets must not be empty")
	for i, t := range c.Service.Targets {
		check(t.Host != "", "service.targets[%d].host must be set", i)
		check(t.Port > 0 && t.Port < 65536, "service.targets[%d].port %d out of range", i, t.Port)
	}
	check(c.Service.Port > 0 && c.Service.Port < 65536, "service.port %d out of range", c.Service.Port)

	check(c.DNS.Timeout > 0, "dns.timeout must be positive")
	check(c.DNS.PerSourceLimit > 0, "dns.per_source_limit must be positive")
	check(c.DNS.CacheSize >= 0, "dns.cache_size must not be negative")
	check(c.DNS.CacheTTL >= 0, "dns.cache_ttl must not be negative")
	check(len(c.DNS.Servers) > 0 || len(c.Addresses.KnownGood) > 0,
		"dns.servers and addresses.known_good cannot both be empty")

	check(c.Ranker.Concurrency > 0, "ranker.concurrency must be positive")
	check(c.Ranker.PrefilterTimeout > 0, "ranker.prefilter_timeout must be positive")
	check(c.Ranker.MeasureTimeout > 0, "ranker.measure_timeout must be positive")

	w := c.Quality.Weights
	check(w.SuccessRate >= 0 && w.Speed >= 0 && w.Stability >= 0, "quality.weights must not be negative")
	check(w.SpeedCeilingMs > 0, "quality.weights.speed_ceiling_ms must be positive")
	check(w.VarianceScale > 0, "quality.weights.variance_scale must be positive")
	p := c.Quality.Policy
	check(p.TimeoutCount > 0, "quality.policy.timeout_count must be positive")
	check(p.Window > 0, "quality.policy.window must be positive")
	check(p.SlowCount > 0 && p.SlowCount <= p.Window, "quality.policy.slow_count must be in 1..window")
	check(c.Quality.HistoryCap >= p.Window, "quality.history_cap must be at least policy.window")
	check(c.Quality.RetentionDays > 0, "quality.retention_days must be positive")
	check(c.Quality.MinSuccessRate >= 0 && c.Quality.MinSuccessRate <= 1, "quality.min_success_rate must be in 0..1")

	check(c.Repair.SettleInterval >= 0, "repair.settle_interval must not be negative")
	check(c.Repair.VerifyBackoff >= 0, "repair.verify_backoff must not be negative")
	check(c.Repair.VerifyRetries > 0, "repair.verify_retries must be positive")
	check(c.Repair.DeepVerifyRetries > 0, "repair.deep_verify_retries must be positive")
	check(c.Repair.CheckTimeout > 0, "repair.check_timeout must be positive")
	check(c.Repair.CheckThreshold > 0 && c.Repair.CheckThreshold <= c.Repair.CheckTimeout,
		"repair.check_threshold must be in (0, check_timeout]")

	check(c.Watch.Interval > 0, "watch.interval must be positive")
	check(c.Watch.FailureThreshold > 0, "watch.failure_threshold must be positive")

	check(c.Paths.HostsFile != "", "paths.hosts_file must be set")
	check(c.Paths.DataDir != "", "paths.data_dir must be set")

	switch log.Level(c.Log.Level) {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		err = multierr.Append(err, errors.New("log.level must be debug, info, warn or error"))
	}

	return err
}

// BackupDir returns the configured backup directory
func (c *Config) BackupDir() string {
	if c.Paths.BackupDir != "" {
		return c.Paths.BackupDir
	}
	return filepath.Join(c.Paths.DataDir, "backups")
}

// QualityConfig returns the Quality Store configuration
func (c *Config) QualityConfig() quality.Config {
	return quality.Config{
		Weights:    c.Quality.Weights,
		Policy:     c.Quality.Policy,
		HistoryCap: c.Quality.HistoryCap,
	}
}

// Retention returns the prune age
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Quality.RetentionDays) * 24 * time.Hour
}

// DNSCacheTTL returns dns.cache_ttl, or one and a half watch intervals
// when unset so answers survive until the next watch tick
func (c *Config) DNSCacheTTL() time.Duration {
	if c.DNS.CacheTTL > 0 {
		return c.DNS.CacheTTL
	}
	return c.Watch.Interval + c.Watch.Interval/2
}

// AggregatorConfig returns the candidate aggregator configuration
func (c *Config) AggregatorConfig() candidates.Config {
	return candidates.Config{
		Hostnames:              c.Service.Hostnames,
		Servers:                c.DNS.Servers,
		KnownGood:              c.Addresses.KnownGood,
		PerSourceLimit:         c.DNS.PerSourceLimit,
		MinSuccessRate:         c.Quality.MinSuccessRate,
		MinSamples:             c.Quality.MinSamples,
		AlwaysIncludeKnownGood: c.Addresses.AlwaysIncludeKnownGood,
	}
}

// RankerConfig returns the ranker configuration
func (c *Config) RankerConfig() ranker.Config {
	return ranker.Config{
		Host:             c.Service.Hostnames[0],
		Concurrency:      c.Ranker.Concurrency,
		PrefilterTimeout: c.Ranker.PrefilterTimeout,
		MeasureTimeout:   c.Ranker.MeasureTimeout,
	}
}

// HostsConfig returns the override writer configuration
func (c *Config) HostsConfig() hosts.Config {
	return hosts.Config{
		Path:           c.Paths.HostsFile,
		BackupDir:      c.BackupDir(),
		Hostnames:      c.Service.Hostnames,
		CleanupKeyword: c.Service.CleanupKeyword,
	}
}

// OrchestratorConfig returns the repair orchestrator configuration
func (c *Config) OrchestratorConfig(force bool) repair.Config {
	return repair.Config{
		Hostnames:         c.Service.Hostnames,
		Port:              c.Service.Port,
		KnownGood:         c.Addresses.KnownGood,
		DeepFallback:      c.Addresses.DeepFallback,
		SettleInterval:    c.Repair.SettleInterval,
		VerifyBackoff:     c.Repair.VerifyBackoff,
		VerifyRetries:     c.Repair.VerifyRetries,
		DeepVerifyRetries: c.Repair.DeepVerifyRetries,
		CheckCacheTTL:     c.Repair.CheckCacheTTL,
		Force:             force,
		Backup:            c.Repair.Backup,
	}
}

// HealthConfig returns the watch loop health configuration
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		Interval:         c.Watch.Interval,
		Timeout:          c.Repair.CheckTimeout,
		FailureThreshold: c.Watch.FailureThreshold,
	}
}
