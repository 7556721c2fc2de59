package main

import (
	"fmt"

	"github.com/cuemby/hostfix/pkg/candidates"
	"github.com/cuemby/hostfix/pkg/config"
	"github.com/cuemby/hostfix/pkg/dns"
	"github.com/cuemby/hostfix/pkg/events"
	"github.com/cuemby/hostfix/pkg/health"
	"github.com/cuemby/hostfix/pkg/hosts"
	"github.com/cuemby/hostfix/pkg/ledger"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/quality"
	"github.com/cuemby/hostfix/pkg/ranker"
	"github.com/cuemby/hostfix/pkg/repair"
	"github.com/cuemby/hostfix/pkg/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	store   storage.Store
	quality *quality.Store
	ledger  *ledger.Ledger
	writer  *hosts.Writer
	broker  *events.Broker
}

// loadConfig reads --config and applies the persistent flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Paths.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("hosts-file") {
		cfg.Paths.HostsFile, _ = flags.GetString("hosts-file")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("json-logs") {
		cfg.Log.JSON, _ = flags.GetBool("json-logs")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}

// newApp loads configuration and opens the store. When the database cannot
// be opened the commands keep working on an in-memory store.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("cli")

	var store storage.Store
	bolt, err := storage.NewBoltStore(cfg.Paths.DataDir)
	if err != nil {
		logger.Warn().Err(err).Str("data_dir", cfg.Paths.DataDir).
			Msg("Falling back to in-memory store, history will not persist")
		store = storage.NewMemoryStore()
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
	} else {
		store = bolt
		metrics.UpdateComponent(metrics.ComponentStore, true, "")
	}

	broker := events.NewBroker()
	broker.Start()

	return &app{
		cfg:     cfg,
		store:   store,
		quality: quality.NewStore(store, cfg.QualityConfig()),
		ledger:  ledger.New(store, ledger.WithBroker(broker)),
		writer:  hosts.NewWriter(cfg.HostsConfig()),
		broker:  broker,
	}, nil
}

// Close stops the broker and closes the store
func (a *app) Close() error {
	var err error
	a.broker.Stop()
	err = multierr.Append(err, a.store.Close())
	return err
}

func (a *app) reachability() *health.Reachability {
	r := health.NewReachability()
	r.Targets = a.cfg.Service.Targets
	r.Timeout = a.cfg.Repair.CheckTimeout
	r.Threshold = a.cfg.Repair.CheckThreshold
	return r
}

func (a *app) orchestrator(checker repair.Checker, force bool, opts ...repair.Option) *repair.Orchestrator {
	resolver := dns.NewClient(
		dns.WithTimeout(a.cfg.DNS.Timeout),
		dns.WithCache(a.cfg.DNS.CacheSize, a.cfg.DNSCacheTTL()),
	)
	gatherer := candidates.NewAggregator(a.cfg.AggregatorConfig(), resolver, a.quality)
	rnk := ranker.New(a.cfg.RankerConfig(), a.quality)

	opts = append([]repair.Option{
		repair.WithStateStore(a.store),
		repair.WithBroker(a.broker),
	}, opts...)

	return repair.New(a.cfg.OrchestratorConfig(force), checker, gatherer, rnk, a.writer, a.ledger, opts...)
}
