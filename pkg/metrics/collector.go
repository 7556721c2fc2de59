package metrics

import (
	"time"

	"github.com/cuemby/hostfix/pkg/types"
)

// QualitySource exposes the quality store state the collector samples
type QualitySource interface {
	Records() []*types.AddressRecord
	BlacklistEntries() []types.BlacklistEntry
}

// Collector periodically samples quality store gauges
type Collector struct {
	source   QualitySource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source QualitySource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples the source once
func (c *Collector) Collect() {
	AddressesTracked.Set(float64(len(c.source.Records())))

	counts := map[types.BlacklistReason]int{
		types.ReasonRepeatedTimeout:  0,
		types.ReasonPersistentlySlow: 0,
		types.ReasonUnstableLatency:  0,
		types.ReasonManual:           0,
	}
	for _, e := range c.source.BlacklistEntries() {
		counts[e.Reason]++
	}
	for reason, n := range counts {
		AddressesBlacklisted.WithLabelValues(string(reason)).Set(float64(n))
	}
}
