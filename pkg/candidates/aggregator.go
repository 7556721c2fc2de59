package candidates

import (
	"context"
	"net/netip"

	"github.com/cuemby/hostfix/pkg/dns"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/quality"
	"github.com/rs/zerolog"
)

// DefaultPerSourceLimit caps the addresses taken from one source
const DefaultPerSourceLimit = 8

// DefaultKnownGood are GitHub front-end addresses that have historically
// served github.com and api.github.com
var DefaultKnownGood = []string{
	"140.82.113.3",
	"140.82.114.3",
	"140.82.112.3",
	"140.82.114.4",
	"140.82.113.4",
	"20.205.243.166",
	"20.205.243.165",
	"20.199.111.5",
	"20.27.177.113",
}

// Resolver looks up the A records of host on one DNS server
type Resolver interface {
	Lookup(ctx context.Context, host, server string) []netip.Addr
}

// History supplies historically good addresses and the blacklist
type History interface {
	GoodAddresses(minSuccessRate float64, minSamples int) []quality.GoodAddress
	IsBlacklisted(ip string) bool
}

// Config configures an Aggregator
type Config struct {
	Hostnames []string
	Servers   []string
	KnownGood []string

	// PerSourceLimit caps each (hostname, server) answer and each of the
	// history and known-good lists
	PerSourceLimit int

	// MinSuccessRate and MinSamples filter the history source
	MinSuccessRate float64
	MinSamples     int

	// AlwaysIncludeKnownGood appends the static list even when DNS answered
	AlwaysIncludeKnownGood bool
}

// Aggregator collects candidate addresses from DNS, the quality history
// and a static known-good list
type Aggregator struct {
	cfg      Config
	resolver Resolver
	history  History
	logger   zerolog.Logger
}

// NewAggregator creates an aggregator. history may be nil.
func NewAggregator(cfg Config, resolver Resolver, history History) *Aggregator {
	if cfg.PerSourceLimit <= 0 {
		cfg.PerSourceLimit = DefaultPerSourceLimit
	}
	return &Aggregator{
		cfg:      cfg,
		resolver: resolver,
		history:  history,
		logger:   log.WithComponent("candidates"),
	}
}

// Gather returns the deduplicated candidates in priority order: DNS
// answers, then historically good addresses, then the known-good list.
// Blacklisted addresses are dropped from each source before the known-good
// list is considered, so it is used whenever DNS leaves nothing usable, or
// always when AlwaysIncludeKnownGood is set.
func (a *Aggregator) Gather(ctx context.Context) []string {
	dropped := 0
	allowed := func(ips []string) []string {
		out := ips[:0:0]
		for _, ip := range ips {
			if a.history != nil && a.history.IsBlacklisted(ip) {
				dropped++
				continue
			}
			out = append(out, ip)
		}
		return out
	}

	var fromDNS [][]string
	dnsCount := 0
	for _, host := range a.cfg.Hostnames {
		for _, server := range a.cfg.Servers {
			if ctx.Err() != nil {
				break
			}
			addrs := a.resolver.Lookup(ctx, host, server)
			ips := make([]string, 0, len(addrs))
			for _, addr := range addrs {
				if dns.Usable(addr) {
					ips = append(ips, addr.String())
				}
			}
			ips = limit(allowed(ips), a.cfg.PerSourceLimit)
			dnsCount += len(ips)
			fromDNS = append(fromDNS, ips)

			a.logger.Debug().
				Str("host", host).
				Str("server", server).
				Strs("addresses", ips).
				Msg("DNS source")
		}
	}
	metrics.CandidatesGathered.WithLabelValues("dns").Set(float64(dnsCount))

	var fromHistory []string
	if a.history != nil {
		for _, g := range a.history.GoodAddresses(a.cfg.MinSuccessRate, a.cfg.MinSamples) {
			fromHistory = append(fromHistory, g.IP)
		}
		fromHistory = limit(allowed(fromHistory), a.cfg.PerSourceLimit)
	}
	metrics.CandidatesGathered.WithLabelValues("history").Set(float64(len(fromHistory)))

	var fromStatic []string
	if dnsCount == 0 || a.cfg.AlwaysIncludeKnownGood {
		if dnsCount == 0 {
			a.logger.Warn().Msg("DNS yielded no usable candidates, using known-good addresses")
		}
		fromStatic = limit(allowed(a.cfg.KnownGood), a.cfg.PerSourceLimit)
	}
	metrics.CandidatesGathered.WithLabelValues("known_good").Set(float64(len(fromStatic)))

	out := Dedup(append(fromDNS, fromHistory, fromStatic)...)

	a.logger.Info().
		Int("dns", dnsCount).
		Int("history", len(fromHistory)).
		Int("known_good", len(fromStatic)).
		Int("blacklisted", dropped).
		Int("candidates", len(out)).
		Msg("Gathered candidates")

	return out
}

// Dedup concatenates lists, keeping the first occurrence of each address
func Dedup(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, ip := range list {
			if _, ok := seen[ip]; ok {
				continue
			}
			seen[ip] = struct{}{}
			out = append(out, ip)
		}
	}
	return out
}

func limit(ips []string, n int) []string {
	if n > 0 && len(ips) > n {
		return ips[:n]
	}
	return ips
}
