package dns

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds a single query
	DefaultTimeout = 3 * time.Second

	// DefaultCacheSize is the number of (host, server) answers kept
	DefaultCacheSize = 256

	// DefaultCacheTTL is how long a non-empty answer is reused
	DefaultCacheTTL = 5 * time.Minute
)

// DefaultServers are the public resolvers queried for candidates
var DefaultServers = []string{
	"114.114.114.114",
	"8.8.8.8",
	"1.1.1.1",
	"8.8.4.4",
	"1.0.0.1",
	"223.5.5.5",
}

// Client issues A queries against explicit resolvers
type Client struct {
	client *dns.Client
	cache  *expirable.LRU[string, []netip.Addr]
	logger zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithDNSClient replaces the underlying miekg/dns client
func WithDNSClient(c *dns.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithTimeout sets the per-query timeout
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.client.Timeout = d
	}
}

// WithCache sets the answer cache size and TTL. A zero size disables it.
func WithCache(size int, ttl time.Duration) Option {
	return func(cl *Client) {
		if size <= 0 {
			cl.cache = nil
			return
		}
		cl.cache = expirable.NewLRU[string, []netip.Addr](size, nil, ttl)
	}
}

// NewClient creates a UDP DNS client with an answer cache
func NewClient(opts ...Option) *Client {
	c := &Client{
		client: &dns.Client{Net: "udp", Timeout: DefaultTimeout},
		cache:  expirable.NewLRU[string, []netip.Addr](DefaultCacheSize, nil, DefaultCacheTTL),
		logger: log.WithComponent("dns"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup queries server for the A records of host and returns the usable
// IPv4 addresses in answer order. Any failure yields an empty result.
func (c *Client) Lookup(ctx context.Context, host, server string) []netip.Addr {
	server = withPort(server)
	key := strings.ToLower(host) + "@" + server

	if c.cache != nil {
		if addrs, ok := c.cache.Get(key); ok {
			metrics.DNSQueriesTotal.WithLabelValues("cached").Inc()
			return append([]netip.Addr(nil), addrs...)
		}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := c.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		metrics.DNSQueriesTotal.WithLabelValues("error").Inc()
		c.logger.Debug().Err(err).Str("host", host).Str("server", server).Msg("DNS query failed")
		return nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		metrics.DNSQueriesTotal.WithLabelValues("error").Inc()
		c.logger.Debug().
			Str("host", host).
			Str("server", server).
			Str("rcode", dns.RcodeToString[resp.Rcode]).
			Msg("DNS server returned error")
		return nil
	}

	addrs := ParseA(resp)
	if len(addrs) == 0 {
		metrics.DNSQueriesTotal.WithLabelValues("empty").Inc()
		return nil
	}

	metrics.DNSQueriesTotal.WithLabelValues("answered").Inc()
	if c.cache != nil {
		c.cache.Add(key, append([]netip.Addr(nil), addrs...))
	}
	return addrs
}

// Purge drops every cached answer
func (c *Client) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// ParseA extracts the usable IPv4 addresses from the answer section,
// dropping duplicates
func ParseA(msg *dns.Msg) []netip.Addr {
	if msg == nil {
		return nil
	}

	var out []netip.Addr
	seen := make(map[netip.Addr]struct{})
	for _, rr := range msg.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.A)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if !Usable(addr) {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// Usable reports whether addr can be a replacement target: IPv4 and not
// loopback, link-local, multicast or unspecified
func Usable(addr netip.Addr) bool {
	return addr.Is4() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}
