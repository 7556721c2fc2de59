package dns

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err, "failed to listen")

	server := &dns.Server{
		PacketConn: pc,
		Handler:    handler,
	}

	started := make(chan struct{})
	server.NotifyStartedFunc = func() { close(started) }
	go func() {
		_ = server.ActivateAndServe()
	}()
	<-started

	t.Cleanup(func() { _ = server.Shutdown() })
	return pc.LocalAddr().String()
}

func answer(ips ...string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		for _, ip := range ips {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{
					Name:   r.Question[0].Name,
					Rrtype: dns.TypeA,
					Class:  dns.ClassINET,
					Ttl:    60,
				},
				A: net.ParseIP(ip),
			})
		}
		_ = w.WriteMsg(m)
	}
}

func TestLookup(t *testing.T) {
	t.Run("filters unusable answers", func(t *testing.T) {
		addr := startTestDNSServer(t, answer("140.82.112.3", "127.0.0.1", "0.0.0.0", "169.254.1.1", "140.82.112.3", "20.205.243.166"))
		c := NewClient(WithTimeout(time.Second))

		got := c.Lookup(context.Background(), "github.com", addr)
		assert.Equal(t, []netip.Addr{
			netip.MustParseAddr("140.82.112.3"),
			netip.MustParseAddr("20.205.243.166"),
		}, got)
	})

	t.Run("server failure returns empty", func(t *testing.T) {
		addr := startTestDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetRcode(r, dns.RcodeServerFailure)
			_ = w.WriteMsg(m)
		})
		c := NewClient(WithTimeout(time.Second))

		assert.Empty(t, c.Lookup(context.Background(), "github.com", addr))
	})

	t.Run("timeout returns empty", func(t *testing.T) {
		addr := startTestDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
			// never answer
		})
		c := NewClient(WithTimeout(200 * time.Millisecond))

		start := time.Now()
		assert.Empty(t, c.Lookup(context.Background(), "github.com", addr))
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("answers are cached", func(t *testing.T) {
		var hits atomic.Int32
		addr := startTestDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
			hits.Add(1)
			answer("140.82.113.3")(w, r)
		})
		c := NewClient(WithTimeout(time.Second))

		first := c.Lookup(context.Background(), "github.com", addr)
		second := c.Lookup(context.Background(), "GitHub.com", addr)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), hits.Load())

		c.Purge()
		c.Lookup(context.Background(), "github.com", addr)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("cache disabled", func(t *testing.T) {
		var hits atomic.Int32
		addr := startTestDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
			hits.Add(1)
			answer("140.82.113.3")(w, r)
		})
		c := NewClient(WithTimeout(time.Second), WithCache(0, 0))

		c.Lookup(context.Background(), "github.com", addr)
		c.Lookup(context.Background(), "github.com", addr)
		assert.Equal(t, int32(2), hits.Load())
	})
}

func TestWithPort(t *testing.T) {
	tests := map[string]string{
		"8.8.8.8":         "8.8.8.8:53",
		"8.8.8.8:5353":    "8.8.8.8:5353",
		"2001:4860::8888": "[2001:4860::8888]:53",
	}
	for in, want := range tests {
		assert.Equal(t, want, withPort(in), in)
	}
}

func TestUsable(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"140.82.112.3", true},
		{"10.0.0.1", true},
		{"127.0.0.1", false},
		{"0.0.0.0", false},
		{"169.254.10.1", false},
		{"224.0.0.1", false},
		{"2606:50c0::153", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Usable(netip.MustParseAddr(tt.ip)), tt.ip)
	}
}
