package health

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// TLSChecker connects to an address, completes a TLS handshake with SNI set
// to Host, sends one GET request and reads the response.
type TLSChecker struct {
	// Host is the server name used for SNI, certificate verification and
	// the Host header (e.g., "github.com")
	Host string

	// Address is the dial address. When empty, Host:Port is dialed and
	// resolved through the system resolver.
	Address string

	// Port is used when Address is empty (default: 443)
	Port int

	// Path is the request path (default: "/")
	Path string

	// Timeout bounds the whole probe (default: 8 seconds)
	Timeout time.Duration

	// ReadBody drains the response until EOF or Timeout instead of stopping
	// after the status line and headers
	ReadBody bool

	// TLSConfig is cloned for each check; ServerName is always overridden
	TLSConfig *tls.Config
}

// NewTLSChecker creates a TLS checker for host on port 443
func NewTLSChecker(host string) *TLSChecker {
	return &TLSChecker{
		Host:    host,
		Port:    443,
		Path:    "/",
		Timeout: 8 * time.Second,
	}
}

// Check performs the TLS health check
func (c *TLSChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(phase Phase, err error) Result {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s failed: %v", phase, err),
			CheckedAt: start,
			Duration:  time.Since(start),
			Phase:     phase,
			Err:       classify(err),
		}
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.dialAddress())
	if err != nil {
		return fail(phaseOfDialError(err), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	cfg := &tls.Config{}
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	}
	cfg.ServerName = c.Host

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fail(PhaseHandshake, err)
	}

	path := c.Path
	if path == "" {
		path = "/"
	}
	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: hostfix\r\nConnection: close\r\n\r\n", path, c.Host)
	if _, err := io.WriteString(tlsConn, request); err != nil {
		return fail(PhaseRequest, err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(tlsConn), nil)
	if err != nil {
		return fail(PhaseResponse, err)
	}
	defer resp.Body.Close()

	if c.ReadBody {
		// Running out of time after the head arrived still counts as a
		// completed measurement
		if _, err := io.Copy(io.Discard, resp.Body); err != nil && !isTimeout(err) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fail(PhaseResponse, err)
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("HTTP %d from %s via %s", resp.StatusCode, c.Host, c.dialAddress()),
		CheckedAt: start,
		Duration:  time.Since(start),
		Phase:     PhaseDone,
	}
}

// Type returns the health check type
func (c *TLSChecker) Type() CheckType {
	return CheckTypeTLS
}

// WithAddress dials addr instead of resolving Host
func (c *TLSChecker) WithAddress(addr string) *TLSChecker {
	c.Address = addr
	return c
}

// WithTimeout sets the probe timeout
func (c *TLSChecker) WithTimeout(timeout time.Duration) *TLSChecker {
	c.Timeout = timeout
	return c
}

// WithTLSConfig sets the base TLS configuration
func (c *TLSChecker) WithTLSConfig(cfg *tls.Config) *TLSChecker {
	c.TLSConfig = cfg
	return c
}

// WithReadBody drains the full response body
func (c *TLSChecker) WithReadBody(read bool) *TLSChecker {
	c.ReadBody = read
	return c
}

func (c *TLSChecker) dialAddress() string {
	if c.Address != "" {
		return c.Address
	}
	port := c.Port
	if port == 0 {
		port = 443
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}
