package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultConnectTimeout bounds a TCP connect probe
const DefaultConnectTimeout = time.Second

// TCPChecker measures how long a TCP handshake with Address takes. It is
// the cheap pre-filter used before a full TLS measurement.
type TCPChecker struct {
	Address string
	Timeout time.Duration

	// Dialer overrides the dialer; its Timeout is ignored in favour of
	// Timeout.
	Dialer *net.Dialer
}

// NewTCPChecker creates a connect probe for address ("ip:port")
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: DefaultConnectTimeout,
	}
}

// WithTimeout sets the connect timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

// Type returns CheckTypeTCP
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// Check connects and immediately closes the connection
func (t *TCPChecker) Check(ctx context.Context) Result {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	var d net.Dialer
	if t.Dialer != nil {
		d = *t.Dialer
	}
	d.Timeout = 0

	res := Result{CheckedAt: time.Now()}
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	res.Duration = time.Since(res.CheckedAt)
	if err != nil {
		res.Phase = phaseOfDialError(err)
		res.Err = classify(err)
		res.Message = fmt.Sprintf("connect %s: %v", t.Address, err)
		return res
	}
	_ = conn.Close()

	res.Healthy = true
	res.Phase = PhaseDone
	res.Message = fmt.Sprintf("connected to %s in %s", t.Address, res.Duration.Round(time.Millisecond))
	return res
}
