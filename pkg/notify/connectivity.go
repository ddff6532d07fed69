package notify

import (
	"context"
	"net"
	"time"
)

// DefaultProbeHost is a public DNS server reachable from any working uplink.
const DefaultProbeHost = "8.8.8.8:53"

// Connectivity reports whether the internet is reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// DialProbe checks connectivity by opening a TCP connection to Host.
type DialProbe struct {
	Host    string
	Timeout time.Duration
}

// Online dials the probe host once.
func (p DialProbe) Online(ctx context.Context) bool {
	host := p.Host
	if host == "" {
		host = DefaultProbeHost
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
