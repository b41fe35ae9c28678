// Package probe drives TLS reachability checks against camouflage domains
// and feeds the results into health scoring.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// HandshakeFunc completes a TLS handshake with the domain and reports the
// handshake latency plus the resolved address. Injectable for testing.
type HandshakeFunc func(ctx context.Context, domain string, timeout time.Duration) (latency time.Duration, addr net.IP, err error)

// TLSHandshake is the production HandshakeFunc: dial domain:443, handshake
// with SNI set to the domain, and measure wall time from dial start to
// handshake completion. A timeout counts as a failed probe.
func TLSHandshake(ctx context.Context, domain string, timeout time.Duration) (time.Duration, net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, "443"))
	if err != nil {
		return 0, nil, fmt.Errorf("dial %s: %w", domain, err)
	}
	defer conn.Close()

	var addr net.IP
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		addr = tcpAddr.IP
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: domain})
	defer tlsConn.Close()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return 0, addr, fmt.Errorf("tls handshake %s: %w", domain, err)
	}
	return time.Since(start), addr, nil
}
