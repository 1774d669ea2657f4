// Package transport establishes and, where the negotiated encryption
// mode requires it, TLS-upgrades the TCP connection a Framer rides on.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/pkg/log"
	"github.com/hugr-lab/mssql-tds/pkg/mssqlerr"
)

// Options configures Dial.
type Options struct {
	DialTimeout time.Duration
	PacketSize  int
}

// DefaultOptions returns sane defaults grounded in the engine's
// connection-pool/timeout conventions.
func DefaultOptions() Options {
	return Options{
		DialTimeout: 15 * time.Second,
		PacketSize:  tds.DefaultPacketSize,
	}
}

// Transport owns the raw TCP connection and the Framer riding on it.
// It exists as a distinct component so TLS upgrade (which swaps the
// net.Conn a Framer reads/writes) stays isolated from connection-state
// concerns in internal/conn.
type Transport struct {
	Framer *tds.Framer
	addr   string
}

// Dial opens a TCP connection to addr ("host:port") and wraps it in a
// Framer sized per opts.PacketSize. No TLS is performed here; callers
// negotiate encryption via PRELOGIN first and call UpgradeTLS after.
func Dial(ctx context.Context, addr string, opts Options) (*Transport, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mssqlerr.Wrapf(err, mssqlerr.KindTransport, "dial %s", addr).Err()
	}
	if tc, ok := netConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	log.For("transport").WithField("addr", addr).Debug("tcp connected")

	return &Transport{
		Framer: tds.NewFramer(netConn, opts.PacketSize),
		addr:   addr,
	}, nil
}

// Close closes the underlying net.Conn.
func (t *Transport) Close() error {
	return t.Framer.Close()
}

func (t *Transport) String() string {
	return fmt.Sprintf("transport(%s)", t.addr)
}
