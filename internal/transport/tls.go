package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/pkg/mssqlerr"
)

// UpgradeTLS performs the mid-stream TLS handshake TDS requires: the
// client's TLS handshake records travel wrapped inside PRELOGIN
// packets (MS-TDS 2.2.6.4/2.2.7), and only once the handshake
// completes does the connection switch to sending raw TLS records
// directly over the socket. This inverts the teacher's server-side
// tlsHandshakeConn (which detects wrapped-vs-raw from a client); as
// the client here, this engine always initiates in wrapped mode.
func (t *Transport) UpgradeTLS(ctx context.Context, config *tls.Config) error {
	switchable := &switchableConn{inner: newHandshakeConn(ctx, t.Framer)}
	tlsConn := tls.Client(switchable, config)

	deadline := time.Now().Add(30 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = t.Framer.NetConn().SetDeadline(deadline)
	defer t.Framer.NetConn().SetDeadline(time.Time{})

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return mssqlerr.Wrap(err, mssqlerr.KindTransport, "tls handshake").Err()
	}

	// Past the handshake, TLS records ride directly on the raw socket;
	// further Framer reads/writes go through tlsConn transparently.
	switchable.mu.Lock()
	switchable.inner = t.Framer.NetConn()
	switchable.mu.Unlock()

	t.Framer.Rebind(tlsConn)
	return nil
}

// handshakeConn adapts a Framer to io.Reader/io.Writer for the TLS
// handshake phase, wrapping every outbound chunk in a PRELOGIN packet
// and unwrapping inbound PRELOGIN packets into a read buffer.
type handshakeConn struct {
	ctx     context.Context
	framer  *tds.Framer
	readBuf []byte
	readPos int
}

func newHandshakeConn(ctx context.Context, framer *tds.Framer) *handshakeConn {
	return &handshakeConn{ctx: ctx, framer: framer}
}

func (h *handshakeConn) Read(b []byte) (int, error) {
	if h.readPos >= len(h.readBuf) {
		typ, data, err := h.framer.ReadPacket(h.ctx)
		if err != nil {
			return 0, err
		}
		if typ != tds.PacketPrelogin {
			return 0, fmt.Errorf("tds: expected PRELOGIN packet during TLS handshake, got %s", typ)
		}
		h.readBuf = data
		h.readPos = 0
	}
	n := copy(b, h.readBuf[h.readPos:])
	h.readPos += n
	return n, nil
}

func (h *handshakeConn) Write(b []byte) (int, error) {
	if err := h.framer.WritePacket(h.ctx, tds.PacketPrelogin, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// switchableConn lets the same *tls.Conn keep operating after its
// underlying transport switches from wrapped (handshakeConn) to raw
// (the plain net.Conn) once the handshake completes.
type switchableConn struct {
	mu    sync.Mutex
	inner interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
	}
}

func (s *switchableConn) Read(b []byte) (int, error) {
	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	return inner.Read(b)
}

func (s *switchableConn) Write(b []byte) (int, error) {
	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	return inner.Write(b)
}

func (s *switchableConn) Close() error {
	if c, ok := s.inner.(net.Conn); ok {
		return c.Close()
	}
	return nil
}

func (s *switchableConn) LocalAddr() net.Addr {
	if c, ok := s.inner.(net.Conn); ok {
		return c.LocalAddr()
	}
	return nil
}

func (s *switchableConn) RemoteAddr() net.Addr {
	if c, ok := s.inner.(net.Conn); ok {
		return c.RemoteAddr()
	}
	return nil
}

func (s *switchableConn) SetDeadline(t time.Time) error {
	if c, ok := s.inner.(net.Conn); ok {
		return c.SetDeadline(t)
	}
	return nil
}

func (s *switchableConn) SetReadDeadline(t time.Time) error {
	if c, ok := s.inner.(net.Conn); ok {
		return c.SetReadDeadline(t)
	}
	return nil
}

func (s *switchableConn) SetWriteDeadline(t time.Time) error {
	if c, ok := s.inner.(net.Conn); ok {
		return c.SetWriteDeadline(t)
	}
	return nil
}
