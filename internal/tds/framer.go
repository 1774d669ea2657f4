package tds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Framer performs TDS packet framing (chunk-on-write, assemble-on-read)
// over a net.Conn. It corresponds to the teacher's tds.Conn but drives
// the client side of the exchange: WritePacket is used for requests
// (LOGIN7, SQL_BATCH, ATTENTION, ...) and ReadPacketWithStatus for
// responses (REPLY token streams).
type Framer struct {
	mu         sync.Mutex
	netConn    net.Conn
	reader     *bufio.Reader
	writer     *bufio.Writer
	packetSize int
	spid       uint16
	packetSeq  uint8

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewFramer wraps netConn for TDS packet I/O. packetSeq starts at 1 as
// required by MS-TDS 2.2.3.1 (zero is not a valid sequence number).
func NewFramer(netConn net.Conn, packetSize int) *Framer {
	if packetSize < MinPacketSize || packetSize > MaxPacketSize {
		packetSize = DefaultPacketSize
	}
	return &Framer{
		netConn:    netConn,
		reader:     bufio.NewReaderSize(netConn, MaxPacketSize),
		writer:     bufio.NewWriterSize(netConn, MaxPacketSize),
		packetSize: packetSize,
		packetSeq:  1,
	}
}

// Rebind swaps the underlying net.Conn (used after the mid-stream TLS
// upgrade in internal/transport) while preserving packet sequencing.
func (f *Framer) Rebind(netConn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.netConn = netConn
	f.reader = bufio.NewReaderSize(netConn, MaxPacketSize)
	f.writer = bufio.NewWriterSize(netConn, MaxPacketSize)
}

func (f *Framer) NetConn() net.Conn { return f.netConn }

func (f *Framer) SetSPID(spid uint16) { f.spid = spid }
func (f *Framer) SPID() uint16        { return f.spid }

func (f *Framer) PacketSize() int { return f.packetSize }

func (f *Framer) SetPacketSize(size int) {
	if size >= MinPacketSize && size <= MaxPacketSize {
		f.packetSize = size
	}
}

func (f *Framer) SetReadTimeout(d time.Duration)  { f.readTimeout = d }
func (f *Framer) SetWriteTimeout(d time.Duration) { f.writeTimeout = d }

func (f *Framer) Close() error { return f.netConn.Close() }

// ReadPacketWithStatus reads one complete TDS message (assembled across
// continuation packets) and returns the type of the first packet plus
// its status byte, mirroring the teacher's tds.Conn.ReadPacketWithStatus.
func (f *Framer) ReadPacketWithStatus(ctx context.Context) (PacketType, PacketStatus, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		f.netConn.SetReadDeadline(dl)
	} else if f.readTimeout > 0 {
		f.netConn.SetReadDeadline(time.Now().Add(f.readTimeout))
	}

	hdr, err := ReadHeader(f.reader)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("reading packet header: %w", err)
	}
	typ := hdr.Type
	status := hdr.Status

	if hdr.Length < HeaderSize {
		return 0, 0, nil, fmt.Errorf("invalid packet length: %d", hdr.Length)
	}

	var data []byte
	payloadLen := hdr.PayloadLength()
	if payloadLen > 0 {
		chunk := make([]byte, payloadLen)
		if _, err := io.ReadFull(f.reader, chunk); err != nil {
			return 0, 0, nil, fmt.Errorf("reading packet payload: %w", err)
		}
		data = append(data, chunk...)
	}

	for !hdr.IsLastPacket() {
		if dl, ok := ctx.Deadline(); ok {
			f.netConn.SetReadDeadline(dl)
		} else if f.readTimeout > 0 {
			f.netConn.SetReadDeadline(time.Now().Add(f.readTimeout))
		}
		hdr, err = ReadHeader(f.reader)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("reading continuation header: %w", err)
		}
		payloadLen = hdr.PayloadLength()
		if payloadLen > 0 {
			chunk := make([]byte, payloadLen)
			if _, err := io.ReadFull(f.reader, chunk); err != nil {
				return 0, 0, nil, fmt.Errorf("reading continuation payload: %w", err)
			}
			data = append(data, chunk...)
		}
	}

	return typ, status, data, nil
}

// ReadPacket is ReadPacketWithStatus without the status byte.
func (f *Framer) ReadPacket(ctx context.Context) (PacketType, []byte, error) {
	t, _, data, err := f.ReadPacketWithStatus(ctx)
	return t, data, err
}

// WritePacket writes data as one or more TDS packets of pktType,
// splitting at packetSize-HeaderSize boundaries and marking the final
// chunk EOM. The sequence number wraps from 255 back to 1, never 0.
func (f *Framer) WritePacket(ctx context.Context, pktType PacketType, data []byte) error {
	return f.WritePacketStatus(ctx, pktType, data, StatusNormal)
}

// WritePacketStatus is WritePacket with extraStatus OR'd into the
// first chunk's status byte, used to set StatusResetConnection on a
// SQL_BATCH when a pooled connection's needs_reset flag is set.
func (f *Framer) WritePacketStatus(ctx context.Context, pktType PacketType, data []byte, extraStatus PacketStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		f.netConn.SetWriteDeadline(dl)
	} else if f.writeTimeout > 0 {
		f.netConn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}

	maxPayload := f.packetSize - HeaderSize
	remaining := data
	if len(remaining) == 0 {
		remaining = []byte{}
	}

	first := true
	for {
		isLast := len(remaining) <= maxPayload
		var chunk []byte
		if isLast {
			chunk = remaining
		} else {
			chunk = remaining[:maxPayload]
			remaining = remaining[maxPayload:]
		}

		status := StatusNormal
		if isLast {
			status = StatusEOM
		}
		if first {
			status |= extraStatus
			first = false
		}

		hdr := Header{
			Type:     pktType,
			Status:   status,
			Length:   uint16(HeaderSize + len(chunk)),
			SPID:     f.spid,
			PacketID: f.packetSeq,
		}

		if err := hdr.Write(f.writer); err != nil {
			return fmt.Errorf("writing packet header: %w", err)
		}
		if len(chunk) > 0 {
			if _, err := f.writer.Write(chunk); err != nil {
				return fmt.Errorf("writing packet data: %w", err)
			}
		}

		f.packetSeq++
		if f.packetSeq == 0 {
			f.packetSeq = 1
		}

		if isLast {
			break
		}
	}

	return f.writer.Flush()
}

// ResetPacketSequence resets the sequence number to 1, done after a
// RESETCONNECTION round trip or a fresh LOGIN7.
func (f *Framer) ResetPacketSequence() {
	f.mu.Lock()
	f.packetSeq = 1
	f.mu.Unlock()
}
