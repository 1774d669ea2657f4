// Package tdsfake runs a minimal in-process TDS server: just enough
// PRELOGIN/LOGIN7 wire behavior for internal/conn.Connect to complete a
// handshake against a loopback listener, without a real SQL Server.
// Nothing here validates client input; it exists purely so
// connection-pool, transaction and connection-state tests can exercise
// real wire framing instead of mocking *conn.Connection directly.
package tdsfake

import (
	"context"
	"encoding/binary"
	"net"
	"strings"
	"sync/atomic"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

// Server accepts TDS connections on a loopback port and answers every
// PRELOGIN/LOGIN7 handshake the same way: encryption off, login
// accepted, database "master".
type Server struct {
	ln       net.Listener
	Database string
	accepted atomic.Int64

	// redirectHost, when non-empty, makes the next accepted LOGIN7 get an
	// ENVCHANGE routing token instead of a LOGINACK; redirectConsumed
	// clears it after one use so a chain of redirects can be tested by
	// arming two servers in turn.
	redirectHost     atomic.Value
	redirectPort     atomic.Uint32
	redirectConsumed atomic.Bool
}

// RedirectOnce arms the server's next accepted connection to receive a
// routing ENVCHANGE pointing at host:port instead of completing login.
func (s *Server) RedirectOnce(host string, port uint16) {
	s.redirectHost.Store(host)
	s.redirectPort.Store(uint32(port))
	s.redirectConsumed.Store(false)
}

// Start listens on 127.0.0.1:0 and serves connections until Close is
// called. Each accepted connection is handled in its own goroutine.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, Database: "master"}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the "host:port" a client should dial.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Accepted returns how many connections have been accepted so far.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) acceptLoop() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(netConn net.Conn) {
	defer netConn.Close()
	fr := tds.NewFramer(netConn, tds.DefaultPacketSize)
	ctx := context.Background()

	if _, _, err := fr.ReadPacket(ctx); err != nil {
		return
	}
	if err := fr.WritePacket(ctx, tds.PacketPrelogin, buildPreloginResponse()); err != nil {
		return
	}

	if _, _, err := fr.ReadPacket(ctx); err != nil {
		return
	}

	if host, _ := s.redirectHost.Load().(string); host != "" && s.redirectConsumed.CompareAndSwap(false, true) {
		port := uint16(s.redirectPort.Load())
		if err := fr.WritePacket(ctx, tds.PacketReply, buildRoutingReply(host, port)); err != nil {
			return
		}
		return
	}

	if err := fr.WritePacket(ctx, tds.PacketReply, buildLoginReply(s.Database)); err != nil {
		return
	}

	// Afterward, fake just enough of SQL Server's transaction-descriptor
	// bookkeeping for internal/txn's tests: a BEGIN TRANSACTION batch
	// gets back an ENVCHANGE with a nonzero descriptor, the outermost
	// COMMIT or any ROLLBACK gets one clearing it back to zero, and a
	// COMMIT inside a nested BEGIN gets a bare DONE. Everything else
	// (SELECT 1, SET TRANSACTION ISOLATION LEVEL, SAVE TRANSACTION,
	// bulk-load acks) is just a bare DONE so Execute/BulkLoad calls
	// don't hang.
	var descriptor byte = 1
	depth := 0
	for {
		typ, body, err := fr.ReadPacket(ctx)
		if err != nil {
			return
		}

		if typ != tds.PacketSQLBatch {
			if err := fr.WritePacket(ctx, tds.PacketReply, buildDoneOnly()); err != nil {
				return
			}
			continue
		}

		query := decodeSQLBatchQuery(body)
		var reply []byte
		switch {
		case strings.HasPrefix(query, "BEGIN TRANSACTION"):
			depth++
			descriptor++
			reply = buildTxnEnvChange(descriptor)
		case strings.HasPrefix(query, "COMMIT TRANSACTION") && depth > 1:
			depth--
			reply = buildDoneOnly()
		case strings.HasPrefix(query, "COMMIT TRANSACTION"), strings.HasPrefix(query, "ROLLBACK TRANSACTION"):
			depth = 0
			reply = buildTxnEnvChange(0)
		case strings.HasPrefix(query, "UPDATE"):
			reply = buildDoneWithCount(7)
		default:
			reply = buildDoneOnly()
		}
		if err := fr.WritePacket(ctx, tds.PacketReply, reply); err != nil {
			return
		}
	}
}

// decodeSQLBatchQuery strips the 22-byte ALL_HEADERS prefix BuildSQLBatch
// prepends and decodes the remaining UTF-16LE query text.
func decodeSQLBatchQuery(body []byte) string {
	const allHeadersSize = 22
	if len(body) < allHeadersSize {
		return ""
	}
	text := body[allHeadersSize:]
	var sb strings.Builder
	for i := 0; i+1 < len(text); i += 2 {
		sb.WriteByte(text[i])
	}
	return sb.String()
}

// buildTxnEnvChange writes an ENVCHANGE(begin-tran) token carrying an
// 8-byte descriptor (all zero unpins the transaction) followed by a
// DONE with the in-transaction status bit set when the descriptor is
// nonzero.
func buildTxnEnvChange(descriptor byte) []byte {
	var buf []byte

	var envBody []byte
	envBody = append(envBody, tds.EnvBeginTran)
	newVal := make([]byte, 8)
	newVal[0] = descriptor
	envBody = append(envBody, byte(len(newVal)))
	envBody = append(envBody, newVal...)
	envBody = append(envBody, 0) // old value, empty
	buf = append(buf, byte(tds.TokenEnvChange))
	buf = append(buf, uint16LE(len(envBody))...)
	buf = append(buf, envBody...)

	status := uint16(0)
	if descriptor != 0 {
		status = tds.DoneInxact
	}
	buf = append(buf, byte(tds.TokenDone))
	buf = append(buf, uint16LE(int(status))...)
	buf = append(buf, 0, 0) // curCmd
	buf = append(buf, make([]byte, 8)...)
	return buf
}

// buildPreloginResponse writes the option-table-then-values layout
// ParsePreloginResponse expects: VERSION (6 bytes), ENCRYPTION (1
// byte, off), terminator.
func buildPreloginResponse() []byte {
	version := []byte{15, 0, 0x20, 0x39, 0, 0}
	encryption := []byte{tds.EncryptOff}

	headerSize := 2*5 + 1
	offset := uint16(headerSize)

	headers := make([]byte, 0, headerSize)
	values := make([]byte, 0, 8)

	put := func(token uint8, data []byte) {
		hdr := make([]byte, 5)
		hdr[0] = token
		binary.BigEndian.PutUint16(hdr[1:3], offset)
		binary.BigEndian.PutUint16(hdr[3:5], uint16(len(data)))
		headers = append(headers, hdr...)
		values = append(values, data...)
		offset += uint16(len(data))
	}
	put(tds.PreloginVersion, version)
	put(tds.PreloginEncryption, encryption)
	headers = append(headers, tds.PreloginTerminator)

	out := make([]byte, 0, len(headers)+len(values))
	out = append(out, headers...)
	out = append(out, values...)
	return out
}

func bVarchar(s string) []byte {
	u16 := utf16Encode(s)
	buf := make([]byte, 1+len(u16)*2)
	buf[0] = byte(len(u16))
	for i, c := range u16 {
		binary.LittleEndian.PutUint16(buf[1+i*2:], c)
	}
	return buf
}

func utf16Encode(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r < 0x10000 {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

// buildLoginReply writes an ENVCHANGE(database) token followed by a
// LOGINACK and a final DONE, matching what readLoginReply in
// internal/conn scans for. ENVCHANGE and LOGINACK both carry a
// 2-byte little-endian length prefix ahead of their body, per
// Parser.Next's dispatch.
func buildLoginReply(database string) []byte {
	var buf []byte

	// ENVCHANGE body: subtype(1) + B_VARCHAR(new) + B_VARCHAR(old)
	var envBody []byte
	envBody = append(envBody, tds.EnvDatabase)
	envBody = append(envBody, bVarchar(database)...)
	envBody = append(envBody, 0) // old value, empty
	buf = append(buf, byte(tds.TokenEnvChange))
	buf = append(buf, uint16LE(len(envBody))...)
	buf = append(buf, envBody...)

	// LOGINACK body: interface(1) + TDSVersion BE(4) + progname B_VARCHAR + progver(4)
	var ackBody []byte
	ackBody = append(ackBody, 1) // interface: SQL
	verBE := make([]byte, 4)
	binary.BigEndian.PutUint32(verBE, tds.VerTDS74)
	ackBody = append(ackBody, verBE...)
	ackBody = append(ackBody, bVarchar("tdsfake")...)
	ackBody = append(ackBody, 15, 0, 0, 0)
	buf = append(buf, byte(tds.TokenLoginAck))
	buf = append(buf, uint16LE(len(ackBody))...)
	buf = append(buf, ackBody...)

	// DONE: status(2) + curCmd(2) + rowCount(8), all zero/final.
	buf = append(buf, byte(tds.TokenDone), 0, 0, 0, 0, 0, 0, 0, 0, 0)

	return buf
}

// buildRoutingReply writes an ENVCHANGE(routing) token pointing at
// host:port followed by a final DONE, without a LOGINACK — mirroring
// what readLoginReply in internal/conn treats as a login-time redirect.
func buildRoutingReply(host string, port uint16) []byte {
	serverChars := utf16Encode(host)
	serverField := make([]byte, 2+len(serverChars)*2)
	binary.LittleEndian.PutUint16(serverField, uint16(len(serverChars)))
	for i, c := range serverChars {
		binary.LittleEndian.PutUint16(serverField[2+i*2:], c)
	}

	routingData := make([]byte, 0, 3+len(serverField))
	routingData = append(routingData, 1) // protocol: TCP/IP
	portBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(portBytes, port)
	routingData = append(routingData, portBytes...)
	routingData = append(routingData, serverField...)

	var envBody []byte
	envBody = append(envBody, tds.EnvRouting)
	envBody = append(envBody, uint16LE(len(routingData))...)
	envBody = append(envBody, routingData...)
	envBody = append(envBody, 0, 0) // old value length, always 0

	var buf []byte
	buf = append(buf, byte(tds.TokenEnvChange))
	buf = append(buf, uint16LE(len(envBody))...)
	buf = append(buf, envBody...)
	buf = append(buf, buildDoneOnly()...)
	return buf
}

func uint16LE(n int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return b
}

func buildDoneOnly() []byte {
	return []byte{byte(tds.TokenDone), 0, 0, 0, 0, 0, 0, 0, 0, 0}
}

// buildDoneWithCount writes a DONE token with the COUNT status bit set
// and rowCount, for tests exercising Rows.RowsAffected.
func buildDoneWithCount(rowCount uint64) []byte {
	buf := []byte{byte(tds.TokenDone)}
	buf = append(buf, uint16LE(int(tds.DoneCount))...)
	buf = append(buf, 0, 0) // curCmd
	rc := make([]byte, 8)
	binary.LittleEndian.PutUint64(rc, rowCount)
	buf = append(buf, rc...)
	return buf
}
