// Package tds implements the client side of the TDS 7.4 wire protocol:
// packet framing, PRELOGIN/LOGIN7/SQL_BATCH/ATTENTION/BULK_LOAD builders,
// and the shared type/token constants consumed by internal/tds/parser and
// internal/tds/rowvalue.
package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType identifies the type of TDS packet.
type PacketType uint8

const (
	// PacketSQLBatch carries an ad-hoc SQL batch (client -> server).
	PacketSQLBatch PacketType = 1
	// PacketRPCRequest carries an RPC/stored-procedure call (client -> server).
	PacketRPCRequest PacketType = 3
	// PacketReply carries a token stream response (server -> client).
	PacketReply PacketType = 4
	// PacketAttention cancels an in-flight request (client -> server).
	PacketAttention PacketType = 6
	// PacketBulkLoad carries INSERT BULK row data (client -> server).
	PacketBulkLoad PacketType = 7
	// PacketFedAuthToken carries a federated-auth access token (client -> server).
	PacketFedAuthToken PacketType = 8
	// PacketTransMgrReq carries a TM_* transaction manager request (client -> server).
	PacketTransMgrReq PacketType = 14
	// PacketLogin7 carries the TDS 7.x login request (client -> server).
	PacketLogin7 PacketType = 16
	// PacketSSPIMessage carries SSPI/Windows auth handshake data.
	PacketSSPIMessage PacketType = 17
	// PacketPrelogin negotiates connection parameters before login.
	PacketPrelogin PacketType = 18
)

func (p PacketType) String() string {
	switch p {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC_REQUEST"
	case PacketReply:
		return "REPLY"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketFedAuthToken:
		return "FEDAUTH_TOKEN"
	case PacketTransMgrReq:
		return "TRANS_MGR_REQ"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPIMessage:
		return "SSPI_MESSAGE"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// PacketStatus carries the EOM/ignore/reset bits of a packet header.
type PacketStatus uint8

const (
	StatusNormal                  PacketStatus = 0x00
	StatusEOM                     PacketStatus = 0x01
	StatusIgnore                  PacketStatus = 0x02
	StatusResetConnection         PacketStatus = 0x08
	StatusResetConnectionSkipTran PacketStatus = 0x10
)

const (
	HeaderSize        = 8
	DefaultPacketSize = 4096
	MaxPacketSize     = 32767
	MinPacketSize     = 512
)

// Header is the 8-byte TDS packet header (MS-TDS 2.2.3.1).
type Header struct {
	Type     PacketType
	Status   PacketStatus
	Length   uint16 // total packet length, header included, big-endian on wire
	SPID     uint16
	PacketID uint8 // sequence number, 1-255, wraps to 1
	Window   uint8 // reserved, always 0
}

// ReadHeader reads a TDS packet header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Type:     PacketType(buf[0]),
		Status:   PacketStatus(buf[1]),
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}, nil
}

// Write writes the header to w.
func (h Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Status)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	_, err := w.Write(buf[:])
	return err
}

// PayloadLength returns the number of payload bytes after the header.
func (h Header) PayloadLength() int {
	if h.Length <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// IsLastPacket reports whether this packet ends the current message.
func (h Header) IsLastPacket() bool {
	return h.Status&StatusEOM != 0
}
