package tds

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol versions (MS-TDS 2.2.6.4).
const (
	VerTDS70     uint32 = 0x70000000
	VerTDS71     uint32 = 0x71000000
	VerTDS71Rev1 uint32 = 0x71000001
	VerTDS72     uint32 = 0x72090002
	VerTDS73A    uint32 = 0x730A0003
	VerTDS73B    uint32 = 0x730B0003
	VerTDS74     uint32 = 0x74000004
)

func VersionString(ver uint32) string {
	switch ver {
	case VerTDS70:
		return "7.0"
	case VerTDS71:
		return "7.1"
	case VerTDS71Rev1:
		return "7.1 Rev 1"
	case VerTDS72:
		return "7.2"
	case VerTDS73A:
		return "7.3A"
	case VerTDS73B:
		return "7.3B"
	case VerTDS74:
		return "7.4"
	default:
		return fmt.Sprintf("unknown (0x%08X)", ver)
	}
}

// Prelogin option tokens (MS-TDS 2.2.6.4).
const (
	PreloginVersion    uint8 = 0x00
	PreloginEncryption uint8 = 0x01
	PreloginInstOpt    uint8 = 0x02
	PreloginThreadID   uint8 = 0x03
	PreloginMARS       uint8 = 0x04
	PreloginTraceID    uint8 = 0x05
	PreloginFedAuth    uint8 = 0x06
	PreloginNonceOpt   uint8 = 0x07
	PreloginTerminator uint8 = 0xFF
)

// Encryption options (MS-TDS 2.2.6.4).
const (
	EncryptOff    uint8 = 0x00 // off, available
	EncryptOn     uint8 = 0x01 // on
	EncryptNotSup uint8 = 0x02 // client/server does not support TLS at all
	EncryptReq    uint8 = 0x03 // required
)

// PreloginRequest is the client's outbound PRELOGIN message.
type PreloginRequest struct {
	Version    []byte // 6 bytes: 4-byte version + 2-byte subbuild
	Encryption uint8
	Instance   string
	ThreadID   uint32
	MARS       uint8
	FedAuthReq bool // PRELOGIN FEDAUTHREQUIRED option, sent as a 1-byte 0x01 value
}

// NewPreloginRequest builds a request advertising this engine's client
// version and the caller's requested encryption mode.
func NewPreloginRequest(encryption uint8, instance string, fedAuth bool) *PreloginRequest {
	return &PreloginRequest{
		Version:    []byte{0, 0, 0, 0, 0, 0},
		Encryption: encryption,
		Instance:   instance,
		MARS:       0,
		FedAuthReq: fedAuth,
	}
}

// Encode builds the wire form of the PRELOGIN request: an option table
// (5 bytes per entry: token, big-endian offset, big-endian length)
// terminated by PreloginTerminator, followed by the option values in
// the same order.
func (r *PreloginRequest) Encode() []byte {
	instanceData := append([]byte(r.Instance), 0) // null-terminated

	type opt struct {
		token uint8
		data  []byte
	}
	opts := []opt{
		{PreloginVersion, r.Version},
		{PreloginEncryption, []byte{r.Encryption}},
		{PreloginInstOpt, instanceData},
		{PreloginThreadID, encodeUint32BE(r.ThreadID)},
		{PreloginMARS, []byte{r.MARS}},
	}
	if r.FedAuthReq {
		// FEDAUTHREQUIRED value is a single byte of 0x01 per MS-TDS;
		// some servers accept a zero-length marker too, but a 1-byte
		// value is the documented form and the safer default.
		opts = append(opts, opt{PreloginFedAuth, []byte{0x01}})
	}

	headerSize := len(opts)*5 + 1
	offset := uint16(headerSize)
	headers := make([]byte, 0, headerSize)
	values := make([]byte, 0, 64)

	for _, o := range opts {
		l := uint16(len(o.data))
		hdr := make([]byte, 5)
		hdr[0] = o.token
		binary.BigEndian.PutUint16(hdr[1:3], offset)
		binary.BigEndian.PutUint16(hdr[3:5], l)
		headers = append(headers, hdr...)
		values = append(values, o.data...)
		offset += l
	}
	headers = append(headers, PreloginTerminator)

	out := make([]byte, 0, len(headers)+len(values))
	out = append(out, headers...)
	out = append(out, values...)
	return out
}

func encodeUint32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// ServerVersion is the 6-byte server version reported in PRELOGIN.
type ServerVersion struct {
	Major    uint8
	Minor    uint8
	Build    uint16
	SubBuild uint16
}

func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.SubBuild)
}

// PreloginResponse is the server's PRELOGIN reply, parsed from the wire.
type PreloginResponse struct {
	Version       ServerVersion
	Encryption    uint8
	Instance      string
	ThreadID      uint32
	MARS          uint8
	FedAuthReq    bool
	RoutingTarget string // never set by ParsePreloginResponse; login-time routing arrives as an ENVCHANGE token
}

// ParsePreloginResponse parses a PRELOGIN response payload using the
// same option-table-then-values layout as the request.
func ParsePreloginResponse(data []byte) (*PreloginResponse, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("tds: empty prelogin response")
	}

	type optHdr struct {
		offset, length uint16
	}
	opts := make(map[uint8]optHdr)
	off := 0
	for {
		if off >= len(data) {
			return nil, fmt.Errorf("tds: prelogin response truncated reading option table")
		}
		token := data[off]
		if token == PreloginTerminator {
			break
		}
		if off+5 > len(data) {
			return nil, fmt.Errorf("tds: prelogin option header truncated")
		}
		opts[token] = optHdr{
			offset: binary.BigEndian.Uint16(data[off+1 : off+3]),
			length: binary.BigEndian.Uint16(data[off+3 : off+5]),
		}
		off += 5
	}

	r := &PreloginResponse{}
	for token, h := range opts {
		start, end := int(h.offset), int(h.offset)+int(h.length)
		if end > len(data) || start > end {
			return nil, fmt.Errorf("tds: prelogin option %d out of bounds", token)
		}
		val := data[start:end]
		switch token {
		case PreloginVersion:
			if len(val) >= 6 {
				r.Version = ServerVersion{
					Major:    val[0],
					Minor:    val[1],
					Build:    binary.BigEndian.Uint16(val[2:4]),
					SubBuild: binary.BigEndian.Uint16(val[4:6]),
				}
			}
		case PreloginEncryption:
			if len(val) >= 1 {
				r.Encryption = val[0]
			}
		case PreloginInstOpt:
			for i, b := range val {
				if b == 0 {
					r.Instance = string(val[:i])
					break
				}
			}
		case PreloginThreadID:
			if len(val) >= 4 {
				r.ThreadID = binary.BigEndian.Uint32(val)
			}
		case PreloginMARS:
			if len(val) >= 1 {
				r.MARS = val[0]
			}
		case PreloginFedAuth:
			r.FedAuthReq = true
		}
	}

	return r, nil
}
