package parser

import (
	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/internal/tds/rowvalue"
)

// LoginAckToken is a decoded LOGINACK token (MS-TDS 2.2.7.14). Note
// the TDS version field is the one documented big-endian exception
// to LOGIN7's otherwise-universal little-endian convention.
type LoginAckToken struct {
	Interface   uint8
	TDSVersion  uint32
	ProgName    string
	ProgVersion [4]byte
}

func parseLoginAck(r *reader) (*LoginAckToken, error) {
	iface, err := r.Byte()
	if err != nil {
		return nil, err
	}
	ver, err := r.Uint32BE()
	if err != nil {
		return nil, err
	}
	progName, err := r.BVarchar()
	if err != nil {
		return nil, err
	}
	progVer, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	tok := &LoginAckToken{Interface: iface, TDSVersion: ver, ProgName: progName}
	copy(tok.ProgVersion[:], progVer)
	return tok, nil
}

// FedAuthInfoToken is a decoded FEDAUTHINFO token (MS-TDS 2.2.7.12),
// carrying the STS URL and SPN an ADAL token provider authenticates
// against.
type FedAuthInfoToken struct {
	STSURL string
	SPN    string
}

func parseFedAuthInfo(r *reader) (*FedAuthInfoToken, error) {
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	type optHdr struct {
		id           byte
		dataLen      uint32
		dataOffset   uint32
	}
	opts := make([]optHdr, count)
	for i := range opts {
		id, err := r.Byte()
		if err != nil {
			return nil, err
		}
		dataLen, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		dataOffset, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		opts[i] = optHdr{id, dataLen, dataOffset}
	}

	tok := &FedAuthInfoToken{}
	// FEDAUTHINFO data is placed immediately after the option headers
	// in ascending offset order in every server implementation seen in
	// practice, so a sequential read matches each option's dataLen.
	for _, o := range opts {
		data, err := r.Bytes(int(o.dataLen))
		if err != nil {
			return nil, err
		}
		s, err := newReader(data).UCS2(len(data) / 2)
		if err != nil {
			return nil, err
		}
		switch o.id {
		case tds.FedAuthInfoSTSURL:
			tok.STSURL = s
		case tds.FedAuthInfoSPN:
			tok.SPN = s
		}
	}
	return tok, nil
}

// FeatureExtAckToken is a decoded FEATUREEXTACK token (MS-TDS
// 2.2.7.11): a sequence of FeatureId + data blocks, terminated by
// 0xFF, echoing back which LOGIN7 feature extensions the server
// accepted.
type FeatureExtAckToken struct {
	Features map[byte][]byte
}

func parseFeatureExtAck(r *reader) (*FeatureExtAckToken, error) {
	tok := &FeatureExtAckToken{Features: make(map[byte][]byte)}
	for {
		id, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if id == 0xFF {
			break
		}
		length, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		data, err := r.Bytes(int(length))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		copy(out, data)
		tok.Features[id] = out
	}
	return tok, nil
}

// OrderToken is a decoded ORDER token (MS-TDS 2.2.7.17): the column
// IDs the result set is sorted by, in sort order.
type OrderToken struct {
	ColumnIDs []uint16
}

func parseOrder(r *reader, tokenLen int) (*OrderToken, error) {
	n := tokenLen / 2
	ids := make([]uint16, n)
	for i := range ids {
		v, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		ids[i] = v
	}
	return &OrderToken{ColumnIDs: ids}, nil
}

// ReturnStatusToken is a decoded RETURNSTATUS token (MS-TDS 2.2.7.18):
// the integer return value of a stored procedure call.
type ReturnStatusToken struct {
	Value int32
}

func parseReturnStatus(r *reader) (*ReturnStatusToken, error) {
	v, err := r.Int32()
	if err != nil {
		return nil, err
	}
	return &ReturnStatusToken{Value: v}, nil
}

// ReturnValueToken is a decoded RETURNVALUE token (MS-TDS 2.2.7.19):
// an output parameter or stored-procedure return value.
type ReturnValueToken struct {
	ParamOrdinal uint16
	ParamName    string
	Status       uint8
	Value        any
}

func parseReturnValue(r *reader) (*ReturnValueToken, error) {
	ordinal, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	name, err := r.BVarchar()
	if err != nil {
		return nil, err
	}
	status, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if _, err := r.Uint32(); err != nil { // UserType
		return nil, err
	}
	if _, err := r.Uint16(); err != nil { // Flags
		return nil, err
	}

	typeByte, err := r.Byte()
	if err != nil {
		return nil, err
	}
	col := tds.Column{Type: tds.SQLType(typeByte)}
	if err := parseTypeVarLen(r, &col); err != nil {
		return nil, err
	}

	// RETURNVALUE always carries a value, present unconditionally; its
	// own length/NULL convention matches ordinary ROW framing for the
	// column's type.
	value, err := rowvalue.Decode(r, col, true)
	if err != nil {
		return nil, err
	}

	return &ReturnValueToken{ParamOrdinal: ordinal, ParamName: name, Status: status, Value: value}, nil
}
