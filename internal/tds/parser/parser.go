package parser

import (
	"fmt"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

// Parser decodes a sequence of TDS tokens from an assembled REPLY
// message body, tracking the most recent COLMETADATA so ROW/NBCROW
// tokens can be decoded against it.
type Parser struct {
	r       *reader
	columns []tds.Column
}

// New wraps a fully-assembled message payload (as returned by
// Framer.ReadPacket once all continuation packets have been stitched
// together) for sequential token decoding.
func New(payload []byte) *Parser {
	return &Parser{r: newReader(payload)}
}

// Columns returns the column schema from the most recently parsed
// COLMETADATA token.
func (p *Parser) Columns() []tds.Column {
	return p.columns
}

// Done reports whether every byte of the message has been consumed.
func (p *Parser) Done() bool {
	return p.r.Remaining() == 0
}

// Next decodes and returns the next token. io.EOF-style exhaustion is
// signalled by Done() returning true before calling Next again; a
// well-formed TDS reply always ends on a DONE-family token boundary.
func (p *Parser) Next() (tds.TokenType, any, error) {
	typByte, err := p.r.Byte()
	if err != nil {
		return 0, nil, err
	}
	typ := tds.TokenType(typByte)

	switch typ {
	case tds.TokenColMetadata:
		tok, err := parseColMetadata(p.r)
		if err != nil {
			return typ, nil, err
		}
		p.columns = tok.Columns
		return typ, tok, nil

	case tds.TokenRow:
		tok, err := parseRow(p.r, p.columns)
		return typ, tok, err

	case tds.TokenNBCRow:
		tok, err := parseNBCRow(p.r, p.columns)
		return typ, tok, err

	case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
		tok, err := parseDone(p.r, typ)
		return typ, tok, err

	case tds.TokenError, tds.TokenInfo:
		if _, err := p.r.Uint16(); err != nil { // token length prefix
			return typ, nil, err
		}
		tok, err := parseErrorInfo(p.r)
		return typ, tok, err

	case tds.TokenEnvChange:
		if _, err := p.r.Uint16(); err != nil {
			return typ, nil, err
		}
		tok, err := parseEnvChange(p.r)
		return typ, tok, err

	case tds.TokenLoginAck:
		if _, err := p.r.Uint16(); err != nil {
			return typ, nil, err
		}
		tok, err := parseLoginAck(p.r)
		return typ, tok, err

	case tds.TokenFedAuthInfo:
		if _, err := p.r.Uint32(); err != nil { // 4-byte outer length, unlike most tokens
			return typ, nil, err
		}
		tok, err := parseFedAuthInfo(p.r)
		return typ, tok, err

	case tds.TokenFeatureExtAck:
		tok, err := parseFeatureExtAck(p.r)
		return typ, tok, err

	case tds.TokenOrder:
		length, err := p.r.Uint16()
		if err != nil {
			return typ, nil, err
		}
		tok, err := parseOrder(p.r, int(length))
		return typ, tok, err

	case tds.TokenReturnStatus:
		tok, err := parseReturnStatus(p.r)
		return typ, tok, err

	case tds.TokenReturnValue:
		tok, err := parseReturnValue(p.r)
		return typ, tok, err

	case tds.TokenSSPI:
		length, err := p.r.Uint16()
		if err != nil {
			return typ, nil, err
		}
		data, err := p.r.Bytes(int(length))
		if err != nil {
			return typ, nil, err
		}
		out := make([]byte, len(data))
		copy(out, data)
		return typ, out, nil

	default:
		return typ, nil, fmt.Errorf("tds: unknown token type 0x%02X", typByte)
	}
}
