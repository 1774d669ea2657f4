package parser

import (
	"encoding/binary"
	"testing"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

func TestParserReturnStatus(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tds.TokenReturnStatus))
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, uint32(int32(-1)))
	buf = append(buf, v...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenReturnStatus {
		t.Fatalf("typ = %v, want RETURNSTATUS", typ)
	}
	if tok.(*ReturnStatusToken).Value != -1 {
		t.Errorf("Value = %d, want -1", tok.(*ReturnStatusToken).Value)
	}
}

func TestParserReturnValueDecodesUnderlyingColumn(t *testing.T) {
	var body []byte
	body = append(body, uint16LE(3)...) // ordinal
	body = append(body, bVarchar("@out")...)
	body = append(body, 0)          // status
	body = append(body, 0, 0, 0, 0) // UserType
	body = append(body, 0, 0)       // Flags
	body = append(body, byte(tds.TypeInt4))
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, 55)
	body = append(body, v...)

	var buf []byte
	buf = append(buf, byte(tds.TokenReturnValue))
	buf = append(buf, body...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenReturnValue {
		t.Fatalf("typ = %v, want RETURNVALUE", typ)
	}
	rv := tok.(*ReturnValueToken)
	if rv.ParamName != "@out" || rv.Value != int64(55) {
		t.Errorf("ReturnValueToken = %+v", rv)
	}
}

func TestParserOrderToken(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tds.TokenOrder))
	buf = append(buf, uint16LE(4)...) // token length: 2 column IDs
	buf = append(buf, uint16LE(1)...)
	buf = append(buf, uint16LE(2)...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenOrder {
		t.Fatalf("typ = %v, want ORDER", typ)
	}
	order := tok.(*OrderToken)
	if len(order.ColumnIDs) != 2 || order.ColumnIDs[0] != 1 || order.ColumnIDs[1] != 2 {
		t.Errorf("ColumnIDs = %v, want [1 2]", order.ColumnIDs)
	}
}

func TestParserFeatureExtAckTerminatesOnFF(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tds.TokenFeatureExtAck))
	buf = append(buf, 0x02) // FEDAUTH feature id
	buf = append(buf, 3, 0, 0, 0)
	buf = append(buf, []byte("abc")...)
	buf = append(buf, 0xFF)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenFeatureExtAck {
		t.Fatalf("typ = %v, want FEATUREEXTACK", typ)
	}
	ack := tok.(*FeatureExtAckToken)
	if string(ack.Features[0x02]) != "abc" {
		t.Errorf("Features[0x02] = %q, want abc", ack.Features[0x02])
	}
}

func TestParserFedAuthInfoSTSURLAndSPN(t *testing.T) {
	sts := "https://sts.example.com"
	spn := "https://database.windows.net"
	stsBytes := utf16Bytes(sts)
	spnBytes := utf16Bytes(spn)

	var body []byte
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, 2)
	body = append(body, count...)

	off1 := uint32(4 + 9*2) // past the count field and 2 option headers (id+len+offset = 9 bytes each)
	off2 := off1 + uint32(len(stsBytes))

	appendOptHdr := func(id byte, length, offset uint32) {
		body = append(body, id)
		l := make([]byte, 4)
		binary.LittleEndian.PutUint32(l, length)
		body = append(body, l...)
		o := make([]byte, 4)
		binary.LittleEndian.PutUint32(o, offset)
		body = append(body, o...)
	}
	appendOptHdr(tds.FedAuthInfoSTSURL, uint32(len(stsBytes)), off1)
	appendOptHdr(tds.FedAuthInfoSPN, uint32(len(spnBytes)), off2)
	body = append(body, stsBytes...)
	body = append(body, spnBytes...)

	var buf []byte
	buf = append(buf, byte(tds.TokenFedAuthInfo))
	totalLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(totalLen, uint32(len(body)))
	buf = append(buf, totalLen...)
	buf = append(buf, body...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenFedAuthInfo {
		t.Fatalf("typ = %v, want FEDAUTHINFO", typ)
	}
	info := tok.(*FedAuthInfoToken)
	if info.STSURL != sts || info.SPN != spn {
		t.Errorf("FedAuthInfoToken = %+v", info)
	}
}

func utf16Bytes(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		u := make([]byte, 2)
		binary.LittleEndian.PutUint16(u, uint16(r))
		out = append(out, u...)
	}
	return out
}

func TestParserSSPIRawBytes(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tds.TokenSSPI))
	buf = append(buf, uint16LE(3)...)
	buf = append(buf, []byte("xyz")...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenSSPI {
		t.Fatalf("typ = %v, want SSPI", typ)
	}
	if string(tok.([]byte)) != "xyz" {
		t.Errorf("SSPI payload = %q, want xyz", tok.([]byte))
	}
}
