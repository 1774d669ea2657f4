package parser

import (
	"encoding/binary"
	"testing"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

func bVarchar(s string) []byte {
	buf := []byte{byte(len(s))}
	for _, r := range s {
		u := make([]byte, 2)
		binary.LittleEndian.PutUint16(u, uint16(r))
		buf = append(buf, u...)
	}
	return buf
}

func uint16LE(n int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return b
}

func TestParserColMetadataThenRow(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tds.TokenColMetadata))
	buf = append(buf, uint16LE(1)...) // 1 column
	buf = append(buf, 0, 0, 0, 0)     // UserType
	buf = append(buf, 0, 0)           // Flags
	buf = append(buf, byte(tds.TypeInt4))
	buf = append(buf, bVarchar("id")...)

	buf = append(buf, byte(tds.TokenRow))
	idVal := make([]byte, 4)
	binary.LittleEndian.PutUint32(idVal, 7)
	buf = append(buf, idVal...)

	p := New(buf)

	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenColMetadata {
		t.Fatalf("typ = %v, want COLMETADATA", typ)
	}
	cm := tok.(*ColMetadataToken)
	if len(cm.Columns) != 1 || cm.Columns[0].Name != "id" {
		t.Fatalf("Columns = %+v", cm.Columns)
	}
	if len(p.Columns()) != 1 {
		t.Errorf("Parser.Columns() = %+v, want 1 column", p.Columns())
	}

	typ, tok, err = p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenRow {
		t.Fatalf("typ = %v, want ROW", typ)
	}
	row := tok.(*RowToken)
	if row.Values[0] != int64(7) {
		t.Errorf("row value = %v, want 7", row.Values[0])
	}
	if !p.Done() {
		t.Error("expected Done() after consuming every byte")
	}
}

func TestParserNBCRowSkipsNullColumns(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tds.TokenColMetadata))
	buf = append(buf, uint16LE(2)...)
	buf = append(buf, 0, 0, 0, 0, 0, 0, byte(tds.TypeInt4), bVarchar("a")...)
	buf = append(buf, 0, 0, 0, 0, 0, 0, byte(tds.TypeInt4), bVarchar("b")...)

	buf = append(buf, byte(tds.TokenNBCRow))
	buf = append(buf, 0x01) // bitmap: bit0 set -> column 0 is NULL
	bVal := make([]byte, 4)
	binary.LittleEndian.PutUint32(bVal, 99)
	buf = append(buf, bVal...)

	p := New(buf)
	if _, _, err := p.Next(); err != nil {
		t.Fatal(err)
	}
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenNBCRow {
		t.Fatalf("typ = %v, want NBCROW", typ)
	}
	row := tok.(*RowToken)
	if row.Values[0] != nil {
		t.Errorf("column a = %v, want nil (NULL bit set)", row.Values[0])
	}
	if row.Values[1] != int64(99) {
		t.Errorf("column b = %v, want 99", row.Values[1])
	}
}

func TestParserDoneStatusHelpers(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tds.TokenDone))
	buf = append(buf, uint16LE(int(tds.DoneCount|tds.DoneMore))...)
	buf = append(buf, 0, 0) // curCmd
	rc := make([]byte, 8)
	binary.LittleEndian.PutUint64(rc, 5)
	buf = append(buf, rc...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenDone {
		t.Fatalf("typ = %v, want DONE", typ)
	}
	d := tok.(*DoneToken)
	if !d.HasCount() || d.RowCount != 5 {
		t.Errorf("HasCount/RowCount = %v/%d, want true/5", d.HasCount(), d.RowCount)
	}
	if !d.More() {
		t.Error("expected More() true")
	}
	if d.Error() {
		t.Error("expected Error() false")
	}
}

func TestParserEnvChangeDatabase(t *testing.T) {
	var envBody []byte
	envBody = append(envBody, tds.EnvDatabase)
	envBody = append(envBody, bVarchar("newdb")...)
	envBody = append(envBody, bVarchar("olddb")...)

	var buf []byte
	buf = append(buf, byte(tds.TokenEnvChange))
	buf = append(buf, uint16LE(len(envBody))...)
	buf = append(buf, envBody...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenEnvChange {
		t.Fatalf("typ = %v, want ENVCHANGE", typ)
	}
	ec := tok.(*EnvChangeToken)
	if ec.NewString != "newdb" || ec.OldString != "olddb" {
		t.Errorf("ENVCHANGE database = %q/%q, want newdb/olddb", ec.NewString, ec.OldString)
	}
}

func TestParserEnvChangeBeginTranCapturesDescriptor(t *testing.T) {
	var envBody []byte
	envBody = append(envBody, tds.EnvBeginTran)
	descriptor := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	envBody = append(envBody, byte(len(descriptor)))
	envBody = append(envBody, descriptor...)
	envBody = append(envBody, 0)

	var buf []byte
	buf = append(buf, byte(tds.TokenEnvChange))
	buf = append(buf, uint16LE(len(envBody))...)
	buf = append(buf, envBody...)

	p := New(buf)
	_, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	ec := tok.(*EnvChangeToken)
	if ec.TransactionDescriptor != [8]byte{1, 2, 3, 4, 5, 6, 7, 8} {
		t.Errorf("TransactionDescriptor = %v, want %v", ec.TransactionDescriptor, descriptor)
	}
}

func TestParserLoginAckUsesBigEndianVersion(t *testing.T) {
	var ackBody []byte
	ackBody = append(ackBody, 1)
	verBE := make([]byte, 4)
	binary.BigEndian.PutUint32(verBE, tds.VerTDS74)
	ackBody = append(ackBody, verBE...)
	ackBody = append(ackBody, bVarchar("test-server")...)
	ackBody = append(ackBody, 15, 0, 0, 0)

	var buf []byte
	buf = append(buf, byte(tds.TokenLoginAck))
	buf = append(buf, uint16LE(len(ackBody))...)
	buf = append(buf, ackBody...)

	p := New(buf)
	_, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	ack := tok.(*LoginAckToken)
	if ack.TDSVersion != tds.VerTDS74 {
		t.Errorf("TDSVersion = %x, want %x", ack.TDSVersion, tds.VerTDS74)
	}
	if ack.ProgName != "test-server" {
		t.Errorf("ProgName = %q, want test-server", ack.ProgName)
	}
}

func TestParserErrorTokenFields(t *testing.T) {
	var body []byte
	num := make([]byte, 4)
	binary.LittleEndian.PutUint32(num, 547)
	body = append(body, num...)
	body = append(body, 1)  // state
	body = append(body, 16) // class
	msg := "FOREIGN KEY constraint failed"
	msgBuf := make([]byte, 2, 2+len(msg)*2)
	binary.LittleEndian.PutUint16(msgBuf, uint16(len(msg)))
	for _, r := range msg {
		u := make([]byte, 2)
		binary.LittleEndian.PutUint16(u, uint16(r))
		msgBuf = append(msgBuf, u...)
	}
	body = append(body, msgBuf...)
	body = append(body, bVarchar("srv")...)
	body = append(body, bVarchar("proc")...)
	line := make([]byte, 4)
	binary.LittleEndian.PutUint32(line, 42)
	body = append(body, line...)

	var buf []byte
	buf = append(buf, byte(tds.TokenError))
	buf = append(buf, uint16LE(len(body))...)
	buf = append(buf, body...)

	p := New(buf)
	typ, tok, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if typ != tds.TokenError {
		t.Fatalf("typ = %v, want ERROR", typ)
	}
	e := tok.(*ErrorInfoToken)
	if e.Number != 547 || e.Message != msg || e.LineNumber != 42 {
		t.Errorf("ErrorInfoToken = %+v", e)
	}
}

func TestParserUnknownTokenTypeErrors(t *testing.T) {
	p := New([]byte{0x7F})
	if _, _, err := p.Next(); err == nil {
		t.Error("expected an error for an unrecognized token type byte")
	}
}
