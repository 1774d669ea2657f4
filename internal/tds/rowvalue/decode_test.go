package rowvalue

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

func TestDecodeNotPresentReturnsNilWithoutConsuming(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3})
	v, err := Decode(c, tds.Column{Type: tds.TypeInt4}, false)
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("Decode(present=false) = %v, want nil", v)
	}
	if c.Remaining() != 3 {
		t.Errorf("Remaining() = %d, want 3 (nothing consumed)", c.Remaining())
	}
}

func TestDecodeFixedInt4(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(-7)))
	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeInt4}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(-7) {
		t.Errorf("Decode(INT4) = %v, want -7", v)
	}
}

func TestDecodeBit(t *testing.T) {
	c := NewCursor([]byte{1})
	v, err := Decode(c, tds.Column{Type: tds.TypeBit}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != true {
		t.Errorf("Decode(BIT) = %v, want true", v)
	}
}

func TestDecodeIntNNull(t *testing.T) {
	c := NewCursor([]byte{0})
	v, err := Decode(c, tds.Column{Type: tds.TypeIntN}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("Decode(INTN len=0) = %v, want nil", v)
	}
}

func TestDecodeIntNFourByteValue(t *testing.T) {
	buf := make([]byte, 5)
	buf[0] = 4
	binary.LittleEndian.PutUint32(buf[1:], uint32(int32(42)))
	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeIntN}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(42) {
		t.Errorf("Decode(INTN len=4) = %v, want 42", v)
	}
}

func TestDecodeMoney8(t *testing.T) {
	buf := make([]byte, 8)
	// 12345.6789 represented as 123456789 ten-thousandths.
	binary.BigEndian.PutUint32(buf[0:4], 0) // high
	binary.LittleEndian.PutUint32(buf[4:8], 123456789)
	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeMoney}, true)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		t.Fatalf("Decode(MONEY) returned %T, want decimal.Decimal", v)
	}
	if !d.Equal(decimal.New(123456789, -4)) {
		t.Errorf("Decode(MONEY) = %s, want 12345.6789", d)
	}
}

func TestDecodeVarcharReadsRawBytesAsString(t *testing.T) {
	buf := append([]byte{5}, []byte("hello")...)
	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeVarChar}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != "hello" {
		t.Errorf("Decode(VARCHAR) = %q, want hello", v)
	}
}

func TestDecodeVarcharNullSentinel(t *testing.T) {
	c := NewCursor([]byte{0xFF})
	v, err := Decode(c, tds.Column{Type: tds.TypeVarChar}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("Decode(VARCHAR NULL) = %v, want nil", v)
	}
}

func TestDecodeNVarCharBoundedUCS2(t *testing.T) {
	s := "abc"
	buf := make([]byte, 2, 2+len(s)*2)
	binary.LittleEndian.PutUint16(buf, uint16(len(s)*2))
	for _, r := range s {
		u := make([]byte, 2)
		binary.LittleEndian.PutUint16(u, uint16(r))
		buf = append(buf, u...)
	}
	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeNVarChar, Length: 50}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != s {
		t.Errorf("Decode(NVARCHAR) = %q, want %q", v, s)
	}
}

func TestDecodeNVarCharMaxUsesPLP(t *testing.T) {
	s := "streamed"
	u16Bytes := make([]byte, len(s)*2)
	for i, r := range s {
		binary.LittleEndian.PutUint16(u16Bytes[i*2:], uint16(r))
	}

	var buf []byte
	total := make([]byte, 8)
	binary.LittleEndian.PutUint64(total, uint64(len(u16Bytes)))
	buf = append(buf, total...)
	chunkLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(chunkLen, uint32(len(u16Bytes)))
	buf = append(buf, chunkLen...)
	buf = append(buf, u16Bytes...)
	buf = append(buf, 0, 0, 0, 0) // terminating zero-length chunk

	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeNVarChar, Length: tds.MaxLen}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != s {
		t.Errorf("Decode(NVARCHAR(MAX)) = %q, want %q", v, s)
	}
}

func TestDecodeDecimalMagnitudeAndSign(t *testing.T) {
	// precision bucket for 9 digits: 1-byte sign + 4-byte magnitude.
	buf := []byte{5, 0} // totalLen=5 (sign+mag), sign=0 (negative)
	mag := make([]byte, 4)
	binary.LittleEndian.PutUint32(mag, 12345)
	buf = append(buf, mag...)
	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeDecimalN, Scale: 2}, true)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		t.Fatalf("Decode(DECIMALN) returned %T, want decimal.Decimal", v)
	}
	want := decimal.New(-12345, -2)
	if !d.Equal(want) {
		t.Errorf("Decode(DECIMALN) = %s, want %s", d, want)
	}
}

func TestDecodeDecimalNullLength(t *testing.T) {
	c := NewCursor([]byte{0})
	v, err := Decode(c, tds.Column{Type: tds.TypeDecimalN}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("Decode(DECIMALN len=0) = %v, want nil", v)
	}
}

func TestDecodeGUIDMixedEndianCanonicalization(t *testing.T) {
	want := uuid.New()
	wb := want[:]
	wire := make([]byte, 16)
	wire[0], wire[1], wire[2], wire[3] = wb[3], wb[2], wb[1], wb[0]
	wire[4], wire[5] = wb[5], wb[4]
	wire[6], wire[7] = wb[7], wb[6]
	copy(wire[8:], wb[8:])

	buf := append([]byte{16}, wire...)
	c := NewCursor(buf)
	v, err := Decode(c, tds.Column{Type: tds.TypeGUID}, true)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := v.(uuid.UUID)
	if !ok {
		t.Fatalf("Decode(GUID) returned %T, want uuid.UUID", v)
	}
	if got != want {
		t.Errorf("Decode(GUID) = %s, want %s", got, want)
	}
}

func TestDecodeDateEpoch(t *testing.T) {
	c := NewCursor([]byte{3, 0, 0, 0}) // len=3, days=0
	v, err := Decode(c, tds.Column{Type: tds.TypeDateN}, true)
	if err != nil {
		t.Fatal(err)
	}
	tm, ok := v.(time.Time)
	if !ok {
		t.Fatalf("Decode(DATEN) returned %T, want time.Time", v)
	}
	if !tm.Equal(dateEpoch) {
		t.Errorf("Decode(DATEN days=0) = %v, want %v", tm, dateEpoch)
	}
}

func TestDecodeUnsupportedTypeErrors(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3})
	if _, err := Decode(c, tds.Column{Type: tds.SQLType(0x00)}, true); err == nil {
		t.Error("expected an error for an unrecognized SQL type")
	}
}

func TestTimeLenForScale(t *testing.T) {
	cases := []struct {
		scale uint8
		want  int
	}{
		{0, 3}, {2, 3}, {3, 4}, {4, 4}, {5, 5}, {7, 5},
	}
	for _, c := range cases {
		if got := timeLenForScale(c.scale); got != c.want {
			t.Errorf("timeLenForScale(%d) = %d, want %d", c.scale, got, c.want)
		}
	}
}
