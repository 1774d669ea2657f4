package rowvalue

import (
	"encoding/binary"
	"testing"
)

func TestCursorFixedWidthReads(t *testing.T) {
	buf := make([]byte, 0, 32)
	buf = append(buf, 0x42)
	buf = append(buf, 0xCD, 0xAB)
	buf = append(buf, 0x78, 0x56, 0x34, 0x12)
	buf = append(buf, 8, 7, 6, 5, 4, 3, 2, 1)

	c := NewCursor(buf)
	b, err := c.Byte()
	if err != nil || b != 0x42 {
		t.Fatalf("Byte() = %x, %v", b, err)
	}
	u16, err := c.Uint16()
	if err != nil || u16 != 0xABCD {
		t.Fatalf("Uint16() = %x, %v", u16, err)
	}
	u32, err := c.Uint32()
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("Uint32() = %x, %v", u32, err)
	}
	u64, err := c.Uint64()
	if err != nil || u64 != 0x0102030405060708 {
		t.Fatalf("Uint64() = %x, %v", u64, err)
	}
	if c.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", c.Remaining())
	}
}

func TestCursorBigEndianReads(t *testing.T) {
	buf := []byte{0xAB, 0xCD, 0x12, 0x34, 0x56, 0x78}
	c := NewCursor(buf)
	u16, err := c.Uint16BE()
	if err != nil || u16 != 0xABCD {
		t.Fatalf("Uint16BE() = %x, %v", u16, err)
	}
	u32, err := c.Uint32BE()
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("Uint32BE() = %x, %v", u32, err)
	}
}

func TestCursorBVarcharRoundTrip(t *testing.T) {
	s := "master"
	buf := []byte{byte(len(s))}
	for _, r := range s {
		u := make([]byte, 2)
		binary.LittleEndian.PutUint16(u, uint16(r))
		buf = append(buf, u...)
	}
	c := NewCursor(buf)
	got, err := c.BVarchar()
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("BVarchar() = %q, want %q", got, s)
	}
}

func TestCursorUSVarcharRoundTrip(t *testing.T) {
	s := "a result set column name"
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(len(s)))
	for _, r := range s {
		u := make([]byte, 2)
		binary.LittleEndian.PutUint16(u, uint16(r))
		buf = append(buf, u...)
	}
	c := NewCursor(buf)
	got, err := c.USVarchar()
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("USVarchar() = %q, want %q", got, s)
	}
}

func TestCursorBVarByteAndUSVarByte(t *testing.T) {
	c := NewCursor([]byte{3, 1, 2, 3})
	got, err := c.BVarByte()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("BVarByte() = %v, want [1 2 3]", got)
	}

	c2 := NewCursor([]byte{2, 0, 0xAA, 0xBB})
	got2, err := c2.USVarByte()
	if err != nil {
		t.Fatal(err)
	}
	if len(got2) != 2 || got2[0] != 0xAA {
		t.Errorf("USVarByte() = %v, want [AA BB]", got2)
	}
}

func TestCursorNeedErrorsOnTruncatedData(t *testing.T) {
	c := NewCursor([]byte{1})
	if _, err := c.Uint32(); err == nil {
		t.Error("expected an error reading 4 bytes from a 1-byte buffer")
	}
}

func TestUCS2ReadsExactCharCountWithNoLengthPrefix(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16('h'))
	binary.LittleEndian.PutUint16(buf[2:4], uint16('i'))
	c := NewCursor(buf)
	got, err := c.UCS2(2)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hi" {
		t.Errorf("UCS2(2) = %q, want hi", got)
	}
}
