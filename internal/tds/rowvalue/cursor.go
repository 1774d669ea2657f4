// Package rowvalue decodes individual ROW/NBCROW column values off the
// TDS wire given a column's COLMETADATA description: fixed types,
// nullable-fixed (INTN/FLTN/...), variable-length, PLP/MAX, DECIMAL,
// the date/time family and UNIQUEIDENTIFIER.
package rowvalue

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Cursor is a small forward-only reader over an assembled TDS message
// body, shared between the token-stream parser and the row-value
// decoders so both read the wire with identical primitives.
type Cursor struct {
	buf []byte
	off int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

func (c *Cursor) Offset() int {
	return c.off
}

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return fmt.Errorf("tds: truncated wire data, need %d bytes, have %d", n, c.Remaining())
	}
	return nil
}

func (c *Cursor) Byte() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) Uint16BE() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) Uint32BE() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

func (c *Cursor) Int16() (int16, error) {
	v, err := c.Uint16()
	return int16(v), err
}

// BVarchar reads a 1-byte character count followed by that many UCS-2
// characters (MS-TDS 2.2.5.1, B_VARCHAR).
func (c *Cursor) BVarchar() (string, error) {
	n, err := c.Byte()
	if err != nil {
		return "", err
	}
	return c.ucs2(int(n))
}

// USVarchar reads a 2-byte character count followed by that many UCS-2
// characters (US_VARCHAR).
func (c *Cursor) USVarchar() (string, error) {
	n, err := c.Uint16()
	if err != nil {
		return "", err
	}
	return c.ucs2(int(n))
}

// UCS2 reads exactly chars UCS-2 characters with no preceding length
// field, for callers (e.g. FEDAUTHINFO) that already know the byte
// count from an out-of-band length field.
func (c *Cursor) UCS2(chars int) (string, error) {
	return c.ucs2(chars)
}

func (c *Cursor) ucs2(chars int) (string, error) {
	b, err := c.Bytes(chars * 2)
	if err != nil {
		return "", err
	}
	u16 := make([]uint16, chars)
	for i := 0; i < chars; i++ {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16)), nil
}

// BVarByte reads a 1-byte length followed by that many raw bytes
// (B_VARBYTE, used for ENVCHANGE old/new value fields).
func (c *Cursor) BVarByte() ([]byte, error) {
	n, err := c.Byte()
	if err != nil {
		return nil, err
	}
	return c.Bytes(int(n))
}

func (c *Cursor) USVarByte() ([]byte, error) {
	n, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	return c.Bytes(int(n))
}
