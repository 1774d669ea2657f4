package rowvalue

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

// Decode reads one column value off the wire per MS-TDS 2.2.5.5/5.6,
// given the column's declared type/length/precision/scale. present is
// false when NBCROW's null bitmap has already marked this value NULL;
// Decode then returns nil without reading anything (NBCROW omits NULL
// columns from the wire entirely).
func Decode(c *Cursor, col tds.Column, present bool) (any, error) {
	if !present {
		return nil, nil
	}

	switch col.Type {
	case tds.TypeInt1:
		v, err := c.Byte()
		return int64(v), err
	case tds.TypeBit:
		v, err := c.Byte()
		return v != 0, err
	case tds.TypeInt2:
		v, err := c.Int16()
		return int64(v), err
	case tds.TypeInt4:
		v, err := c.Int32()
		return int64(v), err
	case tds.TypeInt8:
		v, err := c.Uint64()
		return int64(v), err
	case tds.TypeFloat4:
		b, err := c.Bytes(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case tds.TypeFloat8:
		b, err := c.Bytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case tds.TypeMoney4:
		return decodeMoney4(c)
	case tds.TypeMoney:
		return decodeMoney8(c)
	case tds.TypeDateTime4:
		return decodeDateTime4(c)
	case tds.TypeDateTime:
		return decodeDateTime8(c)

	case tds.TypeIntN, tds.TypeBitN, tds.TypeFloatN, tds.TypeMoneyN, tds.TypeDateTimeN, tds.TypeGUID:
		return decodeLenPrefixedFixed(c, col)

	case tds.TypeDecimalLegacy, tds.TypeNumericLegacy, tds.TypeDecimalN, tds.TypeNumericN:
		n, err := c.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeDecimal(c, int(n), col.Scale)

	case tds.TypeDateN:
		n, err := c.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeDate(c)

	case tds.TypeTimeN:
		n, err := c.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeTime(c, int(n), col.Scale)

	case tds.TypeDateTime2N:
		n, err := c.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeDateTime2(c, int(n), col.Scale)

	case tds.TypeDateTimeOffsetN:
		n, err := c.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeDateTimeOffset(c, int(n), col.Scale)

	case tds.TypeChar, tds.TypeVarChar, tds.TypeBinary, tds.TypeVarBinary:
		n, err := c.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0xFF {
			return nil, nil
		}
		return decodeRawOrText(c, col, int(n))

	case tds.TypeBigVarBin, tds.TypeBigBinary, tds.TypeBigVarChar, tds.TypeBigChar:
		if col.IsPLP() {
			return decodePLP(c, col)
		}
		n, err := c.Uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		return decodeRawOrText(c, col, int(n))

	case tds.TypeNVarChar, tds.TypeNChar:
		if col.IsPLP() {
			return decodePLP(c, col)
		}
		n, err := c.Uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		return c.ucs2Bytes(int(n) / 2) // n is a byte count, two bytes per UCS-2 char

	case tds.TypeXML, tds.TypeUDT:
		return decodePLP(c, col)

	case tds.TypeText, tds.TypeNText, tds.TypeImage:
		return decodeLOBLegacy(c, col)

	case tds.TypeSSVariant:
		n, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return decodeSQLVariant(c, int(n))

	default:
		return nil, fmt.Errorf("tds: unsupported row value type 0x%02X", byte(col.Type))
	}
}

// decodeLenPrefixedFixed handles the BYTELEN_TYPE fixed-width family
// under ordinary ROW framing: a 1-byte length, 0 meaning NULL,
// otherwise always the type's one valid non-zero length.
func decodeLenPrefixedFixed(c *Cursor, col tds.Column) (any, error) {
	n, err := c.Byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	switch col.Type {
	case tds.TypeIntN:
		return decodeIntN(c, int(n))
	case tds.TypeBitN:
		v, err := c.Byte()
		return v != 0, err
	case tds.TypeFloatN:
		return decodeFloatN(c, int(n))
	case tds.TypeMoneyN:
		if n == 4 {
			return decodeMoney4(c)
		}
		return decodeMoney8(c)
	case tds.TypeDateTimeN:
		if n == 4 {
			return decodeDateTime4(c)
		}
		return decodeDateTime8(c)
	case tds.TypeGUID:
		return decodeGUID(c)
	default:
		return nil, fmt.Errorf("tds: unreachable len-prefixed fixed type %s", col.Type)
	}
}

func decodeIntN(c *Cursor, n int) (any, error) {
	switch n {
	case 1:
		v, err := c.Byte()
		return int64(v), err
	case 2:
		v, err := c.Int16()
		return int64(v), err
	case 4:
		v, err := c.Int32()
		return int64(v), err
	case 8:
		v, err := c.Uint64()
		return int64(v), err
	default:
		return nil, fmt.Errorf("tds: invalid INTN length %d", n)
	}
}

func decodeFloatN(c *Cursor, n int) (any, error) {
	switch n {
	case 4:
		b, err := c.Bytes(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case 8:
		b, err := c.Bytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	default:
		return nil, fmt.Errorf("tds: invalid FLTN length %d", n)
	}
}

// decodeMoney4 reads SMALLMONEY: a signed 4-byte value in 1/10000ths.
func decodeMoney4(c *Cursor) (any, error) {
	v, err := c.Int32()
	if err != nil {
		return nil, err
	}
	return decimal.New(int64(v), -4), nil
}

// decodeMoney8 reads MONEY: two signed 4-byte halves, high then low,
// combined into a 64-bit value scaled by 1/10000.
func decodeMoney8(c *Cursor) (any, error) {
	hi, err := c.Int32()
	if err != nil {
		return nil, err
	}
	lo, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	v := int64(hi)<<32 | int64(lo)
	return decimal.New(v, -4), nil
}

var sqlEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// decodeDateTime4 reads SMALLDATETIME: days since 1900-01-01 (uint16)
// and minutes since midnight (uint16).
func decodeDateTime4(c *Cursor) (any, error) {
	days, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	mins, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	return sqlEpoch.AddDate(0, 0, int(days)).Add(time.Duration(mins) * time.Minute), nil
}

// decodeDateTime8 reads DATETIME: signed days since 1900-01-01
// (int32) and 1/300ths of a second since midnight (uint32).
func decodeDateTime8(c *Cursor) (any, error) {
	days, err := c.Int32()
	if err != nil {
		return nil, err
	}
	ticks, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	nanos := int64(ticks) * (1000000000 / 300)
	return sqlEpoch.AddDate(0, 0, int(days)).Add(time.Duration(nanos)), nil
}

var dateEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// decodeDate reads DATE: 3-byte little-endian day count since year 1.
func decodeDate(c *Cursor) (any, error) {
	b, err := c.Bytes(3)
	if err != nil {
		return nil, err
	}
	days := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return dateEpoch.AddDate(0, 0, int(days)), nil
}

// timeLenForScale returns the wire byte count of a TIME(n)/DATETIME2(n)
// time-of-day field for scale n (MS-TDS 2.2.5.4.2).
func timeLenForScale(scale uint8) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

// decodeTime reads TIME(scale): a wireLen-byte little-endian count of
// 10^-7-second units since midnight, where wireLen is the value's own
// length byte already consumed by Decode; scale is not consulted.
func decodeTime(c *Cursor, wireLen int, scale uint8) (any, error) {
	b, err := c.Bytes(wireLen)
	if err != nil {
		return nil, err
	}
	ticks := bytesToUint40(b)
	nanos := ticks * 100
	return time.Time{}.Add(time.Duration(nanos)), nil
}

// decodeDateTime2 reads DATETIME2(scale): the TIME(scale) field
// followed by a 3-byte DATE field.
func decodeDateTime2(c *Cursor, wireLen int, scale uint8) (any, error) {
	timeLen := timeLenForScale(scale)
	tb, err := c.Bytes(timeLen)
	if err != nil {
		return nil, err
	}
	ticks := bytesToUint40(tb)
	nanos := time.Duration(ticks*100) * time.Nanosecond

	db, err := c.Bytes(3)
	if err != nil {
		return nil, err
	}
	days := uint32(db[0]) | uint32(db[1])<<8 | uint32(db[2])<<16
	return dateEpoch.AddDate(0, 0, int(days)).Add(nanos), nil
}

// decodeDateTimeOffset reads DATETIMEOFFSET(scale): DATETIME2(scale)
// followed by a 2-byte signed minute offset from UTC; the value is
// normalized to UTC.
func decodeDateTimeOffset(c *Cursor, wireLen int, scale uint8) (any, error) {
	timeLen := timeLenForScale(scale)
	tb, err := c.Bytes(timeLen)
	if err != nil {
		return nil, err
	}
	ticks := bytesToUint40(tb)
	nanos := time.Duration(ticks*100) * time.Nanosecond

	db, err := c.Bytes(3)
	if err != nil {
		return nil, err
	}
	days := uint32(db[0]) | uint32(db[1])<<8 | uint32(db[2])<<16

	offMin, err := c.Int16()
	if err != nil {
		return nil, err
	}

	local := dateEpoch.AddDate(0, 0, int(days)).Add(nanos)
	utc := local.Add(-time.Duration(offMin) * time.Minute)
	return utc.UTC(), nil
}

func bytesToUint40(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// decodeDecimal reads the sign byte and the 4/8/12/16-byte
// little-endian magnitude used by DECIMAL/NUMERIC (MS-TDS 2.2.5.5.4).
func decodeDecimal(c *Cursor, totalLen int, scale uint8) (any, error) {
	sign, err := c.Byte()
	if err != nil {
		return nil, err
	}
	magLen := totalLen - 1
	mag, err := c.Bytes(magLen)
	if err != nil {
		return nil, err
	}

	// mag is little-endian; math/big wants big-endian bytes.
	be := make([]byte, magLen)
	for i, b := range mag {
		be[magLen-1-i] = b
	}
	coeff := new(big.Int).SetBytes(be)

	d := decimal.NewFromBigInt(coeff, -int32(scale))
	if sign == 0 {
		d = d.Neg()
	}
	return d, nil
}

// decodeGUID reads a 16-byte mixed-endian GUID and canonicalizes it.
func decodeGUID(c *Cursor) (any, error) {
	b, err := c.Bytes(16)
	if err != nil {
		return nil, err
	}
	var re [16]byte
	re[0], re[1], re[2], re[3] = b[3], b[2], b[1], b[0]
	re[4], re[5] = b[5], b[4]
	re[6], re[7] = b[7], b[6]
	copy(re[8:], b[8:])
	id, err := uuid.FromBytes(re[:])
	if err != nil {
		return nil, err
	}
	return id, nil
}

func decodeRawOrText(c *Cursor, col tds.Column, n int) (any, error) {
	b, err := c.Bytes(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	switch col.Type {
	case tds.TypeChar, tds.TypeVarChar, tds.TypeBigVarChar, tds.TypeBigChar:
		return string(out), nil
	default:
		return out, nil
	}
}

func (c *Cursor) ucs2Bytes(chars int) (any, error) {
	s, err := c.ucs2(chars)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// decodePLP reads a partially length-prefixed value: an 8-byte
// length/sentinel, then either nothing (NULL), a single known-length
// body, or a sequence of 4-byte-length chunks terminated by a
// zero-length chunk (MS-TDS 2.2.5.2.3).
func decodePLP(c *Cursor, col tds.Column) (any, error) {
	total, err := c.Uint64()
	if err != nil {
		return nil, err
	}
	if total == tds.PLPNullLen {
		return nil, nil
	}

	var out []byte
	for {
		chunkLen, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		if chunkLen == 0 {
			break
		}
		b, err := c.Bytes(int(chunkLen))
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}

	switch col.Type {
	case tds.TypeNVarChar, tds.TypeNChar, tds.TypeXML:
		return utf16LEToString(out), nil
	case tds.TypeBigVarChar, tds.TypeBigChar:
		return string(out), nil
	default:
		return out, nil
	}
}

func utf16LEToString(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// decodeLOBLegacy reads the pre-PLP TEXT/NTEXT/IMAGE wire format: a
// text-pointer length+bytes, an 8-byte timestamp, then a 4-byte data
// length and the data itself.
func decodeLOBLegacy(c *Cursor, col tds.Column) (any, error) {
	ptrLen, err := c.Byte()
	if err != nil {
		return nil, err
	}
	if ptrLen == 0 {
		return nil, nil
	}
	if _, err := c.Bytes(int(ptrLen)); err != nil { // text pointer
		return nil, err
	}
	if _, err := c.Bytes(8); err != nil { // timestamp
		return nil, err
	}
	dataLen, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	b, err := c.Bytes(int(dataLen))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	if col.Type == tds.TypeNText {
		return utf16LEToString(out), nil
	}
	if col.Type == tds.TypeText {
		return string(out), nil
	}
	return out, nil
}

// decodeSQLVariant reads a SQL_VARIANT value: a 1-byte base type, a
// 1-byte property-bytes count, the properties, then the value itself
// using that base type's ordinary fixed/var-len encoding.
func decodeSQLVariant(c *Cursor, totalLen int) (any, error) {
	start := c.Offset()
	baseType, err := c.Byte()
	if err != nil {
		return nil, err
	}
	propBytes, err := c.Byte()
	if err != nil {
		return nil, err
	}
	if _, err := c.Bytes(int(propBytes)); err != nil {
		return nil, err
	}
	consumed := c.Offset() - start
	valueLen := totalLen - consumed
	col := tds.Column{Type: tds.SQLType(baseType), Length: uint32(valueLen)}
	b, err := c.Bytes(valueLen)
	if err != nil {
		return nil, err
	}
	inner := NewCursor(b)
	return Decode(inner, col, true)
}
