package bulkload

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

var dateEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// encodeValue writes one column's value in ROW wire format (MS-TDS
// 2.2.7.17), the inverse of internal/tds/rowvalue.Decode. A nil val
// writes the type's NULL representation.
func encodeValue(col tds.Column, val any) ([]byte, error) {
	if val == nil {
		return encodeNull(col)
	}

	switch col.Type {
	case tds.TypeInt1:
		return []byte{byte(toInt64(val))}, nil
	case tds.TypeInt2:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(toInt64(val)))
		return b, nil
	case tds.TypeInt4:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(toInt64(val)))
		return b, nil
	case tds.TypeInt8:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(toInt64(val)))
		return b, nil

	case tds.TypeIntN:
		body := make([]byte, col.Length)
		v := toInt64(val)
		switch col.Length {
		case 1:
			body[0] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(body, uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(body, uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(body, uint64(v))
		default:
			return nil, fmt.Errorf("bulkload: invalid INTN length %d", col.Length)
		}
		return append([]byte{byte(col.Length)}, body...), nil

	case tds.TypeBit:
		if toBool(val) {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case tds.TypeBitN:
		v := byte(0)
		if toBool(val) {
			v = 1
		}
		return []byte{1, v}, nil

	case tds.TypeFloat4:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(toFloat64(val))))
		return b, nil

	case tds.TypeFloat8:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(toFloat64(val)))
		return b, nil

	case tds.TypeFloatN:
		if col.Length == 4 {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(toFloat64(val))))
			return append([]byte{4}, b...), nil
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(toFloat64(val)))
		return append([]byte{8}, b...), nil

	case tds.TypeMoney4:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(toMoneyUnits(val, 10000))))
		return b, nil

	case tds.TypeMoney:
		return encodeMoney8(toMoneyUnits(val, 10000)), nil

	case tds.TypeMoneyN:
		if col.Length == 4 {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(int32(toMoneyUnits(val, 10000))))
			return append([]byte{4}, b...), nil
		}
		return append([]byte{8}, encodeMoney8(toMoneyUnits(val, 10000))...), nil

	case tds.TypeDateTime, tds.TypeDateTime4, tds.TypeDateTimeN:
		return encodeDateTime(col, val)

	case tds.TypeDateN:
		return append([]byte{3}, encodeDate(val)...), nil

	case tds.TypeTimeN:
		body := encodeTimeOfDay(val, col.Scale)
		return append([]byte{byte(len(body))}, body...), nil

	case tds.TypeDateTime2N:
		t, _ := val.(time.Time)
		body := encodeTimeOfDay(t, col.Scale)
		body = append(body, encodeDate(t)...)
		return append([]byte{byte(len(body))}, body...), nil

	case tds.TypeDateTimeOffsetN:
		t, _ := val.(time.Time)
		_, offSec := t.Zone()
		body := encodeTimeOfDay(t, col.Scale)
		body = append(body, encodeDate(t)...)
		offBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(offBuf, uint16(int16(offSec/60)))
		body = append(body, offBuf...)
		return append([]byte{byte(len(body))}, body...), nil

	case tds.TypeDecimalN, tds.TypeNumericN:
		return encodeDecimalValue(col, val)

	case tds.TypeGUID:
		id, ok := val.(uuid.UUID)
		if !ok {
			return nil, fmt.Errorf("bulkload: expected uuid.UUID for %s, got %T", col.Name, val)
		}
		return append([]byte{16}, encodeGUID(id)...), nil

	case tds.TypeChar, tds.TypeVarChar, tds.TypeBigVarChar, tds.TypeBigChar:
		return encodeVarByteOrPLP(col, []byte(toString(val)))

	case tds.TypeNVarChar, tds.TypeNChar:
		return encodeVarByteOrPLP(col, tds.EncodeUCS2(toString(val)))

	case tds.TypeBinary, tds.TypeVarBinary, tds.TypeBigVarBin, tds.TypeBigBinary:
		b, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("bulkload: expected []byte for %s, got %T", col.Name, val)
		}
		return encodeVarByteOrPLP(col, b)

	default:
		return nil, fmt.Errorf("bulkload: unsupported column type %s for %s", col.Type, col.Name)
	}
}

func encodeNull(col tds.Column) ([]byte, error) {
	switch col.Type {
	case tds.TypeIntN, tds.TypeBitN, tds.TypeFloatN, tds.TypeMoneyN,
		tds.TypeDateTimeN, tds.TypeGUID, tds.TypeDecimalN, tds.TypeNumericN,
		tds.TypeDateN, tds.TypeTimeN, tds.TypeDateTime2N, tds.TypeDateTimeOffsetN:
		return []byte{0}, nil

	case tds.TypeChar, tds.TypeVarChar, tds.TypeBinary, tds.TypeVarBinary:
		return []byte{0xFF}, nil

	case tds.TypeBigVarChar, tds.TypeBigChar, tds.TypeBigVarBin, tds.TypeBigBinary,
		tds.TypeNVarChar, tds.TypeNChar:
		if col.IsPLP() {
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, tds.PLPNullLen)
			return b, nil
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, 0xFFFF)
		return b, nil

	default:
		return nil, fmt.Errorf("bulkload: column %s (%s) is not nullable on the wire", col.Name, col.Type)
	}
}

// encodeVarByteOrPLP writes data with a 2-byte length prefix, or PLP
// chunked framing (one chunk plus terminator) when the column is
// MAX-length (col.IsPLP()).
func encodeVarByteOrPLP(col tds.Column, data []byte) ([]byte, error) {
	if int(col.Length) != int(tds.MaxLen) && len(data) > int(col.Length) {
		data = data[:col.Length]
	}
	if !col.IsPLP() {
		b := make([]byte, 2, 2+len(data))
		binary.LittleEndian.PutUint16(b, uint16(len(data)))
		return append(b, data...), nil
	}

	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(len(data)))
	if len(data) > 0 {
		chunkLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(chunkLen, uint32(len(data)))
		out = append(out, chunkLen...)
		out = append(out, data...)
	}
	out = append(out, 0, 0, 0, 0) // terminator chunk
	return out, nil
}

func encodeMoney8(units int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], uint32(int32(units>>32)))
	binary.LittleEndian.PutUint32(b[4:8], uint32(int32(units)))
	return b
}

func encodeDate(val any) []byte {
	t, _ := val.(time.Time)
	days := int32(t.Sub(dateEpoch).Hours() / 24)
	b := make([]byte, 3)
	b[0] = byte(days)
	b[1] = byte(days >> 8)
	b[2] = byte(days >> 16)
	return b
}

func encodeTimeOfDay(val any, scale uint8) []byte {
	t, _ := val.(time.Time)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	ticks := uint64(t.Sub(midnight).Nanoseconds() / 100)

	n := timeLenForScale(scale)
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(ticks)
		ticks >>= 8
	}
	return b
}

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

func encodeDateTime(col tds.Column, val any) ([]byte, error) {
	t, ok := val.(time.Time)
	if !ok {
		return nil, fmt.Errorf("bulkload: expected time.Time for %s, got %T", col.Name, val)
	}
	sqlEpoch := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	switch col.Type {
	case tds.TypeDateTime4:
		days := int16(t.Sub(sqlEpoch).Hours() / 24)
		mins := t.Hour()*60 + t.Minute()
		b := make([]byte, 4)
		binary.LittleEndian.PutUint16(b[0:2], uint16(days))
		binary.LittleEndian.PutUint16(b[2:4], uint16(mins))
		return b, nil
	default: // DateTime, DateTimeN
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		days := int32(midnight.Sub(sqlEpoch).Hours() / 24)
		ticks := uint32(t.Sub(midnight).Nanoseconds() / int64(1000000000/300))
		body := make([]byte, 8)
		binary.LittleEndian.PutUint32(body[0:4], uint32(days))
		binary.LittleEndian.PutUint32(body[4:8], ticks)
		if col.Type == tds.TypeDateTimeN {
			return append([]byte{8}, body...), nil
		}
		return body, nil
	}
}

func encodeGUID(id uuid.UUID) []byte {
	b := id[:]
	var re [16]byte
	re[0], re[1], re[2], re[3] = b[3], b[2], b[1], b[0]
	re[4], re[5] = b[5], b[4]
	re[6], re[7] = b[7], b[6]
	copy(re[8:], b[8:])
	return re[:]
}

func encodeDecimalValue(col tds.Column, val any) ([]byte, error) {
	d, ok := val.(decimal.Decimal)
	if !ok {
		return nil, fmt.Errorf("bulkload: expected decimal.Decimal for %s, got %T", col.Name, val)
	}
	rescaled := d.Rescale(-int32(col.Scale))
	coeff := rescaled.Coefficient()

	magLen := decimalMagLen(col.Precision)
	le := make([]byte, magLen)
	abs := new(big.Int).Abs(coeff)
	be := abs.Bytes()
	for i, b := range be {
		le[len(be)-1-i] = b
	}

	sign := byte(1)
	if coeff.Sign() < 0 {
		sign = 0
	}
	return append([]byte{byte(magLen + 1), sign}, le...), nil
}

func decimalMagLen(precision uint8) int {
	switch {
	case precision <= 9:
		return 4
	case precision <= 19:
		return 8
	case precision <= 28:
		return 12
	default:
		return 16
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return float64(toInt64(v))
	}
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	default:
		return toInt64(v) != 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// toMoneyUnits converts a value to integer 1/10000ths of the currency
// unit, accepting decimal.Decimal, float64 or an integer already in
// those units.
func toMoneyUnits(v any, scale int64) int64 {
	if d, ok := v.(decimal.Decimal); ok {
		return d.Mul(decimal.New(scale, 0)).IntPart()
	}
	if f, ok := v.(float64); ok {
		return int64(f * float64(scale))
	}
	return toInt64(v)
}
