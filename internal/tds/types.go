package tds

import "fmt"

// SQLType is the one-byte TDS wire type identifier (MS-TDS 2.2.5.4.1/4.2).
type SQLType uint8

const (
	TypeNull      SQLType = 0x1F
	TypeInt1      SQLType = 0x30 // tinyint
	TypeBit       SQLType = 0x32
	TypeInt2      SQLType = 0x34 // smallint
	TypeInt4      SQLType = 0x38 // int
	TypeDateTime4 SQLType = 0x3A // smalldatetime
	TypeFloat4    SQLType = 0x3B // real
	TypeMoney     SQLType = 0x3C
	TypeDateTime  SQLType = 0x3D
	TypeFloat8    SQLType = 0x3E // float
	TypeMoney4    SQLType = 0x7A // smallmoney
	TypeInt8      SQLType = 0x7F // bigint

	TypeGUID            SQLType = 0x24
	TypeIntN            SQLType = 0x26
	TypeDecimalLegacy   SQLType = 0x37
	TypeNumericLegacy   SQLType = 0x3F
	TypeBitN            SQLType = 0x68
	TypeDecimalN        SQLType = 0x6A
	TypeNumericN        SQLType = 0x6C
	TypeFloatN          SQLType = 0x6D
	TypeMoneyN          SQLType = 0x6E
	TypeDateTimeN       SQLType = 0x6F
	TypeDateN           SQLType = 0x28
	TypeTimeN           SQLType = 0x29
	TypeDateTime2N      SQLType = 0x2A
	TypeDateTimeOffsetN SQLType = 0x2B

	TypeChar      SQLType = 0x2F
	TypeVarChar   SQLType = 0x27
	TypeBinary    SQLType = 0x2D
	TypeVarBinary SQLType = 0x25

	TypeBigVarBin  SQLType = 0xA5
	TypeBigVarChar SQLType = 0xA7
	TypeBigBinary  SQLType = 0xAD
	TypeBigChar    SQLType = 0xAF
	TypeNVarChar   SQLType = 0xE7
	TypeNChar      SQLType = 0xEF
	TypeXML        SQLType = 0xF1
	TypeUDT        SQLType = 0xF0

	TypeText      SQLType = 0x23
	TypeImage     SQLType = 0x22
	TypeNText     SQLType = 0x63
	TypeSSVariant SQLType = 0x62
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit, TypeBitN:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeIntN:
		return "INTN"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8, TypeFloatN:
		return "FLOAT"
	case TypeDateTime, TypeDateTimeN:
		return "DATETIME"
	case TypeDateTime4:
		return "SMALLDATETIME"
	case TypeMoney, TypeMoneyN:
		return "MONEY"
	case TypeMoney4:
		return "SMALLMONEY"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimalN, TypeNumericN, TypeDecimalLegacy, TypeNumericLegacy:
		return "DECIMAL"
	case TypeChar, TypeBigChar:
		return "CHAR"
	case TypeVarChar, TypeBigVarChar:
		return "VARCHAR"
	case TypeBinary, TypeBigBinary:
		return "BINARY"
	case TypeVarBinary, TypeBigVarBin:
		return "VARBINARY"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	case TypeXML:
		return "XML"
	case TypeSSVariant:
		return "SQL_VARIANT"
	case TypeUDT:
		return "UDT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// MaxLen is the COLMETADATA length sentinel marking a MAX-length
// (VARCHAR(MAX)/NVARCHAR(MAX)/VARBINARY(MAX)) column, the only case
// that actually uses PLP framing (MS-TDS 2.2.5.2.3, 2.2.5.4.2.1).
const MaxLen uint32 = 0xFFFF

// supportsPLP reports whether the type can ever appear in PLP form.
// XML and UDT are always PLP; the big variable-length types are PLP
// only when their declared length is the MAX sentinel, which is why
// this is not by itself sufficient to decide framing for a column.
func (t SQLType) supportsPLP() bool {
	switch t {
	case TypeNVarChar, TypeBigVarChar, TypeBigVarBin, TypeXML, TypeUDT:
		return true
	default:
		return false
	}
}

// IsPLP reports whether this column uses PLP (partially length-prefixed)
// wire framing. Per MS-TDS, NVARCHAR/VARCHAR/VARBINARY only switch to
// PLP framing when their declared length is the MAX sentinel (0xFFFF);
// an ordinary bounded NVARCHAR(n) still uses the ordinary 2-byte
// length-prefix format. XML and UDT are always PLP.
func (c Column) IsPLP() bool {
	if !c.Type.supportsPLP() {
		return false
	}
	if c.Type == TypeXML || c.Type == TypeUDT {
		return true
	}
	return c.Length == MaxLen
}

// IsFixedLen reports whether the type has no length prefix at all on
// the wire (the byte count is implied by the type itself).
func (t SQLType) IsFixedLen() bool {
	switch t {
	case TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4,
		TypeDateTime, TypeDateTime4:
		return true
	default:
		return false
	}
}

// Column describes one COLMETADATA entry.
type Column struct {
	Name      string
	Type      SQLType
	Length    uint32 // declared max length (bytes, or MaxLen 0xFFFF for MAX/PLP)
	Precision uint8  // DECIMAL/NUMERIC
	Scale     uint8  // DECIMAL/NUMERIC/TIME family
	Collation [5]byte
	Nullable  bool
	UserType  uint32
	Flags     uint16
}

// ColumnFlags for COLMETADATA (MS-TDS 2.2.5.4.2.2).
const (
	ColFlagNullable        uint16 = 0x0001
	ColFlagCaseSen         uint16 = 0x0002
	ColFlagUpdateable      uint16 = 0x0008
	ColFlagIdentity        uint16 = 0x0010
	ColFlagComputed        uint16 = 0x0020
	ColFlagFixedLenCLR     uint16 = 0x0100
	ColFlagSparseColumn    uint16 = 0x0400
	ColFlagEncrypted       uint16 = 0x0800
	ColFlagHidden          uint16 = 0x2000
	ColFlagKey             uint16 = 0x4000
	ColFlagNullableUnknown uint16 = 0x8000
)

// PLPNullLen is the 8-byte PLP length sentinel (all bits set) marking a
// NULL MAX value (MS-TDS 2.2.5.2.3).
const PLPNullLen uint64 = 0xFFFFFFFFFFFFFFFF

// PLPUnknownLen is the 8-byte PLP length sentinel marking a non-NULL MAX
// value whose total size was unknown when the server began writing it,
// requiring the reader to consume chunks until the 4-byte zero terminator.
const PLPUnknownLen uint64 = 0xFFFFFFFFFFFFFFFE

// DefaultCollation is SQL_Latin1_General_CP1_CI_AS, the typical server default.
var DefaultCollation = [5]byte{0x09, 0x04, 0xD0, 0x00, 0x34}
