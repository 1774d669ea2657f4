// Package bulkload implements the BULK_LOAD writer side of the
// protocol: the INSERT BULK prologue, COLMETADATA and ROW tokens for
// each flushed batch, and the closing DONE, grounded on the teacher's
// ResultSetWriter (pkg/tds/types.go) with the DECIMAL/DATE/TIME
// families it never wrote filled in.
package bulkload

import (
	"encoding/binary"
	"fmt"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

// encodeTypeInfo inverts internal/tds/parser.parseTypeVarLen, writing
// the TYPE_INFO tail that follows a column's one-byte type token
// (MS-TDS 2.2.5.4.2.1/4.2). XML, UDT and the legacy LOB family
// (TEXT/NTEXT/IMAGE) are not supported bulk-load targets here; SQL
// Server itself restricts BULK_LOAD to the plain scalar/LOB-in-PLP
// families, and this engine narrows to the common subset a DuckDB
// extension actually writes.
func encodeTypeInfo(col tds.Column) ([]byte, error) {
	switch col.Type {
	case tds.TypeInt1, tds.TypeBit, tds.TypeInt2, tds.TypeInt4, tds.TypeInt8,
		tds.TypeFloat4, tds.TypeFloat8, tds.TypeMoney, tds.TypeMoney4,
		tds.TypeDateTime, tds.TypeDateTime4:
		return nil, nil

	case tds.TypeGUID, tds.TypeIntN, tds.TypeBitN, tds.TypeFloatN, tds.TypeMoneyN, tds.TypeDateTimeN:
		return []byte{byte(col.Length)}, nil

	case tds.TypeDecimalN, tds.TypeNumericN:
		return []byte{byte(col.Length), col.Precision, col.Scale}, nil

	case tds.TypeDateN:
		return nil, nil

	case tds.TypeTimeN, tds.TypeDateTime2N, tds.TypeDateTimeOffsetN:
		return []byte{col.Scale}, nil

	case tds.TypeChar, tds.TypeVarChar, tds.TypeBinary, tds.TypeVarBinary:
		buf := []byte{byte(col.Length)}
		if col.Type == tds.TypeChar || col.Type == tds.TypeVarChar {
			buf = append(buf, col.Collation[:]...)
		}
		return buf, nil

	case tds.TypeBigVarBin, tds.TypeBigBinary:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(col.Length))
		return buf, nil

	case tds.TypeBigVarChar, tds.TypeBigChar, tds.TypeNVarChar, tds.TypeNChar:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(col.Length))
		buf = append(buf, col.Collation[:]...)
		return buf, nil

	default:
		return nil, fmt.Errorf("bulkload: unsupported column type %s for %s", col.Type, col.Name)
	}
}

// writeColMetadata appends a COLMETADATA token (MS-TDS 2.2.7.4)
// describing cols to buf.
func writeColMetadata(buf []byte, cols []tds.Column) ([]byte, error) {
	buf = append(buf, byte(tds.TokenColMetadata))
	count := make([]byte, 2)
	binary.LittleEndian.PutUint16(count, uint16(len(cols)))
	buf = append(buf, count...)

	for _, col := range cols {
		ut := make([]byte, 4)
		binary.LittleEndian.PutUint32(ut, col.UserType)
		buf = append(buf, ut...)

		flags := col.Flags
		if col.Nullable {
			flags |= tds.ColFlagNullable
		}
		fl := make([]byte, 2)
		binary.LittleEndian.PutUint16(fl, flags)
		buf = append(buf, fl...)

		buf = append(buf, byte(col.Type))

		typeInfo, err := encodeTypeInfo(col)
		if err != nil {
			return nil, err
		}
		buf = append(buf, typeInfo...)

		name := tds.EncodeUCS2(col.Name)
		buf = append(buf, byte(len(name)/2))
		buf = append(buf, name...)
	}

	return buf, nil
}
