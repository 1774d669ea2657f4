package parser

import (
	"fmt"

	"github.com/hugr-lab/mssql-tds/internal/tds"
)

// ColMetadataToken is the decoded COLMETADATA token: the column schema
// for the ROW/NBCROW tokens that follow in the same result set.
type ColMetadataToken struct {
	Columns []tds.Column
}

// parseColMetadata inverts the teacher's TYPE_INFO writer: a 2-byte
// column count (0xFFFF means "no metadata", used ahead of a DONE-only
// reply) followed, per column, by UserType, Flags, the TYPE_INFO
// structure and the column name.
func parseColMetadata(r *reader) (*ColMetadataToken, error) {
	count, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if count == 0xFFFF {
		return &ColMetadataToken{}, nil
	}

	cols := make([]tds.Column, count)
	for i := range cols {
		userType, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		flags, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		col := tds.Column{UserType: userType, Flags: flags, Nullable: flags&tds.ColFlagNullable != 0}

		typeByte, err := r.Byte()
		if err != nil {
			return nil, err
		}
		col.Type = tds.SQLType(typeByte)

		if err := parseTypeVarLen(r, &col); err != nil {
			return nil, fmt.Errorf("tds: column %d (%s): %w", i, col.Type, err)
		}

		name, err := r.BVarchar()
		if err != nil {
			return nil, err
		}
		col.Name = name

		cols[i] = col
	}

	return &ColMetadataToken{Columns: cols}, nil
}

// parseTypeVarLen fills in the length/precision/scale/collation part
// of TYPE_INFO that follows the one-byte type token, per MS-TDS
// 2.2.5.4.2.1/4.2.
func parseTypeVarLen(r *reader, col *tds.Column) error {
	switch col.Type {
	case tds.TypeInt1, tds.TypeBit, tds.TypeInt2, tds.TypeInt4, tds.TypeInt8,
		tds.TypeFloat4, tds.TypeFloat8, tds.TypeMoney, tds.TypeMoney4,
		tds.TypeDateTime, tds.TypeDateTime4, tds.TypeNull:
		// FIXEDLENTYPE: no TYPE_VARLEN, length implied by the type.
		return nil

	case tds.TypeGUID, tds.TypeIntN, tds.TypeBitN, tds.TypeFloatN, tds.TypeMoneyN, tds.TypeDateTimeN:
		n, err := r.Byte()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		return nil

	case tds.TypeDecimalLegacy, tds.TypeNumericLegacy, tds.TypeDecimalN, tds.TypeNumericN:
		n, err := r.Byte()
		if err != nil {
			return err
		}
		prec, err := r.Byte()
		if err != nil {
			return err
		}
		scale, err := r.Byte()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		col.Precision = prec
		col.Scale = scale
		return nil

	case tds.TypeDateN:
		col.Length = 3
		return nil

	case tds.TypeTimeN, tds.TypeDateTime2N, tds.TypeDateTimeOffsetN:
		scale, err := r.Byte()
		if err != nil {
			return err
		}
		col.Scale = scale
		return nil

	case tds.TypeChar, tds.TypeVarChar, tds.TypeBinary, tds.TypeVarBinary:
		n, err := r.Byte()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		if col.Type == tds.TypeChar || col.Type == tds.TypeVarChar {
			collation, err := r.Bytes(5)
			if err != nil {
				return err
			}
			copy(col.Collation[:], collation)
		}
		return nil

	case tds.TypeBigVarBin, tds.TypeBigBinary:
		n, err := r.Uint16()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		return nil

	case tds.TypeBigVarChar, tds.TypeBigChar, tds.TypeNVarChar, tds.TypeNChar:
		n, err := r.Uint16()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		collation, err := r.Bytes(5)
		if err != nil {
			return err
		}
		copy(col.Collation[:], collation)
		return nil

	case tds.TypeXML:
		col.Length = tds.MaxLen
		schemaPresent, err := r.Byte()
		if err != nil {
			return err
		}
		if schemaPresent != 0 {
			if _, err := r.BVarchar(); err != nil { // DBName
				return err
			}
			if _, err := r.BVarchar(); err != nil { // OwningSchema
				return err
			}
			if _, err := r.USVarchar(); err != nil { // XmlSchemaCollection
				return err
			}
		}
		return nil

	case tds.TypeUDT:
		col.Length = tds.MaxLen
		if _, err := r.Uint16(); err != nil { // MAX_BYTE_SIZE, always 0xFFFF
			return err
		}
		if _, err := r.BVarchar(); err != nil { // DBName
			return err
		}
		if _, err := r.BVarchar(); err != nil { // SchemaName
			return err
		}
		if _, err := r.BVarchar(); err != nil { // TypeName
			return err
		}
		if _, err := r.USVarchar(); err != nil { // AssemblyQualifiedName
			return err
		}
		return nil

	case tds.TypeText, tds.TypeNText:
		n, err := r.Uint32()
		if err != nil {
			return err
		}
		col.Length = n
		collation, err := r.Bytes(5)
		if err != nil {
			return err
		}
		copy(col.Collation[:], collation)
		return skipTableName(r)

	case tds.TypeImage:
		n, err := r.Uint32()
		if err != nil {
			return err
		}
		col.Length = n
		return skipTableName(r)

	case tds.TypeSSVariant:
		n, err := r.Uint32()
		if err != nil {
			return err
		}
		col.Length = n
		return nil

	default:
		return fmt.Errorf("tds: unsupported COLMETADATA type 0x%02X", byte(col.Type))
	}
}

// skipTableName reads the TABLENAME structure (used by TEXT/NTEXT/IMAGE
// columns for updatability) and discards it; this engine is read-only
// toward these legacy LOB types.
func skipTableName(r *reader) error {
	numParts, err := r.Byte()
	if err != nil {
		return err
	}
	for i := 0; i < int(numParts); i++ {
		if _, err := r.USVarchar(); err != nil {
			return err
		}
	}
	return nil
}
