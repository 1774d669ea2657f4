package parser

import "github.com/hugr-lab/mssql-tds/internal/tds"

// EnvChangeToken is a decoded ENVCHANGE token (MS-TDS 2.2.7.8). The
// sub-type determines which fields are meaningful: most (database,
// language, charset, packet size) carry plain old/new strings;
// collation carries raw bytes; the transaction and routing sub-types
// have their own binary layouts decoded into the typed fields below.
type EnvChangeToken struct {
	Type      uint8
	NewString string
	OldString string
	NewBytes  []byte
	OldBytes  []byte

	// Populated for Type == EnvBeginTran/EnvCommitTran/EnvRollbackTran.
	TransactionDescriptor [8]byte

	// Populated for Type == EnvRouting.
	RoutingProtocol uint8
	RoutingPort     uint16
	RoutingServer   string
}

func parseEnvChange(r *reader) (*EnvChangeToken, error) {
	typ, err := r.Byte()
	if err != nil {
		return nil, err
	}
	tok := &EnvChangeToken{Type: typ}

	switch typ {
	case tds.EnvBeginTran, tds.EnvCommitTran, tds.EnvRollbackTran, tds.EnvEnlistDTC, tds.EnvDefectTran:
		newVal, err := r.BVarByte()
		if err != nil {
			return nil, err
		}
		oldVal, err := r.BVarByte()
		if err != nil {
			return nil, err
		}
		if len(newVal) >= 8 {
			copy(tok.TransactionDescriptor[:], newVal[:8])
		}
		tok.NewBytes, tok.OldBytes = newVal, oldVal
		return tok, nil

	case tds.EnvRouting:
		if _, err := r.Uint16(); err != nil { // total routing-data length
			return nil, err
		}
		protocol, err := r.Byte()
		if err != nil {
			return nil, err
		}
		port, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		server, err := r.USVarchar()
		if err != nil {
			return nil, err
		}
		if _, err := r.Uint16(); err != nil { // old value length, always 0
			return nil, err
		}
		tok.RoutingProtocol = protocol
		tok.RoutingPort = port
		tok.RoutingServer = server
		return tok, nil

	case tds.EnvSQLCollation, tds.EnvSortID, tds.EnvSortFlags:
		newVal, err := r.BVarByte()
		if err != nil {
			return nil, err
		}
		oldVal, err := r.BVarByte()
		if err != nil {
			return nil, err
		}
		tok.NewBytes, tok.OldBytes = newVal, oldVal
		return tok, nil

	default:
		newVal, err := r.BVarchar()
		if err != nil {
			return nil, err
		}
		oldVal, err := r.BVarchar()
		if err != nil {
			return nil, err
		}
		tok.NewString, tok.OldString = newVal, oldVal
		return tok, nil
	}
}
