// Package parser decodes the TDS token stream returned in a REPLY
// message: COLMETADATA, ROW/NBCROW, DONE family, ERROR/INFO,
// ENVCHANGE, LOGINACK, FEDAUTHINFO, FEATUREEXTACK, ORDER,
// RETURNSTATUS, RETURNVALUE and SSPI tokens.
package parser

import "github.com/hugr-lab/mssql-tds/internal/tds/rowvalue"

// reader is the shared wire cursor, reused from rowvalue so the token
// parser and the row-value decoders agree on primitive encodings.
type reader = rowvalue.Cursor

func newReader(buf []byte) *reader {
	return rowvalue.NewCursor(buf)
}
