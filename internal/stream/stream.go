// Package stream implements the pull-based result stream a caller
// iterates after internal/conn.Connection.Execute: Next advances row
// by row, NextResultSet crosses a DONE(MORE) boundary into the next
// COLMETADATA, and a ctx cancellation drives ATTENTION and drains the
// DONE_ATTN confirmation before surfacing context.Canceled.
package stream

import (
	"context"

	"github.com/hugr-lab/mssql-tds/internal/conn"
	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/internal/tds/parser"
	"github.com/hugr-lab/mssql-tds/pkg/mssqlerr"
)

// OutputParam is a named RETURNVALUE from an RPC call (stored
// procedure output parameter).
type OutputParam struct {
	Ordinal uint16
	Name    string
	Value   any
}

// Rows is one SQL_BATCH/RPC response: zero or more result sets, each a
// COLMETADATA followed by ROW/NBCROW tokens, each terminated by a
// DONE-family token.
type Rows struct {
	conn   *conn.Connection
	parser *parser.Parser

	columns  []tds.Column
	row      []any
	rowCount int64

	returnStatus *int32
	outputParams []OutputParam

	firstErr     error
	moreResults  bool
	resultSetEnd bool
}

// Execute sends query on c and returns a Rows ready for Next.
func Execute(ctx context.Context, c *conn.Connection, query string) (*Rows, error) {
	p, err := c.Execute(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Rows{conn: c, parser: p}, nil
}

// Columns reports the current result set's column schema. It is only
// meaningful once Next or NextResultSet has returned true at least
// once for the current result set.
func (rs *Rows) Columns() []tds.Column { return rs.columns }

// RowsAffected returns the cumulative row count reported by DONE
// tokens with the COUNT status bit set, across every result set seen
// so far.
func (rs *Rows) RowsAffected() int64 { return rs.rowCount }

// ReturnStatus reports the RPC return status, if one was sent.
func (rs *Rows) ReturnStatus() (int32, bool) {
	if rs.returnStatus == nil {
		return 0, false
	}
	return *rs.returnStatus, true
}

// OutputParams reports RETURNVALUE tokens accumulated so far.
func (rs *Rows) OutputParams() []OutputParam { return rs.outputParams }

// Err returns the first server ERROR token or parse failure seen.
func (rs *Rows) Err() error { return rs.firstErr }

// Next advances to the next row of the current result set. It returns
// false at end of result set (including on cancellation or a parse
// error; check Err or ctx.Err to distinguish).
func (rs *Rows) Next(ctx context.Context) (bool, error) {
	if rs.resultSetEnd {
		return false, rs.firstErr
	}
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			rs.cancel()
			return false, ctxErr
		}
		if rs.parser.Done() {
			rs.resultSetEnd = true
			return false, rs.firstErr
		}
		typ, tok, err := rs.parser.Next()
		if err != nil {
			rs.firstErr = mssqlerr.Wrap(err, mssqlerr.KindProtocol, "parse response token").Err()
			rs.resultSetEnd = true
			return false, rs.firstErr
		}
		switch typ {
		case tds.TokenRow, tds.TokenNBCRow:
			rs.row = tok.(*parser.RowToken).Values
			return true, nil
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := tok.(*parser.DoneToken)
			rs.applyDone(d)
			rs.resultSetEnd = true
			rs.moreResults = d.More()
			return false, rs.firstErr
		default:
			rs.applyOther(typ, tok)
		}
	}
}

// NextResultSet advances past the current result set's DONE boundary
// into the next COLMETADATA, returning false once no further result
// set follows.
func (rs *Rows) NextResultSet(ctx context.Context) (bool, error) {
	if !rs.moreResults {
		return false, rs.firstErr
	}
	rs.columns = nil
	rs.moreResults = false
	rs.resultSetEnd = false

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			rs.cancel()
			return false, ctxErr
		}
		if rs.parser.Done() {
			rs.resultSetEnd = true
			return false, rs.firstErr
		}
		typ, tok, err := rs.parser.Next()
		if err != nil {
			rs.firstErr = mssqlerr.Wrap(err, mssqlerr.KindProtocol, "parse response token").Err()
			rs.resultSetEnd = true
			return false, rs.firstErr
		}
		switch typ {
		case tds.TokenColMetadata:
			rs.columns = tok.(*parser.ColMetadataToken).Columns
			return true, nil
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := tok.(*parser.DoneToken)
			rs.applyDone(d)
			if !d.More() {
				rs.resultSetEnd = true
				return false, rs.firstErr
			}
		default:
			rs.applyOther(typ, tok)
		}
	}
}

// Scan copies the current row's decoded column values into dest,
// which must have the same length as Columns().
func (rs *Rows) Scan(dest []any) error {
	if len(dest) != len(rs.row) {
		return mssqlerr.Newf(mssqlerr.KindProtocol, "scan: expected %d destinations, got %d", len(rs.row), len(dest)).Err()
	}
	copy(dest, rs.row)
	return nil
}

func (rs *Rows) applyDone(d *parser.DoneToken) {
	rs.conn.ApplyDone(d)
	if d.HasCount() {
		rs.rowCount += int64(d.RowCount)
	}
	if d.Error() && rs.firstErr == nil {
		rs.firstErr = mssqlerr.New(mssqlerr.KindServer, "batch completed with an error status").Err()
	}
}

func (rs *Rows) applyOther(typ tds.TokenType, tok any) {
	switch typ {
	case tds.TokenColMetadata:
		rs.columns = tok.(*parser.ColMetadataToken).Columns
	case tds.TokenEnvChange:
		rs.conn.ApplyEnvChange(tok.(*parser.EnvChangeToken))
	case tds.TokenError:
		e := tok.(*parser.ErrorInfoToken)
		if rs.firstErr == nil {
			rs.firstErr = mssqlerr.ServerError(e.Number, e.State, e.Class, e.ServerName, e.ProcName, e.Message, e.LineNumber)
		}
	case tds.TokenReturnStatus:
		v := tok.(*parser.ReturnStatusToken).Value
		rs.returnStatus = &v
	case tds.TokenReturnValue:
		rv := tok.(*parser.ReturnValueToken)
		rs.outputParams = append(rs.outputParams, OutputParam{
			Ordinal: rv.ParamOrdinal,
			Name:    rv.ParamName,
			Value:   rv.Value,
		})
	}
}

// cancel sends ATTENTION and drains the confirmation through
// conn.Cancel, which keeps reading messages until one carries a DONE
// with the ATTN status bit.
func (rs *Rows) cancel() {
	_ = rs.conn.Cancel(context.Background())
}
