package parser

import "github.com/hugr-lab/mssql-tds/internal/tds"

// DoneToken is a decoded DONE/DONEPROC/DONEINPROC token (MS-TDS
// 2.2.7.6): status bits, the current SQL command, and a row count
// that is only meaningful when DoneCount is set.
type DoneToken struct {
	Kind     tds.TokenType // Done, DoneProc or DoneInProc
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (d *DoneToken) More() bool     { return d.Status&tds.DoneMore != 0 }
func (d *DoneToken) Error() bool    { return d.Status&tds.DoneError != 0 }
func (d *DoneToken) InTxn() bool    { return d.Status&tds.DoneInxact != 0 }
func (d *DoneToken) HasCount() bool { return d.Status&tds.DoneCount != 0 }
func (d *DoneToken) Attn() bool     { return d.Status&tds.DoneAttn != 0 }

func parseDone(r *reader, kind tds.TokenType) (*DoneToken, error) {
	status, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	curCmd, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	rowCount, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	return &DoneToken{Kind: kind, Status: status, CurCmd: curCmd, RowCount: rowCount}, nil
}
