// Package txn binds an explicit BEGIN/COMMIT/ROLLBACK sequence to one
// pinned connection. Pinning is driven only by the caller's own
// Begin/Commit/Rollback/Savepoint calls, never by sniffing SQL text
// for "BEGIN TRAN" the way a pooling proxy must when it cannot see
// past opaque batches — this engine already parses every token on
// the wire, so it always knows its own state.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/hugr-lab/mssql-tds/internal/conn"
	"github.com/hugr-lab/mssql-tds/internal/stream"
	"github.com/hugr-lab/mssql-tds/pkg/log"
	"github.com/hugr-lab/mssql-tds/pkg/mssqlerr"
)

// IsolationLevel is a T-SQL transaction isolation level.
type IsolationLevel int

const (
	IsolationUnspecified IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
	IsolationSnapshot
)

func (l IsolationLevel) sql() string {
	switch l {
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	case IsolationSnapshot:
		return "SNAPSHOT"
	default:
		return ""
	}
}

var zeroDescriptor [8]byte

// Tx pins c for the lifetime of one (possibly nested) transaction.
// Writes issued through Exec are serialized by mu — a transaction is
// inherently single-streamed, since SQL Server executes everything on
// one session in request order, but a caller driving a DuckDB scan in
// parallel goroutines must not interleave two batches on the same
// pinned connection.
type Tx struct {
	mu      sync.Mutex
	conn    *conn.Connection
	release func()
	name    string
	nesting int
	done    bool
}

// Begin starts a transaction on c, pinning it until Commit or
// Rollback. release, if non-nil, is called exactly once when the
// transaction ends (committed, rolled back, or abandoned) — a pool
// caller passes its Conn.Close here so the connection only returns to
// the idle list once no transaction is outstanding on it.
func Begin(ctx context.Context, c *conn.Connection, isolation IsolationLevel, name string, release func()) (*Tx, error) {
	if isolation != IsolationUnspecified {
		if err := execDrain(ctx, c, "SET TRANSACTION ISOLATION LEVEL "+isolation.sql()); err != nil {
			return nil, err
		}
	}

	stmt := "BEGIN TRANSACTION"
	if name != "" {
		stmt += " " + name
	}
	if err := execDrain(ctx, c, stmt); err != nil {
		return nil, err
	}

	if c.TxnDescriptor() == zeroDescriptor {
		return nil, mssqlerr.New(mssqlerr.KindTransaction, "BEGIN TRANSACTION did not produce a transaction descriptor").Err()
	}

	return &Tx{conn: c, release: release, name: name}, nil
}

// Exec runs query within the transaction.
func (t *Tx) Exec(ctx context.Context, query string) (*stream.Rows, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, mssqlerr.New(mssqlerr.KindTransaction, "transaction already ended").Err()
	}
	return stream.Execute(ctx, t.conn, query)
}

// Savepoint marks a point within the transaction that RollbackTo can
// return to without ending it.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return mssqlerr.New(mssqlerr.KindTransaction, "transaction already ended").Err()
	}
	return execDrain(ctx, t.conn, "SAVE TRANSACTION "+name)
}

// RollbackTo rolls back to a prior Savepoint without ending the
// transaction.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return mssqlerr.New(mssqlerr.KindTransaction, "transaction already ended").Err()
	}
	return execDrain(ctx, t.conn, "ROLLBACK TRANSACTION "+name)
}

// Nest registers that the caller has issued a further BEGIN TRANSACTION
// on the same connection. SQL Server itself tracks @@TRANCOUNT; this
// only mirrors that locally so Commit knows whether it is the
// outermost commit (the one that actually ends the transaction).
func (t *Tx) Nest() {
	t.mu.Lock()
	t.nesting++
	t.mu.Unlock()
}

// Commit commits the transaction (or, if nested, just decrements the
// nesting level — only the outermost COMMIT TRANSACTION actually ends
// a SQL Server transaction). After the outermost commit, unpin is
// refused unless ENVCHANGE has reported the descriptor cleared; a
// nonzero descriptor surviving a commit means the server and this
// client have desynced on transaction state, which is treated as an
// error rather than silently unpinning a connection that still has an
// open transaction.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return mssqlerr.New(mssqlerr.KindTransaction, "transaction already ended").Err()
	}

	if t.nesting > 0 {
		t.nesting--
		return execDrain(ctx, t.conn, "COMMIT TRANSACTION")
	}

	if err := execDrain(ctx, t.conn, "COMMIT TRANSACTION"); err != nil {
		return err
	}
	return t.finish(ctx, false)
}

// Rollback rolls back the entire transaction regardless of nesting
// level (SQL Server semantics: ROLLBACK TRANSACTION with no savepoint
// name always undoes everything back to the outermost BEGIN).
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	return t.finish(ctx, true)
}

func (t *Tx) finish(ctx context.Context, rollback bool) error {
	var err error
	if rollback {
		err = execDrain(ctx, t.conn, "ROLLBACK TRANSACTION")
	}

	if d := t.conn.TxnDescriptor(); d != zeroDescriptor {
		logger := log.For("txn")
		logger.WithField("conn", fmt.Sprintf("%p", t.conn)).Warn("transaction descriptor did not clear after end; abandoning connection")
		_ = t.conn.Close()
		t.done = true
		if t.release != nil {
			t.release()
		}
		if err == nil {
			err = mssqlerr.New(mssqlerr.KindTransaction, "transaction descriptor desync on end; connection closed").Err()
		}
		return err
	}

	t.done = true
	if t.release != nil {
		t.release()
	}
	return err
}

// Abandon rolls back and releases the connection unconditionally,
// used when a caller is giving up on a transaction (e.g. a canceled
// DuckDB query) rather than explicitly committing or rolling back.
func (t *Tx) Abandon(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	_ = t.finish(ctx, true)
}

func execDrain(ctx context.Context, c *conn.Connection, query string) error {
	rs, err := stream.Execute(ctx, c, query)
	if err != nil {
		return err
	}
	for {
		more, err := rs.Next(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return rs.Err()
}
