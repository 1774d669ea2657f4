package txn

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hugr-lab/mssql-tds/internal/auth"
	"github.com/hugr-lab/mssql-tds/internal/conn"
	"github.com/hugr-lab/mssql-tds/internal/testutil/tdsfake"
)

func dial(t *testing.T, srv *tdsfake.Server) *conn.Connection {
	t.Helper()
	host, portStr, _ := strings.Cut(srv.Addr(), ":")
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	c, err := conn.Connect(context.Background(), conn.Config{
		Host:         host,
		Port:         port,
		Database:     "master",
		HostName:     "testhost",
		AppName:      "mssql-tds-test",
		PacketSize:   4096,
		DialTimeout:  2 * time.Second,
		LoginTimeout: 2 * time.Second,
		Auth:         auth.SQLAuth{Username: "sa", Password: "x"},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func TestBeginCommit(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	released := false
	tx, err := Begin(context.Background(), c, IsolationUnspecified, "", func() { released = true })
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if c.TxnDescriptor() == (zeroDescriptor) {
		t.Fatal("expected a nonzero transaction descriptor after Begin")
	}

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !released {
		t.Error("expected release to be called after Commit")
	}
	if c.TxnDescriptor() != zeroDescriptor {
		t.Error("expected the transaction descriptor to clear after Commit")
	}

	if err := tx.Commit(context.Background()); err == nil {
		t.Error("expected a second Commit on an ended transaction to fail")
	}
}

func TestBeginRollback(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	tx, err := Begin(context.Background(), c, IsolationReadCommitted, "", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if c.TxnDescriptor() != zeroDescriptor {
		t.Error("expected the transaction descriptor to clear after Rollback")
	}
}

func TestNestedCommitOnlyOutermostEndsTransaction(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	tx, err := Begin(context.Background(), c, IsolationUnspecified, "", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	// Nest mirrors a further BEGIN TRANSACTION the caller has issued.
	if err := execDrain(context.Background(), c, "BEGIN TRANSACTION"); err != nil {
		t.Fatalf("nested BEGIN: %v", err)
	}
	tx.Nest()

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("inner Commit: %v", err)
	}
	if c.TxnDescriptor() == zeroDescriptor {
		t.Error("inner Commit must not clear the descriptor, only the outermost commit ends the transaction")
	}

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("outer Commit: %v", err)
	}
	if c.TxnDescriptor() != zeroDescriptor {
		t.Error("outer Commit should have cleared the descriptor")
	}
}

func TestRollbackUndoesAllNesting(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	tx, err := Begin(context.Background(), c, IsolationUnspecified, "", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx.Nest()
	tx.Nest()

	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if c.TxnDescriptor() != zeroDescriptor {
		t.Error("Rollback should undo everything regardless of nesting level")
	}
	if err := tx.Rollback(context.Background()); err != nil {
		t.Error("Rollback on an already-ended transaction should be a no-op, not an error")
	}
}

func TestAbandonIsIdempotent(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	tx, err := Begin(context.Background(), c, IsolationUnspecified, "", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx.Abandon(context.Background())
	tx.Abandon(context.Background())
}

func TestSavepointAndRollbackTo(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	tx, err := Begin(context.Background(), c, IsolationUnspecified, "", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(context.Background())

	if err := tx.Savepoint(context.Background(), "sp1"); err != nil {
		t.Fatalf("Savepoint: %v", err)
	}
	if err := tx.RollbackTo(context.Background(), "sp1"); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
}

func TestIsolationLevelSQL(t *testing.T) {
	cases := map[IsolationLevel]string{
		IsolationReadUncommitted: "READ UNCOMMITTED",
		IsolationReadCommitted:   "READ COMMITTED",
		IsolationRepeatableRead:  "REPEATABLE READ",
		IsolationSerializable:    "SERIALIZABLE",
		IsolationSnapshot:        "SNAPSHOT",
		IsolationUnspecified:     "",
	}
	for level, want := range cases {
		if got := level.sql(); got != want {
			t.Errorf("IsolationLevel(%d).sql() = %q, want %q", level, got, want)
		}
	}
}
