package pool

import (
	"context"
	"testing"
	"time"

	"github.com/hugr-lab/mssql-tds/internal/auth"
	"github.com/hugr-lab/mssql-tds/internal/conn"
	"github.com/hugr-lab/mssql-tds/internal/testutil/tdsfake"
)

func testDialer(t *testing.T, srv *tdsfake.Server) func(ctx context.Context) (*conn.Connection, error) {
	t.Helper()
	host, port := splitAddr(t, srv.Addr())
	cfg := conn.Config{
		Host:         host,
		Port:         port,
		Database:     "master",
		HostName:     "testhost",
		AppName:      "mssql-tds-test",
		PacketSize:   4096,
		DialTimeout:  2 * time.Second,
		LoginTimeout: 2 * time.Second,
		Auth:         auth.SQLAuth{Username: "sa", Password: "x"},
	}
	return func(ctx context.Context) (*conn.Connection, error) {
		return conn.Connect(ctx, cfg)
	}
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	i := len(addr) - 1
	for i >= 0 && addr[i] != ':' {
		i--
	}
	if i < 0 {
		t.Fatalf("malformed addr %q", addr)
	}
	port := 0
	for _, c := range addr[i+1:] {
		port = port*10 + int(c-'0')
	}
	return addr[:i], port
}

func testOptions() Options {
	return Options{
		MinConns:       0,
		MaxConns:       2,
		AcquireTimeout: 500 * time.Millisecond,
		IdleTimeout:    time.Minute,
		MaxLifetime:    time.Minute,
		ReapInterval:   0,
	}
}

func TestAcquireDialsUpToMaxConns(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	p := New(Key{Host: "x"}, testOptions(), testDialer(t, srv))
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire #1: %v", err)
	}
	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire #2: %v", err)
	}

	stats := p.Stats()
	if stats.Active != 2 || stats.Total != 2 {
		t.Errorf("stats = %+v, want Active=2 Total=2", stats)
	}

	if err := c1.Close(); err != nil {
		t.Errorf("Close c1: %v", err)
	}
	if err := c2.Close(); err != nil {
		t.Errorf("Close c2: %v", err)
	}

	stats = p.Stats()
	if stats.Active != 0 || stats.Idle != 2 {
		t.Errorf("stats after release = %+v, want Active=0 Idle=2", stats)
	}
}

func TestAcquireReusesReleasedConnection(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	p := New(Key{Host: "x"}, testOptions(), testDialer(t, srv))
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := c1.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	if stats := p.Stats(); stats.ReuseCount != 1 {
		t.Errorf("ReuseCount = %d, want 1", stats.ReuseCount)
	}
	if got := srv.Accepted(); got != 1 {
		t.Errorf("server accepted %d connections, want 1 (reuse should avoid a second dial)", got)
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	opts := testOptions()
	opts.MaxConns = 1
	p := New(Key{Host: "x"}, opts, testDialer(t, srv))
	defer p.Close()

	held, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.Acquire(ctx); err == nil {
		t.Error("expected Acquire to fail once the pool is exhausted and the context expires")
	}
}

func TestAcquireExhaustedFiresCallback(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	opts := testOptions()
	opts.MaxConns = 1
	opts.AcquireTimeout = 100 * time.Millisecond
	p := New(Key{Host: "x"}, opts, testDialer(t, srv))
	defer p.Close()

	fired := make(chan Key, 1)
	p.SetOnExhausted(func(k Key) { fired <- k })

	held, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _ = p.Acquire(ctx)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Error("expected onExhausted callback to fire")
	}
}

func TestIsExpiredNegativeLifetimeAlwaysExpired(t *testing.T) {
	pc := &pooledConn{createdAt: time.Now()}
	if !pc.isExpired(-1) {
		t.Error("expected a negative MaxLifetime to mark every connection expired")
	}
	if pc.isExpired(0) {
		t.Error("zero MaxLifetime means no expiry")
	}
}

func TestReapIdleTrimsDownToMinConns(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	opts := testOptions()
	opts.MinConns = 1
	opts.MaxConns = 3
	opts.IdleTimeout = 1 * time.Millisecond
	p := New(Key{Host: "x"}, opts, testDialer(t, srv))
	defer p.Close()

	var conns []*Conn
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(5 * time.Millisecond)
	p.reapIdle()

	if stats := p.Stats(); stats.Idle != 1 {
		t.Errorf("Idle = %d after reap, want 1 (MinConns)", stats.Idle)
	}
}

func TestDrainClosesIdleAndWaitsForActive(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	p := New(Key{Host: "x"}, testOptions(), testDialer(t, srv))

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		p.Drain()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after the active connection was released")
	}
}

func TestReleaseMarksConnectionNeedsReset(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	p := New(Key{Host: "x"}, testOptions(), testDialer(t, srv))
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c1.Unwrap().NeedsReset() {
		t.Fatal("a freshly dialed connection should not start with needsReset set")
	}
	if err := c1.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	if !c2.Unwrap().NeedsReset() {
		t.Error("a reused connection should have needsReset set by release")
	}
}

func TestAcquirePingsLongIdleConnections(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	opts := testOptions()
	opts.ValidateInterval = 1 * time.Millisecond
	p := New(Key{Host: "x"}, opts, testDialer(t, srv))
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := c1.Close(); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond) // well past ValidateInterval * pingValidateMultiplier

	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after long idle: %v", err)
	}
	defer c2.Close()

	if stats := p.Stats(); stats.ReuseCount != 1 {
		t.Errorf("ReuseCount = %d, want 1 (ping should succeed and reuse, not redial)", stats.ReuseCount)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv, err := tdsfake.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	p := New(Key{Host: "x"}, testOptions(), testDialer(t, srv))
	p.Close()
	p.Close()
}
