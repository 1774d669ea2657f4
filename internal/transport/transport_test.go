package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestDialConnectsAndWrapsFramer(t *testing.T) {
	ln := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	tr, err := Dial(context.Background(), ln.Addr().String(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed an accepted connection")
	}

	if tr.Framer == nil {
		t.Error("expected Dial to populate a Framer")
	}
}

func TestDialFailsOnUnreachableAddress(t *testing.T) {
	opts := DefaultOptions()
	opts.DialTimeout = 200 * time.Millisecond
	if _, err := Dial(context.Background(), "127.0.0.1:1", opts); err == nil {
		t.Error("expected Dial to fail against a closed port")
	}
}

func TestDialRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Dial(ctx, "127.0.0.1:0", DefaultOptions()); err == nil {
		t.Error("expected Dial to fail with an already-cancelled context")
	}
}

func TestTransportStringIncludesAddr(t *testing.T) {
	ln := listen(t)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()
	tr, err := Dial(context.Background(), ln.Addr().String(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if got := tr.String(); got == "" {
		t.Error("String() should not be empty")
	}
}
