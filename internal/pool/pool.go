// Package pool implements a connection pool keyed by the server/
// database/identity tuple a caller dials, adapted from the tenant
// pool in the proxy this engine's connection layer is grounded on:
// an idle queue plus an active set guarded by one mutex, a
// sync.Cond wait loop for callers blocked on an exhausted pool, and
// a background reaper that trims idle connections down to MinConns.
// Where the original pool spoke Postgres/MySQL startup handshakes
// itself, Acquire here just calls internal/conn.Connect — this
// engine never needs more than one wire protocol.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugr-lab/mssql-tds/internal/conn"
	"github.com/hugr-lab/mssql-tds/pkg/log"
	"github.com/hugr-lab/mssql-tds/pkg/mssqlerr"
)

// Key identifies a pool: the server, database and login identity a
// dialed connection is bound to. Two configs that differ in any of
// these fields must not share a pool, since a pooled connection
// already carries a server-side login context for one of them.
type Key struct {
	Host         string
	Port         int
	Database     string
	Principal    string // username, or the federated identity's subject
	Encryption   uint8
	InstanceName string
}

// Options tunes pool sizing and timeouts.
type Options struct {
	MinConns       int
	MaxConns       int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	ReapInterval   time.Duration

	// ValidateInterval is the tier-(a) "quick" validation window: a
	// connection idle less than this is handed out on elapsed-time
	// trust alone. Once idle beyond pingValidateMultiplier times this
	// interval, Acquire runs the tier-(b) live ping instead.
	ValidateInterval time.Duration
}

// DefaultOptions matches the defaults the teacher's tenant pool
// ships with, scaled down: this engine expects one DuckDB process
// per pool rather than a multi-tenant proxy fan-out.
func DefaultOptions() Options {
	return Options{
		MinConns:         0,
		MaxConns:         8,
		AcquireTimeout:   30 * time.Second,
		IdleTimeout:      5 * time.Minute,
		MaxLifetime:      30 * time.Minute,
		ReapInterval:     30 * time.Second,
		ValidateInterval: 30 * time.Second,
	}
}

// pingValidateMultiplier sets how many ValidateIntervals a connection
// may sit idle before Acquire requires a live ping rather than trusting
// elapsed time alone (spec §4.I tier (b)).
const pingValidateMultiplier = 3

// Stats is a point-in-time snapshot of a Pool.
type Stats struct {
	Key        Key
	Active     int
	Idle       int
	Total      int
	Waiting    int
	MaxConns   int
	MinConns   int
	Exhausted  uint64
	WaitCount  uint64
	ReuseCount uint64
}

// pooledConn wraps a *conn.Connection with pool bookkeeping.
type pooledConn struct {
	c         *conn.Connection
	createdAt time.Time
	lastUsed  time.Time
}

// isExpired reports whether pc must not be reused. A negative
// maxLifetime (the ConnectionCache=false case) means every connection
// is expired the moment it's released — the pool still queues and
// dials for callers, it just never hands the same connection out
// twice.
func (pc *pooledConn) isExpired(maxLifetime time.Duration) bool {
	if maxLifetime < 0 {
		return true
	}
	return maxLifetime > 0 && time.Since(pc.createdAt) > maxLifetime
}

func (pc *pooledConn) isIdleTooLong(idleTimeout time.Duration) bool {
	return idleTimeout > 0 && time.Since(pc.lastUsed) > idleTimeout
}

// OnExhausted is called, outside any lock, every time Acquire finds
// the pool at MaxConns with no idle connection available.
type OnExhausted func(key Key)

// Pool manages connections for one Key.
type Pool struct {
	key  Key
	opts Options
	dial func(ctx context.Context) (*conn.Connection, error)

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*pooledConn
	active  map[*pooledConn]struct{}
	total   int
	waiting int
	closed  bool
	stopCh  chan struct{}

	exhausted  atomic.Uint64
	waitCount  atomic.Uint64
	reuseCount atomic.Uint64

	onExhausted OnExhausted
}

// Conn is the handle AddRow/Execute callers hold; Close returns it
// to the pool instead of closing the underlying connection.
type Conn struct {
	pc   *pooledConn
	pool *Pool
}

// Unwrap returns the underlying TDS connection.
func (pc *Conn) Unwrap() *conn.Connection { return pc.pc.c }

// Close returns the connection to its pool.
func (pc *Conn) Close() error {
	return pc.pool.release(pc.pc)
}

// New creates a Pool for key. dial opens one fresh, authenticated
// connection; it is normally a closure over internal/conn.Connect
// with a fixed Config derived from key.
func New(key Key, opts Options, dial func(ctx context.Context) (*conn.Connection, error)) *Pool {
	if opts.MaxConns <= 0 {
		opts = DefaultOptions()
	}
	p := &Pool{
		key:    key,
		opts:   opts,
		dial:   dial,
		active: make(map[*pooledConn]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	if opts.ReapInterval > 0 {
		go p.reapLoop()
	}
	if opts.MinConns > 0 {
		go p.warmUp()
	}
	return p
}

// SetOnExhausted installs a callback fired (without the pool lock
// held) whenever Acquire has to wait for a free slot.
func (p *Pool) SetOnExhausted(fn OnExhausted) {
	p.mu.Lock()
	p.onExhausted = fn
	p.mu.Unlock()
}

func (p *Pool) warmUp() {
	logger := log.For("pool")
	for i := 0; i < p.opts.MinConns; i++ {
		c, err := p.dial(context.Background())
		if err != nil {
			logger.WithError(err).Warn("pool warm-up dial failed")
			return
		}
		pc := &pooledConn{c: c, createdAt: time.Now(), lastUsed: time.Now()}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = c.Close()
			return
		}
		p.idle = append(p.idle, pc)
		p.total++
		p.mu.Unlock()
	}
}

// Acquire returns a pooled connection, dialing a fresh one if the
// pool has spare capacity, or blocking until one is returned or
// ctx/AcquireTimeout expires.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	deadline := time.Now().Add(p.opts.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, mssqlerr.ErrConnectionClosed
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.isExpired(p.opts.MaxLifetime) || pc.isIdleTooLong(p.opts.IdleTimeout) {
				p.total--
				p.mu.Unlock()
				_ = pc.c.Close()
				p.mu.Lock()
				continue
			}

			needsPing := pc.isIdleTooLong(p.opts.ValidateInterval * pingValidateMultiplier)
			p.mu.Unlock()

			if needsPing && !pc.c.Ping(ctx, p.opts.ValidateInterval) {
				_ = pc.c.Close()
				p.mu.Lock()
				p.total--
				continue
			}

			p.mu.Lock()
			p.active[pc] = struct{}{}
			pc.lastUsed = time.Now()
			p.mu.Unlock()
			p.reuseCount.Add(1)
			return &Conn{pc: pc, pool: p}, nil
		}

		if p.total < p.opts.MaxConns {
			p.total++
			p.mu.Unlock()

			c, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}
			pc := &pooledConn{c: c, createdAt: time.Now(), lastUsed: time.Now()}

			p.mu.Lock()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return &Conn{pc: pc, pool: p}, nil
		}

		p.waiting++
		p.exhausted.Add(1)
		p.waitCount.Add(1)
		onExhausted := p.onExhausted
		p.mu.Unlock()

		if onExhausted != nil {
			onExhausted(p.key)
		}

		if err := ctx.Err(); err != nil {
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
			return nil, err
		}
		if time.Now().After(deadline) {
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
			return nil, mssqlerr.ErrPoolExhausted
		}

		p.mu.Lock()
		waitDone := make(chan struct{})
		timer := time.AfterFunc(time.Until(deadline), func() {
			p.cond.Broadcast()
		})
		go func() {
			select {
			case <-ctx.Done():
				p.cond.Broadcast()
			case <-waitDone:
			}
		}()
		p.cond.Wait()
		close(waitDone)
		timer.Stop()
		p.waiting--
		p.mu.Unlock()
	}
}

// release returns pc to the idle list, or closes it outright if the
// pool has been closed or pc has outlived MaxLifetime. Uses Signal,
// not Broadcast, so only one waiter wakes per release — avoiding a
// thundering herd when many callers are blocked in Acquire.
func (p *Pool) release(pc *pooledConn) error {
	p.mu.Lock()
	delete(p.active, pc)

	if p.closed || pc.isExpired(p.opts.MaxLifetime) {
		p.total--
		p.mu.Unlock()
		return pc.c.Close()
	}

	pc.lastUsed = time.Now()
	pc.c.SetNeedsReset(true)
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Key:        p.key,
		Active:     len(p.active),
		Idle:       len(p.idle),
		Total:      p.total,
		Waiting:    p.waiting,
		MaxConns:   p.opts.MaxConns,
		MinConns:   p.opts.MinConns,
		Exhausted:  p.exhausted.Load(),
		WaitCount:  p.waitCount.Load(),
		ReuseCount: p.reuseCount.Load(),
	}
}

// Drain closes all idle connections immediately and waits (up to 30s)
// for active ones to be returned, force-closing any still active
// afterward.
func (p *Pool) Drain() {
	p.mu.Lock()
	for _, pc := range p.idle {
		_ = pc.c.Close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}

	logger := log.For("pool")
	logger.WithField("count", activeCount).Info("draining active connections")

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-timeout:
			p.mu.Lock()
			for pc := range p.active {
				_ = pc.c.Close()
				p.total--
			}
			p.active = make(map[*pooledConn]struct{})
			p.mu.Unlock()
			logger.Warn("force-closed active connections after drain timeout")
			return
		}
	}
}

// Close shuts the pool down: wakes every Acquire waiter with
// ErrConnectionClosed and drains all connections.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.Drain()
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.opts.MinConns {
		return
	}

	kept := make([]*pooledConn, 0, len(p.idle))
	excess := len(p.idle) - p.opts.MinConns
	for i, pc := range p.idle {
		if i < excess && (pc.isIdleTooLong(p.opts.IdleTimeout) || pc.isExpired(p.opts.MaxLifetime)) {
			_ = pc.c.Close()
			p.total--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
}
