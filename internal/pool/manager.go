package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugr-lab/mssql-tds/internal/conn"
	"github.com/hugr-lab/mssql-tds/pkg/log"
)

// Manager owns one Pool per Key, creating them lazily. A DuckDB
// extension process typically talks to a handful of distinct
// servers/databases over its lifetime; Manager lets every query path
// share the pool for a given target instead of threading a *Pool
// through call sites by hand.
type Manager struct {
	mu     sync.RWMutex
	pools  map[Key]*Pool
	opts   Options
	onExh  OnExhausted
	statCh chan struct{}
	once   sync.Once
}

// NewManager creates a Manager applying opts to every pool it
// creates.
func NewManager(opts Options) *Manager {
	return &Manager{
		pools:  make(map[Key]*Pool),
		opts:   opts,
		statCh: make(chan struct{}),
	}
}

// SetOnExhausted installs a callback applied to every pool created
// from this point on. Call before the first GetOrCreate for a given
// key to guarantee it's in effect.
func (m *Manager) SetOnExhausted(fn OnExhausted) {
	m.mu.Lock()
	m.onExh = fn
	m.mu.Unlock()
}

// GetOrCreate returns the pool for key, creating it with dial if it
// doesn't exist yet.
func (m *Manager) GetOrCreate(key Key, dial func(ctx context.Context) (*conn.Connection, error)) *Pool {
	m.mu.RLock()
	if p, ok := m.pools[key]; ok {
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[key]; ok {
		return p
	}

	p := New(key, m.opts, dial)
	p.SetOnExhausted(m.onExh)
	m.pools[key] = p
	log.For("pool").WithField("host", key.Host).WithField("database", key.Database).Info("created pool")
	return p
}

// Get returns the existing pool for key, if any.
func (m *Manager) Get(key Key) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[key]
	return p, ok
}

// Remove closes and forgets the pool for key.
func (m *Manager) Remove(key Key) bool {
	m.mu.Lock()
	p, ok := m.pools[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pools, key)
	m.mu.Unlock()

	p.Close()
	return true
}

// AllStats returns a snapshot of every managed pool.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// StartStatsLoop periodically invokes cb with every pool's stats
// until Close is called.
func (m *Manager) StartStatsLoop(interval time.Duration, cb func(Stats)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range m.AllStats() {
					cb(s)
				}
			case <-m.statCh:
				return
			}
		}
	}()
}

// Close shuts down every managed pool concurrently — Pool.Close itself
// blocks up to 30s draining active connections, and a host process
// closing several pools (one per distinct server it talked to) at
// shutdown shouldn't pay that sequentially. Safe to call more than
// once.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.statCh) })

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[Key]*Pool)
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range pools {
		p := p
		g.Go(func() error {
			p.Close()
			return nil
		})
	}
	_ = g.Wait()
}
