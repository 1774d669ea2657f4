// Package mssqlconfig loads and hot-reloads the tunables this engine's
// connection pool and transport layer read at runtime: timeouts, pool
// sizing, packet size, and the default encryption mode. A DuckDB
// extension process is long-lived, so these are read from a YAML file
// that can be edited without restarting the host process.
package mssqlconfig

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hugr-lab/mssql-tds/internal/bulkload"
	"github.com/hugr-lab/mssql-tds/internal/pool"
	"github.com/hugr-lab/mssql-tds/internal/tds"
)

// Config is the on-disk shape of the tunables file. Field names and
// defaults follow the host-visible configuration surface: pool sizing
// and connection caching, bulk-load batching, and the synthesized-
// INSERT limits a host falls back to when it can't use BULK_LOAD.
type Config struct {
	PacketSize   int           `yaml:"packet_size"`
	DialTimeout  time.Duration `yaml:"connection_timeout"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
	Encryption   string        `yaml:"encryption"` // off, on, not_supported, required

	// TrustServerCertificate skips server certificate validation during
	// the TLS upgrade, matching drivers' "TrustServerCertificate=true"
	// connection-string knob for self-signed or internal CA deployments.
	TrustServerCertificate bool   `yaml:"trust_server_certificate"`
	ServerName             string `yaml:"server_name"`

	Pool struct {
		ConnectionLimit  int           `yaml:"connection_limit"`
		ConnectionCache  bool          `yaml:"connection_cache"`
		IdleTimeout      time.Duration `yaml:"idle_timeout"`
		MinConnections   int           `yaml:"min_connections"`
		AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
		MaxLifetime      time.Duration `yaml:"max_lifetime"`
		ReapInterval     time.Duration `yaml:"reap_interval"`
		ValidateInterval time.Duration `yaml:"validate_interval"`
	} `yaml:"pool"`

	Copy struct {
		FlushRows int  `yaml:"copy_flush_rows"`
		TableLock bool `yaml:"copy_tablock"`
	} `yaml:"copy"`

	Insert struct {
		BatchSize    int `yaml:"insert_batch_size"`
		MaxSQLBytes  int `yaml:"insert_max_sql_bytes"`
	} `yaml:"insert"`
}

// Default returns the built-in tunables used when no file is present,
// matching spec.md's configuration surface table column-for-column.
func Default() Config {
	var c Config
	c.PacketSize = tds.DefaultPacketSize
	c.DialTimeout = 30 * time.Second
	c.LoginTimeout = 30 * time.Second
	c.Encryption = "on"
	c.Pool.ConnectionLimit = 64
	c.Pool.ConnectionCache = true
	c.Pool.IdleTimeout = 300 * time.Second
	c.Pool.MinConnections = 0
	c.Pool.AcquireTimeout = 30 * time.Second
	c.Pool.MaxLifetime = 30 * time.Minute
	c.Pool.ReapInterval = 30 * time.Second
	c.Pool.ValidateInterval = 30 * time.Second
	c.Copy.FlushRows = 100000
	c.Copy.TableLock = false
	c.Insert.BatchSize = 2000
	c.Insert.MaxSQLBytes = 8 << 20
	return c
}

// Load reads and parses a YAML tunables file, starting from Default
// so a partial file only overrides the fields it sets.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("mssqlconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// EncryptionByte maps the config's string encryption mode to the
// PRELOGIN wire value (internal/tds.EncryptOff/On/NotSup/Req).
func (c Config) EncryptionByte() uint8 {
	switch c.Encryption {
	case "off":
		return tds.EncryptOff
	case "not_supported":
		return tds.EncryptNotSup
	case "required":
		return tds.EncryptReq
	default:
		return tds.EncryptOn
	}
}

// TLSConfig builds the client TLS configuration internal/transport.UpgradeTLS
// negotiates with, pinned to TLS 1.2 the way SQL Server's TDS encryption
// layer expects. TrustServerCertificate disables chain verification for
// self-signed or internal-CA deployments instead of requiring the host
// to manage a trust store.
func (c Config) TLSConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.TrustServerCertificate,
		MinVersion:         tls.VersionTLS12,
	}
}

// PoolOptions maps the config's pool section to internal/pool.Options.
// When ConnectionCache is false, MaxLifetime is clamped to force every
// acquired connection closed on release rather than recycled — the
// pool still provides the Acquire/Release bookkeeping and waiter
// queue, it just never reuses a connection.
func (c Config) PoolOptions() pool.Options {
	opts := pool.Options{
		MinConns:         c.Pool.MinConnections,
		MaxConns:         c.Pool.ConnectionLimit,
		AcquireTimeout:   c.Pool.AcquireTimeout,
		IdleTimeout:      c.Pool.IdleTimeout,
		MaxLifetime:      c.Pool.MaxLifetime,
		ReapInterval:     c.Pool.ReapInterval,
		ValidateInterval: c.Pool.ValidateInterval,
	}
	if !c.Pool.ConnectionCache {
		opts.MaxLifetime = -1
	}
	return opts
}

// BulkLoadOptions maps the config's copy section to
// internal/bulkload.Options.
func (c Config) BulkLoadOptions() bulkload.Options {
	opts := bulkload.DefaultOptions()
	if c.Copy.FlushRows > 0 {
		opts.FlushRows = c.Copy.FlushRows
	}
	opts.TableLock = c.Copy.TableLock
	return opts
}

// OnChange is invoked with the newly loaded Config whenever the
// watched file changes. A parse failure is reported instead, leaving
// the previously loaded Config in effect.
type OnChange func(Config, error)

// Watcher reloads a YAML tunables file whenever it changes on disk,
// debouncing bursts of writes the way editors and config-management
// tools tend to produce them (a single save can fire several fsnotify
// events in quick succession).
type Watcher struct {
	mu       sync.RWMutex
	path     string
	current  Config
	fsw      *fsnotify.Watcher
	onChange OnChange

	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
