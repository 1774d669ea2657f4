// Command mssql-probe exercises the engine's embeddable surface
// standalone: dial a server, run one diagnostic subcommand, and
// report what happened. It is not a SQL client — DuckDB is the
// intended caller of the library this binary smoke-tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hugr-lab/mssql-tds/internal/auth"
	"github.com/hugr-lab/mssql-tds/internal/conn"
	"github.com/hugr-lab/mssql-tds/internal/pool"
	"github.com/hugr-lab/mssql-tds/internal/stream"
	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/pkg/log"
	"github.com/hugr-lab/mssql-tds/pkg/version"
)

// connFlags holds the connection parameters every subcommand needs.
// Each value comes from its CLI flag; host, user, password and database
// fall back to an MSSQL_* environment variable and then a built-in
// default, while port and encrypt fall back straight to a built-in
// default.
type connFlags struct {
	host, user, password, database string
	port                            int
	encrypt                         string
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func registerConnFlags(fs *flag.FlagSet) *connFlags {
	cf := &connFlags{}
	fs.StringVar(&cf.host, "host", envOr("MSSQL_HOST", ""), "SQL Server host")
	fs.IntVar(&cf.port, "port", 1433, "SQL Server port")
	fs.StringVar(&cf.user, "user", envOr("MSSQL_USER", ""), "login username")
	fs.StringVar(&cf.password, "password", envOr("MSSQL_PASSWORD", ""), "login password")
	fs.StringVar(&cf.database, "database", envOr("MSSQL_DATABASE", ""), "initial database")
	fs.StringVar(&cf.encrypt, "encrypt", "on", "encryption: off, on, not_supported, required")
	return cf
}

func (cf *connFlags) encryptionByte() uint8 {
	switch cf.encrypt {
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

func (cf *connFlags) config() conn.Config {
	return conn.Config{
		Host:         cf.host,
		Port:         cf.port,
		Database:     cf.database,
		AppName:      "mssql-probe",
		Encryption:   cf.encryptionByte(),
		DialTimeout:  15 * time.Second,
		LoginTimeout: 30 * time.Second,
		Auth:         &auth.SQLAuth{Username: cf.user, Password: cf.password},
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "open":
		err = runOpen(os.Args[2:])
	case "ping":
		err = runPing(os.Args[2:])
	case "pool-stats":
		err = runPoolStats(os.Args[2:])
	case "close":
		err = runClose(os.Args[2:])
	case "version":
		fmt.Println(version.Full())
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "mssql-probe:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mssql-probe <open|ping|pool-stats|close|version> [flags]")
}

func runOpen(args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	cf := registerConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := conn.Connect(ctx, cf.config())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	ack := c.LoginAck()
	fmt.Printf("connected: state=%s database=%s\n", c.State(), c.Database())
	if ack != nil {
		fmt.Printf("server program: %s %d.%d.%d.%d\n", ack.ProgName,
			ack.ProgVersion[0], ack.ProgVersion[1], ack.ProgVersion[2], ack.ProgVersion[3])
	}
	return nil
}

func runPing(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	cf := registerConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := conn.Connect(ctx, cf.config())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	start := time.Now()
	rs, err := stream.Execute(ctx, c, "SELECT 1")
	if err != nil {
		return fmt.Errorf("select 1: %w", err)
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
	if err := rs.Err(); err != nil {
		return err
	}

	fmt.Printf("ping ok in %s\n", time.Since(start))
	return nil
}

func runPoolStats(args []string) error {
	fs := flag.NewFlagSet("pool-stats", flag.ExitOnError)
	cf := registerConnFlags(fs)
	acquireN := fs.Int("acquire", 1, "number of connections to acquire before reporting stats")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := pool.Key{Host: cf.host, Port: cf.port, Database: cf.database, Principal: cf.user, Encryption: cf.encryptionByte()}
	p := pool.New(key, pool.DefaultOptions(), func(ctx context.Context) (*conn.Connection, error) {
		return conn.Connect(ctx, cf.config())
	})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var held []*pool.Conn
	for i := 0; i < *acquireN; i++ {
		pc, err := p.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire %d: %w", i, err)
		}
		held = append(held, pc)
	}
	for _, pc := range held {
		_ = pc.Close()
	}

	s := p.Stats()
	fmt.Printf("active=%d idle=%d total=%d waiting=%d exhausted=%d reuse=%d\n",
		s.Active, s.Idle, s.Total, s.Waiting, s.Exhausted, s.ReuseCount)
	return nil
}

func runClose(args []string) error {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	cf := registerConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := conn.Connect(ctx, cf.config())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	log.For("mssql-probe").Info("connection closed cleanly")
	fmt.Println("closed")
	return nil
}
