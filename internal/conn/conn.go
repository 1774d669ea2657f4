// Package conn implements the client-side TDS connection: PRELOGIN/
// LOGIN7 handshake, the explicit state machine governing when a batch
// may be sent or cancelled, and the per-connection state ENVCHANGE
// keeps in sync (current database, collation, packet size, routing,
// the transaction descriptor pinned by internal/txn).
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/hugr-lab/mssql-tds/internal/auth"
	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/internal/tds/parser"
	"github.com/hugr-lab/mssql-tds/internal/transport"
	"github.com/hugr-lab/mssql-tds/pkg/log"
	"github.com/hugr-lab/mssql-tds/pkg/mssqlerr"
)

// Config describes everything needed to open and authenticate a
// connection.
type Config struct {
	Host           string
	Port           int
	InstanceName   string
	Database       string
	HostName       string
	AppName        string
	Language       string
	ReadOnlyIntent bool

	Encryption uint8 // tds.EncryptOff/On/NotSup/Req
	TLSConfig  *tls.Config

	PacketSize   int
	DialTimeout  time.Duration
	LoginTimeout time.Duration

	Auth auth.Strategy
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Connection is one authenticated TDS session.
type Connection struct {
	mu        sync.Mutex
	state     State
	transport *transport.Transport
	cfg       Config

	txnDescriptor [8]byte
	database      string
	serverName    string
	instanceName  string
	collation     [5]byte
	packetSize    int
	loginAck      *parser.LoginAckToken
	needsReset    bool
}

// Connect dials addr, negotiates encryption via PRELOGIN, optionally
// upgrades to TLS, then runs LOGIN7 through cfg.Auth. On success the
// connection is left in StateIdle.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	if cfg.PacketSize == 0 {
		cfg.PacketSize = tds.DefaultPacketSize
	}
	if cfg.Language == "" {
		cfg.Language = "us_english"
	}

	logger := log.For("conn")

	redirected := false
	for {
		topts := transport.DefaultOptions()
		if cfg.DialTimeout > 0 {
			topts.DialTimeout = cfg.DialTimeout
		}
		topts.PacketSize = cfg.PacketSize

		tr, err := transport.Dial(ctx, cfg.addr(), topts)
		if err != nil {
			return nil, err
		}

		c := &Connection{
			state:      StateDisconnected,
			transport:  tr,
			cfg:        cfg,
			packetSize: cfg.PacketSize,
		}

		if err := c.transitionTo(StateAuthenticating); err != nil {
			tr.Close()
			return nil, err
		}

		route, err := c.handshake(ctx)
		if err != nil {
			tr.Close()
			return nil, err
		}

		if route != nil {
			tr.Close()
			if redirected {
				return nil, mssqlerr.ErrTooManyRedirects
			}
			redirected = true
			cfg.Host = route.host
			cfg.Port = route.port
			logger.WithField("server", cfg.Host).WithField("port", cfg.Port).Info("following tds routing redirect")
			continue
		}

		if err := c.transitionTo(StateIdle); err != nil {
			tr.Close()
			return nil, err
		}

		logger.WithField("server", c.serverName).Info("tds connection established")
		return c, nil
	}
}

// routingTarget is the host/port an ENVCHANGE type-20 (routing) token
// asks the client to reconnect to. Only login-time routing is honored,
// and only once per Connect call (spec: at most one redirect; a second
// one fails with mssqlerr.ErrTooManyRedirects).
type routingTarget struct {
	host string
	port int
}

// handshake runs PRELOGIN, the optional TLS upgrade, and LOGIN7. It
// returns a non-nil *routingTarget instead of an error when the server
// redirects the login via an ENVCHANGE type-20 instead of completing
// it; the caller (Connect) must close this handshake's transport and
// redial the returned target.
func (c *Connection) handshake(ctx context.Context) (*routingTarget, error) {
	fedAuthReq := c.cfg.Auth != nil && c.cfg.Auth.RequiresFedAuth()

	preReq := tds.NewPreloginRequest(c.cfg.Encryption, c.cfg.InstanceName, fedAuthReq)
	if err := c.transport.Framer.WritePacket(ctx, tds.PacketPrelogin, preReq.Encode()); err != nil {
		return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "write prelogin").Err()
	}

	_, body, err := c.transport.Framer.ReadPacket(ctx)
	if err != nil {
		return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "read prelogin response").Err()
	}
	preResp, err := tds.ParsePreloginResponse(body)
	if err != nil {
		return nil, mssqlerr.Wrap(err, mssqlerr.KindProtocol, "parse prelogin response").Err()
	}

	if preResp.Encryption != tds.EncryptOff && preResp.Encryption != tds.EncryptNotSup {
		tlsConfig := c.cfg.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: c.cfg.Host}
		}
		if err := c.transport.UpgradeTLS(ctx, tlsConfig); err != nil {
			return nil, err
		}
	}

	base := &tds.Login7Request{
		TDSVersion:    tds.VerTDS74,
		PacketSize:    uint32(c.cfg.PacketSize),
		ClientProgVer: 0x07000000,
		HostName:      c.cfg.HostName,
		AppName:       c.cfg.AppName,
		ServerName:    c.cfg.Host,
		Language:      c.cfg.Language,
		Database:      c.cfg.Database,
		ReadOnlyIntent: c.cfg.ReadOnlyIntent,
	}

	login7, err := c.cfg.Auth.BuildLogin7(ctx, base, preResp)
	if err != nil {
		return nil, mssqlerr.Wrap(err, mssqlerr.KindAuthentication, "build login7").Err()
	}

	if err := c.transport.Framer.WritePacket(ctx, tds.PacketLogin7, login7.Encode()); err != nil {
		return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "write login7").Err()
	}

	return c.readLoginReply(ctx)
}

// readLoginReply drains token messages until a terminal DONE arrives,
// applying ENVCHANGE side effects and handling an ADAL FEDAUTHINFO
// round trip if the auth strategy requires one. If the terminal DONE
// is preceded by an ENVCHANGE routing token (type 20), it returns the
// redirect target instead of requiring a LOGINACK.
func (c *Connection) readLoginReply(ctx context.Context) (*routingTarget, error) {
	for {
		_, body, err := c.transport.Framer.ReadPacket(ctx)
		if err != nil {
			return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "read login reply").Err()
		}
		p := parser.New(body)

		var loginErr error
		var route *routingTarget
		done := false
		for !p.Done() {
			typ, tok, err := p.Next()
			if err != nil {
				return nil, mssqlerr.Wrap(err, mssqlerr.KindProtocol, "parse login reply token").Err()
			}
			switch typ {
			case tds.TokenLoginAck:
				c.loginAck = tok.(*parser.LoginAckToken)
			case tds.TokenEnvChange:
				ec := tok.(*parser.EnvChangeToken)
				c.ApplyEnvChange(ec)
				if ec.Type == tds.EnvRouting {
					route = &routingTarget{host: ec.RoutingServer, port: int(ec.RoutingPort)}
				}
			case tds.TokenError:
				e := tok.(*parser.ErrorInfoToken)
				loginErr = mssqlerr.ServerError(e.Number, e.State, e.Class, e.ServerName, e.ProcName, e.Message, e.LineNumber)
			case tds.TokenFedAuthInfo:
				fedTok := tok.(*parser.FedAuthInfoToken)
				tokenBytes, err := c.cfg.Auth.HandleFedAuthInfo(ctx, fedTok)
				if err != nil {
					return nil, mssqlerr.Wrap(err, mssqlerr.KindAuthentication, "adal token acquisition").Err()
				}
				if err := c.transport.Framer.WritePacket(ctx, tds.PacketFedAuthToken, tokenBytes); err != nil {
					return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "write fedauth token").Err()
				}
			case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
				d := tok.(*parser.DoneToken)
				if !d.More() {
					done = true
				}
			}
		}
		if loginErr != nil {
			return nil, loginErr
		}
		if done {
			if route != nil {
				return route, nil
			}
			if c.loginAck == nil {
				return nil, mssqlerr.New(mssqlerr.KindAuthentication, "login completed without LOGINACK").Err()
			}
			return nil, nil
		}
	}
}

func (c *Connection) transitionTo(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, to) {
		return mssqlerr.Newf(mssqlerr.KindConcurrency, "invalid connection state transition %s -> %s", c.state, to).Err()
	}
	c.state = to
	return nil
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Execute sends query as a SQL_BATCH carrying the connection's current
// transaction descriptor, then returns a Parser over the single
// assembled reply message. The caller (internal/stream) iterates the
// parser and must call ApplyEnvChange/ApplyDone for every ENVCHANGE
// and DONE-family token it sees.
func (c *Connection) Execute(ctx context.Context, query string) (*parser.Parser, error) {
	if err := c.transitionTo(StateExecuting); err != nil {
		return nil, err
	}

	payload := tds.BuildSQLBatch(c.TxnDescriptor(), query)

	status := tds.StatusNormal
	c.mu.Lock()
	if c.needsReset {
		status = tds.StatusResetConnection
		c.needsReset = false
	}
	c.mu.Unlock()

	if err := c.transport.Framer.WritePacketStatus(ctx, tds.PacketSQLBatch, payload, status); err != nil {
		c.transitionTo(StateIdle)
		return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "write sql batch").Err()
	}

	_, body, err := c.transport.Framer.ReadPacket(ctx)
	if err != nil {
		c.transitionTo(StateIdle)
		return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "read batch reply").Err()
	}

	return parser.New(body), nil
}

// Ping sends an empty SQL_BATCH and waits for a terminal DONE, used by
// the pool's tier-(b) validation for long-idle connections (spec §4.I).
// It reports liveness only; it never returns an error, matching how the
// pool treats a failed ping as "discard and redial" rather than a
// propagated failure.
func (c *Connection) Ping(ctx context.Context, timeout time.Duration) bool {
	pingCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p, err := c.Execute(pingCtx, "")
	if err != nil {
		return false
	}

	for !p.Done() {
		typ, tok, err := p.Next()
		if err != nil {
			return false
		}
		switch typ {
		case tds.TokenEnvChange:
			c.ApplyEnvChange(tok.(*parser.EnvChangeToken))
		case tds.TokenError:
			return false
		case tds.TokenDone, tds.TokenDoneProc, tds.TokenDoneInProc:
			d := tok.(*parser.DoneToken)
			c.ApplyDone(d)
			if d.Error() {
				return false
			}
		}
	}
	return true
}

// BulkLoad sends payload as a BULK_LOAD message (ALL_HEADERS +
// COLMETADATA + ROW*, built by internal/bulkload; only the final
// message of a load also carries a terminating DONE) and returns a
// Parser over the server's single acknowledgement message.
func (c *Connection) BulkLoad(ctx context.Context, payload []byte) (*parser.Parser, error) {
	if err := c.transitionTo(StateExecuting); err != nil {
		return nil, err
	}

	if err := c.transport.Framer.WritePacket(ctx, tds.PacketBulkLoad, payload); err != nil {
		c.transitionTo(StateIdle)
		return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "write bulk load").Err()
	}

	_, body, err := c.transport.Framer.ReadPacket(ctx)
	if err != nil {
		c.transitionTo(StateIdle)
		return nil, mssqlerr.Wrap(err, mssqlerr.KindTransport, "read bulk load reply").Err()
	}

	return parser.New(body), nil
}

// Cancel sends ATTENTION and drains the server's acknowledgement
// (a DONE token with the ATTN status bit set), per MS-TDS 2.2.1.6.
func (c *Connection) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateExecuting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateCancelling
	c.mu.Unlock()

	if err := c.transport.Framer.WritePacket(ctx, tds.PacketAttention, tds.BuildAttention()); err != nil {
		return mssqlerr.Wrap(err, mssqlerr.KindTransport, "write attention").Err()
	}

	for {
		_, body, err := c.transport.Framer.ReadPacket(ctx)
		if err != nil {
			return mssqlerr.Wrap(err, mssqlerr.KindTransport, "read attention ack").Err()
		}
		p := parser.New(body)
		attnSeen := false
		for !p.Done() {
			typ, tok, err := p.Next()
			if err != nil {
				return mssqlerr.Wrap(err, mssqlerr.KindProtocol, "parse attention ack").Err()
			}
			if typ == tds.TokenEnvChange {
				c.ApplyEnvChange(tok.(*parser.EnvChangeToken))
			}
			if typ == tds.TokenDone || typ == tds.TokenDoneProc || typ == tds.TokenDoneInProc {
				d := tok.(*parser.DoneToken)
				if d.Attn() {
					attnSeen = true
				}
			}
		}
		if attnSeen {
			return c.transitionTo(StateIdle)
		}
	}
}

// ApplyDone transitions the connection back to StateIdle once a
// non-MORE DONE-family token ends the current message.
func (c *Connection) ApplyDone(tok *parser.DoneToken) {
	if tok.More() {
		return
	}
	c.mu.Lock()
	if c.state == StateExecuting {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// ApplyEnvChange updates connection-level state (database, collation,
// packet size, transaction descriptor, routing target) from a decoded
// ENVCHANGE token.
func (c *Connection) ApplyEnvChange(tok *parser.EnvChangeToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch tok.Type {
	case tds.EnvDatabase:
		c.database = tok.NewString
	case tds.EnvPacketSize:
		var size int
		fmt.Sscanf(tok.NewString, "%d", &size)
		if size >= tds.MinPacketSize && size <= tds.MaxPacketSize {
			c.packetSize = size
			c.transport.Framer.SetPacketSize(size)
		}
	case tds.EnvSQLCollation:
		if len(tok.NewBytes) >= 5 {
			copy(c.collation[:], tok.NewBytes[:5])
		}
	case tds.EnvBeginTran, tds.EnvCommitTran, tds.EnvRollbackTran:
		c.txnDescriptor = tok.TransactionDescriptor
	case tds.EnvRouting:
		c.serverName = tok.RoutingServer
	}
}

func (c *Connection) TxnDescriptor() [8]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnDescriptor
}

func (c *Connection) SetTxnDescriptor(d [8]byte) {
	c.mu.Lock()
	c.txnDescriptor = d
	c.mu.Unlock()
}

// SetNeedsReset marks the connection so the next Execute sets
// StatusResetConnection on its SQL_BATCH, telling the server to reset
// session state before running the batch. The pool sets this on
// Release so the next caller gets a clean session (spec §4.I).
func (c *Connection) SetNeedsReset(v bool) {
	c.mu.Lock()
	c.needsReset = v
	c.mu.Unlock()
}

// NeedsReset reports whether the next Execute will set
// StatusResetConnection.
func (c *Connection) NeedsReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsReset
}

func (c *Connection) Database() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database
}

func (c *Connection) Collation() [5]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collation
}

func (c *Connection) LoginAck() *parser.LoginAckToken {
	return c.loginAck
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return c.transport.Close()
}
