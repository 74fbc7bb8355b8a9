package nntp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync/atomic"
	"time"

	"github.com/datallboy/nzbfetch/internal/domain"
)

// ConnState is the lifecycle of a pooled connection: Idle <-> InUse -> Dead.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateInUse
	StateDead
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	default:
		return "dead"
	}
}

// Conn is one authenticated NNTP session. It is not safe for concurrent use; the pool hands it
// to one caller at a time.
type Conn struct {
	cfg     domain.ServerConfig
	raw     net.Conn
	text    *textproto.Conn
	state   atomic.Int32
	created time.Time
}

// dial connects, performs the TLS handshake when configured, reads the greeting and logs in.
func dial(ctx context.Context, cfg domain.ServerConfig, tm *tlsManager) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.Timeout()}
	raw, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, wrapNetErr("connect", err)
	}

	if cfg.TLS {
		tlsConn := tm.client(raw)
		hctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
		err := tlsConn.HandshakeContext(hctx)
		cancel()
		if err != nil {
			_ = raw.Close()
			tm.recordFailure()
			return nil, wrapNetErr("tls: handshake", err)
		}
		raw = tlsConn
	}

	c := &Conn{
		cfg:     cfg,
		raw:     raw,
		text:    textproto.NewConn(raw),
		created: time.Now(),
	}

	if err := c.handshake(ctx); err != nil {
		_ = c.raw.Close()
		return nil, err
	}
	c.setState(StateIdle)
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	done := c.deadline(ctx)
	defer done()

	// Usenet servers greet with 200, or 201 when posting is not allowed
	if _, _, err := c.text.ReadCodeLine(20); err != nil {
		return wrapNetErr("greeting", err)
	}

	return c.authenticate()
}

func (c *Conn) authenticate() error {
	if c.cfg.Username == "" {
		return nil
	}

	code, _, err := c.cmd(0, "AUTHINFO USER %s", c.cfg.Username)
	if err != nil {
		return authErr(err)
	}
	switch code {
	case 281:
		return nil
	case 381: // Password required
	default:
		return authErr(&textproto.Error{Code: code, Msg: "unexpected reply to AUTHINFO USER"})
	}

	if _, _, err := c.cmd(281, "AUTHINFO PASS %s", c.cfg.Password); err != nil {
		return authErr(err)
	}
	return nil
}

// Article issues ARTICLE for msgID and returns the response lines joined with CRLF.
func (c *Conn) Article(ctx context.Context, msgID string) ([]byte, error) {
	done := c.deadline(ctx)
	defer done()

	id := strings.TrimSuffix(strings.TrimPrefix(msgID, "<"), ">")
	if _, _, err := c.cmd(220, "ARTICLE <%s>", id); err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == 430 {
			return nil, fmt.Errorf("%w (430)", domain.ErrArticleNotFound)
		}
		return nil, wrapNetErr("article", err)
	}

	lines, err := c.text.ReadDotLines()
	if err != nil {
		return nil, wrapNetErr("article body", err)
	}
	return []byte(strings.Join(lines, "\r\n")), nil
}

// Date is the lightweight health probe.
func (c *Conn) Date(ctx context.Context) error {
	done := c.deadline(ctx)
	defer done()

	if _, _, err := c.cmd(111, "DATE"); err != nil {
		return wrapNetErr("date", err)
	}
	return nil
}

func (c *Conn) Close() error {
	c.setState(StateDead)
	_ = c.raw.SetDeadline(time.Now().Add(time.Second))
	// Send QUIT so the server can release the connection slot immediately
	_, _ = c.text.Cmd("QUIT")
	return c.text.Close()
}

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *Conn) cmd(expect int, format string, args ...any) (int, string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	return c.text.ReadCodeLine(expect)
}

// deadline bounds the next operation by the server timeout or ctx, whichever ends first.
// Cancelling ctx expires the deadline so a blocked read returns promptly.
func (c *Conn) deadline(ctx context.Context) func() {
	d := time.Now().Add(c.cfg.Timeout())
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	_ = c.raw.SetDeadline(d)

	stop := context.AfterFunc(ctx, func() {
		_ = c.raw.SetDeadline(time.Now())
	})
	return func() { stop() }
}

// connError keeps host names and message-ids out of the error text; the classifier matches on it.
type connError struct {
	op  string
	err error
}

func (e *connError) Error() string { return e.op + ": " + describe(e.err) }

func (e *connError) Unwrap() error { return e.err }

func wrapNetErr(op string, err error) error {
	return &connError{op: op, err: err}
}

func authErr(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return wrapNetErr("login", err)
}

func describe(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "dns lookup timeout"
		}
		return "dns lookup failed: " + dnsErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		if opErr.Timeout() {
			return opErr.Op + ": i/o timeout"
		}
		return opErr.Op + ": " + opErr.Err.Error()
	}
	return err.Error()
}
