package nntp

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/datallboy/nzbfetch/internal/classify"
	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

var ErrPoolClosed = errors.New("connection pool closed")

type PoolOptions struct {
	// AcquireTimeout bounds the wait for a free connection when the pool is at capacity.
	AcquireTimeout time.Duration
	// Idle connections older than IdleCheckAfter are probed with DATE before being handed out.
	IdleCheckAfter time.Duration

	TLSFailureThreshold int
	TLSFailureWindow    time.Duration
	// RootCAs overrides the system roots for certificate chain verification.
	RootCAs *x509.CertPool

	Logger *logger.Logger
}

func (o *PoolOptions) withDefaults() {
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 60 * time.Second
	}
	if o.IdleCheckAfter <= 0 {
		o.IdleCheckAfter = 30 * time.Second
	}
	if o.TLSFailureThreshold == 0 {
		o.TLSFailureThreshold = 5
	}
	if o.TLSFailureWindow <= 0 {
		o.TLSFailureWindow = time.Minute
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
}

// Pool is a bounded set of connections to one server. Acquire blocks while every connection is
// checked out and fails with domain.ErrPoolTimeout once AcquireTimeout passes.
type Pool struct {
	cfg  domain.ServerConfig
	opts PoolOptions
	pool *puddle.Pool[*Conn]
	tls  *tlsManager
	log  *logger.Logger

	created   atomic.Int64
	destroyed atomic.Int64
}

type PoolStats struct {
	Server         string `json:"server"`
	MaxConnections int32  `json:"max_connections"`
	Total          int32  `json:"total"`
	Idle           int32  `json:"idle"`
	InUse          int32  `json:"in_use"`
	Created        int64  `json:"created"`
	Destroyed      int64  `json:"destroyed"`
	TLSFailures    int64  `json:"tls_failures"`
	TLSRebuilds    int64  `json:"tls_rebuilds"`
	EmptyAcquires  int64  `json:"empty_acquires"`
}

func NewPool(cfg domain.ServerConfig, opts PoolOptions) (*Pool, error) {
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("server %s: max_connections must be positive", cfg.ID)
	}
	opts.withDefaults()

	p := &Pool{
		cfg:  cfg,
		opts: opts,
		log:  opts.Logger,
		tls:  newTLSManager(cfg.Host, cfg.TLSSkipVerify, opts.RootCAs, opts.TLSFailureThreshold, opts.TLSFailureWindow, opts.Logger),
	}

	pool, err := puddle.NewPool(&puddle.Config[*Conn]{
		Constructor: func(ctx context.Context) (*Conn, error) {
			c, err := dial(ctx, cfg, p.tls)
			if err != nil {
				return nil, err
			}
			p.created.Add(1)
			p.log.Debug("[%s] opened connection (%d total)", cfg.ID, p.created.Load())
			return c, nil
		},
		Destructor: func(c *Conn) {
			_ = c.Close()
			p.destroyed.Add(1)
		},
		MaxSize: int32(cfg.MaxConnections),
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

func (p *Pool) ID() string { return p.cfg.ID }

func (p *Pool) Config() domain.ServerConfig { return p.cfg }

// Acquire checks out a connection, dialing a new one while below capacity.
// The returned lease must be released on every path.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	actx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()

	for {
		res, err := p.pool.Acquire(actx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, puddle.ErrClosedPool):
				return nil, ErrPoolClosed
			case errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil:
				return nil, domain.ErrPoolTimeout
			}
			return nil, err
		}

		c := res.Value()
		if res.IdleDuration() > p.opts.IdleCheckAfter {
			if err := c.Date(actx); err != nil {
				p.log.Debug("[%s] idle connection failed health check: %v", p.cfg.ID, err)
				c.setState(StateDead)
				res.Destroy()
				continue
			}
		}

		c.setState(StateInUse)
		return &Lease{res: res, pool: p}, nil
	}
}

func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		Server:         p.cfg.ID,
		MaxConnections: s.MaxResources(),
		Total:          s.TotalResources(),
		Idle:           s.IdleResources(),
		InUse:          s.AcquiredResources(),
		Created:        p.created.Load(),
		Destroyed:      p.destroyed.Load(),
		TLSFailures:    p.tls.totalFailures.Load(),
		TLSRebuilds:    p.tls.rebuilds.Load(),
		EmptyAcquires:  s.EmptyAcquireCount(),
	}
}

// Close destroys idle connections and waits for leased ones to come back.
func (p *Pool) Close() {
	p.pool.Close()
}

// Lease is a checked out connection. Release is idempotent and safe to defer.
type Lease struct {
	res  *puddle.Resource[*Conn]
	pool *Pool
	once sync.Once
	err  error
}

func (l *Lease) Conn() *Conn { return l.res.Value() }

// Fail records an error seen while using the connection. Unless the error leaves the session in a
// known good state (a 430 reply), Release will close the connection instead of returning it.
func (l *Lease) Fail(err error) {
	if err == nil || errors.Is(err, domain.ErrArticleNotFound) {
		return
	}
	l.err = err
	if classify.Classify(err, nil).Category == domain.CategoryTLSConnection {
		l.pool.tls.recordFailure()
	}
}

// Release returns a healthy connection to the pool and destroys a failed one.
func (l *Lease) Release() {
	l.once.Do(func() {
		c := l.res.Value()
		if l.err == nil {
			err := c.Date(context.Background())
			if err == nil {
				c.setState(StateIdle)
				l.res.Release()
				return
			}
			l.pool.log.Debug("[%s] connection failed post-use health check: %v", l.pool.cfg.ID, err)
		}
		c.setState(StateDead)
		l.res.Destroy()
	})
}
