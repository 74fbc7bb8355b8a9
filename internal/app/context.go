package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/datallboy/nzbfetch/internal/decoding"
	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/engine"
	"github.com/datallboy/nzbfetch/internal/infra/config"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
	"github.com/datallboy/nzbfetch/internal/nntp"
	"github.com/datallboy/nzbfetch/internal/nzb"
	"github.com/datallboy/nzbfetch/internal/retry"
	"github.com/datallboy/nzbfetch/internal/storage"
	"github.com/datallboy/nzbfetch/internal/store"
)

// Context hold the core environment and shared resources for nzbfetch.
// Components are built lazily so that commands only open what they use.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Store      *store.PersistentStore
	NNTP       *nntp.Manager
	Codec      *decoding.Codec
	Downloader *engine.Downloader
	Queue      *engine.QueueManager
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
		Codec: decoding.NewCodec(
			decoding.WithStrict(cfg.Download.StrictCRC),
			decoding.WithLogger(log),
		),
	}
}

// OpenStore connects the persistence layer.
func (c *Context) OpenStore(ctx context.Context) error {
	if c.Store != nil {
		return nil
	}
	opts := c.Config.Store.StoreOptions()
	opts.Logger = c.Logger
	s, err := store.NewPersistentStore(ctx, opts)
	if err != nil {
		return err
	}
	c.Store = s
	return nil
}

// OpenNNTP builds one connection pool per configured server. No connection is dialed yet.
func (c *Context) OpenNNTP() error {
	if c.NNTP != nil {
		return nil
	}
	m, err := nntp.NewManager(c.Config.DomainServers(), nntp.PoolOptions{
		AcquireTimeout: c.Config.Download.AcquireTimeout,
		IdleCheckAfter: c.Config.Download.IdleCheckAfter,
		Logger:         c.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create nntp pools: %w", err)
	}
	c.NNTP = m
	return nil
}

// StartEngine wires pools, codec, fetcher, writer, retry scheduler and downloader into a queue.
// With resume set, downloads interrupted by an earlier run are queued again.
func (c *Context) StartEngine(ctx context.Context, resume bool, opts ...engine.QueueOption) error {
	if err := c.OpenStore(ctx); err != nil {
		return err
	}
	if err := c.OpenNNTP(); err != nil {
		return err
	}

	dl := c.Config.Download
	concurrency := dl.Concurrency
	if concurrency <= 0 {
		concurrency = c.NNTP.TotalCapacity()
	}

	parser := nzb.NewParser()
	fetcher := engine.NewFetcher(engine.PoolSources(c.NNTP), c.Codec, c.Logger)
	c.Downloader = engine.NewDownloader(
		fetcher,
		storage.NewAtomicWriter(nil),
		parser,
		retry.NewScheduler(c.Logger),
		engine.Options{
			Concurrency:      concurrency,
			SuccessThreshold: dl.SuccessThreshold,
			PartialPolicy:    domain.PartialPolicy(dl.PartialPolicy),
			Retry: retry.Policy{
				MaxAttempts: c.NNTP.MaxRetries() + 1,
				BaseDelay:   dl.RetryBaseDelay,
				MaxDelay:    dl.RetryMaxDelay,
			},
		},
		c.Logger,
	)
	c.Queue = engine.NewQueueManager(ctx, c.Downloader, parser, c.Store, c.Logger, resume, opts...)
	return nil
}

func (c *Context) Close() error {
	var errs []error
	if c.NNTP != nil {
		c.NNTP.Close()
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if c.Logger != nil {
		errs = append(errs, c.Logger.Close())
	}
	return errors.Join(errs...)
}
