// Package retry runs operations with capped exponential backoff, deciding after every failure from
// its classified ErrorInfo whether another attempt can help.
package retry

import (
	"context"
	"maps"
	"math"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/datallboy/nzbfetch/internal/classify"
	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

// Policy bounds one retried operation. The wait after failed attempt n (0-indexed) is
// min(BaseDelay*2^n, MaxDelay).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry runs before each backoff wait with the 1-based number of the attempt that failed.
	OnRetry func(attempt int, info domain.ErrorInfo)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the wait after failed attempt n.
func (p Policy) Delay(n int) time.Duration {
	if p.BaseDelay <= 0 || n < 0 {
		return 0
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = math.MaxInt64
	}

	d := p.BaseDelay
	for i := 0; i < n && d < limit; i++ {
		if d > math.MaxInt64/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

func (p Policy) attempts() int {
	// retry-go treats zero attempts as "forever"
	return max(p.MaxAttempts, 1)
}

// Retriable reports whether a failure may be attempted again. TLS failures always are: a fresh
// connection gets a fresh handshake.
func Retriable(info domain.ErrorInfo) bool {
	return info.Category == domain.CategoryTLSConnection || info.Retriable
}

// Scheduler holds no per-operation state and may be shared by any number of concurrent callers.
type Scheduler struct {
	log   *logger.Logger
	timer retrygo.Timer
}

type Option func(*Scheduler)

// WithTimer replaces the wall clock used for backoff waits.
func WithTimer(t retrygo.Timer) Option {
	return func(s *Scheduler) { s.timer = t }
}

func NewScheduler(log *logger.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	s := &Scheduler{log: log, timer: wallClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is Do for operations without a result.
func (s *Scheduler) Run(ctx context.Context, p Policy, fields map[string]any, op func(ctx context.Context) error) error {
	_, err := Do(ctx, s, p, fields, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do calls op until it succeeds, a failure is classified as not retriable, the attempts run out or
// ctx ends. Every failure is logged with its ErrorInfo before that decision. The returned error
// carries the ErrorInfo of the last failure as a *domain.Error.
func Do[T any](ctx context.Context, s *Scheduler, p Policy, fields map[string]any, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.attempts()
	attempt := 0

	call := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		f := maps.Clone(fields)
		if f == nil {
			f = make(map[string]any, 2)
		}
		f["attempt"] = attempt
		f["max_attempts"] = maxAttempts
		info := classify.Classify(err, f)

		retrying := Retriable(info) && attempt < maxAttempts && ctx.Err() == nil
		s.logFailure(info, err, retrying)
		return v, domain.NewError(info, err)
	}

	return retrygo.DoWithData(call,
		retrygo.Context(ctx),
		retrygo.Attempts(uint(maxAttempts)),
		retrygo.LastErrorOnly(true),
		retrygo.WithTimer(s.timer),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			// n counts completed attempts
			return p.Delay(int(n) - 1)
		}),
		retrygo.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			info, _ := domain.InfoOf(err)
			return Retriable(info)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			// retry-go also reports the final attempt; only announce waits that happen
			if p.OnRetry == nil || int(n) >= maxAttempts-1 {
				return
			}
			info, _ := domain.InfoOf(err)
			p.OnRetry(int(n)+1, info)
		}),
	)
}

func (s *Scheduler) logFailure(info domain.ErrorInfo, err error, retrying bool) {
	decision := "giving up"
	if retrying {
		decision = "retrying"
	}
	format := "%s: %v | category=%s severity=%s retriable=%t action=%q context=%v"
	args := []any{decision, err, info.Category, info.Severity, info.Retriable, info.SuggestedAction, info.Context}

	switch {
	case info.Category == domain.CategoryNntpServer && !info.Retriable:
		// missing articles are routine on expired retention
		s.log.Debug(format, args...)
	case retrying:
		s.log.Warn(format, args...)
	default:
		s.log.Error(format, args...)
	}
}

type wallClock struct{}

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
