package retry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

// fakeTimer fires immediately and records every requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeTimer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	timer := &fakeTimer{}
	return NewScheduler(logger.NewWriter(&buf, logger.LevelDebug), WithTimer(timer)), timer, &buf
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
		{200, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.n), "n=%d", tt.n)
	}

	uncapped := Policy{BaseDelay: time.Second}
	assert.Equal(t, 8*time.Second, uncapped.Delay(3))
	assert.Positive(t, uncapped.Delay(500))
	assert.Zero(t, Policy{}.Delay(3))
}

func TestDoNeverExceedsMaxAttempts(t *testing.T) {
	s, timer, _ := newTestScheduler(t)
	p := Policy{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}

	calls := 0
	_, err := Do(context.Background(), s, p, nil, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("read: i/o timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, timer.waits)

	info, ok := domain.InfoOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryNetwork, info.Category)
	assert.Equal(t, 4, info.Context["attempt"])
}

func TestDoReturnsValueAfterRecovery(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	var retried []int
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, OnRetry: func(attempt int, info domain.ErrorInfo) {
		retried = append(retried, attempt)
		assert.Equal(t, domain.CategoryNetwork, info.Category)
	}}

	calls := 0
	v, err := Do(context.Background(), s, p, nil, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection timed out")
		}
		return "payload", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoAuthenticationFailsOnFirstAttempt(t *testing.T) {
	s, timer, logs := newTestScheduler(t)
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := s.Run(context.Background(), p, map[string]any{"server": "primary"}, func(context.Context) error {
		calls++
		return errors.New("480 authentication required")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)

	info, ok := domain.InfoOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryAuthentication, info.Category)
	assert.Equal(t, domain.SeverityCritical, info.Severity)
	assert.False(t, info.Retriable)
	assert.Equal(t, "primary", info.Context["server"])

	out := logs.String()
	assert.Contains(t, out, "[ERROR] giving up")
	assert.Contains(t, out, "category=authentication")
	assert.Contains(t, out, "severity=critical")
	assert.Contains(t, out, `action="Check credentials and server settings"`)
}

func TestDoRetriesTLSFailuresToMaxAttempts(t *testing.T) {
	s, timer, logs := newTestScheduler(t)
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := s.Run(context.Background(), p, nil, func(context.Context) error {
		calls++
		return errors.New("_ssl.c:1000: EOF occurred in violation of protocol")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, timer.waits, 2)
	assert.Contains(t, logs.String(), "category=tls_connection")
}

func TestDoTLSOverridesRetriableFlag(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	p := Policy{MaxAttempts: 4}

	notRetriable := domain.ErrorInfo{Category: domain.CategoryTLSConnection, Severity: domain.SeverityHigh, Retriable: false}
	calls := 0
	err := s.Run(context.Background(), p, nil, func(context.Context) error {
		calls++
		return domain.NewError(notRetriable, errors.New("handshake aborted"))
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoNonRetriableStopsImmediately(t *testing.T) {
	s, _, logs := newTestScheduler(t)

	calls := 0
	err := s.Run(context.Background(), Policy{MaxAttempts: 5}, nil, func(context.Context) error {
		calls++
		return errors.New("crc32 mismatch: expected 00000001, got 00000002")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	info, _ := domain.InfoOf(err)
	assert.Equal(t, domain.CategoryYencDecoding, info.Category)

	calls = 0
	err = s.Run(context.Background(), Policy{MaxAttempts: 5}, nil, func(context.Context) error {
		calls++
		return domain.ErrArticleNotFound
	})
	require.ErrorIs(t, err, domain.ErrArticleNotFound)
	assert.Equal(t, 1, calls)
	assert.Contains(t, logs.String(), "[DEBUG] giving up")
}

func TestDoStopsOnCancel(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := s.Run(ctx, Policy{MaxAttempts: 10}, nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("read: i/o timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	calls := 0
	_ = s.Run(context.Background(), Policy{}, nil, func(context.Context) error {
		calls++
		return errors.New("read: i/o timeout")
	})
	assert.Equal(t, 1, calls)
}

func TestDoConcurrentCallers(t *testing.T) {
	s := NewScheduler(logger.Discard())
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	var wg sync.WaitGroup
	counts := make([]int, 16)
	for i := range counts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(context.Background(), p, nil, func(context.Context) error {
				counts[i]++
				return errors.New("connection reset, timeout")
			})
		}()
	}
	wg.Wait()

	for i, c := range counts {
		assert.Equal(t, 3, c, "caller %d", i)
	}
}

func TestRealWaitsApproximateDelay(t *testing.T) {
	s := NewScheduler(logger.Discard())
	p := Policy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 30 * time.Millisecond}

	var stamps []time.Time
	_ = s.Run(context.Background(), p, nil, func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("read: i/o timeout")
	})
	require.Len(t, stamps, 3)

	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.GreaterOrEqual(t, second, 30*time.Millisecond)
	assert.Less(t, second, 500*time.Millisecond)
}
