package nntp

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

// Manager owns one pool per configured server, ordered by priority (lowest value first).
type Manager struct {
	pools []*Pool
	log   *logger.Logger
}

func NewManager(servers []domain.ServerConfig, opts PoolOptions) (*Manager, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one server must be configured")
	}
	opts.withDefaults()

	sorted := make([]domain.ServerConfig, len(servers))
	copy(sorted, servers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	m := &Manager{log: opts.Logger}
	for _, cfg := range sorted {
		p, err := NewPool(cfg, opts)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.pools = append(m.pools, p)
	}
	return m, nil
}

// Pools returns the pools in failover order.
func (m *Manager) Pools() []*Pool {
	out := make([]*Pool, len(m.pools))
	copy(out, m.pools)
	return out
}

// Check dials, authenticates and probes every server.
func (m *Manager) Check(ctx context.Context) error {
	var errs []error
	for _, p := range m.pools {
		m.log.Info("Validating provider: %s", p.ID())
		if err := check(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("connection test failed for %s: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func check(ctx context.Context, p *Pool) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := lease.Conn().Date(ctx); err != nil {
		lease.Fail(err)
		return err
	}
	return nil
}

// TotalCapacity returns the maximum number of concurrent connections across all servers.
func (m *Manager) TotalCapacity() int {
	total := 0
	for _, p := range m.pools {
		total += p.cfg.MaxConnections
	}
	return total
}

// MaxRetries is the retry budget of the primary server.
func (m *Manager) MaxRetries() int {
	if len(m.pools) == 0 {
		return 0
	}
	return m.pools[0].cfg.MaxRetries
}

func (m *Manager) Stats() []PoolStats {
	out := make([]PoolStats, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.Stats())
	}
	return out
}

func (m *Manager) Close() {
	for _, p := range m.pools {
		p.Close()
	}
}
