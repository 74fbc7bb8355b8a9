package nntp

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

// tlsManager owns the client TLS configuration of one server and replaces it wholesale after
// repeated handshake failures.
type tlsManager struct {
	mu          sync.Mutex
	cfg         *tls.Config
	host        string
	skipVerify  bool
	roots       *x509.CertPool
	threshold   int
	window      time.Duration
	failures    []time.Time
	lastRebuild time.Time
	now         func() time.Time
	log         *logger.Logger

	totalFailures atomic.Int64
	rebuilds      atomic.Int64
}

func newTLSManager(host string, skipVerify bool, roots *x509.CertPool, threshold int, window time.Duration, log *logger.Logger) *tlsManager {
	m := &tlsManager{
		host:       host,
		skipVerify: skipVerify,
		roots:      roots,
		threshold:  threshold,
		window:     window,
		now:        time.Now,
		log:        log,
	}
	m.cfg = m.build()
	m.lastRebuild = m.now()
	return m
}

// build creates a config that requires a valid certificate chain but does not require the
// certificate to match the host name. Many providers serve certificates for a different name.
func (m *tlsManager) build() *tls.Config {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(64),
		InsecureSkipVerify: true,
	}
	if net.ParseIP(m.host) == nil {
		cfg.ServerName = m.host
	}
	if m.skipVerify {
		return cfg
	}

	roots := m.roots
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("tls: server presented no certificate")
		}
		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, cert := range cs.PeerCertificates[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := cs.PeerCertificates[0].Verify(opts)
		return err
	}
	return cfg
}

func (m *tlsManager) client(raw net.Conn) *tls.Conn {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()
	return tls.Client(raw, cfg)
}

// recordFailure counts a TLS failure and rebuilds the config once more than threshold failures
// fall inside the rolling window. Rebuilds are at most one per window.
func (m *tlsManager) recordFailure() {
	m.totalFailures.Add(1)
	if m.threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)
	kept := m.failures[:0]
	for _, t := range m.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.failures = append(kept, now)

	if len(m.failures) > m.threshold && now.Sub(m.lastRebuild) >= m.window {
		m.log.Info("[TLS] %d handshake failures in %s, rebuilding TLS configuration for %s",
			len(m.failures), m.window, m.host)
		m.cfg = m.build()
		m.failures = m.failures[:0]
		m.lastRebuild = now
		m.rebuilds.Add(1)
	}
}
