package nntp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

func TestTLSManagerRebuildsAfterThreshold(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTLSManager("news.example.com", false, nil, 5, time.Minute, logger.Discard())
	m.now = func() time.Time { return now }
	m.lastRebuild = now.Add(-time.Hour)
	original := m.cfg

	for i := 0; i < 5; i++ {
		m.recordFailure()
		now = now.Add(time.Second)
	}
	assert.Same(t, original, m.cfg, "five failures are within the threshold")
	assert.EqualValues(t, 0, m.rebuilds.Load())

	m.recordFailure()
	assert.NotSame(t, original, m.cfg)
	assert.EqualValues(t, 1, m.rebuilds.Load())
	assert.EqualValues(t, 6, m.totalFailures.Load())
	assert.Equal(t, "news.example.com", m.cfg.ServerName)
}

func TestTLSManagerRebuildsAtMostOncePerWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTLSManager("news.example.com", false, nil, 1, time.Minute, logger.Discard())
	m.now = func() time.Time { return now }
	m.lastRebuild = now.Add(-time.Hour)

	m.recordFailure()
	m.recordFailure()
	assert.EqualValues(t, 1, m.rebuilds.Load())

	m.recordFailure()
	m.recordFailure()
	assert.EqualValues(t, 1, m.rebuilds.Load())

	now = now.Add(2 * time.Minute)
	m.recordFailure()
	m.recordFailure()
	assert.EqualValues(t, 2, m.rebuilds.Load())
}

func TestTLSManagerForgetsOldFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTLSManager("news.example.com", false, nil, 2, time.Minute, logger.Discard())
	m.now = func() time.Time { return now }
	m.lastRebuild = now.Add(-time.Hour)

	for i := 0; i < 10; i++ {
		m.recordFailure()
		now = now.Add(45 * time.Second)
	}
	assert.EqualValues(t, 0, m.rebuilds.Load())
	assert.EqualValues(t, 10, m.totalFailures.Load())
}

func TestTLSManagerConfig(t *testing.T) {
	m := newTLSManager("127.0.0.1", false, nil, 5, time.Minute, logger.Discard())
	assert.Empty(t, m.cfg.ServerName)
	assert.NotNil(t, m.cfg.VerifyConnection)
	assert.NotNil(t, m.cfg.ClientSessionCache)

	skip := newTLSManager("news.example.com", true, nil, 5, time.Minute, logger.Discard())
	assert.Nil(t, skip.cfg.VerifyConnection)
	assert.True(t, skip.cfg.InsecureSkipVerify)
}
