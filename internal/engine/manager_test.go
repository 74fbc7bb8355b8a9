package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/engine/mocks"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
)

type runnerFunc func(ctx context.Context, m *domain.Manifest, destDir string, progress ProgressFunc) (*domain.DownloadOutcome, error)

func (f runnerFunc) Download(ctx context.Context, m *domain.Manifest, destDir string, progress ProgressFunc) (*domain.DownloadOutcome, error) {
	return f(ctx, m, destDir, progress)
}

const oneFileNZB = `<?xml version="1.0" encoding="UTF-8"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
  <head><meta type="title">Holiday Pictures</meta></head>
  <file poster="p" date="1" subject="&quot;pics.rar&quot; yEnc (1/3)">
    <groups><group>alt.binaries.test</group></groups>
    <segments>
      <segment bytes="10" number="1">p1@test</segment>
      <segment bytes="10" number="2">p2@test</segment>
      <segment bytes="10" number="3">p3@test</segment>
    </segments>
  </file>
</nzb>`

func permissiveStore(ctrl *gomock.Controller) *mocks.MockStore {
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().SaveQueueItem(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	return store
}

func startQueue(t *testing.T, m *QueueManager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitFinished(t *testing.T, ch <-chan *domain.QueueItem) *domain.QueueItem {
	t.Helper()
	select {
	case item := <-ch:
		return item
	case <-time.After(5 * time.Second):
		t.Fatal("download never finished")
		return nil
	}
}

func TestQueueAddRejectsBadNZB(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	m := NewQueueManager(context.Background(), nil, nil, store, logger.Discard(), false)
	_, err := m.Add(context.Background(), "broken", []byte("<nzb><file"), "/tmp/out")
	require.Error(t, err)
	assert.Empty(t, m.GetAllItems())
}

func TestQueueAddReportsStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().SaveQueueItem(gomock.Any(), gomock.Any()).Return(errors.New("database is locked"))

	m := NewQueueManager(context.Background(), nil, nil, store, logger.Discard(), false)
	_, err := m.Add(context.Background(), "", []byte(oneFileNZB), "/tmp/out")
	require.ErrorContains(t, err, "failed to save job to database")
	assert.Empty(t, m.GetAllItems())
}

func TestQueueProcessesItem(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := permissiveStore(ctrl)

	runner := runnerFunc(func(ctx context.Context, man *domain.Manifest, destDir string, progress ProgressFunc) (*domain.DownloadOutcome, error) {
		assert.Equal(t, "/tmp/out", destDir)
		assert.Equal(t, 3, man.SegmentCount())
		for i := 1; i <= 3; i++ {
			progress(Progress{Completed: i, Total: 3, BytesTransferred: int64(i * 10)})
		}
		return &domain.DownloadOutcome{Success: true, State: domain.StateCompleted, SuccessfulSegments: 3, TotalSegments: 3}, nil
	})

	finished := make(chan *domain.QueueItem, 1)
	m := NewQueueManager(context.Background(), runner, nil, store, logger.Discard(), false,
		WithOnFinish(func(item *domain.QueueItem) { finished <- item }))
	startQueue(t, m)

	item, err := m.Add(context.Background(), "", []byte(oneFileNZB), "/tmp/out")
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "Holiday Pictures", item.Name)
	assert.EqualValues(t, 3, item.TotalSegments)

	done := waitFinished(t, finished)
	assert.Same(t, item, done)
	assert.Equal(t, domain.StateCompleted, done.Status)
	assert.Empty(t, done.Error)
	assert.EqualValues(t, 3, done.CompletedSegments.Load())
	assert.EqualValues(t, 30, done.BytesWritten.Load())
	assert.InDelta(t, 100, done.Progress(), 0.001)
	assert.False(t, done.FinishedAt.IsZero())
	assert.Nil(t, m.GetActiveItem())
	assert.Empty(t, m.GetAllItems(), "finished items leave the live queue")
}

func TestQueueRecordsOutcomeError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := permissiveStore(ctrl)

	runner := runnerFunc(func(context.Context, *domain.Manifest, string, ProgressFunc) (*domain.DownloadOutcome, error) {
		info := tooManyFailed
		return &domain.DownloadOutcome{State: domain.StateFailed, Error: &info}, nil
	})

	finished := make(chan *domain.QueueItem, 1)
	m := NewQueueManager(context.Background(), runner, nil, store, logger.Discard(), false,
		WithOnFinish(func(item *domain.QueueItem) { finished <- item }))
	startQueue(t, m)

	_, err := m.Add(context.Background(), "x", []byte(oneFileNZB), "")
	require.NoError(t, err)

	done := waitFinished(t, finished)
	assert.Equal(t, domain.StateFailed, done.Status)
	assert.Equal(t, "Too many failed segments", done.Error)
	assert.Equal(t, domain.CategoryNntpServer, done.ErrorCategory)
	require.NotNil(t, done.Outcome)
}

func TestQueueCancelRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := permissiveStore(ctrl)

	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ *domain.Manifest, _ string, _ ProgressFunc) (*domain.DownloadOutcome, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	finished := make(chan *domain.QueueItem, 1)
	m := NewQueueManager(context.Background(), runner, nil, store, logger.Discard(), false,
		WithOnFinish(func(item *domain.QueueItem) { finished <- item }))
	startQueue(t, m)

	item, err := m.Add(context.Background(), "x", []byte(oneFileNZB), "")
	require.NoError(t, err)
	<-started

	assert.Same(t, item, m.GetActiveItem())
	assert.True(t, m.Cancel(context.Background(), item.ID))

	done := waitFinished(t, finished)
	assert.Equal(t, domain.StateFailed, done.Status)
	assert.Equal(t, "Cancelled by user", done.Error)
	assert.False(t, m.Cancel(context.Background(), item.ID), "already finished")
}

func TestQueueCancelQueued(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := permissiveStore(ctrl)

	var finished []*domain.QueueItem
	// no Start loop, so the item stays queued
	m := NewQueueManager(context.Background(), nil, nil, store, logger.Discard(), false,
		WithOnFinish(func(item *domain.QueueItem) { finished = append(finished, item) }))

	item, err := m.Add(context.Background(), "x", []byte(oneFileNZB), "")
	require.NoError(t, err)

	assert.False(t, m.Cancel(context.Background(), "unknown"))
	assert.True(t, m.Cancel(context.Background(), item.ID))

	require.Len(t, finished, 1)
	assert.Equal(t, domain.StateFailed, item.Status)
	assert.Equal(t, "Cancelled by user", item.Error)
	assert.Empty(t, m.GetAllItems())
}

func TestQueueDoesNotStartItemCancelledAfterPick(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := permissiveStore(ctrl)

	var finished []*domain.QueueItem
	m := NewQueueManager(context.Background(), nil, nil, store, logger.Discard(), false,
		WithOnFinish(func(item *domain.QueueItem) { finished = append(finished, item) }))

	item, err := m.Add(context.Background(), "x", []byte(oneFileNZB), "")
	require.NoError(t, err)

	// the worker picked item, then Cancel finished it before the worker claimed it
	require.True(t, m.Cancel(context.Background(), item.ID))
	_, _, ok := m.claim(context.Background(), item)
	assert.False(t, ok)

	assert.Nil(t, m.GetActiveItem())
	assert.Equal(t, domain.StateFailed, item.Status)
	assert.Nil(t, item.CancelFunc)
	assert.Len(t, finished, 1)

	queued, err := m.Add(context.Background(), "y", []byte(oneFileNZB), "")
	require.NoError(t, err)
	jobCtx, cancel, ok := m.claim(context.Background(), queued)
	require.True(t, ok)
	defer cancel()
	assert.NoError(t, jobCtx.Err())
	assert.Same(t, queued, m.GetActiveItem())
	assert.Equal(t, domain.StateFetching, queued.Status)
}

func TestQueueShutdownRequeuesActiveItem(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := permissiveStore(ctrl)

	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ *domain.Manifest, _ string, _ ProgressFunc) (*domain.DownloadOutcome, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	m := NewQueueManager(context.Background(), runner, nil, store, logger.Discard(), false)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		m.Start(ctx)
	}()

	item, err := m.Add(context.Background(), "x", []byte(oneFileNZB), "")
	require.NoError(t, err)
	<-started
	cancel()
	<-stopped

	assert.Equal(t, domain.StateQueued, item.Status)
	assert.Empty(t, item.Error)
	assert.Nil(t, m.GetActiveItem())
	assert.Len(t, m.GetAllItems(), 1)
}

func TestQueueLoadsActiveItems(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	interrupted := &domain.QueueItem{ID: "a", Name: "interrupted", Status: domain.StateFetching, ManifestXML: []byte(oneFileNZB)}
	interrupted.CompletedSegments.Store(2)
	corrupt := &domain.QueueItem{ID: "b", Name: "corrupt", Status: domain.StateQueued, ManifestXML: []byte("not xml")}

	store.EXPECT().GetActiveQueueItems(gomock.Any()).Return([]*domain.QueueItem{interrupted, corrupt}, nil)
	store.EXPECT().SaveQueueItem(gomock.Any(), corrupt).Return(nil)

	m := NewQueueManager(context.Background(), nil, nil, store, logger.Discard(), true)

	items := m.GetAllItems()
	require.Len(t, items, 1)
	assert.Same(t, interrupted, items[0])
	assert.Equal(t, domain.StateQueued, interrupted.Status)
	assert.Zero(t, interrupted.CompletedSegments.Load())
	assert.EqualValues(t, 3, interrupted.TotalSegments)
	require.NotNil(t, interrupted.Manifest)

	assert.Equal(t, domain.StateFailed, corrupt.Status)
	assert.NotEmpty(t, corrupt.Error)
}

func TestQueueGetItemFallsBackToStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	old := &domain.QueueItem{ID: "old", Status: domain.StateCompleted}
	store.EXPECT().GetQueueItem(gomock.Any(), "old").Return(old, nil)
	store.EXPECT().GetQueueItem(gomock.Any(), "missing").Return(nil, errors.New("not found"))

	m := NewQueueManager(context.Background(), nil, nil, store, logger.Discard(), false)

	got, ok := m.GetItem(context.Background(), "old")
	require.True(t, ok)
	assert.Same(t, old, got)

	_, ok = m.GetItem(context.Background(), "missing")
	assert.False(t, ok)
}
