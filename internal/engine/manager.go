package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/datallboy/nzbfetch/internal/classify"
	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
	"github.com/datallboy/nzbfetch/internal/nzb"
)

const cancelledMessage = "Cancelled by user"

// Runner downloads one parsed manifest. *Downloader implements it.
type Runner interface {
	Download(ctx context.Context, m *domain.Manifest, destDir string, progress ProgressFunc) (*domain.DownloadOutcome, error)
}

type QueueManager struct {
	mu         sync.RWMutex
	downloader Runner
	parser     *nzb.Parser
	store      Store
	log        *logger.Logger
	queue      []*domain.QueueItem
	activeItem *domain.QueueItem
	onFinish   func(*domain.QueueItem)

	newJobChan chan struct{}
}

type QueueOption func(*QueueManager)

// WithOnFinish registers a callback run after an item reaches a terminal state and was persisted.
func WithOnFinish(fn func(*domain.QueueItem)) QueueOption {
	return func(m *QueueManager) { m.onFinish = fn }
}

// NewQueueManager builds a queue. When loadExisting is set, items the store still considers active
// are reloaded; items interrupted while fetching start over.
func NewQueueManager(ctx context.Context, downloader Runner, parser *nzb.Parser, store Store, log *logger.Logger, loadExisting bool, opts ...QueueOption) *QueueManager {
	if log == nil {
		log = logger.Discard()
	}
	if parser == nil {
		parser = nzb.NewParser()
	}

	m := &QueueManager{
		downloader: downloader,
		parser:     parser,
		store:      store,
		log:        log,
		newJobChan: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	if loadExisting {
		active, err := store.GetActiveQueueItems(ctx)
		if err != nil {
			log.Error("Failed to load queued downloads: %v", err)
		}
		for _, item := range active {
			if err := m.restore(item); err != nil {
				log.Error("Dropping queued download %s: %v", item.ID, err)
				item.Status = domain.StateFailed
				item.Error = classify.Classify(err, nil).Description
				_ = store.SaveQueueItem(ctx, item)
				continue
			}
			m.queue = append(m.queue, item)
		}
	}
	return m
}

func (m *QueueManager) restore(item *domain.QueueItem) error {
	if item.Manifest == nil {
		manifest, err := m.parser.Parse(item.ManifestXML, item.Name)
		if err != nil {
			return err
		}
		item.Manifest = manifest
	}
	item.Status = domain.StateQueued
	item.TotalSegments = int64(item.Manifest.SegmentCount())
	item.CompletedSegments.Store(0)
	item.BytesWritten.Store(0)
	return nil
}

// Add parses manifestXML, persists a queued item and wakes the worker loop. A manifest that does
// not parse is rejected here and never queued.
func (m *QueueManager) Add(ctx context.Context, name string, manifestXML []byte, destDir string) (*domain.QueueItem, error) {
	manifest, err := m.parser.Parse(manifestXML, name)
	if err != nil {
		return nil, err
	}
	for _, w := range manifest.Warnings {
		m.log.Warn("[NZB] %s: %s", manifest.Title, w)
	}

	if name == "" {
		name = manifest.Title
	}

	item := &domain.QueueItem{
		ID:            ksuid.New().String(),
		Name:          name,
		DestDir:       destDir,
		Status:        domain.StateQueued,
		ManifestXML:   manifestXML,
		Manifest:      manifest,
		TotalSegments: int64(manifest.SegmentCount()),
	}

	if err := m.store.SaveQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save job to database: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, item)
	m.mu.Unlock()

	// Signal the Start() loop that there is work to do
	select {
	case m.newJobChan <- struct{}{}:
	default:
	}

	return item, nil
}

// Start processes queued items one at a time until ctx ends.
func (m *QueueManager) Start(ctx context.Context) {
	for {
		var next *domain.QueueItem

		m.mu.RLock()
		for _, itm := range m.queue {
			if itm.Status == domain.StateQueued {
				next = itm
				break
			}
		}
		m.mu.RUnlock()

		if next == nil {
			select {
			case <-m.newJobChan:
				continue
			case <-ctx.Done():
				return
			}
		}

		jobCtx, cancel, ok := m.claim(ctx, next)
		if !ok {
			continue
		}

		m.persist(ctx, next)
		m.log.Info("Starting %s (%d segments)", next.Name, next.TotalSegments)

		outcome, err := m.downloader.Download(jobCtx, next.Manifest, next.DestDir, func(p Progress) {
			next.CompletedSegments.Store(int64(p.Completed))
			next.BytesWritten.Store(p.BytesTransferred)
		})
		cancel()

		if ctx.Err() != nil {
			// shutting down: leave the item queued for the next start
			m.requeue(ctx, next)
			return
		}
		m.finalizeJob(ctx, next, outcome, err)
	}
}

// claim makes next the active item. It fails when next left the Queued state after it was picked,
// for instance through Cancel.
func (m *QueueManager) claim(ctx context.Context, next *domain.QueueItem) (context.Context, context.CancelFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next.Status != domain.StateQueued {
		return nil, nil, false
	}
	m.activeItem = next
	jobCtx, cancel := context.WithCancel(ctx)
	next.CancelFunc = cancel
	next.StartedAt = time.Now()
	next.Status = domain.StateFetching
	return jobCtx, cancel, true
}

// GetActiveItem returns the item currently downloading, if any.
func (m *QueueManager) GetActiveItem() *domain.QueueItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeItem
}

// GetItem looks in the live queue first and falls back to the store.
func (m *QueueManager) GetItem(ctx context.Context, id string) (*domain.QueueItem, bool) {
	m.mu.RLock()
	for _, item := range m.queue {
		if item.ID == id {
			m.mu.RUnlock()
			return item, true
		}
	}
	m.mu.RUnlock()

	item, err := m.store.GetQueueItem(ctx, id)
	if err == nil && item != nil {
		return item, true
	}
	return nil, false
}

// GetAllItems returns a copy of the live queue.
func (m *QueueManager) GetAllItems() []*domain.QueueItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]*domain.QueueItem, len(m.queue))
	copy(items, m.queue)
	return items
}

// Cancel stops a running download or drops a queued one. It reports false for unknown or finished items.
func (m *QueueManager) Cancel(ctx context.Context, id string) bool {
	m.mu.Lock()
	var target *domain.QueueItem
	for _, item := range m.queue {
		if item.ID == id {
			target = item
			break
		}
	}
	if target == nil || target.Status.Terminal() {
		m.mu.Unlock()
		return false
	}

	if target.Status == domain.StateFetching {
		if target.CancelFunc != nil {
			target.CancelFunc()
		}
		m.mu.Unlock()
		return true
	}
	// never started: finish it here, out of Start's reach
	target.Status = domain.StateFailed
	m.mu.Unlock()

	m.finalizeJob(ctx, target, nil, context.Canceled)
	return true
}

func (m *QueueManager) requeue(ctx context.Context, item *domain.QueueItem) {
	m.mu.Lock()
	item.Status = domain.StateQueued
	item.CancelFunc = nil
	if m.activeItem == item {
		m.activeItem = nil
	}
	m.mu.Unlock()
	m.persist(ctx, item)
}

func (m *QueueManager) persist(ctx context.Context, item *domain.QueueItem) {
	if err := m.store.SaveQueueItem(context.WithoutCancel(ctx), item); err != nil {
		m.log.Error("Failed to persist %s: %v", item.ID, err)
	}
}

func (m *QueueManager) finalizeJob(ctx context.Context, item *domain.QueueItem, outcome *domain.DownloadOutcome, err error) {
	m.mu.Lock()

	item.FinishedAt = time.Now()
	switch {
	case errors.Is(err, context.Canceled):
		item.Status = domain.StateFailed
		item.Error = cancelledMessage
		item.ErrorCategory = domain.CategoryUnknown
	case err != nil:
		info := classify.Classify(err, nil)
		item.Status = domain.StateFailed
		item.Error = info.Description
		item.ErrorCategory = info.Category
	default:
		item.Outcome = outcome
		item.Status = outcome.State
		if outcome.Error != nil {
			item.Error = outcome.Error.Description
			item.ErrorCategory = outcome.Error.Category
		}
	}

	if m.activeItem == item {
		m.activeItem = nil
	}
	m.removeFromLiveQueue(item.ID)
	m.mu.Unlock()

	m.persist(ctx, item)

	if item.Error != "" {
		m.log.Warn("%s finished %s: %s", item.Name, item.Status, item.Error)
	} else {
		m.log.Info("%s finished %s", item.Name, item.Status)
	}

	if m.onFinish != nil {
		m.onFinish(item)
	}
}

// removeFromLiveQueue keeps the active slice small by removing finished items
func (m *QueueManager) removeFromLiveQueue(id string) {
	for i, itm := range m.queue {
		if itm.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}
