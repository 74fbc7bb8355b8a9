package engine

import (
	"context"

	"github.com/datallboy/nzbfetch/internal/decoding"
	"github.com/datallboy/nzbfetch/internal/domain"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_engine.go -package=mocks

// SegmentFetcher downloads and decodes one segment. It is called concurrently.
type SegmentFetcher interface {
	Fetch(ctx context.Context, seg domain.Segment) (*decoding.Part, error)
}

// FileWriter persists an assembled file.
type FileWriter interface {
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Store persists queue items and their outcomes.
type Store interface {
	SaveQueueItem(ctx context.Context, item *domain.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error)
	GetActiveQueueItems(ctx context.Context) ([]*domain.QueueItem, error)
}
