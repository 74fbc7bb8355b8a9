package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datallboy/nzbfetch/internal/domain"
)

// SaveQueueItem inserts item or updates every column but created_at.
func (s *PersistentStore) SaveQueueItem(ctx context.Context, item *domain.QueueItem) error {
	var dbo queueItemDBO
	if err := dbo.FromDomain(item); err != nil {
		return err
	}

	query := `INSERT INTO queue_items (` + queueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			dest_dir = excluded.dest_dir,
			status = excluded.status,
			manifest_xml = excluded.manifest_xml,
			total_segments = excluded.total_segments,
			completed_segments = excluded.completed_segments,
			successful_segments = excluded.successful_segments,
			bytes_written = excluded.bytes_written,
			failed_ordinals = excluded.failed_ordinals,
			error = excluded.error,
			error_category = excluded.error_category,
			outcome = excluded.outcome,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`

	if _, err := s.db.ExecContext(ctx, s.rebind(query), dbo.args()...); err != nil {
		return fmt.Errorf("failed to save queue item %s: %w", item.ID, err)
	}
	return nil
}

// GetQueueItem returns nil, nil when no item has the id.
func (s *PersistentStore) GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE id = ? LIMIT 1`

	dbo, err := scanQueueItem(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Return nil, nil to indicate "Not found"
		}
		return nil, fmt.Errorf("failed to fetch queue item: %w", err)
	}
	return dbo.ToDomain()
}

// GetActiveQueueItems returns the items that have not reached a terminal state, oldest first.
func (s *PersistentStore) GetActiveQueueItems(ctx context.Context) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items
		WHERE status NOT IN (?, ?, ?)
		ORDER BY id ASC`

	items, err := s.queryItems(ctx, query,
		string(domain.StateCompleted), string(domain.StatePartiallyFailed), string(domain.StateFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active queue: %w", err)
	}
	return items, nil
}

// ListQueueItems returns up to limit items, newest first. A limit <= 0 returns everything.
func (s *PersistentStore) ListQueueItems(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	items, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, nil
}

func (s *PersistentStore) queryItems(ctx context.Context, query string, args ...any) ([]*domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.QueueItem
	for rows.Next() {
		dbo, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		item, err := dbo.ToDomain()
		if err != nil {
			// a row with a corrupt outcome should not hide the others
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
