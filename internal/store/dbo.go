package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datallboy/nzbfetch/internal/domain"
)

const queueColumns = `id, name, dest_dir, status, manifest_xml, total_segments, completed_segments,
	successful_segments, bytes_written, failed_ordinals, error, error_category, outcome,
	started_at, finished_at, created_at`

// queueItemDBO maps to the queue_items table
type queueItemDBO struct {
	ID                 string
	Name               string
	DestDir            string
	Status             string
	ManifestXML        []byte
	TotalSegments      int64
	CompletedSegments  int64
	SuccessfulSegments int64
	BytesWritten       int64
	FailedOrdinals     sql.NullString
	Error              sql.NullString
	ErrorCategory      string
	Outcome            sql.NullString
	StartedAt          int64
	FinishedAt         int64
	CreatedAt          int64
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*queueItemDBO, error) {
	var q queueItemDBO
	err := row.Scan(
		&q.ID, &q.Name, &q.DestDir, &q.Status, &q.ManifestXML, &q.TotalSegments, &q.CompletedSegments,
		&q.SuccessfulSegments, &q.BytesWritten, &q.FailedOrdinals, &q.Error, &q.ErrorCategory, &q.Outcome,
		&q.StartedAt, &q.FinishedAt, &q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (q *queueItemDBO) args() []any {
	return []any{
		q.ID, q.Name, q.DestDir, q.Status, q.ManifestXML, q.TotalSegments, q.CompletedSegments,
		q.SuccessfulSegments, q.BytesWritten, q.FailedOrdinals, q.Error, q.ErrorCategory, q.Outcome,
		q.StartedAt, q.FinishedAt, q.CreatedAt,
	}
}

// Mapper: Domain QueueItem to DBO
func (q *queueItemDBO) FromDomain(item *domain.QueueItem) error {
	q.ID = item.ID
	q.Name = item.Name
	q.DestDir = item.DestDir
	q.Status = string(item.Status)
	q.ManifestXML = item.ManifestXML
	q.TotalSegments = item.TotalSegments
	q.CompletedSegments = item.CompletedSegments.Load()
	q.BytesWritten = item.BytesWritten.Load()
	q.Error = sql.NullString{String: item.Error, Valid: item.Error != ""}
	q.ErrorCategory = item.ErrorCategory.String()
	q.StartedAt = unixMilli(item.StartedAt)
	q.FinishedAt = unixMilli(item.FinishedAt)
	q.CreatedAt = time.Now().UnixMilli()

	if o := item.Outcome; o != nil {
		q.SuccessfulSegments = int64(o.SuccessfulSegments)

		if failed := o.FailedOrdinals(); len(failed) > 0 {
			b, err := json.Marshal(failed)
			if err != nil {
				return fmt.Errorf("failed to encode failed ordinals: %w", err)
			}
			q.FailedOrdinals = sql.NullString{String: string(b), Valid: true}
		}

		b, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to encode outcome: %w", err)
		}
		q.Outcome = sql.NullString{String: string(b), Valid: true}
	}
	return nil
}

// Mapper: DBO to Domain QueueItem
func (q *queueItemDBO) ToDomain() (*domain.QueueItem, error) {
	item := &domain.QueueItem{
		ID:            q.ID,
		Name:          q.Name,
		DestDir:       q.DestDir,
		Status:        domain.DownloadState(q.Status),
		ManifestXML:   q.ManifestXML,
		TotalSegments: q.TotalSegments,
		Error:         q.Error.String,
		ErrorCategory: domain.ParseCategory(q.ErrorCategory),
		StartedAt:     fromUnixMilli(q.StartedAt),
		FinishedAt:    fromUnixMilli(q.FinishedAt),
	}
	item.CompletedSegments.Store(q.CompletedSegments)
	item.BytesWritten.Store(q.BytesWritten)

	if q.Outcome.Valid {
		var o domain.DownloadOutcome
		if err := json.Unmarshal([]byte(q.Outcome.String), &o); err != nil {
			return nil, fmt.Errorf("failed to decode outcome of %s: %w", q.ID, err)
		}
		item.Outcome = &o
	}
	return item, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
