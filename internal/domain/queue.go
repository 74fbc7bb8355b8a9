package domain

import (
	"context"
	"sync/atomic"
	"time"
)

// QueueItem represents one submitted NZB from queueing to its terminal state
type QueueItem struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	DestDir string        `json:"dest_dir"`
	Status  DownloadState `json:"status"`

	ManifestXML []byte    `json:"-"`
	Manifest    *Manifest `json:"-"`

	CompletedSegments atomic.Int64 `json:"completed_segments"`
	TotalSegments     int64        `json:"total_segments"`
	BytesWritten      atomic.Int64 `json:"bytes_written"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Error is the human readable message of the terminal failure, if any
	Error         string   `json:"error,omitempty"`
	ErrorCategory Category `json:"error_category"`

	Outcome *DownloadOutcome `json:"-"`

	CancelFunc context.CancelFunc `json:"-"`
}

// Progress returns completed/total as a percentage in [0,100].
func (q *QueueItem) Progress() float64 {
	if q.TotalSegments == 0 {
		return 0
	}
	return float64(q.CompletedSegments.Load()) / float64(q.TotalSegments) * 100
}
