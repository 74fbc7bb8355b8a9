package domain

import "time"

type DownloadState string

const (
	StateQueued          DownloadState = "queued"
	StateFetching        DownloadState = "fetching"
	StateCompleted       DownloadState = "completed"
	StatePartiallyFailed DownloadState = "partially_failed"
	StateFailed          DownloadState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s DownloadState) Terminal() bool {
	return s == StateCompleted || s == StatePartiallyFailed || s == StateFailed
}

// PartialPolicy decides what happens to the bytes of a partially failed file.
type PartialPolicy string

const (
	PartialSave    PartialPolicy = "save"
	PartialDiscard PartialPolicy = "discard"
)

// SegmentResult is produced once per segment after its last attempt.
// Exactly one of Data or Failure is meaningful.
type SegmentResult struct {
	Number   int
	Data     []byte
	Offset   int64 // Zero-based file offset from =ypart, -1 when absent
	FileSize int64 // size= from =ybegin, 0 when absent
	Failure  *ErrorInfo
}

func (r SegmentResult) OK() bool { return r.Failure == nil }

// FileOutcome is the reassembly result of one manifest file.
type FileOutcome struct {
	Name               string        `json:"name"`
	Path               string        `json:"path,omitempty"`
	State              DownloadState `json:"state"`
	Data               []byte        `json:"-"`
	Saved              bool          `json:"saved"`
	SuccessfulSegments int           `json:"successful_segments"`
	TotalSegments      int           `json:"total_segments"`
	FailedOrdinals     []int         `json:"failed_ordinals,omitempty"`
	Error              *ErrorInfo    `json:"error,omitempty"`
}

// SuccessRatio is SuccessfulSegments/TotalSegments, 0 for a file without segments.
func (f *FileOutcome) SuccessRatio() float64 {
	if f.TotalSegments == 0 {
		return 0
	}
	return float64(f.SuccessfulSegments) / float64(f.TotalSegments)
}

// DownloadOutcome is the terminal result of one orchestrated download.
type DownloadOutcome struct {
	Success            bool          `json:"success"`
	State              DownloadState `json:"state"`
	Files              []FileOutcome `json:"files"`
	SuccessfulSegments int           `json:"successful_segments"`
	TotalSegments      int           `json:"total_segments"`
	Stats              Stats         `json:"stats"`
	Error              *ErrorInfo    `json:"error,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
}

// AssembledBytes returns the bytes of a single-file download; nil when the download has several files
// or the file produced no data.
func (o *DownloadOutcome) AssembledBytes() []byte {
	if len(o.Files) != 1 {
		return nil
	}
	return o.Files[0].Data
}

// FailedOrdinals maps file names to the ordinals that never produced data.
func (o *DownloadOutcome) FailedOrdinals() map[string][]int {
	out := make(map[string][]int)
	for _, f := range o.Files {
		if len(f.FailedOrdinals) > 0 {
			out[f.Name] = f.FailedOrdinals
		}
	}
	return out
}

// Stats is a point-in-time copy of the counters accumulated during a download.
type Stats struct {
	TotalSegments      int64              `json:"total_segments"`
	SuccessfulSegments int64              `json:"successful_segments"`
	FailedSegments     int64              `json:"failed_segments"`
	Retries            int64              `json:"retries"`
	BytesTransferred   int64              `json:"bytes_transferred"`
	ErrorsByCategory   map[Category]int64 `json:"errors_by_category"`
}

func (s Stats) SuccessRate() float64 {
	if s.TotalSegments == 0 {
		return 0
	}
	return float64(s.SuccessfulSegments) / float64(s.TotalSegments)
}
