package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc/pool"

	"github.com/datallboy/nzbfetch/internal/classify"
	"github.com/datallboy/nzbfetch/internal/decoding"
	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
	"github.com/datallboy/nzbfetch/internal/nzb"
	"github.com/datallboy/nzbfetch/internal/retry"
)

var (
	tooManyFailed = domain.ErrorInfo{
		Category:        domain.CategoryNntpServer,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "Too many failed segments",
		SuggestedAction: "Try a server with longer retention or another NZB",
	}
	nothingToFetch = domain.ErrorInfo{
		Category:        domain.CategoryNzbFormat,
		Severity:        domain.SeverityCritical,
		Retriable:       false,
		Description:     "NZB files are empty",
		SuggestedAction: "Check NZB file content",
	}
	partOutOfBounds = domain.ErrorInfo{
		Category:        domain.CategoryYencDecoding,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "yEnc part lies outside the file",
		SuggestedAction: "Data corruption, try alternative source",
	}
)

// segmentAllowance bounds a file's decoded size per segment when the manifest byte counts are low or
// missing.
const segmentAllowance = 8 << 20

// sizeLimit is the largest decoded size accepted for f: twice the manifest estimate, and at least
// segmentAllowance per segment.
func sizeLimit(f domain.File) int64 {
	return max(2*f.TotalSize(), int64(len(f.Segments))*segmentAllowance)
}

// Progress is reported after every finished segment, in completion order.
type Progress struct {
	Completed        int
	Total            int
	BytesTransferred int64
}

type ProgressFunc func(Progress)

type Options struct {
	// Concurrency caps in-flight segment tasks. The pools still enforce the connection limit.
	Concurrency int
	// SuccessThreshold is the minimum share of segments a file needs to be kept.
	SuccessThreshold float64
	PartialPolicy    domain.PartialPolicy
	Retry            retry.Policy
}

func (o *Options) withDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.SuccessThreshold <= 0 || o.SuccessThreshold > 1 {
		o.SuccessThreshold = 0.8
	}
	if o.PartialPolicy == "" {
		o.PartialPolicy = domain.PartialSave
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.DefaultPolicy()
	}
}

// Downloader turns a manifest into files: it fans segment fetches out, collects their results and
// reassembles every file in ordinal order.
type Downloader struct {
	fetcher SegmentFetcher
	writer  FileWriter
	parser  *nzb.Parser
	retry   *retry.Scheduler
	opts    Options
	log     *logger.Logger
}

// NewDownloader builds a downloader. writer may be nil, in which case outcomes only carry the bytes.
func NewDownloader(fetcher SegmentFetcher, writer FileWriter, parser *nzb.Parser, sched *retry.Scheduler, opts Options, log *logger.Logger) *Downloader {
	opts.withDefaults()
	if log == nil {
		log = logger.Discard()
	}
	if parser == nil {
		parser = nzb.NewParser()
	}
	if sched == nil {
		sched = retry.NewScheduler(log)
	}
	return &Downloader{
		fetcher: fetcher,
		writer:  writer,
		parser:  parser,
		retry:   sched,
		opts:    opts,
		log:     log,
	}
}

// DownloadNZB parses manifestXML and downloads it into destDir. A manifest that fails to parse is
// returned as an NzbFormat error before anything is fetched.
func (d *Downloader) DownloadNZB(ctx context.Context, manifestXML []byte, destDir string, progress ProgressFunc) (*domain.DownloadOutcome, error) {
	m, err := d.parser.Parse(manifestXML, "")
	if err != nil {
		info := classify.Classify(err, nil)
		d.log.Error("NZB rejected: %v | category=%s severity=%s", err, info.Category, info.Severity)
		return nil, err
	}
	for _, w := range m.Warnings {
		d.log.Warn("[NZB] %s", w)
	}
	return d.Download(ctx, m, destDir, progress)
}

// Download fetches every segment of m. Individual segment failures never abort siblings; only the
// per-file success ratio decides each file's state. When ctx is cancelled no new segments are
// started, running ones finish and ctx.Err() is returned.
func (d *Downloader) Download(ctx context.Context, m *domain.Manifest, destDir string, progress ProgressFunc) (*domain.DownloadOutcome, error) {
	started := time.Now()

	var files []domain.File
	for _, f := range m.Files {
		if len(f.Segments) == 0 {
			d.log.Warn("Skipping %s: no segments", f.Name)
			continue
		}
		files = append(files, f)
	}

	if len(files) == 0 {
		info := nothingToFetch
		return &domain.DownloadOutcome{
			State:     domain.StateFailed,
			Error:     &info,
			StartedAt: started,
		}, nil
	}

	st := newStats()
	run := &run{
		d:        d,
		stats:    st,
		progress: progress,
	}
	for _, f := range files {
		run.total += len(f.Segments)
	}
	st.total.Store(int64(run.total))

	d.log.Info("Starting download: %d files, %d segments (%s)", len(files), run.total, humanize.Bytes(uint64(m.TotalSize())))

	results := make([][]domain.SegmentResult, len(files))
	p := pool.New().WithMaxGoroutines(d.opts.Concurrency)

launch:
	for fi, f := range files {
		results[fi] = make([]domain.SegmentResult, len(f.Segments))
		for si, seg := range f.Segments {
			if ctx.Err() != nil {
				break launch
			}
			slot := &results[fi][si]
			limit := sizeLimit(f)
			p.Go(func() {
				*slot = run.fetch(ctx, f.Name, seg, limit)
			})
		}
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		d.log.Warn("Download cancelled: %s", st)
		return nil, err
	}

	out := &domain.DownloadOutcome{
		StartedAt: started,
		Files:     make([]domain.FileOutcome, 0, len(files)),
	}
	for fi, f := range files {
		fo := d.assemble(f, results[fi])
		if fo.State != domain.StateFailed {
			d.save(ctx, destDir, &fo)
		}
		out.SuccessfulSegments += fo.SuccessfulSegments
		out.TotalSegments += fo.TotalSegments
		out.Files = append(out.Files, fo)
	}

	out.State, out.Error = downloadState(out.Files)
	out.Success = out.State != domain.StateFailed && out.Error == nil
	out.Stats = st.snapshot()
	out.Duration = time.Since(started)

	d.log.Info("Download finished: %s, %d/%d segments, %s in %s",
		out.State, out.SuccessfulSegments, out.TotalSegments,
		humanize.Bytes(uint64(out.Stats.BytesTransferred)), out.Duration.Truncate(time.Millisecond))
	return out, nil
}

// run is the shared state of one Download call.
type run struct {
	d        *Downloader
	stats    *stats
	progress ProgressFunc
	total    int

	mu        sync.Mutex
	completed int
}

// fetch downloads one segment. A decoded part whose header places it beyond limit bytes fails the
// segment.
func (r *run) fetch(ctx context.Context, file string, seg domain.Segment, limit int64) domain.SegmentResult {
	res := domain.SegmentResult{Number: seg.Number, Offset: -1}

	policy := r.d.opts.Retry
	policy.OnRetry = func(int, domain.ErrorInfo) { r.stats.retries.Add(1) }
	fields := map[string]any{"file": file, "segment": seg.Number, "message_id": seg.MessageID}

	part, err := retry.Do(ctx, r.d.retry, policy, fields, func(ctx context.Context) (*decoding.Part, error) {
		return r.d.fetcher.Fetch(ctx, seg)
	})
	switch {
	case err != nil:
		info := classify.Classify(err, fields)
		res.Failure = &info
		r.stats.fail(info.Category)
	case !withinLimit(part, limit):
		info := partOutOfBounds.WithContext(map[string]any{
			"file":      file,
			"segment":   seg.Number,
			"begin":     part.Begin,
			"end":       part.End,
			"file_size": part.FileSize,
			"limit":     limit,
		})
		r.d.log.Warn("%s segment %d: %s | category=%s severity=%s",
			file, seg.Number, info.Description, info.Category, info.Severity)
		res.Failure = &info
		r.stats.fail(info.Category)
	default:
		res.Data = part.Data
		res.Offset = part.Offset()
		res.FileSize = part.FileSize
		r.stats.succeed(len(part.Data))
	}

	r.report()
	return res
}

func withinLimit(p *decoding.Part, limit int64) bool {
	if p.FileSize < 0 || p.FileSize > limit {
		return false
	}
	off := p.Offset()
	return off < 0 || off <= limit-int64(len(p.Data))
}

// report serialises progress callbacks so they arrive with strictly increasing counts.
func (r *run) report() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	if r.progress != nil {
		r.progress(Progress{
			Completed:        r.completed,
			Total:            r.total,
			BytesTransferred: r.stats.bytes.Load(),
		})
	}
}

func (d *Downloader) assemble(f domain.File, results []domain.SegmentResult) domain.FileOutcome {
	out := domain.FileOutcome{
		Name:          f.Name,
		TotalSegments: len(results),
	}
	for _, r := range results {
		if r.OK() {
			out.SuccessfulSegments++
		} else {
			out.FailedOrdinals = append(out.FailedOrdinals, r.Number)
		}
	}

	if out.SuccessRatio() < d.opts.SuccessThreshold {
		info := tooManyFailed.WithContext(map[string]any{
			"file":       f.Name,
			"successful": out.SuccessfulSegments,
			"total":      out.TotalSegments,
		})
		out.State = domain.StateFailed
		out.Error = &info
		d.log.Error("%s: %d of %d segments failed, below the %.0f%% threshold",
			f.Name, len(out.FailedOrdinals), out.TotalSegments, d.opts.SuccessThreshold*100)
		return out
	}

	out.Data = reassemble(results)
	out.State = domain.StateCompleted
	if len(out.FailedOrdinals) > 0 {
		out.State = domain.StatePartiallyFailed
		d.log.Warn("%s: missing segments %v", f.Name, out.FailedOrdinals)
	}
	return out
}

// reassemble orders the decoded parts of one file. When every part carries a =ypart offset the parts
// are placed at their offsets and missing ranges stay zeroed; otherwise they are concatenated by
// ordinal and missing segments are skipped.
func reassemble(results []domain.SegmentResult) []byte {
	var (
		ok       []domain.SegmentResult
		byOffset = true
		end      int64
		fileSize int64
	)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		ok = append(ok, r)
		if r.Offset < 0 {
			byOffset = false
			continue
		}
		end = max(end, r.Offset+int64(len(r.Data)))
		fileSize = max(fileSize, r.FileSize)
	}

	if !byOffset {
		var size int
		for _, r := range ok {
			size += len(r.Data)
		}
		buf := make([]byte, 0, size)
		for _, r := range ok {
			buf = append(buf, r.Data...)
		}
		return buf
	}

	// size= from the header extends a file whose last segments failed
	if fileSize > end && len(ok) < len(results) {
		end = fileSize
	}
	buf := make([]byte, end)
	for _, r := range ok {
		copy(buf[r.Offset:], r.Data)
	}
	return buf
}

func (d *Downloader) save(ctx context.Context, destDir string, fo *domain.FileOutcome) {
	if d.writer == nil || destDir == "" {
		return
	}
	if fo.State == domain.StatePartiallyFailed && d.opts.PartialPolicy == domain.PartialDiscard {
		d.log.Info("%s: partial file discarded by policy", fo.Name)
		return
	}

	path := filepath.Join(destDir, fo.Name)
	if err := d.writer.WriteFile(ctx, path, fo.Data); err != nil {
		info := classify.Classify(err, map[string]any{"file": fo.Name})
		d.log.Error("Writing %s failed: %v | category=%s severity=%s action=%q",
			fo.Name, err, info.Category, info.Severity, info.SuggestedAction)
		fo.State = domain.StateFailed
		fo.Error = &info
		return
	}
	fo.Path = path
	fo.Saved = true
	d.log.Info("Saved %s (%s)", path, humanize.Bytes(uint64(len(fo.Data))))
}

// downloadState folds the file states: Completed when every file completed, Failed when every file
// failed, PartiallyFailed otherwise. The error is that of the first failed file.
func downloadState(files []domain.FileOutcome) (domain.DownloadState, *domain.ErrorInfo) {
	var completed, failed int
	var first *domain.ErrorInfo
	for _, f := range files {
		switch f.State {
		case domain.StateCompleted:
			completed++
		case domain.StateFailed:
			failed++
			if first == nil {
				first = f.Error
			}
		}
	}

	switch {
	case completed == len(files):
		return domain.StateCompleted, nil
	case failed == len(files):
		return domain.StateFailed, first
	default:
		return domain.StatePartiallyFailed, first
	}
}

type stats struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
	bytes     atomic.Int64

	mu         sync.Mutex
	byCategory map[domain.Category]int64
}

func newStats() *stats {
	return &stats{byCategory: make(map[domain.Category]int64)}
}

func (s *stats) succeed(n int) {
	s.succeeded.Add(1)
	s.bytes.Add(int64(n))
}

func (s *stats) fail(c domain.Category) {
	s.failed.Add(1)
	s.mu.Lock()
	s.byCategory[c]++
	s.mu.Unlock()
}

func (s *stats) snapshot() domain.Stats {
	s.mu.Lock()
	byCategory := make(map[domain.Category]int64, len(s.byCategory))
	for k, v := range s.byCategory {
		byCategory[k] = v
	}
	s.mu.Unlock()

	return domain.Stats{
		TotalSegments:      s.total.Load(),
		SuccessfulSegments: s.succeeded.Load(),
		FailedSegments:     s.failed.Load(),
		Retries:            s.retries.Load(),
		BytesTransferred:   s.bytes.Load(),
		ErrorsByCategory:   byCategory,
	}
}

func (s *stats) String() string {
	return fmt.Sprintf("%d/%d ok, %d failed, %d retries", s.succeeded.Load(), s.total.Load(), s.failed.Load(), s.retries.Load())
}
