package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/nntp"
)

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderItems(items []*domain.QueueItem) string {
	headers := []string{"ID", "Name", "Status", "Segments", "Missing", "Size", "Duration", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Name,
			string(item.Status),
			segmentsLabel(item),
			missingLabel(item),
			humanize.Bytes(uint64(max(item.BytesWritten.Load(), 0))),
			durationLabel(item),
			errorLabel(item),
		})
	}
	return renderTable(headers, rows, aligns)
}

func segmentsLabel(item *domain.QueueItem) string {
	if item.Outcome != nil {
		return fmt.Sprintf("%d/%d", item.Outcome.SuccessfulSegments, item.Outcome.TotalSegments)
	}
	return fmt.Sprintf("%d/%d", item.CompletedSegments.Load(), item.TotalSegments)
}

func missingLabel(item *domain.QueueItem) string {
	if item.Outcome == nil {
		return "-"
	}
	n := 0
	for _, ordinals := range item.Outcome.FailedOrdinals() {
		n += len(ordinals)
	}
	return fmt.Sprintf("%d", n)
}

func durationLabel(item *domain.QueueItem) string {
	if item.StartedAt.IsZero() || item.FinishedAt.IsZero() {
		return "-"
	}
	return item.FinishedAt.Sub(item.StartedAt).Truncate(time.Millisecond).String()
}

func errorLabel(item *domain.QueueItem) string {
	if item.Error == "" {
		return ""
	}
	if item.ErrorCategory == domain.CategoryUnknown {
		return item.Error
	}
	return fmt.Sprintf("%s (%s)", item.Error, item.ErrorCategory)
}

func renderPoolStats(stats []nntp.PoolStats) string {
	headers := []string{"Server", "Max", "Open", "Idle", "In use", "Created", "Destroyed", "TLS failures", "TLS rebuilds"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}

	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Server,
			fmt.Sprintf("%d", s.MaxConnections),
			fmt.Sprintf("%d", s.Total),
			fmt.Sprintf("%d", s.Idle),
			fmt.Sprintf("%d", s.InUse),
			fmt.Sprintf("%d", s.Created),
			fmt.Sprintf("%d", s.Destroyed),
			fmt.Sprintf("%d", s.TLSFailures),
			fmt.Sprintf("%d", s.TLSRebuilds),
		})
	}
	return renderTable(headers, rows, aligns)
}
