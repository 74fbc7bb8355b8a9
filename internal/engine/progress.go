package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/nzbfetch/internal/domain"
)

// StartCLIProgress redraws the progress line of item once a second until ctx ends.
func StartCLIProgress(ctx context.Context, w io.Writer, item *domain.QueueItem) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastBytes int64

	for {
		select {
		case <-ticker.C:
			current := item.BytesWritten.Load()
			delta := current - lastBytes
			lastBytes = current

			// Calculate instantaneous speed
			speedMbps := float64(delta) * 8 / (1024 * 1024)

			RenderCLIProgress(w, item, speedMbps, false)
		case <-ctx.Done():
			return
		}
	}
}

// RenderCLIProgress prints one carriage-return terminated progress line. With final set it prints
// the average speed and elapsed time instead of the current speed and ETA.
func RenderCLIProgress(w io.Writer, item *domain.QueueItem, speedMbps float64, final bool) {
	total := item.TotalSegments
	if total == 0 {
		return
	}
	done := item.CompletedSegments.Load()
	current := item.BytesWritten.Load()

	elapsed := time.Since(item.StartedAt)
	percent := item.Progress()

	displaySpeed := speedMbps
	etaStr := "calc..."

	if final {
		// Guard against division by zero or sub-millisecond durations
		seconds := max(elapsed.Seconds(), 0.1)
		displaySpeed = float64(current) / seconds * 8 / (1024 * 1024)
	} else if done > 0 {
		perSegment := elapsed / time.Duration(done)
		etaStr = (perSegment * time.Duration(total-done)).Truncate(time.Second).String()
	}

	// Progress Bar go brrr [====>   ]
	const barWidth = 20
	completedWidth := min(int(percent/100*barWidth), barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	speedLabel := "Speed"
	timeLabel := "ETA"
	if final {
		speedLabel = "Avg"
		timeLabel = "Time"
		etaStr = elapsed.Truncate(time.Second).String()
	}

	// [Bar] 50.0% | Speed: 100.00 Mbps | ETA: 2m30s | 500/1000 segments | 1.2 GB
	fmt.Fprintf(w, "\r[%s] %5.1f%% | %s: %6.2f Mbps | %s: %-7s | %d/%d segments | %s      ",
		bar, percent, speedLabel, displaySpeed, timeLabel, etaStr, done, total, humanize.Bytes(uint64(current)))
}
