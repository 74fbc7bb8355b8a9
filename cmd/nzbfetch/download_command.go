package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/engine"
)

const lockFileName = ".nzbfetch.lock"

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var resume bool

	cmd := &cobra.Command{
		Use:   "download <file.nzb>...",
		Short: "Download every file described by one or more NZBs",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !resume {
				return errors.New("at least one NZB file is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := ctx.newApp()
			if err != nil {
				return err
			}
			defer appCtx.Close()

			if outDir == "" {
				outDir = appCtx.Config.Download.OutDir
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			lock := flock.New(filepath.Join(outDir, lockFileName))
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another nzbfetch process is writing into %s", outDir)
			}
			defer func() { _ = lock.Unlock() }()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			finished := make(chan *domain.QueueItem, 16)
			if err := appCtx.StartEngine(runCtx, resume, engine.WithOnFinish(func(item *domain.QueueItem) {
				finished <- item
			})); err != nil {
				return err
			}

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				if _, err := appCtx.Queue.Add(runCtx, name, data, outDir); err != nil {
					return fmt.Errorf("queue %s: %w", path, err)
				}
			}

			pending := len(appCtx.Queue.GetAllItems())
			if pending == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to download")
				return nil
			}

			workerCtx, stopWorker := context.WithCancel(runCtx)
			workerDone := make(chan struct{})
			go func() {
				defer close(workerDone)
				appCtx.Queue.Start(workerCtx)
			}()

			out := cmd.OutOrStdout()
			if isTerminal(out) {
				progressDone := make(chan struct{})
				go func() {
					defer close(progressDone)
					watchProgress(workerCtx, out, appCtx.Queue)
				}()
				defer func() { <-progressDone }()
			}

			results := make([]*domain.QueueItem, 0, pending)
		wait:
			for len(results) < pending {
				select {
				case item := <-finished:
					results = append(results, item)
				case <-runCtx.Done():
					break wait
				}
			}
			stopWorker()
		drain:
			for {
				select {
				case item := <-finished:
					results = append(results, item)
				case <-workerDone:
					break drain
				}
			}
			for len(finished) > 0 {
				results = append(results, <-finished)
			}

			if len(results) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderItems(results))
			}
			if err := runCtx.Err(); err != nil {
				fmt.Fprintln(out, "Interrupted; unfinished downloads resume with --resume")
				return err
			}
			return summarize(results)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (defaults to download.out_dir)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Also process downloads left unfinished by an earlier run")
	return cmd
}

func summarize(items []*domain.QueueItem) error {
	failed := 0
	for _, item := range items {
		if item.Status == domain.StateFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(items))
	}
	return nil
}

// watchProgress follows the active queue item and redraws its progress line until ctx ends.
func watchProgress(ctx context.Context, w io.Writer, q *engine.QueueManager) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var (
		current *domain.QueueItem
		stop    context.CancelFunc
		done    chan struct{}
	)
	finish := func() {
		if current == nil {
			return
		}
		stop()
		<-done
		engine.RenderCLIProgress(w, current, 0, true)
		fmt.Fprintln(w)
		current = nil
	}
	defer finish()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := q.GetActiveItem()
			if active == current {
				continue
			}
			finish()
			if active == nil {
				continue
			}

			current = active
			var pctx context.Context
			pctx, stop = context.WithCancel(ctx)
			done = make(chan struct{})
			go func(item *domain.QueueItem, done chan struct{}) {
				defer close(done)
				engine.StartCLIProgress(pctx, w, item)
			}(active, done)
		}
	}
}
