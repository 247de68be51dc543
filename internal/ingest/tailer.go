package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nxadm/tail"
)

// Tailer follows the web server access log, surviving rotation and the log
// file not existing yet. Lines are handed to the pipeline in arrival order.
type Tailer struct {
	path  string
	lines chan string
}

func NewTailer(path string) *Tailer {
	return &Tailer{
		path:  path,
		lines: make(chan string, 256),
	}
}

// Lines is the channel new log lines arrive on. It is closed when Run
// returns.
func (t *Tailer) Lines() <-chan string {
	return t.lines
}

// Preflight verifies the access log can be opened right now. Startup calls
// this so a misconfigured path aborts the process instead of leaving an
// idle pipeline; inaccessibility after startup stays a retry concern of Run.
func (t *Tailer) Preflight() error {
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("ingest: open access log: %w", err)
	}
	return file.Close()
}

// Run follows the access log until ctx is cancelled. Tailing starts at the
// current end of file so restarts do not replay history. Transient failures
// (file missing, permission churn during rotation) are retried with a delay
// rather than treated as fatal.
func (t *Tailer) Run(ctx context.Context) {
	defer close(t.lines)

	for {
		if err := t.follow(ctx); err != nil {
			log.Warn("Access log tail interrupted, retrying", "path", t.path, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *Tailer) follow(ctx context.Context) error {
	watcher, err := tail.TailFile(t.path, tail.Config{
		Follow: true,
		ReOpen: true,
		Location: &tail.SeekInfo{
			Offset: 0,
			Whence: io.SeekEnd,
		},
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Stop()
		watcher.Cleanup()
	}()

	log.Info("Tailing access log", "path", t.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-watcher.Lines:
			if !ok {
				return watcher.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			select {
			case t.lines <- line.Text:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
