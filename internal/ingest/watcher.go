package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Submitter accepts a pages document and starts its run. Satisfied by
// the HTTP server so dropped files and API uploads share one path.
type Submitter interface {
	SubmitDocument(ctx context.Context, raw []byte) (string, error)
	StartRun(jobID string) bool
}

// Watcher ingests pages documents dropped into a folder. Writes are
// debounced per file so half-copied documents are not picked up;
// successfully submitted files move into a processed/ subfolder,
// failures into failed/.
type Watcher struct {
	dir      string
	debounce time.Duration
	submit   Submitter
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewWatcher(dir string, debounce time.Duration, submit Submitter, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		submit:   submit,
		logger:   logger,
		timers:   map[string]*time.Timer{},
	}
}

// Start watches the drop folder until the context is canceled. Files
// already present at startup are processed once before watching.
func (w *Watcher) Start(ctx context.Context) error {
	for _, sub := range []string{"", "processed", "failed"} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return err
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil {
			w.logger.Warn("ingest.watcher_close_error", "error", cerr)
		}
	}()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("ingest.watching", "dir", w.dir, "debounce", w.debounce.String())

	w.sweepExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isPagesFile(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("ingest.watch_error", "error", err)
		}
	}
}

func (w *Watcher) sweepExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("ingest.sweep_error", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isPagesFile(e.Name()) {
			continue
		}
		w.process(ctx, filepath.Join(w.dir, e.Name()))
	}
}

// schedule arms (or re-arms) the per-file debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("ingest.read_error", "path", path, "error", err)
		return
	}
	jobID, err := w.submit.SubmitDocument(ctx, raw)
	if err != nil {
		w.logger.Error("ingest.rejected", "path", path, "error", err)
		w.moveTo(path, "failed")
		return
	}
	w.logger.Info("ingest.accepted", "path", path, "job_id", jobID)
	w.moveTo(path, "processed")
	w.submit.StartRun(jobID)
}

func (w *Watcher) moveTo(path, sub string) {
	dest := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.logger.Warn("ingest.move_error", "path", path, "dest", dest, "error", err)
	}
}

func isPagesFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}
