package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bull/docqa/internal/extract"
	"github.com/bull/docqa/internal/storage"
)

// DefaultSettleDelay is how long a file must stay quiet before it is ingested.
const DefaultSettleDelay = 500 * time.Millisecond

// FileIngester ingests a file from disk.
type FileIngester interface {
	IngestFile(ctx context.Context, userID, path string) (*storage.Document, error)
}

// Watcher ingests files dropped into an inbox directory.
type Watcher struct {
	ingester FileIngester
	userID   string
	settle   time.Duration
	logger   *slog.Logger

	// Ingested receives each stored document; nil disables notification.
	Ingested chan<- *storage.Document
}

// NewWatcher creates a Watcher that uploads files on behalf of userID.
func NewWatcher(ingester FileIngester, userID string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		ingester: ingester,
		userID:   userID,
		settle:   DefaultSettleDelay,
		logger:   logger,
	}
}

// SetSettleDelay overrides DefaultSettleDelay.
func (w *Watcher) SetSettleDelay(d time.Duration) {
	w.settle = d
}

// Watch monitors dir until ctx is cancelled. Created or rewritten files with a
// supported extension are ingested once writes to them have settled.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	if w.userID == "" {
		return ErrMissingUser
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("Watching inbox", "dir", dir, "user", w.userID)

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			t.Reset(w.settle)
			return
		}
		wg.Add(1)
		var t *time.Timer
		t = time.AfterFunc(w.settle, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == t {
				delete(pending, path)
			}
			mu.Unlock()
			w.ingest(ctx, path)
		})
		pending[path] = t
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !extract.Supported(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			schedule(event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "dir", dir, "error", err)
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}

	doc, err := w.ingester.IngestFile(ctx, w.userID, path)
	if err != nil {
		w.logger.Warn("Failed to ingest file", "path", filepath.Base(path), "error", err)
		return
	}
	w.logger.Info("Ingested file", "path", filepath.Base(path), "id", doc.ID)

	if w.Ingested != nil {
		select {
		case w.Ingested <- doc:
		case <-ctx.Done():
		}
	}
}
