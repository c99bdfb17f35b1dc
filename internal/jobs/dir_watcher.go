package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/logging"
	"github.com/cloo-solutions/policyrag/internal/service"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is how long a file must stay quiet before it is ingested.
const DefaultDebounce = 500 * time.Millisecond

// DirectoryWatcher ingests documents written into a directory. Bursts of
// events for one file collapse into a single ingestion after the debounce.
type DirectoryWatcher struct {
	dir       string
	watcher   *fsnotify.Watcher
	extractor service.FileExtractor
	ingester  Ingester
	logger    *zap.Logger
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
	stop    chan struct{}
}

// NewDirectoryWatcher creates a watcher for dir. Call Start to begin.
func NewDirectoryWatcher(dir string, extractor service.FileExtractor, ingester Ingester, debounce time.Duration, logger *zap.Logger) (*DirectoryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &DirectoryWatcher{
		dir:       dir,
		watcher:   watcher,
		extractor: extractor,
		ingester:  ingester,
		logger:    logging.OrNop(logger),
		debounce:  debounce,
		pending:   make(map[string]*time.Timer),
		stop:      make(chan struct{}),
	}, nil
}

// Start watches the directory in a background goroutine.
func (w *DirectoryWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching documents directory", zap.String("dir", w.dir))
	go w.processEvents(ctx)
	return nil
}

// Stop stops watching and waits for in-flight ingestions.
func (w *DirectoryWatcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}

	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *DirectoryWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("directory watcher error", zap.Error(err))
		}
	}
}

func (w *DirectoryWatcher) schedule(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !extract.Supported(name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stop:
		return
	default:
	}

	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
	w.pending[path] = timer
}

func (w *DirectoryWatcher) ingest(ctx context.Context, path string) {
	res, err := w.extractor.ExtractFile(ctx, path)
	if err != nil {
		w.logger.Warn("watched file extraction failed", zap.String("path", path), zap.Error(err))
		return
	}
	doc, err := w.ingester.IngestDocument(ctx, filepath.Base(path), res.Text, service.WithPages(res.Pages))
	if err != nil {
		w.logger.Warn("watched file ingestion failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("watched file ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", doc.ChunkCount),
	)
}
