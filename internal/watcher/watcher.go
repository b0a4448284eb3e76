package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/logger"
	"github.com/voicebrief/backend/internal/pipeline"
)

// Handler processes one upload trigger. The watcher calls it in a
// goroutine per file.
type Handler func(ctx context.Context, trig pipeline.Trigger) error

// Watcher monitors an inbox directory and forwards recordings dropped
// there into blob storage and the pipeline. It exists so the service
// can be fed by scp or a shared mount, not only the HTTP upload.
type Watcher struct {
	inboxDir string
	blobs    blob.Store
	handler  Handler
	fsw      *fsnotify.Watcher
	log      *logrus.Entry
	wg       sync.WaitGroup

	// settleDelay gives the writer time to finish before we read.
	settleDelay time.Duration
}

var audioExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".mp4":  true,
}

func New(inboxDir string, blobs blob.Store, handler Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(inboxDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch inbox %s: %w", inboxDir, err)
	}
	return &Watcher{
		inboxDir:    inboxDir,
		blobs:       blobs,
		handler:     handler,
		fsw:         fsw,
		log:         logger.New().WithField("module", "watcher"),
		settleDelay: 500 * time.Millisecond,
	}, nil
}

// Start blocks until ctx is cancelled, then waits for in-flight
// handlers to finish.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.WithField("inbox", w.inboxDir).Info("inbox watcher started")

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.log.Info("inbox watcher stopped")
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if !w.isAudioFile(event.Name) {
				continue
			}
			w.log.WithField("path", event.Name).Info("recording detected")
			w.wg.Add(1)
			go func(path string) {
				defer w.wg.Done()
				time.Sleep(w.settleDelay)
				if err := w.ingest(ctx, path); err != nil {
					w.log.WithField("path", path).WithError(err).Error("ingest failed")
				}
			}(event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.WithError(err).Error("watcher error")
		}
	}
}

func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

// ingest copies the dropped file (and any question sidecar next to
// it) into blob storage under uploads/ and hands the trigger to the
// pipeline handler.
func (w *Watcher) ingest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read inbox file: %w", err)
	}

	key := "uploads/" + filepath.Base(path)
	if err := w.blobs.Put(key, data); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}

	if question, err := os.ReadFile(path + ".question"); err == nil {
		if err := w.blobs.Put(key+".question", question); err != nil {
			w.log.WithField("key", key).WithError(err).Warn("store question sidecar")
		}
	}

	return w.handler(ctx, pipeline.Trigger{Key: key})
}

func (w *Watcher) isAudioFile(path string) bool {
	return audioExts[strings.ToLower(filepath.Ext(path))]
}
