package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/pipeline"
)

func TestWatcherIngestsDroppedRecording(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	os.MkdirAll(inbox, 0755)

	blobs, err := blob.NewFilesystemStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}

	triggers := make(chan pipeline.Trigger, 1)
	w, err := New(inbox, blobs, func(ctx context.Context, trig pipeline.Trigger) error {
		triggers <- trig
		return nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.settleDelay = 10 * time.Millisecond
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Dropping a text file must not trigger anything.
	os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("ignore me"), 0644)

	os.WriteFile(filepath.Join(inbox, "standup.wav.question"), []byte("decisions?"), 0644)
	os.WriteFile(filepath.Join(inbox, "standup.wav"), []byte("fake audio"), 0644)

	select {
	case trig := <-triggers:
		if trig.Key != "uploads/standup.wav" {
			t.Errorf("trigger key = %q, want uploads/standup.wav", trig.Key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no trigger within 5s")
	}

	if data, err := blobs.Get("uploads/standup.wav"); err != nil || string(data) != "fake audio" {
		t.Errorf("recording not copied into blob store: %v", err)
	}
	if data, err := blobs.Get("uploads/standup.wav.question"); err != nil || string(data) != "decisions?" {
		t.Errorf("question sidecar not copied: %v", err)
	}

	select {
	case trig := <-triggers:
		t.Errorf("unexpected extra trigger: %+v", trig)
	case <-time.After(200 * time.Millisecond):
	}
}
