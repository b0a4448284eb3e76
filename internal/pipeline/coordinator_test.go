package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/db"
	"github.com/voicebrief/backend/internal/db/models"
	"github.com/voicebrief/backend/internal/summary"
	"github.com/voicebrief/backend/internal/transcribe"
	"github.com/voicebrief/backend/internal/transcript"
)

const testSampleRate = 1000

// makeWAV builds a 16-bit mono PCM WAV of the given duration.
func makeWAV(t *testing.T, seconds int) []byte {
	t.Helper()
	frames := testSampleRate * seconds
	pcm := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i))
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(testSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(testSampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// fakeSTT returns a canned transcript per chunk index, optionally
// failing one index.
type fakeSTT struct {
	texts     map[int]string
	failIndex int
	failErr   error
	calls     atomic.Int32
}

func (f *fakeSTT) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var idx int
	if _, err := fmt.Sscanf(path.Base(req.MediaKey), "part_%03d.wav", &idx); err != nil {
		return "", fmt.Errorf("unexpected media key %q", req.MediaKey)
	}
	if f.failErr != nil && idx == f.failIndex {
		return "", f.failErr
	}
	return f.texts[idx], nil
}

func (f *fakeSTT) Name() string { return "fake" }

type fakeSummarizer struct {
	doc   *summary.Document
	err   error
	calls atomic.Int32
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript, question string) (*summary.Document, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	doc := *f.doc
	doc.Raw = transcript
	return &doc, nil
}

func newTestCoordinator(t *testing.T, stt transcribe.Transcriber, sum summary.Summarizer) (*Coordinator, *db.Database, blob.Store) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.NewSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	blobs, err := blob.NewFilesystemStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	c := NewCoordinator(database, blobs, stt, sum, 60*time.Second, 8, "summaries/")
	return c, database, blobs
}

func TestRunFullPipeline(t *testing.T) {
	stt := &fakeSTT{texts: map[int]string{0: "one", 1: "two", 2: "three"}}
	sum := &fakeSummarizer{doc: &summary.Document{
		Sections: []summary.Section{{Title: "Standup", Bullets: []string{"all good"}}},
	}}
	c, database, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/standup.wav", makeWAV(t, 150))

	jobID, err := c.Run(context.Background(), Trigger{Key: "uploads/standup.wav"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, err := database.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Stage != models.StageSummarized {
		t.Errorf("stage = %q, want %q", job.Stage, models.StageSummarized)
	}
	if job.TotalParts != 3 || job.CompletedParts != 3 {
		t.Errorf("parts = %d/%d, want 3/3", job.CompletedParts, job.TotalParts)
	}
	if job.OriginalName != "standup" {
		t.Errorf("original_name = %q, want standup", job.OriginalName)
	}

	// 150s at 60s chunks gives three chunks.
	chunks, _ := blobs.List("chunks/" + jobID + "/")
	if len(chunks) != 3 {
		t.Errorf("got %d chunk objects, want 3", len(chunks))
	}

	mergedJSON, err := blobs.Get(job.MergedKey)
	if err != nil {
		t.Fatalf("read merged transcript: %v", err)
	}
	var merged transcript.Merged
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		t.Fatalf("decode merged transcript: %v", err)
	}
	if merged.Text != "one\ntwo\nthree" {
		t.Errorf("merged text = %q, want %q", merged.Text, "one\ntwo\nthree")
	}

	docJSON, err := blobs.Get("summaries/standup.summary.json")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var doc summary.Document
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if doc.Raw != merged.Text {
		t.Errorf("summary raw = %q, want merged text", doc.Raw)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Title != "Standup" {
		t.Errorf("unexpected sections: %+v", doc.Sections)
	}
}

func TestRunSingleChunkShortRecording(t *testing.T) {
	stt := &fakeSTT{texts: map[int]string{0: "hello"}}
	sum := &fakeSummarizer{doc: &summary.Document{Sections: []summary.Section{{Title: "Note"}}}}
	c, database, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/short.wav", makeWAV(t, 10))

	jobID, err := c.Run(context.Background(), Trigger{Key: "uploads/short.wav"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	job, _ := database.GetJob(jobID)
	if job.TotalParts != 1 || job.Stage != models.StageSummarized {
		t.Errorf("stage/parts = %q/%d, want summarized/1", job.Stage, job.TotalParts)
	}
}

func TestRunChunkFailureFailsJob(t *testing.T) {
	stt := &fakeSTT{
		texts:     map[int]string{0: "one", 1: "two", 2: "three"},
		failIndex: 1,
		failErr:   fmt.Errorf("part timed out: %w", transcribe.ErrPollTimeout),
	}
	sum := &fakeSummarizer{doc: &summary.Document{}}
	c, database, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/standup.wav", makeWAV(t, 150))

	jobID, err := c.Run(context.Background(), Trigger{Key: "uploads/standup.wav"})
	if err == nil {
		t.Fatal("Run succeeded, want error")
	}

	job, _ := database.GetJob(jobID)
	if job.Stage != models.StageTranscribeFailed {
		t.Errorf("stage = %q, want %q", job.Stage, models.StageTranscribeFailed)
	}
	wantKey := fmt.Sprintf("chunks/%s/part_001.wav", jobID)
	if job.ErrorFor != wantKey {
		t.Errorf("error_for = %q, want %q", job.ErrorFor, wantKey)
	}
	if len(job.Errors) == 0 {
		t.Error("errors list empty, want at least the failed chunk")
	}

	// No summary may exist for a failed job.
	if sum.calls.Load() != 0 {
		t.Error("summarizer called for failed job")
	}
	if _, err := blobs.Get("summaries/standup.summary.json"); !errors.Is(err, blob.ErrNotExist) {
		t.Errorf("summary object exists for failed job: %v", err)
	}
}

func TestRunSummarizerFailureLeavesJobMerged(t *testing.T) {
	stt := &fakeSTT{texts: map[int]string{0: "hello"}}
	sum := &fakeSummarizer{err: summary.ErrSummarization}
	c, database, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/short.wav", makeWAV(t, 10))

	jobID, err := c.Run(context.Background(), Trigger{Key: "uploads/short.wav"})
	if err == nil {
		t.Fatal("Run succeeded, want error")
	}
	job, _ := database.GetJob(jobID)
	if job.Stage != models.StageMerged {
		t.Errorf("stage = %q, want %q", job.Stage, models.StageMerged)
	}
	if job.Error == "" || len(job.Errors) == 0 {
		t.Error("summarizer failure not recorded on job")
	}
	if _, err := blobs.Get("summaries/short.summary.json"); !errors.Is(err, blob.ErrNotExist) {
		t.Errorf("summary object exists after summarizer failure: %v", err)
	}
}

func TestRunUndecodableInput(t *testing.T) {
	stt := &fakeSTT{texts: map[int]string{}}
	sum := &fakeSummarizer{doc: &summary.Document{}}
	c, database, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/garbage.wav", []byte("not a wav file"))

	jobID, err := c.Run(context.Background(), Trigger{Key: "uploads/garbage.wav"})
	if err == nil {
		t.Fatal("Run succeeded, want decode error")
	}
	job, _ := database.GetJob(jobID)
	if job.Stage != models.StageUploaded {
		t.Errorf("stage = %q, want %q", job.Stage, models.StageUploaded)
	}
	if job.Error == "" {
		t.Error("decode failure not recorded on job")
	}
	if stt.calls.Load() != 0 {
		t.Error("transcriber called for undecodable input")
	}
}

func TestRunDeduplicatesTriggers(t *testing.T) {
	stt := &fakeSTT{texts: map[int]string{0: "hello"}}
	sum := &fakeSummarizer{doc: &summary.Document{}}
	c, _, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/short.wav", makeWAV(t, 10))

	first, err := c.Run(context.Background(), Trigger{Key: "uploads/short.wav"})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	sttCalls := stt.calls.Load()

	second, err := c.Run(context.Background(), Trigger{Key: "uploads/short.wav"})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second != first {
		t.Errorf("duplicate trigger started new job %s, want %s", second, first)
	}
	if stt.calls.Load() != sttCalls {
		t.Error("duplicate trigger repeated transcription work")
	}
}

// gatedSTT holds each chunk until the test releases it, so status
// reads can be interleaved with chunk completions.
type gatedSTT struct {
	texts   map[int]string
	release chan struct{}
}

func (g *gatedSTT) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	var idx int
	if _, err := fmt.Sscanf(path.Base(req.MediaKey), "part_%03d.wav", &idx); err != nil {
		return "", fmt.Errorf("unexpected media key %q", req.MediaKey)
	}
	return g.texts[idx], nil
}

func (g *gatedSTT) Name() string { return "gated" }

func TestStatusProgressIsMonotonic(t *testing.T) {
	stt := &gatedSTT{
		texts:   map[int]string{0: "one", 1: "two", 2: "three"},
		release: make(chan struct{}),
	}
	sum := &fakeSummarizer{doc: &summary.Document{}}
	c, database, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/standup.wav", makeWAV(t, 150))

	done := make(chan string, 1)
	go func() {
		jobID, err := c.Run(context.Background(), Trigger{Key: "uploads/standup.wav"})
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- jobID
	}()

	deadline := time.Now().Add(10 * time.Second)
	var jobID string
	for jobID == "" {
		if time.Now().After(deadline) {
			t.Fatal("job record never appeared")
		}
		if jobs, err := database.ListJobs(); err == nil && len(jobs) == 1 {
			jobID = jobs[0].ID
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Release chunks one at a time and poll the status record in
	// between: completed_parts must never decrease across reads.
	maxSeen := 0
	for completions := 1; completions <= 3; completions++ {
		stt.release <- struct{}{}
		for {
			if time.Now().After(deadline) {
				t.Fatalf("status never reached %d completed parts", completions)
			}
			job, err := database.GetJob(jobID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if job.CompletedParts < maxSeen {
				t.Fatalf("completed_parts decreased: %d after %d", job.CompletedParts, maxSeen)
			}
			maxSeen = job.CompletedParts
			if job.CompletedParts >= completions {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	finalID := <-done
	job, err := database.GetJob(finalID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Stage != models.StageSummarized || job.CompletedParts != 3 {
		t.Errorf("final stage/parts = %q/%d, want summarized/3", job.Stage, job.CompletedParts)
	}
}

func TestRunPassesQuestionSidecar(t *testing.T) {
	stt := &fakeSTT{texts: map[int]string{0: "hello"}}
	var gotQuestion string
	sum := &questionRecorder{question: &gotQuestion}
	c, _, blobs := newTestCoordinator(t, stt, sum)

	blobs.Put("uploads/short.wav", makeWAV(t, 10))
	blobs.Put("uploads/short.wav.question", []byte("  what was decided?\n"))

	if _, err := c.Run(context.Background(), Trigger{Key: "uploads/short.wav"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotQuestion != "what was decided?" {
		t.Errorf("question = %q, want trimmed sidecar content", gotQuestion)
	}
}

type questionRecorder struct {
	question *string
}

func (q *questionRecorder) Summarize(ctx context.Context, transcript, question string) (*summary.Document, error) {
	*q.question = question
	return &summary.Document{Raw: transcript}, nil
}
