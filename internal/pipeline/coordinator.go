package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voicebrief/backend/internal/audio"
	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/db"
	"github.com/voicebrief/backend/internal/db/models"
	"github.com/voicebrief/backend/internal/logger"
	"github.com/voicebrief/backend/internal/summary"
	"github.com/voicebrief/backend/internal/transcribe"
	"github.com/voicebrief/backend/internal/transcript"
)

// Trigger is one upload event: a new source object appeared in
// storage. Delivery is at-least-once, so duplicates must be expected.
type Trigger struct {
	Container string `json:"container"`
	Key       string `json:"key"`
}

// Coordinator drives one job through the pipeline state machine:
// uploaded -> split -> transcribe_in_progress ->
// {transcribe_completed | transcribe_failed} -> merged -> summarized.
// It is the only writer of the status record; chunk workers hand
// their outcomes back over a channel and never touch shared state.
type Coordinator struct {
	store      *db.Database
	blobs      blob.Store
	stt        transcribe.Transcriber
	summarizer summary.Summarizer

	chunkDuration time.Duration
	maxWorkers    int
	summaryPrefix string
	log           *logrus.Entry
}

func NewCoordinator(store *db.Database, blobs blob.Store, stt transcribe.Transcriber,
	summarizer summary.Summarizer, chunkDuration time.Duration, maxWorkers int,
	summaryPrefix string) *Coordinator {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Coordinator{
		store:         store,
		blobs:         blobs,
		stt:           stt,
		summarizer:    summarizer,
		chunkDuration: chunkDuration,
		maxWorkers:    maxWorkers,
		summaryPrefix: summaryPrefix,
		log:           logger.New().WithField("module", "pipeline"),
	}
}

// originalName strips the directory and extension from a source key,
// e.g. "uploads/standup.wav" -> "standup".
func originalName(key string) string {
	base := path.Base(key)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// chunkResult is one worker's terminal outcome for one chunk.
type chunkResult struct {
	index int
	key   string
	text  string
	err   error
}

// Run processes one upload trigger end to end and returns the job id.
// A terminal failure of any chunk fails the whole job; no partial
// summary is ever produced.
func (c *Coordinator) Run(ctx context.Context, trig Trigger) (string, error) {
	name := originalName(trig.Key)

	// Best-effort dedup: upload triggers are at-least-once, and a
	// re-run would repeat billable transcription work. Dedup key is
	// the source object key.
	if existing, err := c.store.FindActiveJobBySourceKey(trig.Key); err == nil {
		c.log.WithFields(logrus.Fields{
			"source_key": trig.Key,
			"job_id":     existing,
		}).Info("duplicate trigger ignored, job already exists")
		return existing, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("dedup lookup: %w", err)
	}

	jobID := uuid.New().String()
	log := c.log.WithFields(logrus.Fields{"job_id": jobID, "original_name": name})
	log.WithField("source_key", trig.Key).Info("job started")

	if err := c.store.UpdateJob(jobID, db.Fields{
		"original_name": name,
		"source_key":    trig.Key,
		"stage":         models.StageUploaded,
	}); err != nil {
		return jobID, err
	}

	manifest, err := c.split(jobID, name, trig.Key, log)
	if err != nil {
		return jobID, err
	}

	texts, err := c.transcribeAll(ctx, jobID, manifest, log)
	if err != nil {
		return jobID, err
	}

	merged, err := c.merge(jobID, manifest, texts, log)
	if err != nil {
		return jobID, err
	}

	if err := c.summarize(ctx, jobID, name, trig.Key, merged, log); err != nil {
		return jobID, err
	}

	log.Info("job summarized")
	return jobID, nil
}

// split decodes the source audio, cuts it into bounded chunks, stores
// them, and durably writes the immutable manifest. Only then does the
// job advance to the split stage.
func (c *Coordinator) split(jobID, name, sourceKey string, log *logrus.Entry) (transcript.Manifest, error) {
	data, err := c.blobs.Get(sourceKey)
	if err != nil {
		c.failJob(jobID, sourceKey, fmt.Errorf("read source object: %w", err))
		return transcript.Manifest{}, err
	}

	chunks, err := audio.Split(data, c.chunkDuration)
	if err != nil {
		// Undecodable input is fatal before any chunk exists.
		c.failJob(jobID, sourceKey, err)
		return transcript.Manifest{}, err
	}
	log.WithField("chunks", len(chunks)).Info("audio split")

	chunkKeys := make([]string, len(chunks))
	for i, chunk := range chunks {
		key := fmt.Sprintf("chunks/%s/part_%03d.wav", jobID, i)
		if err := c.blobs.Put(key, chunk); err != nil {
			c.failJob(jobID, key, fmt.Errorf("store chunk %d: %w", i, err))
			return transcript.Manifest{}, err
		}
		chunkKeys[i] = key
	}

	manifest := transcript.NewManifest(jobID, name, chunkKeys)
	manifestKey := fmt.Sprintf("manifests/%s.json", jobID)
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return transcript.Manifest{}, err
	}
	if err := c.blobs.Put(manifestKey, manifestJSON); err != nil {
		c.failJob(jobID, manifestKey, fmt.Errorf("store manifest: %w", err))
		return transcript.Manifest{}, err
	}

	if err := c.store.UpdateJob(jobID, db.Fields{
		"stage":        models.StageSplit,
		"total_parts":  manifest.TotalParts,
		"manifest_key": manifestKey,
	}); err != nil {
		return transcript.Manifest{}, err
	}
	return manifest, nil
}

// transcribeAll fans chunk transcription out over a bounded worker
// pool and folds results back in completion order, updating the
// status record after every terminal chunk outcome. The first chunk
// failure cancels the remaining workers and fails the job.
func (c *Coordinator) transcribeAll(ctx context.Context, jobID string,
	manifest transcript.Manifest, log *logrus.Entry) (map[int]string, error) {

	if err := c.store.UpdateJob(jobID, db.Fields{
		"stage":       models.StageTranscribeInProgress,
		"total_parts": manifest.TotalParts,
	}); err != nil {
		return nil, err
	}

	workers := c.maxWorkers
	if len(manifest.Parts) < workers {
		workers = len(manifest.Parts)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so workers can always deliver their result even after
	// the coordinator stopped caring; nothing leaks.
	parts := make(chan transcript.Part, len(manifest.Parts))
	results := make(chan chunkResult, len(manifest.Parts))
	for _, p := range manifest.Parts {
		parts <- p
	}
	close(parts)

	for i := 0; i < workers; i++ {
		go func() {
			for p := range parts {
				if ctx.Err() != nil {
					results <- chunkResult{index: p.Index, key: p.Key, err: ctx.Err()}
					continue
				}
				text, err := c.stt.Transcribe(ctx, transcribe.Request{
					MediaURI:  "blob://" + p.Key,
					MediaKey:  p.Key,
					OutputKey: fmt.Sprintf("transcriptions/%s/part_%03d.json", jobID, p.Index),
				})
				results <- chunkResult{index: p.Index, key: p.Key, text: text, err: err}
			}
		}()
	}

	texts := make(map[int]string, len(manifest.Parts))
	var chunkErrs []models.ChunkError
	completed := 0

	for range manifest.Parts {
		res := <-results
		if res.err != nil {
			// Cancellation fallout from an earlier failure is not a
			// chunk failure of its own.
			if errors.Is(res.err, context.Canceled) {
				continue
			}
			log.WithField("part_key", res.key).WithError(res.err).Error("chunk failed")
			chunkErrs = append(chunkErrs, models.ChunkError{PartKey: res.key, Error: res.err.Error()})
			if err := c.store.UpdateJob(jobID, db.Fields{
				"error_for": res.key,
				"error":     res.err.Error(),
			}); err != nil {
				log.WithField("part_key", res.key).WithError(err).Error("record chunk failure")
			}
			// Abort remaining polling; the merge will never run.
			cancel()
			continue
		}

		completed++
		texts[res.index] = res.text

		// Per-chunk transcript records are write-once per index.
		record, _ := json.Marshal(map[string]any{
			"index":    res.index,
			"part_key": res.key,
			"text":     res.text,
		})
		if err := c.blobs.Put(fmt.Sprintf("transcriptions/%s/part_%03d.json", jobID, res.index), record); err != nil {
			log.WithError(err).Error("store chunk transcript")
		}

		// Update after every completion, not batched, so pollers see
		// fine-grained progress.
		if err := c.store.UpdateJob(jobID, db.Fields{
			"completed_parts": completed,
			"last_completed":  res.key,
		}); err != nil {
			log.WithField("part_key", res.key).WithError(err).Error("record chunk progress")
		}
		log.WithFields(logrus.Fields{
			"part_key":  res.key,
			"completed": completed,
			"total":     manifest.TotalParts,
		}).Info("chunk transcribed")
	}

	if len(chunkErrs) > 0 {
		if err := c.store.UpdateJob(jobID, db.Fields{
			"stage":  models.StageTranscribeFailed,
			"errors": chunkErrs,
		}); err != nil {
			log.WithError(err).Error("record job failure")
		}
		return nil, fmt.Errorf("transcription failed for %d chunk(s)", len(chunkErrs))
	}

	if err := c.store.UpdateJob(jobID, db.Fields{
		"stage":           models.StageTranscribeCompleted,
		"completed_parts": completed,
	}); err != nil {
		return nil, err
	}
	return texts, nil
}

// merge concatenates chunk transcripts in index order and stores the
// merged document before the job advances.
func (c *Coordinator) merge(jobID string, manifest transcript.Manifest,
	texts map[int]string, log *logrus.Entry) (transcript.Merged, error) {

	merged, err := transcript.Merge(manifest, texts)
	if err != nil {
		c.failJob(jobID, "", err)
		return transcript.Merged{}, err
	}

	mergedKey := fmt.Sprintf("transcriptions/%s/merged.json", jobID)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return transcript.Merged{}, err
	}
	if err := c.blobs.Put(mergedKey, mergedJSON); err != nil {
		c.failJob(jobID, mergedKey, fmt.Errorf("store merged transcript: %w", err))
		return transcript.Merged{}, err
	}

	if err := c.store.UpdateJob(jobID, db.Fields{
		"stage":      models.StageMerged,
		"merged_key": mergedKey,
	}); err != nil {
		return transcript.Merged{}, err
	}
	log.WithField("merged_key", mergedKey).Info("transcripts merged")
	return merged, nil
}

// summarize calls the summarizer once and stores the final document.
// A failure leaves the job at the merged stage, marked failed; an
// empty summary is never written in its place.
func (c *Coordinator) summarize(ctx context.Context, jobID, name, sourceKey string,
	merged transcript.Merged, log *logrus.Entry) error {

	question := c.readQuestion(sourceKey)

	doc, err := c.summarizer.Summarize(ctx, merged.Text, question)
	if err != nil {
		c.failJob(jobID, merged.JobID, err)
		return err
	}

	summaryKey := c.summaryPrefix + name + ".summary.json"
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := c.blobs.Put(summaryKey, docJSON); err != nil {
		c.failJob(jobID, summaryKey, fmt.Errorf("store summary: %w", err))
		return err
	}

	return c.store.UpdateJob(jobID, db.Fields{
		"stage":       models.StageSummarized,
		"summary_key": summaryKey,
	})
}

// readQuestion loads the optional per-object question sidecar. Reads
// are best-effort: anything missing or unreadable means no question.
func (c *Coordinator) readQuestion(sourceKey string) string {
	data, err := c.blobs.Get(sourceKey + ".question")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// failJob records a terminal failure without advancing the stage; the
// presence of errors is itself the terminal signal for pollers.
func (c *Coordinator) failJob(jobID, ref string, cause error) {
	fields := db.Fields{
		"error":  cause.Error(),
		"errors": []models.ChunkError{{PartKey: ref, Error: cause.Error()}},
	}
	if ref != "" {
		fields["error_for"] = ref
	}
	if err := c.store.UpdateJob(jobID, fields); err != nil {
		c.log.WithField("job_id", jobID).WithError(err).Error("failed to record job failure")
	}
}
