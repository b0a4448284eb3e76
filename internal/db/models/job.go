package models

import "time"

// Stage is a job's position in the pipeline state machine.
type Stage string

const (
	StageUploaded             Stage = "uploaded"
	StageSplit                Stage = "split"
	StageTranscribeInProgress Stage = "transcribe_in_progress"
	StageTranscribeCompleted  Stage = "transcribe_completed"
	StageTranscribeFailed     Stage = "transcribe_failed" // terminal
	StageMerged               Stage = "merged"
	StageSummarized           Stage = "summarized" // terminal
)

// Terminal reports whether no further automatic transition happens.
func (s Stage) Terminal() bool {
	return s == StageTranscribeFailed || s == StageSummarized
}

// Failed reports whether the stage is a terminal failure.
func (s Stage) Failed() bool {
	return s == StageTranscribeFailed
}

// ChunkError records one chunk's terminal failure for diagnostics.
type ChunkError struct {
	PartKey string `json:"part_key"`
	Error   string `json:"error"`
}

// JobRecord is the durable status record for one processing run.
// job_id and original_name never change once assigned.
type JobRecord struct {
	ID             string       `json:"job_id"`
	OriginalName   string       `json:"original_name"`
	SourceKey      string       `json:"source_key,omitempty"`
	Stage          Stage        `json:"stage"`
	TotalParts     int          `json:"total_parts,omitempty"`
	CompletedParts int          `json:"completed_parts,omitempty"`
	LastCompleted  string       `json:"last_completed,omitempty"`
	ErrorFor       string       `json:"error_for,omitempty"`
	Error          string       `json:"error,omitempty"`
	Errors         []ChunkError `json:"errors,omitempty"`
	ManifestKey    string       `json:"manifest_key,omitempty"`
	MergedKey      string       `json:"merged_key,omitempty"`
	SummaryKey     string       `json:"summary_key,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
