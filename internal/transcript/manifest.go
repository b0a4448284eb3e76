package transcript

import (
	"fmt"
	"time"
)

// Part is one chunk entry in a manifest. Index is the chunk's
// position in original temporal order and defines merge order.
type Part struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
}

// Manifest is the immutable snapshot of a job's chunk list, written
// once after splitting. The merger uses it to know the expected chunk
// count and order.
type Manifest struct {
	JobID        string    `json:"job_id"`
	OriginalName string    `json:"original_name"`
	CreatedAt    time.Time `json:"created_at"`
	TotalParts   int       `json:"total_parts"`
	Parts        []Part    `json:"parts"`
}

// NewManifest builds a manifest from ordered chunk keys.
func NewManifest(jobID, originalName string, chunkKeys []string) Manifest {
	parts := make([]Part, len(chunkKeys))
	for i, k := range chunkKeys {
		parts[i] = Part{Index: i, Key: k}
	}
	return Manifest{
		JobID:        jobID,
		OriginalName: originalName,
		CreatedAt:    time.Now().UTC(),
		TotalParts:   len(chunkKeys),
		Parts:        parts,
	}
}

// Validate checks the contiguous zero-based index invariant.
func (m Manifest) Validate() error {
	if m.TotalParts != len(m.Parts) {
		return fmt.Errorf("manifest %s: total_parts %d does not match %d parts", m.JobID, m.TotalParts, len(m.Parts))
	}
	for i, p := range m.Parts {
		if p.Index != i {
			return fmt.Errorf("manifest %s: part at position %d has index %d", m.JobID, i, p.Index)
		}
	}
	return nil
}
