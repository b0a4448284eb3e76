package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteInput means the merger was handed fewer completed
// transcripts than the manifest promises. The coordinator enforces
// all-success before merging, so seeing this is a programming error,
// not a runtime condition to recover from.
var ErrIncompleteInput = errors.New("transcript: incomplete input, missing chunk transcripts")

// Merged is the document produced by merging all chunk transcripts.
type Merged struct {
	JobID        string   `json:"job_id"`
	OriginalName string   `json:"original_name"`
	Parts        []string `json:"parts"`
	Text         string   `json:"text"`
}

// Merge concatenates chunk transcripts in ascending index order,
// joined by a single newline. The completion order of chunks never
// matters; only the manifest order does. Merging the same inputs
// twice yields byte-identical output.
func Merge(m Manifest, texts map[int]string) (Merged, error) {
	if err := m.Validate(); err != nil {
		return Merged{}, err
	}

	ordered := make([]string, 0, len(m.Parts))
	keys := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		text, ok := texts[p.Index]
		if !ok {
			return Merged{}, fmt.Errorf("%w: chunk %d (%s)", ErrIncompleteInput, p.Index, p.Key)
		}
		ordered = append(ordered, text)
		keys = append(keys, p.Key)
	}

	return Merged{
		JobID:        m.JobID,
		OriginalName: m.OriginalName,
		Parts:        keys,
		Text:         strings.Join(ordered, "\n"),
	}, nil
}
