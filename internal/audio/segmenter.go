package audio

import (
	"fmt"
	"time"
)

// Split cuts a WAV recording into chunks of at most maxDur each. Cuts
// are pure time offsets on frame boundaries: concatenating the chunk
// payloads reproduces the source PCM exactly, with no overlap and no
// gaps. A recording no longer than maxDur comes back as a single
// chunk so short uploads skip pointless fan-out.
func Split(data []byte, maxDur time.Duration) ([][]byte, error) {
	if maxDur <= 0 {
		return nil, fmt.Errorf("audio: non-positive chunk duration %v", maxDur)
	}
	d, err := decode(data)
	if err != nil {
		return nil, err
	}

	framesPerChunk := int(maxDur * time.Duration(d.fmt.sampleRate) / time.Second)
	if framesPerChunk <= 0 {
		framesPerChunk = 1
	}
	bytesPerChunk := framesPerChunk * d.fmt.blockAlign

	if len(d.pcm) <= bytesPerChunk {
		return [][]byte{encode(d.fmt, d.pcm)}, nil
	}

	var chunks [][]byte
	for off := 0; off < len(d.pcm); off += bytesPerChunk {
		end := off + bytesPerChunk
		if end > len(d.pcm) {
			end = len(d.pcm)
		}
		chunks = append(chunks, encode(d.fmt, d.pcm[off:end]))
	}
	return chunks, nil
}
