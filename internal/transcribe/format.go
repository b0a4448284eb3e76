package transcribe

import (
	"path"
	"strings"
)

// mediaFormats maps file extensions to the container tag the service
// expects. m4a audio lives in an mp4 container; everything else known
// maps to itself. Unknown extensions pass through unchanged.
var mediaFormats = map[string]string{
	"wav":  "wav",
	"mp3":  "mp3",
	"flac": "flac",
	"ogg":  "ogg",
	"mp4":  "mp4",
	"m4a":  "mp4",
}

// MediaFormat infers the media format tag from a storage key.
func MediaFormat(key string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	if f, ok := mediaFormats[ext]; ok {
		return f
	}
	return ext
}
