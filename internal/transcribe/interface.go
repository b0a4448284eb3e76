package transcribe

import "context"

// Request identifies one audio chunk for the speech-to-text service.
type Request struct {
	MediaURI  string // opaque reference the service can fetch the audio from
	MediaKey  string // blob key of the chunk; its extension drives format inference
	OutputKey string // where the service should write the transcript payload
}

// Transcriber runs one chunk through the external speech-to-text
// service and returns the transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
	Name() string
}
