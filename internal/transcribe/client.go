package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voicebrief/backend/internal/logger"
)

// Terminal chunk outcomes. A poll timeout and a service-reported
// failure both end the chunk, but they carry different diagnostics.
var (
	ErrPollTimeout         = errors.New("transcribe: polling timed out")
	ErrTranscriptionFailed = errors.New("transcribe: service reported failure")
)

const submitAttempts = 3

// Handle identifies a submitted transcription job at the service.
type Handle struct {
	JobName string `json:"job_name"`
}

// PollResult is one observation of a submitted job.
type PollResult struct {
	Status        string `json:"status"` // QUEUED, IN_PROGRESS, COMPLETED, FAILED
	TranscriptURI string `json:"transcript_uri,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type submitRequest struct {
	JobName      string `json:"job_name"`
	MediaURI     string `json:"media_uri"`
	MediaFormat  string `json:"media_format"`
	LanguageCode string `json:"language_code"`
	OutputKey    string `json:"output_key"`
}

// transcriptPayload is the service's transcript document shape.
type transcriptPayload struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// Client talks to an asynchronous speech-to-text HTTP service:
// submit a job, poll it at a fixed interval, then fetch the
// transcript body from the URI the service reports.
type Client struct {
	baseURL      string
	language     string
	pollInterval time.Duration
	pollTimeout  time.Duration
	fetchWait    time.Duration
	httpClient   *http.Client
	log          *logrus.Entry
}

func NewClient(baseURL, language string, pollInterval, pollTimeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		language:     language,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		fetchWait:    2 * time.Second,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          logger.New().WithField("module", "transcribe"),
	}
}

func (c *Client) Name() string { return "stt-http" }

// Transcribe runs the full submit / await / fetch sequence for one chunk.
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	handle, err := c.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	res, err := c.Await(ctx, handle)
	if err != nil {
		return "", err
	}
	return c.FetchTranscript(ctx, res.TranscriptURI)
}

// Submit starts an asynchronous transcription job for one chunk.
// Transient submit failures are retried a bounded number of times.
func (c *Client) Submit(ctx context.Context, req Request) (Handle, error) {
	body := submitRequest{
		JobName:      "voicebrief-" + uuid.New().String(),
		MediaURI:     req.MediaURI,
		MediaFormat:  MediaFormat(req.MediaKey),
		LanguageCode: c.language,
		OutputKey:    req.OutputKey,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal submit request: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"job_name":     body.JobName,
		"media_uri":    body.MediaURI,
		"media_format": body.MediaFormat,
		"output_key":   body.OutputKey,
	}).Info("submitting transcription job")

	var lastErr error
	for attempt := 0; attempt < submitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Handle{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return Handle{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("submit server error (status %d): %s", resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return Handle{}, fmt.Errorf("submit rejected (status %d): %s", resp.StatusCode, respBody)
		}
		return Handle{JobName: body.JobName}, nil
	}
	return Handle{}, fmt.Errorf("submit failed after %d attempts: %w", submitAttempts, lastErr)
}

// Poll fetches the current status of a submitted job.
func (c *Client) Poll(ctx context.Context, h Handle) (PollResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/transcriptions/"+h.JobName, nil)
	if err != nil {
		return PollResult{}, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PollResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("poll error (status %d): %s", resp.StatusCode, body)
	}

	var res PollResult
	if err := json.Unmarshal(body, &res); err != nil {
		return PollResult{}, fmt.Errorf("decode poll response: %w", err)
	}
	return res, nil
}

// Await polls at the configured interval until the job reaches a
// terminal status or the timeout elapses. A timeout is terminal for
// the chunk but distinct from a service-reported failure; the
// external job may keep running after we abandon it.
func (c *Client) Await(ctx context.Context, h Handle) (PollResult, error) {
	deadline := time.Now().Add(c.pollTimeout)
	for {
		res, err := c.Poll(ctx, h)
		if err != nil {
			// Transient poll errors don't kill the chunk; the
			// deadline bounds how long we keep trying.
			c.log.WithField("job_name", h.JobName).WithError(err).Warn("poll failed")
		} else {
			c.log.WithFields(logrus.Fields{
				"job_name": h.JobName,
				"status":   res.Status,
			}).Debug("polled transcription job")

			switch res.Status {
			case "COMPLETED":
				return res, nil
			case "FAILED":
				return PollResult{}, fmt.Errorf("%w: %s", ErrTranscriptionFailed, res.FailureReason)
			}
		}

		if time.Now().After(deadline) {
			return PollResult{}, fmt.Errorf("%w after %s: job %s", ErrPollTimeout, c.pollTimeout, h.JobName)
		}
		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// FetchTranscript downloads the completed transcript document and
// extracts its text. The service may report completion slightly
// before the document is readable, so transient read errors are
// retried with backoff before the chunk is declared failed.
func (c *Client) FetchTranscript(ctx context.Context, uri string) (string, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.fetchWait), 4), ctx)

	var text string
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("transcript read error (status %d): %s", resp.StatusCode, body)
		}

		var payload transcriptPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode transcript payload: %w", err)
		}
		if len(payload.Results.Transcripts) == 0 {
			return errors.New("transcript payload has no transcripts")
		}
		text = payload.Results.Transcripts[0].Transcript
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		// Cancellation is not a failure of this chunk; surface it
		// bare so callers can tell the two apart.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: fetching transcript: %w", ErrTranscriptionFailed, err)
	}
	return text, nil
}
