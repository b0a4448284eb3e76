package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/voicebrief/backend/internal/logger"
)

// ErrSummarization wraps any failure of the external model call.
// The adapter never retries; the coordinator fails the job instead of
// shipping an empty or partial summary.
var ErrSummarization = errors.New("summary: model call failed")

const basePrompt = `You are given a transcript of a human interaction: a meeting, a lesson, a lecture or a phone call.
Produce a structured summary as JSON only.
The JSON must be an object with these keys:
- sections: a list of objects, each with "title" and "bullets" (an array of points).
- participants: names or roles appearing in the transcript. Use "Speaker A", "Speaker B" when no names appear.
- decisions: decisions or agreements that were reached.
- action_items: follow-up tasks that were agreed.
- questions: questions that were raised.
Do not add any text outside the JSON.`

// Summarizer produces a structured summary document from a merged
// transcript. The pipeline depends on this interface so tests can
// swap in a fake.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, question string) (*Document, error)
}

// Client calls the Gemini API and parses its response.
type Client struct {
	apiKey string
	model  string
	log    *logrus.Entry
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		log:    logger.New().WithField("module", "summary"),
	}
}

// Summarize sends the merged transcript to the model and normalizes
// the response into a Document. An optional question is appended to
// the instructions. The raw model output is always preserved.
func (c *Client) Summarize(ctx context.Context, transcript, question string) (*Document, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrSummarization, err)
	}

	prompt := c.buildPrompt(transcript, question)
	result, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt),
		&genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)})
	if err != nil {
		return nil, fmt.Errorf("%w: generate content: %v", ErrSummarization, err)
	}

	raw := extractText(result)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrSummarization)
	}

	doc := Parse(raw)
	c.log.WithFields(logrus.Fields{
		"model":    c.model,
		"sections": len(doc.Sections),
	}).Info("summary generated")
	return doc, nil
}

func (c *Client) buildPrompt(transcript, question string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if question != "" {
		b.WriteString("\nAlso answer this question about the transcript in a dedicated section: ")
		b.WriteString(question)
	}
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String()
}

// extractText concatenates the text parts of the first candidate.
func extractText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
