// Package ai infers bibliographic metadata from PDF documents with a
// generative model.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

const (
	// ProviderOpenAI sends the text excerpt to an OpenAI chat model with a
	// strict JSON schema response format.
	ProviderOpenAI = "openai"
	// ProviderGemini sends the raw PDF to a Gemini model.
	ProviderGemini = "gemini"
)

// SystemPrompt instructs the model which fields to extract and where to look
// for them.
const SystemPrompt = "You are a document analyzer. Extract the title and publication date/creation date. " +
	"Note: The date or title might be found within the provided 'FILENAME' " +
	"or within the first few lines of the document text. If a formal date " +
	"is missing, look for year/month patterns in the title or headers."

// SchemaName names the structured output schema.
const SchemaName = "document_metadata"

// MetadataSchema is the JSON schema of Metadata.
var MetadataSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title": map[string]any{
			"type":        "string",
			"description": "The document title",
		},
		"pub_date": map[string]any{
			"type":        "string",
			"description": "The publication or creation date as written in the document",
		},
	},
	"required":             []string{"title", "pub_date"},
	"additionalProperties": false,
}

// Input is what an Inferer reads.
type Input struct {
	Filename string
	// PromptText is the FILENAME header followed by the leading pages.
	PromptText string
	// Content is the raw PDF. Only inferers whose NeedsRawContent returns
	// true read it.
	Content []byte
}

// Metadata is the structured output of the model. Both fields are strings
// exactly as returned; PubDate is not normalized to a date.
type Metadata struct {
	Title   string `json:"title"`
	PubDate string `json:"pub_date"`
}

// Usage is the token accounting of a single inference call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// InferenceResult is the outcome of a successful inference call.
type InferenceResult struct {
	Metadata Metadata
	Usage    Usage
	Model    string
}

// Inferer extracts Metadata from a document.
type Inferer interface {
	// Name returns the provider name.
	Name() string
	// NeedsRawContent reports whether InferMetadata reads Input.Content.
	NeedsRawContent() bool
	// InferMetadata calls the model once. Malformed model output returns an
	// error wrapping errors.ErrMalformedMetadata; transport failures wrap
	// errors.ErrUnavailable.
	InferMetadata(ctx context.Context, in Input) (*InferenceResult, error)
}

// ParseMetadata decodes the model output. Both keys must be present.
func ParseMetadata(raw string) (*Metadata, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty model output: %w", errors.ErrMalformedMetadata)
	}

	var fields map[string]*string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decoding model output: %v: %w", err, errors.ErrMalformedMetadata)
	}

	title, ok := fields["title"]
	if !ok || title == nil {
		return nil, fmt.Errorf("model output has no title: %w", errors.ErrMalformedMetadata)
	}
	pubDate, ok := fields["pub_date"]
	if !ok || pubDate == nil {
		return nil, fmt.Errorf("model output has no pub_date: %w", errors.ErrMalformedMetadata)
	}

	return &Metadata{Title: *title, PubDate: *pubDate}, nil
}

// EstimateTokenCount estimates the token count of text with the GPT-4
// tokenizer, falling back to ~4 characters per token.
func EstimateTokenCount(text string) int {
	tkm, err := tiktoken.EncodingForModel("gpt-4")
	if err != nil {
		return len(text) / 4
	}
	return len(tkm.Encode(text, nil, nil))
}

// TruncateToTokens shortens text to at most maxTokens tokens. A non-positive
// maxTokens returns text unchanged.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}

	tkm, err := tiktoken.EncodingForModel("gpt-4")
	if err != nil {
		if limit := maxTokens * 4; len(text) > limit {
			return text[:limit]
		}
		return text
	}

	tokens := tkm.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tkm.Decode(tokens[:maxTokens])
}
