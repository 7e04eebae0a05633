package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pdfbot/slack-pdf-backend/pkg/ai"
	"github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

const pdfMIMEType = "application/pdf"

// Options configure the Gemini inferer.
type Options struct {
	APIKey string
	Model  string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
}

// Client implements ai.Inferer by sending the raw PDF to Gemini with a JSON
// response schema.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a new Gemini inferer.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is missing: %w", errors.ErrInvalidArgument)
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: client,
		model:  model,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ai.ProviderGemini
}

// NeedsRawContent returns true: the model reads the PDF itself.
func (c *Client) NeedsRawContent() bool {
	return true
}

// metadataSchema mirrors ai.MetadataSchema in the Gemini schema dialect.
var metadataSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title": {
			Type:        genai.TypeString,
			Description: "The document title",
		},
		"pub_date": {
			Type:        genai.TypeString,
			Description: "The publication or creation date as written in the document",
		},
	},
	Required:         []string{"title", "pub_date"},
	PropertyOrdering: []string{"title", "pub_date"},
}

// InferMetadata sends the PDF and the filename header to the model.
func (c *Client) InferMetadata(ctx context.Context, in ai.Input) (*ai.InferenceResult, error) {
	if len(in.Content) == 0 {
		return nil, fmt.Errorf("no PDF content for %s: %w", in.Filename, errors.ErrInvalidArgument)
	}

	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: pdfMIMEType, Data: in.Content}},
				{Text: "FILENAME: " + in.Filename},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: ai.SystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   metadataSchema,
		Temperature:      genai.Ptr[float32](0),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini generate content for %s: %v: %w", in.Filename, err, errors.ErrUnavailable)
	}

	metadata, err := ai.ParseMetadata(responseText(resp))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Filename, err)
	}

	result := &ai.InferenceResult{
		Metadata: *metadata,
		Model:    c.model,
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		result.Usage = ai.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int64(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
