package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/pdfbot/slack-pdf-backend/pkg/ai"
	"github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-mini"

// Options configure the OpenAI inferer.
type Options struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, e.g. for a compatible gateway.
	BaseURL string
	// MaxPromptTokens truncates the prompt excerpt. Zero disables it.
	MaxPromptTokens int
}

// Client implements ai.Inferer with OpenAI structured outputs over the text
// excerpt of a document.
type Client struct {
	client          *openai.Client
	model           string
	maxPromptTokens int
}

// NewClient creates a new OpenAI inferer.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is missing: %w", errors.ErrInvalidArgument)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// Retries belong to the task retry policy.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(reqOpts...)
	return &Client{
		client:          &client,
		model:           model,
		maxPromptTokens: opts.MaxPromptTokens,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ai.ProviderOpenAI
}

// NeedsRawContent returns false: only the text excerpt is sent.
func (c *Client) NeedsRawContent() bool {
	return false
}

// InferMetadata asks the model for the title and publication date of the
// document, constrained to ai.MetadataSchema.
func (c *Client) InferMetadata(ctx context.Context, in ai.Input) (*ai.InferenceResult, error) {
	prompt := ai.TruncateToTokens(in.PromptText, c.maxPromptTokens)

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ai.SystemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        ai.SchemaName,
					Description: openai.String("Title and publication date of a document"),
					Schema:      ai.MetadataSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI chat completion for %s: %v: %w", in.Filename, err, errors.ErrUnavailable)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices for %s: %w", in.Filename, errors.ErrMalformedMetadata)
	}

	msg := completion.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("OpenAI refused %s: %s: %w", in.Filename, msg.Refusal, errors.ErrMalformedMetadata)
	}

	metadata, err := ai.ParseMetadata(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Filename, err)
	}

	model := completion.Model
	if model == "" {
		model = c.model
	}

	return &ai.InferenceResult{
		Metadata: *metadata,
		Usage: ai.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		},
		Model: model,
	}, nil
}
