package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

// DefaultAzureAPIVersion is the Azure OpenAI API version used when none is configured
const DefaultAzureAPIVersion = "2024-03-01-preview"

// OpenAIConfig holds configuration for the OpenAI chat completions client.
// Setting Endpoint selects Azure OpenAI, where Model names the deployment.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // Optional OpenAI-compatible endpoint (tests, proxies)
	Endpoint   string // Azure resource endpoint
	APIVersion string // Azure API version
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// OpenAI implements the Extractor interface using chat completions
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewOpenAI creates a new OpenAI Extractor instance
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	// Failed calls degrade to schema defaults instead of being retried.
	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		if cfg.APIVersion == "" {
			cfg.APIVersion = DefaultAzureAPIVersion
		}
		opts = append(opts,
			azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
	}, nil
}

// Extract sends a system instruction and a user message with image parts
func (o *OpenAI) Extract(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
	parts = append(parts, openai.TextContentPart(req.Prompt))
	for _, img := range req.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: img.DataURL(),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.Instruction),
			openai.UserMessage(parts),
		},
		MaxTokens:   openai.Int(int64(o.maxTokens)),
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(topP),
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Message
			if body == "" {
				body = apiErr.Error()
			}
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Body: body}
		}
		return nil, fmt.Errorf("calling openai API: %w", err)
	}

	raw := []byte(completion.RawJSON())
	text, ok := payloadText(raw, "choices.0.message.content")
	if !ok {
		return &Response{Raw: raw}, errors.New("unexpected JSON structure in openai response")
	}
	return &Response{Raw: raw, Text: text}, nil
}

// Close closes the OpenAI client (no-op for HTTP client)
func (o *OpenAI) Close() error {
	return nil
}
