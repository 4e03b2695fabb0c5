package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama implements the Extractor interface using Ollama
type Ollama struct {
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
}

// NewOllama creates a new Ollama Extractor instance
// Recommended vision models for scanned documents:
//   - qwen2.5vl (strong OCR on dense drawings)
//   - llava:1.6 (general purpose)
//   - llama3.2-vision
func NewOllama(baseURL string, modelName string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &Ollama{
		baseURL:   baseURL,
		model:     modelName,
		maxTokens: DefaultMaxTokens,
		timeout:   timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetMaxTokens overrides the response token limit
func (o *Ollama) SetMaxTokens(n int) {
	if n > 0 {
		o.maxTokens = n
	}
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

// Extract sends the strips to Ollama's chat API
func (o *Ollama) Extract(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	images := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, img.Base64())
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: req.Instruction,
			},
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  images,
			},
		},
		Options: ollamaOptions{
			Temperature: temperature,
			TopP:        topP,
			NumPredict:  o.maxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	text, ok := payloadText(body, "message.content")
	if !ok {
		return &Response{Raw: body}, errors.New("unexpected JSON structure in ollama response")
	}
	return &Response{Raw: body, Text: text}, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
