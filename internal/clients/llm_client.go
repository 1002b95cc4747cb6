package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/services/promptbuilder"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 4000
)

// Completion reply of the reasoning service.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Usage token accounting of one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatibleClient chat completion client for OpenAI-compatible APIs.
// Every call makes a single attempt; callers own the retry policy.
type OpenAICompatibleClient struct {
	apiURL     string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewOpenAICompatibleClient creates a new client for OpenAI-compatible APIs
func NewOpenAICompatibleClient(apiURL, apiKey, model string) *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		apiURL:    apiURL,
		apiKey:    apiKey,
		model:     model,
		maxTokens: defaultMaxTokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Model returns the configured model name.
func (c *OpenAICompatibleClient) Model() string {
	return c.model
}

type chatRequest struct {
	Model          string                  `json:"model"`
	Messages       []promptbuilder.Message `json:"messages"`
	Temperature    float64                 `json:"temperature"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat          `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Index        int                   `json:"index"`
	Message      promptbuilder.Message `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Complete sends the messages and requests a JSON object reply.
// Network failures, non-200 statuses and empty replies wrap domain.ErrTransient.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, messages []promptbuilder.Message) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, errors.New("LLM API key is empty")
	}

	reqBody := chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    0,
		MaxTokens:      c.maxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return Completion{}, errors.Wrap(err, "failed to create HTTP request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, errors.Wrapf(domain.ErrTransient, "HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, errors.Wrapf(domain.ErrTransient, "failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Completion{}, errors.Wrapf(domain.ErrTransient, "LLM API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return Completion{}, errors.Wrapf(domain.ErrTransient, "failed to unmarshal response: %v", err)
	}

	if chatResp.Error != nil {
		return Completion{}, errors.Wrapf(domain.ErrTransient, "LLM API error: %s (type: %s, code: %v)",
			chatResp.Error.Message, chatResp.Error.Type, chatResp.Error.Code)
	}

	if len(chatResp.Choices) == 0 {
		return Completion{}, errors.Wrap(domain.ErrTransient, "LLM API returned no choices")
	}

	model := chatResp.Model
	if model == "" {
		model = c.model
	}

	return Completion{
		Content: chatResp.Choices[0].Message.Content,
		Model:   model,
		Usage:   chatResp.Usage,
	}, nil
}
