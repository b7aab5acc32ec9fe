package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/types"
)

// Client implements the Service interface with multiple provider support
type Client struct {
	config     Config
	httpClient *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config Config, opts ...ClientOption) *Client {
	c := &Client{
		config: withDefaults(config),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Configure validates and installs a new configuration
func (c *Client) Configure(config Config) error {
	if config.Provider == "" {
		return errors.New(errors.ErrTypeConfig, "provider is required")
	}

	if config.Model == "" {
		return errors.New(errors.ErrTypeConfig, "model is required")
	}

	switch config.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if config.APIKey == "" {
			return errors.NewConfigError("API key is required for "+config.Provider+" provider", "llm.api_key")
		}
	case ProviderOllama:
	default:
		return errors.Newf(errors.ErrTypeConfig, "unsupported provider: %s", config.Provider)
	}

	c.config = withDefaults(config)

	return nil
}

func withDefaults(config Config) Config {
	if config.BaseURL != "" {
		config.BaseURL = strings.TrimRight(config.BaseURL, "/")
		return config
	}

	switch config.Provider {
	case ProviderOpenAI:
		config.BaseURL = DefaultOpenAIBaseURL
	case ProviderAnthropic:
		config.BaseURL = DefaultAnthropicBaseURL
	case ProviderOllama:
		config.BaseURL = DefaultOllamaBaseURL
	}

	return config
}

// GenerateSQL asks the configured model for a query answering question
func (c *Client) GenerateSQL(ctx context.Context, question string, schema types.Schema) (*QueryResponse, error) {
	if c.config.Provider == "" {
		return nil, errors.New(errors.ErrTypeConfig, "LLM client not configured")
	}

	prompt := BuildUserPrompt(question, schema)

	var (
		content string
		err     error
	)

	switch c.config.Provider {
	case ProviderOpenAI:
		content, err = c.completeOpenAI(ctx, prompt)
	case ProviderAnthropic:
		content, err = c.completeAnthropic(ctx, prompt)
	case ProviderOllama:
		content, err = c.completeOllama(ctx, prompt)
	default:
		return nil, errors.Newf(errors.ErrTypeConfig, "unsupported provider: %s", c.config.Provider)
	}

	if err != nil {
		return nil, err
	}

	return decodeQueryResponse(content)
}

// decodeQueryResponse parses the model's JSON object. Some providers wrap it in
// a markdown code fence even when asked not to.
func decodeQueryResponse(content string) (*QueryResponse, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New(errors.ErrTypeLLM, "Model returned empty response")
	}

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var resp QueryResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to parse model JSON")
	}

	resp.SQL = strings.TrimSpace(resp.SQL)
	resp.Rationale = strings.TrimSpace(resp.Rationale)

	return &resp, nil
}

// APIError is a non-200 answer from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// OpenAI API structures
type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model: c.config.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    c.config.Temperature,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}

	respBody, err := c.post(ctx, ProviderOpenAI, "/chat/completions", headers, reqBody)
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeLLM, "failed to parse OpenAI response")
	}

	if response.Error != nil {
		return "", errors.Newf(errors.ErrTypeLLM, "OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", errors.New(errors.ErrTypeLLM, "Model returned empty response")
	}

	return response.Choices[0].Message.Content, nil
}

// Anthropic API structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) completeAnthropic(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   1024,
		System:      SystemPrompt,
		Temperature: c.config.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	headers := map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	}

	respBody, err := c.post(ctx, ProviderAnthropic, "/messages", headers, reqBody)
	if err != nil {
		return "", err
	}

	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeLLM, "failed to parse Anthropic response")
	}

	if response.Error != nil {
		return "", errors.Newf(errors.ErrTypeLLM, "Anthropic API error: %s", response.Error.Message)
	}

	for _, block := range response.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", errors.New(errors.ErrTypeLLM, "Model returned empty response")
}

// Ollama API structures
type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) completeOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:   c.config.Model,
		Prompt:  prompt,
		System:  SystemPrompt,
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": c.config.Temperature},
	}

	respBody, err := c.post(ctx, ProviderOllama, "/api/generate", nil, reqBody)
	if err != nil {
		return "", err
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeLLM, "failed to parse Ollama response")
	}

	if response.Error != "" {
		return "", errors.Newf(errors.ErrTypeLLM, "Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

// post sends a JSON request and returns the raw 200 response body
func (c *Client) post(
	ctx context.Context,
	provider, endpoint string,
	headers map[string]string,
	reqBody any,
) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeInternal, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeInternal, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to make request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
