package llm

import (
	"context"

	"github.com/kyleking/askdb/internal/types"
)

// Service turns a natural-language question into SQL over a schema summary
type Service interface {
	GenerateSQL(ctx context.Context, question string, schema types.Schema) (*QueryResponse, error)
	Configure(config Config) error
}

// Config represents LLM service configuration
type Config struct {
	Provider    string  `json:"provider"` // openai, anthropic, ollama
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Temperature float64 `json:"temperature"`
}

// QueryResponse is the JSON object the model is asked to return
type QueryResponse struct {
	SQL       string `json:"sql"`
	Rationale string `json:"rationale"`
}

// Provider constants for different LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Default endpoints per provider
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	DefaultOllamaBaseURL    = "http://localhost:11434"
)
