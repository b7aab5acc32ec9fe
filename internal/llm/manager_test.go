package llm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/types"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) GenerateSQL(ctx context.Context, question string, schema types.Schema) (*QueryResponse, error) {
	args := m.Called(ctx, question, schema)
	resp, _ := args.Get(0).(*QueryResponse)

	return resp, args.Error(1)
}

func (m *mockService) Configure(config Config) error {
	return m.Called(config).Error(0)
}

func testManager(retries int, fallbacks ...string) *Manager {
	return NewManager(ManagerConfig{
		DefaultProvider:   ProviderOpenAI,
		FallbackProviders: fallbacks,
		RetryAttempts:     retries,
		RetryDelay:        time.Millisecond,
	})
}

func TestManager_RetriesTransientFailures(t *testing.T) {
	svc := &mockService{}
	svc.On("GenerateSQL", mock.Anything, "q", mock.Anything).
		Return(nil, &APIError{Provider: ProviderOpenAI, StatusCode: http.StatusServiceUnavailable}).Once()
	svc.On("GenerateSQL", mock.Anything, "q", mock.Anything).
		Return(&QueryResponse{SQL: "SELECT 1"}, nil).Once()

	m := testManager(2)
	require.NoError(t, m.RegisterProvider(ProviderOpenAI, svc))

	resp, err := m.GenerateSQL(context.Background(), "q", types.Schema{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.SQL)
	svc.AssertNumberOfCalls(t, "GenerateSQL", 2)
}

func TestManager_DoesNotRetryClientErrors(t *testing.T) {
	svc := &mockService{}
	svc.On("GenerateSQL", mock.Anything, "q", mock.Anything).
		Return(nil, &APIError{Provider: ProviderOpenAI, StatusCode: http.StatusUnauthorized, Body: "bad key"})

	m := testManager(3)
	require.NoError(t, m.RegisterProvider(ProviderOpenAI, svc))

	_, err := m.GenerateSQL(context.Background(), "q", types.Schema{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeLLM))
	assert.Contains(t, err.Error(), "status 401")
	svc.AssertNumberOfCalls(t, "GenerateSQL", 1)
}

func TestManager_FallsBackToNextProvider(t *testing.T) {
	primary := &mockService{}
	primary.On("GenerateSQL", mock.Anything, "q", mock.Anything).
		Return(nil, errors.New(errors.ErrTypeLLM, "Model returned empty response"))

	secondary := &mockService{}
	secondary.On("GenerateSQL", mock.Anything, "q", mock.Anything).
		Return(&QueryResponse{SQL: "SELECT 2"}, nil)

	m := testManager(0, ProviderOllama)
	require.NoError(t, m.RegisterProvider(ProviderOpenAI, primary))
	require.NoError(t, m.RegisterProvider(ProviderOllama, secondary))

	resp, err := m.GenerateSQL(context.Background(), "q", types.Schema{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", resp.SQL)
	assert.Equal(t, []string{ProviderOllama, ProviderOpenAI}, m.GetAvailableProviders())
}

func TestManager_StructuredErrorsPassThrough(t *testing.T) {
	svc := &mockService{}
	svc.On("GenerateSQL", mock.Anything, "q", mock.Anything).
		Return(nil, errors.New(errors.ErrTypeLLM, "Model returned empty response"))

	m := testManager(0)
	require.NoError(t, m.RegisterProvider(ProviderOpenAI, svc))

	_, err := m.GenerateSQL(context.Background(), "q", types.Schema{})
	assert.Equal(t, "Model returned empty response", errors.Message(err))
}

func TestManager_NoProviders(t *testing.T) {
	_, err := testManager(0).GenerateSQL(context.Background(), "q", types.Schema{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestManager_RegisterProviderValidation(t *testing.T) {
	m := testManager(0)

	assert.Error(t, m.RegisterProvider("", &mockService{}))
	assert.Error(t, m.RegisterProvider("x", nil))
	assert.False(t, m.IsProviderRegistered("x"))
}

func TestManager_ConfigureUnknownProvider(t *testing.T) {
	err := testManager(0).Configure(Config{Provider: ProviderAnthropic})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestNewServiceFromConfig(t *testing.T) {
	m, err := NewService(config.LLMConfig{Provider: "OpenAI", Model: "gpt-4o-mini", APIKey: "k", Timeout: "10s", RetryAttempts: 1})
	require.NoError(t, err)
	assert.True(t, m.IsProviderRegistered(ProviderOpenAI))
	assert.Equal(t, 10*time.Second, m.config.Timeout)
	assert.Equal(t, 1, m.config.RetryAttempts)

	_, err = NewService(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", Timeout: "10s"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig), "missing key must be a config error")
}

func TestNewServiceRegistersFallbacks(t *testing.T) {
	m, err := NewService(config.LLMConfig{
		Provider:          "openai",
		Model:             "gpt-4o-mini",
		APIKey:            "k",
		Timeout:           "10s",
		FallbackProviders: []string{"anthropic:claude-3-5-haiku-latest", "ollama:llama3"},
		APIKeys:           map[string]string{"anthropic": "ak"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"anthropic:claude-3-5-haiku-latest", "ollama:llama3"}, m.config.FallbackProviders)
	assert.Equal(t, []string{"anthropic:claude-3-5-haiku-latest", "ollama:llama3", ProviderOpenAI}, m.GetAvailableProviders())

	_, err = NewService(config.LLMConfig{
		Provider:          "openai",
		Model:             "gpt-4o-mini",
		APIKey:            "k",
		Timeout:           "10s",
		FallbackProviders: []string{"anthropic:claude-3-5-haiku-latest"},
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig), "fallback without a key must be a config error")
}

