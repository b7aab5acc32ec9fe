package llm

import (
	"context"
	stderrors "errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/types"
)

// Manager routes generation requests to a default provider, retrying transient
// failures and then trying any fallback providers in order.
type Manager struct {
	providers map[string]Service
	config    ManagerConfig
	logger    *logging.Logger
}

// ManagerConfig configures the LLM manager behavior
type ManagerConfig struct {
	DefaultProvider   string        `json:"default_provider"`
	FallbackProviders []string      `json:"fallback_providers"`
	RetryAttempts     int           `json:"retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	Timeout           time.Duration `json:"timeout"`
}

// DefaultManagerConfig returns a sensible default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultProvider: ProviderOpenAI,
		RetryAttempts:   2,
		RetryDelay:      2 * time.Second,
		Timeout:         2 * time.Minute,
	}
}

// NewManager creates a new LLM manager with the given configuration
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		providers: make(map[string]Service),
		config:    config,
		logger:    logging.GetLogger().WithField("component", "llm"),
	}
}

// NewService builds a manager around an HTTP client for cfg's provider plus
// one client per configured fallback, registered as provider:model.
func NewService(cfg config.LLMConfig, opts ...ClientOption) (*Manager, error) {
	provider := strings.ToLower(cfg.Provider)
	opts = append([]ClientOption{WithTimeout(cfg.TimeoutDuration())}, opts...)

	client, err := newConfiguredClient(Config{
		Provider:    provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
	}, opts)
	if err != nil {
		return nil, err
	}

	mc := DefaultManagerConfig()
	mc.DefaultProvider = provider
	mc.RetryAttempts = cfg.RetryAttempts
	mc.Timeout = cfg.TimeoutDuration()

	m := NewManager(mc)
	if err := m.RegisterProvider(provider, client); err != nil {
		return nil, err
	}

	for _, fb := range cfg.Fallbacks() {
		fc := Config{
			Provider:    fb.Provider,
			Model:       fb.Model,
			APIKey:      cfg.KeyFor(fb.Provider),
			Temperature: cfg.Temperature,
		}
		if fb.Provider == provider {
			fc.BaseURL = cfg.BaseURL
		}

		client, err := newConfiguredClient(fc, opts)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeConfig, "fallback provider %s", fb.Provider)
		}

		name := fb.Provider + ":" + fb.Model
		if err := m.RegisterProvider(name, client); err != nil {
			return nil, err
		}

		m.config.FallbackProviders = append(m.config.FallbackProviders, name)
	}

	return m, nil
}

func newConfiguredClient(cfg Config, opts []ClientOption) (*Client, error) {
	client := NewClient(Config{}, opts...)
	if err := client.Configure(cfg); err != nil {
		return nil, err
	}

	return client, nil
}

// RegisterProvider registers a new LLM provider
func (m *Manager) RegisterProvider(name string, service Service) error {
	if name == "" {
		return errors.New(errors.ErrTypeValidation, "provider name cannot be empty")
	}

	if service == nil {
		return errors.New(errors.ErrTypeValidation, "service cannot be nil")
	}

	m.providers[name] = service

	return nil
}

// Configure configures a specific provider
func (m *Manager) Configure(config Config) error {
	provider, exists := m.providers[config.Provider]
	if !exists {
		return errors.Newf(errors.ErrTypeNotFound, "provider %s not registered", config.Provider)
	}

	return provider.Configure(config)
}

// GenerateSQL tries the default provider and then each fallback provider
func (m *Manager) GenerateSQL(ctx context.Context, question string, schema types.Schema) (*QueryResponse, error) {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	order := append([]string{m.config.DefaultProvider}, m.config.FallbackProviders...)

	var lastErr error

	for _, name := range order {
		provider, exists := m.providers[name]
		if !exists {
			continue
		}

		response, err := m.tryProvider(ctx, provider, question, schema)
		if err == nil {
			return response, nil
		}

		lastErr = err

		m.logger.WithError(err).Warnf("provider %s failed", name)

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		return nil, errors.New(errors.ErrTypeConfig, "no LLM provider registered")
	}

	var structErr *errors.Error
	if stderrors.As(lastErr, &structErr) {
		return nil, lastErr
	}

	return nil, errors.Wrap(lastErr, errors.ErrTypeLLM, "SQL generation failed")
}

// tryProvider retries transient failures with a fixed delay
func (m *Manager) tryProvider(
	ctx context.Context,
	provider Service,
	question string,
	schema types.Schema,
) (*QueryResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.config.RetryDelay):
			}
		}

		response, err := provider.GenerateSQL(ctx, question, schema)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			break
		}

		m.logger.Debugf("retrying after attempt %d: %v", attempt+1, err)
	}

	return nil, lastErr
}

func retryable(err error) bool {
	if !errors.Retryable(err) {
		return false
	}

	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var urlErr *url.Error

	return stderrors.As(err, &urlErr) && !urlErr.Timeout()
}

// GetAvailableProviders returns the registered provider names, sorted
func (m *Manager) GetAvailableProviders() []string {
	providers := make([]string, 0, len(m.providers))
	for name := range m.providers {
		providers = append(providers, name)
	}

	sort.Strings(providers)

	return providers
}

// IsProviderRegistered checks if a provider is registered
func (m *Manager) IsProviderRegistered(name string) bool {
	_, exists := m.providers[name]
	return exists
}
