package query

import (
	"context"
	"strings"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/telemetry"
	"github.com/kyleking/askdb/internal/types"
)

// LLMParser turns questions into SQL using an LLM service
type LLMParser struct {
	llmService llm.Service
	metrics    *telemetry.Metrics
	provider   string
}

// Option configures an LLMParser
type Option func(*LLMParser)

// WithMetrics records generation results under provider
func WithMetrics(m *telemetry.Metrics, provider string) Option {
	return func(p *LLMParser) {
		p.metrics = m
		p.provider = provider
	}
}

// NewLLMParser creates a new LLM-based query parser
func NewLLMParser(llmService llm.Service, opts ...Option) *LLMParser {
	p := &LLMParser{llmService: llmService, metrics: telemetry.Noop(), provider: "unknown"}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Parse asks the model for SQL answering question over schema. The SQL is
// returned as text; policy is applied when it runs, not here.
func (p *LLMParser) Parse(ctx context.Context, question string, schema types.Schema) (*ParsedQuery, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New(errors.ErrTypeValidation, "Question is required.")
	}

	logging.WithFields(map[string]any{"question": question, "tables": len(schema.Tables)}).
		Debug("generating SQL")

	response, err := p.llmService.GenerateSQL(ctx, question, schema)
	if err != nil {
		p.metrics.LLMRequests.With(p.provider, "error").Inc()
		return nil, err
	}

	if strings.TrimSpace(response.SQL) == "" {
		p.metrics.LLMRequests.With(p.provider, "missing_sql").Inc()
		return nil, errors.New(errors.ErrTypeLLM, "Model response missing SQL")
	}

	p.metrics.LLMRequests.With(p.provider, "ok").Inc()

	return &ParsedQuery{
		Question:  question,
		SQL:       strings.TrimSpace(response.SQL),
		Rationale: response.Rationale,
	}, nil
}
