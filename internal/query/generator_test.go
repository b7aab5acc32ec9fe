package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/telemetry"
	"github.com/kyleking/askdb/internal/types"
)

type MockLLMService struct {
	mock.Mock
}

func (m *MockLLMService) GenerateSQL(ctx context.Context, question string, schema types.Schema) (*llm.QueryResponse, error) {
	args := m.Called(ctx, question, schema)
	resp, _ := args.Get(0).(*llm.QueryResponse)

	return resp, args.Error(1)
}

func (m *MockLLMService) Configure(config llm.Config) error {
	return m.Called(config).Error(0)
}

var schema = types.Schema{Tables: []types.Table{{Name: "orders", Columns: []types.Column{{Name: "order_id", Type: "INTEGER"}}}}}

func TestLLMParser_Parse(t *testing.T) {
	tests := []struct {
		name     string
		question string
		response *llm.QueryResponse
		llmErr   error
		want     *ParsedQuery
		wantMsg  string
	}{
		{
			name:     "successful generation",
			question: "  How many orders?  ",
			response: &llm.QueryResponse{SQL: " SELECT COUNT(*) FROM orders ", Rationale: "count"},
			want:     &ParsedQuery{Question: "How many orders?", SQL: "SELECT COUNT(*) FROM orders", Rationale: "count"},
		},
		{
			name:     "blank sql",
			question: "How many orders?",
			response: &llm.QueryResponse{SQL: "   ", Rationale: "unsure"},
			wantMsg:  "Model response missing SQL",
		},
		{
			name:     "service error passes through",
			question: "How many orders?",
			llmErr:   errors.New(errors.ErrTypeLLM, "Model returned empty response"),
			wantMsg:  "Model returned empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockLLMService{}
			svc.On("GenerateSQL", mock.Anything, mock.AnythingOfType("string"), schema).Return(tt.response, tt.llmErr)

			got, err := NewLLMParser(svc).Parse(context.Background(), tt.question, schema)
			if tt.wantMsg != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantMsg, errors.Message(err))
				assert.True(t, errors.IsType(err, errors.ErrTypeLLM))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			svc.AssertCalled(t, "GenerateSQL", mock.Anything, "How many orders?", schema)
		})
	}
}

func TestLLMParser_BlankQuestion(t *testing.T) {
	svc := &MockLLMService{}

	_, err := NewLLMParser(svc).Parse(context.Background(), " \t", schema)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	svc.AssertNotCalled(t, "GenerateSQL", mock.Anything, mock.Anything, mock.Anything)
}

func TestLLMParser_RecordsMetrics(t *testing.T) {
	reg := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	svc := &MockLLMService{}
	svc.On("GenerateSQL", mock.Anything, mock.Anything, mock.Anything).
		Return(&llm.QueryResponse{SQL: ""}, nil)

	_, err := NewLLMParser(svc, WithMetrics(metrics, "openai")).Parse(context.Background(), "q", schema)
	require.Error(t, err)

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)

	var labels []string

	for _, f := range families {
		if f.GetName() != "askdb_llm_requests_total" {
			continue
		}

		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
		}
	}

	assert.ElementsMatch(t, []string{"provider=openai", "result=missing_sql"}, labels)
}
