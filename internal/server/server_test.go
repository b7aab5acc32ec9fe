package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/connectors"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/telemetry"
	"github.com/kyleking/askdb/internal/types"
)

type stubGenerator struct {
	mock.Mock
}

func (m *stubGenerator) Parse(ctx context.Context, question string, schema types.Schema) (*query.ParsedQuery, error) {
	args := m.Called(ctx, question, schema)
	if parsed, ok := args.Get(0).(*query.ParsedQuery); ok {
		return parsed, args.Error(1)
	}

	return nil, args.Error(1)
}

type fixture struct {
	server    *Server
	handler   http.Handler
	store     *connectors.Store
	generator *stubGenerator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	gen := &stubGenerator{}
	orch := gateway.NewOrchestrator(
		storage.NewConnector(storage.NewSeededTestDB(t)),
		gateway.WithGenerator(gen),
	)
	store := connectors.NewStore(t.TempDir(), "")
	srv := New(orch, store, opts...)

	return &fixture{server: srv, handler: srv.Routes(), store: store, generator: gen}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}

	return rec, decoded
}

func firstResultSet(t *testing.T, body map[string]any) map[string]any {
	t.Helper()

	sets, ok := body["result_sets"].([]any)
	require.True(t, ok, "result_sets missing: %v", body)
	require.NotEmpty(t, sets)

	return sets[0].(map[string]any)
}

func TestHealthzAndRequestID(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestQueryRequiresQuestion(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{"question": "   "}`, `{}`, ``} {
		rec, decoded := f.do(t, http.MethodPost, "/api/query", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Question is required.", decoded["error"], body)
	}

	f.generator.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryAnswersQuestion(t *testing.T) {
	f := newFixture(t)

	f.generator.On("Parse", mock.Anything, "How many customers per region?", mock.MatchedBy(func(s types.Schema) bool {
		_, ok := s.Table("customers")
		return ok
	})).Return(&query.ParsedQuery{
		Question:  "How many customers per region?",
		SQL:       "SELECT region, COUNT(*) AS n FROM customers GROUP BY region ORDER BY region",
		Rationale: "Group by region.",
	}, nil)

	rec, body := f.do(t, http.MethodPost, "/api/query", `{"question": "  How many customers per region?  "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "How many customers per region?", body["question"])
	assert.Equal(t, "Group by region.", body["rationale"])

	rs := firstResultSet(t, body)
	assert.Equal(t, "rows", rs["type"])
	assert.Equal(t, []any{"region", "n"}, rs["columns"])
	assert.InDelta(t, 5, rs["row_count"], 0)

	f.generator.AssertExpectations(t)
}

func TestQueryGeneratorFailureIs500(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Parse", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	rec, body := f.do(t, http.MethodPost, "/api/query", `{"question": "anything"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, assert.AnError.Error(), body["error"])
}

func TestSQLRestrictedDeniesMutation(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/sql", `{"sql": "DROP TABLE customers; SELECT 1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	sets := body["result_sets"].([]any)
	require.Len(t, sets, 1, "fail-fast stops after the denial")
	assert.Equal(t, "denied", sets[0].(map[string]any)["type"])

	_, body = f.do(t, http.MethodPost, "/api/sql", `{"sql": "SELECT COUNT(*) AS n FROM customers"}`)
	rows := firstResultSet(t, body)["rows"].([]any)
	assert.InDelta(t, 150, rows[0].(map[string]any)["n"], 0)
}

func TestSQLDefaultCallerCannotWrite(t *testing.T) {
	f := newFixture(t)

	for _, batch := range []string{
		"PRAGMA query_only = OFF; WITH x AS (SELECT 1) DELETE FROM customers; PRAGMA user_version = 7;",
		"WITH x AS (SELECT 1) DELETE FROM customers",
	} {
		rec, body := f.do(t, http.MethodPost, "/api/sql", `{"sql": "`+batch+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		for _, set := range body["result_sets"].([]any) {
			assert.NotEqual(t, "mutation", set.(map[string]any)["type"], batch)
		}
	}

	_, body := f.do(t, http.MethodPost, "/api/sql", `{"sql": "SELECT COUNT(*) AS n FROM customers"}`)
	rows := firstResultSet(t, body)["rows"].([]any)
	assert.InDelta(t, 150, rows[0].(map[string]any)["n"], 0)

	_, body = f.do(t, http.MethodPost, "/api/sql", `{"sql": "PRAGMA user_version"}`)
	rows = firstResultSet(t, body)["rows"].([]any)
	assert.InDelta(t, 0, rows[0].(map[string]any)["user_version"], 0)
}

func TestSQLTrustedCallerMutates(t *testing.T) {
	f := newFixture(t, WithCaller(sqlexec.Trusted))

	rec, body := f.do(t, http.MethodPost, "/api/sql", `{"sql": "DELETE FROM payments WHERE payment_id <= 3"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rs := firstResultSet(t, body)
	assert.Equal(t, "mutation", rs["type"])
	assert.InDelta(t, 3, rs["affected_rows"], 0)
}

func TestSQLBadInput(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/sql", `{"sql": " ;; "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no SQL to execute", body["error"])
	assert.Equal(t, "empty_input", body["type"])

	rec, body = f.do(t, http.MethodPost, "/api/sql", `{"sql": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", body["error"])
}

func TestSchema(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	for _, tbl := range body["tables"].([]any) {
		names = append(names, tbl.(map[string]any)["name"].(string))
	}

	assert.Equal(t, []string{"customers", "orders", "payments", "products"}, names)
}

func TestMCPConfig(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/mcp", `{"db_path": "  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Database path is required.", body["error"])

	rec, body = f.do(t, http.MethodPost, "/api/mcp", `{"db_path": " ./data/other.db "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "./data/other.db", body["db_path"])

	rec, body = f.do(t, http.MethodGet, "/api/mcp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "./data/other.db", body["db_path"])

	servers := body["config"].(map[string]any)["mcpServers"].(map[string]any)
	assert.Contains(t, servers, connectors.DefaultServerName)
}

func TestConnectorsMergeAndSync(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/connectors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, connectors.SQLite, body["active"])

	rec, body = f.do(t, http.MethodPost, "/api/connectors",
		`{"active": "postgresql", "postgresql": {"host": " db.internal ", "database": "sales"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	pg := body["postgresql"].(map[string]any)
	assert.Equal(t, "db.internal", pg["host"])
	assert.Equal(t, "5432", pg["port"], "fields left out keep their values")

	_, body = f.do(t, http.MethodPost, "/api/connectors", `{"active": ""}`)
	assert.Equal(t, connectors.PostgreSQL, body["active"])

	cfg, err := f.store.LoadMCP()
	require.NoError(t, err)

	env := cfg.Server(f.store.ServerName()).Env
	assert.Equal(t, "postgresql", env["ACTIVE_DB"])
	assert.Equal(t, "db.internal", env["POSTGRESQL_HOST"])
	assert.Equal(t, connectors.DefaultSQLitePath, env["MCP_DB_PATH"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := telemetry.NewRegistry()
	f := newFixture(t, WithTelemetry(reg, telemetry.NewMetrics(reg)))

	f.do(t, http.MethodGet, "/healthz", "")

	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `askdb_http_requests_total{route="/healthz",status="200"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.ServerConfig{Host: "0.0.0.0", Port: 8080, Caller: "trusted"})
	require.NoError(t, err)

	s := New(nil, nil, opts...)
	assert.Equal(t, "0.0.0.0:8080", s.addr)
	assert.Equal(t, sqlexec.Trusted, s.caller)

	_, err = OptionsFromConfig(config.ServerConfig{Port: 1, Caller: "root"})
	assert.Error(t, err)
}
