// Package mcp serves the protocol tools to MCP hosts as JSON-RPC 2.0 over
// newline-delimited stdio.
package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"slices"

	"go.lsp.dev/jsonrpc2"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/telemetry"
)

// ProtocolVersion is the newest MCP revision this server speaks.
const ProtocolVersion = "2025-06-18"

var supportedVersions = []string{ProtocolVersion, "2025-03-26", "2024-11-05"}

const instructions = "Expose access to the analytics database. run_query and describe_schema are " +
	"read-only; mutation tools are listed only when the server allows them."

// Server answers MCP requests with the gateway tools.
type Server struct {
	tools          *gateway.Tools
	defs           map[string]toolDef
	order          []string
	allowMutations bool
	name           string
	version        string
	metrics        *telemetry.Metrics
	logger         *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMutations exposes create_table, insert_row, update_rows and delete_rows.
func WithMutations(allow bool) Option {
	return func(s *Server) { s.allowMutations = allow }
}

// WithServerInfo sets the name and version reported by initialize.
func WithServerInfo(name, version string) Option {
	return func(s *Server) {
		s.name = name
		s.version = version
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer returns a server for tools.
func NewServer(tools *gateway.Tools, opts ...Option) *Server {
	s := &Server{
		tools:   tools,
		defs:    map[string]toolDef{},
		name:    "analytics-sqlite",
		version: "dev",
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = telemetry.Noop()
	}

	if s.logger == nil {
		s.logger = logging.GetLogger()
	}

	for _, def := range toolDefs() {
		if def.mutating && !s.allowMutations {
			continue
		}

		s.defs[def.Name] = def
		s.order = append(s.order, def.Name)
	}

	return s
}

// Serve handles requests from in until in is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	conn := jsonrpc2.NewConn(NewLineStream(in, out, s.logger))
	conn.Go(ctx, s.Handle)

	s.logger.Infof("MCP server %s ready with %d tools", s.name, len(s.order))

	select {
	case <-ctx.Done():
		return conn.Close()
	case <-conn.Done():
	}

	if err := conn.Err(); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}

	return nil
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Instructions    string         `json:"instructions"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallToolResult is the tools/call result. Tool failures are reported here
// with IsError set rather than as JSON-RPC errors.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Content is a text content block.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Handle dispatches one request. It is a jsonrpc2.Handler.
func (s *Server) Handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	log := s.logger.WithField("method", req.Method())
	log.Debug("request")

	switch req.Method() {
	case "initialize":
		var params initializeParams
		if err := json.Unmarshal(orEmpty(req.Params()), &params); err != nil {
			return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error()))
		}

		log.WithField("client", params.ClientInfo.Name).Info("client connected")

		return reply(ctx, s.initialize(params), nil)
	case "notifications/initialized", "notifications/cancelled":
		return reply(ctx, nil, nil)
	case "ping":
		return reply(ctx, struct{}{}, nil)
	case "tools/list":
		return reply(ctx, s.listTools(), nil)
	case "tools/call":
		result, err := s.callTool(ctx, req.Params())
		if err != nil {
			return reply(ctx, nil, err)
		}

		return reply(ctx, result, nil)
	default:
		return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, "method not found: "+req.Method()))
	}
}

func (s *Server) initialize(params initializeParams) initializeResult {
	version := ProtocolVersion
	if slices.Contains(supportedVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	return initializeResult{
		ProtocolVersion: version,
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
		Instructions:    instructions,
	}
}

func (s *Server) listTools() listToolsResult {
	tools := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		tools = append(tools, s.defs[name].Tool)
	}

	return listToolsResult{Tools: tools}
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
	var params callToolParams
	if err := json.Unmarshal(orEmpty(raw), &params); err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	}

	def, ok := s.defs[params.Name]
	if !ok {
		return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, "unknown tool: "+params.Name)
	}

	log := s.logger.WithField("tool", params.Name)

	value, err := def.run(ctx, s.tools, params.Arguments)
	if err != nil {
		s.metrics.ToolCalls.With(params.Name, "error").Inc()
		log.WithError(err).Info("tool call failed")

		return textResult(errors.Message(err), true), nil
	}

	s.metrics.ToolCalls.With(params.Name, "ok").Inc()

	if text, ok := value.(string); ok {
		return textResult(text, false), nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.InternalError, fmt.Sprintf("encoding %s result: %v", params.Name, err))
	}

	return textResult(string(data), false), nil
}

func textResult(text string, isError bool) *CallToolResult {
	return &CallToolResult{Content: []Content{{Type: "text", Text: text}}, IsError: isError}
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}

	return raw
}
