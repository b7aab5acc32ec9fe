package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/sqlexec"
)

// Tool is a tools/list entry.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolFunc func(ctx context.Context, t *gateway.Tools, args json.RawMessage) (any, error)

type toolDef struct {
	Tool
	mutating bool
	run      toolFunc
}

// TableSummary is one describe_schema entry: a table and its columns rendered
// as "name (type), ...".
type TableSummary struct {
	Table   string `json:"table"`
	Columns string `json:"columns"`
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

var (
	stringProp = map[string]any{"type": "string"}
	objectProp = map[string]any{"type": "object"}
	paramsProp = map[string]any{"type": "array", "description": "Values bound to ? placeholders in where."}
)

func toolDefs() []toolDef {
	return []toolDef{
		{
			Tool: Tool{
				Name:        "describe_schema",
				Description: "Return a summary of available tables and columns.",
				InputSchema: objectSchema(nil, map[string]any{}),
			},
			run: describeSchema,
		},
		{
			Tool: Tool{
				Name:        "run_query",
				Description: "Execute a single read-only SQL statement against the analytics DB.",
				InputSchema: objectSchema([]string{"sql"}, map[string]any{"sql": stringProp}),
			},
			run: runQuery("sql"),
		},
		{
			Tool: Tool{
				Name:        "run_sql",
				Description: "Execute a read-only SQL query against the analytics DB.",
				InputSchema: objectSchema([]string{"query"}, map[string]any{"query": stringProp}),
			},
			run: runQuery("query"),
		},
		{
			Tool: Tool{
				Name:        "create_table",
				Description: "Run exactly one CREATE TABLE statement.",
				InputSchema: objectSchema([]string{"schema_sql"}, map[string]any{"schema_sql": stringProp}),
			},
			mutating: true,
			run:      createTable,
		},
		{
			Tool: Tool{
				Name:        "insert_row",
				Description: "Insert one row into a table.",
				InputSchema: objectSchema([]string{"table", "column_values"}, map[string]any{
					"table":         stringProp,
					"column_values": objectProp,
				}),
			},
			mutating: true,
			run:      insertRow,
		},
		{
			Tool: Tool{
				Name:        "update_rows",
				Description: "Set columns on the rows matching a where clause.",
				InputSchema: objectSchema([]string{"table", "column_values", "where"}, map[string]any{
					"table":         stringProp,
					"column_values": objectProp,
					"where":         stringProp,
					"params":        paramsProp,
				}),
			},
			mutating: true,
			run:      updateRows,
		},
		{
			Tool: Tool{
				Name:        "delete_rows",
				Description: "Delete the rows matching a where clause.",
				InputSchema: objectSchema([]string{"table", "where"}, map[string]any{
					"table":  stringProp,
					"where":  stringProp,
					"params": paramsProp,
				}),
			},
			mutating: true,
			run:      deleteRows,
		},
	}
}

func describeSchema(ctx context.Context, t *gateway.Tools, _ json.RawMessage) (any, error) {
	schema, err := t.DescribeSchema(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]TableSummary, 0, len(schema.Tables))

	for _, tbl := range schema.Tables {
		cols := make([]string, 0, len(tbl.Columns))
		for _, c := range tbl.Columns {
			cols = append(cols, c.Name+" ("+c.Type+")")
		}

		out = append(out, TableSummary{Table: tbl.Name, Columns: strings.Join(cols, ", ")})
	}

	return out, nil
}

func runQuery(field string) toolFunc {
	return func(ctx context.Context, t *gateway.Tools, raw json.RawMessage) (any, error) {
		var args map[string]any
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}

		sql, _ := args[field].(string)

		rs, err := t.RunQuery(ctx, sql)
		if err != nil {
			return nil, err
		}

		if rs.Rows == nil {
			return []sqlexec.Row{}, nil
		}

		return rs.Rows, nil
	}
}

func createTable(ctx context.Context, t *gateway.Tools, raw json.RawMessage) (any, error) {
	var args struct {
		SchemaSQL string `json:"schema_sql"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	return t.CreateTable(ctx, args.SchemaSQL)
}

type mutationArgs struct {
	Table        string         `json:"table"`
	ColumnValues map[string]any `json:"column_values"`
	Where        string         `json:"where"`
	Params       []any          `json:"params"`
}

func (a *mutationArgs) normalize() {
	for k, v := range a.ColumnValues {
		a.ColumnValues[k] = normalizeNumber(v)
	}

	for i, v := range a.Params {
		a.Params[i] = normalizeNumber(v)
	}
}

func insertRow(ctx context.Context, t *gateway.Tools, raw json.RawMessage) (any, error) {
	var args mutationArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	args.normalize()

	return t.InsertRow(ctx, args.Table, args.ColumnValues)
}

func updateRows(ctx context.Context, t *gateway.Tools, raw json.RawMessage) (any, error) {
	var args mutationArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	args.normalize()

	return t.UpdateRows(ctx, args.Table, args.ColumnValues, args.Where, args.Params)
}

func deleteRows(ctx context.Context, t *gateway.Tools, raw json.RawMessage) (any, error) {
	var args mutationArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	args.normalize()

	return t.DeleteRows(ctx, args.Table, args.Where, args.Params)
}

// decodeArgs decodes tool arguments keeping numbers as json.Number. Missing
// arguments decode as an empty object.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "invalid tool arguments")
	}

	return nil
}

// normalizeNumber binds integral JSON numbers as int64 and the rest as float64.
func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}

	if i, err := n.Int64(); err == nil {
		return i
	}

	if f, err := n.Float64(); err == nil {
		return f
	}

	return n.String()
}
