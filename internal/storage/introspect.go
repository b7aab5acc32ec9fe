package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/types"
)

const sqliteTablesQuery = `SELECT name FROM sqlite_master
	WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	ORDER BY name`

// information_schema variant shared by DuckDB, PostgreSQL and MySQL; the
// placeholder selects the schema expression per engine.
const infoSchemaColumnsQuery = `SELECT table_name, column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = %s
	ORDER BY table_name, ordinal_position`

// Introspect summarizes the user tables visible on s. It reads the catalog on
// every call.
func Introspect(ctx context.Context, s Session) (types.Schema, error) {
	switch s.Driver() {
	case DriverSQLite:
		return introspectSQLite(ctx, s)
	case DriverDuckDB:
		return introspectInfoSchema(ctx, s, "'main'")
	case DriverPostgres:
		return introspectInfoSchema(ctx, s, "current_schema()")
	case DriverMySQL:
		return introspectInfoSchema(ctx, s, "DATABASE()")
	default:
		return types.Schema{}, fmt.Errorf("schema introspection not supported for driver %s", s.Driver())
	}
}

func introspectSQLite(ctx context.Context, conn sqlexec.Conn) (types.Schema, error) {
	rows, err := conn.QueryContext(ctx, sqliteTablesQuery)
	if err != nil {
		return types.Schema{}, fmt.Errorf("failed to list tables: %w", err)
	}

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return types.Schema{}, fmt.Errorf("failed to scan table name: %w", err)
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return types.Schema{}, err
	}

	_ = rows.Close()

	schema := types.Schema{Tables: make([]types.Table, 0, len(names))}

	for _, name := range names {
		cols, err := sqliteColumns(ctx, conn, name)
		if err != nil {
			return types.Schema{}, err
		}

		schema.Tables = append(schema.Tables, types.Table{Name: name, Columns: cols})
	}

	return schema, nil
}

func sqliteColumns(ctx context.Context, conn sqlexec.Conn, table string) ([]types.Column, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA table_info("+QuoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []types.Column

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    any
			pk      int
		)

		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}

		cols = append(cols, types.Column{Name: name, Type: colType})
	}

	return cols, rows.Err()
}

func introspectInfoSchema(ctx context.Context, conn sqlexec.Conn, schemaExpr string) (types.Schema, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(infoSchemaColumnsQuery, schemaExpr))
	if err != nil {
		return types.Schema{}, fmt.Errorf("failed to read information_schema: %w", err)
	}
	defer rows.Close()

	var schema types.Schema

	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return types.Schema{}, fmt.Errorf("failed to scan column: %w", err)
		}

		n := len(schema.Tables)
		if n == 0 || schema.Tables[n-1].Name != table {
			schema.Tables = append(schema.Tables, types.Table{Name: table})
			n++
		}

		schema.Tables[n-1].Columns = append(schema.Tables[n-1].Columns,
			types.Column{Name: column, Type: dataType})
	}

	return schema, rows.Err()
}

// QuoteIdent double-quotes an identifier, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
