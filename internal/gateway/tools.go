package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // registers the "sqlite3" dialect
	rqlitesql "github.com/rqlite/sql"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/types"
)

var dialect = goqu.Dialect("sqlite3")

// Tools is the protocol tool surface. Generic SQL runs Restricted; each
// mutation tool builds exactly one parameterized statement and is its own
// policy boundary.
type Tools struct {
	orch *Orchestrator
}

// NewTools exposes o through the tool surface.
func NewTools(o *Orchestrator) *Tools {
	return &Tools{orch: o}
}

// RunQuery runs a single read-only statement and returns its rows.
func (t *Tools) RunQuery(ctx context.Context, sql string) (*sqlexec.RowSet, error) {
	statements := t.orch.splitter.Split(sql)

	switch {
	case len(statements) == 0:
		return nil, errors.NewEmptyInput()
	case len(statements) > 1:
		return nil, errors.NewPolicyDenied(sqlexec.ReasonSingleStatement, strings.TrimSpace(sql))
	}

	stmt := statements[0]
	if t.orch.classifier.Classify(stmt) != sqlexec.ReadOnly {
		return nil, errors.NewPolicyDenied(sqlexec.ReasonReadOnlyOnly, string(stmt))
	}

	outcomes, err := t.orch.Execute(ctx, string(stmt), sqlexec.Restricted)
	if err != nil {
		return nil, err
	}

	switch out := outcomes[0].(type) {
	case *sqlexec.RowSet:
		return out, nil
	case *sqlexec.Denied:
		return nil, errors.NewPolicyDenied(out.Reason, string(out.Statement))
	case *sqlexec.Failed:
		return nil, engineError(out)
	default:
		return nil, errors.Newf(errors.ErrTypeInternal, "unexpected outcome %T", out)
	}
}

// DescribeSchema returns the current schema summary.
func (t *Tools) DescribeSchema(ctx context.Context) (types.Schema, error) {
	return t.orch.DescribeSchema(ctx)
}

// CreateTable runs schemaSQL when it is exactly one CREATE TABLE statement.
func (t *Tools) CreateTable(ctx context.Context, schemaSQL string) (string, error) {
	statements := t.orch.splitter.Split(schemaSQL)
	if len(statements) == 0 {
		return "", errors.NewEmptyInput()
	}

	if len(statements) > 1 || !isCreateTable(statements[0]) {
		return "", errors.NewPolicyDenied(sqlexec.ReasonNotCreateTable, strings.TrimSpace(schemaSQL))
	}

	affected, err := t.mutate(ctx, statements[0], nil)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d row(s) affected", affected), nil
}

// InsertRow inserts one row built from columnValues.
func (t *Tools) InsertRow(ctx context.Context, table string, columnValues map[string]any) (string, error) {
	if err := requireTable(table); err != nil {
		return "", err
	}

	if len(columnValues) == 0 {
		return "", errors.New(errors.ErrTypeValidation, "column_values must contain at least one column")
	}

	sql, args, err := dialect.Insert(table).Rows(goqu.Record(columnValues)).Prepared(true).ToSQL()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeValidation, "failed to build INSERT")
	}

	return t.mutateBuilt(ctx, sql, args)
}

// UpdateRows sets columnValues on the rows matching where.
func (t *Tools) UpdateRows(
	ctx context.Context,
	table string,
	columnValues map[string]any,
	where string,
	params []any,
) (string, error) {
	if err := requireTable(table); err != nil {
		return "", err
	}

	if len(columnValues) == 0 {
		return "", errors.New(errors.ErrTypeValidation, "column_values must contain at least one column")
	}

	if err := requireWhere(where); err != nil {
		return "", err
	}

	sql, args, err := dialect.Update(table).
		Set(goqu.Record(columnValues)).
		Where(goqu.L(where, params...)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeValidation, "failed to build UPDATE")
	}

	return t.mutateBuilt(ctx, sql, args)
}

// DeleteRows deletes the rows matching where.
func (t *Tools) DeleteRows(ctx context.Context, table, where string, params []any) (string, error) {
	if err := requireTable(table); err != nil {
		return "", err
	}

	if err := requireWhere(where); err != nil {
		return "", err
	}

	sql, args, err := dialect.Delete(table).Where(goqu.L(where, params...)).Prepared(true).ToSQL()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeValidation, "failed to build DELETE")
	}

	return t.mutateBuilt(ctx, sql, args)
}

// mutateBuilt refuses generated SQL that does not split into exactly one
// statement, so a where fragment cannot carry a second one.
func (t *Tools) mutateBuilt(ctx context.Context, sql string, args []any) (string, error) {
	statements := t.orch.splitter.Split(sql)
	if len(statements) != 1 {
		return "", errors.New(errors.ErrTypeValidation, "where fragment must not contain additional statements")
	}

	affected, err := t.mutate(ctx, statements[0], args)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d row(s) affected", affected), nil
}

func (t *Tools) mutate(ctx context.Context, stmt sqlexec.Statement, args []any) (int64, error) {
	var affected int64

	err := t.orch.withSession(ctx, storage.ReadWrite, func(s storage.Session) error {
		exec := sqlexec.NewExecutor(s, sqlexec.WithStatementTimeout(t.orch.timeout), sqlexec.WithLogger(t.orch.logger))

		out := exec.Execute(ctx, stmt, sqlexec.Mutating, args...)
		t.orch.metrics.Statements.With(sqlexec.Mutating.String(), outcomeLabel(out)).Inc()

		switch out := out.(type) {
		case *sqlexec.MutationResult:
			affected = out.AffectedRows
			return nil
		case *sqlexec.Failed:
			return engineError(out)
		default:
			return errors.Newf(errors.ErrTypeInternal, "unexpected outcome %T", out)
		}
	})

	return affected, err
}

func isCreateTable(stmt sqlexec.Statement) bool {
	parsed, err := rqlitesql.NewParser(strings.NewReader(string(stmt))).ParseStatement()
	if err != nil {
		return false
	}

	_, ok := parsed.(*rqlitesql.CreateTableStatement)

	return ok
}

func requireTable(table string) error {
	if strings.TrimSpace(table) == "" {
		return errors.New(errors.ErrTypeValidation, "table is required")
	}

	return nil
}

func requireWhere(where string) error {
	if strings.TrimSpace(where) == "" {
		return errors.New(errors.ErrTypeValidation, "where must not be empty").
			WithSuggestion("Use a condition such as \"1 = 1\" to target every row explicitly")
	}

	return nil
}

func engineError(f *sqlexec.Failed) error {
	return errors.NewEngineError(f.Err, string(f.Statement))
}
