package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openConn(t *testing.T) *sql.Conn {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.ExecContext(context.Background(),
		"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, qty INTEGER)")
	require.NoError(t, err)

	return conn
}

func TestExecuteReadOnly(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t)
	_, err := conn.ExecContext(ctx, "INSERT INTO items (name, qty) VALUES ('bolt', 3), ('nut', 5)")
	require.NoError(t, err)

	out := NewExecutor(conn).Execute(ctx, "SELECT name, qty FROM items ORDER BY id", ReadOnly)

	rs, ok := out.(*RowSet)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, []string{"name", "qty"}, rs.Columns)
	assert.Equal(t, 2, rs.RowCount)
	require.Len(t, rs.Rows, 2)

	name, _ := rs.Rows[0].Get("name")
	assert.Equal(t, "bolt", name)
	qty, _ := rs.Rows[1].Get("qty")
	assert.Equal(t, int64(5), qty)
}

func TestExecuteReadOnlyEmpty(t *testing.T) {
	out := NewExecutor(openConn(t)).Execute(context.Background(), "SELECT * FROM items", ReadOnly)

	rs, ok := out.(*RowSet)
	require.True(t, ok)
	assert.Zero(t, rs.RowCount)
	assert.Empty(t, rs.Rows)
	assert.Equal(t, []string{"id", "name", "qty"}, rs.Columns)
}

func TestExecuteDuplicateColumns(t *testing.T) {
	out := NewExecutor(openConn(t)).Execute(context.Background(), "SELECT 1 AS a, 2 AS b, 3 AS a", ReadOnly)

	rs, ok := out.(*RowSet)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, rs.Columns)

	a, _ := rs.Rows[0].Get("a")
	assert.Equal(t, int64(3), a)
}

func TestExecuteMutationCommits(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t)
	exec := NewExecutor(conn)

	out := exec.Execute(ctx, "INSERT INTO items (name, qty) VALUES ('gear', 1), ('cog', 2)", Mutating)
	mr, ok := out.(*MutationResult)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, int64(2), mr.AffectedRows)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count))
	assert.Equal(t, 2, count)

	out = exec.Execute(ctx, "UPDATE items SET qty = qty + 1", Mutating)
	assert.Equal(t, int64(2), out.(*MutationResult).AffectedRows)
}

func TestExecuteDDLReportsZero(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(openConn(t))

	exec.Execute(ctx, "INSERT INTO items (name) VALUES ('a'), ('b'), ('c')", Mutating)
	out := exec.Execute(ctx, "CREATE TABLE other (id INTEGER)", Mutating)

	mr, ok := out.(*MutationResult)
	require.True(t, ok)
	assert.Zero(t, mr.AffectedRows)
}

func TestExecuteFailurePreservesEngineMessage(t *testing.T) {
	exec := NewExecutor(openConn(t))

	out := exec.Execute(context.Background(), "SELECT * FROM missing", ReadOnly)
	failed, ok := out.(*Failed)
	require.True(t, ok)
	assert.Equal(t, Statement("SELECT * FROM missing"), failed.Stmt())
	assert.Equal(t, "no such table: missing", failed.Message())

	out = exec.Execute(context.Background(), "INSERT INTO missing VALUES (1)", Mutating)
	failed, ok = out.(*Failed)
	require.True(t, ok)
	assert.Equal(t, "no such table: missing", failed.Message())
}

func TestExecuteExplicitTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t)
	exec := NewExecutor(conn)

	for _, stmt := range []Statement{
		"BEGIN",
		"INSERT INTO items (name) VALUES ('temp')",
		"ROLLBACK",
	} {
		out := exec.Execute(ctx, stmt, Mutating)
		require.IsType(t, &MutationResult{}, out, "statement %q", stmt)
	}

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count))
	assert.Zero(t, count, "rolled back insert must not persist")

	// after ROLLBACK the executor commits on its own again
	exec.Execute(ctx, "INSERT INTO items (name) VALUES ('kept')", Mutating)
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRollbackTarget(t *testing.T) {
	tests := []struct {
		stmt Statement
		name string
		ok   bool
	}{
		{"ROLLBACK TO sp1", "sp1", true},
		{"rollback transaction to savepoint SP1", "sp1", true},
		{`ROLLBACK TO "outer"`, "outer", true},
		{"ROLLBACK", "", false},
		{"ROLLBACK TRANSACTION", "", false},
	}

	for _, tt := range tests {
		name, ok := rollbackTarget(tt.stmt)
		assert.Equal(t, tt.ok, ok, tt.stmt)
		assert.Equal(t, tt.name, name, tt.stmt)
	}
}

func TestExecuteStatementsThatCannotRunInTransaction(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(openConn(t))

	for _, stmt := range []Statement{
		"VACUUM",
		"ATTACH DATABASE ':memory:' AS aux",
		"CREATE TABLE aux.scratch (id INTEGER)",
		"DETACH DATABASE aux",
	} {
		out := exec.Execute(ctx, stmt, Mutating)
		require.IsType(t, &MutationResult{}, out, "statement %q: %v", stmt, out)
	}
}

func TestReleaseOfOutermostSavepointEndsTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t)
	exec := NewExecutor(conn)

	steps := []struct {
		stmt Statement
		inTx bool
	}{
		{"SAVEPOINT outer_sp", true},
		{"INSERT INTO items (name) VALUES ('a')", true},
		{"SAVEPOINT inner_sp", true},
		{"ROLLBACK TO inner_sp", true},
		{"RELEASE inner_sp", true},
		{"RELEASE SAVEPOINT outer_sp", false},
	}

	for _, step := range steps {
		out := exec.Execute(ctx, step.stmt, Mutating)
		require.IsType(t, &MutationResult{}, out, "statement %q: %v", step.stmt, out)
		assert.Equal(t, step.inTx, exec.InTransaction(), "after %q", step.stmt)
	}

	assert.Nil(t, exec.RollbackOpen(ctx))

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count))
	assert.Equal(t, 1, count, "released savepoint commits")
}

func TestSavepointInsideBeginKeepsTransaction(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(openConn(t))

	for _, stmt := range []Statement{"BEGIN", "SAVEPOINT sp", "RELEASE sp"} {
		require.IsType(t, &MutationResult{}, exec.Execute(ctx, stmt, Mutating))
	}

	assert.True(t, exec.InTransaction())
}

func TestRollbackOpenTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t)
	exec := NewExecutor(conn)

	exec.Execute(ctx, "BEGIN", Mutating)
	exec.Execute(ctx, "INSERT INTO items (name) VALUES ('pending')", Mutating)

	out := exec.RollbackOpen(ctx)
	failed, ok := out.(*Failed)
	require.True(t, ok)
	assert.Equal(t, Statement("ROLLBACK"), failed.Statement)
	assert.ErrorIs(t, failed.Err, ErrTransactionLeftOpen)
	assert.False(t, exec.InTransaction())

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count))
	assert.Zero(t, count)
}

func TestConnectionLost(t *testing.T) {
	assert.True(t, ConnectionLost(driver.ErrBadConn))
	assert.True(t, ConnectionLost(fmt.Errorf("exec: %w", sql.ErrConnDone)))
	assert.False(t, ConnectionLost(fmt.Errorf("no such table")))
}

func TestExecuteBindsArguments(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(openConn(t))

	out := exec.Execute(ctx, "INSERT INTO items (name, qty) VALUES (?, ?)", Mutating, "washer", 9)
	mr, ok := out.(*MutationResult)
	require.True(t, ok)
	assert.Equal(t, int64(1), mr.AffectedRows)

	out = exec.Execute(ctx, "SELECT qty FROM items WHERE name = ?", ReadOnly, "washer")
	rs, ok := out.(*RowSet)
	require.True(t, ok)
	require.Equal(t, 1, rs.RowCount)

	qty, _ := rs.Rows[0].Get("qty")
	assert.Equal(t, int64(9), qty)
}
