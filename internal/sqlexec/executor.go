package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/logging"
)

// Conn is the slice of *sql.Conn the executor needs; *sql.DB satisfies it too.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Executor runs statements on one open connection. It is not safe for
// concurrent use; create one per batch.
type Executor struct {
	conn    Conn
	timeout time.Duration
	logger  *logging.Logger

	// caller-opened transaction state
	inTx        bool
	savepointTx bool
	savepoints  []string
}

// ErrTransactionLeftOpen marks a batch that ended inside a transaction it
// opened. The transaction is rolled back.
var ErrTransactionLeftOpen = errors.New("transaction left open; rolled back")

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStatementTimeout bounds each statement with its own deadline.
func WithStatementTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the executor's logger.
func WithLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor binds an executor to conn.
func NewExecutor(conn Conn, opts ...ExecutorOption) *Executor {
	e := &Executor{conn: conn}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.GetLogger()
	}

	return e
}

// Execute runs stmt according to kind. Read-only statements are fetched in
// full; mutating statements are committed before Execute returns, unless the
// caller opened an explicit transaction earlier in the batch. args bind the
// statement's placeholders.
func (e *Executor) Execute(ctx context.Context, stmt Statement, kind Kind, args ...any) Outcome {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	log := e.logger.WithFields(map[string]any{"statement": string(stmt), "kind": kind.String()})

	var out Outcome
	if kind == ReadOnly {
		out = e.query(ctx, stmt, args)
	} else {
		out = e.mutate(ctx, stmt, args)
	}

	if f, ok := out.(*Failed); ok {
		log.WithError(f.Err).Debug("statement failed")
	} else {
		log.Debug("statement executed")
	}

	return out
}

func (e *Executor) query(ctx context.Context, stmt Statement, args []any) Outcome {
	rows, err := e.conn.QueryContext(ctx, string(stmt), args...)
	if err != nil {
		return &Failed{Statement: stmt, Err: err}
	}
	defer rows.Close()

	columns, result, err := ScanRows(rows)
	if err != nil {
		return &Failed{Statement: stmt, Err: err}
	}

	return &RowSet{Statement: stmt, Columns: columns, Rows: result, RowCount: len(result)}
}

var ddlKeywords = map[string]bool{"create": true, "drop": true, "alter": true}

// statements SQLite refuses to run inside a transaction
var autocommitKeywords = map[string]bool{"vacuum": true, "attach": true, "detach": true}

func (e *Executor) mutate(ctx context.Context, stmt Statement, args []any) Outcome {
	if IsTransactionControl(stmt) {
		if _, err := e.conn.ExecContext(ctx, string(stmt)); err != nil {
			return &Failed{Statement: stmt, Err: err}
		}

		e.trackTransaction(stmt)

		return &MutationResult{Statement: stmt}
	}

	var (
		res sql.Result
		err error
	)

	if e.inTx || autocommitKeywords[LeadingKeyword(string(stmt))] {
		res, err = e.conn.ExecContext(ctx, string(stmt), args...)
	} else {
		res, err = e.execCommitted(ctx, stmt, args)
	}

	if err != nil {
		return &Failed{Statement: stmt, Err: err}
	}

	return &MutationResult{Statement: stmt, AffectedRows: affectedRows(stmt, res)}
}

func (e *Executor) execCommitted(ctx context.Context, stmt Statement, args []any) (sql.Result, error) {
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, string(stmt), args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return res, nil
}

// InTransaction reports whether a transaction opened by an earlier statement
// of the batch is still open.
func (e *Executor) InTransaction() bool {
	return e.inTx
}

// RollbackOpen rolls back a transaction the batch left open and reports it as
// a Failed outcome, since the mutations inside it never committed. It returns
// nil when no transaction is open.
func (e *Executor) RollbackOpen(ctx context.Context) Outcome {
	if !e.inTx {
		return nil
	}

	stmt := Statement("ROLLBACK")
	_, err := e.conn.ExecContext(ctx, string(stmt))

	e.endTransaction()

	if err != nil {
		return &Failed{Statement: stmt, Err: errors.Join(ErrTransactionLeftOpen, err)}
	}

	return &Failed{Statement: stmt, Err: ErrTransactionLeftOpen}
}

func (e *Executor) trackTransaction(stmt Statement) {
	switch LeadingKeyword(string(stmt)) {
	case "begin":
		e.endTransaction()
		e.inTx = true
	case "savepoint":
		if !e.inTx {
			e.inTx, e.savepointTx = true, true
		}

		e.savepoints = append(e.savepoints, savepointName(stmt, "savepoint"))
	case "release":
		if i := e.savepointIndex(savepointName(stmt, "release")); i >= 0 {
			e.savepoints = e.savepoints[:i]
		}

		if e.savepointTx && len(e.savepoints) == 0 {
			e.endTransaction()
		}
	case "commit", "end":
		e.endTransaction()
	case "rollback":
		name, ok := rollbackTarget(stmt)
		if !ok {
			e.endTransaction()
			return
		}

		if i := e.savepointIndex(name); i >= 0 {
			e.savepoints = e.savepoints[:i+1]
		}
	}
}

func (e *Executor) endTransaction() {
	e.inTx, e.savepointTx, e.savepoints = false, false, nil
}

// savepointIndex finds the innermost savepoint called name, or -1.
func (e *Executor) savepointIndex(name string) int {
	for i := len(e.savepoints) - 1; i >= 0; i-- {
		if e.savepoints[i] == name {
			return i
		}
	}

	return -1
}

// savepointName reads the name after keyword (and an optional SAVEPOINT).
func savepointName(stmt Statement, keyword string) string {
	rest := skipTrivia(string(stmt))[len(keyword):]
	if LeadingKeyword(rest) == "savepoint" {
		rest = skipTrivia(rest)[len("savepoint"):]
	}

	return normalizeName(rest)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(skipTrivia(s)), "\"'`[]"))
}

// rollbackTarget returns the savepoint of ROLLBACK [TRANSACTION] TO
// [SAVEPOINT] name; ok is false for a plain ROLLBACK.
func rollbackTarget(stmt Statement) (string, bool) {
	rest := skipTrivia(string(stmt))[len("rollback"):]
	if LeadingKeyword(rest) == "transaction" {
		rest = skipTrivia(rest)[len("transaction"):]
	}

	if LeadingKeyword(rest) != "to" {
		return "", false
	}

	rest = skipTrivia(rest)[len("to"):]
	if LeadingKeyword(rest) == "savepoint" {
		rest = skipTrivia(rest)[len("savepoint"):]
	}

	return normalizeName(rest), true
}

// affectedRows reports 0 for DDL and for drivers that cannot count; SQLite keeps
// the previous DML count in sqlite3_changes() across DDL statements.
func affectedRows(stmt Statement, res sql.Result) int64 {
	if res == nil || ddlKeywords[LeadingKeyword(string(stmt))] {
		return 0
	}

	n, err := res.RowsAffected()
	if err != nil || n < 0 {
		return 0
	}

	return n
}

// ConnectionLost reports whether err means the connection itself is unusable.
func ConnectionLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}
