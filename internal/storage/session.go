package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver ("pgx")
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/sqlexec"
)

// AccessMode selects whether a session may write.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
)

// Session is one open engine connection. Closing it releases the connection
// and the handle it came from.
type Session interface {
	sqlexec.Conn
	Driver() string
	Close() error
}

// Connector opens a fresh Session per call. Nothing is pooled between calls.
type Connector interface {
	Connect(ctx context.Context, mode AccessMode) (Session, error)
}

// SQLConnector opens sessions through database/sql.
type SQLConnector struct {
	loc    Locator
	logger *logging.Logger
}

// NewConnector returns a connector for loc.
func NewConnector(loc Locator) *SQLConnector {
	return &SQLConnector{
		loc:    loc,
		logger: logging.GetLogger().WithField("database", loc.String()),
	}
}

// Locator returns the database this connector opens.
func (c *SQLConnector) Locator() Locator { return c.loc }

// Connect opens a handle and takes a single connection from it. ReadOnly
// sessions are also switched to read-only at the engine where it supports it.
func (c *SQLConnector) Connect(ctx context.Context, mode AccessMode) (Session, error) {
	dsn := c.loc.DSN
	if mode == ReadOnly {
		dsn = readOnlyDSN(c.loc.Driver, dsn)
	}

	db, err := sql.Open(c.loc.Driver, dsn)
	if err != nil {
		return nil, errors.NewResourceError(err, "open database")
	}

	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.NewResourceError(err, "open connection")
	}

	if mode == ReadOnly {
		if err := enforceReadOnly(ctx, conn, c.loc.Driver); err != nil {
			_ = conn.Close()
			_ = db.Close()

			return nil, errors.NewResourceError(err, "enable read-only session")
		}
	}

	c.logger.Debugf("opened %s session", modeName(mode))

	return &sqlSession{Conn: conn, db: db, driver: c.loc.Driver}, nil
}

// ResolvingConnector resolves the locator again on every Connect, so connector
// settings saved while a server runs apply to its next call.
type ResolvingConnector struct {
	resolve func() (Locator, error)
}

// NewResolvingConnector resolves through LocatorFromConfig(cfg).
func NewResolvingConnector(cfg *config.Config) *ResolvingConnector {
	return &ResolvingConnector{resolve: func() (Locator, error) { return LocatorFromConfig(cfg) }}
}

func (c *ResolvingConnector) Connect(ctx context.Context, mode AccessMode) (Session, error) {
	loc, err := c.resolve()
	if err != nil {
		return nil, err
	}

	return NewConnector(loc).Connect(ctx, mode)
}

type sqlSession struct {
	*sql.Conn
	db     *sql.DB
	driver string
}

func (s *sqlSession) Driver() string { return s.driver }

func (s *sqlSession) Close() error {
	return stderrors.Join(s.Conn.Close(), s.db.Close())
}

func enforceReadOnly(ctx context.Context, conn *sql.Conn, driver string) error {
	var stmt string

	switch driver {
	case DriverSQLite:
		stmt = "PRAGMA query_only = ON"
	case DriverPostgres:
		stmt = "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"
	case DriverMySQL:
		stmt = "SET SESSION TRANSACTION READ ONLY"
	default:
		return nil
	}

	_, err := conn.ExecContext(ctx, stmt)

	return err
}

// readOnlyDSN opens file-backed engines read-only at the handle, so no
// statement on the session (PRAGMA query_only = OFF included) can write.
func readOnlyDSN(driver, dsn string) string {
	switch driver {
	case DriverDuckDB:
		return withQueryParam(dsn, "access_mode=read_only")
	case DriverSQLite:
		if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			return dsn
		}

		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}

		return withQueryParam(dsn, "mode=ro")
	default:
		return dsn
	}
}

func withQueryParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}

	return dsn + "?" + param
}

func modeName(mode AccessMode) string {
	if mode == ReadOnly {
		return "read-only"
	}

	return "read-write"
}
