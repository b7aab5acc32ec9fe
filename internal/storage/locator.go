package storage

import (
	"net"
	"net/url"

	"github.com/go-sql-driver/mysql"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/connectors"
	"github.com/kyleking/askdb/internal/errors"
)

// database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverDuckDB   = "duckdb"
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
)

// Locator identifies a database: the database/sql driver and its DSN.
type Locator struct {
	Driver string
	DSN    string
}

func (l Locator) String() string {
	switch l.Driver {
	case DriverSQLite, DriverDuckDB:
		return l.Driver + ":" + l.DSN
	default:
		return l.Driver + " database"
	}
}

// LocatorFromConfig resolves the database to open. Explicit configuration wins;
// otherwise the active connector in connectors.json decides, with the SQLite
// path taken from mcp.json.
func LocatorFromConfig(cfg *config.Config) (Locator, error) {
	db := cfg.Database
	store := connectors.NewStore(cfg.BaseDir, cfg.MCP.ServerName)

	switch db.Driver {
	case "":
		if db.DSN != "" {
			return Locator{Driver: DriverSQLite, DSN: db.DSN}, nil
		}

		if db.Path != "" {
			return Locator{Driver: DriverSQLite, DSN: db.Path}, nil
		}

		c, err := store.Load()
		if err != nil {
			return Locator{}, errors.Wrap(err, errors.ErrTypeConfig, "failed to load connectors")
		}

		return LocatorFromConnectors(store, c)
	case DriverSQLite, DriverDuckDB:
		switch {
		case db.DSN != "":
			return Locator{Driver: db.Driver, DSN: db.DSN}, nil
		case db.Path != "":
			return Locator{Driver: db.Driver, DSN: db.Path}, nil
		default:
			return Locator{Driver: db.Driver, DSN: store.ResolveSQLitePath()}, nil
		}
	case DriverPostgres, DriverMySQL:
		if db.DSN != "" {
			return Locator{Driver: db.Driver, DSN: db.DSN}, nil
		}

		c, err := store.Load()
		if err != nil {
			return Locator{}, errors.Wrap(err, errors.ErrTypeConfig, "failed to load connectors")
		}

		if db.Driver == DriverPostgres {
			return Locator{Driver: DriverPostgres, DSN: PostgresDSN(c.PostgreSQL)}, nil
		}

		return Locator{Driver: DriverMySQL, DSN: MySQLDSN(c.MySQL)}, nil
	default:
		return Locator{}, errors.NewConfigError("unsupported driver "+db.Driver, "database.driver")
	}
}

// LocatorFromConnectors maps the active connector onto a driver.
func LocatorFromConnectors(store *connectors.Store, c *connectors.Connectors) (Locator, error) {
	switch c.Active {
	case connectors.SQLite, "":
		return Locator{Driver: DriverSQLite, DSN: store.ResolveSQLitePath()}, nil
	case connectors.PostgreSQL:
		if c.PostgreSQL.Host == "" {
			return Locator{}, errors.NewConfigError("postgresql connector has no host", "postgresql.host")
		}

		return Locator{Driver: DriverPostgres, DSN: PostgresDSN(c.PostgreSQL)}, nil
	case connectors.MySQL:
		if c.MySQL.Host == "" {
			return Locator{}, errors.NewConfigError("mysql connector has no host", "mysql.host")
		}

		return Locator{Driver: DriverMySQL, DSN: MySQLDSN(c.MySQL)}, nil
	default:
		return Locator{}, errors.Newf(errors.ErrTypeConfig,
			"connector %q is stored but cannot execute SQL", c.Active).
			WithSuggestion("Switch the active connector to sqlite, postgresql or mysql")
	}
}

// PostgresDSN renders connector settings as a pgx URL.
func PostgresDSN(s connectors.ServerSettings) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   hostPort(s.Host, s.Port, "5432"),
		Path:   "/" + s.Database,
	}

	if s.Username != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		} else {
			u.User = url.User(s.Username)
		}
	}

	return u.String()
}

// MySQLDSN renders connector settings in go-sql-driver/mysql format.
func MySQLDSN(s connectors.ServerSettings) string {
	cfg := mysql.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(s.Host, s.Port, "3306")
	cfg.DBName = s.Database

	return cfg.FormatDSN()
}

func hostPort(host, port, fallback string) string {
	if port == "" {
		port = fallback
	}

	return net.JoinHostPort(host, port)
}
