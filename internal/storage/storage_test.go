package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/connectors"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/types"
)

func TestConnectReadWriteAndClose(t *testing.T) {
	ctx := context.Background()
	loc := NewTestDB(t)

	s, err := NewConnector(loc).Connect(ctx, ReadWrite)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, s.Driver())

	_, err = s.ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ExecContext(ctx, "SELECT 1")
	assert.Error(t, err, "closed sessions must not be usable")
}

func TestConnectReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	loc := NewTestDB(t)
	ExecTestSQL(t, loc, "CREATE TABLE t (id INTEGER)")

	s, err := NewConnector(loc).Connect(ctx, ReadOnly)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readonly")

	rows, err := s.QueryContext(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.NoError(t, rows.Close())
}

func TestReadOnlySessionCannotBeReopenedForWrites(t *testing.T) {
	ctx := context.Background()
	loc := NewTestDB(t)
	ExecTestSQL(t, loc, "CREATE TABLE t (id INTEGER)")

	s, err := NewConnector(loc).Connect(ctx, ReadOnly)
	require.NoError(t, err)
	defer s.Close()

	_, _ = s.ExecContext(ctx, "PRAGMA query_only = OFF")

	_, err = s.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readonly")

	_, err = s.ExecContext(ctx, "PRAGMA user_version = 7")
	require.Error(t, err)
}

func TestReadOnlyDSN(t *testing.T) {
	tests := []struct {
		driver, dsn, want string
	}{
		{DriverSQLite, "/data/sales.db", "file:/data/sales.db?mode=ro"},
		{DriverSQLite, "sales.db?_busy_timeout=5000", "file:sales.db?_busy_timeout=5000&mode=ro"},
		{DriverSQLite, "file:sales.db", "file:sales.db?mode=ro"},
		{DriverSQLite, ":memory:", ":memory:"},
		{DriverDuckDB, "warehouse.duckdb", "warehouse.duckdb?access_mode=read_only"},
		{DriverPostgres, "postgres://h/db", "postgres://h/db"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, readOnlyDSN(tt.driver, tt.dsn), tt.dsn)
	}
}

func TestConnectFailureIsResourceError(t *testing.T) {
	loc := Locator{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "missing", "dir", "x.db")}

	_, err := NewConnector(loc).Connect(context.Background(), ReadWrite)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeResource))
}

func TestIntrospectSQLite(t *testing.T) {
	ctx := context.Background()
	loc := NewTestDB(t)
	ExecTestSQL(t, loc,
		"CREATE TABLE zebra (id INTEGER PRIMARY KEY, stripes INT)",
		`CREATE TABLE "odd ""name""" (label TEXT, amount REAL)`,
		"CREATE TABLE apple (variety)",
	)

	s, err := NewConnector(loc).Connect(ctx, ReadOnly)
	require.NoError(t, err)
	defer s.Close()

	schema, err := Introspect(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, []string{"apple", `odd "name"`, "zebra"}, schema.TableNames())

	zebra, ok := schema.Table("zebra")
	require.True(t, ok)
	assert.Equal(t, []types.Column{{Name: "id", Type: "INTEGER"}, {Name: "stripes", Type: "INT"}}, zebra.Columns)

	apple, _ := schema.Table("apple")
	assert.Equal(t, []types.Column{{Name: "variety", Type: ""}}, apple.Columns)
}

func TestIntrospectSeesSchemaChanges(t *testing.T) {
	ctx := context.Background()
	loc := NewTestDB(t)
	connector := NewConnector(loc)

	summarize := func() types.Schema {
		s, err := connector.Connect(ctx, ReadOnly)
		require.NoError(t, err)
		defer s.Close()

		schema, err := Introspect(ctx, s)
		require.NoError(t, err)

		return schema
	}

	assert.Empty(t, summarize().Tables)

	ExecTestSQL(t, loc, "CREATE TABLE late (x INTEGER)")
	assert.Equal(t, []string{"late"}, summarize().TableNames())
}

func TestGenerateDataset(t *testing.T) {
	data := GenerateDataset(SeedOptions{})

	require.Len(t, data.Customers, 150)
	require.Len(t, data.Products, 40)
	require.Len(t, data.Orders, 220)
	require.Len(t, data.Payments, 220)

	assert.Equal(t, Customer{ID: 1, Name: "Customer 001", Email: "customer001@example.com", Region: "South"}, data.Customers[0])
	assert.Equal(t, "North", data.Customers[4].Region)

	assert.Equal(t, Product{ID: 1, Name: "Hardware Package 1", Category: "Hardware", Price: 84}, data.Products[0])
	assert.Equal(t, Product{ID: 40, Name: "Accessories Package 10", Category: "Accessories", Price: 149}, data.Products[39])

	// order 1: customer 2, product 2 (Hardware 119), qty 2
	assert.Equal(t, Order{ID: 1, CustomerID: 2, ProductID: 2, OrderDate: "2024-01-02", Quantity: 2, Total: 238}, data.Orders[0])
	assert.Equal(t, Payment{ID: 1, OrderID: 1, Method: "ach", Amount: 238, PaymentDate: "2024-01-03"}, data.Payments[0])

	// order 150 wraps to customer 1
	assert.Equal(t, 1, data.Orders[149].CustomerID)
}

func TestGenerateDatasetRealisticIsReproducible(t *testing.T) {
	a := GenerateDataset(SeedOptions{Realistic: true, FakerSeed: 7})
	b := GenerateDataset(SeedOptions{Realistic: true, FakerSeed: 7})

	assert.Equal(t, a.Customers, b.Customers)
	assert.NotEqual(t, "Customer 001", a.Customers[0].Name)

	seen := map[string]bool{}
	for _, c := range a.Customers {
		assert.False(t, seen[c.Email], "duplicate email %s", c.Email)
		seen[c.Email] = true
	}
}

func TestSeedLoadsSampleTables(t *testing.T) {
	ctx := context.Background()
	loc := NewSeededTestDB(t)

	s, err := NewConnector(loc).Connect(ctx, ReadOnly)
	require.NoError(t, err)
	defer s.Close()

	counts := map[string]int{"customers": 150, "products": 40, "orders": 220, "payments": 220}
	for table, want := range counts {
		assert.Equal(t, want, countRows(t, s, table), table)
	}

	schema, err := Introspect(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders", "payments", "products"}, schema.TableNames())
}

func TestSeedIsRepeatable(t *testing.T) {
	ctx := context.Background()
	loc := NewSeededTestDB(t)

	s, err := NewConnector(loc).Connect(ctx, ReadWrite)
	require.NoError(t, err)
	defer s.Close()

	_, err = Seed(ctx, s, SeedOptions{})
	require.NoError(t, err)

	assert.Equal(t, 220, countRows(t, s, "orders"))
}

func TestLocatorFromConfig(t *testing.T) {
	dir := t.TempDir()
	base := func() *config.Config {
		cfg, err := config.Defaults()
		require.NoError(t, err)
		cfg.BaseDir = dir

		return cfg
	}

	t.Run("explicit path", func(t *testing.T) {
		cfg := base()
		cfg.Database.Path = "/tmp/x.db"

		loc, err := LocatorFromConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, Locator{Driver: DriverSQLite, DSN: "/tmp/x.db"}, loc)
	})

	t.Run("duckdb without path uses resolved file", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = DriverDuckDB

		loc, err := LocatorFromConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, DriverDuckDB, loc.Driver)
		assert.Equal(t, filepath.Join(dir, "data", "sales.db"), loc.DSN)
	})

	t.Run("active connector", func(t *testing.T) {
		store := connectors.NewStore(dir, "")
		c := connectors.Defaults()
		c.Active = connectors.PostgreSQL
		c.PostgreSQL = connectors.ServerSettings{Host: "db", Port: "6543", Database: "sales", Username: "ro", Password: "p@ss"}
		require.NoError(t, store.Save(c))

		loc, err := LocatorFromConfig(base())
		require.NoError(t, err)
		assert.Equal(t, DriverPostgres, loc.Driver)
		assert.Equal(t, "postgres://ro:p%40ss@db:6543/sales", loc.DSN)
	})

	t.Run("unsupported connector", func(t *testing.T) {
		store := connectors.NewStore(dir, "")
		c := connectors.Defaults()
		c.Active = connectors.MongoDB
		require.NoError(t, store.Save(c))

		_, err := LocatorFromConfig(base())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})
}

func TestResolvingConnectorFollowsSavedConnectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.BaseDir = dir

	store := connectors.NewStore(dir, "")
	c := connectors.Defaults()
	c.Active = connectors.MSSQL
	require.NoError(t, store.Save(c))

	conn := NewResolvingConnector(cfg)

	_, err = conn.Connect(ctx, ReadOnly)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	c.Active = connectors.SQLite
	c.SQLite.Path = "app.db"
	require.NoError(t, store.Save(c))

	s, err := conn.Connect(ctx, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, "app.db"))
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(connectors.ServerSettings{Host: "db", Database: "sales", Username: "app", Password: "pw"})
	assert.Equal(t, "app:pw@tcp(db:3306)/sales", dsn)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"orders"`, QuoteIdent("orders"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func countRows(t *testing.T, s Session, table string) int {
	t.Helper()

	rows, err := s.QueryContext(context.Background(), "SELECT COUNT(*) FROM "+QuoteIdent(table))
	require.NoError(t, err)
	defer rows.Close()

	var n int
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&n))

	return n
}
