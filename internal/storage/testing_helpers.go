package storage

import (
	"context"
	"path/filepath"
	"testing"
)

// NewTestDB returns a locator for an empty SQLite file inside t.TempDir().
func NewTestDB(t *testing.T) Locator {
	t.Helper()

	return Locator{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")}
}

// NewSeededTestDB returns a locator for a SQLite file loaded with the sample
// analytics dataset.
func NewSeededTestDB(t *testing.T) Locator {
	t.Helper()

	loc := NewTestDB(t)
	ctx := context.Background()

	s, err := NewConnector(loc).Connect(ctx, ReadWrite)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	defer func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	}()

	if _, err := Seed(ctx, s, SeedOptions{}); err != nil {
		t.Fatalf("failed to seed test database: %v", err)
	}

	return loc
}

// ExecTestSQL runs setup statements against loc outside of any pipeline.
func ExecTestSQL(t *testing.T, loc Locator, statements ...string) {
	t.Helper()

	ctx := context.Background()

	s, err := NewConnector(loc).Connect(ctx, ReadWrite)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer s.Close()

	for _, stmt := range statements {
		if _, err := s.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup statement %q failed: %v", stmt, err)
		}
	}
}
