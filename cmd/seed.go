package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/storage"
)

func (a *App) seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load the sample analytics dataset",
		Description: `Drop and recreate the customers, products, orders and payments tables and fill
them with a deterministic sample dataset. Only SQLite and DuckDB databases
can be seeded.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "realistic", Usage: "generate realistic customer names and emails"},
			&cli.IntFlag{Name: "seed", Value: 42, Usage: "name generator seed for --realistic"},
		},
		Action: a.runSeed,
	}
}

func (a *App) runSeed(ctx context.Context, cmd *cli.Command) error {
	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}

	connector, err := newConnector(cfg)
	if err != nil {
		return err
	}

	loc := connector.Locator()
	if err := ensureParentDir(loc); err != nil {
		return err
	}

	opts := storage.SeedOptions{
		Realistic: cmd.Bool("realistic"),
		FakerSeed: uint64(max(cmd.Int("seed"), 0)),
	}

	var data storage.Dataset

	err = logging.LoggerMiddleware("seed", func() error {
		s, err := connector.Connect(ctx, storage.ReadWrite)
		if err != nil {
			return err
		}
		defer s.Close()

		data, err = storage.Seed(ctx, s, opts)

		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeEngine, "failed to seed sample data")
	}

	fmt.Fprintf(a.Out, "Seeded %s: %d customers, %d products, %d orders, %d payments\n",
		loc, len(data.Customers), len(data.Products), len(data.Orders), len(data.Payments))

	return nil
}

// ensureParentDir creates the directory of a file-backed database.
func ensureParentDir(loc storage.Locator) error {
	if loc.Driver != storage.DriverSQLite && loc.Driver != storage.DriverDuckDB {
		return nil
	}

	path := loc.DSN
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewResourceError(err, "create database directory")
	}

	return nil
}
