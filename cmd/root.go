package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/telemetry"
)

// BuildInfo is stamped in by the linker.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", b.Version, b.Commit, b.Date)
}

// GeneratorFactory builds the SQL generator used by ask and serve.
type GeneratorFactory func(cfg *config.Config, m *telemetry.Metrics) (gateway.Generator, error)

// App holds the streams and factories the commands use.
type App struct {
	In           io.Reader
	Out          io.Writer
	ErrOut       io.Writer
	Build        BuildInfo
	NewGenerator GeneratorFactory
}

// NewApp returns an app wired to the process streams and the configured model.
func NewApp(build BuildInfo) *App {
	return &App{
		In:           os.Stdin,
		Out:          os.Stdout,
		ErrOut:       os.Stderr,
		Build:        build,
		NewGenerator: newLLMGenerator,
	}
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute(build BuildInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(build)

	if err := app.Command().Run(ctx, os.Args); err != nil {
		printError(app.ErrOut, err)
		return err
	}

	return nil
}

// Command builds the root command.
func (a *App) Command() *cli.Command {
	return &cli.Command{
		Name:    "askdb",
		Usage:   "Ask questions of a SQL database in plain language",
		Version: a.Build.String(),
		Description: `askdb turns a question into SQL with a language model and runs it through a
policy gateway that splits, classifies and gates every statement. Restricted
callers can only run read-only statements.`,
		Reader:    a.In,
		Writer:    a.Out,
		ErrWriter: a.ErrOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "config file (.json, .toml, .yaml)"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite or DuckDB database file"},
			&cli.StringFlag{Name: "driver", Usage: "database driver: sqlite3, duckdb, pgx or mysql"},
			&cli.StringFlag{Name: "dsn", Usage: "driver-specific connection string"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "verbose", Usage: "verbose output"},
			&cli.BoolFlag{Name: "debug", Usage: "debug logging"},
		},
		Before: a.loadConfig,
		Commands: []*cli.Command{
			a.askCommand(),
			a.execCommand(),
			a.schemaCommand(),
			a.seedCommand(),
			a.serveCommand(),
			a.mcpCommand(),
			a.configCommand(),
		},
	}
}

var (
	stringOverrides = []string{"config", "db-path", "driver", "dsn", "log-level"}
	boolOverrides   = []string{"verbose", "debug"}
)

func (a *App) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	overrides := map[string]any{}

	for _, name := range stringOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	for _, name := range boolOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return ctx, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	if cfg.Debug.Enabled {
		cfg.Logging.Level = "debug"
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.Warnf("falling back to stderr logging: %v", err)
	}

	return withConfig(ctx, cfg), nil
}

func printError(w io.Writer, err error) {
	var structErr *errors.Error
	if !stderrors.As(err, &structErr) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "Error: %s\n", structErr.Message)

	for _, s := range structErr.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}
