package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/formatter"
	"github.com/kyleking/askdb/internal/sqlexec"
)

func (a *App) execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run SQL statements through the policy gateway",
		ArgsUsage: "<sql | ->",
		Description: `Split the SQL into statements and run them in order. Pass - to read the SQL
from stdin. Statements run as the configured CLI caller; --restricted blocks
mutating statements.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "restricted", Usage: "only run read-only statements"},
			&cli.BoolFlag{Name: "continue-on-error", Usage: "keep going after a failed or denied statement"},
			&cli.StringFlag{Name: "format", Value: string(formatter.FormatTable), Usage: "output format: table or json"},
		},
		Action: a.runExec,
	}
}

func (a *App) runExec(ctx context.Context, cmd *cli.Command) error {
	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}

	if cmd.IsSet("continue-on-error") {
		cfg.Execution.ContinueOnError = cmd.Bool("continue-on-error")
	}

	raw := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(raw) == "-" {
		data, err := io.ReadAll(a.In)
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeValidation, "failed to read SQL from stdin")
		}

		raw = string(data)
	}

	caller, err := callerFor(cfg, cmd.Bool("restricted"))
	if err != nil {
		return err
	}

	connector, err := newConnector(cfg)
	if err != nil {
		return err
	}

	outcomes, err := newOrchestrator(cfg, connector).Execute(ctx, raw, caller)
	if err != nil {
		return err
	}

	f := formatter.NewFormatter(formatter.OutputFormat(cmd.String("format")))
	fmt.Fprintln(a.Out, f.FormatOutcomes(outcomes))

	return batchError(outcomes)
}

// batchError reports the first failed or denied statement of a batch.
func batchError(outcomes []sqlexec.Outcome) error {
	for i, out := range outcomes {
		switch o := out.(type) {
		case *sqlexec.Denied:
			return errors.NewPolicyDenied(fmt.Sprintf("statement %d was denied: %s", i+1, o.Reason), string(o.Statement))
		case *sqlexec.Failed:
			return errors.NewEngineError(o.Err, string(o.Statement)).
				WithSuggestion(fmt.Sprintf("Statement %d of the batch failed; earlier statements already ran", i+1))
		}
	}

	return nil
}
