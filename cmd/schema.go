package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/formatter"
)

func (a *App) schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Describe the tables and columns of the database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: string(formatter.FormatTable), Usage: "output format: table or json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}

			connector, err := newConnector(cfg)
			if err != nil {
				return err
			}

			schema, err := newOrchestrator(cfg, connector).DescribeSchema(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(a.Out, formatter.NewFormatter(formatter.OutputFormat(cmd.String("format"))).FormatSchema(schema))

			return nil
		},
	}
}
