package cmd

import (
	"context"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/mcp"
)

func (a *App) mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the database tools to an MCP host over stdio",
		Description: `Speak JSON-RPC 2.0, one message per line, on stdin and stdout. run_query and
describe_schema are always available; create_table, insert_row, update_rows
and delete_rows only with --allow-mutations or mcp.allow_mutations.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "allow-mutations", Usage: "expose the mutation tools"},
		},
		Action: a.runMCP,
	}
}

func (a *App) runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}

	// stdout carries the protocol.
	if strings.EqualFold(cfg.Logging.Output, "stdout") {
		logging.SetGlobalLogger(logging.NewWriterLogger(a.ErrOut, cfg.Logging.Format, cfg.Logging.Level))
	}

	allow := cfg.MCP.AllowMutations
	if cmd.IsSet("allow-mutations") {
		allow = cmd.Bool("allow-mutations")
	}

	connector, err := newConnector(cfg)
	if err != nil {
		return err
	}

	logger := logging.GetLogger().WithField("database", connector.Locator().String())
	tools := gateway.NewTools(newOrchestrator(cfg, connector, gateway.WithLogger(logger)))

	srv := mcp.NewServer(tools,
		mcp.WithMutations(allow),
		mcp.WithServerInfo(cfg.MCP.ServerName, a.Build.Version),
		mcp.WithLogger(logger),
	)

	return srv.Serve(ctx, a.In, a.Out)
}
