package cmd

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/connectors"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/server"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/telemetry"
)

func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Description: `Serve /api/query, /api/sql, /api/schema, the connector and MCP settings
endpoints, /healthz and /metrics. The database is resolved again for every
request, so saved connector settings apply immediately.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "listen address (overrides server.host)"},
			&cli.IntFlag{Name: "port", Usage: "listen port (overrides server.port)"},
			&cli.StringFlag{Name: "caller", Usage: "caller context for API requests: trusted or restricted"},
		},
		Action: a.runServe,
	}
}

func (a *App) runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}

	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}

	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}

	if cmd.IsSet("caller") {
		cfg.Server.Caller = cmd.String("caller")
	}

	logger := logging.GetLogger()
	registry := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	opts := []gateway.Option{gateway.WithMetrics(metrics)}

	gen, err := a.NewGenerator(cfg, metrics)
	if err != nil {
		logger.WithError(err).Warn("SQL generation is unavailable; /api/query will fail")
	} else {
		opts = append(opts, gateway.WithGenerator(gen))
	}

	orch := newOrchestrator(cfg, storage.NewResolvingConnector(cfg), opts...)

	serverOpts, err := server.OptionsFromConfig(cfg.Server)
	if err != nil {
		return err
	}

	serverOpts = append(serverOpts,
		server.WithTelemetry(registry, metrics),
		server.WithLogger(logger),
	)

	store := connectors.NewStore(cfg.BaseDir, cfg.MCP.ServerName)

	return server.New(orch, store, serverOpts...).ListenAndServe(ctx)
}
