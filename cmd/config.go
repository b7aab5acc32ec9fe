package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/storage"
)

func (a *App) configCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the configuration after defaults, the config file, .env, environment variables and flags are applied.`,
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}

			return printConfig(a.Out, cfg)
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) error {
	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nDatabase:")

	if loc, err := storage.LocatorFromConfig(cfg); err == nil {
		fmt.Fprintf(w, "  Resolved: %s\n", loc)
	} else {
		fmt.Fprintf(w, "  Resolved: unavailable (%v)\n", err)
	}

	fmt.Fprintf(w, "  Driver: %s\n", orDefault(cfg.Database.Driver, "from connectors.json"))
	fmt.Fprintf(w, "  Path: %s\n", orDefault(cfg.Database.Path, "from mcp.json"))
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)

	fmt.Fprintln(w, "\nLLM:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(w, "  API Key: %s\n", maskSecret(cfg.LLM.APIKey))
	fmt.Fprintf(w, "  Timeout: %s\n", cfg.LLM.Timeout)
	fmt.Fprintf(w, "  Retry Attempts: %d\n", cfg.LLM.RetryAttempts)

	fmt.Fprintln(w, "\nExecution:")
	fmt.Fprintf(w, "  Classifier: %s\n", cfg.Execution.Classifier)
	fmt.Fprintf(w, "  Continue On Error: %t\n", cfg.Execution.ContinueOnError)
	fmt.Fprintf(w, "  CLI Caller: %s\n", cfg.Execution.Caller)

	fmt.Fprintln(w, "\nServer:")
	fmt.Fprintf(w, "  Address: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(w, "  Caller: %s\n", cfg.Server.Caller)

	fmt.Fprintln(w, "\nMCP:")
	fmt.Fprintf(w, "  Server Name: %s\n", cfg.MCP.ServerName)
	fmt.Fprintf(w, "  Allow Mutations: %t\n", cfg.MCP.AllowMutations)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)

	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		redacted := *cfg
		redacted.LLM.APIKey = maskSecret(cfg.LLM.APIKey)

		jsonData, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}

	return v
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}
