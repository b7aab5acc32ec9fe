package cmd

import (
	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/telemetry"
)

func newLLMGenerator(cfg *config.Config, m *telemetry.Metrics) (gateway.Generator, error) {
	svc, err := llm.NewService(cfg.LLM)
	if err != nil {
		return nil, err
	}

	return query.NewLLMParser(svc, query.WithMetrics(m, cfg.LLM.Provider)), nil
}

func newConnector(cfg *config.Config) (*storage.SQLConnector, error) {
	loc, err := storage.LocatorFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return storage.NewConnector(loc), nil
}

func newOrchestrator(cfg *config.Config, connector storage.Connector, opts ...gateway.Option) *gateway.Orchestrator {
	return gateway.NewOrchestrator(connector, append(gateway.OptionsFromConfig(cfg), opts...)...)
}

// callerFor returns Restricted when forced, else the configured CLI caller.
func callerFor(cfg *config.Config, restricted bool) (sqlexec.CallerContext, error) {
	if restricted {
		return sqlexec.Restricted, nil
	}

	caller, err := sqlexec.ParseCallerContext(cfg.Execution.Caller)
	if err != nil {
		return caller, errors.NewConfigError(err.Error(), "execution.caller")
	}

	return caller, nil
}
