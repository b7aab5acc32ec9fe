// Package gateway mediates every SQL statement that reaches the database. It
// owns the per-call connection, feeds statements through the splitter, the
// classifier and the policy gate, and collects one outcome per statement.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/telemetry"
	"github.com/kyleking/askdb/internal/types"
)

// Generator produces SQL for a question over a schema summary.
type Generator interface {
	Parse(ctx context.Context, question string, schema types.Schema) (*query.ParsedQuery, error)
}

// Answer is a generated query together with its executed outcomes.
type Answer struct {
	Question  string            `json:"question"`
	SQL       string            `json:"sql"`
	Rationale string            `json:"rationale"`
	Outcomes  []sqlexec.Outcome `json:"result_sets"`
}

// Orchestrator runs SQL batches. It holds no connection between calls and is
// safe for concurrent use.
type Orchestrator struct {
	connector       storage.Connector
	splitter        *sqlexec.Splitter
	classifier      sqlexec.Classifier
	gate            sqlexec.Gate
	generator       Generator
	continueOnError bool
	timeout         time.Duration
	metrics         *telemetry.Metrics
	logger          *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClassifier(c sqlexec.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

func WithGenerator(g Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithContinueOnError keeps a batch running past per-statement failures and
// denials.
func WithContinueOnError(v bool) Option {
	return func(o *Orchestrator) { o.continueOnError = v }
}

func WithStatementTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// OptionsFromConfig maps the execution and database sections onto options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithClassifier(sqlexec.NewClassifier(cfg.Execution.Classifier)),
		WithContinueOnError(cfg.Execution.ContinueOnError),
		WithStatementTimeout(cfg.QueryTimeoutDuration()),
	}
}

// NewOrchestrator returns an orchestrator that opens sessions via connector.
func NewOrchestrator(connector storage.Connector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		connector:  connector,
		splitter:   sqlexec.NewSplitter(nil),
		classifier: sqlexec.PrefixClassifier{},
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.metrics == nil {
		o.metrics = telemetry.Noop()
	}

	if o.logger == nil {
		o.logger = logging.GetLogger()
	}

	return o
}

// Execute splits raw and runs each statement under caller's policy on a
// connection opened for this call alone. Outcomes are in statement order and
// include everything that ran before a halt.
func (o *Orchestrator) Execute(ctx context.Context, raw string, caller sqlexec.CallerContext) ([]sqlexec.Outcome, error) {
	statements := o.splitter.Split(raw)
	if len(statements) == 0 {
		return nil, errors.NewEmptyInput()
	}

	var outcomes []sqlexec.Outcome

	err := o.withSession(ctx, accessMode(caller), func(s storage.Session) error {
		outcomes = o.run(ctx, s, statements, caller)
		return nil
	})

	return outcomes, err
}

// Answer derives the schema summary, asks the generator for SQL and runs it,
// all on one connection.
func (o *Orchestrator) Answer(ctx context.Context, question string, caller sqlexec.CallerContext) (*Answer, error) {
	if o.generator == nil {
		return nil, errors.New(errors.ErrTypeConfig, "no SQL generator configured")
	}

	var answer *Answer

	err := o.withSession(ctx, accessMode(caller), func(s storage.Session) error {
		schema, err := storage.Introspect(ctx, s)
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeEngine, "failed to read schema")
		}

		parsed, err := o.generator.Parse(ctx, question, schema)
		if err != nil {
			return err
		}

		statements := o.splitter.Split(parsed.SQL)
		if len(statements) == 0 {
			return errors.NewEmptyInput()
		}

		answer = &Answer{
			Question:  parsed.Question,
			SQL:       parsed.SQL,
			Rationale: parsed.Rationale,
			Outcomes:  o.run(ctx, s, statements, caller),
		}

		return nil
	})

	return answer, err
}

// DescribeSchema summarizes the database as it is right now.
func (o *Orchestrator) DescribeSchema(ctx context.Context) (types.Schema, error) {
	var schema types.Schema

	err := o.withSession(ctx, storage.ReadOnly, func(s storage.Session) error {
		var err error

		schema, err = storage.Introspect(ctx, s)
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeEngine, "failed to read schema")
		}

		return nil
	})

	return schema, err
}

// withSession opens a session, runs fn and closes the session on every path.
func (o *Orchestrator) withSession(ctx context.Context, mode storage.AccessMode, fn func(storage.Session) error) (err error) {
	s, err := o.connector.Connect(ctx, mode)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := s.Close(); cerr != nil {
			o.logger.WithError(cerr).Warn("failed to close session")

			if err == nil {
				err = errors.NewResourceError(cerr, "close connection")
			}
		}
	}()

	return fn(s)
}

func (o *Orchestrator) run(
	ctx context.Context,
	s storage.Session,
	statements []sqlexec.Statement,
	caller sqlexec.CallerContext,
) []sqlexec.Outcome {
	log := o.logger.WithFields(map[string]any{
		"batch":      uuid.NewString(),
		"caller":     caller.String(),
		"statements": len(statements),
	})

	exec := sqlexec.NewExecutor(s, sqlexec.WithStatementTimeout(o.timeout), sqlexec.WithLogger(log))
	outcomes := make([]sqlexec.Outcome, 0, len(statements))

	for _, stmt := range statements {
		kind := o.classifier.Classify(stmt)

		var out sqlexec.Outcome

		if decision := o.gate.Decide(kind, caller); decision.Allowed {
			start := time.Now()
			out = exec.Execute(ctx, stmt, kind)
			o.metrics.StatementSeconds.With(kind.String()).Observe(time.Since(start).Seconds())
		} else {
			out = &sqlexec.Denied{Statement: stmt, Reason: decision.Reason}
		}

		o.metrics.Statements.With(kind.String(), outcomeLabel(out)).Inc()
		outcomes = append(outcomes, out)

		if o.stops(out) {
			break
		}
	}

	result := "ok"
	if len(outcomes) < len(statements) {
		result = "halted"
	}

	if out := exec.RollbackOpen(context.WithoutCancel(ctx)); out != nil {
		log.Warn("batch ended inside an open transaction; rolled back")
		o.metrics.Statements.With(sqlexec.Mutating.String(), outcomeLabel(out)).Inc()

		outcomes = append(outcomes, out)
		result = "rolled_back"
	}

	o.metrics.Batches.With(caller.String(), result).Inc()
	log.Debugf("batch finished with %d of %d outcomes", len(outcomes), len(statements))

	return outcomes
}

func (o *Orchestrator) stops(out sqlexec.Outcome) bool {
	if !sqlexec.Halts(out) {
		return false
	}

	if !o.continueOnError {
		return true
	}

	f, ok := out.(*sqlexec.Failed)

	return ok && sqlexec.ConnectionLost(f.Err)
}

func accessMode(caller sqlexec.CallerContext) storage.AccessMode {
	if caller == sqlexec.Restricted {
		return storage.ReadOnly
	}

	return storage.ReadWrite
}

func outcomeLabel(out sqlexec.Outcome) string {
	switch out.(type) {
	case *sqlexec.RowSet:
		return "rows"
	case *sqlexec.MutationResult:
		return "mutation"
	case *sqlexec.Denied:
		return "denied"
	default:
		return "failed"
	}
}
