package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/formatter"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/telemetry"
)

const prompt = "Ask a question> "

func (a *App) askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question with generated SQL",
		ArgsUsage: "[question]",
		Description: `Generate SQL for a question, run it and print the results. Without a question,
start an interactive prompt; type 'exit' or 'quit' to leave.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "restricted", Usage: "only run read-only statements"},
			&cli.StringFlag{Name: "format", Value: string(formatter.FormatTable), Usage: "output format: table or json"},
			&cli.StringFlag{Name: "model", Usage: "override the configured model"},
		},
		Action: a.runAsk,
	}
}

func (a *App) runAsk(ctx context.Context, cmd *cli.Command) error {
	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}

	if cmd.IsSet("model") {
		cfg.LLM.Model = cmd.String("model")
	}

	caller, err := callerFor(cfg, cmd.Bool("restricted"))
	if err != nil {
		return err
	}

	connector, err := newConnector(cfg)
	if err != nil {
		return err
	}

	gen, err := a.NewGenerator(cfg, telemetry.Noop())
	if err != nil {
		return err
	}

	orch := newOrchestrator(cfg, connector, gateway.WithGenerator(gen))
	f := formatter.NewFormatter(formatter.OutputFormat(cmd.String("format")))

	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question != "" {
		return a.answer(ctx, orch, f, question, caller)
	}

	fmt.Fprintf(a.Out, "Connected to %s\n", connector.Locator())
	fmt.Fprintln(a.Out, "Type 'exit' or Ctrl+C to quit.")

	return a.interactive(ctx, orch, f, caller)
}

func (a *App) answer(
	ctx context.Context,
	orch *gateway.Orchestrator,
	f *formatter.Formatter,
	question string,
	caller sqlexec.CallerContext,
) error {
	stop := a.startSpinner(" Generating SQL...")
	answer, err := orch.Answer(ctx, question, caller)
	stop()

	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, f.FormatAnswer(answer))

	return nil
}

func (a *App) interactive(
	ctx context.Context,
	orch *gateway.Orchestrator,
	f *formatter.Formatter,
	caller sqlexec.CallerContext,
) error {
	scanner := bufio.NewScanner(a.In)

	for ctx.Err() == nil {
		fmt.Fprint(a.Out, "\n"+prompt)

		if !scanner.Scan() {
			fmt.Fprintln(a.Out, "\nBye!")
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(a.Out, "Bye!")
			return nil
		}

		if err := a.answer(ctx, orch, f, question, caller); err != nil {
			fmt.Fprintf(a.Out, "Query failed: %s\n", errors.Message(err))
		}
	}

	return nil
}

// startSpinner shows progress on stderr and returns its stop func. The spinner
// stays silent when stderr is not a terminal.
func (a *App) startSpinner(suffix string) func() {
	file, ok := a.ErrOut.(*os.File)
	if !ok {
		return func() {}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriterFile(file),
		spinner.WithSuffix(suffix),
		spinner.WithHiddenCursor(true),
	)
	s.Start()

	return s.Stop
}
