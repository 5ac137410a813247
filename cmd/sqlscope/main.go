package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nnaka2992/sqlscope/internal/config"
	"github.com/nnaka2992/sqlscope/internal/report"
	"github.com/nnaka2992/sqlscope/internal/server"
	"github.com/nnaka2992/sqlscope/internal/watch"
)

var version = "0.1.0"

// Exit codes
const (
	exitOK       = 0
	exitError    = 1
	exitAnalysis = 2
	exitFindings = 3
)

// exitCodeError carries the process exit code of a failed run
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }

func (e *exitCodeError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	cmd := a.buildCommand()
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return determineExitCode(err)
	}
	return exitOK
}

// app holds the state shared by the commands of one run
type app struct {
	cfgFile    string
	inputFiles []string
	planFile   string

	cfg       *config.Config
	logger    *slog.Logger
	assembler *report.Assembler
}

func (a *app) buildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sqlscope [SQL]",
		Short: "Structural SQL analyzer",
		Long: `sqlscope reports the tables, columns, conditions and joins of SQL
statements. Oracle dialect features such as (+) outer joins and ROWNUM
are recognised. Other variants give statement statistics, Oracle
anti-pattern findings, or a reading of DBMS_XPLAN output.`,
		Version:           version,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.analyze(cmd, args, a.inputFiles, a.cfg.FormatValue())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default sqlscope.yaml in the working directory)")
	flags.String("format", config.DefaultFormat, "report variant: structural, statistics, oracle-lint, explain-plan")
	flags.StringP("output", "o", config.DefaultOutput, "output format: text, json, yaml")
	flags.Bool("no-color", false, "disable colored output")
	flags.Bool("verbose", false, "verbose output")
	flags.Int("max-input-bytes", 0, "reject input larger than this many bytes")
	flags.Int("column-lookahead", 0, "characters after a bare identifier searched for an operator")
	flags.Int("condition-display-limit", 0, "maximum displayed length of a condition's right side")
	flags.Int("degraded-left-limit", 0, "maximum length kept for a predicate without operator")
	flags.Int64("high-cost-threshold", 0, "plan operation cost reported as high")
	flags.Float64("high-cost-ratio", 0, "share of the total plan cost reported as dominant")
	flags.String("fail-on", "", "exit with code 3 when a finding has at least this severity")
	flags.StringSlice("disable", nil, "lint rule ids to switch off")

	cmd.Flags().StringArrayVarP(&a.inputFiles, "file", "f", nil, "read SQL from file (repeatable, files are analyzed in order)")

	cmd.AddCommand(a.planCommand(), a.watchCommand(), a.serveCommand())
	return cmd
}

func (a *app) planCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [PLAN]",
		Short: "Read DBMS_XPLAN output and report plan anti-patterns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if a.planFile != "" {
				files = []string{a.planFile}
			}
			return a.analyze(cmd, args, files, report.FormatExplainPlan)
		},
	}
	cmd.Flags().StringVarP(&a.planFile, "file", "f", "", "read the plan from file")
	return cmd
}

func (a *app) watchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-analyze a SQL file every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			w := watch.New(args[0], a.cfg.Watch.Debounce, func(content string) {
				doc, err := a.assembler.Assemble(content, a.cfg.FormatValue())
				if err != nil {
					a.logger.Error("analysis failed", "file", args[0], "error", err)
					return
				}
				if err := a.write(out, doc); err != nil {
					a.logger.Error("writing report", "error", err)
				}
			}, watch.WithLogger(a.logger))
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().Duration("debounce", config.DefaultDebounce, "wait this long after the last change before analyzing")
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyzer over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := server.New(a.assembler, server.Options{
				Addr:          a.cfg.Server.Addr,
				Format:        a.cfg.FormatValue(),
				MaxInputBytes: a.cfg.MaxInputBytes,
				Logger:        a.logger,
			})
			return s.Serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", config.DefaultAddr, "listen address")
	return cmd
}

// setup loads the configuration and builds the logger and the pipeline
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel()}))
	if cfg.File != "" {
		a.logger.Debug("loaded config file", "file", cfg.File)
	}

	assembler, err := report.NewAssembler(cfg.ReportOptions(a.logger))
	if err != nil {
		return err
	}
	a.assembler = assembler
	return nil
}

func (a *app) analyze(cmd *cobra.Command, args []string, files []string, format report.Format) error {
	doc, err := a.assemble(cmd, args, files, format)
	if errors.Is(err, report.ErrReadInput) {
		return err
	}
	if err != nil {
		return &exitCodeError{code: exitAnalysis, err: fmt.Errorf("analysis error: %w", err)}
	}
	if err := a.write(cmd.OutOrStdout(), doc); err != nil {
		return err
	}

	if doc.Summary.Failed > 0 {
		return &exitCodeError{code: exitAnalysis, err: fmt.Errorf("%d of %d statements could not be analyzed", doc.Summary.Failed, doc.Summary.TotalStatements)}
	}
	if threshold, ok := a.cfg.FailOn(); ok {
		if top, found := doc.MaxSeverity(); found && top >= threshold {
			return &exitCodeError{code: exitFindings, err: fmt.Errorf("findings at or above %s", threshold)}
		}
	}
	return nil
}

func (a *app) write(w io.Writer, doc *report.Document) error {
	opts := report.TextOptions{Color: !a.cfg.NoColor && !color.NoColor}
	return report.Write(w, doc, a.cfg.Encoding(), opts)
}

// assemble analyzes the input from the file flag, the argument or stdin,
// in that order of priority
func (a *app) assemble(cmd *cobra.Command, args []string, files []string, format report.Format) (*report.Document, error) {
	if len(files) > 0 {
		return a.assembler.AssembleFiles(files, format)
	}
	input, err := a.readInput(cmd, args)
	if err != nil {
		return nil, err
	}
	return a.assembler.Assemble(input, format)
}

// readInput retrieves the input from the argument or stdin
func (a *app) readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("%w stdin: %w", report.ErrReadInput, err)
		}
		return string(content), nil
	}

	_ = cmd.Usage()
	return "", fmt.Errorf("%w: no input provided", report.ErrReadInput)
}

func determineExitCode(err error) int {
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitError
}
