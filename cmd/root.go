// Package cmd provides the root command and CLI setup for autocov.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mouse-blink/autocov/internal/config"
	"github.com/mouse-blink/autocov/internal/controller"
	"github.com/mouse-blink/autocov/internal/domain"
	apperr "github.com/mouse-blink/autocov/internal/errors"
	m "github.com/mouse-blink/autocov/internal/model"
)

const rootLongDescription = `AutoCov raises the test coverage of a Go module by asking a language
model for new tests, keeping only the ones that pass, break nothing and
cover lines that were not covered before.

Each iteration measures coverage, groups uncovered lines into regions,
picks the highest priority targets, generates candidate tests for them,
validates every candidate in a scratch copy and merges the accepted ones.
The loop stops when the threshold is reached (exit 0), when it stops
making progress (exit 1) or on a fatal error (exit 2).`

// runFlags are the overrides the root command accepts on top of the config file.
type runFlags struct {
	target        float64
	maxIterations int
	batchSize     int
	exhaustAfter  int
	stallWindow   int
	candidates    int
	parallel      int
	timeout       time.Duration
	model         string
	baseURL       string
	review        bool
	history       string
	noHistory     bool
	metricsAddr   string
	exclude       []string
	testPaths     []string
}

var configFlag string
var logLevelFlag string
var flags runFlags

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "autocov [project]",
		Short:         "Generate Go tests until a coverage threshold is reached",
		Long:          rootLongDescription,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoverage(cmd, projectArg(args))
		},
	}

	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to the config file (default <project>/autocov.toml)")
	cmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "log level: debug, info, warn or error")

	f := cmd.Flags()
	f.Float64VarP(&flags.target, "target", "t", config.DefaultThreshold, "coverage threshold in percent")
	f.IntVarP(&flags.maxIterations, "max-iterations", "n", config.DefaultMaxIterations, "maximum number of iterations")
	f.IntVar(&flags.batchSize, "batch-size", config.DefaultBatchSize, "targets selected per iteration")
	f.IntVar(&flags.exhaustAfter, "exhaust-after", config.DefaultExhaustAfter, "retire a target after this many attempts without an accepted test")
	f.IntVar(&flags.stallWindow, "stall-window", config.DefaultStallWindow, "stop after this many iterations without a coverage gain")
	f.IntVar(&flags.candidates, "candidates", config.DefaultCandidatesPerTarget, "candidate tests requested per target")
	f.IntVarP(&flags.parallel, "parallel", "p", 0, "targets generated and validated concurrently (default number of CPUs)")
	f.DurationVar(&flags.timeout, "timeout", config.DefaultTimeout, "timeout of one generation request")
	f.StringVar(&flags.model, "model", config.DefaultModel, "model used for generation")
	f.StringVar(&flags.baseURL, "base-url", config.DefaultBaseURL, "OpenAI compatible API base URL")
	f.BoolVar(&flags.review, "review", false, "ask before merging each accepted test")
	f.StringVar(&flags.history, "history", config.DefaultHistoryFile, "iteration log database, relative to the project")
	f.BoolVar(&flags.noHistory, "no-history", false, "do not record iterations")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.StringArrayVarP(&flags.exclude, "exclude", "x", nil, "exclude files matching glob from coverage (can be repeated)")
	f.StringSliceVar(&flags.testPaths, "test-paths", nil, "package patterns passed to go test (default ./...)")

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", exit.err)
		}

		os.Exit(exit.code)
	}

	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(2)
}

// exitError carries the process exit code of a finished run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}

	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

// ExitCode returns the code the process should exit with for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	return 2
}

func runCoverage(cmd *cobra.Command, project string) error {
	cfg, err := loadConfig(project)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	applyRunFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return &exitError{code: 2, err: err}
	}

	logger := newLogger(cmd.ErrOrStderr(), logLevelFlag)
	logger.Info("starting", "root", cfg.ProjectRoot, "config", cfg.String())

	stopMetrics := startMetricsServer(flags.metricsAddr, logger)
	defer stopMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := newRunUI(cmd, cfg)

	wf, closeApp, err := buildRunWorkflow(ctx, cmd, cfg, ui, logger)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer closeApp()

	if err := ui.Start(controller.WithRunMode(cfg.ThresholdRatio())); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("start ui: %w", err)}
	}

	report := wf.Run(ctx, domain.RunArgs{
		Root:          m.Path(cfg.ProjectRoot),
		Threshold:     cfg.ThresholdRatio(),
		MaxIterations: cfg.MaxIterations,
		BatchSize:     cfg.BatchSize,
		ExhaustAfter:  cfg.ExhaustAfter,
		StallWindow:   cfg.StallWindow,
		Parallelism:   cfg.Parallelism,
		TestPaths:     cfg.TestPaths,
	})

	if err := ui.DisplayReport(report); err != nil {
		logger.Warn("display report", "error", err)
	}

	if !domain.IsCancelled(report) {
		ui.Wait()
	}

	ui.Close()

	if code := report.ExitCode(); code != 0 {
		var cause error
		if apperr.Fatal(report.Err) && !domain.IsCancelled(report) {
			cause = report.Err
		}

		return &exitError{code: code, err: cause}
	}

	return nil
}

// newRunUI picks the output for a run. Review prompts read from the terminal,
// so they always use plain output.
func newRunUI(cmd *cobra.Command, cfg *config.Config) controller.UI {
	if cfg.Review {
		return controller.NewSimpleUI(cmd)
	}

	return controller.NewUI(cmd, controller.IsTTY(cmd.OutOrStdout()))
}

// applyRunFlags overrides config values with the flags given explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("target") {
		cfg.Threshold = flags.target
	}

	if changed("max-iterations") {
		cfg.MaxIterations = flags.maxIterations
	}

	if changed("batch-size") {
		cfg.BatchSize = flags.batchSize
	}

	if changed("exhaust-after") {
		cfg.ExhaustAfter = flags.exhaustAfter
	}

	if changed("stall-window") {
		cfg.StallWindow = flags.stallWindow
	}

	if changed("candidates") {
		cfg.Generation.CandidatesPerTarget = flags.candidates
	}

	if changed("parallel") {
		cfg.Parallelism = flags.parallel
	}

	if changed("timeout") {
		cfg.Generation.Timeout = flags.timeout
	}

	if changed("model") {
		cfg.Generation.Model = flags.model
	}

	if changed("base-url") {
		cfg.Generation.BaseURL = flags.baseURL
	}

	if changed("review") {
		cfg.Review = flags.review
	}

	if changed("history") {
		cfg.History.Path = flags.history
	}

	if changed("no-history") {
		cfg.History.Disabled = flags.noHistory
	}

	if changed("exclude") {
		cfg.Coverage.Exclude = append(cfg.Coverage.Exclude, flags.exclude...)
	}

	if changed("test-paths") {
		cfg.TestPaths = flags.testPaths
	}
}

func projectArg(args []string) string {
	if len(args) == 0 {
		return "."
	}

	return args[0]
}

// runTimeout bounds provider calls made before the loop starts.
const runTimeout = 15 * time.Second

func withStartupTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, runTimeout)
}
