package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mouse-blink/autocov/internal/adapter"
	"github.com/mouse-blink/autocov/internal/config"
	"github.com/mouse-blink/autocov/internal/controller"
	"github.com/mouse-blink/autocov/internal/domain"
	apperr "github.com/mouse-blink/autocov/internal/errors"
	m "github.com/mouse-blink/autocov/internal/model"
)

// Seams replaced in tests.
var (
	newWorkflow  = domain.NewWorkflow
	resolveModel = func(ctx context.Context, backend *adapter.OpenAIBackend, fallback string) (string, error) {
		return backend.ResolveModel(ctx, fallback)
	}
	getenv = os.Getenv
)

// loadConfig resolves project to the root of its Go module and loads that
// module's configuration.
func loadConfig(project string) (*config.Config, error) {
	path, err := adapter.NormalizeProjectPath(project)
	if err != nil {
		return nil, apperr.Configuration("project path %s: %v", project, err)
	}

	fs := adapter.NewLocalSourceFSAdapter()

	info, err := fs.FileInfo(path)
	if err != nil {
		return nil, apperr.Configuration("project path %s: %v", path, err)
	}

	if !info.IsDir() {
		return nil, apperr.Configuration("project path %s is not a directory", path)
	}

	root, err := fs.FindProjectRoot(path)
	if err != nil {
		return nil, apperr.Configuration("project path %s is not inside a Go module: %v", path, err)
	}

	return config.Load(string(root), configFlag)
}

func newLogger(output io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		logLevel = slog.LevelWarn
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	return logger
}

// startMetricsServer serves /metrics until the returned stop func is called.
func startMetricsServer(addr string, logger *slog.Logger) func() {
	if strings.TrimSpace(addr) == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("metrics server starting", "addr", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = server.Shutdown(ctx)
	}
}

// analysisDeps wires the collaborators needed to measure and analyze a project.
func analysisDeps(cfg *config.Config, logger *slog.Logger) (domain.Dependencies, error) {
	fs := adapter.NewLocalSourceFSAdapter()

	coverage, err := adapter.NewGoCoverageBackend(fs, adapter.NewLocalTestRunnerAdapter(), cfg.Coverage.Exclude)
	if err != nil {
		return domain.Dependencies{}, apperr.Configuration("coverage.exclude: %v", err)
	}

	return domain.Dependencies{
		FS:       fs,
		GoFiles:  adapter.NewLocalGoFileAdapter(fs),
		Coverage: coverage,
		Locks:    domain.NewLockRegistry(),
		Logger:   logger,
	}, nil
}

// buildRunWorkflow resolves credentials and wires every collaborator of a run.
// The returned func releases the iteration log.
func buildRunWorkflow(ctx context.Context, cmd *cobra.Command, cfg *config.Config, ui controller.UI,
	logger *slog.Logger,
) (domain.Workflow, func(), error) {
	if err := cfg.ResolveAPIKey(getenv); err != nil {
		return nil, nil, err
	}

	deps, err := analysisDeps(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	backend := adapter.NewOpenAIBackend(adapter.OpenAIConfig{
		APIKey:            cfg.Generation.APIKey,
		BaseURL:           cfg.Generation.BaseURL,
		Model:             cfg.Generation.Model,
		Temperature:       cfg.Generation.Temperature,
		RequestsPerMinute: cfg.Generation.RequestsPerMinute,
	}, logger)

	startCtx, cancel := withStartupTimeout(ctx)
	model, err := resolveModel(startCtx, backend, config.DefaultModel)
	cancel()

	if err != nil {
		logger.Warn("could not verify model", "model", model, "error", err)
	}

	logger.Info("generation backend", "model", backend.Model(), "base_url", cfg.Generation.BaseURL)

	deps.Generator = domain.NewGenerator(backend, domain.GeneratorOptions{
		CandidatesPerTarget: cfg.Generation.CandidatesPerTarget,
		Timeout:             cfg.Generation.Timeout,
	}, logger)

	deps.Validator = domain.NewValidator(deps.FS, deps.Coverage, deps.Locks, domain.ValidatorOptions{
		Root:      m.Path(cfg.ProjectRoot),
		TestPaths: cfg.TestPaths,
	}, logger)

	deps.Observer = ui

	if cfg.Review {
		deps.Reviewer = controller.NewPromptReviewer(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	iterationLog := openIterationLog(cfg, logger)
	deps.Log = iterationLog

	return newWorkflow(deps), func() {
		if err := iterationLog.Close(); err != nil {
			logger.Warn("close iteration log", "error", err)
		}
	}, nil
}

// openIterationLog falls back to a no-op log; history is never required for a run.
func openIterationLog(cfg *config.Config, logger *slog.Logger) adapter.IterationLog {
	if cfg.History.Disabled {
		return adapter.NopIterationLog{}
	}

	iterationLog, err := adapter.OpenIterationLog(cfg.HistoryPath())
	if err != nil {
		logger.Warn("iteration log disabled", "path", cfg.HistoryPath(), "error", err)
		return adapter.NopIterationLog{}
	}

	logger.Debug("iteration log opened", "path", iterationLog.Path())

	return iterationLog
}
