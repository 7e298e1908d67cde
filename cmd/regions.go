package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mouse-blink/autocov/internal/controller"
	m "github.com/mouse-blink/autocov/internal/model"
)

const regionsLongDescription = `Measure coverage once and print the uncovered regions of the project as
generation targets, in the order a run would pick them.

Mutually recursive functions are collapsed into a single macro target.`

var regionsLimitFlag int
var regionsExcludeFlags []string

// regionsCmd represents the regions command.
var regionsCmd = newRegionsCmd()

func newRegionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions [project]",
		Short: "List uncovered regions in priority order",
		Long:  regionsLongDescription,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegions(cmd, projectArg(args))
		},
	}
	cmd.Flags().IntVarP(&regionsLimitFlag, "limit", "l", 0, "show at most this many targets (0 shows all)")
	cmd.Flags().StringArrayVarP(&regionsExcludeFlags, "exclude", "x", nil, "exclude files matching glob from coverage (can be repeated)")

	return cmd
}

func runRegions(cmd *cobra.Command, project string) error {
	cfg, err := loadConfig(project)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	cfg.Coverage.Exclude = append(cfg.Coverage.Exclude, regionsExcludeFlags...)

	logger := newLogger(cmd.ErrOrStderr(), logLevelFlag)

	deps, err := analysisDeps(cfg, logger)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	meas, graph, err := newWorkflow(deps).Analyze(ctx, m.Path(cfg.ProjectRoot), cfg.TestPaths)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("analyze %s: %w", cfg.ProjectRoot, err)}
	}

	if regionsLimitFlag > 0 && len(graph.Targets) > regionsLimitFlag {
		graph.Targets = graph.Targets[:regionsLimitFlag]
	}

	ui := controller.NewUI(cmd, controller.IsTTY(cmd.OutOrStdout()))
	if err := ui.DisplayTargets(meas, graph); err != nil {
		return err
	}

	ui.Wait()
	ui.Close()

	return nil
}

func init() {
	rootCmd.AddCommand(regionsCmd)
}
