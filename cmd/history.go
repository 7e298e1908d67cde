package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mouse-blink/autocov/internal/adapter"
	"github.com/mouse-blink/autocov/internal/controller"
	m "github.com/mouse-blink/autocov/internal/model"
)

var historyFormatFlag string

// historyCmd represents the history command.
var historyCmd = newHistoryCmd()

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [project]",
		Short: "Show recorded iterations of previous runs",
		Long:  "Show the iterations previous runs recorded in the project's iteration log.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, projectArg(args))
		},
	}
	cmd.Flags().StringVarP(&historyFormatFlag, "format", "f", "table", "output format: table or yaml")

	return cmd
}

func runHistory(cmd *cobra.Command, project string) error {
	if historyFormatFlag != "table" && historyFormatFlag != "yaml" {
		return &exitError{code: 2, err: fmt.Errorf("unknown format %q, want table or yaml", historyFormatFlag)}
	}

	cfg, err := loadConfig(project)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	records, err := loadHistory(cfg.HistoryPath(), cfg.ProjectRoot)
	if err != nil {
		return err
	}

	if historyFormatFlag == "yaml" {
		return writeHistoryYAML(cmd, records)
	}

	return controller.NewUI(cmd, controller.IsTTY(cmd.OutOrStdout())).DisplayHistory(records)
}

// loadHistory reads the records of root; a missing log has no records.
func loadHistory(path, root string) ([]m.IterationRecord, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	iterationLog, err := adapter.OpenIterationLog(path)
	if err != nil {
		return nil, err
	}
	defer iterationLog.Close()

	records, err := iterationLog.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return records, nil
}

type historyEntry struct {
	Run                string         `yaml:"run"`
	Iteration          int            `yaml:"iteration"`
	StartedAt          time.Time      `yaml:"started_at"`
	FinishedAt         time.Time      `yaml:"finished_at"`
	CoverageBefore     float64        `yaml:"coverage_before"`
	CoverageAfter      float64        `yaml:"coverage_after"`
	Targets            int            `yaml:"targets"`
	Accepted           int            `yaml:"accepted"`
	Rejected           int            `yaml:"rejected"`
	Rejections         map[string]int `yaml:"rejections,omitempty"`
	GenerationFailures int            `yaml:"generation_failures,omitempty"`
	FailureReasons     map[string]int `yaml:"failure_reasons,omitempty"`
}

func writeHistoryYAML(cmd *cobra.Command, records []m.IterationRecord) error {
	entries := make([]historyEntry, 0, len(records))

	for _, rec := range records {
		var rejections map[string]int
		if len(rec.Rejections) > 0 {
			rejections = make(map[string]int, len(rec.Rejections))
			for reason, n := range rec.Rejections {
				rejections[string(reason)] = n
			}
		}

		var failures map[string]int
		if len(rec.FailureReasons) > 0 {
			failures = make(map[string]int, len(rec.FailureReasons))
			for reason, n := range rec.FailureReasons {
				failures[string(reason)] = n
			}
		}

		entries = append(entries, historyEntry{
			Run:                rec.RunID,
			Iteration:          rec.Number,
			StartedAt:          rec.StartedAt.UTC(),
			FinishedAt:         rec.FinishedAt.UTC(),
			CoverageBefore:     rec.CoverageBefore,
			CoverageAfter:      rec.CoverageAfter,
			Targets:            rec.Targets,
			Accepted:           rec.Accepted,
			Rejected:           rec.Rejected,
			Rejections:         rejections,
			GenerationFailures: rec.GenerationFailures,
			FailureReasons:     failures,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)

	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	return enc.Close()
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
