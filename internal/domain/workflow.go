// Package domain drives the coverage loop: measure, analyze, generate,
// validate, merge, and measure again.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mouse-blink/autocov/internal/adapter"
	apperr "github.com/mouse-blink/autocov/internal/errors"
	m "github.com/mouse-blink/autocov/internal/model"
)

// RunArgs holds the tunables of one run.
type RunArgs struct {
	Root m.Path
	// Threshold is the target overall coverage ratio in [0, 1].
	Threshold     float64
	MaxIterations int
	// BatchSize is the number of targets selected per iteration.
	BatchSize int
	// ExhaustAfter retires a target after this many consecutive attempts
	// without an accepted candidate.
	ExhaustAfter int
	// StallWindow stops the run after this many consecutive iterations
	// without a coverage gain.
	StallWindow int
	Parallelism int
	TestPaths   []string
}

// Workflow defines the coverage loop operations.
type Workflow interface {
	// Run drives the loop to Done, Stalled or Failed.
	Run(ctx context.Context, args RunArgs) m.Report
	// Analyze measures once and builds the target graph without generating.
	Analyze(ctx context.Context, root m.Path, testPaths []string) (m.Measurement, m.Graph, error)
}

// Dependencies are the collaborators of a Workflow. Nil optional fields get
// defaults.
type Dependencies struct {
	FS        adapter.SourceFSAdapter
	GoFiles   adapter.GoFileAdapter
	Coverage  adapter.CoverageBackend
	Generator Generator
	Validator Validator
	Context   ContextBuilder
	Graph     GraphBuilder
	Merger    Merger
	Reviewer  Reviewer
	Observer  Observer
	Log       adapter.IterationLog
	Locks     *LockRegistry
	Logger    *slog.Logger
}

type workflow struct {
	Dependencies
}

// NewWorkflow creates a new Workflow instance with the provided collaborators.
func NewWorkflow(deps Dependencies) Workflow {
	if deps.Context == nil {
		deps.Context = NewContextBuilder(deps.FS)
	}

	if deps.Graph == nil {
		deps.Graph = NewGraphBuilder()
	}

	if deps.Merger == nil {
		deps.Merger = NewMerger(deps.FS)
	}

	if deps.Reviewer == nil {
		deps.Reviewer = AutoApprove{}
	}

	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}

	if deps.Log == nil {
		deps.Log = adapter.NopIterationLog{}
	}

	if deps.Locks == nil {
		deps.Locks = NewLockRegistry()
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &workflow{Dependencies: deps}
}

// run is the mutable state of one Run call.
type run struct {
	args     RunArgs
	report   m.Report
	current  m.Measurement
	tracker  *exhaustionTracker
	stallRun int
	logger   *slog.Logger
}

func (w *workflow) Run(ctx context.Context, args RunArgs) m.Report {
	r := &run{
		args:    args,
		report:  m.Report{RunID: uuid.NewString(), State: m.StateIdle},
		tracker: newExhaustionTracker(args.ExhaustAfter),
	}
	r.logger = w.Logger.With("run", r.report.RunID, "root", args.Root)

	ctx, span := tracer.Start(ctx, "Workflow.Run", trace.WithAttributes(
		attribute.String("autocov.run", r.report.RunID),
		attribute.Float64("autocov.threshold", args.Threshold),
	))
	defer span.End()

	report := w.run(ctx, r)
	if report.Err != nil {
		span.SetStatus(codes.Error, report.Err.Error())
	}

	return report
}

func (w *workflow) run(ctx context.Context, r *run) m.Report {
	if err := w.validateArgs(r.args); err != nil {
		return w.finish(r, m.StateFailed, "configuration", err)
	}

	if err := ctx.Err(); err != nil {
		return w.finish(r, m.StateFailed, "cancelled", apperr.Cancelled(err))
	}

	w.transition(r, m.StateMeasuring)

	initial, err := w.measure(ctx, r.args.Root, r.args.TestPaths)
	if err != nil {
		return w.finish(r, m.StateFailed, failureReason(err, "coverage backend"), err)
	}

	r.current = initial
	w.Observer.Measured(initial.Snapshot.OverallRatio())
	r.logger.Info("initial coverage", "ratio", initial.Snapshot.OverallRatio())

	if initial.Snapshot.OverallRatio() >= r.args.Threshold {
		return w.finish(r, m.StateDone, "threshold met", nil)
	}

	for n := 1; n <= r.args.MaxIterations; n++ {
		state, reason, err := w.iterate(ctx, r, n)
		if state.Terminal() {
			return w.finish(r, state, reason, err)
		}
	}

	return w.finish(r, m.StateStalled, "max iterations reached", nil)
}

// iterate runs one Analyzing → Measuring cycle. A non-terminal state means
// the loop continues.
func (w *workflow) iterate(ctx context.Context, r *run, n int) (m.State, string, error) {
	if err := ctx.Err(); err != nil {
		return m.StateFailed, "cancelled", apperr.Cancelled(err)
	}

	ctx, span := tracer.Start(ctx, "Workflow.Iteration", trace.WithAttributes(attribute.Int("autocov.iteration", n)))
	defer span.End()

	rec := m.IterationRecord{
		RunID:          r.report.RunID,
		Number:         n,
		CoverageBefore: r.current.Snapshot.OverallRatio(),
		Rejections:     make(map[m.RejectionReason]int),
		FailureReasons: make(map[m.GenerationFailure]int),
		StartedAt:      time.Now(),
	}

	w.transition(r, m.StateAnalyzing)

	started := time.Now()

	index, graph, err := w.analyze(r.args.Root, r.current)
	if err != nil {
		return m.StateFailed, "analysis", err
	}

	PhaseDuration.WithLabelValues("analyze").Observe(time.Since(started).Seconds())
	GraphTargets.Set(float64(len(graph.Targets)))

	selected := selectTargets(graph.Targets, r.tracker, r.args.BatchSize)
	if len(selected) == 0 {
		return m.StateStalled, "no selectable targets", nil
	}

	rec.Targets = len(selected)
	w.Observer.TargetsSelected(n, selected)
	r.logger.Info("targets selected", "iteration", n, "count", len(selected), "graph_targets", len(graph.Targets))

	w.transition(r, m.StateGenerating)

	started = time.Now()

	results, cancelled := w.processBatches(ctx, r, index, partitionBatches(selected))

	PhaseDuration.WithLabelValues("generate_validate").Observe(time.Since(started).Seconds())

	if cancelled {
		return m.StateFailed, "cancelled", apperr.Cancelled(ctx.Err())
	}

	w.transition(r, m.StateValidating)

	approved := w.review(ctx, r, results, &rec)

	for _, res := range results {
		r.tracker.Record(res.target.ID, res.approved)
	}

	if err := ctx.Err(); err != nil {
		return m.StateFailed, "cancelled", apperr.Cancelled(err)
	}

	next := r.current

	if len(approved) > 0 {
		w.transition(r, m.StateMerging)

		merged, err := w.Merger.Merge(r.args.Root, approved)
		if err != nil {
			return m.StateFailed, "merge", fmt.Errorf("merge accepted candidates: %w", err)
		}

		if err := ctx.Err(); err != nil {
			return m.StateFailed, "cancelled", apperr.Cancelled(err)
		}

		w.transition(r, m.StateMeasuring)

		next, err = w.measure(ctx, r.args.Root, r.args.TestPaths)
		if err != nil {
			r.logger.Error("re-measure failed after merge", "merged", merged, "error", err)
			return m.StateFailed, failureReason(err, "coverage backend"), err
		}

		w.Observer.Measured(next.Snapshot.OverallRatio())
	}

	r.current = next
	rec.CoverageAfter = next.Snapshot.OverallRatio()
	rec.FinishedAt = time.Now()

	w.appendRecord(r, rec)

	if rec.CoverageAfter >= r.args.Threshold {
		return m.StateDone, "threshold met", nil
	}

	if rec.Gained() {
		r.stallRun = 0
	} else {
		r.stallRun++
	}

	if r.stallRun >= r.args.StallWindow {
		return m.StateStalled, fmt.Sprintf("no coverage gain in %d consecutive iterations", r.stallRun), nil
	}

	return m.StateAnalyzing, "", nil
}

func (w *workflow) Analyze(ctx context.Context, root m.Path, testPaths []string) (m.Measurement, m.Graph, error) {
	meas, err := w.measure(ctx, root, testPaths)
	if err != nil {
		return m.Measurement{}, m.Graph{}, err
	}

	_, graph, err := w.analyze(root, meas)
	if err != nil {
		return m.Measurement{}, m.Graph{}, err
	}

	return meas, graph, nil
}

func (w *workflow) analyze(root m.Path, meas m.Measurement) (m.SourceIndex, m.Graph, error) {
	sources, err := w.FS.GoSources(root)
	if err != nil {
		return nil, m.Graph{}, fmt.Errorf("list sources: %w", err)
	}

	index, err := w.GoFiles.Index(root, sources)
	if err != nil {
		return nil, m.Graph{}, fmt.Errorf("index sources: %w", err)
	}

	return index, w.Graph.Build(meas.Snapshot, index), nil
}

// measure runs the coverage backend while holding the root's lock. A started
// test run is never killed; cancellation is reported once it has finished.
func (w *workflow) measure(ctx context.Context, root m.Path, testPaths []string) (m.Measurement, error) {
	lock := w.Locks.For(root)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()

	meas, err := w.Coverage.RunAndMeasure(context.WithoutCancel(ctx), root, testPaths)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return m.Measurement{}, apperr.Cancelled(ctxErr)
	}

	if err != nil {
		if !apperr.Is(err, apperr.KindCoverageBackend) {
			err = apperr.CoverageBackend("measure", err)
		}

		return m.Measurement{}, err
	}

	PhaseDuration.WithLabelValues("measure").Observe(time.Since(started).Seconds())
	CoverageRatio.Set(meas.Snapshot.OverallRatio())

	w.Logger.Debug("coverage measured",
		"root", root,
		"ratio", meas.Snapshot.OverallRatio(),
		"taken_at", meas.Snapshot.TakenAt(),
	)

	return meas, nil
}

// targetResult collects what one target produced.
type targetResult struct {
	target     m.Target
	candidates []m.Candidate
	verdicts   []m.Verdict
	genErr     error
	approved   int
}

// processBatches runs batches one after another, and the targets of a batch
// on a bounded pool. Backend calls finish even when ctx is cancelled; the
// remaining batches are skipped.
func (w *workflow) processBatches(ctx context.Context, r *run, index m.SourceIndex, batches [][]m.Target) ([]*targetResult, bool) {
	work := context.WithoutCancel(ctx)

	var results []*targetResult

	for _, batch := range batches {
		if ctx.Err() != nil {
			return results, true
		}

		batchResults := make([]*targetResult, len(batch))

		g := new(errgroup.Group)
		g.SetLimit(max(r.args.Parallelism, 1))

		for i, target := range batch {
			g.Go(func() error {
				batchResults[i] = w.processTarget(work, r, index, target)
				return nil
			})
		}

		_ = g.Wait()

		results = append(results, batchResults...)
	}

	return results, ctx.Err() != nil
}

func (w *workflow) processTarget(ctx context.Context, r *run, index m.SourceIndex, target m.Target) *targetResult {
	res := &targetResult{target: target}

	code, err := w.Context.Build(r.args.Root, index, target)
	if err != nil {
		res.genErr = apperr.GenerationBackend("build context", err).WithContext(apperr.CtxTarget, target.ID)
		return res
	}

	stream := w.Generator.Generate(ctx, target, code)

	for candidate := range stream.All() {
		res.candidates = append(res.candidates, candidate)
		res.verdicts = append(res.verdicts, w.Validator.Validate(ctx, candidate, r.current))
	}

	if err := stream.Err(); err != nil {
		res.genErr = err
	}

	return res
}

// review settles every candidate: validator rejections first, then the
// reviewer's decision on the rest. It returns the approved candidates.
func (w *workflow) review(ctx context.Context, r *run, results []*targetResult, rec *m.IterationRecord) []m.Candidate {
	var passed []m.Candidate

	for _, res := range results {
		if res.genErr != nil {
			reason := ClassifyGenerationFailure(res.genErr)

			rec.GenerationFailures++
			rec.FailureReasons[reason]++
			GenerationFailuresTotal.Inc()
			r.logger.Warn("generation failed", "target", res.target.ID, "reason", reason, "error", res.genErr)
		}

		for i := range res.candidates {
			if res.verdicts[i].Accepted {
				passed = append(passed, res.candidates[i])
			}
		}
	}

	approvedIDs := map[string]bool{}

	if len(passed) > 0 {
		var err error

		approvedIDs, err = w.Reviewer.Review(ctx, passed)
		if err != nil {
			r.logger.Warn("review failed, declining candidates", "error", err)

			approvedIDs = map[string]bool{}
		}
	}

	var approved []m.Candidate

	for _, res := range results {
		for i := range res.candidates {
			c := &res.candidates[i]
			v := res.verdicts[i]

			switch {
			case !v.Accepted:
				_ = c.Reject(v.Reason, v.Detail)
			case approvedIDs[c.ID]:
				_ = c.Accept()
			default:
				_ = c.Reject(m.ReasonDeclined, "declined by reviewer")
			}

			if c.Status == m.CandidateAccepted {
				res.approved++
				rec.Accepted++

				approved = append(approved, *c)

				CandidatesTotal.WithLabelValues("accepted").Inc()
			} else {
				rec.Rejected++
				rec.Rejections[c.Reason]++

				CandidatesTotal.WithLabelValues(string(c.Reason)).Inc()
			}

			w.Observer.CandidateJudged(*c)
		}
	}

	return approved
}

func (w *workflow) appendRecord(r *run, rec m.IterationRecord) {
	r.report.Records = append(r.report.Records, rec)
	r.report.Accepted += rec.Accepted

	IterationsTotal.WithLabelValues(strconv.FormatBool(rec.Gained())).Inc()

	if err := w.Log.Append(string(r.args.Root), rec); err != nil {
		r.logger.Warn("failed to persist iteration", "iteration", rec.Number, "error", err)
	}

	w.Observer.IterationFinished(rec)
	r.logger.Info("iteration finished",
		"iteration", rec.Number,
		"before", rec.CoverageBefore,
		"after", rec.CoverageAfter,
		"accepted", rec.Accepted,
		"rejected", rec.Rejected,
	)
}

func (w *workflow) transition(r *run, state m.State) {
	r.report.State = state
	w.Observer.StateChanged(state)
	r.logger.Debug("state", "state", state)
}

func (w *workflow) finish(r *run, state m.State, reason string, err error) m.Report {
	r.report.State = state
	r.report.StopReason = reason
	r.report.Err = err
	r.report.FinalCoverage = r.current.Snapshot.OverallRatio()

	if state != m.StateDone {
		r.report.TopRejection = m.MostCommonRejection(r.report.Records)
	}

	w.Observer.StateChanged(state)

	attrs := []any{"state", state, "reason", reason, "accepted", r.report.Accepted, "coverage", r.report.FinalCoverage}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	r.logger.Info("run finished", attrs...)

	return r.report
}

func (w *workflow) validateArgs(args RunArgs) error {
	switch {
	case args.Threshold < 0 || args.Threshold > 1:
		return apperr.Configuration("threshold %.4f outside [0, 1]", args.Threshold)
	case args.MaxIterations <= 0:
		return apperr.Configuration("max iterations must be positive, got %d", args.MaxIterations)
	case args.BatchSize <= 0:
		return apperr.Configuration("batch size must be positive, got %d", args.BatchSize)
	case args.ExhaustAfter <= 0:
		return apperr.Configuration("exhaust-after must be positive, got %d", args.ExhaustAfter)
	case args.StallWindow <= 0:
		return apperr.Configuration("stall window must be positive, got %d", args.StallWindow)
	}

	info, err := w.FS.FileInfo(args.Root)
	if err != nil {
		return apperr.Configuration("project path %s: %w", args.Root, err)
	}

	if !info.IsDir() {
		return apperr.Configuration("project path %s is not a directory", args.Root)
	}

	return nil
}

// failureReason is the stop reason for err, or "cancelled" when err came from
// the run's context.
func failureReason(err error, reason string) string {
	if apperr.Is(err, apperr.KindCancelled) {
		return "cancelled"
	}

	return reason
}

// IsCancelled reports whether a report ended because its context was cancelled.
func IsCancelled(report m.Report) bool {
	return errors.Is(report.Err, apperr.ErrCancelled)
}
