package domain

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mouse-blink/autocov/internal/adapter"
	apperr "github.com/mouse-blink/autocov/internal/errors"
	m "github.com/mouse-blink/autocov/internal/model"
)

// ClassifyGenerationFailure maps a generation error to the reason recorded
// for it.
func ClassifyGenerationFailure(err error) m.GenerationFailure {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return m.FailureTimeout
	case errors.Is(err, adapter.ErrContentFiltered):
		return m.FailureContentFiltered
	case errors.Is(err, adapter.ErrNoChoices):
		return m.FailureEmptyResponse
	case errors.Is(err, ErrHasTestMain):
		return m.FailureHasTestMain
	case errors.Is(err, ErrNoTestFunc):
		return m.FailureNoTest
	case errors.Is(err, ErrNotGo):
		return m.FailureNotGo
	default:
		return m.FailureBackend
	}
}

// Generator produces candidate tests for a target.
type Generator interface {
	// Generate returns a stream that calls the backend on first iteration.
	Generate(ctx context.Context, target m.Target, code CodeContext) *CandidateStream
}

// GeneratorOptions tunes a Generator.
type GeneratorOptions struct {
	CandidatesPerTarget int
	Timeout             time.Duration
}

type generator struct {
	backend adapter.GenerationBackend
	opts    GeneratorOptions
	logger  *slog.Logger
	newID   func() string
}

// NewGenerator wires a Generator over backend.
func NewGenerator(backend adapter.GenerationBackend, opts GeneratorOptions, logger *slog.Logger) Generator {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.CandidatesPerTarget <= 0 {
		opts.CandidatesPerTarget = 1
	}

	return &generator{backend: backend, opts: opts, logger: logger, newID: uuid.NewString}
}

func (g *generator) Generate(ctx context.Context, target m.Target, code CodeContext) *CandidateStream {
	return &CandidateStream{produce: func() ([]m.Candidate, error) {
		return g.produce(ctx, target, code)
	}}
}

func (g *generator) produce(ctx context.Context, target m.Target, code CodeContext) ([]m.Candidate, error) {
	ctx, span := tracer.Start(ctx, "Generator.Generate",
		trace.WithAttributes(attribute.String("autocov.target", string(target.ID))))
	defer span.End()

	prompt, err := BuildPrompt(code, g.opts.CandidatesPerTarget)
	if err != nil {
		return nil, apperr.GenerationBackend("render prompt", err).WithContext(apperr.CtxTarget, target.ID)
	}

	callCtx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	raws, err := g.backend.Complete(callCtx, prompt, g.opts.CandidatesPerTarget)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.GenerationBackend("complete", err).WithContext(apperr.CtxTarget, target.ID)
	}

	var (
		candidates []m.Candidate
		discarded  []error
	)

	for _, raw := range raws {
		if len(candidates) == g.opts.CandidatesPerTarget {
			break
		}

		id := g.newID()
		short := shortID(id)

		processed, err := postProcess(raw, code.Package, short)
		if err != nil {
			discarded = append(discarded, err)
			continue
		}

		candidates = append(candidates, m.Candidate{
			ID:            id,
			TargetID:      target.ID,
			TargetRegions: target.RegionIDs(),
			PackageDir:    code.PackageDir,
			FileName:      fmt.Sprintf("autocov_%s_test.go", short),
			TestNames:     processed.TestNames,
			Source:        processed.Source,
			Status:        m.CandidatePending,
		})
	}

	span.SetAttributes(attribute.Int("autocov.candidates", len(candidates)))

	if len(candidates) == 0 {
		cause := errors.Join(discarded...)
		if cause == nil {
			cause = ErrNotGo
		}

		return nil, apperr.GenerationBackend("post-process", cause).WithContext(apperr.CtxTarget, target.ID)
	}

	if len(discarded) > 0 {
		g.logger.Debug("discarded unusable completions", "target", target.ID, "count", len(discarded))
	}

	return candidates, nil
}

// shortID keeps the first eight hex digits of a uuid.
func shortID(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) > 8 {
		s = s[:8]
	}

	return s
}

// CandidateStream is a lazy, single-use sequence of candidates.
type CandidateStream struct {
	mu       sync.Mutex
	produce  func() ([]m.Candidate, error)
	consumed bool
	err      error
}

// All yields the candidates. The backend is called when iteration starts;
// iterating a second time yields nothing.
func (s *CandidateStream) All() iter.Seq[m.Candidate] {
	return func(yield func(m.Candidate) bool) {
		s.mu.Lock()
		if s.consumed {
			s.mu.Unlock()
			return
		}

		s.consumed = true
		s.mu.Unlock()

		candidates, err := s.produce()

		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		for _, c := range candidates {
			if !yield(c) {
				return
			}
		}
	}
}

// Err reports why the stream yielded nothing. It is set once All has run.
func (s *CandidateStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}
