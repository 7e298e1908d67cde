package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouse-blink/autocov/internal/adapter"
	apperr "github.com/mouse-blink/autocov/internal/errors"
	m "github.com/mouse-blink/autocov/internal/model"
)

type backendFunc func(ctx context.Context, prompt string, n int) ([]string, error)

func (f backendFunc) Complete(ctx context.Context, prompt string, n int) ([]string, error) {
	return f(ctx, prompt, n)
}

const goodCompletion = "Here you go:\n```go\npackage calc\n\nimport \"testing\"\n\nfunc helper() int { return 2 }\n\nfunc TestAdd(t *testing.T) {\n\tif Add(1, 1) != helper() {\n\t\tt.Fatal(\"bad\")\n\t}\n}\n```\n"

func calcContext() CodeContext {
	return CodeContext{
		Package:    "calc",
		PackageDir: "calc",
		Snippets:   []Snippet{{File: "calc/calc.go", Scope: "Add", StartLine: 3, EndLine: 5, Code: ">>    4 | return a + b\n"}},
	}
}

func newTestGenerator(backend backendFunc, opts GeneratorOptions) *generator {
	g := NewGenerator(backend, opts, nil).(*generator)

	var n atomic.Int32
	g.newID = func() string {
		return fmt.Sprintf("%08d-0000-0000-0000-000000000000", n.Add(1))
	}

	return g
}

func TestGenerator_StreamIsLazy(t *testing.T) {
	var calls atomic.Int32

	g := newTestGenerator(func(context.Context, string, int) ([]string, error) {
		calls.Add(1)
		return []string{goodCompletion}, nil
	}, GeneratorOptions{CandidatesPerTarget: 1})

	target := singleTarget("calc/calc.go", 4, 4)
	stream := g.Generate(context.Background(), target, calcContext())

	assert.Zero(t, calls.Load())

	var got []m.Candidate
	for c := range stream.All() {
		got = append(got, c)
	}

	require.Len(t, got, 1)
	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, stream.Err())

	c := got[0]
	assert.Equal(t, target.ID, c.TargetID)
	assert.Equal(t, []m.RegionID{target.Members[0].ID}, c.TargetRegions)
	assert.Equal(t, m.Path("calc"), c.PackageDir)
	assert.Equal(t, "autocov_00000001_test.go", c.FileName)
	assert.Equal(t, m.Path("calc/autocov_00000001_test.go"), c.RelPath())
	assert.Equal(t, []string{"TestAdd_00000001"}, c.TestNames)
	assert.Equal(t, m.CandidatePending, c.Status)
	assert.Contains(t, string(c.Source), "func helper_00000001() int")
	assert.Contains(t, string(c.Source), "Add(1, 1) != helper_00000001()")

	// single use: a second pass neither yields nor calls the backend
	for range stream.All() {
		t.Fatal("stream yielded twice")
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerator_EarlyBreakStopsYielding(t *testing.T) {
	g := newTestGenerator(func(context.Context, string, int) ([]string, error) {
		return []string{goodCompletion, goodCompletion, goodCompletion}, nil
	}, GeneratorOptions{CandidatesPerTarget: 3})

	stream := g.Generate(context.Background(), singleTarget("calc/calc.go", 4, 4), calcContext())

	n := 0
	for range stream.All() {
		n++
		break
	}

	assert.Equal(t, 1, n)
}

func TestGenerator_CapsCandidates(t *testing.T) {
	g := newTestGenerator(func(_ context.Context, prompt string, n int) ([]string, error) {
		assert.Equal(t, 2, n)
		assert.Contains(t, prompt, "Return up to 2 alternative test files")
		return []string{goodCompletion, goodCompletion, goodCompletion}, nil
	}, GeneratorOptions{CandidatesPerTarget: 2})

	var ids []string
	for c := range g.Generate(context.Background(), singleTarget("calc/calc.go", 4, 4), calcContext()).All() {
		ids = append(ids, c.ID)
	}

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestGenerator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		backend backendFunc
		want    error
	}{
		{
			name: "backend error",
			backend: func(context.Context, string, int) ([]string, error) {
				return nil, errors.New("429 too many requests")
			},
		},
		{
			name: "nothing usable",
			backend: func(context.Context, string, int) ([]string, error) {
				return []string{"I cannot help with that.", "```go\nfunc main() {}\n```"}, nil
			},
			want: ErrNoTestFunc,
		},
		{
			name: "empty answer",
			backend: func(context.Context, string, int) ([]string, error) {
				return nil, nil
			},
			want: ErrNotGo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(tt.backend, GeneratorOptions{CandidatesPerTarget: 2})
			stream := g.Generate(context.Background(), singleTarget("calc/calc.go", 4, 4), calcContext())

			for range stream.All() {
				t.Fatal("unexpected candidate")
			}

			err := stream.Err()
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindGenerationBackend))

			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestClassifyGenerationFailure(t *testing.T) {
	tests := []struct {
		err  error
		want m.GenerationFailure
	}{
		{fmt.Errorf("complete: %w", context.DeadlineExceeded), m.FailureTimeout},
		{apperr.GenerationBackend("complete", adapter.ErrContentFiltered), m.FailureContentFiltered},
		{apperr.GenerationBackend("complete", adapter.ErrNoChoices), m.FailureEmptyResponse},
		{apperr.GenerationBackend("post-process", ErrNotGo), m.FailureNotGo},
		{apperr.GenerationBackend("post-process", errors.Join(ErrNotGo, ErrNoTestFunc)), m.FailureNoTest},
		{apperr.GenerationBackend("post-process", ErrHasTestMain), m.FailureHasTestMain},
		{errors.New("429 too many requests"), m.FailureBackend},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyGenerationFailure(tt.err))
		})
	}
}

func TestGenerator_Timeout(t *testing.T) {
	g := newTestGenerator(func(ctx context.Context, _ string, _ int) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, GeneratorOptions{CandidatesPerTarget: 1, Timeout: 10 * time.Millisecond})

	stream := g.Generate(context.Background(), singleTarget("calc/calc.go", 4, 4), calcContext())
	for range stream.All() {
		t.Fatal("unexpected candidate")
	}

	assert.ErrorIs(t, stream.Err(), context.DeadlineExceeded)
}

func TestPostProcess(t *testing.T) {
	t.Run("adds missing package clause and import", func(t *testing.T) {
		raw := "func TestSub(t *testing.T) {\n\tif Sub(2, 1) != 1 {\n\t\tt.Fail()\n\t}\n}\n"

		out, err := postProcess(raw, "calc", "abc")

		require.NoError(t, err)
		src := string(out.Source)
		assert.True(t, strings.HasPrefix(src, "package calc\n"))
		assert.Contains(t, src, "import \"testing\"")
		assert.Contains(t, src, "func TestSub_abc(t *testing.T)")
		assert.Equal(t, []string{"TestSub_abc"}, out.TestNames)
	})

	t.Run("forces package name", func(t *testing.T) {
		out, err := postProcess("package wrong\n\nimport \"testing\"\n\nfunc TestX(t *testing.T) {}\n", "calc", "s")

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(out.Source), "package calc\n"))
	})

	t.Run("keeps external test package", func(t *testing.T) {
		raw := "package calc_test\n\nimport (\n\t\"testing\"\n\n\t\"example.com/calc\"\n)\n\nfunc TestSub(t *testing.T) {\n\tif calc.Sub(2, 1) != 1 {\n\t\tt.Fail()\n\t}\n}\n"

		out, err := postProcess(raw, "calc", "s")

		require.NoError(t, err)
		src := string(out.Source)
		assert.True(t, strings.HasPrefix(src, "package calc_test\n"))
		assert.Contains(t, src, "calc.Sub(2, 1)")
		assert.Equal(t, []string{"TestSub_s"}, out.TestNames)
	})

	t.Run("keeps selectors and methods", func(t *testing.T) {
		raw := `package calc

import "testing"

type fixture struct{ Add int }

func (f fixture) run() int { return f.Add }

func TestRun(t *testing.T) {
	f := fixture{Add: 1}
	if f.run() != 1 {
		t.Fatal("x")
	}
}
`
		out, err := postProcess(raw, "calc", "s")

		require.NoError(t, err)
		src := string(out.Source)
		assert.Contains(t, src, "type fixture_s struct")
		assert.Contains(t, src, "func (f fixture_s) run() int")
		assert.Contains(t, src, "f.Add")
		assert.Contains(t, src, "f.run()")
	})

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			name string
			raw  string
			want error
		}{
			{name: "prose", raw: "Sorry, no code today.", want: ErrNotGo},
			{name: "no tests", raw: "package calc\n\nfunc helper() {}\n", want: ErrNoTestFunc},
			{name: "lowercase suffix", raw: "package calc\n\nimport \"testing\"\n\nfunc Testify(t *testing.T) {}\n", want: ErrNoTestFunc},
			{name: "wrong signature", raw: "package calc\n\nimport \"testing\"\n\nfunc TestX(t *testing.T) error { return nil }\n", want: ErrNoTestFunc},
			{name: "test main", raw: "package calc\n\nimport \"testing\"\n\nfunc TestMain(m *testing.M) {}\n\nfunc TestX(t *testing.T) {}\n", want: ErrHasTestMain},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := postProcess(tt.raw, "calc", "s")
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1a2b3c4d", shortID("1a2b3c4d-5e6f-7a8b-9c0d-112233445566"))
	assert.Equal(t, "abc", shortID("abc"))
}
