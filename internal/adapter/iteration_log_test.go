package adapter

import (
	"path/filepath"
	"testing"
	"time"

	m "github.com/mouse-blink/autocov/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteIterationLog_AppendLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	log, err := OpenIterationLog(path)
	require.NoError(t, err)

	defer func() { _ = log.Close() }()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := m.IterationRecord{
		RunID:          "run-1",
		Number:         1,
		CoverageBefore: 0.5,
		CoverageAfter:  0.6,
		Targets:        3,
		Accepted:       2,
		Rejected:       1,
		Rejections:     map[m.RejectionReason]int{m.ReasonNoCoverageGain: 1},
		StartedAt:      base,
		FinishedAt:     base.Add(time.Minute),
	}
	second := first
	second.Number = 2
	second.CoverageBefore = 0.6
	second.CoverageAfter = 0.6
	second.Accepted = 0
	second.GenerationFailures = 2
	second.FailureReasons = map[m.GenerationFailure]int{m.FailureTimeout: 1, m.FailureNotGo: 1}
	second.StartedAt = base.Add(2 * time.Minute)
	second.FinishedAt = base.Add(3 * time.Minute)

	require.NoError(t, log.Append("/proj", second))
	require.NoError(t, log.Append("/proj", first))
	require.NoError(t, log.Append("/other", first))

	got, err := log.Load("/proj")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, 2, got[1].Number)
	assert.InDelta(t, 0.6, got[0].CoverageAfter, 1e-9)
	assert.Equal(t, 1, got[0].Rejections[m.ReasonNoCoverageGain])
	assert.Equal(t, 2, got[1].GenerationFailures)
	assert.Equal(t, map[m.GenerationFailure]int{m.FailureTimeout: 1, m.FailureNotGo: 1}, got[1].FailureReasons)
	assert.True(t, got[0].StartedAt.Equal(base))
	assert.True(t, got[1].FinishedAt.Equal(base.Add(3*time.Minute)))
}

func TestSQLiteIterationLog_AppendOverwritesSameNumber(t *testing.T) {
	log, err := OpenIterationLog(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	defer func() { _ = log.Close() }()

	rec := m.IterationRecord{RunID: "r", Number: 1, Accepted: 1, StartedAt: time.Now(), FinishedAt: time.Now()}
	require.NoError(t, log.Append("p", rec))

	rec.Accepted = 4
	require.NoError(t, log.Append("p", rec))

	got, err := log.Load("p")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Accepted)
}

func TestSQLiteIterationLog_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	log, err := OpenIterationLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Append("p", m.IterationRecord{RunID: "r", Number: 1, StartedAt: time.Now(), FinishedAt: time.Now()}))
	require.NoError(t, log.Close())

	reopened, err := OpenIterationLog(path)
	require.NoError(t, err)

	defer func() { _ = reopened.Close() }()

	got, err := reopened.Load("p")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, path, reopened.Path())
}

func TestOpenIterationLog_InvalidPath(t *testing.T) {
	_, err := OpenIterationLog("  ")
	assert.Error(t, err)

	_, err = OpenIterationLog(t.TempDir())
	assert.Error(t, err)
}

func TestNopIterationLog(t *testing.T) {
	var log IterationLog = NopIterationLog{}

	require.NoError(t, log.Append("p", m.IterationRecord{}))

	got, err := log.Load("p")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, log.Close())
}
