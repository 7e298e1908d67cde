package adapter

import (
	"strings"
	"testing"

	m "github.com/mouse-blink/autocov/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTestArgs(t *testing.T) {
	t.Run("defaults to all packages", func(t *testing.T) {
		assert.Equal(t, []string{"test", "-json", "-count=1", "./..."}, buildTestArgs(RunArgs{}))
	})

	t.Run("coverage flags", func(t *testing.T) {
		got := buildTestArgs(RunArgs{
			Packages:     []string{"./pkg/..."},
			CoverProfile: "/tmp/c.out",
			CoverPkg:     "./...",
		})

		assert.Equal(t, []string{
			"test", "-json", "-count=1",
			"-covermode=count", "-coverprofile=/tmp/c.out", "-coverpkg=./...",
			"./pkg/...",
		}, got)
	})
}

func TestParseTestEvents(t *testing.T) {
	stream := strings.Join([]string{
		`{"Action":"start","Package":"ex/a"}`,
		`{"Action":"run","Package":"ex/a","Test":"TestOK"}`,
		`{"Action":"pass","Package":"ex/a","Test":"TestOK"}`,
		`{"Action":"run","Package":"ex/a","Test":"TestBad"}`,
		`{"Action":"output","Package":"ex/a","Test":"TestBad","Output":"    a_test.go:9: boom\n"}`,
		`{"Action":"fail","Package":"ex/a","Test":"TestBad"}`,
		`{"Action":"run","Package":"ex/a","Test":"TestSkip"}`,
		`{"Action":"skip","Package":"ex/a","Test":"TestSkip"}`,
		`{"Action":"fail","Package":"ex/a"}`,
		`{"Action":"run","Package":"ex/b","Test":"TestPanics"}`,
		`{"Action":"output","Package":"ex/b","Test":"TestPanics","Output":"panic: runtime error\n"}`,
		`{"Action":"fail","Package":"ex/b","Test":"TestPanics"}`,
		`{"Action":"fail","Package":"ex/b"}`,
		`{"Action":"pass","Package":"ex/c"}`,
		`not json at all`,
	}, "\n")

	run, events, err := ParseTestEvents(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, 14, events)

	assert.Equal(t, m.OutcomePassed, run[m.TestID{Package: "ex/a", Name: "TestOK"}])
	assert.Equal(t, m.OutcomeFailed, run[m.TestID{Package: "ex/a", Name: "TestBad"}])
	assert.Equal(t, m.OutcomeSkipped, run[m.TestID{Package: "ex/a", Name: "TestSkip"}])
	assert.Equal(t, m.OutcomeFailed, run[m.TestID{Package: "ex/a"}], "package with failing test is failed")

	assert.Equal(t, m.OutcomeErrored, run[m.TestID{Package: "ex/b", Name: "TestPanics"}])
	assert.Equal(t, m.OutcomeFailed, run[m.TestID{Package: "ex/b"}])

	assert.Equal(t, m.OutcomePassed, run[m.TestID{Package: "ex/c"}])
}

func TestParseTestEvents_BuildFailure(t *testing.T) {
	stream := strings.Join([]string{
		`{"ImportPath":"ex/a [ex/a.test]","Action":"build-output","Output":"./a_test.go:3:8: undefined: strings\n"}`,
		`{"ImportPath":"ex/a [ex/a.test]","Action":"build-fail"}`,
		`{"Action":"start","Package":"ex/a"}`,
		`{"Action":"output","Package":"ex/a","Output":"FAIL\tex/a [build failed]\n"}`,
		`{"Action":"fail","Package":"ex/a","FailedBuild":"ex/a [ex/a.test]"}`,
	}, "\n")

	run, _, err := ParseTestEvents(strings.NewReader(stream))
	require.NoError(t, err)

	assert.Equal(t, m.OutcomeErrored, run[m.TestID{Package: "ex/a"}])
	assert.True(t, run.Broken(m.TestID{Package: "ex/a"}))
}

func TestParseTestEvents_UnfinishedTestIsErrored(t *testing.T) {
	stream := strings.Join([]string{
		`{"Action":"run","Package":"ex/a","Test":"TestHangs"}`,
		`{"Action":"output","Package":"ex/a","Output":"panic: test timed out after 10m0s\n"}`,
		`{"Action":"fail","Package":"ex/a"}`,
	}, "\n")

	run, _, err := ParseTestEvents(strings.NewReader(stream))
	require.NoError(t, err)

	assert.Equal(t, m.OutcomeErrored, run[m.TestID{Package: "ex/a", Name: "TestHangs"}])
	assert.Equal(t, m.OutcomeErrored, run[m.TestID{Package: "ex/a"}], "package failed without a failing test")
}
