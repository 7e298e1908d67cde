package domain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouse-blink/autocov/internal/adapter"
	m "github.com/mouse-blink/autocov/internal/model"
)

// flakyFS fails the nth rename.
type flakyFS struct {
	*adapter.LocalSourceFSAdapter
	failRename int
	renames    int
}

func (f *flakyFS) Rename(from, to m.Path) error {
	f.renames++
	if f.renames == f.failRename {
		return errors.New("cross-device link")
	}

	return f.LocalSourceFSAdapter.Rename(from, to)
}

func mergeCandidates() []m.Candidate {
	return []m.Candidate{
		{ID: "a", PackageDir: "calc", FileName: "autocov_a_test.go", Source: []byte("package calc\n")},
		{ID: "b", PackageDir: ".", FileName: "autocov_b_test.go", Source: []byte("package main\n")},
		{ID: "c", PackageDir: "calc/sub", FileName: "autocov_c_test.go", Source: []byte("package sub\n")},
	}
}

func listFiles(t *testing.T, root m.Path) []string {
	t.Helper()

	var files []string

	err := filepath.WalkDir(string(root), func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, _ := filepath.Rel(string(root), path)
		files = append(files, filepath.ToSlash(rel))

		return nil
	})
	require.NoError(t, err)

	return files
}

func TestMerger_WritesAll(t *testing.T) {
	root := writeProject(t, map[string]string{"calc/calc.go": "package calc\n"})

	merged, err := NewMerger(adapter.NewLocalSourceFSAdapter()).Merge(root, mergeCandidates())

	require.NoError(t, err)
	assert.Equal(t, []m.Path{"calc/autocov_a_test.go", "autocov_b_test.go", "calc/sub/autocov_c_test.go"}, merged)
	assert.ElementsMatch(t, []string{
		"calc/calc.go", "calc/autocov_a_test.go", "autocov_b_test.go", "calc/sub/autocov_c_test.go",
	}, listFiles(t, root))

	content, err := os.ReadFile(filepath.Join(string(root), "calc", "sub", "autocov_c_test.go"))
	require.NoError(t, err)
	assert.Equal(t, "package sub\n", string(content))
}

func TestMerger_RollsBackOnRenameFailure(t *testing.T) {
	root := writeProject(t, map[string]string{"calc/calc.go": "package calc\n"})
	fs := &flakyFS{LocalSourceFSAdapter: adapter.NewLocalSourceFSAdapter(), failRename: 2}

	merged, err := NewMerger(fs).Merge(root, mergeCandidates())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "autocov_b_test.go")
	assert.Nil(t, merged)
	// directories created for staging may remain, files may not
	assert.Equal(t, []string{"calc/calc.go"}, listFiles(t, root))
}

func TestMerger_RefusesToOverwrite(t *testing.T) {
	root := writeProject(t, map[string]string{
		"calc/calc.go":      "package calc\n",
		"autocov_b_test.go": "package main\n// keep\n",
	})

	_, err := NewMerger(adapter.NewLocalSourceFSAdapter()).Merge(root, mergeCandidates())

	require.Error(t, err)
	assert.ElementsMatch(t, []string{"calc/calc.go", "autocov_b_test.go"}, listFiles(t, root))

	content, err := os.ReadFile(filepath.Join(string(root), "autocov_b_test.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n// keep\n", string(content))
}

func TestMerger_Empty(t *testing.T) {
	merged, err := NewMerger(adapter.NewLocalSourceFSAdapter()).Merge(m.Path(t.TempDir()), nil)

	require.NoError(t, err)
	assert.Empty(t, merged)
}
