package domain

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mouse-blink/autocov/internal/adapter"
	m "github.com/mouse-blink/autocov/internal/model"
)

// Merger writes approved candidates into the project's test tree.
type Merger interface {
	// Merge writes every candidate or none of them and returns the
	// project-relative paths written.
	Merge(root m.Path, candidates []m.Candidate) ([]m.Path, error)
}

type merger struct {
	fs adapter.SourceFSAdapter
}

// NewMerger constructs a Merger writing through fs.
func NewMerger(fs adapter.SourceFSAdapter) Merger {
	return &merger{fs: fs}
}

type pendingWrite struct {
	rel   m.Path
	tmp   m.Path
	final m.Path
}

// Merge stages each file next to its destination, then renames them all.
// Any failure removes what was staged or already renamed.
func (mg *merger) Merge(root m.Path, candidates []m.Candidate) ([]m.Path, error) {
	writes := make([]pendingWrite, 0, len(candidates))

	rollback := func(renamed int) error {
		var errs []error

		for i, w := range writes {
			target := w.tmp
			if i < renamed {
				target = w.final
			}

			if err := mg.fs.Remove(target); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	}

	for _, c := range candidates {
		rel := c.RelPath()
		final := mg.fs.JoinPath(string(root), filepath.FromSlash(string(rel)))

		if _, err := mg.fs.FileInfo(final); err == nil {
			_ = rollback(0)
			return nil, fmt.Errorf("merge %s: file already exists", rel)
		}

		w := pendingWrite{rel: rel, tmp: final + ".autocov-tmp", final: final}
		if err := mg.fs.WriteFile(w.tmp, c.Source, 0o644); err != nil {
			_ = rollback(0)
			return nil, fmt.Errorf("stage %s: %w", rel, err)
		}

		writes = append(writes, w)
	}

	merged := make([]m.Path, 0, len(writes))

	for i, w := range writes {
		if err := mg.fs.Rename(w.tmp, w.final); err != nil {
			if rbErr := rollback(i); rbErr != nil {
				return nil, fmt.Errorf("rename %s: %w (rollback: %w)", w.rel, err, rbErr)
			}

			return nil, fmt.Errorf("rename %s: %w", w.rel, err)
		}

		merged = append(merged, w.rel)
	}

	return merged, nil
}
