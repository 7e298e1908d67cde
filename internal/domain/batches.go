package domain

import m "github.com/mouse-blink/autocov/internal/model"

// partitionBatches splits targets into batches in which no two targets touch
// the same file. Targets are placed greedily, in priority order, into the
// first batch they do not conflict with.
func partitionBatches(targets []m.Target) [][]m.Target {
	var (
		batches [][]m.Target
		files   []map[m.Path]struct{}
	)

	for _, target := range targets {
		placed := false

		for i := range batches {
			if conflicts(files[i], target) {
				continue
			}

			batches[i] = append(batches[i], target)
			addFiles(files[i], target)
			placed = true

			break
		}

		if placed {
			continue
		}

		used := make(map[m.Path]struct{})
		addFiles(used, target)

		batches = append(batches, []m.Target{target})
		files = append(files, used)
	}

	return batches
}

func conflicts(used map[m.Path]struct{}, target m.Target) bool {
	for _, f := range target.Files() {
		if _, ok := used[f]; ok {
			return true
		}
	}

	return false
}

func addFiles(used map[m.Path]struct{}, target m.Target) {
	for _, f := range target.Files() {
		used[f] = struct{}{}
	}
}
