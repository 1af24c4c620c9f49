package locker

import (
	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/solver/pip"
)

// applyCategories propagates each requested root's category to its transitive
// dependency closure within one manager's graph. A package reachable from
// several roots takes the highest-priority category: "main" always wins, then
// "dev", then the category of the earliest root in source order. Everything
// unreachable (which a well-formed solve should not produce) stays "main".
func applyCategories(roots []lockspec.Dependency, entries []lockfile.LockedDependency) {
	assigned := map[string]string{}

	for _, manager := range []lockspec.Manager{lockspec.ManagerConda, lockspec.ManagerPip} {
		index := map[string]*lockfile.LockedDependency{}
		for i := range entries {
			if entries[i].Manager == manager {
				index[entries[i].Name] = &entries[i]
			}
		}

		for _, root := range roots {
			if root.Manager != manager {
				continue
			}
			name := root.Name
			if manager == lockspec.ManagerPip {
				name = pip.NormalizeName(name)
			}
			for _, reached := range closure(name, index) {
				key := string(manager) + "/" + reached
				if current, ok := assigned[key]; !ok || rank(root.Category) < rank(current) {
					assigned[key] = root.Category
				}
			}
		}
	}

	for i := range entries {
		key := string(entries[i].Manager) + "/" + entries[i].Name
		category := assigned[key]
		if category == "" {
			category = lockspec.DefaultCategory
		}
		entries[i].Category = category
		entries[i].Optional = category != lockspec.DefaultCategory
	}
}

// closure walks the dependency edge lists breadth-first from one root.
// Edges pointing outside the manager's entry set (conda-satisfied pip
// dependencies, virtual packages) are skipped.
func closure(root string, index map[string]*lockfile.LockedDependency) []string {
	if _, ok := index[root]; !ok {
		return nil
	}
	seen := map[string]bool{root: true}
	queue := []string{root}
	var out []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		out = append(out, name)
		for _, dep := range index[name].Dependencies {
			if seen[dep] {
				continue
			}
			if _, ok := index[dep]; !ok {
				continue
			}
			seen[dep] = true
			queue = append(queue, dep)
		}
	}
	return out
}

func rank(category string) int {
	switch category {
	case lockspec.DefaultCategory:
		return 0
	case "dev":
		return 1
	default:
		return 2
	}
}
