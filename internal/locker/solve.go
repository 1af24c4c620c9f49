package locker

import (
	"context"

	"github.com/conda/conda-lock/internal/contenthash"
	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/solver"
	"github.com/conda/conda-lock/internal/solver/pip"
)

// solvePlatform runs the full pipeline for one platform: conda layer, pip
// layer on top of it, update reconciliation, category propagation, then one
// atomic whole-platform replacement on the staged lock.
func (l *Locker) solvePlatform(ctx context.Context, platform, identity string, staged *lockfile.Lockfile) PlatformOutcome {
	outcome := PlatformOutcome{Platform: platform, State: StateSolving}

	restricted, err := lockspec.RestrictToPlatform(l.spec, platform)
	if err != nil {
		return outcome.fail(err)
	}
	// A platform whose every dependency is selector-excluded has nothing to
	// solve; treating it as an empty success would record a misleading entry.
	if len(restricted.Dependencies) == 0 {
		return outcome.fail(&lockspec.NoPlatformError{
			Platform: platform,
			Reason:   "no dependencies apply to this platform",
		})
	}

	hash, err := contenthash.Fingerprint(l.spec, platform, l.repo, identity)
	if err != nil {
		return outcome.fail(err)
	}
	outcome.Hash = hash

	channels := make([]string, 0, len(restricted.Channels))
	for _, ch := range restricted.Channels {
		channels = append(channels, ch.EnvReplacedURL())
	}

	condaSpecs := lockspec.SubsetByManager(restricted.Dependencies, lockspec.ManagerConda)
	pipSpecs := lockspec.SubsetByManager(restricted.Dependencies, lockspec.ManagerPip)

	// Update mode pins the prior solution; the prior entries keep their
	// stored order through reconciliation.
	var prior []lockfile.LockedDependency
	if l.prior != nil && len(l.opts.Update) > 0 {
		prior = l.prior.EntriesFor(platform, nil)
	}

	condaEntries, err := l.solveCondaLayer(ctx, platform, channels, condaSpecs, prior)
	if err != nil {
		return outcome.fail(err)
	}

	var pipEntries []lockfile.LockedDependency
	if len(pipSpecs) > 0 {
		pipEntries, err = l.solvePipLayer(ctx, platform, pipSpecs, condaEntries, prior)
		if err != nil {
			return outcome.fail(err)
		}
	}

	entries := append(condaEntries, pipEntries...)
	applyCategories(restricted.Dependencies, entries)

	staged.ReplacePlatform(platform, entries, hash)
	outcome.State = StateSolved
	outcome.PackageCount = len(entries)
	return outcome
}

// solveCondaLayer solves the conda subset. In update mode the backend only
// reports packages that changed, so the prior pinned entries are merged back
// in afterwards.
func (l *Locker) solveCondaLayer(ctx context.Context, platform string, channels []string, specs []lockspec.Dependency, prior []lockfile.LockedDependency) ([]lockfile.LockedDependency, error) {
	req := solver.Request{
		Platform:        platform,
		Channels:        channels,
		Specs:           specs,
		VirtualPackages: l.repo,
	}
	if prior != nil {
		req.Locked = pinsFor(prior, lockspec.ManagerConda)
		req.Update = l.opts.Update
	}

	res, err := l.conda.Solve(ctx, req)
	if err != nil {
		return nil, err
	}

	solved := toLocked(res.Packages, lockspec.ManagerConda, platform)
	if prior == nil {
		return solved, nil
	}
	return reconcile(prior, solved, lockspec.ManagerConda), nil
}

// solvePipLayer solves the pip subset on top of the conda result: the
// interpreter version comes from the solved python package and every
// conda-satisfied name is reported as preinstalled so it is never
// double-locked.
func (l *Locker) solvePipLayer(ctx context.Context, platform string, specs []lockspec.Dependency, condaEntries []lockfile.LockedDependency, prior []lockfile.LockedDependency) ([]lockfile.LockedDependency, error) {
	preinstalled := make(map[string]string, len(condaEntries))
	pythonVersion := ""
	for _, e := range condaEntries {
		preinstalled[pip.NormalizeName(e.Name)] = e.Version
		if e.Name == "python" {
			pythonVersion = e.Version
		}
	}

	req := solver.Request{
		Platform:      platform,
		Specs:         specs,
		PythonVersion: pythonVersion,
		Preinstalled:  preinstalled,
	}
	if prior != nil {
		req.Locked = pinsFor(prior, lockspec.ManagerPip)
		req.Update = normalizeNames(l.opts.Update)
	}

	res, err := l.pip.Solve(ctx, req)
	if err != nil {
		return nil, err
	}

	solved := toLocked(res.Packages, lockspec.ManagerPip, platform)
	if prior == nil {
		return solved, nil
	}
	return reconcile(prior, solved, lockspec.ManagerPip), nil
}

// reconcile merges an update-mode solve with the prior platform entries:
// surviving pins keep their original position and data, re-solved packages
// are replaced in place, and genuinely new packages append in backend order.
func reconcile(prior, solved []lockfile.LockedDependency, manager lockspec.Manager) []lockfile.LockedDependency {
	solvedByName := make(map[string]lockfile.LockedDependency, len(solved))
	for _, e := range solved {
		solvedByName[e.Name] = e
	}

	var out []lockfile.LockedDependency
	taken := map[string]bool{}
	for _, e := range prior {
		if e.Manager != manager {
			continue
		}
		if fresh, ok := solvedByName[e.Name]; ok {
			out = append(out, fresh)
			taken[e.Name] = true
		} else {
			out = append(out, e)
		}
	}
	for _, e := range solved {
		if !taken[e.Name] {
			out = append(out, e)
		}
	}
	return out
}

func toLocked(pkgs []solver.Package, manager lockspec.Manager, platform string) []lockfile.LockedDependency {
	out := make([]lockfile.LockedDependency, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, lockfile.LockedDependency{
			Name:         p.Name,
			Version:      p.Version,
			Build:        p.Build,
			Manager:      manager,
			Platform:     platform,
			Dependencies: p.Depends,
			URL:          p.URL,
			Hash:         lockfile.HashModel{MD5: p.MD5, SHA256: p.SHA256},
			Category:     lockspec.DefaultCategory,
		})
	}
	return out
}

func pinsFor(prior []lockfile.LockedDependency, manager lockspec.Manager) map[string]string {
	pins := map[string]string{}
	for _, e := range prior {
		if e.Manager == manager {
			pins[e.Name] = e.Version
		}
	}
	return pins
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, pip.NormalizeName(n))
	}
	return out
}
