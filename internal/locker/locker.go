// Package locker orchestrates per-platform solves: it decides reuse versus
// re-solve from content hashes, dispatches the conda and pip backends,
// reconciles partial updates against a prior lock, and assembles the unified
// lockfile.
package locker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/conda/conda-lock/internal/contenthash"
	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/solver"
	"github.com/conda/conda-lock/internal/utils/logger"
	"github.com/conda/conda-lock/internal/virtualpkg"
)

// PlatformState tracks one platform through the solve state machine.
type PlatformState int

const (
	StateReusable PlatformState = iota
	StateNeedsSolve
	StateSolving
	StateSolved
	StateFailed
)

func (s PlatformState) String() string {
	switch s {
	case StateReusable:
		return "reusable"
	case StateNeedsSolve:
		return "needs-solve"
	case StateSolving:
		return "solving"
	case StateSolved:
		return "solved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configure one lock run.
type Options struct {
	// CheckInputHash reuses a platform's prior solution verbatim when its
	// stored content hash matches the freshly computed one.
	CheckInputHash bool

	// Update names packages to re-solve while pinning everything else.
	// Non-empty forces NeedsSolve on every platform carrying a target.
	Update []string

	// Workers bounds the number of concurrently solving platforms.
	Workers int

	// CudaVersion feeds the default virtual packages; empty means no CUDA.
	CudaVersion string

	// ToolVersion is recorded as provenance in the lock metadata.
	ToolVersion string
}

// Locker drives one run against an immutable snapshot of the inputs.
type Locker struct {
	spec  *lockspec.LockSpecification
	prior *lockfile.Lockfile
	conda solver.Backend
	pip   solver.Backend
	repo  *virtualpkg.Repo
	opts  Options
}

// New builds a Locker. prior may be nil when no lockfile exists yet.
func New(spec *lockspec.LockSpecification, prior *lockfile.Lockfile, conda, pip solver.Backend, opts Options) *Locker {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Locker{
		spec:  spec,
		prior: prior,
		conda: conda,
		pip:   pip,
		repo:  virtualpkg.FromOverrides(opts.CudaVersion, spec.VirtualPackages),
		opts:  opts,
	}
}

// Run executes the state machine for every platform in the specification.
// Per-platform failures are collected, not propagated; the returned error is
// reserved for shared preconditions (no platforms, unavailable backend
// identity with nothing to fall back to).
func (l *Locker) Run(ctx context.Context) (*RunReport, error) {
	log := logger.Logger()

	if len(l.spec.Platforms) == 0 {
		return nil, fmt.Errorf("specification has no target platforms")
	}

	identity, err := l.solverIdentity(ctx)
	if err != nil {
		return nil, err
	}

	staged := l.stagedLock(identity)

	platforms := append([]string(nil), l.spec.Platforms...)
	sort.Strings(platforms)

	report := &RunReport{RunID: uuid.NewString(), Lock: staged}
	log.Debugf("lock run %s: %d platforms, solver %q", report.RunID, len(platforms), identity)
	var toSolve []string

	for _, platform := range platforms {
		hash, err := contenthash.Fingerprint(l.spec, platform, l.repo, identity)
		if err != nil {
			report.add(PlatformOutcome{Platform: platform, State: StateFailed, Err: err})
			continue
		}

		if l.reusable(platform, hash) {
			// Internal consistency check: a stale read between
			// classification and commit demotes to a fresh solve
			// instead of failing the run.
			if stored, ok := staged.HashFor(platform); !ok || stored != hash {
				log.Warnf("stored hash for %s changed after reuse decision, re-solving", platform)
				toSolve = append(toSolve, platform)
				continue
			}
			log.Infof("platform %s: input hash unchanged, reusing prior solution", platform)
			report.add(PlatformOutcome{Platform: platform, State: StateReusable, Hash: hash})
			continue
		}
		toSolve = append(toSolve, platform)
	}

	l.solveAll(ctx, toSolve, identity, staged, report)

	if ctx.Err() != nil {
		report.Cancelled = true
	}
	report.finish()
	return report, nil
}

// reusable reports whether a platform's stored solution can be copied
// verbatim: hash matches, reuse is enabled, and no update targets it.
func (l *Locker) reusable(platform, freshHash string) bool {
	if !l.opts.CheckInputHash || l.prior == nil {
		return false
	}
	if len(l.opts.Update) > 0 {
		return false
	}
	stored, ok := l.prior.HashFor(platform)
	return ok && stored == freshHash
}

// solveAll runs the solve pool: platforms are independent, so they solve
// concurrently, bounded by the worker count. replace-platform on the staged
// lock is the single serialized mutation point.
func (l *Locker) solveAll(ctx context.Context, platforms []string, identity string, staged *lockfile.Lockfile, report *RunReport) {
	if len(platforms) == 0 {
		return
	}

	log := logger.Logger()
	bar := progressbar.NewOptions(len(platforms),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	jobs := make(chan string, len(platforms))
	var wg sync.WaitGroup

	for i := 0; i < l.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for platform := range jobs {
				bar.Describe(platform)

				if ctx.Err() != nil {
					report.add(PlatformOutcome{Platform: platform, State: StateFailed, Err: ctx.Err()})
					_ = bar.Add(1)
					continue
				}

				outcome := l.solvePlatform(ctx, platform, identity, staged)
				if outcome.State == StateFailed {
					log.Errorf("platform %s failed: %v", platform, outcome.Err)
				} else {
					log.Infof("platform %s solved (%d packages)", platform, outcome.PackageCount)
				}
				report.add(outcome)
				_ = bar.Add(1)
			}
		}()
	}

	for _, p := range platforms {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	_ = bar.Finish()
}

// stagedLock clones the prior lock (so a failed run never corrupts the
// loaded snapshot) or starts a fresh one, then refreshes shared metadata.
func (l *Locker) stagedLock(identity string) *lockfile.Lockfile {
	var staged *lockfile.Lockfile
	if l.prior != nil {
		staged = l.prior.Clone()
	} else {
		staged = lockfile.New(lockfile.LockMeta{})
	}
	staged.Metadata.Channels = l.spec.Channels
	staged.Metadata.Sources = l.spec.Sources
	staged.Metadata.Solver = identity
	staged.Metadata.ToolVersion = l.opts.ToolVersion
	return staged
}

// solverIdentity composes the hash-relevant tool identity. The pip identity
// only participates when the specification has pip dependencies.
func (l *Locker) solverIdentity(ctx context.Context) (string, error) {
	identity, err := l.conda.Identity(ctx)
	if err != nil {
		// A pure reuse run must not require a working backend; fall back
		// to the identity recorded in the prior lock.
		if l.prior != nil && l.prior.Metadata.Solver != "" {
			return l.prior.Metadata.Solver, nil
		}
		return "", fmt.Errorf("determining solver identity: %w", err)
	}

	if len(lockspec.SubsetByManager(l.spec.Dependencies, lockspec.ManagerPip)) > 0 && l.pip != nil {
		pipIdentity, err := l.pip.Identity(ctx)
		if err == nil && pipIdentity != "" {
			identity += " + " + pipIdentity
		}
	}
	return identity, nil
}
