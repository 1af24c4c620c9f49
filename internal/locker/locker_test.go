package locker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/solver"
)

// fakeBackend scripts solve results per platform and records every request.
type fakeBackend struct {
	mu       sync.Mutex
	name     string
	identity string
	results  map[string][]solver.Package // platform -> packages
	failures map[string]error            // platform -> error
	requests []solver.Request
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:     name,
		identity: name + " 1.0",
		results:  map[string][]solver.Package{},
		failures: map[string]error{},
	}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Identity(ctx context.Context) (string, error) {
	return f.identity, nil
}

func (f *fakeBackend) Solve(ctx context.Context, req solver.Request) (*solver.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err, ok := f.failures[req.Platform]; ok {
		return nil, err
	}
	return &solver.Result{Packages: f.results[req.Platform]}, nil
}

func (f *fakeBackend) solveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBackend) lastRequest() solver.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func condaSpec(platforms ...string) *lockspec.LockSpecification {
	return &lockspec.LockSpecification{
		Channels:  []lockspec.Channel{lockspec.NewChannel("conda-forge")},
		Platforms: platforms,
		Dependencies: []lockspec.Dependency{
			{Name: "python", Version: ">=3.9", Manager: lockspec.ManagerConda, Category: "main"},
		},
	}
}

func pkg(name, version string, depends ...string) solver.Package {
	return solver.Package{
		Name:    name,
		Version: version,
		URL:     "https://example.com/" + name + "-" + version + ".conda",
		SHA256:  "aaaa",
		Depends: depends,
	}
}

func TestRunFreshSolve(t *testing.T) {
	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("python", "3.11.4", "openssl"), pkg("openssl", "3.1.1")}
	conda.results["win-64"] = []solver.Package{pkg("python", "3.11.4")}

	l := New(condaSpec("linux-64", "win-64"), nil, conda, newFakeBackend("pip"), Options{Workers: 2})
	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.OK() || !report.Persistable() {
		t.Fatalf("fresh solve should succeed: %+v", report.Outcomes)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}
	for _, o := range report.Outcomes {
		if o.State != StateSolved {
			t.Errorf("%s state = %s", o.Platform, o.State)
		}
		if o.Hash == "" {
			t.Errorf("%s has no content hash", o.Platform)
		}
	}

	linux := report.Lock.EntriesFor("linux-64", nil)
	if len(linux) != 2 || linux[0].Name != "python" || linux[1].Name != "openssl" {
		t.Errorf("solver order not preserved: %+v", linux)
	}
	if h, ok := report.Lock.HashFor("linux-64"); !ok || h == "" {
		t.Errorf("content hash not recorded: %q", h)
	}
}

func TestRunReusesUnchangedPlatform(t *testing.T) {
	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("python", "3.11.4")}
	spec := condaSpec("linux-64")

	first := New(spec, nil, conda, newFakeBackend("pip"), Options{Workers: 1})
	firstReport, err := first.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// Same inputs, reuse enabled: no backend call, verbatim entries.
	second := New(spec, firstReport.Lock, conda, newFakeBackend("pip"), Options{
		Workers: 1, CheckInputHash: true,
	})
	secondReport, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if secondReport.Outcomes[0].State != StateReusable {
		t.Errorf("unchanged platform state = %s, want reusable", secondReport.Outcomes[0].State)
	}
	if conda.solveCount() != 1 {
		t.Errorf("backend solved %d times, want 1", conda.solveCount())
	}

	entries := secondReport.Lock.EntriesFor("linux-64", nil)
	if len(entries) != 1 || entries[0].Version != "3.11.4" {
		t.Errorf("reused entries mutated: %+v", entries)
	}

	// A reuse run must persist a byte-identical artifact.
	firstBytes, err := lockfile.Serialize(firstReport.Lock)
	if err != nil {
		t.Fatalf("serializing first lock: %v", err)
	}
	secondBytes, err := lockfile.Serialize(secondReport.Lock)
	if err != nil {
		t.Fatalf("serializing second lock: %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("reuse run changed the serialized artifact:\nfirst:\n%s\nsecond:\n%s",
			firstBytes, secondBytes)
	}
}

func TestRunChangedInputInvalidatesReuse(t *testing.T) {
	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("python", "3.11.4")}
	spec := condaSpec("linux-64")

	first := New(spec, nil, conda, newFakeBackend("pip"), Options{Workers: 1})
	firstReport, err := first.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	changed := condaSpec("linux-64")
	changed.Dependencies[0].Version = ">=3.10"

	second := New(changed, firstReport.Lock, conda, newFakeBackend("pip"), Options{
		Workers: 1, CheckInputHash: true,
	})
	secondReport, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if secondReport.Outcomes[0].State != StateSolved {
		t.Errorf("changed input should re-solve, state = %s", secondReport.Outcomes[0].State)
	}
	if conda.solveCount() != 2 {
		t.Errorf("backend solved %d times, want 2", conda.solveCount())
	}
}

func TestRunUpdateIsolation(t *testing.T) {
	spec := &lockspec.LockSpecification{
		Channels:  []lockspec.Channel{lockspec.NewChannel("conda-forge")},
		Platforms: []string{"linux-64"},
		Dependencies: []lockspec.Dependency{
			{Name: "alpha", Version: "*", Manager: lockspec.ManagerConda, Category: "main"},
			{Name: "beta", Version: "*", Manager: lockspec.ManagerConda, Category: "main"},
		},
	}

	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("alpha", "1.0"), pkg("beta", "1.0")}
	first := New(spec, nil, conda, newFakeBackend("pip"), Options{Workers: 1})
	firstReport, err := first.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// Update alpha: the backend only reports the changed package; beta's
	// entry must survive from the prior lock at its pinned version.
	updater := newFakeBackend("conda")
	updater.results["linux-64"] = []solver.Package{pkg("alpha", "2.0")}
	second := New(spec, firstReport.Lock, updater, newFakeBackend("pip"), Options{
		Workers: 1, Update: []string{"alpha"},
	})
	secondReport, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("update Run failed: %v", err)
	}

	req := updater.lastRequest()
	if req.Locked["beta"] != "1.0" {
		t.Errorf("prior versions not pinned: %v", req.Locked)
	}
	if len(req.Update) != 1 || req.Update[0] != "alpha" {
		t.Errorf("update targets = %v", req.Update)
	}

	byName := secondReport.Lock.ByName("linux-64")
	if byName["alpha"].Version != "2.0" {
		t.Errorf("alpha not updated: %+v", byName["alpha"])
	}
	if byName["beta"].Version != "1.0" {
		t.Errorf("beta must keep its locked version: %+v", byName["beta"])
	}
}

func TestRunPartialFailureIsolation(t *testing.T) {
	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("python", "3.11.4")}
	conda.failures["win-64"] = &solver.SolveError{
		Backend:    "conda",
		Platform:   "win-64",
		Diagnostic: "nothing provides vc >=14 needed by python",
		Err:        fmt.Errorf("exit status 1"),
	}

	l := New(condaSpec("linux-64", "win-64"), nil, conda, newFakeBackend("pip"), Options{Workers: 2})
	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.OK() {
		t.Errorf("run with a failed platform must not be OK")
	}
	if !report.Persistable() {
		t.Errorf("successful platforms must still be persistable")
	}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Platform != "win-64" {
		t.Fatalf("failed = %+v", failed)
	}
	// The backend's diagnostic survives verbatim.
	if failed[0].Diagnostic() != "nothing provides vc >=14 needed by python" {
		t.Errorf("diagnostic = %q", failed[0].Diagnostic())
	}

	if got := report.Lock.EntriesFor("linux-64", nil); len(got) != 1 {
		t.Errorf("successful platform missing from staged lock: %+v", got)
	}
	if got := report.Lock.EntriesFor("win-64", nil); len(got) != 0 {
		t.Errorf("failed platform must not gain entries: %+v", got)
	}
	if _, ok := report.Lock.HashFor("win-64"); ok {
		t.Errorf("failed platform must not record a content hash")
	}
}

func TestRunCancelledNotPersistable(t *testing.T) {
	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("python", "3.11.4")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New(condaSpec("linux-64"), nil, conda, newFakeBackend("pip"), Options{Workers: 1})
	report, err := l.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Cancelled {
		t.Errorf("report should be marked cancelled")
	}
	if report.Persistable() {
		t.Errorf("cancelled run with pending solves must not persist")
	}
}

func TestRunPipLayeredOnConda(t *testing.T) {
	spec := &lockspec.LockSpecification{
		Channels:  []lockspec.Channel{lockspec.NewChannel("conda-forge")},
		Platforms: []string{"linux-64"},
		Dependencies: []lockspec.Dependency{
			{Name: "python", Version: "=3.11", Manager: lockspec.ManagerConda, Category: "main"},
			{Name: "requests", Version: ">=2.28", Manager: lockspec.ManagerPip, Category: "main"},
		},
	}

	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("python", "3.11.4")}
	pip := newFakeBackend("pip")
	pip.results["linux-64"] = []solver.Package{pkg("requests", "2.31.0", "urllib3"), pkg("urllib3", "2.1.0")}

	l := New(spec, nil, conda, pip, Options{Workers: 1})
	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.OK() {
		t.Fatalf("run failed: %+v", report.Outcomes)
	}

	// The pip request carries the conda layer.
	pipReq := pip.lastRequest()
	if pipReq.PythonVersion != "3.11.4" {
		t.Errorf("python version not forwarded: %q", pipReq.PythonVersion)
	}
	if pipReq.Preinstalled["python"] != "3.11.4" {
		t.Errorf("conda layer not reported as preinstalled: %v", pipReq.Preinstalled)
	}

	// Conda entries precede pip entries in the stored order.
	entries := report.Lock.EntriesFor("linux-64", nil)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Manager != lockspec.ManagerConda || entries[1].Manager != lockspec.ManagerPip {
		t.Errorf("entry managers out of order: %+v", entries)
	}
}

func TestRunCategoryPropagation(t *testing.T) {
	spec := &lockspec.LockSpecification{
		Channels:  []lockspec.Channel{lockspec.NewChannel("conda-forge")},
		Platforms: []string{"linux-64"},
		Dependencies: []lockspec.Dependency{
			{Name: "python", Version: "*", Manager: lockspec.ManagerConda, Category: "main"},
			{Name: "pytest", Version: "*", Manager: lockspec.ManagerConda, Category: "dev"},
		},
	}

	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{
		pkg("python", "3.11.4"),
		pkg("pytest", "7.4.0", "pluggy", "python"),
		pkg("pluggy", "1.3.0"),
	}

	l := New(spec, nil, conda, newFakeBackend("pip"), Options{Workers: 1})
	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	byName := report.Lock.ByName("linux-64")
	if byName["pytest"].Category != "dev" || !byName["pytest"].Optional {
		t.Errorf("pytest category = %+v", byName["pytest"])
	}
	// pluggy is only reachable from the dev root.
	if byName["pluggy"].Category != "dev" || !byName["pluggy"].Optional {
		t.Errorf("pluggy category = %+v", byName["pluggy"])
	}
	// python is requested by main directly; main beats dev.
	if byName["python"].Category != "main" || byName["python"].Optional {
		t.Errorf("python category = %+v", byName["python"])
	}
}

func TestRunPlatformWithNoApplicableDependencies(t *testing.T) {
	spec := &lockspec.LockSpecification{
		Channels:  []lockspec.Channel{lockspec.NewChannel("conda-forge")},
		Platforms: []string{"linux-64", "win-64"},
		Dependencies: []lockspec.Dependency{
			{
				Name: "python", Version: "*", Manager: lockspec.ManagerConda,
				Category: "main", Platforms: []string{"linux-64"},
			},
		},
	}

	conda := newFakeBackend("conda")
	conda.results["linux-64"] = []solver.Package{pkg("python", "3.11.4")}

	l := New(spec, nil, conda, newFakeBackend("pip"), Options{Workers: 2})
	report, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Every dependency's selector excludes win-64, so that platform must
	// fail rather than pass as an empty solve.
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Platform != "win-64" {
		t.Fatalf("failed = %+v", failed)
	}
	var npErr *lockspec.NoPlatformError
	if !errors.As(failed[0].Err, &npErr) {
		t.Errorf("expected NoPlatformError, got %v", failed[0].Err)
	}
	if conda.solveCount() != 1 {
		t.Errorf("backend invoked %d times, the empty platform must not solve", conda.solveCount())
	}
	if got := report.Lock.EntriesFor("linux-64", nil); len(got) != 1 {
		t.Errorf("linux-64 should still solve: %+v", got)
	}
	if _, ok := report.Lock.HashFor("win-64"); ok {
		t.Errorf("empty platform must not record a content hash")
	}
}

func TestRunNoPlatforms(t *testing.T) {
	l := New(&lockspec.LockSpecification{}, nil, newFakeBackend("conda"), newFakeBackend("pip"), Options{})
	if _, err := l.Run(context.Background()); err == nil {
		t.Errorf("expected error for empty platform set")
	}
}

func TestSolverIdentityFallsBackToPrior(t *testing.T) {
	failing := newFakeBackend("conda")
	prior := lockfile.New(lockfile.LockMeta{Solver: "micromamba 1.5.8"})

	l := New(condaSpec("linux-64"), prior, &identityFailBackend{failing}, newFakeBackend("pip"), Options{})
	identity, err := l.solverIdentity(context.Background())
	if err != nil {
		t.Fatalf("solverIdentity failed: %v", err)
	}
	if identity != "micromamba 1.5.8" {
		t.Errorf("identity = %q, want prior metadata value", identity)
	}
}

type identityFailBackend struct {
	*fakeBackend
}

func (b *identityFailBackend) Identity(ctx context.Context) (string, error) {
	return "", errors.New("executable not found")
}
