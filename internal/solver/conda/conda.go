// Package conda implements the conda-family solver backend. It shells out to
// conda, mamba or micromamba in dry-run mode and translates the JSON install
// plan into the engine's package representation.
package conda

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/solver"
	"github.com/conda/conda-lock/internal/utils/logger"
	"github.com/conda/conda-lock/internal/utils/shell"
)

// Solver invokes a conda-family executable. Executable may be a bare tool
// name resolved through PATH or an absolute path.
type Solver struct {
	Executable string
}

func New(executable string) *Solver {
	if executable == "" {
		executable = "micromamba"
	}
	return &Solver{Executable: executable}
}

func (s *Solver) Name() string {
	return "conda"
}

func (s *Solver) isMicromamba() bool {
	return strings.HasSuffix(s.Executable, "micromamba") ||
		strings.HasSuffix(s.Executable, "micromamba.exe")
}

// Identity returns "<basename> <version>", e.g. "micromamba 1.5.8".
func (s *Solver) Identity(ctx context.Context) (string, error) {
	out, err := shell.ExecCmd(ctx, s.Executable, []string{"--version"}, nil)
	if err != nil {
		return "", fmt.Errorf("querying %s version: %w", s.Executable, err)
	}
	version := strings.TrimSpace(out)
	// conda prints "conda 24.1.2", micromamba prints the bare version
	if !strings.Contains(version, " ") {
		version = filepath.Base(s.Executable) + " " + version
	}
	return version, nil
}

// dryRunPlan mirrors the JSON emitted by `create --dry-run --json`.
type dryRunPlan struct {
	Actions struct {
		Fetch []fetchAction `json:"FETCH"`
		Link  []linkAction  `json:"LINK"`
	} `json:"actions"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type fetchAction struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Build   string   `json:"build_string"`
	BuildN  string   `json:"build"`
	URL     string   `json:"url"`
	MD5     string   `json:"md5"`
	SHA256  string   `json:"sha256"`
	Depends []string `json:"depends"`
}

type linkAction struct {
	Name string `json:"name"`
}

// Solve runs a dry-run create (or, in update mode, a dry-run install against
// a synthetic prefix populated from the prior lock) and returns the planned
// packages in the solver's own output order.
func (s *Solver) Solve(ctx context.Context, req solver.Request) (*solver.Result, error) {
	log := logger.Logger()

	update := len(req.Update) > 0 && len(req.Locked) > 0
	var updateTargets []string
	if update {
		updateTargets = updateSpecs(req)
		if len(updateTargets) == 0 {
			log.Debugf("no update target applies to %s, leaving platform untouched", req.Platform)
			return &solver.Result{}, nil
		}
	}

	workDir, err := os.MkdirTemp("", "conda-lock-solve-")
	if err != nil {
		return nil, fmt.Errorf("creating solve workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	args := []string{"create", "--dry-run", "--json", "--yes",
		"--prefix", filepath.Join(workDir, "env"), "--override-channels"}
	for _, ch := range req.Channels {
		args = append(args, "--channel", ch)
	}

	env := []string{"CONDA_SUBDIR=" + req.Platform}
	if req.VirtualPackages != nil {
		channelURL, err := req.VirtualPackages.Write(filepath.Join(workDir, "vpkg"))
		if err != nil {
			return nil, fmt.Errorf("materializing virtual packages: %w", err)
		}
		args = append(args, "--channel", channelURL)
		env = append(env, req.VirtualPackages.OverrideEnv(req.Platform)...)
	}
	if s.isMicromamba() {
		args = append(args, "--platform", req.Platform)
	}

	if update {
		prefix := filepath.Join(workDir, "env")
		if err := writeSyntheticPrefix(prefix, req); err != nil {
			return nil, err
		}
		args[0] = "install"
		args = append(args, updateTargets...)
	} else {
		args = append(args, matchSpecs(req.Specs)...)
	}

	stdout, stderr, runErr := shell.ExecCmdSplit(ctx, s.Executable, args, env)
	if runErr != nil {
		diagnostic := strings.TrimSpace(stderr)
		if msg := extractPlanError(stdout); msg != "" {
			diagnostic = msg
		}
		if diagnostic == "" {
			diagnostic = strings.TrimSpace(stdout)
		}
		return nil, &solver.SolveError{
			Backend:    s.Name(),
			Platform:   req.Platform,
			Diagnostic: diagnostic,
			Err:        runErr,
		}
	}

	var plan dryRunPlan
	if err := json.Unmarshal([]byte(extractJSONObject(stdout)), &plan); err != nil {
		return nil, &solver.SolveError{
			Backend:    s.Name(),
			Platform:   req.Platform,
			Diagnostic: strings.TrimSpace(stdout),
			Err:        fmt.Errorf("parsing dry-run plan: %w", err),
		}
	}

	result := &solver.Result{}
	for _, action := range plan.Actions.Fetch {
		// Virtual packages satisfy constraints but are never installable.
		if strings.HasPrefix(action.Name, "__") {
			continue
		}
		build := action.Build
		if build == "" {
			build = action.BuildN
		}
		result.Packages = append(result.Packages, solver.Package{
			Name:    action.Name,
			Version: action.Version,
			Build:   build,
			URL:     action.URL,
			MD5:     action.MD5,
			SHA256:  action.SHA256,
			Depends: dependencyNames(action.Depends),
		})
	}

	log.Debugf("%s solved %d packages for %s", s.Executable, len(result.Packages), req.Platform)
	return result, nil
}

// matchSpecs renders dependencies as conda match specs: "name version" or
// "name version build".
func matchSpecs(specs []lockspec.Dependency) []string {
	var out []string
	for _, d := range specs {
		if d.URL != "" {
			out = append(out, d.URL)
			continue
		}
		spec := d.Name
		if d.Version != "" && d.Version != "*" {
			spec += " " + d.Version
			if d.Build != "" {
				spec += " " + d.Build
			}
		}
		out = append(out, spec)
	}
	return out
}

// updateSpecs renders only the update targets that the platform actually
// carries; everything else is held by the pin file in the synthetic prefix.
// A target absent from both the spec and the prior lock is skipped: updating
// a package a platform never had must not install it.
func updateSpecs(req solver.Request) []string {
	requested := map[string]lockspec.Dependency{}
	for _, d := range req.Specs {
		requested[d.Name] = d
	}
	var out []string
	for _, name := range req.Update {
		if d, ok := requested[name]; ok {
			out = append(out, matchSpecs([]lockspec.Dependency{d})...)
			continue
		}
		if _, locked := req.Locked[name]; locked {
			out = append(out, name)
		}
	}
	return out
}

// writeSyntheticPrefix fabricates a minimal installed environment from the
// prior lock: one conda-meta record per pinned package plus a pin file
// holding every package not targeted by the update.
func writeSyntheticPrefix(prefix string, req solver.Request) error {
	metaDir := filepath.Join(prefix, "conda-meta")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("creating synthetic prefix: %w", err)
	}
	if err := os.WriteFile(filepath.Join(metaDir, "history"), nil, 0o644); err != nil {
		return fmt.Errorf("creating synthetic history: %w", err)
	}

	updating := map[string]bool{}
	for _, name := range req.Update {
		updating[name] = true
	}

	var pins []string
	for name, version := range req.Locked {
		record := map[string]interface{}{
			"name":           name,
			"version":        version,
			"build":          "0",
			"build_number":   0,
			"channel":        "conda-lock-synthetic",
			"files":          []string{},
			"depends":        []string{},
			"paths_data":     map[string]interface{}{"paths": []string{}, "paths_version": 1},
			"requested_spec": name,
			"package_type":   "noarch_generic",
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("serializing synthetic record for %s: %w", name, err)
		}
		recordPath := filepath.Join(metaDir, fmt.Sprintf("%s-%s-0.json", name, version))
		if err := os.WriteFile(recordPath, data, 0o644); err != nil {
			return fmt.Errorf("writing synthetic record %s: %w", recordPath, err)
		}
		if !updating[name] {
			pins = append(pins, fmt.Sprintf("%s ==%s", name, version))
		}
	}

	pinFile := filepath.Join(metaDir, "pinned")
	if err := os.WriteFile(pinFile, []byte(strings.Join(pins, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pin file: %w", err)
	}
	return nil
}

// dependencyNames strips version constraints from depends entries:
// "python >=3.9,<3.12" -> "python".
func dependencyNames(depends []string) []string {
	var out []string
	for _, d := range depends {
		name := strings.Fields(d)
		if len(name) == 0 {
			continue
		}
		out = append(out, name[0])
	}
	return out
}

// extractJSONObject trims solver banners before or after the JSON body;
// mamba in particular is chatty on stdout.
func extractJSONObject(stdout string) string {
	start := strings.Index(stdout, "{")
	end := strings.LastIndex(stdout, "}")
	if start == -1 || end == -1 || end < start {
		return stdout
	}
	return stdout[start : end+1]
}

// extractPlanError pulls the structured error message out of a failed plan,
// when the solver managed to emit JSON at all.
func extractPlanError(stdout string) string {
	var plan dryRunPlan
	if err := json.Unmarshal([]byte(extractJSONObject(stdout)), &plan); err != nil {
		return ""
	}
	if plan.Message != "" {
		return plan.Message
	}
	return plan.Error
}
