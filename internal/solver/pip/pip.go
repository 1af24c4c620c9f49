// Package pip implements the pip-family solver backend. It layers a pip
// resolution on top of an already-solved conda environment using pip's
// dry-run installation report.
package pip

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

// Solver invokes `<python> -m pip install --dry-run --report`. Python may be
// a bare name or an absolute interpreter path.
type Solver struct {
	Python string
}

func New(python string) *Solver {
	if python == "" {
		python = "python3"
	}
	return &Solver{Python: python}
}

func (s *Solver) Name() string {
	return "pip"
}

// Identity returns "pip <version>".
func (s *Solver) Identity(ctx context.Context) (string, error) {
	out, err := shell.ExecCmd(ctx, s.Python, []string{"-m", "pip", "--version"}, nil)
	if err != nil {
		return "", fmt.Errorf("querying pip version: %w", err)
	}
	// "pip 24.0 from /... (python 3.11)"
	fields := strings.Fields(out)
	if len(fields) >= 2 {
		return fields[0] + " " + fields[1], nil
	}
	return strings.TrimSpace(out), nil
}

// installReport mirrors pip's --report JSON (schema version 1).
type installReport struct {
	Install []struct {
		Metadata struct {
			Name         string   `json:"name"`
			Version      string   `json:"version"`
			RequiresDist []string `json:"requires_dist"`
		} `json:"metadata"`
		DownloadInfo struct {
			URL         string `json:"url"`
			ArchiveInfo struct {
				Hash string `json:"hash"`
			} `json:"archive_info"`
		} `json:"download_info"`
	} `json:"install"`
}

// Solve resolves the pip subset on top of the conda layer. The preinstalled
// set (conda-satisfied import names) and the pins from a prior lock are both
// expressed as constraints; preinstalled names are excluded from the result
// so nothing is ever double-locked.
func (s *Solver) Solve(ctx context.Context, req solver.Request) (*solver.Result, error) {
	log := logger.Logger()

	if len(req.Update) > 0 && len(req.Locked) > 0 && !updateApplies(req) {
		log.Debugf("no update target applies to %s, leaving pip layer untouched", req.Platform)
		return &solver.Result{}, nil
	}

	workDir, err := os.MkdirTemp("", "conda-lock-pip-")
	if err != nil {
		return nil, fmt.Errorf("creating pip workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	reqFile := filepath.Join(workDir, "requirements.txt")
	if err := os.WriteFile(reqFile, []byte(renderRequirements(req.Specs)), 0o644); err != nil {
		return nil, fmt.Errorf("writing requirements: %w", err)
	}

	args := []string{"-m", "pip", "install", "--dry-run", "--quiet",
		"--ignore-installed", "--report", filepath.Join(workDir, "report.json"),
		"-r", reqFile}

	constraints := renderConstraints(req)
	if constraints != "" {
		conFile := filepath.Join(workDir, "constraints.txt")
		if err := os.WriteFile(conFile, []byte(constraints), 0o644); err != nil {
			return nil, fmt.Errorf("writing constraints: %w", err)
		}
		args = append(args, "-c", conFile)
	}
	if req.PythonVersion != "" {
		args = append(args, "--python-version", req.PythonVersion, "--only-binary", ":all:")
	}

	_, stderr, runErr := shell.ExecCmdSplit(ctx, s.Python, args, nil)
	if runErr != nil {
		return nil, &solver.SolveError{
			Backend:    s.Name(),
			Platform:   req.Platform,
			Diagnostic: strings.TrimSpace(stderr),
			Err:        runErr,
		}
	}

	data, err := os.ReadFile(filepath.Join(workDir, "report.json"))
	if err != nil {
		return nil, fmt.Errorf("reading pip report: %w", err)
	}
	var report installReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, &solver.SolveError{
			Backend:    s.Name(),
			Platform:   req.Platform,
			Diagnostic: strings.TrimSpace(stderr),
			Err:        fmt.Errorf("parsing pip report: %w", err),
		}
	}

	result := &solver.Result{}
	for _, item := range report.Install {
		name := NormalizeName(item.Metadata.Name)
		if _, satisfied := req.Preinstalled[name]; satisfied {
			continue
		}
		result.Packages = append(result.Packages, solver.Package{
			Name:    name,
			Version: item.Metadata.Version,
			URL:     item.DownloadInfo.URL,
			SHA256:  strings.TrimPrefix(item.DownloadInfo.ArchiveInfo.Hash, "sha256="),
			Depends: requiresDistNames(item.Metadata.RequiresDist),
		})
	}

	log.Debugf("pip solved %d packages for %s", len(result.Packages), req.Platform)
	return result, nil
}

func renderRequirements(specs []lockspec.Dependency) string {
	var b strings.Builder
	for _, d := range specs {
		if d.URL != "" {
			fmt.Fprintf(&b, "%s @ %s\n", d.Name, d.URL)
			continue
		}
		line := d.Name
		if len(d.Extras) > 0 {
			line += "[" + strings.Join(d.Extras, ",") + "]"
		}
		if d.Version != "" && d.Version != "*" {
			line += " " + d.Version
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// updateApplies reports whether any update target exists in the platform's
// spec or prior lock. A target the platform never had must not be installed
// by an update.
func updateApplies(req solver.Request) bool {
	for _, name := range req.Update {
		if _, ok := req.Locked[name]; ok {
			return true
		}
		for _, d := range req.Specs {
			if NormalizeName(d.Name) == name {
				return true
			}
		}
	}
	return false
}

// renderConstraints pins the prior solution (minus update targets) and the
// conda-satisfied packages so the resolver cannot move them.
func renderConstraints(req solver.Request) string {
	updating := map[string]bool{}
	for _, name := range req.Update {
		updating[name] = true
	}

	var lines []string
	for name, version := range req.Locked {
		if !updating[name] {
			lines = append(lines, fmt.Sprintf("%s==%s", name, version))
		}
	}
	for name, version := range req.Preinstalled {
		if version != "" {
			lines = append(lines, fmt.Sprintf("%s==%s", name, version))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// requiresDistNames extracts bare package names from Requires-Dist entries:
// "urllib3 (<3,>=1.21.1)" -> "urllib3"; environment-marker-only extras are
// kept, their applicability is the installer's concern.
func requiresDistNames(requires []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, r := range requires {
		name := r
		if idx := strings.IndexAny(name, " (;=<>!~["); idx != -1 {
			name = name[:idx]
		}
		name = NormalizeName(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// NormalizeName lowers a distribution name and folds underscores and dots to
// hyphens, per the packaging name normalization rules.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}
