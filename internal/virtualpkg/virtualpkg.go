// Package virtualpkg models the synthetic capability packages (__glibc,
// __cuda, ...) injected into conda solves. It provides platform defaults, an
// override-document reader, and a fake local channel the conda backend can be
// pointed at.
package virtualpkg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/conda/conda-lock/internal/utils/logger"
)

// Fixed timestamp for fake repodata entries so generated repodata is
// byte-stable across runs.
const defaultTimestamp = 1580940000

// KnownSubdirs are the platforms the fake channel always materializes.
var KnownSubdirs = []string{
	"noarch",
	"linux-64",
	"linux-aarch64",
	"linux-ppc64le",
	"osx-64",
	"osx-arm64",
	"win-64",
}

// Package is the minimal metadata of one virtual package entry.
type Package struct {
	Name        string
	Version     string
	BuildString string
	BuildNumber int
}

func (p Package) build() string {
	if p.BuildString != "" {
		return fmt.Sprintf("%s_%d", p.BuildString, p.BuildNumber)
	}
	return fmt.Sprintf("%d", p.BuildNumber)
}

func (p Package) filename() string {
	return fmt.Sprintf("%s-%s-%s.tar.bz2", p.Name, p.Version, p.build())
}

func (p Package) repodataEntry(subdir string) map[string]interface{} {
	return map[string]interface{}{
		"name":         p.Name,
		"version":      p.Version,
		"build":        p.build(),
		"build_number": p.BuildNumber,
		"depends":      []string{},
		"noarch":       "",
		"package_type": "virtual_system",
		"timestamp":    defaultTimestamp,
		"subdir":       subdir,
	}
}

// Repo is the set of virtual packages grouped by subdir.
type Repo struct {
	packages map[string][]Package // subdir -> packages
}

func NewRepo() *Repo {
	return &Repo{packages: map[string][]Package{}}
}

// Add registers a package under the given subdirs (noarch when none given).
func (r *Repo) Add(p Package, subdirs ...string) {
	if len(subdirs) == 0 {
		subdirs = []string{"noarch"}
	}
	for _, s := range subdirs {
		r.packages[s] = append(r.packages[s], p)
	}
}

// PackagesFor returns the packages visible to a platform solve: the
// platform's own subdir plus noarch, sorted by (name, version, build).
func (r *Repo) PackagesFor(platform string) []Package {
	out := append([]Package{}, r.packages["noarch"]...)
	out = append(out, r.packages[platform]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].build() < out[j].build()
	})
	return out
}

// RepoDataFor returns the hashable repodata representation for a platform:
// the noarch subdir plus the platform subdir, in the exact shape written to
// disk. The content hash folds this in verbatim.
func (r *Repo) RepoDataFor(platform string) map[string]interface{} {
	return map[string]interface{}{
		"noarch": r.subdirRepoData("noarch"),
		platform: r.subdirRepoData(platform),
	}
}

func (r *Repo) subdirRepoData(subdir string) map[string]interface{} {
	packages := map[string]interface{}{}
	for _, p := range r.packages[subdir] {
		packages[p.filename()] = p.repodataEntry(subdir)
	}
	return map[string]interface{}{
		"info":     map[string]interface{}{"subdir": subdir},
		"packages": packages,
	}
}

// Write materializes the repo as a local conda channel under dir: one
// repodata.json (plus a zstd variant, which newer solvers prefer) per subdir.
// The channel directory name carries a fresh uuid salt; conda caches repodata
// per channel URL, and a reused URL with different contents serves stale
// metadata. Returns the file:// channel URL.
func (r *Repo) Write(dir string) (string, error) {
	log := logger.Logger()

	channelDir := filepath.Join(dir, "virtual-packages-"+uuid.NewString()[:8])

	subdirs := map[string]struct{}{}
	for _, s := range KnownSubdirs {
		subdirs[s] = struct{}{}
	}
	for s := range r.packages {
		subdirs[s] = struct{}{}
	}

	names := make([]string, 0, len(subdirs))
	for s := range subdirs {
		names = append(names, s)
	}
	sort.Strings(names)

	for _, subdir := range names {
		subdirPath := filepath.Join(channelDir, subdir)
		if err := os.MkdirAll(subdirPath, 0o755); err != nil {
			return "", fmt.Errorf("creating fake channel subdir %s: %w", subdirPath, err)
		}
		content, err := json.Marshal(r.subdirRepoData(subdir))
		if err != nil {
			return "", fmt.Errorf("serializing repodata for %s: %w", subdir, err)
		}
		jsonPath := filepath.Join(subdirPath, "repodata.json")
		if err := os.WriteFile(jsonPath, content, 0o644); err != nil {
			return "", fmt.Errorf("writing %s: %w", jsonPath, err)
		}
		if err := writeZstd(jsonPath+".zst", content); err != nil {
			return "", err
		}
	}

	abs, err := filepath.Abs(channelDir)
	if err != nil {
		return "", fmt.Errorf("resolving fake channel path: %w", err)
	}
	url := "file://" + filepath.ToSlash(abs)
	log.Debugf("wrote virtual package channel to %s", url)
	return url, nil
}

func writeZstd(path string, content []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := enc.Write(content); err != nil {
		enc.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finishing %s: %w", path, err)
	}
	return nil
}

// OverrideEnv returns the CONDA_OVERRIDE_* variables that force the solver to
// honor the repo's virtual package versions even on hosts lacking them.
func (r *Repo) OverrideEnv(platform string) []string {
	var env []string
	seen := map[string]struct{}{}
	for _, p := range r.PackagesFor(platform) {
		if !strings.HasPrefix(p.Name, "__") {
			continue
		}
		key := "CONDA_OVERRIDE_" + strings.ToUpper(strings.TrimLeft(p.Name, "_"))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		env = append(env, key+"="+p.Version)
	}
	sort.Strings(env)
	return env
}

// Default returns the stock virtual package repo. An empty cudaVersion means
// CUDA is unavailable on the target.
func Default(cudaVersion string) *Repo {
	repo := NewRepo()

	repo.Add(Package{Name: "__unix", Version: "0"},
		"linux-64", "linux-aarch64", "linux-ppc64le", "osx-64", "osx-arm64")
	repo.Add(Package{Name: "__linux", Version: "5.10"},
		"linux-64", "linux-aarch64", "linux-ppc64le")
	repo.Add(Package{Name: "__win", Version: "0"}, "win-64")
	repo.Add(Package{Name: "__glibc", Version: "2.17"},
		"linux-64", "linux-aarch64", "linux-ppc64le")

	repo.Add(Package{Name: "__archspec", Version: "1", BuildString: "x86_64"},
		"linux-64", "osx-64", "win-64")
	repo.Add(Package{Name: "__archspec", Version: "1", BuildString: "arm64"}, "osx-arm64")
	repo.Add(Package{Name: "__archspec", Version: "1", BuildString: "aarch64"}, "linux-aarch64")
	repo.Add(Package{Name: "__archspec", Version: "1", BuildString: "ppc64le"}, "linux-ppc64le")

	if cudaVersion != "" {
		repo.Add(Package{Name: "__cuda", Version: cudaVersion},
			"linux-64", "linux-aarch64", "linux-ppc64le", "win-64")
	}

	for _, v := range []string{"10.13", "10.14", "10.15", "11.0", "12.0", "13.0"} {
		repo.Add(Package{Name: "__osx", Version: v}, "osx-64")
	}
	for _, v := range []string{"11.0", "12.0", "13.0", "14.0"} {
		repo.Add(Package{Name: "__osx", Version: v}, "osx-arm64")
	}

	return repo
}

// overrideDocument mirrors the virtual-packages.yml schema:
//
//	subdirs:
//	  linux-64:
//	    packages:
//	      __glibc: "2.28"
type overrideDocument struct {
	Subdirs map[string]struct {
		Packages map[string]string `yaml:"packages"`
	} `yaml:"subdirs"`
}

// FromOverrides builds a repo from the default set plus explicit per-platform
// overrides (platform -> name -> version). Overridden names replace every
// default entry of that name on that platform.
func FromOverrides(cudaVersion string, overrides map[string]map[string]string) *Repo {
	repo := Default(cudaVersion)
	for platform, pkgs := range overrides {
		kept := repo.packages[platform][:0]
		for _, p := range repo.packages[platform] {
			if _, replaced := pkgs[p.Name]; !replaced {
				kept = append(kept, p)
			}
		}
		repo.packages[platform] = kept
		names := make([]string, 0, len(pkgs))
		for name := range pkgs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			repo.Add(Package{Name: name, Version: pkgs[name]}, platform)
		}
	}
	return repo
}

// ReadOverrideFile parses a virtual-packages.yml document into the override
// map consumed by FromOverrides.
func ReadOverrideFile(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading virtual package file %s: %w", path, err)
	}
	var doc overrideDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing virtual package file %s: %w", path, err)
	}
	out := map[string]map[string]string{}
	for subdir, entry := range doc.Subdirs {
		out[subdir] = entry.Packages
	}
	return out, nil
}
