// Package lockspec holds the canonical in-memory representation of a
// dependency request: the merged view of every source document handed to the
// tool, before any platform has been solved.
package lockspec

import (
	"fmt"
	"sort"

	"github.com/conda/conda-lock/internal/credentials"
)

// Manager identifies the ecosystem a dependency belongs to.
type Manager string

const (
	ManagerConda Manager = "conda"
	ManagerPip   Manager = "pip"
)

// DefaultCategory is the category assigned when a source does not group its
// dependencies explicitly.
const DefaultCategory = "main"

// Dependency is a single requested package. The version constraint string is
// ecosystem-specific and opaque to the engine. Immutable once constructed.
type Dependency struct {
	Name     string   `yaml:"name" json:"name"`
	Version  string   `yaml:"version" json:"version"`
	Build    string   `yaml:"build,omitempty" json:"build,omitempty"`
	Manager  Manager  `yaml:"manager" json:"manager"`
	Category string   `yaml:"category" json:"category"`
	Extras   []string `yaml:"extras,omitempty" json:"extras,omitempty"`

	// URL and Hashes are set for URL-pinned packages.
	URL    string   `yaml:"url,omitempty" json:"url,omitempty"`
	Hashes []string `yaml:"hashes,omitempty" json:"hashes,omitempty"`

	// Platforms restricts the dependency to a subset of the spec's target
	// platforms. Empty means all platforms.
	Platforms []string `yaml:"platforms,omitempty" json:"platforms,omitempty"`

	// ManagerExplicit records that the source asserted the manager
	// deliberately, which allows it to win over a conflicting entry.
	ManagerExplicit bool `yaml:"-" json:"-"`
}

// Key identifies the merge slot of a dependency.
func (d Dependency) Key() string {
	return d.Name + "/" + d.Category
}

// AppliesTo reports whether the dependency's target selector includes the
// given platform.
func (d Dependency) AppliesTo(platform string) bool {
	if len(d.Platforms) == 0 {
		return true
	}
	for _, p := range d.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// Channel is a conda package repository location. URLs may carry env-var
// placeholders instead of literal credentials; UsedEnvVars records which
// variables the parameterized form references.
type Channel struct {
	URL         string   `yaml:"url" json:"url"`
	UsedEnvVars []string `yaml:"used_env_vars" json:"used_env_vars"`
}

// NewChannel parses a channel string, stripping any literal credentials into
// env-var placeholders.
func NewChannel(raw string) Channel {
	parameterized, usedVars := credentials.Parameterize(raw)
	if usedVars == nil {
		usedVars = []string{}
	}
	sort.Strings(usedVars)
	return Channel{URL: parameterized, UsedEnvVars: usedVars}
}

// EnvReplacedURL returns the literal channel URL with env-var placeholders
// substituted from the process environment. Solver backends receive this form.
func (c Channel) EnvReplacedURL() string {
	return credentials.Substitute(c.URL)
}

// LockSpecification is the solver-input-complete description of what to lock:
// channels, target platforms, dependencies and the auxiliary inputs that
// affect solving without being dependencies themselves.
type LockSpecification struct {
	Channels     []Channel    `yaml:"channels" json:"channels"`
	Platforms    []string     `yaml:"platforms" json:"platforms"`
	Dependencies []Dependency `yaml:"dependencies" json:"dependencies"`
	Sources      []string     `yaml:"sources" json:"sources"`

	// VirtualPackages holds per-platform capability overrides
	// (platform -> virtual package name -> version). Nil means the
	// platform-appropriate defaults are substituted before hashing.
	VirtualPackages map[string]map[string]string `yaml:"virtual_packages,omitempty" json:"virtual_packages,omitempty"`
}

// HasPlatform reports whether platform is among the spec's targets.
func (s *LockSpecification) HasPlatform(platform string) bool {
	for _, p := range s.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// DependenciesFor returns the dependencies applicable to platform, in source
// order, split is left to the caller.
func (s *LockSpecification) DependenciesFor(platform string) []Dependency {
	var out []Dependency
	for _, d := range s.Dependencies {
		if d.AppliesTo(platform) {
			out = append(out, d)
		}
	}
	return out
}

// SubsetByManager returns the dependencies for one ecosystem, preserving
// order.
func SubsetByManager(deps []Dependency, manager Manager) []Dependency {
	var out []Dependency
	for _, d := range deps {
		if d.Manager == manager {
			out = append(out, d)
		}
	}
	return out
}

// Categories returns the sorted set of categories present in the spec.
func (s *LockSpecification) Categories() []string {
	seen := map[string]struct{}{}
	for _, d := range s.Dependencies {
		seen[d.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *LockSpecification) String() string {
	return fmt.Sprintf("LockSpecification{%d channels, %d platforms, %d dependencies}",
		len(s.Channels), len(s.Platforms), len(s.Dependencies))
}
