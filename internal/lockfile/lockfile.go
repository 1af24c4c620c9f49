// Package lockfile holds the canonical representation of a solved
// environment: one resolved package list per platform plus provenance
// metadata, and the serializer that persists it across schema versions.
package lockfile

import (
	"fmt"
	"sort"
	"sync"

	"github.com/conda/conda-lock/internal/lockspec"
)

// SchemaVersion is the current persisted schema.
const SchemaVersion = 2

// HashModel carries the integrity hashes recorded by the solver. Virtual
// packages may legitimately have neither.
type HashModel struct {
	MD5    string `yaml:"md5,omitempty" json:"md5,omitempty"`
	SHA256 string `yaml:"sha256,omitempty" json:"sha256,omitempty"`
}

// LockedDependency is one resolved package. Produced only by a solver backend
// or reconstructed from a prior lock, never hand-built.
type LockedDependency struct {
	Name     string           `yaml:"name" json:"name"`
	Version  string           `yaml:"version" json:"version"`
	Build    string           `yaml:"build,omitempty" json:"build,omitempty"`
	Manager  lockspec.Manager `yaml:"manager" json:"manager"`
	Platform string           `yaml:"platform" json:"platform"`
	// Dependencies holds direct dependency names as a plain edge list; the
	// engine stores and passes the graph through without walking it.
	Dependencies []string  `yaml:"dependencies" json:"dependencies"`
	URL          string    `yaml:"url" json:"url"`
	Hash         HashModel `yaml:"hash" json:"hash"`
	Category     string    `yaml:"category" json:"category"`
	Optional     bool      `yaml:"optional" json:"optional"`
}

// Key identifies a package uniquely within a lockfile.
func (d LockedDependency) Key() string {
	return string(d.Manager) + "/" + d.Name + "/" + d.Platform
}

// LockMeta is the lockfile metadata block.
type LockMeta struct {
	ContentHash    map[string]string  `yaml:"content_hash" json:"content_hash"`
	Channels       []lockspec.Channel `yaml:"channels" json:"channels"`
	Platforms      []string           `yaml:"platforms" json:"platforms"`
	Sources        []string           `yaml:"sources" json:"sources"`
	ToolVersion    string             `yaml:"tool_version,omitempty" json:"tool_version,omitempty"`
	Solver         string             `yaml:"solver,omitempty" json:"solver,omitempty"`
	CustomMetadata map[string]string  `yaml:"custom_metadata,omitempty" json:"custom_metadata,omitempty"`
}

// Lockfile is the unified multi-platform lock artifact.
type Lockfile struct {
	mu sync.Mutex

	Version  int                `yaml:"version" json:"version"`
	Metadata LockMeta           `yaml:"metadata" json:"metadata"`
	Package  []LockedDependency `yaml:"package" json:"package"`
}

// New creates an empty current-schema lockfile with the given metadata.
func New(meta LockMeta) *Lockfile {
	if meta.ContentHash == nil {
		meta.ContentHash = map[string]string{}
	}
	return &Lockfile{Version: SchemaVersion, Metadata: meta}
}

// ReplacePlatform atomically swaps the full entry list for one platform and
// records its fresh content hash. Entries of other platforms are untouched.
// The platform's list is always replaced as a whole, never patched
// field-by-field.
func (l *Lockfile) ReplacePlatform(platform string, entries []LockedDependency, hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]LockedDependency, 0, len(l.Package)+len(entries))
	for _, p := range l.Package {
		if p.Platform != platform {
			kept = append(kept, p)
		}
	}
	for _, e := range entries {
		e.Platform = platform
		if e.Dependencies == nil {
			e.Dependencies = []string{}
		}
		kept = append(kept, e)
	}

	// Platform sections stay in lexicographic order for diff stability;
	// within a platform the solver's own order is preserved.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Platform < kept[j].Platform
	})
	l.Package = kept

	if l.Metadata.ContentHash == nil {
		l.Metadata.ContentHash = map[string]string{}
	}
	l.Metadata.ContentHash[platform] = hash
	if !contains(l.Metadata.Platforms, platform) {
		l.Metadata.Platforms = append(l.Metadata.Platforms, platform)
		sort.Strings(l.Metadata.Platforms)
	}
}

// EntriesFor returns the locked entries for a platform restricted to the
// given categories (nil or empty means all), preserving stored order: conda
// entries in solver order followed by pip entries in solver order. Render
// targets depend on this ordering.
func (l *Lockfile) EntriesFor(platform string, categories []string) []LockedDependency {
	l.mu.Lock()
	defer l.mu.Unlock()

	wanted := map[string]bool{}
	for _, c := range categories {
		wanted[c] = true
	}

	var out []LockedDependency
	for _, manager := range []lockspec.Manager{lockspec.ManagerConda, lockspec.ManagerPip} {
		for _, p := range l.Package {
			if p.Platform != platform || p.Manager != manager {
				continue
			}
			if len(wanted) > 0 && !wanted[p.Category] {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// HashFor returns the stored content hash for a platform, if any.
func (l *Lockfile) HashFor(platform string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.Metadata.ContentHash[platform]
	return h, ok
}

// ByName returns the platform's entries indexed by package name. The update
// reconciler builds its pin set from this view.
func (l *Lockfile) ByName(platform string) map[string]LockedDependency {
	out := map[string]LockedDependency{}
	for _, p := range l.EntriesFor(platform, nil) {
		out[p.Name] = p
	}
	return out
}

// Clone returns a deep copy sharing no mutable state with the original. The
// orchestrator stages changes on a clone so a failed run never corrupts the
// loaded snapshot.
func (l *Lockfile) Clone() *Lockfile {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta := l.Metadata
	meta.ContentHash = copyStringMap(l.Metadata.ContentHash)
	meta.CustomMetadata = copyStringMap(l.Metadata.CustomMetadata)
	meta.Channels = append([]lockspec.Channel(nil), l.Metadata.Channels...)
	meta.Platforms = append([]string(nil), l.Metadata.Platforms...)
	meta.Sources = append([]string(nil), l.Metadata.Sources...)

	pkgs := make([]LockedDependency, len(l.Package))
	for i, p := range l.Package {
		// append onto a non-nil base so an empty edge list stays empty
		// rather than collapsing to nil.
		p.Dependencies = append([]string{}, p.Dependencies...)
		pkgs[i] = p
	}
	return &Lockfile{Version: l.Version, Metadata: meta, Package: pkgs}
}

func (l *Lockfile) String() string {
	return fmt.Sprintf("Lockfile{v%d, %d platforms, %d packages}",
		l.Version, len(l.Metadata.Platforms), len(l.Package))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
