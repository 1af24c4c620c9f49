package lockfile

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/conda/conda-lock/internal/credentials"
	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/utils/logger"
)

// DefaultLockfileName is the conventional artifact name.
const DefaultLockfileName = "conda-lock.yml"

const fileHeader = "# This lock file was generated by conda-lock. DO NOT EDIT!\n" +
	"# Changes belong in the source specification; re-run the lock to refresh.\n"

// SchemaMigrationError reports a persisted artifact this build cannot read.
type SchemaMigrationError struct {
	Found     int
	Supported int
}

func (e *SchemaMigrationError) Error() string {
	return fmt.Sprintf("unsupported lockfile schema version %d (this build supports up to %d)",
		e.Found, e.Supported)
}

// lockedDependencyV1 is the schema-1 package entry: dependency edges were a
// name->constraint map rather than a plain name list.
type lockedDependencyV1 struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Build        string            `yaml:"build,omitempty"`
	Manager      string            `yaml:"manager"`
	Platform     string            `yaml:"platform"`
	Dependencies map[string]string `yaml:"dependencies"`
	URL          string            `yaml:"url"`
	Hash         HashModel         `yaml:"hash"`
	Category     string            `yaml:"category"`
	Optional     bool              `yaml:"optional"`
}

type lockfileV1 struct {
	Version  int                  `yaml:"version"`
	Metadata LockMeta             `yaml:"metadata"`
	Package  []lockedDependencyV1 `yaml:"package"`
}

// Parse reads a persisted lockfile, migrating older schema versions up to the
// current one. Migration is lossless for everything the current schema
// carries, and recorded content hashes are preserved verbatim so that a
// migrated artifact still reuses its platforms.
func Parse(data []byte) (*Lockfile, error) {
	var probe struct {
		Version int `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing lockfile: %w", err)
	}

	switch probe.Version {
	case SchemaVersion:
		var lf Lockfile
		if err := yaml.Unmarshal(data, &lf); err != nil {
			return nil, fmt.Errorf("parsing lockfile: %w", err)
		}
		normalize(&lf)
		return &lf, nil
	case 1:
		var v1 lockfileV1
		if err := yaml.Unmarshal(data, &v1); err != nil {
			return nil, fmt.Errorf("parsing v1 lockfile: %w", err)
		}
		lf := migrateV1(&v1)
		normalize(lf)
		return lf, nil
	default:
		return nil, &SchemaMigrationError{Found: probe.Version, Supported: SchemaVersion}
	}
}

// migrateV1 upgrades a schema-1 artifact: dependency edges lose their
// constraint values (names survive, sorted), everything else carries over.
// The per-platform content hashes are NOT recomputed; the old tool recorded
// them and a migration must reproduce them.
func migrateV1(v1 *lockfileV1) *Lockfile {
	log := logger.Logger()
	log.Debugf("migrating lockfile schema v1 -> v%d", SchemaVersion)

	lf := &Lockfile{Version: SchemaVersion, Metadata: v1.Metadata}
	for _, p := range v1.Package {
		names := make([]string, 0, len(p.Dependencies))
		for name := range p.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		lf.Package = append(lf.Package, LockedDependency{
			Name:         p.Name,
			Version:      p.Version,
			Build:        p.Build,
			Manager:      managerFromString(p.Manager),
			Platform:     p.Platform,
			Dependencies: names,
			URL:          p.URL,
			Hash:         p.Hash,
			Category:     p.Category,
			Optional:     p.Optional,
		})
	}
	return lf
}

func normalize(lf *Lockfile) {
	if lf.Metadata.ContentHash == nil {
		lf.Metadata.ContentHash = map[string]string{}
	}
	// An entry with no edges parses as an empty list, so it must serialize
	// as one too for load(save(x)) == x.
	for i := range lf.Package {
		if lf.Package[i].Dependencies == nil {
			lf.Package[i].Dependencies = []string{}
		}
	}
	sort.SliceStable(lf.Package, func(i, j int) bool {
		return lf.Package[i].Platform < lf.Package[j].Platform
	})
}

// Serialize emits the current schema with canonical ordering: platform
// sections lexicographic, solver order within each platform, map keys sorted.
// Credential-bearing URLs are parameterized back to env-var placeholders at
// this boundary.
func Serialize(lf *Lockfile) ([]byte, error) {
	out := lf.Clone()
	out.Version = SchemaVersion
	normalize(out)

	for i := range out.Metadata.Channels {
		url, usedVars := credentials.Parameterize(out.Metadata.Channels[i].URL)
		out.Metadata.Channels[i].URL = url
		if usedVars != nil {
			out.Metadata.Channels[i].UsedEnvVars = usedVars
		}
	}
	for i := range out.Package {
		url, _ := credentials.Parameterize(out.Package[i].URL)
		out.Package[i].URL = url
	}

	body, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("serializing lockfile: %w", err)
	}
	return append([]byte(fileHeader), body...), nil
}

// Load reads a lockfile from disk. A missing file is not an error; it
// returns (nil, nil) so callers can treat it as "no prior solution".
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}
	return Parse(data)
}

// Write persists the lockfile to disk in one atomic rename.
func Write(lf *Lockfile, path string) error {
	data, err := Serialize(lf)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing lockfile %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing lockfile %s: %w", path, err)
	}
	return nil
}

func managerFromString(s string) lockspec.Manager {
	if s == "pip" {
		return lockspec.ManagerPip
	}
	return lockspec.ManagerConda
}
