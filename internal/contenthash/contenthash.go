// Package contenthash fingerprints the solve inputs for one platform. The
// orchestrator compares stored and fresh fingerprints to decide whether a
// platform's prior solution can be reused verbatim.
//
// The canonicalization mirrors the historical scheme exactly, quirks
// included: anything that changes the serialized form invalidates every
// existing lockfile, so deviations are a breaking change even when the old
// behavior looks accidental.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/virtualpkg"
)

// Fingerprint computes the content hash for one platform: a sha256 over the
// canonical JSON of the platform-restricted specification, the virtual
// package repodata visible to that platform, and the solver identity. Pure
// function, no I/O.
func Fingerprint(spec *lockspec.LockSpecification, platform string, repo *virtualpkg.Repo, solverIdentity string) (string, error) {
	deps := spec.DependenciesFor(platform)

	// Specs sort by (manager, name) so source ordering and incidental
	// formatting never affect the hash.
	sorted := make([]lockspec.Dependency, len(deps))
	copy(sorted, deps)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Manager != sorted[j].Manager {
			return sorted[i].Manager < sorted[j].Manager
		}
		return sorted[i].Name < sorted[j].Name
	})

	specDicts := make([]map[string]interface{}, 0, len(sorted))
	for _, d := range sorted {
		specDicts = append(specDicts, dependencyDict(d))
	}

	channels := make([]string, 0, len(spec.Channels))
	for _, ch := range spec.Channels {
		// Channels are embedded as their own canonical JSON strings, not
		// nested objects. Historical artifact, load-bearing for hash
		// compatibility.
		chJSON, err := json.Marshal(map[string]interface{}{
			"url":           ch.URL,
			"used_env_vars": sortedCopy(ch.UsedEnvVars),
		})
		if err != nil {
			return "", fmt.Errorf("serializing channel %s: %w", ch.URL, err)
		}
		channels = append(channels, string(chJSON))
	}

	content := map[string]interface{}{
		"channels": channels,
		"specs":    specDicts,
	}
	if repo != nil {
		content["virtual_package_hash"] = repo.RepoDataFor(platform)
	}
	if solverIdentity != "" {
		content["solver"] = solverIdentity
	}

	// encoding/json sorts map keys, which is exactly the canonical key
	// ordering this hash requires.
	canonical, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("serializing solve inputs for %s: %w", platform, err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintAll computes the per-platform hashes for every platform in the
// specification.
func FingerprintAll(spec *lockspec.LockSpecification, repo *virtualpkg.Repo, solverIdentity string) (map[string]string, error) {
	out := make(map[string]string, len(spec.Platforms))
	for _, platform := range spec.Platforms {
		h, err := Fingerprint(spec, platform, repo, solverIdentity)
		if err != nil {
			return nil, err
		}
		out[platform] = h
	}
	return out, nil
}

func dependencyDict(d lockspec.Dependency) map[string]interface{} {
	dict := map[string]interface{}{
		"name":     d.Name,
		"manager":  string(d.Manager),
		"category": d.Category,
		"extras":   sortedCopy(d.Extras),
		"version":  normalizeConstraint(d.Version),
	}
	if d.Build != "" {
		dict["build"] = d.Build
	}
	if d.URL != "" {
		dict["url"] = d.URL
		dict["hashes"] = sortedCopy(d.Hashes)
	}
	return dict
}

// normalizeConstraint canonicalizes incidental formatting inside version
// constraints: whitespace around operators and commas is not semantic.
func normalizeConstraint(v string) string {
	if v == "" {
		return "*"
	}
	out := make([]rune, 0, len(v))
	for _, r := range v {
		if r == ' ' || r == '\t' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
