package contenthash

import (
	"regexp"
	"testing"

	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/virtualpkg"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func specWith(deps ...lockspec.Dependency) *lockspec.LockSpecification {
	return &lockspec.LockSpecification{
		Channels:     []lockspec.Channel{lockspec.NewChannel("conda-forge")},
		Platforms:    []string{"linux-64"},
		Dependencies: deps,
	}
}

func dep(name, version string) lockspec.Dependency {
	return lockspec.Dependency{
		Name: name, Version: version,
		Manager: lockspec.ManagerConda, Category: lockspec.DefaultCategory,
	}
}

func TestFingerprintShape(t *testing.T) {
	h, err := Fingerprint(specWith(dep("python", ">=3.9")), "linux-64", nil, "")
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if !hexPattern.MatchString(h) {
		t.Errorf("hash %q is not 64 lowercase hex chars", h)
	}
}

func TestFingerprintStableUnderReordering(t *testing.T) {
	a := specWith(dep("python", ">=3.9"), dep("numpy", "*"))
	b := specWith(dep("numpy", "*"), dep("python", ">=3.9"))

	ha, err := Fingerprint(a, "linux-64", nil, "")
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	hb, err := Fingerprint(b, "linux-64", nil, "")
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if ha != hb {
		t.Errorf("source ordering changed the hash: %s != %s", ha, hb)
	}
}

func TestFingerprintIgnoresConstraintWhitespace(t *testing.T) {
	a := specWith(dep("python", ">=3.9,<3.12"))
	b := specWith(dep("python", ">= 3.9, < 3.12"))

	ha, _ := Fingerprint(a, "linux-64", nil, "")
	hb, _ := Fingerprint(b, "linux-64", nil, "")
	if ha != hb {
		t.Errorf("constraint whitespace changed the hash")
	}
}

func TestFingerprintSensitiveToConstraintChange(t *testing.T) {
	// Tightening one constraint must produce a different hash even when the
	// solve result would be identical.
	a := specWith(dep("python", ">=3.9"), dep("numpy", "*"))
	b := specWith(dep("python", ">=3.10"), dep("numpy", "*"))

	ha, _ := Fingerprint(a, "linux-64", nil, "")
	hb, _ := Fingerprint(b, "linux-64", nil, "")
	if ha == hb {
		t.Errorf("constraint change did not change the hash")
	}
}

func TestFingerprintSensitiveToChannels(t *testing.T) {
	a := specWith(dep("python", "*"))
	b := specWith(dep("python", "*"))
	b.Channels = append(b.Channels, lockspec.NewChannel("bioconda"))

	ha, _ := Fingerprint(a, "linux-64", nil, "")
	hb, _ := Fingerprint(b, "linux-64", nil, "")
	if ha == hb {
		t.Errorf("channel change did not change the hash")
	}
}

func TestFingerprintSensitiveToVirtualPackages(t *testing.T) {
	spec := specWith(dep("python", "*"))

	ha, _ := Fingerprint(spec, "linux-64", virtualpkg.Default(""), "")
	hb, _ := Fingerprint(spec, "linux-64", virtualpkg.Default("12.4"), "")
	if ha == hb {
		t.Errorf("virtual package change did not change the hash")
	}
}

func TestFingerprintSensitiveToSolverIdentity(t *testing.T) {
	spec := specWith(dep("python", "*"))

	ha, _ := Fingerprint(spec, "linux-64", nil, "micromamba 1.5.8")
	hb, _ := Fingerprint(spec, "linux-64", nil, "micromamba 2.0.0")
	if ha == hb {
		t.Errorf("solver identity change did not change the hash")
	}
}

func TestFingerprintPerPlatformSelectors(t *testing.T) {
	spec := &lockspec.LockSpecification{
		Channels:  []lockspec.Channel{lockspec.NewChannel("conda-forge")},
		Platforms: []string{"linux-64", "win-64"},
		Dependencies: []lockspec.Dependency{
			dep("python", "*"),
			{Name: "pywin32", Version: "*", Manager: lockspec.ManagerConda,
				Category: lockspec.DefaultCategory, Platforms: []string{"win-64"}},
		},
	}

	hashes, err := FingerprintAll(spec, nil, "")
	if err != nil {
		t.Fatalf("FingerprintAll failed: %v", err)
	}
	if hashes["linux-64"] == hashes["win-64"] {
		t.Errorf("platform-restricted dependency should differentiate the hashes")
	}
}

func TestFingerprintRepeatable(t *testing.T) {
	spec := specWith(dep("python", ">=3.9"), dep("numpy", "*"))
	repo := virtualpkg.Default("12.4")

	first, err := Fingerprint(spec, "linux-64", repo, "micromamba 1.5.8")
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Fingerprint(spec, "linux-64", repo, "micromamba 1.5.8")
		if err != nil {
			t.Fatalf("Fingerprint failed: %v", err)
		}
		if first != again {
			t.Fatalf("hash not repeatable: %s != %s", first, again)
		}
	}
}
