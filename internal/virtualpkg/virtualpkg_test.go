package virtualpkg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func findPackage(pkgs []Package, name string) (Package, bool) {
	for _, p := range pkgs {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

func TestDefaultLinuxPackages(t *testing.T) {
	repo := Default("")
	pkgs := repo.PackagesFor("linux-64")

	for name, version := range map[string]string{
		"__unix":  "0",
		"__linux": "5.10",
		"__glibc": "2.17",
	} {
		p, ok := findPackage(pkgs, name)
		if !ok {
			t.Errorf("linux-64 missing %s", name)
			continue
		}
		if p.Version != version {
			t.Errorf("%s version = %q, want %q", name, p.Version, version)
		}
	}
	if _, ok := findPackage(pkgs, "__win"); ok {
		t.Errorf("__win must not be visible on linux-64")
	}
	if _, ok := findPackage(pkgs, "__cuda"); ok {
		t.Errorf("__cuda present without a CUDA version")
	}
}

func TestDefaultCuda(t *testing.T) {
	repo := Default("12.4")
	if p, ok := findPackage(repo.PackagesFor("linux-64"), "__cuda"); !ok || p.Version != "12.4" {
		t.Errorf("__cuda = %+v, ok=%v", p, ok)
	}
	if _, ok := findPackage(repo.PackagesFor("osx-arm64"), "__cuda"); ok {
		t.Errorf("__cuda must not appear on osx-arm64")
	}
}

func TestDefaultArchspec(t *testing.T) {
	for platform, arch := range map[string]string{
		"linux-64":  "x86_64",
		"osx-arm64": "arm64",
	} {
		p, ok := findPackage(Default("").PackagesFor(platform), "__archspec")
		if !ok || p.BuildString != arch {
			t.Errorf("%s __archspec = %+v, want build %q", platform, p, arch)
		}
	}
}

func TestFromOverridesReplacesDefaults(t *testing.T) {
	repo := FromOverrides("", map[string]map[string]string{
		"linux-64": {"__glibc": "2.28"},
	})
	pkgs := repo.PackagesFor("linux-64")

	glibcCount := 0
	for _, p := range pkgs {
		if p.Name == "__glibc" {
			glibcCount++
			if p.Version != "2.28" {
				t.Errorf("__glibc version = %q, want 2.28", p.Version)
			}
		}
	}
	if glibcCount != 1 {
		t.Errorf("override must replace the default entry, found %d __glibc entries", glibcCount)
	}
	if _, ok := findPackage(pkgs, "__linux"); !ok {
		t.Errorf("non-overridden defaults must survive")
	}
}

func TestOverrideEnv(t *testing.T) {
	env := Default("12.4").OverrideEnv("linux-64")

	want := map[string]bool{
		"CONDA_OVERRIDE_GLIBC=2.17": true,
		"CONDA_OVERRIDE_CUDA=12.4":  true,
		"CONDA_OVERRIDE_LINUX=5.10": true,
	}
	for _, kv := range env {
		delete(want, kv)
	}
	for missing := range want {
		t.Errorf("OverrideEnv missing %s", missing)
	}
}

func TestRepoDataForShape(t *testing.T) {
	repo := NewRepo()
	repo.Add(Package{Name: "__glibc", Version: "2.17"}, "linux-64")

	data := repo.RepoDataFor("linux-64")
	subdir, ok := data["linux-64"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing linux-64 subdir in repodata")
	}
	packages := subdir["packages"].(map[string]interface{})
	pkgEntry, ok := packages["__glibc-2.17-0.tar.bz2"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing __glibc repodata entry, have %v", packages)
	}
	if pkgEntry["package_type"] != "virtual_system" || pkgEntry["subdir"] != "linux-64" {
		t.Errorf("repodata entry = %v", pkgEntry)
	}
	if _, ok := data["noarch"]; !ok {
		t.Errorf("repodata must always include noarch")
	}
}

// channelRoot strips the file:// scheme so test assertions can read the
// written channel directly.
func channelRoot(t *testing.T, url string) string {
	t.Helper()
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("channel URL = %q, want file:// scheme", url)
	}
	return filepath.FromSlash(strings.TrimPrefix(url, "file://"))
}

func TestWriteFakeChannel(t *testing.T) {
	dir := t.TempDir()
	repo := Default("")

	url, err := repo.Write(dir)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	root := channelRoot(t, url)

	jsonPath := filepath.Join(root, "linux-64", "repodata.json")
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("reading repodata: %v", err)
	}
	var repodata map[string]interface{}
	if err := json.Unmarshal(raw, &repodata); err != nil {
		t.Fatalf("repodata is not valid JSON: %v", err)
	}

	// The zstd variant decompresses to the same bytes.
	compressed, err := os.ReadFile(jsonPath + ".zst")
	if err != nil {
		t.Fatalf("reading zstd repodata: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("creating zstd reader: %v", err)
	}
	defer dec.Close()
	decoded, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		t.Fatalf("decompressing repodata: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Errorf("zstd repodata does not match the plain variant")
	}

	// Every known subdir is materialized even when empty.
	for _, subdir := range KnownSubdirs {
		if _, err := os.Stat(filepath.Join(root, subdir, "repodata.json")); err != nil {
			t.Errorf("missing repodata for subdir %s: %v", subdir, err)
		}
	}
}

func TestWriteDeterministic(t *testing.T) {
	repo := Default("12.0")

	urlA, err := repo.Write(t.TempDir())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	urlB, err := repo.Write(t.TempDir())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	a, _ := os.ReadFile(filepath.Join(channelRoot(t, urlA), "linux-64", "repodata.json"))
	b, _ := os.ReadFile(filepath.Join(channelRoot(t, urlB), "linux-64", "repodata.json"))
	if string(a) != string(b) {
		t.Errorf("repodata generation is not byte-stable")
	}
}

func TestWriteSaltsChannelName(t *testing.T) {
	repo := Default("")
	dir := t.TempDir()

	urlA, err := repo.Write(dir)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	urlB, err := repo.Write(dir)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// Solvers cache repodata per channel URL; two writes must never collide.
	if urlA == urlB {
		t.Errorf("channel URL reused across writes: %q", urlA)
	}
}

func TestReadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virtual-packages.yml")
	content := `subdirs:
  linux-64:
    packages:
      __glibc: "2.28"
      __cuda: "11.8"
  win-64:
    packages:
      __cuda: "11.8"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	got, err := ReadOverrideFile(path)
	if err != nil {
		t.Fatalf("ReadOverrideFile failed: %v", err)
	}
	want := map[string]map[string]string{
		"linux-64": {"__glibc": "2.28", "__cuda": "11.8"},
		"win-64":   {"__cuda": "11.8"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadOverrideFile = %v, want %v", got, want)
	}
}
