// Package solver defines the narrow contract between the lock engine and the
// external dependency solvers it orchestrates. Backends are black boxes:
// solve request in, ordered package list or structured failure out.
package solver

import (
	"context"
	"fmt"

	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/virtualpkg"
)

// Package is one resolved package as reported by a backend. Field order and
// content mirror what backends emit; the engine records, never re-derives.
type Package struct {
	Name    string
	Version string
	Build   string
	URL     string
	SHA256  string
	MD5     string
	// Depends holds direct dependency names; cycles are possible with
	// malformed upstream metadata and are stored as-is.
	Depends []string
}

// Request is everything a backend needs for one platform solve.
type Request struct {
	Platform string
	// Channels carries literal URLs (credentials substituted) in priority
	// order. Pip backends ignore it.
	Channels []string
	// Specs is the ecosystem subset of the platform-restricted
	// specification, in source order.
	Specs []lockspec.Dependency

	// VirtualPackages is the capability repo injected into conda solves.
	VirtualPackages *virtualpkg.Repo

	// Locked pins name->exact version for update solves; Update names the
	// packages freed from their pins. Both empty for a fresh solve.
	Locked map[string]string
	Update []string

	// PythonVersion and Preinstalled describe the conda layer a pip solve
	// sits on: the interpreter version and the import names already
	// satisfied by conda packages (never double-locked).
	PythonVersion string
	Preinstalled  map[string]string
}

// Result is a successful solve: the backend's package list in the backend's
// own order, recorded faithfully.
type Result struct {
	Packages []Package
}

// SolveError is a structured backend failure. Diagnostic carries the
// backend's own message verbatim; reports must never summarize it away.
type SolveError struct {
	Backend    string
	Platform   string
	Diagnostic string
	Err        error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%s solve failed for %s: %v", e.Backend, e.Platform, e.Err)
}

func (e *SolveError) Unwrap() error {
	return e.Err
}

// Backend is the capability interface every solver implements.
type Backend interface {
	// Name is a unique ID, e.g. "conda" or "pip".
	Name() string

	// Identity returns the tool identity string (executable kind and
	// version) folded into content hashes.
	Identity(ctx context.Context) (string, error)

	// Solve resolves the request into an ordered package list.
	Solve(ctx context.Context, req Request) (*Result, error)
}

var backends = make(map[string]Backend)

// Register makes a Backend available under its Name().
func Register(b Backend) {
	backends[b.Name()] = b
}

// Get returns the Backend by name.
func Get(name string) (Backend, bool) {
	b, ok := backends[name]
	return b, ok
}
