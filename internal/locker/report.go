package locker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/solver"
)

// PlatformOutcome is the terminal state of one platform in a run.
type PlatformOutcome struct {
	Platform     string
	State        PlatformState
	Hash         string
	PackageCount int
	Err          error
}

func (o PlatformOutcome) fail(err error) PlatformOutcome {
	o.State = StateFailed
	o.Err = err
	return o
}

// Diagnostic returns the backend's own failure message verbatim when one was
// captured, falling back to the wrapped error text.
func (o PlatformOutcome) Diagnostic() string {
	if o.Err == nil {
		return ""
	}
	var solveErr *solver.SolveError
	if errors.As(o.Err, &solveErr) && solveErr.Diagnostic != "" {
		return solveErr.Diagnostic
	}
	return o.Err.Error()
}

// RunReport aggregates every platform's outcome plus the staged lock. The
// lock holds fresh entries for solved platforms and the untouched prior
// entries for failed or skipped ones.
type RunReport struct {
	mu        sync.Mutex
	RunID     string
	Outcomes  []PlatformOutcome
	Lock      *lockfile.Lockfile
	Cancelled bool
}

func (r *RunReport) add(o PlatformOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outcomes = append(r.Outcomes, o)
}

func (r *RunReport) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.Slice(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Platform < r.Outcomes[j].Platform
	})
}

// Failed returns the outcomes of platforms that did not produce a solution.
func (r *RunReport) Failed() []PlatformOutcome {
	var out []PlatformOutcome
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether every platform ended reusable or solved.
func (r *RunReport) OK() bool {
	return !r.Cancelled && len(r.Failed()) == 0
}

// Persistable reports whether the staged lock may be written. A run that was
// interrupted persists nothing new; it only counts as persistable when every
// platform was a verbatim reuse. A completed run persists whatever platforms
// succeeded even when others failed.
func (r *RunReport) Persistable() bool {
	if r.Cancelled {
		for _, o := range r.Outcomes {
			if o.State != StateReusable {
				return false
			}
		}
		return len(r.Outcomes) > 0
	}
	for _, o := range r.Outcomes {
		if o.State == StateSolved || o.State == StateReusable {
			return true
		}
	}
	return false
}

// Summary renders a human-readable per-platform account, failure diagnostics
// included verbatim.
func (r *RunReport) Summary() string {
	var b strings.Builder
	for _, o := range r.Outcomes {
		switch o.State {
		case StateReusable:
			fmt.Fprintf(&b, "  %-12s reused (hash unchanged)\n", o.Platform)
		case StateSolved:
			fmt.Fprintf(&b, "  %-12s solved, %d packages\n", o.Platform, o.PackageCount)
		case StateFailed:
			fmt.Fprintf(&b, "  %-12s FAILED: %s\n", o.Platform, o.Diagnostic())
		default:
			fmt.Fprintf(&b, "  %-12s %s\n", o.Platform, o.State)
		}
	}
	return b.String()
}
