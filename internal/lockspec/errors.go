package lockspec

import "fmt"

// SpecConflictError reports an irreconcilable merge: two sources assert
// mutually exclusive ecosystems for the same (name, category) slot without an
// explicit override.
type SpecConflictError struct {
	Name     string
	Category string
	Earlier  Manager
	Later    Manager
}

func (e *SpecConflictError) Error() string {
	return fmt.Sprintf("conflicting managers for dependency %q in category %q: %s vs %s",
		e.Name, e.Category, e.Earlier, e.Later)
}

// NoPlatformError reports that a requested platform is not covered by the
// specification: either it is absent from the target list, or every
// dependency's selector excludes it.
type NoPlatformError struct {
	Platform string
	Reason   string
}

func (e *NoPlatformError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("platform %q: %s", e.Platform, e.Reason)
	}
	return fmt.Sprintf("platform %q is not among the specification's target platforms", e.Platform)
}
