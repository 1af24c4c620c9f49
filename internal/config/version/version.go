package version

// Package metadata information, used for versioning and provenance stamping.
// Release tooling replaces these variables at build time.
var (
	Version      = "0.1.0"          // Version of the lock tool
	Toolname     = "conda-lock-dev" // Name of the tool
	Organization = "unknown"        // Organization that built the tool
	BuildDate    = "unknown"        // Date when the tool was built
	CommitSHA    = "unknown"        // Commit SHA of the tool
)
