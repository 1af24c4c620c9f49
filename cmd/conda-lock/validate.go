package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/validate"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] LOCKFILE",
		Short: "Validate a lockfile against the schema",
		Long: `Validate a lockfile: structural validation against the embedded JSON schema
followed by a full parse, including migration of older schema versions.`,
		Args: cobra.ExactArgs(1),
		RunE: executeValidate,
	}
	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := validate.ValidateLockfileYAML(data); err != nil {
		return err
	}

	lf, err := lockfile.Parse(data)
	if err != nil {
		return err
	}

	fmt.Printf("%s: valid (schema v%d, %d platforms, %d packages)\n",
		path, lf.Version, len(lf.Metadata.Platforms), len(lf.Package))
	return nil
}
