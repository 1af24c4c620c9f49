package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conda/conda-lock/internal/config"
	"github.com/conda/conda-lock/internal/config/version"
	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/locker"
	"github.com/conda/conda-lock/internal/utils/logger"
)

// createUpdateCommand creates the update subcommand
func createUpdateCommand() *cobra.Command {
	updateCmd := &cobra.Command{
		Use:   "update [flags] PACKAGE...",
		Short: "Re-solve only the named packages",
		Long: `Re-solve the named packages against the current specification while every
other locked package is pinned to its recorded version. Pinned packages keep
their exact version; their metadata may be refreshed from the solver's plan.

Requires an existing lockfile.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeUpdate,
	}

	updateCmd.Flags().StringSliceVarP(&sourceFiles, "file", "f", []string{"environment.yml"},
		"Source specification file (repeatable, merged in order)")
	updateCmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil,
		"Target platform (repeatable, overrides the source files)")
	updateCmd.Flags().StringVar(&lockfilePath, "lockfile", "",
		"Lockfile path")
	updateCmd.Flags().IntVarP(&workers, "workers", "w", -1,
		"Number of platforms solving concurrently")
	updateCmd.Flags().StringVar(&vpkgSpecFile, "virtual-package-spec", "",
		"Virtual package override file")
	updateCmd.Flags().StringVar(&cudaVersion, "cuda", "",
		"CUDA version exposed as the __cuda virtual package")

	return updateCmd
}

// executeUpdate handles the update command execution logic
func executeUpdate(cmd *cobra.Command, args []string) error {
	applyLockFlagOverrides(cmd)
	log := logger.Logger()

	spec, err := loadSpecification()
	if err != nil {
		return err
	}

	path := config.LockfilePath()
	prior, err := lockfile.Load(path)
	if err != nil {
		return fmt.Errorf("loading prior lockfile: %w", err)
	}
	if prior == nil {
		return fmt.Errorf("no lockfile at %s; run 'conda-lock lock' first", path)
	}

	run, err := runLocker(cmd, spec, prior, locker.Options{
		Update:      args,
		Workers:     config.Workers(),
		CudaVersion: config.CudaVersion(),
		ToolVersion: version.Toolname + " " + version.Version,
	})
	if err != nil {
		return err
	}

	if run.Persistable() {
		if err := lockfile.Write(run.Lock, path); err != nil {
			return fmt.Errorf("writing lockfile: %w", err)
		}
		log.Infof("wrote %s", path)
	}

	fmt.Print(run.Summary())
	if failed := run.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d platform(s) failed to solve", len(failed))
	}
	if run.Cancelled {
		return fmt.Errorf("update run interrupted")
	}
	return nil
}
