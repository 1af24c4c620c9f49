package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conda/conda-lock/internal/config"
	"github.com/conda/conda-lock/internal/config/version"
	"github.com/conda/conda-lock/internal/lockfile"
	"github.com/conda/conda-lock/internal/locker"
	"github.com/conda/conda-lock/internal/lockspec"
	"github.com/conda/conda-lock/internal/solver"
	"github.com/conda/conda-lock/internal/utils/logger"
	"github.com/conda/conda-lock/internal/virtualpkg"
)

// Lock command flags
var (
	sourceFiles    []string
	platforms      []string
	lockfilePath   string = "" // Empty means use config file value
	checkInputHash bool
	workers        int    = -1 // -1 means use config file value
	vpkgSpecFile   string = ""
	cudaVersion    string = ""
)

// createLockCommand creates the lock subcommand
func createLockCommand() *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock [flags]",
		Short: "Solve the specification and write the lockfile",
		Long: `Solve every target platform of the dependency specification and write the
unified lockfile. Source files are merged in order: a later file overrides an
earlier entry for the same package and category, channels accumulate in
first-seen order.

With --check-input-hash, platforms whose recorded content hash still matches
the current inputs keep their prior solution untouched.`,
		RunE: executeLock,
	}

	lockCmd.Flags().StringSliceVarP(&sourceFiles, "file", "f", []string{"environment.yml"},
		"Source specification file (repeatable, merged in order)")
	lockCmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil,
		"Target platform (repeatable, overrides the source files)")
	lockCmd.Flags().StringVar(&lockfilePath, "lockfile", "",
		"Lockfile path")
	lockCmd.Flags().BoolVar(&checkInputHash, "check-input-hash", false,
		"Skip platforms whose recorded content hash is unchanged")
	lockCmd.Flags().IntVarP(&workers, "workers", "w", -1,
		"Number of platforms solving concurrently")
	lockCmd.Flags().StringVar(&vpkgSpecFile, "virtual-package-spec", "",
		"Virtual package override file")
	lockCmd.Flags().StringVar(&cudaVersion, "cuda", "",
		"CUDA version exposed as the __cuda virtual package")

	return lockCmd
}

// executeLock handles the lock command execution logic
func executeLock(cmd *cobra.Command, args []string) error {
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

	run, err := runLocker(cmd, spec, prior, locker.Options{
		CheckInputHash: checkInputHash,
		Workers:        config.Workers(),
		CudaVersion:    config.CudaVersion(),
		ToolVersion:    version.Toolname + " " + version.Version,
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
		return fmt.Errorf("lock run interrupted")
	}
	return nil
}

// loadSpecification reads and merges the source files, applying the platform
// and virtual-package overrides from flags.
func loadSpecification() (*lockspec.LockSpecification, error) {
	var specs []*lockspec.LockSpecification
	for _, file := range sourceFiles {
		doc, err := lockspec.ReadSourceFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		spec, err := doc.ToLockSpecification(config.DefaultPlatforms())
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		specs = append(specs, spec)
	}

	merged, err := lockspec.Merge(specs)
	if err != nil {
		return nil, err
	}

	if len(platforms) > 0 {
		merged.Platforms = platforms
	}
	if vpkgSpecFile != "" {
		overrides, err := virtualpkg.ReadOverrideFile(vpkgSpecFile)
		if err != nil {
			return nil, fmt.Errorf("reading virtual package spec: %w", err)
		}
		merged.VirtualPackages = overrides
	}
	return merged, nil
}

// runLocker resolves the registered backends and drives one run.
func runLocker(cmd *cobra.Command, spec *lockspec.LockSpecification, prior *lockfile.Lockfile, opts locker.Options) (*locker.RunReport, error) {
	condaBackend, ok := solver.Get("conda")
	if !ok {
		return nil, fmt.Errorf("no conda solver backend registered")
	}
	pipBackend, _ := solver.Get("pip")

	l := locker.New(spec, prior, condaBackend, pipBackend, opts)
	return l.Run(cmd.Context())
}

// applyLockFlagOverrides pushes changed flags into the global config so the
// convenience accessors see them.
func applyLockFlagOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("workers") {
		currentConfig := config.Global()
		currentConfig.Workers = workers
		config.SetGlobal(currentConfig)
	}
	if cmd.Flags().Changed("lockfile") {
		currentConfig := config.Global()
		currentConfig.Lockfile = lockfilePath
		config.SetGlobal(currentConfig)
	}
	if cmd.Flags().Changed("cuda") {
		currentConfig := config.Global()
		currentConfig.CudaVersion = cudaVersion
		config.SetGlobal(currentConfig)
	}
}
