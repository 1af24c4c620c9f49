package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conda/conda-lock/internal/config"
	"github.com/conda/conda-lock/internal/solver"
	condasolver "github.com/conda/conda-lock/internal/solver/conda"
	pipsolver "github.com/conda/conda-lock/internal/solver/pip"
	"github.com/conda/conda-lock/internal/utils/logger"
)

// Command-line flags that can override config file settings
var (
	configFile string = "" // Path to config file
	logLevel   string = "" // Empty means use config file value
)

func main() {
	// Initialize global configuration first. The --config flag is pre-scanned
	// here because the config must be loaded (and the solver backends
	// registered from it) before cobra parses the command line.
	configFilePath := configPathFromArgs(os.Args[1:])
	if configFilePath == "" {
		configFilePath = config.FindConfigFile()
	}

	globalConfig, err := config.LoadGlobalConfig(configFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Set global config singleton
	config.SetGlobal(globalConfig)

	// Setup logger with configured level
	_, cleanup := logger.InitWithLevel(globalConfig.Logging.Level)
	defer cleanup()

	// Solver backends register once at startup; commands look them up by name.
	solver.Register(condasolver.New(config.SolverExecutable()))
	solver.Register(pipsolver.New(config.PipPython()))

	rootCmd := createRootCommand()

	// Handle log level override after flag parsing
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			globalConfig.Logging.Level = logLevel
			config.SetGlobal(globalConfig)
			logger.SetLogLevel(logLevel)
		}
	}

	log := logger.Logger()
	if configFilePath != "" {
		log.Infof("Using configuration from: %s", configFilePath)
	}
	log.Debugf("Config: workers=%d, solver=%s, lockfile=%s",
		config.Workers(), config.SolverExecutable(), config.LockfilePath())

	// An interrupt cancels in-flight solves; nothing new is persisted for a
	// run that did not finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// configPathFromArgs extracts the --config value from raw arguments, in
// either "--config path" or "--config=path" form.
func configPathFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// createRootCommand creates and configures the root cobra command with all subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conda-lock",
		Short: "Reproducible lockfiles for conda and pip environments",
		Long: `conda-lock resolves a dependency specification into a unified,
multi-platform lockfile. Each platform is solved independently with the
configured conda-family tool (and pip for pure-Python dependencies layered on
top), and the solved package lists are pinned down to exact URLs and hashes.

A content hash recorded per platform lets later runs skip platforms whose
inputs have not changed, and targeted updates re-solve only the named packages
while holding everything else at its locked version.

Use 'conda-lock --help' to see available commands.
Use 'conda-lock <command> --help' for more information about a command.`,
		SilenceUsage: true,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")

	// Add all subcommands
	rootCmd.AddCommand(createLockCommand())
	rootCmd.AddCommand(createUpdateCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createVersionCommand())

	return rootCmd
}
