// Package config holds tool-level configuration: everything that shapes how
// a lock run executes without being part of the lock inputs themselves.
// Lock inputs (channels, platforms, dependencies) live in source documents;
// nothing in this package participates in content hashing.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/conda/conda-lock/internal/utils/logger"
	"github.com/conda/conda-lock/internal/validate"
)

// GlobalConfig holds essential tool-level configuration parameters
type GlobalConfig struct {
	// Workers is the number of platforms solving concurrently (1-100, default: 4)
	Workers int `yaml:"workers" json:"workers"`

	// Solver selects the external tools used for resolution
	Solver SolverConfig `yaml:"solver" json:"solver"`

	// Lockfile is the artifact path (default: conda-lock.yml)
	Lockfile string `yaml:"lockfile" json:"lockfile"`

	// CudaVersion enables the __cuda virtual package (empty = no CUDA)
	CudaVersion string `yaml:"cuda_version,omitempty" json:"cuda_version,omitempty"`

	// Platforms is the default platform set when source documents name none
	Platforms []string `yaml:"platforms,omitempty" json:"platforms,omitempty"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SolverConfig names the external resolution tools.
type SolverConfig struct {
	Executable string `yaml:"executable" json:"executable"` // conda-family tool: conda, mamba or micromamba (name or absolute path)
	Python     string `yaml:"python" json:"python"`         // interpreter used for pip solves
}

// LoggingConfig controls basic logging behavior
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`                   // Log verbosity level: debug, info (default), warn, error
	File  string `yaml:"file,omitempty" json:"file,omitempty"` // Optional log file path for teeing output to disk
}

// Global singleton variables
var (
	globalInstance *GlobalConfig
	globalMutex    sync.RWMutex
	once           sync.Once
)

// SetGlobal sets the global config instance (call once at startup in main.go)
func SetGlobal(config *GlobalConfig) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalInstance = config
}

// Global returns the global config instance
func Global() *GlobalConfig {
	once.Do(func() {
		globalMutex.Lock()
		defer globalMutex.Unlock()
		if globalInstance == nil {
			globalInstance = DefaultGlobalConfig()
		}
	})

	globalMutex.RLock()
	defer globalMutex.RUnlock()
	return globalInstance
}

// DefaultGlobalConfig returns a GlobalConfig with sensible defaults
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Workers:  4,
		Lockfile: "conda-lock.yml",
		Solver: SolverConfig{
			Executable: "micromamba",
			Python:     "python3",
		},
		Platforms: []string{"linux-64", "osx-64", "osx-arm64", "win-64"},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadGlobalConfig loads configuration from the specified path. A missing
// file is not an error; the defaults apply.
func LoadGlobalConfig(configPath string) (*GlobalConfig, error) {
	log := logger.Logger()
	config := DefaultGlobalConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		if errors.Is(err, os.ErrPermission) {
			log.Warnf("Config file %s is not accessible (%v); using defaults", configPath, err)
			return config, nil
		}
		return nil, fmt.Errorf("accessing config file %s: %w", configPath, err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}

		jsonData, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("converting config to JSON for validation: %w", err)
		}
		if err := validate.ValidateConfigJSON(jsonData); err != nil {
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml)", ext)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate checks the configuration for consistency.
// Note: This should NOT set defaults - that's done in DefaultGlobalConfig()
func (gc *GlobalConfig) Validate() error {
	if gc.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0, got %d", gc.Workers)
	}
	if gc.Workers > 100 {
		return fmt.Errorf("workers cannot exceed 100, got %d", gc.Workers)
	}

	if gc.Lockfile == "" {
		return fmt.Errorf("lockfile path cannot be empty")
	}
	if gc.Solver.Executable == "" {
		return fmt.Errorf("solver executable cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, l := range validLevels {
		if gc.Logging.Level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level %q, must be one of: %s",
			gc.Logging.Level, strings.Join(validLevels, ", "))
	}

	gc.Logging.File = strings.TrimSpace(gc.Logging.File)
	return nil
}

// GetConfigPaths returns the standard configuration file paths to check
func GetConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()

	paths := []string{
		"conda-lock.config.yml",  // Primary config location (project directory)
		".conda-lock.config.yml", // Hidden file in current directory
		"conda-lock.config.yaml",
		".conda-lock.config.yaml",
	}

	if homeDir != "" {
		paths = append(paths,
			filepath.Join(homeDir, ".conda-lock", "config.yml"),
			filepath.Join(homeDir, ".conda-lock", "config.yaml"),
			filepath.Join(homeDir, ".config", "conda-lock", "config.yml"),
			filepath.Join(homeDir, ".config", "conda-lock", "config.yaml"),
		)
	}

	paths = append(paths,
		"/etc/conda-lock/config.yml",
		"/etc/conda-lock/config.yaml",
	)
	return paths
}

// FindConfigFile searches for a configuration file in standard locations
func FindConfigFile() string {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Convenience functions that can be used anywhere in the codebase
func Workers() int {
	return Global().Workers
}

func LockfilePath() string {
	return Global().Lockfile
}

func SolverExecutable() string {
	return Global().Solver.Executable
}

func PipPython() string {
	return Global().Solver.Python
}

func CudaVersion() string {
	return Global().CudaVersion
}

func DefaultPlatforms() []string {
	return Global().Platforms
}

func LogLevel() string {
	return Global().Logging.Level
}

func IsDebugMode() bool {
	return Global().Logging.Level == "debug"
}
