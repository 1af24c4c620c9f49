// Package shell runs the external solver executables conda-lock orchestrates.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/conda/conda-lock/internal/utils/logger"
)

// commandMap holds the executables this tool is allowed to spawn. Solver
// backends are resolved through PATH lookup first so user-provided
// installations (e.g. a pixi-managed micromamba) win over the defaults.
var commandMap = map[string]string{
	"conda":      "/opt/conda/bin/conda",
	"mamba":      "/opt/conda/bin/mamba",
	"micromamba": "/usr/local/bin/micromamba",
	"pip":        "/usr/bin/pip",
	"python":     "/usr/bin/python3",
	"python3":    "/usr/bin/python3",
}

// GetOSEnvirons returns the system environment variables as a map.
func GetOSEnvirons() map[string]string {
	environ := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			environ[parts[0]] = parts[1]
		}
	}
	return environ
}

// GetOSProxyEnvirons retrieves HTTP and HTTPS proxy environment variables.
// Solver backends need these to reach channels from behind a proxy.
func GetOSProxyEnvirons() []string {
	var proxyEnv []string
	for key, value := range GetOSEnvirons() {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "http_proxy") || strings.Contains(lower, "https_proxy") ||
			strings.Contains(lower, "no_proxy") {
			proxyEnv = append(proxyEnv, key+"="+value)
		}
	}
	return proxyEnv
}

// ResolveExecutable turns a tool name into a runnable path. Absolute paths are
// accepted as-is, then PATH, then the built-in map.
func ResolveExecutable(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("executable %s not found: %w", name, err)
		}
		return name, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	if path, ok := commandMap[name]; ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("command %s not found in PATH or command map", name)
}

// IsCommandExist reports whether a tool can be resolved to an executable.
func IsCommandExist(name string) bool {
	_, err := ResolveExecutable(name)
	return err == nil
}

// ExecCmd runs an executable with args and returns combined output. The
// context cancels the subprocess; solver invocations can run for minutes.
func ExecCmd(ctx context.Context, name string, args []string, extraEnv []string) (string, error) {
	log := logger.Logger()
	path, err := ResolveExecutable(name)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Env = append(cmd.Env, GetOSProxyEnvirons()...)

	log.Debugf("Exec: [%s %s]", path, strings.Join(args, " "))
	output, err := cmd.CombinedOutput()
	outputStr := string(output)
	if err != nil {
		if outputStr != "" {
			log.Debugf(outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", path, err)
	}
	return outputStr, nil
}

// ExecCmdSplit runs an executable and returns stdout and stderr separately.
// Solver backends emit their JSON plan on stdout and diagnostics on stderr.
func ExecCmdSplit(ctx context.Context, name string, args []string, extraEnv []string) (stdout string, stderr string, err error) {
	log := logger.Logger()
	path, err := ResolveExecutable(name)
	if err != nil {
		return "", "", err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Env = append(cmd.Env, GetOSProxyEnvirons()...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	log.Debugf("Exec: [%s %s]", path, strings.Join(args, " "))
	runErr := cmd.Run()
	if runErr != nil {
		return outBuf.String(), errBuf.String(), fmt.Errorf("failed to exec %s: %w", path, runErr)
	}
	return outBuf.String(), errBuf.String(), nil
}

// ExecCmdWithStream runs an executable and streams both output pipes to the
// logger line by line, returning accumulated stdout.
func ExecCmdWithStream(ctx context.Context, name string, args []string, extraEnv []string) (string, error) {
	log := logger.Logger()
	path, err := ResolveExecutable(name)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Env = append(cmd.Env, GetOSProxyEnvirons()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe for %s: %w", path, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe for %s: %w", path, err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start %s: %w", path, err)
	}

	var outputStr string
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			str := scanner.Text()
			if str != "" {
				outputStr += str + "\n"
				log.Infof(str)
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			str := scanner.Text()
			if str != "" {
				log.Infof(str)
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return outputStr, fmt.Errorf("failed to wait for %s: %w", path, err)
	}
	return outputStr, nil
}
