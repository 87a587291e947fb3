package engine

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// DefaultBinary is the engine executable name looked up on PATH.
const DefaultBinary = "lost"

// Status describes whether the engine can be run.
type Status struct {
	Available bool
	Path      string
	Version   string
	Error     error
}

// Locate resolves the engine executable. An empty path falls back to
// DefaultBinary on PATH.
func Locate(path string) (string, error) {
	if path == "" {
		path = DefaultBinary
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", &LaunchError{Path: path, Err: err}
	}
	return resolved, nil
}

// Check locates the engine and asks it for its help text to confirm it runs.
// The engine has no --version flag, so Version is the first informative line
// of its output.
func Check(ctx context.Context, path string) Status {
	resolved, err := Locate(path)
	if err != nil {
		return Status{Error: err}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, resolved, "--help").CombinedOutput()
	if err != nil {
		// The engine exits non-zero after printing usage; output means it ran.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(output) > 0 {
			return Status{Available: true, Path: resolved, Version: extractVersion(string(output))}
		}
		return Status{Path: resolved, Error: &LaunchError{Path: resolved, Err: err}}
	}
	return Status{Available: true, Path: resolved, Version: extractVersion(string(output))}
}

func extractVersion(output string) string {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(line), "version") {
			return line
		}
	}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return "unknown"
}
