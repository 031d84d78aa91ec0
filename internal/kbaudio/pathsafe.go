package kbaudio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validateComponent rejects any path segment that could be used to
// escape baseDir: empty, ".." anywhere, path separators, or an absolute
// path.
func validateComponent(name string) error {
	if name == "" {
		return fmt.Errorf("kbaudio: empty path component")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("kbaudio: absolute path component %q", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("kbaudio: path component %q contains '..'", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("kbaudio: path component %q contains a separator", name)
	}
	return nil
}

// resolveUnderBase joins base with the given (pre-validated) components and
// confirms the resolved path is still a descendant of base, catching any
// escape that per-component validation alone might miss (e.g. symlink-free
// cleaned paths that combine to climb out).
func resolveUnderBase(base string, parts ...string) (string, error) {
	for _, p := range parts {
		if err := validateComponent(p); err != nil {
			return "", err
		}
	}

	joined := filepath.Join(append([]string{base}, parts...)...)
	cleanBase := filepath.Clean(base)
	rel, err := filepath.Rel(cleanBase, joined)
	if err != nil {
		return "", fmt.Errorf("kbaudio: resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("kbaudio: resolved path escapes base directory")
	}
	return joined, nil
}
