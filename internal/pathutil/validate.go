// Package pathutil guards the filesystem operations simrun performs on run
// output directories.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath reduces a full path to .../<parent>/<basename> for log lines and
// error messages.
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	base := filepath.Base(cleaned)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// ValidateRemovable checks that dir may be removed recursively: it must lie
// strictly below one of roots after cleaning and symlink resolution. A root
// itself is never removable.
func ValidateRemovable(dir string, roots []string) error {
	if dir == "" {
		return fmt.Errorf("refusing removal: path is empty")
	}
	if len(roots) == 0 {
		return fmt.Errorf("refusing removal: no data roots configured")
	}
	if strings.ContainsRune(dir, '\x00') {
		return fmt.Errorf("refusing removal: path contains null byte")
	}

	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("refusing removal: cannot resolve absolute path: %w", err)
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return fmt.Errorf("refusing removal: %w", err)
	}

	for _, root := range roots {
		rootAbs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		rootResolved, err := resolveExisting(rootAbs)
		if err != nil {
			continue
		}
		if resolved != rootResolved && isSubpath(resolved, rootResolved) {
			return nil
		}
	}

	return fmt.Errorf("refusing removal: %q is not below a data root", RedactPath(abs))
}

// resolveExisting resolves symlinks on the deepest existing ancestor of p and
// re-appends the part that does not exist yet.
func resolveExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(p)
	if parent == p {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(p))
	}

	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}

// isSubpath reports whether path is base or lies below it.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}

// StateDir returns simrun's per-user state directory, ~/.simrun.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".simrun"), nil
}
