// Package security validates file paths taken from stored records before
// they are read or removed.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside its directory.
var ErrPathEscape = errors.New("path escapes directory")

// ValidatePathWithinDirectory reports whether filePath stays inside dir once
// "..", relative components and symlinks are resolved. Neither path has to
// exist: symlinks are resolved for the longest existing prefix, so a link
// inside dir that points elsewhere is still caught.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", filePath, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	rel, err := filepath.Rel(resolveExisting(absDir), resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("%s: %w", filePath, ErrPathEscape)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s not within %s: %w", filePath, dir, ErrPathEscape)
	}
	return nil
}

// resolveExisting evaluates symlinks in the longest existing ancestor of the
// absolute path p and re-attaches the remainder.
func resolveExisting(p string) string {
	for cur := p; ; cur = filepath.Dir(cur) {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			rest, _ := filepath.Rel(cur, p)
			return filepath.Join(resolved, rest)
		}
		if filepath.Dir(cur) == cur {
			return p
		}
	}
}
