// Package security confines user-supplied paths and names.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned for a path escaping its directory.
var ErrOutsideDirectory = errors.New("path escapes its directory")

// canonical resolves the symlinks of path, or of its deepest existing parent
// when path does not exist yet.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for dir := filepath.Dir(path); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, path)
			return filepath.Join(resolved, rel)
		}
	}
	return path
}

// ResolveWithin returns the canonical absolute form of path, read relative to
// dir when not absolute. Symlinks are followed, so a link leading out of dir
// is rejected like a ".." component.
func ResolveWithin(dir, path string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory %s: %w", dir, err)
	}
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return "", fmt.Errorf("resolve directory %s: %w", dir, err)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(absDir, path)
	}
	resolved := canonical(filepath.Clean(path))

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrOutsideDirectory, path, dir)
	}
	return resolved, nil
}

// SanitizeFilename turns s into a file name component: runs of characters
// other than letters, digits, '.', '_' and '-' become one underscore, and
// leading or trailing dots and underscores are trimmed.
func SanitizeFilename(s string) string {
	const maxLen = 128

	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-'):
			b.WriteRune(r)
			underscore = false
		case !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
