// Package safety centralizes the path containment rules shared by archive
// creation, restore extraction, and cleanup removal. Every path that crosses
// an archive boundary or is about to be deleted goes through here.
package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanRelativePath normalizes an archive-relative path and rejects
// anything absolute or containing parent traversal.
func CleanRelativePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}

	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." {
		return "", fmt.Errorf("path resolves to current directory")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", p)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("parent traversal is not allowed: %q", p)
	}
	return clean, nil
}

// SafeJoinUnder joins an archive entry name under root, refusing entries
// that would land outside it. Restore extraction routes every destination
// through this.
func SafeJoinUnder(root, rel string) (string, error) {
	cleanRel, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, cleanRel))
}

// EnsureUnderRoot verifies candidate resolves inside root and returns the
// absolute normalized form.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}

// ContainsPath reports whether candidate resolves to root itself or
// somewhere beneath it. Comparison is lexical on the absolute forms.
func ContainsPath(root, candidate string) bool {
	if _, err := EnsureUnderRoot(root, candidate); err != nil {
		return false
	}
	return true
}

// ArchiveEntryName derives the slash-separated archive entry name for file,
// relative to the install root. Files that resolve outside the root have no
// valid entry name and are rejected.
func ArchiveEntryName(root, file string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	fileAbs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, fileAbs)
	if err != nil {
		return "", fmt.Errorf("relativize %q: %w", file, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file is outside the install root: %q", file)
	}
	return filepath.ToSlash(rel), nil
}
