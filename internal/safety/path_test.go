package safety

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "Logs/Robust.log")
	if err != nil {
		t.Fatalf("SafeJoinUnder returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	if _, err := SafeJoinUnder(root, "../escape.txt"); err == nil {
		t.Fatal("expected traversal path to fail")
	}
	if _, err := SafeJoinUnder(root, "/abs/path.txt"); err == nil {
		t.Fatal("expected absolute path to fail")
	}
	if _, err := SafeJoinUnder(root, ""); err == nil {
		t.Fatal("expected empty path to fail")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, filepath.Join(root, "child", "file.txt")); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, filepath.Join(root, "..", "escape")); err == nil {
		t.Fatal("expected escape path to fail")
	}
}

func TestContainsPath(t *testing.T) {
	root := t.TempDir()
	if !ContainsPath(root, filepath.Join(root, "Apache", "php")) {
		t.Fatal("expected nested path to be contained")
	}
	if ContainsPath(root, filepath.Join(root, "..", "sibling")) {
		t.Fatal("expected sibling path to be outside")
	}
}

func TestArchiveEntryName(t *testing.T) {
	root := t.TempDir()

	name, err := ArchiveEntryName(root, filepath.Join(root, "Logs", "install.log"))
	if err != nil {
		t.Fatalf("ArchiveEntryName returned error: %v", err)
	}
	if name != "Logs/install.log" {
		t.Errorf("entry name = %q, want %q", name, "Logs/install.log")
	}

	if _, err := ArchiveEntryName(root, filepath.Join(root, "..", "outside.txt")); err == nil {
		t.Fatal("expected file outside root to fail")
	}
}
