package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================================
// Store Lifecycle Tests
// ============================================================================

func TestNew(t *testing.T) {
	s, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	if s.db == nil {
		t.Error("Expected db to be initialized")
	}
	if s.logger == nil {
		t.Error("Expected logger to be initialized")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s1, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s2, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer s2.Close()

	if _, err := s2.ListBackupRuns(0); err != nil {
		t.Errorf("ListBackupRuns after reopen failed: %v", err)
	}
}

// ============================================================================
// BackupRun Tests
// ============================================================================

func TestCreateAndListBackupRuns(t *testing.T) {
	s := newTestStore(t)

	run := &BackupRun{
		InstallRoot: "/opt/VergeGrid",
		ArchivePath: "/opt/VergeGrid_Backups/VergeGridBackup_2026-01-02_030405.zip",
		SHA256:      "abc123",
		FileCount:   42,
		TotalBytes:  1 << 20,
		Attempts:    1,
		Status:      StatusOK,
		StartedAt:   time.Now().Add(-time.Minute),
		FinishedAt:  time.Now(),
	}

	if err := s.CreateBackupRun(run); err != nil {
		t.Fatalf("CreateBackupRun failed: %v", err)
	}
	if run.ID == 0 {
		t.Error("CreateBackupRun did not set ID")
	}

	failed := &BackupRun{
		InstallRoot: "/opt/VergeGrid",
		Attempts:    2,
		Status:      StatusFailed,
		Error:       "backup retries exhausted",
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
	}
	if err := s.CreateBackupRun(failed); err != nil {
		t.Fatalf("CreateBackupRun failed: %v", err)
	}

	runs, err := s.ListBackupRuns(0)
	if err != nil {
		t.Fatalf("ListBackupRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListBackupRuns returned %d runs, want 2", len(runs))
	}
	// Newest first.
	if runs[0].Status != StatusFailed {
		t.Errorf("runs[0].Status = %q, want %q", runs[0].Status, StatusFailed)
	}
	if runs[1].SHA256 != "abc123" {
		t.Errorf("runs[1].SHA256 = %q, want abc123", runs[1].SHA256)
	}
	if runs[1].FileCount != 42 {
		t.Errorf("runs[1].FileCount = %d, want 42", runs[1].FileCount)
	}

	limited, err := s.ListBackupRuns(1)
	if err != nil {
		t.Fatalf("ListBackupRuns(1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListBackupRuns(1) returned %d runs, want 1", len(limited))
	}
}

func TestLatestBackupRun(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.LatestBackupRun(); err == nil {
		t.Error("LatestBackupRun on empty store succeeded, want error")
	}

	older := &BackupRun{
		InstallRoot: "/opt/VergeGrid",
		ArchivePath: "old.zip",
		Status:      StatusOK,
		StartedAt:   time.Now().Add(-2 * time.Hour),
		FinishedAt:  time.Now().Add(-2 * time.Hour),
	}
	newer := &BackupRun{
		InstallRoot: "/opt/VergeGrid",
		ArchivePath: "new.zip",
		Status:      StatusOK,
		StartedAt:   time.Now().Add(-time.Hour),
		FinishedAt:  time.Now().Add(-time.Hour),
	}
	newestButFailed := &BackupRun{
		InstallRoot: "/opt/VergeGrid",
		Status:      StatusFailed,
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
	}
	for _, run := range []*BackupRun{older, newer, newestButFailed} {
		if err := s.CreateBackupRun(run); err != nil {
			t.Fatalf("CreateBackupRun failed: %v", err)
		}
	}

	latest, err := s.LatestBackupRun()
	if err != nil {
		t.Fatalf("LatestBackupRun failed: %v", err)
	}
	if latest.ArchivePath != "new.zip" {
		t.Errorf("LatestBackupRun.ArchivePath = %q, want new.zip", latest.ArchivePath)
	}
}

// ============================================================================
// BootstrapRun Tests
// ============================================================================

func TestCreateAndListBootstrapRuns(t *testing.T) {
	s := newTestStore(t)

	run := &BootstrapRun{
		InstallRoot:   "/opt/VergeGrid",
		ResultCode:    6,
		State:         "failed",
		SchemaMissing: "regions,useraccounts",
		Passes:        2,
		StartedAt:     time.Now().Add(-time.Minute),
		FinishedAt:    time.Now(),
	}
	if err := s.CreateBootstrapRun(run); err != nil {
		t.Fatalf("CreateBootstrapRun failed: %v", err)
	}
	if run.ID == 0 {
		t.Error("CreateBootstrapRun did not set ID")
	}

	ok := &BootstrapRun{
		InstallRoot: "/opt/VergeGrid",
		ResultCode:  0,
		State:       "stopped",
		Passes:      1,
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
	}
	if err := s.CreateBootstrapRun(ok); err != nil {
		t.Fatalf("CreateBootstrapRun failed: %v", err)
	}

	runs, err := s.ListBootstrapRuns(0)
	if err != nil {
		t.Fatalf("ListBootstrapRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListBootstrapRuns returned %d runs, want 2", len(runs))
	}
	if runs[0].ResultCode != 0 {
		t.Errorf("runs[0].ResultCode = %d, want 0", runs[0].ResultCode)
	}
	if runs[1].SchemaMissing != "regions,useraccounts" {
		t.Errorf("runs[1].SchemaMissing = %q", runs[1].SchemaMissing)
	}

	limited, err := s.ListBootstrapRuns(1)
	if err != nil {
		t.Fatalf("ListBootstrapRuns(1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListBootstrapRuns(1) returned %d runs, want 1", len(limited))
	}
}
