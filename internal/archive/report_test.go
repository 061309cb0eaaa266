package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReportAppendAndLookup(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), DefaultReportName)

	entries := []struct{ archive, sum string }{
		{"/backups/VergeGridBackup_2026-01-01_120000.zip", "aaa111"},
		{"/backups/VergeGridBackup_2026-01-02_120000.zip", "bbb222"},
		{"/backups/VergeGridBackup_2026-01-03_120000.zip", "ccc333"},
	}
	for _, e := range entries {
		if err := AppendReportEntry(reportPath, e.archive, e.sum); err != nil {
			t.Fatalf("AppendReportEntry failed: %v", err)
		}
	}

	for _, e := range entries {
		sum, found, err := RecordedChecksum(reportPath, e.archive)
		if err != nil {
			t.Fatalf("RecordedChecksum failed: %v", err)
		}
		if !found {
			t.Errorf("no record for %s", e.archive)
			continue
		}
		if sum != e.sum {
			t.Errorf("checksum for %s = %q, want %q", e.archive, sum, e.sum)
		}
	}

	if _, found, err := RecordedChecksum(reportPath, "/backups/unknown.zip"); err != nil {
		t.Fatalf("RecordedChecksum failed: %v", err)
	} else if found {
		t.Error("found a record for an archive that was never recorded")
	}
}

func TestReportLatestEntryWins(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), DefaultReportName)
	archive := "/backups/VergeGridBackup_2026-01-01_120000.zip"

	if err := AppendReportEntry(reportPath, archive, "old000"); err != nil {
		t.Fatal(err)
	}
	if err := AppendReportEntry(reportPath, archive, "new111"); err != nil {
		t.Fatal(err)
	}

	sum, found, err := RecordedChecksum(reportPath, archive)
	if err != nil || !found {
		t.Fatalf("RecordedChecksum = %v, found=%v", err, found)
	}
	if sum != "new111" {
		t.Errorf("checksum = %q, want the most recent entry %q", sum, "new111")
	}
}

func TestReportFileFormat(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), DefaultReportName)
	if err := AppendReportEntry(reportPath, "/b/a.zip", "f00d"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "BackupFile=/b/a.zip\nSHA256=f00d\n\n"
	if string(raw) != want {
		t.Errorf("report content = %q, want %q", raw, want)
	}
}

func TestRecordedChecksumMissingReport(t *testing.T) {
	_, _, err := RecordedChecksum(filepath.Join(t.TempDir(), "absent.txt"), "/b/a.zip")
	if err == nil {
		t.Fatal("expected an error for a missing report file")
	}
}
