package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

// buildInstallTree lays out the standard scenario: three log files, two
// downloads, and the install descriptor. The MySQL, Apache, and OpenSim
// component paths are declared but deliberately absent.
func buildInstallTree(t *testing.T) (root string, paths []string) {
	t.Helper()
	root = t.TempDir()

	files := map[string]string{
		"Logs/install.log":       "install log line\n",
		"Logs/robust.log":        "robust log line\n",
		"Logs/apache.log":        "apache log line\n",
		"Downloads/mysql.zip":    "fake mysql payload",
		"Downloads/apache.zip":   "fake apache payload",
		"vergegrid.conf":         "install_root=" + root + "\n",
		"Extra/not-declared.txt": "outside the declared backup set",
	}
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	paths = []string{
		filepath.Join(root, "MySQL"),
		filepath.Join(root, "Apache"),
		filepath.Join(root, "OpenSim"),
		filepath.Join(root, "Logs"),
		filepath.Join(root, "Downloads"),
		filepath.Join(root, "vergegrid.conf"),
	}
	return root, paths
}

func newTestArchiver(t *testing.T, opts Options, logger *slog.Logger) *Archiver {
	t.Helper()
	if opts.BackupDir == "" {
		opts.BackupDir = t.TempDir()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if logger == nil {
		logger = testLogger()
	}
	return New(opts, logger)
}

// zipEntryNames returns the sorted file entry names of an archive.
func zipEntryNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestCreateBackupScenario(t *testing.T) {
	root, paths := buildInstallTree(t)
	logger, buf := captureLogger()

	a := newTestArchiver(t, Options{SourceRoot: root, Paths: paths}, logger)

	res, err := a.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if res.FileCount != 6 {
		t.Errorf("FileCount = %d, want 6", res.FileCount)
	}
	if res.SkippedAdds != 0 {
		t.Errorf("SkippedAdds = %d, want 0", res.SkippedAdds)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.SHA256 == "" {
		t.Error("SHA256 is empty")
	}
	if _, err := os.Stat(res.ArchivePath); err != nil {
		t.Fatalf("archive file missing: %v", err)
	}

	// Exactly one skip warning per missing component path.
	skips := strings.Count(buf.String(), "skipping missing backup path")
	if skips != 3 {
		t.Errorf("missing-path warnings = %d, want 3\nlog:\n%s", skips, buf.String())
	}

	want := []string{
		"Downloads/apache.zip",
		"Downloads/mysql.zip",
		"Logs/apache.log",
		"Logs/install.log",
		"Logs/robust.log",
		"vergegrid.conf",
	}
	got := zipEntryNames(t, res.ArchivePath)
	if len(got) != len(want) {
		t.Fatalf("archive has %d entries, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Nothing outside the declared backup set ends up in the archive.
	for _, name := range got {
		if strings.HasPrefix(name, "Extra/") {
			t.Errorf("undeclared file archived: %s", name)
		}
	}
}

func TestCreateRecordsChecksumReport(t *testing.T) {
	root, paths := buildInstallTree(t)
	backupDir := t.TempDir()

	a := newTestArchiver(t, Options{
		SourceRoot: root,
		Paths:      paths,
		BackupDir:  backupDir,
	}, nil)

	res, err := a.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	reportPath := filepath.Join(backupDir, DefaultReportName)
	recorded, found, err := RecordedChecksum(reportPath, res.ArchivePath)
	if err != nil {
		t.Fatalf("RecordedChecksum failed: %v", err)
	}
	if !found {
		t.Fatal("no report entry for the new archive")
	}
	if recorded != res.SHA256 {
		t.Errorf("recorded checksum %q != result checksum %q", recorded, res.SHA256)
	}

	// The recorded value matches an independent recomputation.
	sum, _, err := FileSHA256(res.ArchivePath)
	if err != nil {
		t.Fatalf("FileSHA256 failed: %v", err)
	}
	if sum != res.SHA256 {
		t.Errorf("recomputed checksum %q != result checksum %q", sum, res.SHA256)
	}
}

func TestCreateNoFilesFound(t *testing.T) {
	root := t.TempDir()
	backupDir := filepath.Join(t.TempDir(), "backups")

	a := New(Options{
		SourceRoot: root,
		Paths: []string{
			filepath.Join(root, "MySQL"),
			filepath.Join(root, "Apache"),
		},
		BackupDir:  backupDir,
		MaxRetries: 3,
	}, testLogger())

	_, err := a.Create(context.Background())
	if !errors.Is(err, ErrNoFilesFound) {
		t.Fatalf("err = %v, want ErrNoFilesFound", err)
	}

	// Fast fail: no archive file, not even the destination directory.
	if entries, err := os.ReadDir(backupDir); err == nil && len(entries) > 0 {
		t.Errorf("backup dir is not empty after NoFilesFound: %v", entries)
	}
}

func TestCreateRepeatedCorruptionAborts(t *testing.T) {
	root, paths := buildInstallTree(t)

	a := newTestArchiver(t, Options{
		SourceRoot: root,
		Paths:      paths,
		MaxRetries: 5,
	}, nil)

	attempts := 0
	a.verify = func(path string) (string, int, error) {
		attempts++
		return "Logs/robust.log", 6, nil
	}

	_, err := a.Create(context.Background())
	if !errors.Is(err, ErrRepeatedCorruption) {
		t.Fatalf("err = %v, want ErrRepeatedCorruption", err)
	}
	// The same entry failing twice short-circuits the remaining attempts.
	if attempts != 2 {
		t.Errorf("verify ran %d times, want 2", attempts)
	}
}

func TestCreateRetriesExhausted(t *testing.T) {
	root, paths := buildInstallTree(t)

	const maxRetries = 3
	a := newTestArchiver(t, Options{
		SourceRoot: root,
		Paths:      paths,
		MaxRetries: maxRetries,
	}, nil)

	// A different entry corrupts on every attempt, so the ledger never
	// short-circuits and the bound is what stops the loop.
	attempts := 0
	var archives []string
	a.verify = func(path string) (string, int, error) {
		attempts++
		archives = append(archives, path)
		return "Logs/corrupt-" + path, 6, nil
	}

	_, err := a.Create(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if attempts != maxRetries {
		t.Errorf("made %d attempts, want %d", attempts, maxRetries)
	}

	// Each attempt wrote a distinct archive; same-second retries must not
	// overwrite the failed file from the previous attempt.
	seen := make(map[string]bool)
	for _, p := range archives {
		if seen[p] {
			t.Errorf("attempt reused archive path %s", p)
		}
		seen[p] = true
	}
}

func TestCreateSingleAttemptBound(t *testing.T) {
	root, paths := buildInstallTree(t)

	a := newTestArchiver(t, Options{
		SourceRoot: root,
		Paths:      paths,
		MaxRetries: 1,
	}, nil)

	attempts := 0
	a.verify = func(path string) (string, int, error) {
		attempts++
		return "Logs/install.log", 6, nil
	}

	_, err := a.Create(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if attempts != 1 {
		t.Errorf("made %d attempts, want 1", attempts)
	}
}

// dispositionCase runs a create that fails once and then succeeds, so the
// superseded failed archive goes through the given policy.
func dispositionCase(t *testing.T, policy DispositionFunc) (prevFailed string, res *Result) {
	t.Helper()
	root, paths := buildInstallTree(t)

	a := newTestArchiver(t, Options{
		SourceRoot:  root,
		Paths:       paths,
		MaxRetries:  3,
		Disposition: policy,
	}, nil)

	call := 0
	a.verify = func(path string) (string, int, error) {
		call++
		if call == 1 {
			prevFailed = path
			return "Logs/robust.log", 6, nil
		}
		return "", 6, nil
	}

	res, err := a.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if prevFailed == res.ArchivePath {
		t.Fatal("retry reused the failed archive path")
	}
	return prevFailed, res
}

func TestDispositionDelete(t *testing.T) {
	prevFailed, _ := dispositionCase(t, func(string) Disposition { return DispositionDelete })
	if _, err := os.Stat(prevFailed); !os.IsNotExist(err) {
		t.Errorf("failed archive still exists after delete disposition: %s", prevFailed)
	}
}

func TestDispositionTag(t *testing.T) {
	prevFailed, _ := dispositionCase(t, func(string) Disposition { return DispositionTag })
	if _, err := os.Stat(prevFailed); !os.IsNotExist(err) {
		t.Errorf("failed archive was not renamed: %s", prevFailed)
	}
	tagged := strings.TrimSuffix(prevFailed, ".zip") + "_INVALID.zip"
	if _, err := os.Stat(tagged); err != nil {
		t.Errorf("tagged archive missing: %v", err)
	}
}

func TestDispositionKeep(t *testing.T) {
	prevFailed, _ := dispositionCase(t, func(string) Disposition { return DispositionKeep })
	if _, err := os.Stat(prevFailed); err != nil {
		t.Errorf("failed archive should be kept untouched: %v", err)
	}
}

func TestDispositionNilKeeps(t *testing.T) {
	prevFailed, _ := dispositionCase(t, nil)
	if _, err := os.Stat(prevFailed); err != nil {
		t.Errorf("failed archive should be kept when no policy is set: %v", err)
	}
}

func TestCreateSkipsUnreadableFileButCompletes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("chmod does not block reads on windows")
	}
	if os.Getuid() == 0 {
		t.Skip("file permissions do not bind for root")
	}
	root, paths := buildInstallTree(t)
	locked := filepath.Join(root, "Logs", "robust.log")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

	a := newTestArchiver(t, Options{SourceRoot: root, Paths: paths}, nil)

	res, err := a.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.FileCount != 5 {
		t.Errorf("FileCount = %d, want 5", res.FileCount)
	}
	if res.SkippedAdds != 1 {
		t.Errorf("SkippedAdds = %d, want 1", res.SkippedAdds)
	}
}

func TestPreflightWarnsByDefault(t *testing.T) {
	root, paths := buildInstallTree(t)
	logger, buf := captureLogger()

	a := newTestArchiver(t, Options{
		SourceRoot:   root,
		Paths:        paths,
		MinFreeSpace: 1 << 30,
	}, logger)
	a.freeBytes = func(string) (uint64, error) { return 1024, nil }

	if _, err := a.Create(context.Background()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.Contains(buf.String(), "low on space") {
		t.Error("expected a low-space warning in the log")
	}
}

func TestPreflightErrorWhenRequired(t *testing.T) {
	root, paths := buildInstallTree(t)
	backupDir := t.TempDir()

	a := newTestArchiver(t, Options{
		SourceRoot:       root,
		Paths:            paths,
		BackupDir:        backupDir,
		MinFreeSpace:     1 << 30,
		RequireFreeSpace: true,
	}, nil)
	a.freeBytes = func(string) (uint64, error) { return 1024, nil }

	_, err := a.Create(context.Background())
	if !errors.Is(err, ErrLowFreeSpace) {
		t.Fatalf("err = %v, want ErrLowFreeSpace", err)
	}

	// Preflight fires before any archive is written.
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("backup dir should be empty after a failed preflight: %v", entries)
	}
}

func TestCreateHonorsCancellation(t *testing.T) {
	root, paths := buildInstallTree(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestArchiver(t, Options{SourceRoot: root, Paths: paths}, nil)
	if _, err := a.Create(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBackupDirDefaultsToSibling(t *testing.T) {
	a := New(Options{SourceRoot: filepath.Join("/", "opt", "VergeGrid")}, testLogger())
	want := filepath.Join("/", "opt", DefaultBackupDirName)
	if got := a.backupDir(); got != want {
		t.Errorf("backupDir() = %q, want %q", got, want)
	}
}
