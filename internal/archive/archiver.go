// Package archive creates and validates compressed backup snapshots of a
// VergeGrid installation tree. A backup only counts once the finished ZIP
// passes a full readback integrity check; a corrupt archive is rebuilt up to
// a configured attempt bound, and an entry that corrupts twice in one run is
// treated as a permanent failure rather than retried forever.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vergegrid/gridkeeper/internal/safety"
)

// Terminal backup failures, classifiable with errors.Is.
var (
	// ErrNoFilesFound means none of the declared backup paths exist.
	ErrNoFilesFound = errors.New("no files found to back up")
	// ErrRepeatedCorruption means the same archive entry failed integrity on
	// two attempts; retrying further is futile.
	ErrRepeatedCorruption = errors.New("repeated corruption on the same archive entry")
	// ErrRetriesExhausted means every attempt produced a corrupt archive.
	ErrRetriesExhausted = errors.New("backup retries exhausted")
	// ErrLowFreeSpace means the destination volume failed the free-space
	// preflight and the configuration requires it to pass.
	ErrLowFreeSpace = errors.New("not enough free space on the backup volume")
)

const (
	defaultProgressInterval = 200 * time.Millisecond
	defaultJoinTimeout      = time.Second

	// DefaultBackupDirName is the sibling directory of the install root that
	// receives archives when no explicit destination is configured.
	DefaultBackupDirName = "VergeGrid_Backups"
	// DefaultReportName is the checksum report kept beside the archives.
	DefaultReportName = "vergegrid_backups.txt"
)

// Options configures an Archiver.
type Options struct {
	// SourceRoot is the installation tree the backup is taken from. Entry
	// names inside the archive are relative to it.
	SourceRoot string
	// Paths are the backup-worthy files and directory trees. Missing paths
	// are skipped with a warning; paths outside SourceRoot are refused
	// because their entry names would escape the root on restore.
	Paths []string
	// BackupDir receives the archives. Empty means a VergeGrid_Backups
	// directory next to SourceRoot.
	BackupDir string
	// ReportPath is the append-only checksum report. Empty means
	// vergegrid_backups.txt inside BackupDir.
	ReportPath string
	// MaxRetries bounds the total number of archive attempts. Values below
	// one are treated as one.
	MaxRetries int

	// MinFreeSpace is the headroom in bytes the destination volume must keep
	// beyond the estimated backup size. Failing the check is a warning
	// unless RequireFreeSpace is set.
	MinFreeSpace     int64
	RequireFreeSpace bool

	// Progress receives write-phase snapshots on ProgressInterval. Nil
	// disables reporting.
	Progress         ProgressFunc
	ProgressInterval time.Duration
	// JoinTimeout bounds the wait for the progress reporter to stop once
	// writing completes.
	JoinTimeout time.Duration
	// Disposition decides the fate of a superseded failed archive once a
	// later attempt verifies. Nil keeps the file.
	Disposition DispositionFunc
}

// Result describes a verified backup.
type Result struct {
	ArchivePath string
	SHA256      string
	FileCount   int   // entries written into the archive
	SkippedAdds int   // files that individually failed to add
	TotalBytes  int64 // uncompressed bytes written
	Attempts    int
}

// Archiver builds verified ZIP backups of one installation tree. A single
// Archiver invocation owns its destination directory for the duration of
// Create; concurrent backups of the same root are not supported.
type Archiver struct {
	opts   Options
	logger *slog.Logger

	// freeBytes reports free space on the volume holding dir. Swappable in
	// tests; defaults to gopsutil.
	freeBytes func(dir string) (uint64, error)
	// verify runs the readback integrity pass. Swappable in tests to
	// simulate corruption; defaults to VerifyZip.
	verify func(path string) (corrupt string, entries int, err error)
}

// New creates an Archiver.
func New(opts Options, logger *slog.Logger) *Archiver {
	return &Archiver{
		opts:      opts,
		logger:    logger,
		freeBytes: diskFree,
		verify:    VerifyZip,
	}
}

// manifest is the working state of one write attempt.
type manifest struct {
	sourceRoot  string
	entries     []manifestEntry
	archivePath string
	fileCount   int
	totalBytes  int64
	skippedAdds int
	attempt     int
}

// manifestEntry pairs a file on disk with its archive entry name.
type manifestEntry struct {
	source string // absolute path on disk
	name   string // slash-separated path inside the archive
}

// Create enumerates the backup paths, writes the archive, verifies it, and
// retries on corruption up to the configured bound. On success it returns the
// archive path and checksum; on terminal failure the returned error wraps one
// of the sentinel kinds above.
func (a *Archiver) Create(ctx context.Context) (*Result, error) {
	maxRetries := a.opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	backupDir := a.backupDir()

	// Entries that already corrupted once in this run. A repeat offender
	// means the failure is permanent, not transient.
	failedEntries := make(map[string]bool)
	var prevFailed string

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, sourceBytes, err := a.enumerate(attempt)
		if err != nil {
			return nil, err
		}

		if attempt == 1 {
			if err := os.MkdirAll(backupDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating backup directory: %w", err)
			}
			if err := a.preflight(backupDir, sourceBytes); err != nil {
				return nil, err
			}
		}

		m.archivePath = timestampedPath(backupDir)
		a.logger.Info("creating backup",
			"archive", m.archivePath,
			"attempt", attempt,
			"max_attempts", maxRetries,
			"files", len(m.entries),
			"estimated_size", FormatBytes(sourceBytes),
		)

		if err := a.writeArchive(ctx, m); err != nil {
			return nil, err
		}

		a.logger.Info("verifying backup integrity", "archive", m.archivePath)
		corrupt, entries, err := a.verify(m.archivePath)
		if err != nil {
			return nil, fmt.Errorf("verifying archive: %w", err)
		}

		if corrupt == "" {
			a.logger.Info("archive passed integrity test", "entries", entries)
			return a.finalize(m, prevFailed)
		}

		a.logger.Error("integrity check failed on entry",
			"entry", corrupt, "archive", m.archivePath)

		if failedEntries[corrupt] {
			a.logger.Error("repeated integrity failure, aborting backup",
				"entry", corrupt,
				"kind", "repeated_corruption",
				"remedy", "the file is likely held open by a running service; stop the grid services and retry",
			)
			return nil, fmt.Errorf("entry %q failed integrity twice: %w", corrupt, ErrRepeatedCorruption)
		}
		failedEntries[corrupt] = true
		prevFailed = m.archivePath

		if attempt < maxRetries {
			a.logger.Warn("retrying backup",
				"next_attempt", attempt+1, "max_attempts", maxRetries)
		}
	}

	a.logger.Error("backup failed, giving up",
		"attempts", maxRetries,
		"kind", "retries_exhausted",
		"remedy", "check for files in use by a running service, insufficient permissions, or disk I/O errors, then rerun the backup",
	)
	return nil, fmt.Errorf("backup failed after %d attempts: %w", maxRetries, ErrRetriesExhausted)
}

// finalize hashes and records a verified archive, then applies the
// disposition policy to the superseded failed archive if one exists.
func (a *Archiver) finalize(m *manifest, prevFailed string) (*Result, error) {
	sum, size, err := FileSHA256(m.archivePath)
	if err != nil {
		return nil, fmt.Errorf("hashing archive: %w", err)
	}

	a.logger.Info("backup verified",
		"archive", m.archivePath,
		"sha256", sum,
		"files", m.fileCount,
		"skipped", m.skippedAdds,
		"size", FormatBytes(size),
		"attempts", m.attempt,
	)

	if err := AppendReportEntry(a.reportPath(), m.archivePath, sum); err != nil {
		return nil, fmt.Errorf("recording backup checksum: %w", err)
	}

	if prevFailed != "" {
		if _, err := os.Stat(prevFailed); err == nil {
			a.disposePrevious(prevFailed)
		}
	}

	return &Result{
		ArchivePath: m.archivePath,
		SHA256:      sum,
		FileCount:   m.fileCount,
		SkippedAdds: m.skippedAdds,
		TotalBytes:  m.totalBytes,
		Attempts:    m.attempt,
	}, nil
}

// enumerate builds the entry list for one attempt. Missing declared paths
// are skipped with a warning; an empty final list is fatal. The second
// return is the total source size in bytes, used by the space preflight.
func (a *Archiver) enumerate(attempt int) (*manifest, int64, error) {
	m := &manifest{
		sourceRoot: a.opts.SourceRoot,
		attempt:    attempt,
	}

	var sourceBytes int64
	for _, p := range a.opts.Paths {
		info, err := os.Stat(p)
		if err != nil {
			a.logger.Warn("skipping missing backup path", "path", p)
			continue
		}
		if !safety.ContainsPath(m.sourceRoot, p) {
			a.logger.Warn("skipping backup path outside the install root", "path", p)
			continue
		}

		if !info.IsDir() {
			name, err := safety.ArchiveEntryName(m.sourceRoot, p)
			if err != nil {
				a.logger.Warn("skipping file with no valid entry name", "path", p, "error", err)
				continue
			}
			m.entries = append(m.entries, manifestEntry{source: p, name: name})
			sourceBytes += info.Size()
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				a.logger.Warn("cannot read path, skipping", "path", path, "error", err)
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			name, nameErr := safety.ArchiveEntryName(m.sourceRoot, path)
			if nameErr != nil {
				a.logger.Warn("skipping file with no valid entry name", "path", path, "error", nameErr)
				return nil
			}
			m.entries = append(m.entries, manifestEntry{source: path, name: name})
			if fi, infoErr := d.Info(); infoErr == nil {
				sourceBytes += fi.Size()
			}
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("walking %s: %w", p, err)
		}
	}

	if len(m.entries) == 0 {
		a.logger.Error("no valid files or directories found to back up",
			"source_root", m.sourceRoot,
			"kind", "no_files_found",
			"remedy", "check vergegrid.conf and the install paths under the root",
		)
		return nil, 0, fmt.Errorf("nothing to archive under %s: %w", m.sourceRoot, ErrNoFilesFound)
	}

	return m, sourceBytes, nil
}

// writeArchive streams every manifest entry into a new ZIP at
// m.archivePath. A single file failing to add is logged and counted, never
// fatal. The progress reporter runs concurrently and is joined with a bound
// before returning, so a wedged callback cannot hang the backup.
func (a *Archiver) writeArchive(ctx context.Context, m *manifest) error {
	f, err := os.Create(m.archivePath)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	zw := newZipWriter(f)

	tr := newTracker(len(m.entries))
	var rep *reporter
	if a.opts.Progress != nil {
		interval := a.opts.ProgressInterval
		if interval <= 0 {
			interval = defaultProgressInterval
		}
		rep = startReporter(tr, interval, a.opts.Progress)
	}
	defer func() {
		if rep == nil {
			return
		}
		join := a.opts.JoinTimeout
		if join <= 0 {
			join = defaultJoinTimeout
		}
		if !rep.halt(join) {
			a.logger.Warn("progress reporter did not stop in time, continuing")
		}
	}()

	for _, e := range m.entries {
		select {
		case <-ctx.Done():
			_ = zw.Close()
			_ = f.Close()
			return ctx.Err()
		default:
		}

		n, err := addFileToZip(zw, e.source, e.name)
		if err != nil {
			a.logger.Warn("failed to add file to archive", "path", e.source, "error", err)
			m.skippedAdds++
			tr.advance(0)
			continue
		}
		m.fileCount++
		m.totalBytes += n
		tr.advance(n)
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing archive file: %w", err)
	}
	return nil
}

// preflight compares free space on the destination volume against the
// estimated backup size plus the configured headroom. An unreadable volume
// or a failed check only warns unless RequireFreeSpace is set.
func (a *Archiver) preflight(dir string, estimated int64) error {
	if a.opts.MinFreeSpace <= 0 && !a.opts.RequireFreeSpace {
		return nil
	}

	free, err := a.freeBytes(dir)
	if err != nil {
		a.logger.Warn("cannot determine free space on backup volume", "dir", dir, "error", err)
		return nil
	}

	needed := estimated + a.opts.MinFreeSpace
	if int64(free) >= needed {
		a.logger.Debug("free-space preflight passed",
			"free", FormatBytes(int64(free)), "needed", FormatBytes(needed))
		return nil
	}

	if a.opts.RequireFreeSpace {
		a.logger.Error("not enough free space for backup",
			"dir", dir,
			"free", FormatBytes(int64(free)),
			"needed", FormatBytes(needed),
			"kind", "low_free_space",
			"remedy", "free up space on the backup volume or point backup.dir at a larger one",
		)
		return fmt.Errorf("%s free on %s, need %s: %w",
			FormatBytes(int64(free)), dir, FormatBytes(needed), ErrLowFreeSpace)
	}

	a.logger.Warn("backup volume is low on space, continuing",
		"dir", dir,
		"free", FormatBytes(int64(free)),
		"estimated_backup", FormatBytes(estimated),
		"headroom", FormatBytes(a.opts.MinFreeSpace),
	)
	return nil
}

// backupDir resolves the destination directory.
func (a *Archiver) backupDir() string {
	if a.opts.BackupDir != "" {
		return a.opts.BackupDir
	}
	return filepath.Join(filepath.Dir(filepath.Clean(a.opts.SourceRoot)), DefaultBackupDirName)
}

// reportPath resolves the checksum report location.
func (a *Archiver) reportPath() string {
	if a.opts.ReportPath != "" {
		return a.opts.ReportPath
	}
	return filepath.Join(a.backupDir(), DefaultReportName)
}

// timestampedPath returns a fresh archive path under dir. A retry landing in
// the same second gets a numeric suffix so the failed archive from the
// previous attempt is never overwritten before its disposition is decided.
func timestampedPath(dir string) string {
	base := "VergeGridBackup_" + time.Now().Format("2006-01-02_150405")
	path := filepath.Join(dir, base+".zip")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.zip", base, n))
	}
}

// diskFree reports free bytes on the volume holding dir.
func diskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
