package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"github.com/vergegrid/gridkeeper/internal/safety"
)

// Restore-side failures, classifiable with errors.Is.
var (
	// ErrArchiveCorrupt means an entry failed the readback integrity check.
	ErrArchiveCorrupt = errors.New("archive failed integrity check")
	// ErrChecksumMismatch means the archive hashes differently from the
	// checksum recorded at backup time.
	ErrChecksumMismatch = errors.New("archive checksum does not match the recorded value")
)

// Validation is the outcome of re-checking an existing archive.
type Validation struct {
	ArchivePath    string
	Entries        int
	SHA256         string
	RecordedSHA256 string // from the report artifact; empty when no record exists
	HasRecord      bool
}

// ValidateArchive streams every entry of an existing archive against its
// stored CRC and recomputes the whole-file SHA-256. When reportPath names a
// readable report with an entry for this archive, the recorded checksum is
// compared as well. Corruption and checksum drift are returned as sentinel
// errors alongside the partial Validation.
func ValidateArchive(archivePath, reportPath string, logger *slog.Logger) (*Validation, error) {
	v := &Validation{ArchivePath: archivePath}

	corrupt, entries, err := VerifyZip(archivePath)
	if err != nil {
		return v, fmt.Errorf("reading archive: %w", err)
	}
	v.Entries = entries
	if corrupt != "" {
		logger.Error("archive integrity check failed", "archive", archivePath, "entry", corrupt)
		return v, fmt.Errorf("entry %q is corrupt: %w", corrupt, ErrArchiveCorrupt)
	}

	sum, size, err := FileSHA256(archivePath)
	if err != nil {
		return v, fmt.Errorf("hashing archive: %w", err)
	}
	v.SHA256 = sum
	logger.Info("archive integrity verified",
		"archive", archivePath, "entries", entries, "sha256", sum, "size", FormatBytes(size))

	if reportPath == "" {
		return v, nil
	}
	recorded, found, err := RecordedChecksum(reportPath, archivePath)
	if err != nil {
		logger.Warn("cannot read backup report, skipping checksum comparison",
			"report", reportPath, "error", err)
		return v, nil
	}
	if !found {
		logger.Warn("no recorded checksum for this archive", "report", reportPath)
		return v, nil
	}
	v.RecordedSHA256 = recorded
	v.HasRecord = true
	if recorded != sum {
		logger.Error("archive checksum drifted from the recorded value",
			"archive", archivePath, "recorded", recorded, "actual", sum)
		return v, fmt.Errorf("recorded %s, actual %s: %w", recorded, sum, ErrChecksumMismatch)
	}
	logger.Info("checksum matches the backup record")
	return v, nil
}

// ExtractReport summarizes a completed extraction.
type ExtractReport struct {
	FilesExtracted int
	TotalBytes     int64
}

// Extract unpacks an archive under targetRoot. Every destination is routed
// through the path containment rules: entries with absolute or escaping
// names abort the extraction, as do non-regular entries. Directories are
// created as needed.
func Extract(ctx context.Context, archivePath, targetRoot string, logger *slog.Logger) (*ExtractReport, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	if err := os.MkdirAll(targetRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating target directory: %w", err)
	}

	report := &ExtractReport{}
	for _, f := range zr.File {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		if f.FileInfo().IsDir() {
			continue
		}
		if !f.FileInfo().Mode().IsRegular() {
			return report, fmt.Errorf("unsupported entry type for %q", f.Name)
		}

		destPath, err := safety.SafeJoinUnder(targetRoot, f.Name)
		if err != nil {
			return report, fmt.Errorf("unsafe path in archive %q: %w", f.Name, err)
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return report, fmt.Errorf("creating directory: %w", err)
		}

		n, err := extractEntry(f, destPath)
		if err != nil {
			return report, fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		report.FilesExtracted++
		report.TotalBytes += n
	}

	logger.Info("archive extracted",
		"archive", archivePath,
		"target", targetRoot,
		"files", report.FilesExtracted,
		"size", FormatBytes(report.TotalBytes),
	)
	return report, nil
}

// extractEntry streams one archive entry to destPath.
func extractEntry(f *zip.File, destPath string) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = rc.Close()
	}()

	out, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, rc)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return n, err
}
