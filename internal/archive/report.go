package archive

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// The report artifact is an append-only text file beside the archives, two
// key=value lines per verified backup. It exists so an operator (or the
// restore command) can check an archive's recorded checksum without any
// database.

// AppendReportEntry records a verified archive in the report file,
// creating the file on first use.
func AppendReportEntry(reportPath, archivePath, sha256 string) error {
	f, err := os.OpenFile(reportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening backup report: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := fmt.Fprintf(f, "BackupFile=%s\nSHA256=%s\n\n", archivePath, sha256); err != nil {
		return fmt.Errorf("appending to backup report: %w", err)
	}
	return nil
}

// RecordedChecksum scans the report file for entries matching archivePath
// and returns the most recent recorded checksum. The second return is false
// when the report has no entry for that archive.
func RecordedChecksum(reportPath, archivePath string) (string, bool, error) {
	f, err := os.Open(reportPath)
	if err != nil {
		return "", false, fmt.Errorf("opening backup report: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var (
		found    bool
		checksum string
		matching bool
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "BackupFile="):
			matching = strings.TrimPrefix(line, "BackupFile=") == archivePath
		case strings.HasPrefix(line, "SHA256=") && matching:
			checksum = strings.TrimPrefix(line, "SHA256=")
			found = true
			matching = false
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("reading backup report: %w", err)
	}
	return checksum, found, nil
}
