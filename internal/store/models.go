package store

import "time"

// BackupRun records one archiver invocation, successful or not.
type BackupRun struct {
	ID          int64
	InstallRoot string
	ArchivePath string
	SHA256      string
	FileCount   int
	TotalBytes  int64
	Attempts    int
	Status      string // "ok" or "failed"
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// BootstrapRun records one launch-and-verify invocation.
type BootstrapRun struct {
	ID            int64
	InstallRoot   string
	ResultCode    int
	State         string
	SchemaMissing string // comma-separated core tables missing at the last check
	Passes        int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Run statuses for BackupRun.Status.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)
