package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vergegrid/gridkeeper/internal/archive"
	"github.com/vergegrid/gridkeeper/internal/install"
	"github.com/vergegrid/gridkeeper/internal/prompt"
	"github.com/vergegrid/gridkeeper/internal/store"
)

var (
	backupDir        string
	backupMaxRetries int
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a verified backup archive of the grid install",
		Long: `Create a compressed backup archive of the grid install tree. After the
archive is written every entry is checked against its stored CRC, the whole
file is hashed with SHA-256, and the checksum is appended to the backup
report beside the archives. A corrupt archive is retried on a fresh
timestamped file up to the configured bound.`,
		Example: `  gridkeeper backup
  gridkeeper backup --dir D:\Backups
  gridkeeper backup --max-retries 5`,
		RunE: backupRunE,
	}

	cmd.Flags().StringVar(&backupDir, "dir", "", "backup destination (default: VergeGrid_Backups beside the install)")
	cmd.Flags().IntVar(&backupMaxRetries, "max-retries", 0, "archive creation attempts (default from config or install descriptor)")

	return cmd
}

func backupRunE(cmd *cobra.Command, args []string) error {
	inst, err := resolveInstall()
	if err != nil {
		return err
	}

	fmt.Printf("Backing up %s\n", inst.Root)

	res, err := runBackup(cmd.Context(), inst)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Println("\n=== BACKUP SUMMARY ===")
	fmt.Printf("Archive:  %s\n", res.ArchivePath)
	fmt.Printf("SHA256:   %s\n", res.SHA256)
	fmt.Printf("Files:    %d", res.FileCount)
	if res.SkippedAdds > 0 {
		fmt.Printf(" (%d unreadable, skipped)", res.SkippedAdds)
	}
	fmt.Println()
	fmt.Printf("Size:     %s\n", humanize.IBytes(uint64(res.TotalBytes)))
	fmt.Printf("Attempts: %d\n", res.Attempts)

	return nil
}

// runBackup assembles archiver options from the config, the install
// descriptor and the flags, runs the archiver, and records the run in the
// history store. The cleanup command reuses it for the backup-cleanup flow.
func runBackup(ctx context.Context, inst *install.Install) (*archive.Result, error) {
	cfg := globalCfg.Backup

	dir := backupDir
	if dir == "" {
		dir = cfg.Dir
	}
	// The archiver defaults an empty dir to a sibling of the install root;
	// mirror that here so the report path lands beside the archives.
	resolved := dir
	if resolved == "" {
		resolved = filepath.Join(filepath.Dir(inst.Root), archive.DefaultBackupDirName)
	}

	retries := backupMaxRetries
	if retries <= 0 {
		retries = cfg.MaxRetries
	}
	if retries <= 0 {
		retries = inst.Descriptor.BackupMaxRetries()
	}

	var minFree int64
	if cfg.MinFreeSpace != "" {
		var err error
		minFree, err = archive.ParseSize(cfg.MinFreeSpace)
		if err != nil {
			return nil, fmt.Errorf("invalid backup.min_free_space: %w", err)
		}
	}

	opts := archive.Options{
		SourceRoot:       inst.Root,
		Paths:            install.BackupPaths(inst.Root, inst.Descriptor),
		BackupDir:        dir,
		MaxRetries:       retries,
		MinFreeSpace:     minFree,
		RequireFreeSpace: cfg.RequireFreeSpace,
	}
	if cfg.ReportName != "" {
		opts.ReportPath = filepath.Join(resolved, cfg.ReportName)
	}

	var progressActive *atomic.Bool
	if !quiet {
		opts.Progress, progressActive = progressPrinter()
	}
	if !nonInteractive && prompt.StdinIsTerminal() {
		opts.Disposition = promptDisposition(prompt.Console{})
	}

	started := time.Now()
	res, err := archive.New(opts, logger).Create(ctx)
	if progressActive != nil && progressActive.Load() {
		fmt.Println()
	}

	recordBackupRun(inst.Root, res, err, started)
	return res, err
}

// progressPrinter returns the write-phase progress callback and the flag
// recording whether it ever fired. The callback runs on the reporter
// goroutine and the flag is read on the main goroutine after the archiver
// returns; a timed-out reporter join can leave the goroutine alive past
// that read, so the flag is atomic.
func progressPrinter() (archive.ProgressFunc, *atomic.Bool) {
	var active atomic.Bool
	return func(p archive.Progress) {
		active.Store(true)
		fmt.Printf("\r%d/%d files (%3.0f%%)  %s written  %s/s   ",
			p.Processed, p.Total, p.Percent,
			humanize.IBytes(uint64(p.BytesWritten)),
			humanize.IBytes(uint64(p.BytesPerSecond)))
	}, &active
}

// promptDisposition asks the operator what to do with a superseded failed
// archive. Prompt trouble keeps the file, the safe answer.
func promptDisposition(p prompt.Prompter) archive.DispositionFunc {
	return func(archivePath string) archive.Disposition {
		choice, err := p.Select(
			fmt.Sprintf("A failed archive from an earlier attempt remains at %s", archivePath),
			[]string{"keep it", "delete it", "tag it _INVALID"},
		)
		if err != nil {
			return archive.DispositionKeep
		}
		switch choice {
		case "delete it":
			return archive.DispositionDelete
		case "tag it _INVALID":
			return archive.DispositionTag
		}
		return archive.DispositionKeep
	}
}

// recordBackupRun persists one archiver invocation to the history store.
// Store trouble is logged, never allowed to mask the backup outcome.
func recordBackupRun(root string, res *archive.Result, runErr error, started time.Time) {
	if globalStore == nil {
		return
	}

	run := &store.BackupRun{
		InstallRoot: root,
		Status:      store.StatusOK,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if res != nil {
		run.ArchivePath = res.ArchivePath
		run.SHA256 = res.SHA256
		run.FileCount = res.FileCount
		run.TotalBytes = res.TotalBytes
		run.Attempts = res.Attempts
	}
	if runErr != nil {
		run.Status = store.StatusFailed
		run.Error = runErr.Error()
	}

	if err := globalStore.CreateBackupRun(run); err != nil {
		logger.Warn("failed to record backup run", "error", err)
	}
}
