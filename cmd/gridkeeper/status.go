package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vergegrid/gridkeeper/internal/bootstrap"
	"github.com/vergegrid/gridkeeper/internal/install"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the detected install and recent backup and bootstrap runs",
		Long: `Show where the grid install was found, its descriptor settings, and the
most recent backup and bootstrap runs from the history store.`,
		Example: `  gridkeeper status
  gridkeeper status --install-root D:\VergeGrid`,
		RunE: statusRun,
	}

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	fmt.Println("Install")
	fmt.Println("=======")

	inst, err := resolveInstall()
	switch {
	case errors.Is(err, install.ErrNoInstall):
		fmt.Println("No VergeGrid installation found.")
	case err != nil:
		fmt.Printf("Install discovery failed: %v\n", err)
	default:
		fmt.Printf("%-14s %s\n", "Root:", inst.Root)
		fmt.Printf("%-14s %d\n", "Max retries:", inst.Descriptor.BackupMaxRetries())
		fmt.Printf("%-14s %s\n", "Backup paths:", strings.Join(install.BackupPaths(inst.Root, inst.Descriptor), ", "))
	}

	if globalStore == nil {
		return nil
	}

	backups, err := globalStore.ListBackupRuns(5)
	if err != nil {
		return fmt.Errorf("listing backup runs: %w", err)
	}

	fmt.Println("")
	fmt.Println("Recent Backups")
	fmt.Println("==============")
	if len(backups) == 0 {
		fmt.Println("No backup runs recorded.")
	} else {
		fmt.Printf("%-16s %-8s %8s %10s %9s\n", "Finished", "Status", "Files", "Size", "Attempts")
		fmt.Println(strings.Repeat("-", 56))
		for _, b := range backups {
			fmt.Printf("%-16s %-8s %8d %10s %9d\n",
				humanize.Time(b.FinishedAt),
				b.Status,
				b.FileCount,
				humanize.IBytes(uint64(b.TotalBytes)),
				b.Attempts,
			)
		}
	}

	bootstraps, err := globalStore.ListBootstrapRuns(5)
	if err != nil {
		return fmt.Errorf("listing bootstrap runs: %w", err)
	}

	fmt.Println("")
	fmt.Println("Recent Bootstraps")
	fmt.Println("=================")
	if len(bootstraps) == 0 {
		fmt.Println("No bootstrap runs recorded.")
	} else {
		fmt.Printf("%-16s %-28s %7s\n", "Finished", "Outcome", "Passes")
		fmt.Println(strings.Repeat("-", 54))
		for _, b := range bootstraps {
			fmt.Printf("%-16s %-28s %7d\n",
				humanize.Time(b.FinishedAt),
				bootstrap.ResultCode(b.ResultCode),
				b.Passes,
			)
		}
	}

	fmt.Println("")
	return nil
}
