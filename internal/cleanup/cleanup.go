// Package cleanup tears down or resets a VergeGrid installation. Every
// destructive flow gates on an operator answer before touching anything,
// and each run ends with a JSON report recording what was done.
package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vergegrid/gridkeeper/internal/install"
	"github.com/vergegrid/gridkeeper/internal/prompt"
	"github.com/vergegrid/gridkeeper/internal/svc"
)

// Mode selects which flow Run executes.
type Mode string

const (
	// ModeReset clears the contents of the Logs and Downloads trees and
	// leaves everything else alone.
	ModeReset Mode = "reset"
	// ModeCleanup removes the whole installation.
	ModeCleanup Mode = "cleanup"
	// ModeBackupCleanup archives the installation first, then removes it.
	// A failed backup aborts before anything is deleted.
	ModeBackupCleanup Mode = "backup-cleanup"
)

// Modes lists the selectable modes in menu order.
func Modes() []string {
	return []string{string(ModeReset), string(ModeCleanup), string(ModeBackupCleanup)}
}

// ParseMode resolves a mode flag value.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeReset, ModeCleanup, ModeBackupCleanup:
		return m, nil
	}
	return "", fmt.Errorf("unknown cleanup mode %q (want reset, cleanup, or backup-cleanup)", s)
}

// confirmPhrase is what the operator must type before the installation is
// removed.
const confirmPhrase = "DELETE"

// Status is the terminal state recorded in the cleanup report.
type Status string

const (
	StatusCleaned      Status = "cleaned"
	StatusReset        Status = "reset"
	StatusCancelled    Status = "cancelled"
	StatusBackupFailed Status = "backup_failed"
	StatusError        Status = "error"
)

// Exit codes operators script against.
const (
	ExitDone     = 0
	ExitDeclined = 99
	ExitError    = 2
)

// ExitCode maps a status to the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusCleaned, StatusReset:
		return ExitDone
	case StatusCancelled:
		return ExitDeclined
	default:
		return ExitError
	}
}

// Report is the JSON record of one cleanup run.
type Report struct {
	Action    string   `json:"action"`
	Root      string   `json:"root"`
	Timestamp string   `json:"timestamp"`
	Steps     []string `json:"steps"`
	Status    Status   `json:"status"`
}

func (r *Report) step(format string, args ...any) {
	r.Steps = append(r.Steps, fmt.Sprintf(format, args...))
}

// Options configures the cleanup engine.
type Options struct {
	// Install is the installation to operate on.
	Install *install.Install
	// Services are stopped and unregistered before the install is removed.
	Services []string
	// Control talks to the OS service manager. Required for ModeCleanup
	// and ModeBackupCleanup.
	Control *svc.Controller
	// Prompter answers the confirmation gates.
	Prompter prompt.Prompter
	// Backup runs the pre-destruction archive for ModeBackupCleanup.
	Backup func(ctx context.Context) error
	// ReportPath overrides where the JSON report lands. Empty means
	// cleanup_report.json in the system temp directory.
	ReportPath string
}

// Engine executes cleanup flows against one installation.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New returns an Engine with defaults applied.
func New(opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReportPath == "" {
		opts.ReportPath = filepath.Join(os.TempDir(), "cleanup_report.json")
	}
	return &Engine{opts: opts, logger: logger}
}

// Run executes the selected flow and writes the JSON report. The returned
// error covers cancellation and misconfiguration only; operator declines
// and backup failures are terminal states in the report, not errors.
func (e *Engine) Run(ctx context.Context, mode Mode) (*Report, error) {
	switch mode {
	case ModeReset, ModeCleanup, ModeBackupCleanup:
	default:
		return nil, fmt.Errorf("unknown cleanup mode %q", mode)
	}
	if e.opts.Install == nil {
		return nil, errors.New("cleanup engine needs an installation")
	}
	if e.opts.Prompter == nil {
		return nil, errors.New("cleanup engine needs a prompter")
	}
	if mode != ModeReset && e.opts.Control == nil {
		return nil, errors.New("cleanup engine needs a service controller")
	}
	if mode == ModeBackupCleanup && e.opts.Backup == nil {
		return nil, errors.New("backup-cleanup needs a backup function")
	}

	rep := &Report{
		Action:    string(mode),
		Root:      e.opts.Install.Root,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	e.logger.Info("starting cleanup", "mode", mode, "root", rep.Root)

	var err error
	switch mode {
	case ModeReset:
		err = e.reset(ctx, rep)
	default:
		err = e.destroy(ctx, rep, mode == ModeBackupCleanup)
	}
	if err != nil {
		rep.Status = StatusError
		rep.step("aborted: %v", err)
	}

	e.writeReport(rep)
	return rep, err
}

// reset empties the Logs and Downloads trees, keeping the directories
// themselves so the services find their layout on the next start.
func (e *Engine) reset(ctx context.Context, rep *Report) error {
	if !e.confirm("Clear the contents of Logs and Downloads?") {
		e.decline(rep)
		return nil
	}
	for _, sub := range []string{"Logs", "Downloads"} {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.clearDir(filepath.Join(e.opts.Install.Root, sub), rep)
	}
	rep.Status = StatusReset
	return nil
}

// destroy removes the installation: confirmation gate, then services down,
// then the optional backup, then directory removal. The gate comes before
// any side effect, so a decline leaves the machine exactly as it was.
func (e *Engine) destroy(ctx context.Context, rep *Report, withBackup bool) error {
	phrase, err := e.opts.Prompter.Input(fmt.Sprintf(
		"This permanently deletes the installation at %s. Type %s to confirm", rep.Root, confirmPhrase))
	if err != nil {
		e.logger.Warn("confirmation prompt failed, treating as declined", "error", err)
		e.decline(rep)
		return nil
	}
	if !strings.EqualFold(strings.TrimSpace(phrase), confirmPhrase) {
		e.decline(rep)
		return nil
	}

	e.stopServices(ctx, rep)

	if withBackup {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.Info("backing up installation before removal")
		if err := e.opts.Backup(ctx); err != nil {
			e.logger.Error("backup failed, nothing was removed",
				"error", err,
				"kind", "backup_failed",
				"remedy", "resolve the backup failure and rerun cleanup")
			rep.step("backup failed: %v", err)
			rep.Status = StatusBackupFailed
			return nil
		}
		rep.step("backup verified")
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	e.removeInstall(rep)
	rep.Status = StatusCleaned
	return nil
}

// stopServices brings the grid services down and removes their
// registrations. Failures are recorded in the report and do not block the
// removal that follows.
func (e *Engine) stopServices(ctx context.Context, rep *Report) {
	if failed := e.opts.Control.StopAll(ctx, e.opts.Services); len(failed) > 0 {
		rep.step("stop failed for %s", strings.Join(failed, ", "))
	} else {
		rep.step("services stopped")
	}
	if failed := e.opts.Control.UnregisterAll(ctx, e.opts.Services); len(failed) > 0 {
		rep.step("unregister failed for %s", strings.Join(failed, ", "))
	} else {
		rep.step("services unregistered")
	}
}

// removeInstall deletes the component trees and the install marker.
func (e *Engine) removeInstall(rep *Report) {
	inst := e.opts.Install
	e.logger.Info("removing installation directories", "root", inst.Root)
	for _, dir := range install.ComponentDirs(inst.Root, inst.Descriptor) {
		e.removeDir(dir, rep)
	}

	marker := inst.MarkerPath()
	switch err := os.Remove(marker); {
	case err == nil:
		e.logger.Info("removed install marker", "path", marker)
		rep.step("removed %s", marker)
	case errors.Is(err, fs.ErrNotExist):
		rep.step("skipped %s (not present)", marker)
	default:
		e.logger.Warn("could not remove install marker", "path", marker, "error", err)
		rep.step("failed to remove %s: %v", marker, err)
	}
}

// removeDir removes one directory tree. Trouble is logged and recorded;
// the remaining directories are still attempted.
func (e *Engine) removeDir(dir string, rep *Report) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		e.logger.Info("skipping missing directory", "path", dir)
		rep.step("skipped %s (not present)", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn("could not remove directory", "path", dir, "error", err)
		rep.step("failed to remove %s: %v", dir, err)
		return
	}
	e.logger.Info("removed directory", "path", dir)
	rep.step("removed %s", dir)
}

// clearDir empties one directory without removing the directory itself.
func (e *Engine) clearDir(dir string, rep *Report) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Info("skipping missing directory", "path", dir)
		rep.step("skipped %s (not present)", dir)
		return
	}
	if err != nil {
		e.logger.Warn("could not read directory", "path", dir, "error", err)
		rep.step("failed to clear %s: %v", dir, err)
		return
	}

	removed := 0
	for _, ent := range entries {
		path := filepath.Join(dir, ent.Name())
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn("could not remove entry", "path", path, "error", err)
			rep.step("failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	e.logger.Info("cleared directory", "path", dir, "entries", removed)
	rep.step("cleared %s (%d entries)", dir, removed)
}

// confirm asks a yes/no gate. Prompt trouble counts as a refusal:
// destruction needs an explicit yes.
func (e *Engine) confirm(message string) bool {
	ok, err := e.opts.Prompter.Confirm(message, false)
	if err != nil {
		e.logger.Warn("confirmation prompt failed, treating as declined", "error", err)
		return false
	}
	return ok
}

func (e *Engine) decline(rep *Report) {
	e.logger.Info("cancelled by operator")
	rep.Status = StatusCancelled
	rep.step("cancelled by operator")
}

// writeReport persists the JSON report. A report that cannot be written is
// logged and dropped; the run's outcome stands either way.
func (e *Engine) writeReport(rep *Report) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		e.logger.Warn("could not encode cleanup report", "error", err)
		return
	}
	if err := os.WriteFile(e.opts.ReportPath, append(data, '\n'), 0o644); err != nil {
		e.logger.Warn("could not write cleanup report", "path", e.opts.ReportPath, "error", err)
		return
	}
	e.logger.Info("cleanup report written", "path", e.opts.ReportPath)
}
