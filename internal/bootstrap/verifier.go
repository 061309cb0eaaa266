// Package bootstrap launches the Robust grid service, waits for it to
// populate the database schema, and shuts it down again in a controlled way.
// Robust creates its tables on first startup, so a fresh install has to run
// the service once under supervision before the grid can be considered
// installed; this package is that supervised first run.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vergegrid/gridkeeper/internal/dbverify"
)

// Defaults for a stock VergeGrid install.
const (
	DefaultExeName    = "Robust.exe"
	DefaultIniName    = "Robust.ini"
	DefaultSchemaWait = 30 * time.Second

	defaultTick                = time.Second
	defaultResponsivenessTicks = 10
	defaultCPUThreshold        = 0.1
	defaultInterruptWait       = 10 * time.Second
	defaultTerminateWait       = 5 * time.Second
)

// Options configures a Verifier. Zero values fall back to the stock install
// defaults; the wait and tick fields exist so tests can run the whole state
// machine in milliseconds.
type Options struct {
	// InstallRoot is the grid install root. The service executable and ini
	// are expected under BinDir inside it.
	InstallRoot string
	// BinDir is the service directory relative to InstallRoot. Defaults to
	// OpenSim/bin.
	BinDir  string
	ExeName string
	IniName string
	// Args are the service arguments. Defaults to -inifile <IniName>.
	Args []string

	// Launch starts the process. Defaults to LaunchProcess.
	Launch Launcher
	// Checker grades the database schema. Required.
	Checker dbverify.Checker

	// SchemaWait is the settle time before each schema check.
	SchemaWait time.Duration
	// Tick is the poll interval inside every wait loop.
	Tick time.Duration
	// ResponsivenessTicks bounds the advisory startup CPU probe.
	ResponsivenessTicks int
	// CPUThreshold is the CPU percentage above which the service counts as
	// visibly busy during the probe.
	CPUThreshold float64
	// InterruptWait is how long a polite interrupt gets before escalating.
	InterruptWait time.Duration
	// TerminateWait is how long terminate (and then kill) gets.
	TerminateWait time.Duration

	// OnState receives state transitions. Optional.
	OnState func(State)
	// OnCountdown receives the remaining time once per tick inside the
	// schema and shutdown waits. Optional.
	OnCountdown func(State, time.Duration)
}

// Report is the outcome of one launch-and-verify run.
type Report struct {
	Code  ResultCode
	State State
	PID   int32
	// ExitCode is the service's exit code when it died early, -1 otherwise.
	ExitCode int
	// Passes is the number of schema checks performed (1 or 2).
	Passes int
	// Schema is the last schema check result, nil when no check ran.
	Schema *dbverify.Result
	// LeftRunning is set when the run ends with the service still alive,
	// either deliberately after a verification failure or because it
	// survived the stop escalation.
	LeftRunning bool
	Started     time.Time
	Duration    time.Duration
}

// Verifier drives one controlled first run of the grid service.
type Verifier struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Verifier with defaults applied.
func New(opts Options, logger *slog.Logger) *Verifier {
	if opts.BinDir == "" {
		opts.BinDir = filepath.Join("OpenSim", "bin")
	}
	if opts.ExeName == "" {
		opts.ExeName = DefaultExeName
	}
	if opts.IniName == "" {
		opts.IniName = DefaultIniName
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{"-inifile", opts.IniName}
	}
	if opts.Launch == nil {
		opts.Launch = LaunchProcess
	}
	if opts.SchemaWait <= 0 {
		opts.SchemaWait = DefaultSchemaWait
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.ResponsivenessTicks <= 0 {
		opts.ResponsivenessTicks = defaultResponsivenessTicks
	}
	if opts.CPUThreshold <= 0 {
		opts.CPUThreshold = defaultCPUThreshold
	}
	if opts.InterruptWait <= 0 {
		opts.InterruptWait = defaultInterruptWait
	}
	if opts.TerminateWait <= 0 {
		opts.TerminateWait = defaultTerminateWait
	}
	return &Verifier{opts: opts, logger: logger}
}

// Run executes the full sequence: precheck, launch, settle, check, retry
// once, stop. Domain outcomes, including every failure the installer needs
// to branch on, land in the Report; the error return is reserved for
// cancellation and misconfiguration.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	if v.opts.Checker == nil {
		return nil, fmt.Errorf("no database checker configured")
	}

	report := &Report{Code: CodeOK, ExitCode: -1, Started: time.Now()}
	defer func() {
		report.Duration = time.Since(report.Started)
	}()
	v.setState(report, StateLaunching)

	binDir := filepath.Join(v.opts.InstallRoot, v.opts.BinDir)
	exePath := filepath.Join(binDir, v.opts.ExeName)
	iniPath := filepath.Join(binDir, v.opts.IniName)

	if _, err := os.Stat(exePath); err != nil {
		v.logger.Error("service executable not found",
			"path", exePath,
			"kind", "executable_missing",
			"remedy", "check the install root and rerun the installer if the service files are gone",
		)
		return v.fail(report, CodeExecutableMissing), nil
	}
	if _, err := os.Stat(iniPath); err != nil {
		v.logger.Error("service configuration not found",
			"path", iniPath,
			"kind", "config_missing",
			"remedy", "the grid-mode ini is written during install; rerun the configuration step",
		)
		return v.fail(report, CodeConfigMissing), nil
	}

	v.logger.Info("launching grid service", "exe", exePath, "args", strings.Join(v.opts.Args, " "))
	h, err := v.opts.Launch(LaunchSpec{ExePath: exePath, Args: v.opts.Args, Dir: binDir})
	if err != nil {
		v.logger.Error("failed to launch the service",
			"exe", exePath,
			"error", err,
			"kind", "launch_failed",
		)
		return v.fail(report, CodeLaunchFailed), nil
	}
	report.PID = h.PID()
	v.logger.Info("service started", "pid", h.PID(), "config", v.opts.IniName)

	if err := v.probeResponsiveness(ctx, h); err != nil {
		return report, err
	}

	// First pass: settle, then check.
	v.setState(report, StateWaitingForSchema)
	exited, err := v.waitForSchema(ctx, h, 1)
	if err != nil {
		return report, err
	}
	if exited {
		report.ExitCode = h.ExitCode()
		v.logger.Error("service exited during the schema wait",
			"pid", h.PID(), "exit_code", report.ExitCode, "pass", 1)
		return v.fail(report, CodeExitedDuringFirstWait), nil
	}

	v.setState(report, StateVerifying)
	checkStart := time.Now()
	res := v.opts.Checker.Check(ctx)
	verifyTook := time.Since(checkStart)
	report.Passes = 1
	report.Schema = res
	v.logSchema(res, 1)

	switch res.Outcome {
	case dbverify.ConnectionFailed:
		return v.leaveRunning(report, h, CodeConnectionError), nil

	case dbverify.SchemaIncomplete:
		// Second pass: one more settle window, one more check.
		v.setState(report, StateWaitingForSchema)
		exited, err := v.waitForSchema(ctx, h, 2)
		if err != nil {
			return report, err
		}
		if exited {
			report.ExitCode = h.ExitCode()
			v.logger.Error("service exited before the second check",
				"pid", h.PID(), "exit_code", report.ExitCode, "pass", 2)
			return v.fail(report, CodeExitedDuringSecondWait), nil
		}

		v.setState(report, StateVerifying)
		res = v.opts.Checker.Check(ctx)
		report.Passes = 2
		report.Schema = res
		v.logSchema(res, 2)

		switch res.Outcome {
		case dbverify.ConnectionFailed:
			return v.leaveRunning(report, h, CodeConnectionError), nil
		case dbverify.SchemaIncomplete:
			v.logger.Error("schema still incomplete after the second check",
				"missing_core", strings.Join(res.MissingCore, ", "),
				"kind", "schema_incomplete",
				"remedy", "watch the service console for migration errors, then rerun verify-db once it settles",
			)
			return v.leaveRunning(report, h, CodeSchemaIncomplete), nil
		}

	case dbverify.SchemaComplete:
		// The operator-visible pause before stopping, as long as the check
		// itself took, rounded up to whole ticks.
		v.setState(report, StateShuttingDown)
		if err := v.shutdownCountdown(ctx, verifyTook); err != nil {
			return report, err
		}
	}

	if report.State != StateShuttingDown {
		v.setState(report, StateShuttingDown)
	}
	if err := v.shutdown(ctx, h, report); err != nil {
		return report, err
	}
	return report, nil
}

func (v *Verifier) setState(report *Report, s State) {
	report.State = s
	v.logger.Debug("state change", "state", s.String())
	if v.opts.OnState != nil {
		v.opts.OnState(s)
	}
}

func (v *Verifier) fail(report *Report, code ResultCode) *Report {
	report.Code = code
	v.setState(report, StateFailed)
	return report
}

// leaveRunning marks a verification failure that deliberately keeps the
// service up so the operator can inspect it live.
func (v *Verifier) leaveRunning(report *Report, h Handle, code ResultCode) *Report {
	report.LeftRunning = h.Alive()
	v.logger.Warn("leaving the service running for manual troubleshooting", "pid", h.PID())
	return v.fail(report, code)
}

// probeResponsiveness watches early CPU usage as a liveness hint. Purely
// advisory: a service that never looks busy is noted and the run continues,
// and an early exit is left for the schema wait to attribute.
func (v *Verifier) probeResponsiveness(ctx context.Context, h Handle) error {
	v.logger.Info("waiting for the service to initialize", "pid", h.PID())
	for i := 0; i < v.opts.ResponsivenessTicks; i++ {
		if !h.Alive() {
			return nil
		}
		if err := sleepCtx(ctx, v.opts.Tick); err != nil {
			return err
		}
		cpu, err := h.CPUPercent()
		if err != nil {
			continue
		}
		if cpu > v.opts.CPUThreshold {
			v.logger.Info("service is responding", "pid", h.PID(), "cpu_percent", fmt.Sprintf("%.1f", cpu))
			return nil
		}
	}
	v.logger.Warn("service not visibly busy yet, continuing anyway", "pid", h.PID())
	return nil
}

// waitForSchema sits out the settle window, watching the process once per
// tick. Returns exited=true the moment the service dies; that is fatal for
// the run because a dead service cannot be creating tables.
func (v *Verifier) waitForSchema(ctx context.Context, h Handle, pass int) (bool, error) {
	v.logger.Info("waiting for schema creation",
		"pass", pass, "wait", v.opts.SchemaWait.String())
	for remaining := v.opts.SchemaWait; remaining > 0; remaining -= v.opts.Tick {
		if v.opts.OnCountdown != nil {
			v.opts.OnCountdown(StateWaitingForSchema, remaining)
		}
		if !h.Alive() {
			return true, nil
		}
		if err := sleepCtx(ctx, v.opts.Tick); err != nil {
			return false, err
		}
	}
	return false, nil
}

// shutdownCountdown pauses before the stop for as long as the schema check
// took, in whole ticks, at least one.
func (v *Verifier) shutdownCountdown(ctx context.Context, verifyTook time.Duration) error {
	ticks := int(verifyTook / v.opts.Tick)
	if verifyTook%v.opts.Tick != 0 || ticks == 0 {
		ticks++
	}
	total := time.Duration(ticks) * v.opts.Tick

	v.logger.Info("stopping the service shortly", "in", total.String())
	for remaining := total; remaining > 0; remaining -= v.opts.Tick {
		if v.opts.OnCountdown != nil {
			v.opts.OnCountdown(StateShuttingDown, remaining)
		}
		if err := sleepCtx(ctx, v.opts.Tick); err != nil {
			return err
		}
	}
	return nil
}

// shutdown walks the stop escalation: interrupt, terminate, kill, each with
// its own grace window. Trouble here is warned about and absorbed; the
// verification already succeeded and its verdict stands.
func (v *Verifier) shutdown(ctx context.Context, h Handle, report *Report) error {
	v.logger.Info("stopping the service", "pid", h.PID())

	if !h.Alive() {
		v.logger.Info("service already exited", "pid", h.PID(), "exit_code", h.ExitCode())
		v.setState(report, StateStopped)
		return nil
	}

	if err := h.Interrupt(); err != nil {
		v.logger.Warn("interrupt failed", "pid", h.PID(), "error", err)
	}
	stopped, err := v.waitExit(ctx, h, v.opts.InterruptWait)
	if err != nil {
		return err
	}
	if stopped {
		v.logger.Info("service stopped cleanly", "pid", h.PID())
		v.setState(report, StateStopped)
		return nil
	}

	v.logger.Warn("service still running after interrupt, terminating", "pid", h.PID())
	if err := h.Terminate(); err != nil {
		v.logger.Warn("terminate failed", "pid", h.PID(), "error", err)
	}
	stopped, err = v.waitExit(ctx, h, v.opts.TerminateWait)
	if err != nil {
		return err
	}
	if stopped {
		v.logger.Info("service stopped after terminate", "pid", h.PID())
		v.setState(report, StateStopped)
		return nil
	}

	v.logger.Warn("service still running after terminate, killing", "pid", h.PID())
	if err := h.Kill(); err != nil {
		v.logger.Warn("kill failed", "pid", h.PID(), "error", err)
	}
	stopped, err = v.waitExit(ctx, h, v.opts.TerminateWait)
	if err != nil {
		return err
	}
	if stopped {
		v.logger.Info("service stopped after kill", "pid", h.PID())
		v.setState(report, StateStopped)
		return nil
	}

	v.logger.Warn("service survived the stop escalation, leaving it to the operator", "pid", h.PID())
	report.LeftRunning = true
	v.setState(report, StateStopped)
	return nil
}

// waitExit polls until the process exits or the window closes.
func (v *Verifier) waitExit(ctx context.Context, h Handle, wait time.Duration) (bool, error) {
	for remaining := wait; remaining > 0; remaining -= v.opts.Tick {
		if !h.Alive() {
			return true, nil
		}
		if err := sleepCtx(ctx, v.opts.Tick); err != nil {
			return false, err
		}
	}
	return !h.Alive(), nil
}

func (v *Verifier) logSchema(res *dbverify.Result, pass int) {
	switch res.Outcome {
	case dbverify.SchemaComplete:
		v.logger.Info("database schema verified",
			"pass", pass, "tables", res.Tables, "users", res.Users, "regions", res.Regions)
		if len(res.MissingOptional) > 0 {
			v.logger.Info("optional tables missing, not fatal",
				"tables", strings.Join(res.MissingOptional, ", "))
		}
	case dbverify.SchemaIncomplete:
		v.logger.Warn("database schema incomplete",
			"pass", pass,
			"tables", res.Tables,
			"missing_core", strings.Join(res.MissingCore, ", "))
	case dbverify.ConnectionFailed:
		v.logger.Error("cannot reach the grid database",
			"pass", pass,
			"error", res.Err,
			"kind", "db_connection",
			"remedy", "check that the MySQL service is running and the database settings match the install",
		)
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
