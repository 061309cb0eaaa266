package bootstrap

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// LaunchSpec describes the service process to start.
type LaunchSpec struct {
	ExePath string
	Args    []string
	Dir     string
}

// Launcher starts the service and returns a watchable handle. Swappable in
// tests.
type Launcher func(spec LaunchSpec) (Handle, error)

// Handle is a launched process the verifier can watch and stop. Interrupt is
// the polite stop (console break on Windows, SIGINT to the group elsewhere);
// Terminate and Kill escalate from there.
type Handle interface {
	PID() int32
	Alive() bool
	// ExitCode is the child's exit code once it has exited, -1 before.
	ExitCode() int
	// CPUPercent measures CPU usage since the previous call.
	CPUPercent() (float64, error)
	Interrupt() error
	Terminate() error
	Kill() error
}

// launchedProcess is the real Handle. The child gets its own console and
// process group so stopping it never signals our own console, and a reaper
// goroutine collects the exit status the moment the child dies.
type launchedProcess struct {
	pid  int32
	cmd  *exec.Cmd
	proc *process.Process // nil when attaching failed right after launch

	mu       sync.Mutex
	exitCode int
	exited   chan struct{}
}

// LaunchProcess is the default Launcher.
func LaunchProcess(spec LaunchSpec) (Handle, error) {
	cmd := exec.Command(spec.ExePath, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = newConsoleSysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", filepath.Base(spec.ExePath), err)
	}

	p := &launchedProcess{
		pid:      int32(cmd.Process.Pid),
		cmd:      cmd,
		exitCode: -1,
		exited:   make(chan struct{}),
	}
	if proc, err := process.NewProcess(p.pid); err == nil {
		p.proc = proc
	}
	go p.reap()
	return p, nil
}

// reap waits on the child so it never lingers as a zombie and so Alive flips
// the moment the process is gone.
func (p *launchedProcess) reap() {
	_ = p.cmd.Wait()
	p.mu.Lock()
	if state := p.cmd.ProcessState; state != nil {
		p.exitCode = state.ExitCode()
	}
	p.mu.Unlock()
	close(p.exited)
}

func (p *launchedProcess) PID() int32 { return p.pid }

func (p *launchedProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *launchedProcess) ExitCode() int {
	select {
	case <-p.exited:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode
	default:
		return -1
	}
}

func (p *launchedProcess) CPUPercent() (float64, error) {
	if p.proc == nil {
		return 0, fmt.Errorf("process %d: cpu stats unavailable", p.pid)
	}
	return p.proc.Percent(0)
}

func (p *launchedProcess) Interrupt() error {
	return interruptGroup(p.pid)
}

func (p *launchedProcess) Terminate() error {
	if p.proc != nil {
		return p.proc.Terminate()
	}
	return p.cmd.Process.Kill()
}

func (p *launchedProcess) Kill() error {
	if p.proc != nil {
		return p.proc.Kill()
	}
	return p.cmd.Process.Kill()
}
