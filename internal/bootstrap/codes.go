package bootstrap

// ResultCode is the terminal outcome of a launch-and-verify run. The values
// double as process exit codes so the installer driving this tool can branch
// on the exact failure.
type ResultCode int

const (
	// CodeOK means the schema verified and the service was stopped.
	CodeOK ResultCode = iota
	// CodeExecutableMissing means the service executable was not found.
	CodeExecutableMissing
	// CodeConfigMissing means the service ini file was not found.
	CodeConfigMissing
	// CodeLaunchFailed means the process could not be started.
	CodeLaunchFailed
	// CodeExitedDuringFirstWait means the service died while the first
	// schema wait was running.
	CodeExitedDuringFirstWait
	// CodeExitedDuringSecondWait means the service died while the retry
	// window before the second check was open.
	CodeExitedDuringSecondWait
	// CodeSchemaIncomplete means core tables were still missing after both
	// passes. The service is left running for troubleshooting.
	CodeSchemaIncomplete
	// CodeConnectionError means the database never answered. The service is
	// left running for troubleshooting.
	CodeConnectionError
)

func (c ResultCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeExecutableMissing:
		return "executable_missing"
	case CodeConfigMissing:
		return "config_missing"
	case CodeLaunchFailed:
		return "launch_failed"
	case CodeExitedDuringFirstWait:
		return "exited_during_first_wait"
	case CodeExitedDuringSecondWait:
		return "exited_during_second_wait"
	case CodeSchemaIncomplete:
		return "schema_incomplete"
	case CodeConnectionError:
		return "db_connection_error"
	default:
		return "unknown"
	}
}

// State is where a run currently is. Surfaced through Options.OnState for
// interactive display.
type State int

const (
	StateLaunching State = iota
	StateWaitingForSchema
	StateVerifying
	StateShuttingDown
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateWaitingForSchema:
		return "waiting_for_schema"
	case StateVerifying:
		return "verifying"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
