package supervisor

import (
	"io"
	"os"
	"time"
)

// State represents the lifecycle state of the supervised server process.
type State int

const (
	// StateIdle - nothing has been started yet
	StateIdle State = iota
	// StateSpawning - the process is being created
	StateSpawning
	// StateRunning - the process is running
	StateRunning
	// StateShuttingDown - an interrupt was relayed, waiting for the process to exit
	StateShuttingDown
	// StateTerminated - the process exited
	StateTerminated
	// StateLaunchFailed - the process could not be started
	StateLaunchFailed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSpawning:
		return "Spawning"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	case StateLaunchFailed:
		return "LaunchFailed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateLaunchFailed
}

// Spec describes the process to run.
type Spec struct {
	Command string
	Args    []string
	// Dir is the working directory of the process.
	Dir string
	// Env is passed to the process verbatim.
	Env []string

	// Nil streams are connected to the null device, as with os/exec.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// RelayInterval is the minimum spacing between two relayed signals.
	// Zero relays every signal.
	RelayInterval time.Duration
}

// Result describes how the supervised process ended.
type Result struct {
	PID      int
	ExitCode int
	// Signal is set when the process was terminated by a signal.
	Signal os.Signal
	// Relayed counts the signals forwarded to the process.
	Relayed  int
	Duration time.Duration
}

// Notifier receives operator-facing lifecycle notices.
type Notifier interface {
	ShuttingDown()
}

type noopNotifier struct{}

func (noopNotifier) ShuttingDown() {}
