package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("supervisor has already been started")
	// ErrEmptyCommand is returned when no command is configured.
	ErrEmptyCommand = errors.New("server command must not be empty")
)

// SpawnError reports that the operating system refused to start the process.
type SpawnError struct {
	Command string
	Args    []string
	Err     error
}

func (e *SpawnError) Error() string {
	cmdline := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	return fmt.Sprintf("start %q: %v", cmdline, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
