package application

import (
	"errors"

	"github.com/eugenenazirov/metabase-mcp/internal/envfile"
	"github.com/eugenenazirov/metabase-mcp/internal/preflight"
	"github.com/eugenenazirov/metabase-mcp/internal/supervisor"
)

// Launcher exit codes. A server that starts and exits non-zero passes its own
// code through instead.
const (
	ExitOK            = 0
	ExitMissingConfig = 1
	// ExitConfigError also covers launcher failures that have no dedicated code.
	ExitConfigError  = 2
	ExitSpawnFailure = 127
)

// ExitCode maps a launcher error to its exit code.
func ExitCode(err error) int {
	var (
		missing  *preflight.MissingConfigurationError
		readErr  *envfile.ReadError
		spawnErr *supervisor.SpawnError
	)

	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &missing):
		return ExitMissingConfig
	case errors.As(err, &readErr):
		return ExitConfigError
	case errors.As(err, &spawnErr):
		return ExitSpawnFailure
	default:
		return ExitConfigError
	}
}
