// Package supervisor starts the Metabase MCP server as a child process and
// mediates its lifecycle with the launcher.
//
// The process moves through Idle → Spawning → Running → Terminated, or
// Idle → Spawning → LaunchFailed when the operating system refuses to start
// it. An interrupt received while Running moves it to ShuttingDown: the
// signal is forwarded and the supervisor keeps waiting for the process to
// exit on its own. Two event sources drive the machine (signals and process
// exit) and both are consumed by one select loop in Run, so process exit is
// always the final event.
//
// Standard streams are handed to the child as-is. When they are *os.File
// values the descriptors are inherited directly and nothing is copied.
package supervisor
