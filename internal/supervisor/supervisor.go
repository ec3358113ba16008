package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

// relayedSignals are forwarded to the server process instead of stopping the launcher.
var relayedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithNotifier sets the receiver of operator-facing notices.
func WithNotifier(n Notifier) Option {
	return func(s *Supervisor) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithStateHook registers a function called after every state transition.
// It runs on the supervising goroutine and must not block.
func WithStateHook(fn func(State)) Option {
	return func(s *Supervisor) {
		s.onState = fn
	}
}

// WithRelayLimiter overrides the signal relay throttle (primarily for tests).
func WithRelayLimiter(l relayLimiter) Option {
	return func(s *Supervisor) {
		s.limiter = l
	}
}

// Supervisor runs a single server process, relays interrupts to it and
// reports its exit status. A Supervisor can be run once.
type Supervisor struct {
	spec     Spec
	logger   *zap.Logger
	notifier Notifier
	limiter  relayLimiter
	onState  func(State)

	mu    sync.Mutex
	state State
}

// New creates a Supervisor for spec.
func New(spec Spec, logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Supervisor{
		spec:     spec,
		logger:   logger,
		notifier: noopNotifier{},
		limiter:  newRelayLimiter(spec.RelayInterval),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run starts the process and blocks until it exits. Interrupts received by
// the launcher, and cancellation of ctx, are forwarded to the process; the
// launcher keeps waiting until the process itself has terminated.
//
// A process that starts and then fails is not an error: its exit code is
// reported in Result. A process that cannot be started yields *SpawnError.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	if !s.transition(StateIdle, StateSpawning) {
		return Result{}, ErrAlreadyStarted
	}

	if s.spec.Command == "" {
		s.setState(StateLaunchFailed)
		return Result{}, &SpawnError{Err: ErrEmptyCommand}
	}

	// Registered before the process starts so an early Ctrl-C is relayed
	// instead of killing the launcher.
	sigCh := make(chan os.Signal, 1)
	signalNotify(sigCh, relayedSignals...)
	defer signalStop(sigCh)

	cmd := exec.Command(s.spec.Command, s.spec.Args...)
	cmd.Dir = s.spec.Dir
	cmd.Env = s.spec.Env
	cmd.Stdin = s.spec.Stdin
	cmd.Stdout = s.spec.Stdout
	cmd.Stderr = s.spec.Stderr

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		s.setState(StateLaunchFailed)
		s.logger.Error("failed to start server process",
			zap.String("command", s.spec.Command),
			zap.Strings("args", s.spec.Args),
			zap.String("dir", s.spec.Dir),
			zap.Error(err),
		)
		return Result{}, &SpawnError{Command: s.spec.Command, Args: s.spec.Args, Err: err}
	}

	result := Result{PID: cmd.Process.Pid}
	s.setState(StateRunning)
	s.logger.Info("server process started",
		zap.Int("pid", result.PID),
		zap.String("command", s.spec.Command),
		zap.Strings("args", s.spec.Args),
	)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	ctxDone := ctx.Done()
	for {
		select {
		case waitErr := <-done:
			// Exit is terminal even if a relayed signal is still in flight.
			result.Duration = time.Since(startedAt)
			s.setState(StateTerminated)
			if cmd.ProcessState == nil {
				return result, fmt.Errorf("wait for server process: %w", waitErr)
			}
			result.ExitCode, result.Signal = exitStatus(cmd.ProcessState)
			s.logger.Info("server process exited",
				zap.Int("pid", result.PID),
				zap.Int("exit_code", result.ExitCode),
				zap.Duration("duration", result.Duration),
			)
			return result, nil

		case sig := <-sigCh:
			if s.relay(cmd.Process, sig) {
				result.Relayed++
			}

		case <-ctxDone:
			ctxDone = nil
			if s.relay(cmd.Process, os.Interrupt) {
				result.Relayed++
			}
		}
	}
}

// relay forwards sig to the process unless the throttle rejects it.
func (s *Supervisor) relay(proc *os.Process, sig os.Signal) bool {
	if !s.limiter.Allow() {
		s.logger.Debug("signal relay throttled", zap.Stringer("signal", sig))
		return false
	}

	s.transition(StateRunning, StateShuttingDown)
	s.notifier.ShuttingDown()
	s.logger.Info("relaying signal to server process",
		zap.Stringer("signal", sig),
		zap.Int("pid", proc.Pid),
	)

	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			s.logger.Debug("server process already exited", zap.Int("pid", proc.Pid))
			return false
		}
		s.logger.Warn("failed to relay signal", zap.Stringer("signal", sig), zap.Error(err))
		return false
	}
	return true
}

func (s *Supervisor) transition(from, to State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.notifyState(to)
	return true
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()

	s.notifyState(to)
}

func (s *Supervisor) notifyState(state State) {
	s.logger.Debug("supervisor state changed", zap.Stringer("state", state))
	if s.onState != nil {
		s.onState(state)
	}
}

// exitStatus maps a finished process to a shell-style exit code: the code
// passed to exit, or 128+n when it was killed by signal n.
func exitStatus(ps *os.ProcessState) (int, os.Signal) {
	if code := ps.ExitCode(); code >= 0 {
		return code, nil
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), ws.Signal()
	}
	return 1, nil
}
