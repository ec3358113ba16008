package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/metabase-mcp/internal/config"
)

// TestHelperProcess is not a real test. It is re-executed by the tests below
// to act as the supervised server.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	dir := os.Getenv("HELPER_DIR")
	switch os.Getenv("HELPER_MODE") {
	case "exit":
		code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT_CODE"))
		os.Exit(code)

	case "env":
		appendFile(dir, "spawns", "spawned\n")
		cwd, _ := os.Getwd()
		writeFile(dir, "cwd", cwd)
		writeFile(dir, "env", strings.Join(os.Environ(), "\n"))
		os.Exit(0)

	case "wait-signal":
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, relayedSignals...)
		writeFile(dir, "ready", "")
		sig := <-sigCh
		writeFile(dir, "signal", sig.String())
		// Linger so the launcher can only finish after this process does.
		time.Sleep(200 * time.Millisecond)
		writeFile(dir, "exiting", "")
		os.Exit(3)

	case "self-kill":
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Kill()
		time.Sleep(10 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

func writeFile(dir, name, content string) {
	_ = os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600)
}

func appendFile(dir, name, content string) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(content)
}

func helperSpec(t *testing.T, mode string, extraEnv ...string) Spec {
	t.Helper()

	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GO_WANT_HELPER_PROCESS=1",
		"HELPER_MODE=" + mode,
	}
	return Spec{
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperProcess$"},
		Env:     append(env, extraEnv...),
		Stderr:  os.Stderr,
	}
}

type recordingNotifier struct {
	calls atomic.Int32
}

func (n *recordingNotifier) ShuttingDown() {
	n.calls.Add(1)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

func stubSignals(t *testing.T) <-chan chan<- os.Signal {
	t.Helper()

	t.Cleanup(func() {
		signalNotify = signal.Notify
		signalStop = signal.Stop
	})

	captured := make(chan chan<- os.Signal, 1)
	signalNotify = func(ch chan<- os.Signal, _ ...os.Signal) {
		captured <- ch
	}
	signalStop = func(chan<- os.Signal) {}
	return captured
}

func waitForFile(t *testing.T, path string) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

type runOutcome struct {
	result Result
	err    error
}

func TestRunPropagatesExitCode(t *testing.T) {
	stubSignals(t)

	states := &stateRecorder{}
	sup := New(helperSpec(t, "exit", "HELPER_EXIT_CODE=7"), zaptest.NewLogger(t), WithStateHook(states.record))

	result, err := sup.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", result.ExitCode)
	}
	if result.PID == 0 {
		t.Fatalf("expected pid to be recorded")
	}
	if want := []State{StateSpawning, StateRunning, StateTerminated}; !slices.Equal(states.snapshot(), want) {
		t.Fatalf("expected transitions %v, got %v", want, states.snapshot())
	}
}

func TestRunZeroExit(t *testing.T) {
	stubSignals(t)

	result, err := New(helperSpec(t, "exit", "HELPER_EXIT_CODE=0"), zaptest.NewLogger(t)).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 || result.Signal != nil {
		t.Fatalf("expected clean exit, got %+v", result)
	}
}

func TestRunSpawnsOnceWithEnvironmentAndDir(t *testing.T) {
	stubSignals(t)

	dir := t.TempDir()
	spec := helperSpec(t, "env", "HELPER_DIR="+dir, "METABASE_URL=http://localhost:3000", "WITH_EQUALS=a=b=c")
	spec.Dir = dir
	sup := New(spec, zaptest.NewLogger(t))

	if _, err := sup.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sup.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted on second run, got %v", err)
	}

	spawns, err := os.ReadFile(filepath.Join(dir, "spawns"))
	if err != nil {
		t.Fatalf("read spawns: %v", err)
	}
	if got := strings.Count(string(spawns), "spawned"); got != 1 {
		t.Fatalf("expected exactly one spawn, got %d", got)
	}

	rawEnv, err := os.ReadFile(filepath.Join(dir, "env"))
	if err != nil {
		t.Fatalf("read env: %v", err)
	}
	childEnv := strings.Split(string(rawEnv), "\n")
	for _, kv := range spec.Env {
		if !slices.Contains(childEnv, kv) {
			t.Fatalf("expected %q in child environment", kv)
		}
	}

	cwd, err := os.ReadFile(filepath.Join(dir, "cwd"))
	if err != nil {
		t.Fatalf("read cwd: %v", err)
	}
	wantDir, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(string(cwd))
	if gotDir != wantDir {
		t.Fatalf("expected working directory %s, got %s", wantDir, gotDir)
	}
}

func TestRunMissingExecutable(t *testing.T) {
	stubSignals(t)

	states := &stateRecorder{}
	spec := Spec{Command: "definitely-not-a-real-metabase-server", Args: []string{"server.py"}}
	sup := New(spec, zaptest.NewLogger(t), WithStateHook(states.record))

	result, err := sup.Run(context.Background())
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %v", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected wrapped exec.ErrNotFound, got %v", err)
	}
	if result.PID != 0 || result.ExitCode != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if sup.State() != StateLaunchFailed {
		t.Fatalf("expected LaunchFailed, got %s", sup.State())
	}
	if slices.Contains(states.snapshot(), StateRunning) {
		t.Fatalf("process must never be reported as running: %v", states.snapshot())
	}
}

func TestRunEmptyCommand(t *testing.T) {
	_, err := New(Spec{}, zaptest.NewLogger(t)).Run(context.Background())
	if !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestRunRelaysInterruptAndWaitsForChild(t *testing.T) {
	captured := stubSignals(t)

	dir := t.TempDir()
	notifier := &recordingNotifier{}
	states := &stateRecorder{}
	sup := New(helperSpec(t, "wait-signal", "HELPER_DIR="+dir), zaptest.NewLogger(t),
		WithNotifier(notifier),
		WithStateHook(states.record),
	)

	done := make(chan runOutcome, 1)
	go func() {
		result, err := sup.Run(context.Background())
		done <- runOutcome{result: result, err: err}
	}()

	var sigCh chan<- os.Signal
	select {
	case sigCh = <-captured:
	case <-time.After(5 * time.Second):
		t.Fatalf("signal handler was not registered")
	}
	waitForFile(t, filepath.Join(dir, "ready"))

	select {
	case out := <-done:
		t.Fatalf("supervisor returned before any signal: %+v", out)
	default:
	}

	sigCh <- os.Interrupt

	var out runOutcome
	select {
	case out = <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not return after child exit")
	}

	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if out.result.ExitCode != 3 {
		t.Fatalf("expected child exit code 3, got %d", out.result.ExitCode)
	}
	if out.result.Relayed != 1 {
		t.Fatalf("expected one relayed signal, got %d", out.result.Relayed)
	}
	if _, err := os.Stat(filepath.Join(dir, "exiting")); err != nil {
		t.Fatalf("supervisor returned before the child finished: %v", err)
	}
	received, _ := os.ReadFile(filepath.Join(dir, "signal"))
	if string(received) != os.Interrupt.String() {
		t.Fatalf("expected child to receive %q, got %q", os.Interrupt.String(), received)
	}
	if notifier.calls.Load() != 1 {
		t.Fatalf("expected one shutdown notice, got %d", notifier.calls.Load())
	}
	want := []State{StateSpawning, StateRunning, StateShuttingDown, StateTerminated}
	if !slices.Equal(states.snapshot(), want) {
		t.Fatalf("expected transitions %v, got %v", want, states.snapshot())
	}
}

func TestRunRelaysRepeatedInterruptsByDefault(t *testing.T) {
	t.Setenv(config.EnvRelayInterval, "")
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}

	captured := stubSignals(t)

	dir := t.TempDir()
	notifier := &recordingNotifier{}
	spec := helperSpec(t, "wait-signal", "HELPER_DIR="+dir)
	spec.RelayInterval = cfg.RelayInterval
	sup := New(spec, zaptest.NewLogger(t), WithNotifier(notifier))

	done := make(chan runOutcome, 1)
	go func() {
		result, err := sup.Run(context.Background())
		done <- runOutcome{result: result, err: err}
	}()

	var sigCh chan<- os.Signal
	select {
	case sigCh = <-captured:
	case <-time.After(5 * time.Second):
		t.Fatalf("signal handler was not registered")
	}
	waitForFile(t, filepath.Join(dir, "ready"))

	sigCh <- os.Interrupt
	sigCh <- os.Interrupt

	var out runOutcome
	select {
	case out = <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not return after child exit")
	}

	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if out.result.Relayed != 2 {
		t.Fatalf("expected both interrupts to be relayed, got %d", out.result.Relayed)
	}
	if notifier.calls.Load() != 2 {
		t.Fatalf("expected two shutdown notices, got %d", notifier.calls.Load())
	}
}

func TestRunRelaysOnContextCancel(t *testing.T) {
	stubSignals(t)

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan runOutcome, 1)
	sup := New(helperSpec(t, "wait-signal", "HELPER_DIR="+dir), zaptest.NewLogger(t))
	go func() {
		result, err := sup.Run(ctx)
		done <- runOutcome{result: result, err: err}
	}()

	waitForFile(t, filepath.Join(dir, "ready"))
	cancel()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("unexpected error: %v", out.err)
		}
		if out.result.ExitCode != 3 || out.result.Relayed != 1 {
			t.Fatalf("expected relayed interrupt and exit 3, got %+v", out.result)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not return after cancellation")
	}
}

func TestRunReportsSignalledExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signals are not delivered on windows")
	}
	stubSignals(t)

	result, err := New(helperSpec(t, "self-kill"), zaptest.NewLogger(t)).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Signal == nil {
		t.Fatalf("expected terminating signal to be reported")
	}
	if result.ExitCode != 137 {
		t.Fatalf("expected exit code 137 for SIGKILL, got %d", result.ExitCode)
	}
}

func TestRelaySkipsThrottledSignals(t *testing.T) {
	notifier := &recordingNotifier{}
	sup := New(Spec{}, zaptest.NewLogger(t), WithNotifier(notifier), WithRelayLimiter(&staticLimiter{allow: false}))

	if sup.relay(nil, os.Interrupt) {
		t.Fatalf("expected throttled signal not to be relayed")
	}
	if notifier.calls.Load() != 0 {
		t.Fatalf("expected no shutdown notice for throttled signal")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:         "Idle",
		StateSpawning:     "Spawning",
		StateRunning:      "Running",
		StateShuttingDown: "ShuttingDown",
		StateTerminated:   "Terminated",
		StateLaunchFailed: "LaunchFailed",
		State(42):         "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
	if !StateTerminated.Terminal() || !StateLaunchFailed.Terminal() || StateShuttingDown.Terminal() {
		t.Fatalf("unexpected Terminal results")
	}
}
