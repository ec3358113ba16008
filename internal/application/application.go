package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/metabase-mcp/internal/config"
	"github.com/eugenenazirov/metabase-mcp/internal/console"
	"github.com/eugenenazirov/metabase-mcp/internal/envfile"
	"github.com/eugenenazirov/metabase-mcp/internal/environ"
	"github.com/eugenenazirov/metabase-mcp/internal/preflight"
	"github.com/eugenenazirov/metabase-mcp/internal/supervisor"
)

// Option customises an App, primarily for tests.
type Option func(*App)

// WithStore replaces the process environment with store.
func WithStore(store environ.Store) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithConsole sets the status line printer.
func WithConsole(c *console.Console) Option {
	return func(a *App) {
		a.console = c
	}
}

// WithStreams sets the standard streams handed to the server process.
func WithStreams(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(a *App) {
		a.stdin, a.stdout, a.stderr = stdin, stdout, stderr
	}
}

// WithExecutable sets the launcher executable path used to locate the installation root.
func WithExecutable(path string) Option {
	return func(a *App) {
		a.executable = path
	}
}

// WithSupervisorOptions forwards options to the process supervisor.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(a *App) {
		a.supervisorOpts = append(a.supervisorOpts, opts...)
	}
}

// App encapsulates the launcher dependencies.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	console *console.Console
	store   environ.Store

	root       string
	envFile    string
	executable string

	stdin          io.Reader
	stdout         io.Writer
	stderr         io.Writer
	supervisorOpts []supervisor.Option
}

// New initializes the launcher from the provided configuration.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	app := &App{
		cfg:     cfg,
		logger:  logger,
		console: console.NewStderr(),
		store:   environ.OS{},
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.executable == "" {
		if exe, err := os.Executable(); err == nil {
			app.executable = exe
		}
	}

	root, err := resolveRoot(cfg, app.executable)
	if err != nil {
		return nil, fmt.Errorf("resolve installation root: %w", err)
	}
	app.root = root

	app.envFile = cfg.EnvFile
	if !filepath.IsAbs(app.envFile) {
		app.envFile = filepath.Join(root, app.envFile)
	}

	return app, nil
}

// Root returns the directory the server is started in.
func (a *App) Root() string {
	return a.root
}

// EnvFile returns the resolved environment file path.
func (a *App) EnvFile() string {
	return a.envFile
}

// Run loads the environment file, validates the connection settings, starts
// the server and waits for it. It returns the exit code for the launcher and,
// when the launcher itself failed, the reason.
func (a *App) Run(ctx context.Context) (int, error) {
	if err := a.loadEnvFile(); err != nil {
		a.console.Error(err)
		return ExitCode(err), err
	}

	if err := preflight.Check(a.store, preflight.RequiredKeys()); err != nil {
		var missing *preflight.MissingConfigurationError
		if errors.As(err, &missing) {
			a.console.MissingVariables(missing.Keys)
		}
		a.logger.Info("configuration incomplete", zap.Error(err))
		return ExitCode(err), err
	}

	endpoint := preflight.Endpoint(a.store)
	a.console.Starting(endpoint)
	a.logger.Info("starting server",
		zap.String("endpoint", endpoint),
		zap.String("root", a.root),
		zap.String("command", a.cfg.Command),
		zap.Strings("args", a.cfg.Args),
	)

	sup := supervisor.New(supervisor.Spec{
		Command:       a.cfg.Command,
		Args:          a.cfg.Args,
		Dir:           a.root,
		Env:           a.store.Environ(),
		Stdin:         a.stdin,
		Stdout:        a.stdout,
		Stderr:        a.stderr,
		RelayInterval: a.cfg.RelayInterval,
	}, a.logger, append([]supervisor.Option{supervisor.WithNotifier(a.console)}, a.supervisorOpts...)...)

	result, err := sup.Run(ctx)
	if err != nil {
		var spawnErr *supervisor.SpawnError
		if errors.As(err, &spawnErr) {
			a.console.SpawnFailed(spawnErr.Unwrap())
		} else {
			a.console.Error(err)
		}
		return ExitCode(err), err
	}

	if result.ExitCode != ExitOK {
		a.console.ChildExited(result.ExitCode)
	}
	return result.ExitCode, nil
}

func (a *App) loadEnvFile() error {
	if info, err := os.Stat(a.envFile); err == nil && !info.IsDir() {
		a.console.LoadingEnvFile(a.envFile)
	}

	overlay, err := envfile.Load(a.envFile)
	if err != nil {
		return err
	}
	if len(overlay.Malformed) > 0 {
		a.logger.Debug("ignored malformed environment file lines",
			zap.String("path", a.envFile),
			zap.Ints("lines", overlay.Malformed),
		)
	}

	applied, err := envfile.Apply(a.store, overlay)
	if err != nil {
		return fmt.Errorf("apply %s: %w", a.envFile, err)
	}
	a.logger.Debug("environment file applied",
		zap.String("path", a.envFile),
		zap.Int("entries", overlay.Len()),
		zap.Strings("applied", applied),
	)
	return nil
}

// resolveRoot picks the installation root: the configured one, else the
// nearest directory at or above the executable that holds the server entry
// point, else the working directory.
func resolveRoot(cfg config.Config, executable string) (string, error) {
	if cfg.Root != "" {
		return filepath.Abs(cfg.Root)
	}

	if marker := rootMarker(cfg); marker != "" && executable != "" {
		if resolved, err := filepath.EvalSymlinks(executable); err == nil {
			executable = resolved
		}
		if dir, err := resolveProjectPath(filepath.Dir(executable), marker); err == nil {
			return dir, nil
		}
	}

	return os.Getwd()
}

// rootMarker returns the file that identifies the installation root: the
// first non-flag argument (the server script), or the env file name.
func rootMarker(cfg config.Config) string {
	for _, arg := range cfg.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if !filepath.IsAbs(arg) {
			return arg
		}
		break
	}
	if cfg.EnvFile != "" && !filepath.IsAbs(cfg.EnvFile) {
		return cfg.EnvFile
	}
	return ""
}

// resolveProjectPath walks up from dir until it finds a directory containing relative.
func resolveProjectPath(dir, relative string) (string, error) {
	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
