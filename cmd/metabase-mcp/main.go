package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/metabase-mcp/internal/application"
	"github.com/eugenenazirov/metabase-mcp/internal/config"
	"github.com/eugenenazirov/metabase-mcp/internal/console"
	"github.com/eugenenazirov/metabase-mcp/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	kingpinApp := kingpin.New("metabase-mcp", "Metabase MCP Server launcher - loads .env settings and runs the server over stdio")
	kingpinApp.Version(version)
	kingpinApp.HelpFlag.Short('h')
	configFile := kingpinApp.Flag("config", "Path to YAML launcher configuration file").String()
	root := kingpinApp.Flag("root", "Installation root the server is started in").String()
	envFile := kingpinApp.Flag("env-file", "Environment file, relative to the root unless absolute").String()
	command := kingpinApp.Flag("command", "Server executable").String()
	commandArgs := kingpinApp.Flag("arg", "Server argument (repeatable)").Strings()
	logLevel := kingpinApp.Flag("log-level", "Structured log level (debug, info, warn, error)").String()
	relayInterval := kingpinApp.Flag("relay-interval", "Minimum spacing between relayed interrupts, e.g. 500ms (0 relays all)").String()

	out := console.NewStderr()

	if _, err := kingpinApp.Parse(args); err != nil {
		out.Error(err)
		return application.ExitConfigError
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		Args:       *commandArgs,
	}

	if *root != "" {
		overrides.Root = root
	}

	if *envFile != "" {
		overrides.EnvFile = envFile
	}

	if *command != "" {
		overrides.Command = command
	}

	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	if *relayInterval != "" {
		d, err := time.ParseDuration(*relayInterval)
		if err != nil {
			out.Error(fmt.Errorf("invalid --relay-interval: %w", err))
			return application.ExitConfigError
		}
		overrides.RelayInterval = &d
	}

	// An empty --arg list means "not given".
	if len(overrides.Args) == 0 {
		overrides.Args = nil
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		out.Error(fmt.Errorf("failed to load configuration: %w", err))
		return application.ExitConfigError
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		out.Error(fmt.Errorf("failed to initialize logger: %w", err))
		return application.ExitConfigError
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger, application.WithConsole(out))
	if err != nil {
		logger.Error("failed to initialize launcher", zap.Error(err))
		out.Error(err)
		return application.ExitConfigError
	}

	start := time.Now()
	code, err := app.Run(context.Background())
	logger.Debug("launcher finished",
		zap.Int("exit_code", code),
		zap.Duration("uptime", time.Since(start)),
		zap.Error(err),
	)
	return code
}
