package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fxnlabs/firbench/internal/config"
	"github.com/fxnlabs/firbench/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// errConfig marks failures to load or validate the configuration.
var errConfig = errors.New("configuration error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	err := app.RunContext(ctx, args)
	code := exitCode(err)
	if err != nil {
		if log, ok := app.Metadata["logger"].(*zap.Logger); ok {
			log.Error("firbench failed", zap.Error(err), zap.Int("exit_code", code))
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

func newApp(stdout, stderr io.Writer) *cli.App {
	var (
		configPath string
		verbosity  string
	)
	return &cli.App{
		Name:      "firbench",
		Usage:     "Offload a FIR filter to a compute accelerator and check it against the CPU",
		Writer:    stdout,
		ErrWriter: stderr,
		Metadata:  map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to the YAML configuration file (defaults apply when empty)",
				EnvVars:     []string{"FIRBENCH_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Log level, overriding logger.verbosity",
				Destination: &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("%w: %w", errConfig, err)
			}
			if verbosity != "" {
				cfg.Logger.Verbosity = verbosity
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity)
			if err != nil {
				return fmt.Errorf("%w: logger.verbosity: %w", errConfig, err)
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if log, ok := c.App.Metadata["logger"].(*zap.Logger); ok {
				_ = log.Sync()
			}
			return nil
		},
		// Exit codes are derived from the returned error by run.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			runCommand(),
			devicesCommand(),
			historyCommand(),
			initCommand(),
		},
	}
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func appLogger(c *cli.Context) *zap.Logger {
	return c.App.Metadata["logger"].(*zap.Logger)
}
