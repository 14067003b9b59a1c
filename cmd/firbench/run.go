package main

import (
	"context"
	"fmt"

	"github.com/fxnlabs/firbench/internal/app"
	"github.com/fxnlabs/firbench/internal/bench"
	"github.com/fxnlabs/firbench/internal/metrics"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the filter on the accelerator and the CPU, compare and report timings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Usage: "Accelerator backend: auto, opencl or emulated"},
			&cli.StringFlag{Name: "geometry", Usage: "Global size policy: covering or clamped"},
			&cli.IntFlag{Name: "trials", Usage: "Number of measured trials"},
			&cli.IntFlag{Name: "warmup", Usage: "Number of unmeasured warm-up trials"},
			&cli.IntFlag{Name: "rows", Usage: "Rows of the per-sample table (-1 for all)"},
			&cli.BoolFlag{Name: "banner", Value: true, Usage: "Print the report banner"},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)
			if c.IsSet("backend") {
				cfg.Accelerator.Backend = c.String("backend")
			}
			if c.IsSet("geometry") {
				cfg.Dispatch.Geometry = c.String("geometry")
			}
			if c.IsSet("trials") {
				cfg.Bench.Trials = c.Int("trials")
			}
			if c.IsSet("warmup") {
				cfg.Bench.Warmup = c.Int("warmup")
			}
			if c.IsSet("rows") {
				cfg.Report.MaxRows = c.Int("rows")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %w", errConfig, err)
			}

			var runner *bench.Runner
			fxApp := app.New(cfg, log, fx.Populate(&runner))
			if err := fxApp.Err(); err != nil {
				return err
			}
			startCtx, cancel := context.WithTimeout(c.Context, fxApp.StartTimeout())
			defer cancel()
			if err := fxApp.Start(startCtx); err != nil {
				return err
			}

			res, err := runner.Run(c.Context)
			if res != nil {
				err = multierr.Append(err, bench.WriteReport(c.App.Writer, res, bench.ReportOptions{
					MaxRows: cfg.Report.MaxRows,
					Banner:  c.Bool("banner"),
				}))
			}
			if path := cfg.Metrics.Textfile; path != "" {
				if merr := metrics.WriteTextfile(path); merr != nil {
					log.Warn("failed to write metrics", zap.Error(merr))
				}
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), fxApp.StopTimeout())
			defer cancel()
			return multierr.Append(err, fxApp.Stop(stopCtx))
		},
	}
}
