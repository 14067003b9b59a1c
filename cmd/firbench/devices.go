package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fxnlabs/firbench/internal/gpu"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the platforms and devices of the configured backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Usage: "Accelerator backend: auto, opencl or emulated"},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)
			kind := cfg.Accelerator.Backend
			if c.IsSet("backend") {
				kind = c.String("backend")
			}
			backend, err := gpu.NewBackend(kind, cfg.Accelerator.Emulated, log)
			if err != nil {
				return err
			}
			inventory, err := gpu.Inventory(backend)
			if err != nil {
				return err
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Backend: %s\n", backend.Name())
			for _, p := range inventory {
				fmt.Fprintf(w, "\nPlatform %d: %s (%s, %s)\n", p.Index, p.Info.Name, p.Info.Vendor, p.Info.Version)
				if p.Err != nil {
					log.Warn("failed to list devices", zap.Int("platform", p.Index), zap.Error(p.Err))
					fmt.Fprintf(w, "  devices unavailable: %v\n", p.Err)
					continue
				}
				tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
				fmt.Fprintf(tw, "  #\tname\ttype\tunits\tmax wg\tglobal mem\tmax alloc\tlocal mem\n")
				for i, d := range p.Devices {
					fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
						i, d.Name, d.Type, d.ComputeUnits, d.MaxWorkGroupSize,
						formatBytes(d.GlobalMemory), formatBytes(d.MaxAllocSize), formatBytes(d.LocalMemory))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
