package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fxnlabs/firbench/internal/store"
	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recorded runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of runs to show"},
			&cli.StringFlag{Name: "path", Usage: "History database, overriding history.path"},
		},
		Action: func(c *cli.Context) error {
			path := appConfig(c).History.Path
			if c.IsSet("path") {
				path = c.String("path")
			}
			if path == "" {
				return fmt.Errorf("%w: history.path is not set", errConfig)
			}
			st, err := store.Open(path)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Recent(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(c.App.Writer, "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
			fmt.Fprintf(tw, "id\tstarted\tbackend\tpolicy\tinput\ttaps\ttrials\tin ms\tkernel ms\tout ms\tcpu ms\tresult\n")
			for _, r := range runs {
				result := "ok"
				if !r.OK() {
					result = fmt.Sprintf("%d mismatches", r.Mismatches)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.Backend, r.Policy, r.InputSize, r.TapsSize,
					r.Trials, r.TransferIn, r.Kernel, r.TransferOut, r.CPU, result)
			}
			return tw.Flush()
		},
	}
}
