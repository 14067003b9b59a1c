package bench

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/common-nighthawk/go-figure"
)

// ReportOptions controls the console report.
type ReportOptions struct {
	// MaxRows limits the per-sample table. Negative prints every sample.
	MaxRows int
	// Banner prints an ASCII-art title above the report.
	Banner bool
}

// WriteReport prints the per-sample table of the last trial followed by its
// timings, and a per-phase summary when more than one trial was measured.
func WriteReport(w io.Writer, res *Result, opts ReportOptions) error {
	if len(res.Trials) == 0 {
		return fmt.Errorf("no measured trials to report")
	}
	ew := &errWriter{w: w}

	if opts.Banner {
		ew.printf("%s\n", figure.NewFigure("FIR bench", "", true).String())
	}
	last := res.Last()
	ew.printf("Backend: %s\nDevice: %s\n", res.Backend, res.Device)
	ew.printf("Filter: %d samples, %d taps, %s input\n", res.Options.InputSize, res.Options.TapsSize, res.Options.Pattern)
	g := last.Geometry
	ew.printf("Geometry: %s, local %d, global %d (%d groups)\n\n", g.Policy, g.Local, g.Global, g.Groups())

	rows := len(res.Input)
	if opts.MaxRows >= 0 {
		rows = min(rows, opts.MaxRows)
	}
	if rows > 0 {
		ew.printf("Results:\n")
		tw := tabwriter.NewWriter(ew, 0, 8, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(tw, "taps\tinput\tgpu\tcpu\t\n")
		// The kernel never writes past the last valid output, so device
		// memory there holds whatever the allocation left behind.
		lastValid := len(res.Input) - len(res.Taps)
		for i := 0; i < rows; i++ {
			gpuOut := "-"
			if i <= lastValid {
				gpuOut = fmt.Sprintf("%0.3f", last.Output[i])
			}
			fmt.Fprintf(tw, "%0.3f\t%d\t%s\t%0.3f\t\n",
				res.Taps[i%len(res.Taps)], res.Input[i], gpuOut, last.Reference[i])
		}
		tw.Flush()
		if rows < len(res.Input) {
			ew.printf("(%d of %d samples shown)\n", rows, len(res.Input))
		}
		ew.printf("\n")
	}

	for _, s := range last.Report.Samples() {
		ew.printf("%-22s %12.6f ms\n", s.Phase.Label()+":", s.Millis())
	}
	ew.printf("Comparison: %s\n", last.Comparison)

	if len(res.Trials) > 1 {
		ew.printf("\nSummary over %d trials (ms):\n", len(res.Trials))
		tw := tabwriter.NewWriter(ew, 0, 8, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(tw, "phase\tmedian\tmean\tstddev\tmin\tmax\t\n")
		for _, st := range res.Summary {
			fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%.6f\t%.6f\t%.6f\t\n",
				st.Phase, st.Median, st.Mean, st.StdDev, st.Min, st.Max)
		}
		tw.Flush()
	}
	if res.RunID > 0 {
		ew.printf("\nRecorded as run %d\n", res.RunID)
	}
	return ew.err
}

// errWriter keeps the first write error and drops everything after it.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
