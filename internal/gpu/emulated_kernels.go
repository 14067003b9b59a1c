package gpu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxnlabs/firbench/kernels"
)

// WorkItem identifies one work-item of a 1-dimensional range.
type WorkItem struct {
	GlobalID   int
	LocalID    int
	GroupID    int
	GlobalSize int
	LocalSize  int
}

// nativeKernel is the Go implementation behind a kernel entry point on the
// emulated device. Prepare validates the bound arguments against the program
// defines and returns the per-work-item body.
type nativeKernel struct {
	Params  int
	Prepare func(args [][]byte, defines map[string]string) (func(WorkItem), error)
}

var nativeKernels = map[string]nativeKernel{
	kernels.FIRKernelName: {Params: 3, Prepare: prepareFIR},
}

func prepareFIR(args [][]byte, defines map[string]string) (func(WorkItem), error) {
	n, err := defineInt(defines, "INPUT_SIZE")
	if err != nil {
		return nil, err
	}
	t, err := defineInt(defines, "TAPS_SIZE")
	if err != nil {
		return nil, err
	}
	if t <= 0 || n < t {
		return nil, fmt.Errorf("INPUT_SIZE=%d and TAPS_SIZE=%d leave no valid outputs", n, t)
	}

	input := bytesInt16(args[0])
	output := bytesFloat32(args[1])
	taps := bytesFloat32(args[2])
	switch {
	case len(input) < n:
		return nil, fmt.Errorf("input buffer holds %d samples, kernel reads %d", len(input), n)
	case len(output) < n-t+1:
		return nil, fmt.Errorf("output buffer holds %d values, kernel writes %d", len(output), n-t+1)
	case len(taps) < t:
		return nil, fmt.Errorf("taps buffer holds %d coefficients, kernel reads %d", len(taps), t)
	}

	last := n - t
	return func(wi WorkItem) {
		gid := wi.GlobalID
		if gid > last {
			return
		}
		var acc float32
		for j := 0; j < t; j++ {
			acc += float32(float32(input[gid+j]) * taps[j])
		}
		output[gid] = acc
	}, nil
}

func defineInt(defines map[string]string, name string) (int, error) {
	raw, ok := defines[name]
	if !ok {
		return 0, fmt.Errorf("%s is not defined", name)
	}
	v, err := strconv.Atoi(strings.Trim(strings.TrimSpace(raw), "()"))
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an integer constant", name, raw)
	}
	return v, nil
}
