// Package kernels provides the embedded accelerator kernel sources.
package kernels

import _ "embed"

// FIRSource is the OpenCL C source of the FirFilter kernel.
//
//go:embed fir.cl
var FIRSource string

// FIRKernelName is the entry point defined by FIRSource.
const FIRKernelName = "FirFilter"
