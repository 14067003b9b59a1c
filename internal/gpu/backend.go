package gpu

import (
	"fmt"
	"strings"
)

// DeviceType selects the class of device a platform is queried for.
type DeviceType int

const (
	DeviceTypeGPU DeviceType = iota
	DeviceTypeCPU
	DeviceTypeAccelerator
	DeviceTypeAll
)

// ParseDeviceType converts a config string ("gpu", "cpu", "accelerator", "all")
// into a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gpu":
		return DeviceTypeGPU, nil
	case "cpu":
		return DeviceTypeCPU, nil
	case "accelerator":
		return DeviceTypeAccelerator, nil
	case "all":
		return DeviceTypeAll, nil
	default:
		return 0, fmt.Errorf("unknown device type %q", s)
	}
}

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeGPU:
		return "gpu"
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeAccelerator:
		return "accelerator"
	case DeviceTypeAll:
		return "all"
	default:
		return "unknown"
	}
}

// AccessMode is the kernel-side access a buffer is created with. It is fixed
// at creation and enforced by the backend.
type AccessMode int

const (
	ReadOnly AccessMode = iota + 1
	WriteOnly
	ReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	default:
		return "invalid"
	}
}

// PlatformInfo describes a vendor runtime.
type PlatformInfo struct {
	Name    string `json:"name"`
	Vendor  string `json:"vendor"`
	Version string `json:"version"`
}

// DeviceInfo contains information about a compute device
type DeviceInfo struct {
	Name             string     `json:"name"`
	Vendor           string     `json:"vendor"`
	Version          string     `json:"version"`
	DriverVersion    string     `json:"driverVersion"`
	Type             DeviceType `json:"type"`
	ComputeUnits     int        `json:"computeUnits"`
	MaxWorkGroupSize int        `json:"maxWorkGroupSize"`
	GlobalMemory     int64      `json:"globalMemory"` // in bytes
	LocalMemory      int64      `json:"localMemory"`  // in bytes
	MaxAllocSize     int64      `json:"maxAllocSize"` // in bytes
	Extensions       string     `json:"extensions,omitempty"`
}

// Backend is the entry point of an accelerator runtime (OpenCL, or the
// in-process emulated device).
//
// Implementation notes:
//   - Objects returned by a backend are owned by the caller and must be
//     released exactly once through their Release method
//   - Children (queues, programs, kernels, buffers) must be released before
//     the Context that created them
//   - Fallback between backends is handled by NewBackend, not by a backend
type Backend interface {
	// Name returns a short identifier such as "opencl" or "emulated".
	Name() string

	// IsAvailable performs a cheap check that the runtime can be used.
	IsAvailable() bool

	// Platforms enumerates the vendor platforms the runtime exposes.
	Platforms() ([]Platform, error)

	// CreateContext creates an execution context spanning devices.
	CreateContext(devices []Device) (Context, error)
}

// Platform is one vendor implementation exposing devices.
type Platform interface {
	Info() PlatformInfo
	Devices(t DeviceType) ([]Device, error)
}

// Device is an opaque accelerator handle.
type Device interface {
	Info() DeviceInfo
}

// Context owns the resource namespace of the devices it was created for.
type Context interface {
	CreateQueue(device Device, profiling bool) (Queue, error)
	CreateProgram(source string) (Program, error)
	CreateBuffer(access AccessMode, size int) (Buffer, error)
	Release() error
}

// Program is kernel source compiled for a set of devices.
type Program interface {
	// Build compiles the program. On failure BuildLog holds the compiler
	// output.
	Build(devices []Device, options string) error
	BuildLog() string
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is a resolved entry point of a built program.
type Kernel interface {
	Name() string
	NumArgs() (int, error)
	SetArgBuffer(index int, buf Buffer) error
	Release() error
}

// Buffer is a fixed-size region of device memory.
type Buffer interface {
	Size() int
	Access() AccessMode
	Release() error
}

// Queue is an in-order submission channel to one device. Host slices passed
// to non-blocking calls must not be touched until the returned event
// completes.
type Queue interface {
	EnqueueWriteBuffer(buf Buffer, blocking bool, src []byte) (Event, error)
	EnqueueReadBuffer(buf Buffer, blocking bool, dst []byte) (Event, error)
	EnqueueNDRangeKernel(kernel Kernel, global, local []int) (Event, error)
	Finish() error
	Release() error
}

// Event tracks one enqueued command. It is used for timing, not for ordering.
type Event interface {
	Wait() error
	// ProfilingInfo returns the device timestamps, in nanoseconds, at which
	// the command started and finished executing.
	ProfilingInfo() (start, end int64, err error)
	Release() error
}
