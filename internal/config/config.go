package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fxnlabs/firbench/internal/dispatch"
	"github.com/fxnlabs/firbench/internal/fir"
	"github.com/fxnlabs/firbench/internal/gpu"
	"github.com/fxnlabs/firbench/kernels"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Accelerator struct {
		Backend       string             `yaml:"backend"`
		PlatformIndex int                `yaml:"platformIndex"`
		DeviceIndex   int                `yaml:"deviceIndex"`
		DeviceType    string             `yaml:"deviceType"`
		KernelPath    string             `yaml:"kernelPath"`
		KernelName    string             `yaml:"kernelName"`
		BuildOptions  string             `yaml:"buildOptions"`
		Emulated      gpu.EmulatedConfig `yaml:"emulated"`
	} `yaml:"accelerator"`
	Filter struct {
		InputSize int    `yaml:"inputSize"`
		TapsSize  int    `yaml:"tapsSize"`
		Pattern   string `yaml:"pattern"`
		Seed      int64  `yaml:"seed"`
	} `yaml:"filter"`
	Dispatch struct {
		Geometry string `yaml:"geometry"`
	} `yaml:"dispatch"`
	Bench struct {
		Trials    int     `yaml:"trials"`
		Warmup    int     `yaml:"warmup"`
		Tolerance float64 `yaml:"tolerance"`
	} `yaml:"bench"`
	Report struct {
		// MaxRows limits the per-sample table. Negative prints every row.
		MaxRows int `yaml:"maxRows"`
	} `yaml:"report"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	c := &Config{}
	c.Logger.Verbosity = "info"
	c.Accelerator.Backend = gpu.BackendAuto
	c.Accelerator.PlatformIndex = -1
	c.Accelerator.DeviceType = "gpu"
	c.Accelerator.KernelName = kernels.FIRKernelName
	c.Accelerator.Emulated = gpu.DefaultEmulatedConfig()
	c.Filter.InputSize = 512
	c.Filter.TapsSize = 16
	c.Filter.Pattern = string(fir.PatternAlternating)
	c.Filter.Seed = 1
	c.Dispatch.Geometry = string(dispatch.PolicyCovering)
	c.Bench.Trials = 1
	c.Bench.Tolerance = 1e-4
	c.Report.MaxRows = -1
	return c
}

// LoadConfig reads the YAML file at path over Default. An empty path returns
// the defaults.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(c.Accelerator.Backend) {
	case "", gpu.BackendAuto, gpu.BackendOpenCL, gpu.BackendEmulated:
	default:
		invalid("accelerator.backend %q is not one of auto, opencl, emulated", c.Accelerator.Backend)
	}
	if c.Accelerator.PlatformIndex < -1 {
		invalid("accelerator.platformIndex must be -1 or a platform index, got %d", c.Accelerator.PlatformIndex)
	}
	if c.Accelerator.DeviceIndex < 0 {
		invalid("accelerator.deviceIndex must not be negative, got %d", c.Accelerator.DeviceIndex)
	}
	if _, perr := gpu.ParseDeviceType(c.Accelerator.DeviceType); perr != nil {
		invalid("accelerator.deviceType: %v", perr)
	}
	if c.Filter.TapsSize <= 0 {
		invalid("filter.tapsSize must be positive, got %d", c.Filter.TapsSize)
	}
	if c.Filter.InputSize < c.Filter.TapsSize {
		invalid("filter.inputSize %d must be at least filter.tapsSize %d", c.Filter.InputSize, c.Filter.TapsSize)
	}
	if _, perr := fir.ParsePattern(c.Filter.Pattern); perr != nil {
		invalid("filter.pattern: %v", perr)
	}
	if _, perr := dispatch.ParsePolicy(c.Dispatch.Geometry); perr != nil {
		invalid("dispatch.geometry: %v", perr)
	}
	if c.Bench.Trials < 1 {
		invalid("bench.trials must be at least 1, got %d", c.Bench.Trials)
	}
	if c.Bench.Warmup < 0 {
		invalid("bench.warmup must not be negative, got %d", c.Bench.Warmup)
	}
	if c.Bench.Tolerance < 0 {
		invalid("bench.tolerance must not be negative, got %g", c.Bench.Tolerance)
	}
	return err
}

// BuildOptions returns the kernel compiler options: the filter sizes as
// defines followed by any configured extras.
func (c *Config) BuildOptions() string {
	opts := fmt.Sprintf("-D INPUT_SIZE=%d -D TAPS_SIZE=%d", c.Filter.InputSize, c.Filter.TapsSize)
	if extra := strings.TrimSpace(c.Accelerator.BuildOptions); extra != "" {
		opts += " " + extra
	}
	return opts
}

// BindOptions converts the accelerator section for gpu.Bind. It assumes
// Validate has passed.
func (c *Config) BindOptions() gpu.BindOptions {
	deviceType, _ := gpu.ParseDeviceType(c.Accelerator.DeviceType)
	return gpu.BindOptions{
		PlatformIndex: c.Accelerator.PlatformIndex,
		DeviceIndex:   c.Accelerator.DeviceIndex,
		DeviceType:    deviceType,
		KernelName:    c.Accelerator.KernelName,
		BuildOptions:  c.BuildOptions(),
	}
}
