package gpu

import (
	"fmt"
	"strings"

	"github.com/fxnlabs/firbench/kernels"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BindOptions selects the accelerator and the kernel entry point.
type BindOptions struct {
	// PlatformIndex picks a platform explicitly. -1 selects the first
	// platform exposing at least one device of DeviceType.
	PlatformIndex int
	// DeviceIndex picks a device on the selected platform.
	DeviceIndex int
	DeviceType  DeviceType
	KernelName  string
	// BuildOptions is passed verbatim to the kernel compiler.
	BuildOptions string
}

// Session is the single owned accelerator binding of a process: one device,
// one context, one profiling queue and one resolved kernel. It is built by
// Bind and torn down once by Close.
type Session struct {
	backend  Backend
	log      *zap.Logger
	platform PlatformInfo
	device   Device
	context  Context
	queue    Queue
	program  Program
	kernel   Kernel
	origin   string

	buffers map[*DeviceBuffer]struct{}
	closed  bool
}

// Bind discovers an accelerator and prepares everything a launch needs.
// Binding is all-or-nothing: on failure every object acquired so far is
// released and no further accelerator call is made.
func Bind(backend Backend, opts BindOptions, src SourceLoader, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.KernelName == "" {
		opts.KernelName = kernels.FIRKernelName
	}
	s := &Session{
		backend: backend,
		log:     log.Named("session"),
		buffers: make(map[*DeviceBuffer]struct{}),
	}
	if err := s.bind(opts, src); err != nil {
		s.log.Error("accelerator binding failed", zap.Error(err))
		if cerr := s.Close(); cerr != nil {
			s.log.Warn("failed to release partially bound session", zap.Error(cerr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Session) bind(opts BindOptions, src SourceLoader) error {
	const op = "Bind"

	platforms, err := s.backend.Platforms()
	if err != nil {
		return newError(KindPlatformEnumeration, op, "failed to enumerate platforms", err)
	}
	if len(platforms) == 0 {
		return newError(KindPlatformEnumeration, op, "no compute platforms available", nil)
	}

	platformIdx, platform, devices, err := selectPlatform(platforms, opts)
	if err != nil {
		return err
	}
	if opts.DeviceIndex < 0 || opts.DeviceIndex >= len(devices) {
		return newError(KindDeviceEnumeration, op,
			fmt.Sprintf("device index %d out of range (platform %d has %d %s devices)",
				opts.DeviceIndex, platformIdx, len(devices), opts.DeviceType), nil)
	}
	s.platform = platform.Info()
	s.device = devices[opts.DeviceIndex]
	info := s.device.Info()
	s.log.Info("selected accelerator",
		zap.String("backend", s.backend.Name()),
		zap.Int("platform_index", platformIdx),
		zap.String("platform", s.platform.Name),
		zap.Int("device_index", opts.DeviceIndex),
		zap.String("device", info.Name),
		zap.Int("max_work_group_size", info.MaxWorkGroupSize))

	s.context, err = s.backend.CreateContext(devices)
	if err != nil {
		return newError(KindContextCreation, op, "failed to create context", err)
	}

	s.queue, err = s.context.CreateQueue(s.device, true)
	if err != nil {
		return newError(KindQueueCreation, op, "failed to create profiling command queue", err)
	}

	if src == nil {
		return newError(KindSourceLoad, op, "no kernel source configured", nil)
	}
	s.origin = src.Origin()
	source, err := src.Load()
	if err != nil {
		return newError(KindSourceLoad, op, fmt.Sprintf("failed to load kernel source from %s", s.origin), err)
	}
	if strings.TrimSpace(source) == "" {
		return newError(KindSourceLoad, op, fmt.Sprintf("kernel source from %s is empty", s.origin), nil)
	}

	s.program, err = s.context.CreateProgram(source)
	if err != nil {
		return newError(KindBuild, op, "failed to create program", err)
	}
	if err := s.program.Build([]Device{s.device}, opts.BuildOptions); err != nil {
		e := newError(KindBuild, op, fmt.Sprintf("failed to build program from %s", s.origin), err)
		e.Log = s.program.BuildLog()
		return e
	}
	s.log.Debug("program built", zap.String("source", s.origin), zap.String("options", opts.BuildOptions))

	s.kernel, err = s.program.CreateKernel(opts.KernelName)
	if err != nil {
		return newError(KindKernelResolution, op, fmt.Sprintf("kernel %q not found in %s", opts.KernelName, s.origin), err)
	}
	return nil
}

func selectPlatform(platforms []Platform, opts BindOptions) (int, Platform, []Device, error) {
	const op = "Bind"

	if opts.PlatformIndex >= 0 {
		if opts.PlatformIndex >= len(platforms) {
			return 0, nil, nil, newError(KindPlatformEnumeration, op,
				fmt.Sprintf("platform index %d out of range (%d platforms)", opts.PlatformIndex, len(platforms)), nil)
		}
		p := platforms[opts.PlatformIndex]
		devices, err := p.Devices(opts.DeviceType)
		if err != nil {
			return 0, nil, nil, newError(KindDeviceEnumeration, op,
				fmt.Sprintf("failed to enumerate %s devices on platform %d", opts.DeviceType, opts.PlatformIndex), err)
		}
		if len(devices) == 0 {
			return 0, nil, nil, newError(KindDeviceEnumeration, op,
				fmt.Sprintf("no %s devices on platform %d (%s)", opts.DeviceType, opts.PlatformIndex, p.Info().Name), nil)
		}
		return opts.PlatformIndex, p, devices, nil
	}

	for i, p := range platforms {
		devices, err := p.Devices(opts.DeviceType)
		if err != nil || len(devices) == 0 {
			continue
		}
		return i, p, devices, nil
	}
	return 0, nil, nil, newError(KindDeviceEnumeration, op,
		fmt.Sprintf("none of %d platforms exposes a %s device", len(platforms), opts.DeviceType), nil)
}

// BackendName returns the name of the backend the session is bound to.
func (s *Session) BackendName() string {
	return s.backend.Name()
}

// Platform returns the selected platform's description.
func (s *Session) Platform() PlatformInfo {
	return s.platform
}

// Device returns the bound device's description.
func (s *Session) Device() DeviceInfo {
	return s.device.Info()
}

// Queue returns the session's only command queue.
func (s *Session) Queue() Queue {
	return s.queue
}

// Kernel returns the resolved entry point.
func (s *Session) Kernel() Kernel {
	return s.kernel
}

// Finish blocks until every command submitted to the queue has completed.
func (s *Session) Finish() error {
	if s.closed {
		return newError(KindLaunch, "Finish", "session closed", nil)
	}
	return s.queue.Finish()
}

// Close releases outstanding buffers, the kernel, the program, the queue and
// the context, in that order. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if n := len(s.buffers); n > 0 {
		s.log.Warn("releasing buffers still alive at session close", zap.Int("count", n))
		for b := range s.buffers {
			err = multierr.Append(err, b.Release())
		}
	}
	if s.kernel != nil {
		err = multierr.Append(err, s.kernel.Release())
	}
	if s.program != nil {
		err = multierr.Append(err, s.program.Release())
	}
	if s.queue != nil {
		err = multierr.Append(err, s.queue.Release())
	}
	if s.context != nil {
		err = multierr.Append(err, s.context.Release())
	}
	if err != nil {
		return fmt.Errorf("failed to release session: %w", err)
	}
	s.log.Debug("session released")
	return nil
}
