package gpu

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/cpu"
)

// EmulatedConfig tunes the software device.
type EmulatedConfig struct {
	// Workers is the number of goroutines work-groups are spread over.
	// Zero means runtime.NumCPU().
	Workers          int   `yaml:"workers"`
	MaxWorkGroupSize int   `yaml:"maxWorkGroupSize"`
	QueueDepth       int   `yaml:"queueDepth"`
	GlobalMemory     int64 `yaml:"globalMemory"`
}

// DefaultEmulatedConfig returns the settings used when none are configured.
func DefaultEmulatedConfig() EmulatedConfig {
	return EmulatedConfig{
		MaxWorkGroupSize: 256,
		QueueDepth:       64,
		GlobalMemory:     1 << 30,
	}
}

func (c EmulatedConfig) withDefaults() EmulatedConfig {
	d := DefaultEmulatedConfig()
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.MaxWorkGroupSize <= 0 {
		c.MaxWorkGroupSize = d.MaxWorkGroupSize
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.GlobalMemory <= 0 {
		c.GlobalMemory = d.GlobalMemory
	}
	return c
}

// EmulatedBackend implements Backend in process. It exposes one platform with
// one GPU-class device whose kernels are native Go implementations selected
// by the entry-point names declared in the program source.
type EmulatedBackend struct {
	cfg      EmulatedConfig
	log      *zap.Logger
	platform *emulatedPlatform
}

// NewEmulatedBackend creates a new emulated backend instance
func NewEmulatedBackend(cfg EmulatedConfig, log *zap.Logger) *EmulatedBackend {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	b := &EmulatedBackend{cfg: cfg, log: log.Named("emulated")}
	b.platform = &emulatedPlatform{
		device: &emulatedDevice{info: DeviceInfo{
			Name:             fmt.Sprintf("Emulated GPU (%s, %d workers)", runtime.GOARCH, cfg.Workers),
			Vendor:           "firbench",
			Version:          "OpenCL 1.2 emulated",
			DriverVersion:    runtime.Version(),
			Type:             DeviceTypeGPU,
			ComputeUnits:     cfg.Workers,
			MaxWorkGroupSize: cfg.MaxWorkGroupSize,
			GlobalMemory:     cfg.GlobalMemory,
			LocalMemory:      32 << 10,
			MaxAllocSize:     cfg.GlobalMemory / 4,
			Extensions:       hostFeatures(),
		}},
	}
	return b
}

func (b *EmulatedBackend) Name() string { return "emulated" }

// IsAvailable checks if the backend is available (always true)
func (b *EmulatedBackend) IsAvailable() bool { return true }

func (b *EmulatedBackend) Platforms() ([]Platform, error) {
	return []Platform{b.platform}, nil
}

func (b *EmulatedBackend) CreateContext(devices []Device) (Context, error) {
	if len(devices) == 0 {
		return nil, errors.New("emulated: context needs at least one device")
	}
	ctx := &emulatedContext{cfg: b.cfg, log: b.log, epoch: time.Now()}
	for i, d := range devices {
		ed, ok := d.(*emulatedDevice)
		if !ok {
			return nil, fmt.Errorf("emulated: device %d (%T) does not belong to this backend", i, d)
		}
		ctx.devices = append(ctx.devices, ed)
	}
	b.log.Debug("context created", zap.Int("devices", len(ctx.devices)))
	return ctx, nil
}

type emulatedPlatform struct {
	device *emulatedDevice
}

func (p *emulatedPlatform) Info() PlatformInfo {
	return PlatformInfo{
		Name:    "firbench Emulated Platform",
		Vendor:  "firbench",
		Version: "OpenCL 1.2 emulated",
	}
}

func (p *emulatedPlatform) Devices(t DeviceType) ([]Device, error) {
	if t != DeviceTypeGPU && t != DeviceTypeAll {
		return nil, nil
	}
	return []Device{p.device}, nil
}

type emulatedDevice struct {
	info DeviceInfo
}

func (d *emulatedDevice) Info() DeviceInfo { return d.info }

// emulatedContext tracks its live children so teardown order problems show
// up as a warning instead of going unnoticed.
type emulatedContext struct {
	cfg     EmulatedConfig
	log     *zap.Logger
	devices []*emulatedDevice
	epoch   time.Time

	mu        sync.Mutex
	allocated int64
	live      int
	released  bool
}

// now is the device clock: monotonic nanoseconds since context creation.
func (c *emulatedContext) now() int64 {
	return int64(time.Since(c.epoch))
}

func (c *emulatedContext) retain() {
	c.mu.Lock()
	c.live++
	c.mu.Unlock()
}

func (c *emulatedContext) drop() {
	c.mu.Lock()
	c.live--
	c.mu.Unlock()
}

// Live returns the number of children not yet released.
func (c *emulatedContext) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *emulatedContext) owns(d Device) bool {
	for _, ed := range c.devices {
		if Device(ed) == d {
			return true
		}
	}
	return false
}

func (c *emulatedContext) CreateQueue(device Device, profiling bool) (Queue, error) {
	if c.isReleased() {
		return nil, errors.New("emulated: context released")
	}
	if !c.owns(device) {
		return nil, errors.New("emulated: device is not part of this context")
	}
	c.retain()
	return newEmulatedQueue(c, device.(*emulatedDevice), profiling), nil
}

func (c *emulatedContext) CreateProgram(source string) (Program, error) {
	if c.isReleased() {
		return nil, errors.New("emulated: context released")
	}
	c.retain()
	return &emulatedProgram{ctx: c, source: source}, nil
}

func (c *emulatedContext) CreateBuffer(access AccessMode, size int) (Buffer, error) {
	switch access {
	case ReadOnly, WriteOnly, ReadWrite:
	default:
		return nil, fmt.Errorf("emulated: invalid access mode %d", access)
	}
	if size <= 0 {
		return nil, fmt.Errorf("emulated: invalid buffer size %d", size)
	}
	maxAlloc := c.cfg.GlobalMemory / 4
	if int64(size) > maxAlloc {
		return nil, fmt.Errorf("emulated: buffer of %d bytes exceeds max allocation of %d bytes", size, maxAlloc)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, errors.New("emulated: context released")
	}
	if c.allocated+int64(size) > c.cfg.GlobalMemory {
		return nil, fmt.Errorf("emulated: out of device memory (%d of %d bytes in use, %d requested)",
			c.allocated, c.cfg.GlobalMemory, size)
	}
	c.allocated += int64(size)
	c.live++
	return &emulatedBuffer{ctx: c, access: access, mem: alignedBytes(size)}, nil
}

func (c *emulatedContext) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *emulatedContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errors.New("emulated: context already released")
	}
	c.released = true
	if c.live > 0 {
		c.log.Warn("context released with live children", zap.Int("live", c.live))
	}
	return nil
}

type emulatedBuffer struct {
	ctx      *emulatedContext
	access   AccessMode
	mem      []byte
	released bool
}

func (b *emulatedBuffer) Size() int          { return len(b.mem) }
func (b *emulatedBuffer) Access() AccessMode { return b.access }

func (b *emulatedBuffer) Release() error {
	if b.released {
		return errors.New("emulated: buffer already released")
	}
	b.released = true
	b.ctx.mu.Lock()
	b.ctx.allocated -= int64(len(b.mem))
	b.ctx.live--
	b.ctx.mu.Unlock()
	return nil
}

// hostFeatures reports the SIMD features of the CPU backing the device.
func hostFeatures() string {
	var f []string
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasSSE41 {
			f = append(f, "sse4.1")
		}
		if cpu.X86.HasAVX2 {
			f = append(f, "avx2")
		}
		if cpu.X86.HasFMA {
			f = append(f, "fma")
		}
		if cpu.X86.HasAVX512F {
			f = append(f, "avx512f")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			f = append(f, "asimd")
		}
		if cpu.ARM64.HasSVE {
			f = append(f, "sve")
		}
	}
	return strings.Join(f, " ")
}
