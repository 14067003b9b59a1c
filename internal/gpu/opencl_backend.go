//go:build opencl

package gpu

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"go.uber.org/zap"
)

// OpenCLBackend talks to the installed OpenCL ICD loader.
type OpenCLBackend struct {
	log *zap.Logger
}

// NewOpenCLBackend creates a new OpenCL backend
func NewOpenCLBackend(log *zap.Logger) (*OpenCLBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &OpenCLBackend{log: log.Named("opencl")}
	if !b.IsAvailable() {
		return nil, errors.New("no OpenCL platforms found")
	}
	return b, nil
}

func (b *OpenCLBackend) Name() string { return "opencl" }

// IsAvailable reports whether the ICD loader exposes at least one platform.
func (b *OpenCLBackend) IsAvailable() bool {
	platforms, err := cl.GetPlatforms()
	return err == nil && len(platforms) > 0
}

func (b *OpenCLBackend) Platforms() ([]Platform, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, clError(err)
	}
	out := make([]Platform, len(platforms))
	for i, p := range platforms {
		out[i] = &clPlatform{p: p}
	}
	return out, nil
}

func (b *OpenCLBackend) CreateContext(devices []Device) (Context, error) {
	cds := make([]*cl.Device, len(devices))
	for i, d := range devices {
		cd, ok := d.(*clDevice)
		if !ok {
			return nil, fmt.Errorf("opencl: device %d (%T) does not belong to this backend", i, d)
		}
		cds[i] = cd.d
	}
	ctx, err := cl.CreateContext(cds)
	if err != nil {
		return nil, clError(err)
	}
	return &clContext{ctx: ctx}, nil
}

type clPlatform struct {
	p *cl.Platform
}

func (p *clPlatform) Info() PlatformInfo {
	return PlatformInfo{Name: p.p.Name(), Vendor: p.p.Vendor(), Version: p.p.Version()}
}

func (p *clPlatform) Devices(t DeviceType) ([]Device, error) {
	devices, err := p.p.GetDevices(clDeviceType(t))
	if err != nil {
		// the loader reports an empty category as an error
		if errors.Is(err, cl.ErrDeviceNotFound) {
			return nil, nil
		}
		return nil, clError(err)
	}
	out := make([]Device, len(devices))
	for i, d := range devices {
		out[i] = &clDevice{d: d}
	}
	return out, nil
}

type clDevice struct {
	d *cl.Device
}

func (d *clDevice) Info() DeviceInfo {
	return DeviceInfo{
		Name:             d.d.Name(),
		Vendor:           d.d.Vendor(),
		Version:          d.d.Version(),
		DriverVersion:    d.d.DriverVersion(),
		Type:             fromCLDeviceType(d.d.Type()),
		ComputeUnits:     d.d.MaxComputeUnits(),
		MaxWorkGroupSize: d.d.MaxWorkGroupSize(),
		GlobalMemory:     d.d.GlobalMemSize(),
		LocalMemory:      d.d.LocalMemSize(),
		MaxAllocSize:     d.d.MaxMemAllocSize(),
		Extensions:       d.d.Extensions(),
	}
}

type clContext struct {
	ctx *cl.Context
}

func (c *clContext) CreateQueue(device Device, profiling bool) (Queue, error) {
	cd, ok := device.(*clDevice)
	if !ok {
		return nil, fmt.Errorf("opencl: invalid device %T", device)
	}
	var props cl.CommandQueueProperty
	if profiling {
		props |= cl.CommandQueueProfilingEnable
	}
	q, err := c.ctx.CreateCommandQueue(cd.d, props)
	if err != nil {
		return nil, clError(err)
	}
	return &clQueue{q: q}, nil
}

func (c *clContext) CreateProgram(source string) (Program, error) {
	p, err := c.ctx.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, clError(err)
	}
	return &clProgram{p: p}, nil
}

func (c *clContext) CreateBuffer(access AccessMode, size int) (Buffer, error) {
	var flags cl.MemFlag
	switch access {
	case ReadOnly:
		flags = cl.MemReadOnly
	case WriteOnly:
		flags = cl.MemWriteOnly
	case ReadWrite:
		flags = cl.MemReadWrite
	default:
		return nil, fmt.Errorf("opencl: invalid access mode %d", access)
	}
	m, err := c.ctx.CreateEmptyBuffer(flags, size)
	if err != nil {
		return nil, clError(err)
	}
	return &clBuffer{m: m, access: access, size: size}, nil
}

func (c *clContext) Release() error {
	c.ctx.Release()
	return nil
}

type clProgram struct {
	p   *cl.Program
	log string
}

func (p *clProgram) Build(devices []Device, options string) error {
	cds := make([]*cl.Device, len(devices))
	for i, d := range devices {
		cd, ok := d.(*clDevice)
		if !ok {
			return fmt.Errorf("opencl: invalid device %T", d)
		}
		cds[i] = cd.d
	}
	if err := p.p.BuildProgram(cds, options); err != nil {
		// the binding folds the compiler log into the error text
		p.log = err.Error()
		return errors.New("opencl: build program failure")
	}
	p.log = ""
	return nil
}

func (p *clProgram) BuildLog() string { return p.log }

func (p *clProgram) CreateKernel(name string) (Kernel, error) {
	k, err := p.p.CreateKernel(name)
	if err != nil {
		return nil, clError(err)
	}
	return &clKernel{k: k, name: name}, nil
}

func (p *clProgram) Release() error {
	p.p.Release()
	return nil
}

type clKernel struct {
	k    *cl.Kernel
	name string
}

func (k *clKernel) Name() string { return k.name }

func (k *clKernel) NumArgs() (int, error) {
	n, err := k.k.NumArgs()
	if err != nil {
		return 0, clError(err)
	}
	return n, nil
}

func (k *clKernel) SetArgBuffer(index int, b Buffer) error {
	cb, ok := b.(*clBuffer)
	if !ok {
		return fmt.Errorf("opencl: invalid buffer %T for argument %d", b, index)
	}
	return clError(k.k.SetArgBuffer(index, cb.m))
}

func (k *clKernel) Release() error {
	k.k.Release()
	return nil
}

type clBuffer struct {
	m      *cl.MemObject
	access AccessMode
	size   int
}

func (b *clBuffer) Size() int          { return b.size }
func (b *clBuffer) Access() AccessMode { return b.access }

func (b *clBuffer) Release() error {
	b.m.Release()
	return nil
}

type clQueue struct {
	q *cl.CommandQueue
}

func (q *clQueue) EnqueueWriteBuffer(b Buffer, blocking bool, src []byte) (Event, error) {
	cb, ok := b.(*clBuffer)
	if !ok {
		return nil, fmt.Errorf("opencl: invalid buffer %T", b)
	}
	if len(src) == 0 {
		return nil, errors.New("opencl: empty write")
	}
	ev, err := q.q.EnqueueWriteBuffer(cb.m, blocking, 0, len(src), unsafe.Pointer(&src[0]), nil)
	if err != nil {
		return nil, clError(err)
	}
	return &clEvent{e: ev}, nil
}

func (q *clQueue) EnqueueReadBuffer(b Buffer, blocking bool, dst []byte) (Event, error) {
	cb, ok := b.(*clBuffer)
	if !ok {
		return nil, fmt.Errorf("opencl: invalid buffer %T", b)
	}
	if len(dst) == 0 {
		return nil, errors.New("opencl: empty read")
	}
	ev, err := q.q.EnqueueReadBuffer(cb.m, blocking, 0, len(dst), unsafe.Pointer(&dst[0]), nil)
	if err != nil {
		return nil, clError(err)
	}
	return &clEvent{e: ev}, nil
}

func (q *clQueue) EnqueueNDRangeKernel(k Kernel, global, local []int) (Event, error) {
	ck, ok := k.(*clKernel)
	if !ok {
		return nil, fmt.Errorf("opencl: invalid kernel %T", k)
	}
	ev, err := q.q.EnqueueNDRangeKernel(ck.k, nil, global, local, nil)
	if err != nil {
		return nil, clError(err)
	}
	return &clEvent{e: ev}, nil
}

func (q *clQueue) Finish() error {
	return clError(q.q.Finish())
}

func (q *clQueue) Release() error {
	q.q.Release()
	return nil
}

type clEvent struct {
	e *cl.Event
}

func (e *clEvent) Wait() error {
	return clError(cl.WaitForEvents([]*cl.Event{e.e}))
}

func (e *clEvent) ProfilingInfo() (int64, int64, error) {
	start, err := e.e.GetEventProfilingInfo(cl.ProfilingInfoCommandStart)
	if err != nil {
		return 0, 0, clError(err)
	}
	end, err := e.e.GetEventProfilingInfo(cl.ProfilingInfoCommandEnd)
	if err != nil {
		return 0, 0, clError(err)
	}
	return start, end, nil
}

func (e *clEvent) Release() error {
	e.e.Release()
	return nil
}

func clDeviceType(t DeviceType) cl.DeviceType {
	switch t {
	case DeviceTypeCPU:
		return cl.DeviceTypeCPU
	case DeviceTypeAccelerator:
		return cl.DeviceTypeAccelerator
	case DeviceTypeAll:
		return cl.DeviceTypeAll
	default:
		return cl.DeviceTypeGPU
	}
}

func fromCLDeviceType(t cl.DeviceType) DeviceType {
	switch {
	case t&cl.DeviceTypeGPU != 0:
		return DeviceTypeGPU
	case t&cl.DeviceTypeCPU != 0:
		return DeviceTypeCPU
	case t&cl.DeviceTypeAccelerator != 0:
		return DeviceTypeAccelerator
	default:
		return DeviceTypeAll
	}
}

// clError marks resource exhaustion reported by the runtime as transient.
func clError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, cl.ErrOutOfResources) || errors.Is(err, cl.ErrOutOfHostMemory) ||
		errors.Is(err, cl.ErrMemObjectAllocationFailure) {
		return Transient(err)
	}
	return err
}
