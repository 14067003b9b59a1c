package gpu

import (
	"errors"
	"fmt"
	"sync"
)

// emulatedQueue executes commands in submission order on a single worker
// goroutine. Kernel launches fan out over the context's workers inside that
// one command, so a launch completes before the next command starts.
type emulatedQueue struct {
	ctx       *emulatedContext
	device    *emulatedDevice
	profiling bool

	tasks   chan func()
	done    chan struct{}
	pending sync.WaitGroup
	// clock is the last device timestamp handed out; only the worker
	// touches it.
	clock int64

	mu       sync.Mutex
	released bool
}

func newEmulatedQueue(ctx *emulatedContext, device *emulatedDevice, profiling bool) *emulatedQueue {
	q := &emulatedQueue{
		ctx:       ctx,
		device:    device,
		profiling: profiling,
		tasks:     make(chan func(), ctx.cfg.QueueDepth),
		done:      make(chan struct{}),
	}
	go q.worker()
	return q
}

func (q *emulatedQueue) worker() {
	for task := range q.tasks {
		task()
		q.pending.Done()
	}
	close(q.done)
}

// submit enqueues fn without blocking. A full queue is reported as a
// transient failure.
func (q *emulatedQueue) submit(fn func() error) (*emulatedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, errors.New("emulated: queue released")
	}
	ev := &emulatedEvent{profiling: q.profiling, done: make(chan struct{})}
	q.pending.Add(1)
	select {
	case q.tasks <- func() { q.run(ev, fn) }:
		return ev, nil
	default:
		q.pending.Done()
		return nil, Transient(fmt.Errorf("emulated: command queue full (%d commands pending)", cap(q.tasks)))
	}
}

func (q *emulatedQueue) buffer(b Buffer) (*emulatedBuffer, error) {
	eb, ok := b.(*emulatedBuffer)
	if !ok || eb == nil {
		return nil, fmt.Errorf("emulated: invalid buffer %T", b)
	}
	if eb.released {
		return nil, errors.New("emulated: buffer released")
	}
	if eb.ctx != q.ctx {
		return nil, errors.New("emulated: buffer belongs to another context")
	}
	return eb, nil
}

func (q *emulatedQueue) EnqueueWriteBuffer(b Buffer, blocking bool, src []byte) (Event, error) {
	eb, err := q.buffer(b)
	if err != nil {
		return nil, err
	}
	if len(src) > len(eb.mem) {
		return nil, fmt.Errorf("emulated: write of %d bytes overruns %d-byte buffer", len(src), len(eb.mem))
	}
	ev, err := q.submit(func() error {
		copy(eb.mem, src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blocking {
		if err := ev.Wait(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func (q *emulatedQueue) EnqueueReadBuffer(b Buffer, blocking bool, dst []byte) (Event, error) {
	eb, err := q.buffer(b)
	if err != nil {
		return nil, err
	}
	if len(dst) > len(eb.mem) {
		return nil, fmt.Errorf("emulated: read of %d bytes overruns %d-byte buffer", len(dst), len(eb.mem))
	}
	ev, err := q.submit(func() error {
		copy(dst, eb.mem)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blocking {
		if err := ev.Wait(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func (q *emulatedQueue) EnqueueNDRangeKernel(k Kernel, global, local []int) (Event, error) {
	ek, ok := k.(*emulatedKernel)
	if !ok || ek == nil {
		return nil, fmt.Errorf("emulated: invalid kernel %T", k)
	}
	if ek.released {
		return nil, errors.New("emulated: kernel released")
	}
	if len(global) != 1 || len(local) != 1 {
		return nil, fmt.Errorf("emulated: only 1-dimensional ranges are supported, got %d/%d dimensions",
			len(global), len(local))
	}
	g, l := global[0], local[0]
	if g <= 0 {
		return nil, fmt.Errorf("emulated: invalid global work size %d", g)
	}
	if l <= 0 || l > q.device.info.MaxWorkGroupSize {
		return nil, fmt.Errorf("emulated: invalid work-group size %d (device maximum %d)",
			l, q.device.info.MaxWorkGroupSize)
	}
	if g%l != 0 {
		return nil, fmt.Errorf("emulated: global work size %d is not a multiple of work-group size %d", g, l)
	}

	args := make([][]byte, len(ek.args))
	for i, a := range ek.args {
		if a == nil {
			return nil, fmt.Errorf("emulated: kernel argument %d is not set", i)
		}
		if a.released {
			return nil, fmt.Errorf("emulated: kernel argument %d refers to a released buffer", i)
		}
		args[i] = a.mem
	}
	item, err := ek.native.Prepare(args, ek.program.defines)
	if err != nil {
		return nil, fmt.Errorf("emulated: kernel %s: %w", ek.decl.Name, err)
	}

	workers := q.ctx.cfg.Workers
	return q.submit(func() error {
		return execute(item, g, l, workers)
	})
}

func (q *emulatedQueue) Finish() error {
	q.mu.Lock()
	released := q.released
	q.mu.Unlock()
	if released {
		return errors.New("emulated: queue released")
	}
	q.pending.Wait()
	return nil
}

// Release drains outstanding commands and stops the worker.
func (q *emulatedQueue) Release() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return errors.New("emulated: queue already released")
	}
	q.released = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done
	q.ctx.drop()
	return nil
}

// execute runs every work-item of a 1-dimensional range. Whole work-groups
// are assigned to workers in contiguous blocks. A panicking work-item fails
// the launch instead of the process.
func execute(item func(WorkItem), global, local, workers int) error {
	groups := global / local
	if groups < workers {
		workers = groups
	}
	perWorker := (groups + workers - 1) / workers

	var (
		wg       sync.WaitGroup
		faultMu  sync.Mutex
		faultErr error
	)
	for w := 0; w < workers; w++ {
		first := w * perWorker
		last := min(first+perWorker, groups)
		if first >= last {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			gid := -1
			defer func() {
				if r := recover(); r != nil {
					faultMu.Lock()
					if faultErr == nil {
						faultErr = fmt.Errorf("work-item %d faulted: %v", gid, r)
					}
					faultMu.Unlock()
				}
			}()
			for g := first; g < last; g++ {
				for l := 0; l < local; l++ {
					gid = g*local + l
					item(WorkItem{
						GlobalID:   gid,
						LocalID:    l,
						GroupID:    g,
						GlobalSize: global,
						LocalSize:  local,
					})
				}
			}
		}()
	}
	wg.Wait()
	return faultErr
}

// emulatedEvent records when a command ran on the device clock.
type emulatedEvent struct {
	profiling  bool
	done       chan struct{}
	start, end int64
	err        error
}

// run executes one command and stamps its event. Timestamps never go
// backwards and every command lasts at least one tick of the nanosecond
// device timer.
func (q *emulatedQueue) run(ev *emulatedEvent, fn func() error) {
	ev.start = max(q.ctx.now(), q.clock)
	ev.err = fn()
	ev.end = max(q.ctx.now(), ev.start+1)
	q.clock = ev.end
	close(ev.done)
}

func (e *emulatedEvent) Wait() error {
	<-e.done
	return e.err
}

func (e *emulatedEvent) ProfilingInfo() (int64, int64, error) {
	if !e.profiling {
		return 0, 0, errors.New("emulated: profiling is not enabled on the queue")
	}
	select {
	case <-e.done:
		return e.start, e.end, nil
	default:
		return 0, 0, errors.New("emulated: profiling information not available until the command completes")
	}
}

func (e *emulatedEvent) Release() error { return nil }
