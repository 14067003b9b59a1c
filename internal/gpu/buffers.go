package gpu

import (
	"fmt"

	"go.uber.org/zap"
)

// BufferKind names the role a device buffer plays in the filter.
type BufferKind int

const (
	BufferInput BufferKind = iota + 1
	BufferTaps
	BufferOutput
)

func (k BufferKind) String() string {
	switch k {
	case BufferInput:
		return "input"
	case BufferTaps:
		return "taps"
	case BufferOutput:
		return "output"
	default:
		return "unknown"
	}
}

// DeviceBuffer is a session-owned device buffer. Its size and access mode are
// fixed at allocation. For this workload a buffer is written at most once and
// read at most once.
type DeviceBuffer struct {
	kind     BufferKind
	access   AccessMode
	size     int
	buf      Buffer
	owner    *Session
	writes   int
	reads    int
	released bool
}

func (b *DeviceBuffer) Kind() BufferKind   { return b.kind }
func (b *DeviceBuffer) Access() AccessMode { return b.access }
func (b *DeviceBuffer) Size() int          { return b.size }

// Handle exposes the backend buffer for kernel argument binding.
func (b *DeviceBuffer) Handle() Buffer { return b.buf }

// Release frees the device memory. Calling it again is a no-op.
func (b *DeviceBuffer) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	delete(b.owner.buffers, b)
	if err := b.buf.Release(); err != nil {
		return fmt.Errorf("failed to release %s buffer: %w", b.kind, err)
	}
	return nil
}

// Allocate creates a device buffer of exactly size bytes.
func (s *Session) Allocate(kind BufferKind, size int, access AccessMode) (*DeviceBuffer, error) {
	const op = "Allocate"
	if s.closed {
		return nil, newError(KindBufferAllocation, op, "session closed", nil)
	}
	if size <= 0 {
		return nil, newError(KindBufferAllocation, op, fmt.Sprintf("invalid %s buffer size %d", kind, size), nil)
	}
	buf, err := s.context.CreateBuffer(access, size)
	if err != nil {
		return nil, newError(KindBufferAllocation, op,
			fmt.Sprintf("failed to allocate %d-byte %s %s buffer", size, access, kind), err)
	}
	b := &DeviceBuffer{kind: kind, access: access, size: size, buf: buf, owner: s}
	s.buffers[b] = struct{}{}
	s.log.Debug("allocated device buffer",
		zap.Stringer("kind", kind),
		zap.Stringer("access", access),
		zap.Int("bytes", size))
	return b, nil
}

// WriteTo copies host into b. The call blocks until the device holds the
// data; the returned event is for timing only.
func (s *Session) WriteTo(b *DeviceBuffer, host []byte) (Event, error) {
	const op = "WriteTo"
	if err := s.checkTransfer(op, b, host); err != nil {
		return nil, err
	}
	if b.writes > 0 {
		return nil, newError(KindTransfer, op, fmt.Sprintf("%s buffer already written", b.kind), nil)
	}
	ev, err := s.queue.EnqueueWriteBuffer(b.buf, true, host)
	if err != nil {
		return nil, newError(KindTransfer, op, fmt.Sprintf("failed to write %s buffer", b.kind), err)
	}
	b.writes++
	return ev, nil
}

// ReadFrom copies b into host. The call blocks until host holds the data.
func (s *Session) ReadFrom(b *DeviceBuffer, host []byte) (Event, error) {
	const op = "ReadFrom"
	if err := s.checkTransfer(op, b, host); err != nil {
		return nil, err
	}
	if b.reads > 0 {
		return nil, newError(KindTransfer, op, fmt.Sprintf("%s buffer already read", b.kind), nil)
	}
	ev, err := s.queue.EnqueueReadBuffer(b.buf, true, host)
	if err != nil {
		return nil, newError(KindTransfer, op, fmt.Sprintf("failed to read %s buffer", b.kind), err)
	}
	b.reads++
	return ev, nil
}

func (s *Session) checkTransfer(op string, b *DeviceBuffer, host []byte) error {
	if s.closed {
		return newError(KindTransfer, op, "session closed", nil)
	}
	if b == nil || b.released {
		return newError(KindTransfer, op, "buffer released", nil)
	}
	if b.owner != s {
		return newError(KindTransfer, op, fmt.Sprintf("%s buffer belongs to another session", b.kind), nil)
	}
	if len(host) != b.size {
		return newError(KindTransfer, op,
			fmt.Sprintf("host data is %d bytes, %s buffer is %d bytes", len(host), b.kind, b.size), nil)
	}
	return nil
}
